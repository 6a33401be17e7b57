// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

// Package routing implements multi-hop delivery over the Connection
// Registry's direct links: route() wraps a payload for a non-adjacent
// target, and handle_routing() forwards, floods, or locally delivers an
// inbound Routing envelope according to its strategy.
package routing

import (
	"time"

	"github.com/sage-x-project/meshnet/internal/logger"
	"github.com/sage-x-project/meshnet/internal/metrics"
	"github.com/sage-x-project/meshnet/pkg/envelope"
	"github.com/sage-x-project/meshnet/pkg/meshnet"
	"github.com/sage-x-project/meshnet/pkg/meshnet/errs"
)

// maxHops bounds how many times a routing envelope may be forwarded
// before it is dropped, per the hop-count invariant.
const maxHops = 10

// cacheTTL and cacheCleanupInterval size the recent-message dedupe
// cache. A message re-observed after ttl is treated as new; this only
// matters for an adversarial replay, since legitimate forwarding never
// takes this long to loop back.
const (
	cacheTTL             = 5 * time.Minute
	cacheCleanupInterval = time.Minute
)

// Sender is the subset of the Connection Registry the Routing Engine
// needs: send to an authenticated peer by id, and enumerate them for
// flood/multipath fan-out. *registry.Registry satisfies this without
// either package importing the other.
type Sender interface {
	SendTo(peerID meshnet.NodeID, env *envelope.Envelope) error
	AllPeers() []meshnet.PeerRecord
}

// Deliverer receives a payload envelope that has reached its target,
// whether originated locally or arrived over the network.
type Deliverer interface {
	Deliver(from meshnet.NodeID, payload *envelope.Envelope)
}

// Engine is the Routing Engine of spec section 4.3. It holds a
// non-owning Sender reference; it never closes or owns a session.
type Engine struct {
	localID   meshnet.NodeID
	table     *RoutingTable
	cache     *RecentMessageCache
	sender    Sender
	deliverer Deliverer
	log       logger.Logger
}

// NewEngine builds an Engine for localID, forwarding through sender and
// delivering locally-targeted payloads to deliverer.
func NewEngine(localID meshnet.NodeID, sender Sender, deliverer Deliverer) *Engine {
	return &Engine{
		localID:   localID,
		table:     NewRoutingTable(),
		cache:     NewRecentMessageCache(cacheTTL, cacheCleanupInterval),
		sender:    sender,
		deliverer: deliverer,
		log:       logger.GetDefaultLogger(),
	}
}

// Table exposes the routing table for the Discovery/Liveness subsystems'
// metrics sampling and for tests.
func (e *Engine) Table() *RoutingTable {
	return e.table
}

// SetDeliverer wires in the Reliable Delivery Layer after construction,
// breaking the routing/delivery initialization cycle (delivery needs a
// router to send through; routing needs delivery to hand off
// locally-targeted payloads to).
func (e *Engine) SetDeliverer(d Deliverer) {
	e.deliverer = d
}

// Stop ends the recent-message dedupe cache's cleanup loop and waits for
// it to exit. The Engine does not own any other background task: it
// never closes a session or a peer-owned goroutine. Safe to call more
// than once.
func (e *Engine) Stop() {
	e.cache.Stop()
}

// Route is the route() operation: it wraps payload for targetID and
// sends it on its way, choosing Direct when a next hop is already known
// and Flood otherwise. A target equal to the local id is delivered
// without ever touching the network.
func (e *Engine) Route(targetID meshnet.NodeID, payload *envelope.Envelope) error {
	if targetID == e.localID {
		e.deliverLocally(e.localID, payload)
		return nil
	}
	strategy := envelope.Flood
	if e.table.Has(targetID) {
		strategy = envelope.Direct
	}
	env := envelope.NewRouting(e.localID, targetID, payload, strategy)
	e.cache.Add(payload.MessageID)
	metrics.MessageCacheSize.Set(float64(e.cache.Len()))
	return e.dispatchStrategy(env, "")
}

// Dispatch implements registry.Dispatcher: Routing envelopes enter
// handle_routing; every other authenticated-only kind (Data arriving as
// a direct single-hop message, Discovery) is delivered locally as-is.
func (e *Engine) Dispatch(from meshnet.NodeID, env *envelope.Envelope) {
	if env.Kind == envelope.KindRouting {
		if err := e.HandleRouting(env, from); err != nil {
			e.log.Debug("routing: handle_routing failed", logger.Error(err))
		}
		return
	}
	e.deliverLocally(from, env)
}

// HandleRouting is the handle_routing() operation: dedupe, hop-count
// check, local delivery, path learning, and strategy-dispatched
// forwarding, in that order. inboundPeer is the session the envelope
// arrived on, excluded from flood fan-out; pass "" for a locally
// originated envelope.
func (e *Engine) HandleRouting(env *envelope.Envelope, inboundPeer meshnet.NodeID) error {
	rb := env.Routing
	if rb == nil || rb.Payload == nil {
		return errs.Wrap(errs.ErrProtocol, "routing envelope missing body or payload", nil)
	}

	if e.cache.Contains(rb.Payload.MessageID) {
		metrics.RoutesDropped.WithLabelValues("duplicate").Inc()
		return nil
	}
	e.cache.Add(rb.Payload.MessageID)
	metrics.MessageCacheSize.Set(float64(e.cache.Len()))

	if rb.HopCount() >= maxHops {
		metrics.RoutesDropped.WithLabelValues("ttl_exceeded").Inc()
		e.log.Warn("routing: hop count exceeded", logger.Int("hops", rb.HopCount()))
		return nil
	}

	if rb.TargetID == e.localID {
		e.deliverLocally(env.SenderID, rb.Payload)
		metrics.RoutedMessages.WithLabelValues(strategyLabel(rb.Strategy), "delivered").Inc()
		return nil
	}

	if rb.Contains(e.localID) {
		metrics.RoutesDropped.WithLabelValues("loop").Inc()
		return nil
	}
	rb.Route = append(rb.Route, e.localID)

	if rb.Strategy == envelope.DiscoverRoute {
		e.learnPaths(rb.Route)
	}

	return e.dispatchStrategy(env, inboundPeer)
}

func (e *Engine) dispatchStrategy(env *envelope.Envelope, inboundPeer meshnet.NodeID) error {
	rb := env.Routing
	switch rb.Strategy {
	case envelope.Direct:
		return e.forwardDirect(env)
	case envelope.Flood:
		return e.forwardFlood(env, inboundPeer)
	case envelope.Multipath:
		return e.forwardMultipath(env)
	case envelope.DiscoverRoute:
		if e.table.Has(rb.TargetID) {
			return e.forwardDirect(env)
		}
		return nil
	default:
		return errs.Wrap(errs.ErrProtocol, "unknown routing strategy", nil)
	}
}

// forwardDirect sends to one known next hop (the first NextHops returns),
// removing it from the routing table on failure and logging the lost route.
func (e *Engine) forwardDirect(env *envelope.Envelope) error {
	target := env.Routing.TargetID
	hops := e.table.NextHops(target)
	if len(hops) == 0 {
		metrics.RoutesDropped.WithLabelValues("no_route").Inc()
		return errs.Wrap(errs.ErrNoRoute, "no next hop for "+string(target), nil)
	}
	nextHop := hops[0]
	if err := e.sender.SendTo(nextHop, env); err != nil {
		e.table.Remove(target, nextHop)
		metrics.RoutingTableSize.Set(float64(e.table.Size()))
		metrics.RoutesDropped.WithLabelValues("no_route").Inc()
		e.log.Warn("routing: route lost", logger.String("next_hop", string(nextHop)), logger.Error(err))
		return err
	}
	metrics.RoutedMessages.WithLabelValues(strategyLabel(env.Routing.Strategy), "forwarded").Inc()
	return nil
}

// forwardFlood sends to every authenticated peer except the one this
// envelope arrived from and any peer already present in Route.
func (e *Engine) forwardFlood(env *envelope.Envelope, inboundPeer meshnet.NodeID) error {
	rb := env.Routing
	var lastErr error
	sent := 0
	for _, peer := range e.sender.AllPeers() {
		if inboundPeer != "" && peer.ID == inboundPeer {
			continue
		}
		if rb.Contains(peer.ID) {
			continue
		}
		if err := e.sender.SendTo(peer.ID, env); err != nil {
			lastErr = err
			continue
		}
		sent++
	}
	metrics.RoutedMessages.WithLabelValues("flood", "forwarded").Add(float64(sent))
	if sent == 0 && lastErr != nil {
		metrics.RoutesDropped.WithLabelValues("no_route").Inc()
		return lastErr
	}
	return nil
}

// multipathFanout bounds how many next hops a single Multipath send
// fans out to.
const multipathFanout = 3

// forwardMultipath sends over up to multipathFanout known next hops,
// pruning any that fail.
func (e *Engine) forwardMultipath(env *envelope.Envelope) error {
	target := env.Routing.TargetID
	hops := e.table.NextHops(target)
	if len(hops) == 0 {
		metrics.RoutesDropped.WithLabelValues("no_route").Inc()
		return errs.Wrap(errs.ErrNoRoute, "no next hop for "+string(target), nil)
	}
	if len(hops) > multipathFanout {
		hops = hops[:multipathFanout]
	}
	var lastErr error
	sent := 0
	for _, nextHop := range hops {
		if err := e.sender.SendTo(nextHop, env); err != nil {
			e.table.Remove(target, nextHop)
			lastErr = err
			continue
		}
		sent++
	}
	metrics.RoutingTableSize.Set(float64(e.table.Size()))
	metrics.RoutedMessages.WithLabelValues("multipath", "forwarded").Add(float64(sent))
	if sent == 0 {
		metrics.RoutesDropped.WithLabelValues("no_route").Inc()
		return lastErr
	}
	return nil
}

// learnPaths records, for each adjacent pair in route, that route[i] is
// reachable via route[i+1]. This is the path-learning side effect of a
// DiscoverRoute envelope passing through.
func (e *Engine) learnPaths(route []meshnet.NodeID) {
	for i := 0; i+1 < len(route); i++ {
		e.table.Insert(route[i], route[i+1])
	}
	metrics.RoutingTableSize.Set(float64(e.table.Size()))
}

func (e *Engine) deliverLocally(from meshnet.NodeID, payload *envelope.Envelope) {
	if e.deliverer != nil {
		e.deliverer.Deliver(from, payload)
	}
}

func strategyLabel(s envelope.Strategy) string {
	switch s {
	case envelope.Direct:
		return "direct"
	case envelope.Flood:
		return "flood"
	case envelope.Multipath:
		return "multipath"
	case envelope.DiscoverRoute:
		return "discover_route"
	default:
		return "unknown"
	}
}
