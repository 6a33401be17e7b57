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

// Package registry owns every live Session, routes inbound envelopes to
// the Handshake Engine or onward to a Dispatcher, and enforces the
// authentication gate: a session may only carry Data or Routing
// envelopes once it reaches Authenticated.
package registry

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/sage-x-project/meshnet/internal/logger"
	"github.com/sage-x-project/meshnet/internal/metrics"
	"github.com/sage-x-project/meshnet/pkg/envelope"
	"github.com/sage-x-project/meshnet/pkg/handshake"
	"github.com/sage-x-project/meshnet/pkg/meshnet"
	"github.com/sage-x-project/meshnet/pkg/meshnet/errs"
	"github.com/sage-x-project/meshnet/pkg/session"
	"github.com/sage-x-project/meshnet/pkg/transport"
	"golang.org/x/sync/singleflight"
)

// Events notifies the application layer of connection lifecycle changes.
// The registry itself does not retry or route beyond its own sessions.
type Events interface {
	PeerConnected(peer meshnet.PeerRecord)
	PeerDisconnected(id meshnet.NodeID, cause error)
	// PeerSeen reports that traffic was just received from an Authenticated
	// peer, with the one-way latency observed on that envelope.
	PeerSeen(id meshnet.NodeID, latency time.Duration)
}

// NoopEvents discards every notification.
type NoopEvents struct{}

func (NoopEvents) PeerConnected(meshnet.PeerRecord)       {}
func (NoopEvents) PeerDisconnected(meshnet.NodeID, error) {}
func (NoopEvents) PeerSeen(meshnet.NodeID, time.Duration) {}

// Dispatcher receives Data/Routing/Discovery envelopes from Authenticated
// sessions. The Routing Engine implements this.
type Dispatcher interface {
	Dispatch(from meshnet.NodeID, env *envelope.Envelope)
}

type peerEntry struct {
	sess   *session.Session
	record meshnet.PeerRecord
}

// Registry is the Connection Registry of spec section 4.2: it owns every
// Session, keyed by peer-id once Authenticated, and by nothing (tracked
// only in pending) before that.
type Registry struct {
	mu sync.RWMutex

	engine *handshake.Engine
	sf     singleflight.Group

	authenticated map[meshnet.NodeID]*peerEntry
	pending       map[*session.Session]meshnet.PeerRecord

	events     Events
	dispatcher Dispatcher
	log        logger.Logger
}

// New builds a Registry. events may be nil (defaults to NoopEvents).
// dispatcher may be nil during startup and wired in later via SetDispatcher.
func New(engine *handshake.Engine, events Events, dispatcher Dispatcher) *Registry {
	if events == nil {
		events = NoopEvents{}
	}
	return &Registry{
		engine:        engine,
		authenticated: make(map[meshnet.NodeID]*peerEntry),
		pending:       make(map[*session.Session]meshnet.PeerRecord),
		events:        events,
		dispatcher:    dispatcher,
		log:           logger.GetDefaultLogger(),
	}
}

// SetDispatcher wires in the Routing Engine after construction, breaking
// the registry/routing initialization cycle (routing needs a registry to
// send through; the registry needs routing to dispatch to).
func (r *Registry) SetDispatcher(d Dispatcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dispatcher = d
}

// Connect dials host:port, sends a HandshakeInit, and starts the inbound
// loop. Concurrent Connect calls for the same host:port are collapsed via
// singleflight, so a racing Discovery-triggered and Liveness-triggered
// reconnect to the same address dial at most once.
func (r *Registry) Connect(ctx context.Context, host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	_, err, _ := r.sf.Do(addr, func() (interface{}, error) {
		tr, err := transport.Dial(ctx, host, port)
		if err != nil {
			metrics.SessionsCreated.WithLabelValues("failure").Inc()
			return nil, errs.Wrap(errs.ErrTransport, "dial "+addr, err)
		}
		sess := session.New(tr)
		r.trackPending(sess, meshnet.PeerRecord{Host: host, Port: port})

		env, err := r.engine.CreateInitial(sess)
		if err != nil {
			sess.Close()
			r.untrackPending(sess)
			metrics.SessionsCreated.WithLabelValues("failure").Inc()
			return nil, err
		}
		if err := r.send(sess, env); err != nil {
			sess.Close()
			r.untrackPending(sess)
			metrics.SessionsCreated.WithLabelValues("failure").Inc()
			return nil, err
		}
		metrics.SessionsCreated.WithLabelValues("success").Inc()
		go r.inboundLoop(sess)
		return nil, nil
	})
	return err
}

// Accept registers tr as a new Unauthenticated session and starts its
// inbound loop, which expects a HandshakeInit as the first envelope.
func (r *Registry) Accept(tr transport.Transport) {
	sess := session.New(tr)
	r.trackPending(sess, parseRemoteAddr(tr.RemoteAddr()))
	metrics.SessionsCreated.WithLabelValues("success").Inc()
	go r.inboundLoop(sess)
}

// SendTo delivers env over the Authenticated session bound to peerID, or
// fails with ErrNoRoute if no such session exists.
func (r *Registry) SendTo(peerID meshnet.NodeID, env *envelope.Envelope) error {
	r.mu.RLock()
	e, ok := r.authenticated[peerID]
	r.mu.RUnlock()
	if !ok {
		return errs.Wrap(errs.ErrNoRoute, fmt.Sprintf("no authenticated session for %s", peerID), nil)
	}
	return r.send(e.sess, env)
}

// AllPeers returns a snapshot of currently Authenticated peers. Ordering
// is unspecified.
func (r *Registry) AllPeers() []meshnet.PeerRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]meshnet.PeerRecord, 0, len(r.authenticated))
	for _, e := range r.authenticated {
		out = append(out, e.record)
	}
	return out
}

// ActivePeerCount is the size of AllPeers without allocating a snapshot,
// used by the Liveness Supervisor's NetworkStats.
func (r *Registry) ActivePeerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.authenticated)
}

// IsAuthenticated reports whether peerID currently has an Authenticated
// session, used by Discovery and Liveness to skip redundant connects.
func (r *Registry) IsAuthenticated(peerID meshnet.NodeID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.authenticated[peerID]
	return ok
}

// Close closes every session the registry owns, pending and
// authenticated alike. Each inbound loop observes the resulting
// transport error and performs its own cleanup and PeerDisconnected
// notification.
func (r *Registry) Close() error {
	r.mu.Lock()
	sessions := make([]*session.Session, 0, len(r.authenticated)+len(r.pending))
	for _, e := range r.authenticated {
		sessions = append(sessions, e.sess)
	}
	for s := range r.pending {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	return nil
}

func (r *Registry) trackPending(sess *session.Session, hint meshnet.PeerRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[sess] = hint
}

func (r *Registry) untrackPending(sess *session.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, sess)
}

func (r *Registry) send(sess *session.Session, env *envelope.Envelope) error {
	b, err := envelope.Encode(env)
	if err != nil {
		return errs.Wrap(errs.ErrProtocol, "encode envelope", err)
	}
	if err := sess.Transport().Send(b); err != nil {
		return errs.Wrap(errs.ErrTransport, "send envelope", err)
	}
	return nil
}

func (r *Registry) inboundLoop(sess *session.Session) {
	var cause error
	defer func() { r.closeSession(sess, cause) }()

	for {
		frame, err := sess.Transport().Receive()
		if err != nil {
			cause = errs.Wrap(errs.ErrTransport, "receive", err)
			return
		}
		env, err := envelope.Decode(frame)
		if err != nil {
			cause = errs.Wrap(errs.ErrProtocol, "decode envelope", err)
			return
		}
		if err := r.dispatch(env, sess); err != nil {
			cause = err
			return
		}
		sess.Touch()
	}
}

// dispatch implements the kind-switch and state-gate of spec section 4.2:
// handshake envelopes drive the session state machine; Data, Routing, and
// Discovery envelopes require an Authenticated session.
func (r *Registry) dispatch(env *envelope.Envelope, sess *session.Session) error {
	switch env.Kind {
	case envelope.KindHandshakeInit:
		if sess.State() != session.Unauthenticated {
			return errs.Wrap(errs.ErrProtocol, "HandshakeInit on a non-Unauthenticated session", nil)
		}
		resp, err := r.engine.HandleInit(sess, env)
		if err != nil {
			return err
		}
		return r.send(sess, resp)

	case envelope.KindHandshakeResponse:
		if sess.State() != session.AwaitingResponse {
			return errs.Wrap(errs.ErrProtocol, "HandshakeResponse on a non-AwaitingResponse session", nil)
		}
		confirm, err := r.engine.HandleResponse(sess, env)
		if err != nil {
			return err
		}
		if err := r.send(sess, confirm); err != nil {
			return err
		}
		return r.finalizeAuthenticated(sess)

	case envelope.KindHandshakeConfirm:
		if sess.State() != session.AwaitingConfirm {
			return errs.Wrap(errs.ErrProtocol, "HandshakeConfirm on a non-AwaitingConfirm session", nil)
		}
		if err := r.engine.VerifyConfirm(sess, env); err != nil {
			return err
		}
		return r.finalizeAuthenticated(sess)

	case envelope.KindData, envelope.KindRouting,
		envelope.KindDiscoveryRequest, envelope.KindDiscoveryResponse,
		envelope.KindPeerListRequest, envelope.KindPeerListResponse:
		if sess.State() != session.Authenticated {
			return errs.Wrap(errs.ErrAuthentication, "data/routing/discovery envelope before authentication", nil)
		}
		peerID, _ := sess.RemotePeerID()
		latency := time.Since(env.CreatedAt)
		if latency < 0 {
			latency = 0
		}
		r.events.PeerSeen(peerID, latency)
		if r.dispatcher != nil {
			r.dispatcher.Dispatch(peerID, env)
		}
		return nil

	default:
		return errs.Wrap(errs.ErrProtocol, "unknown envelope kind", nil)
	}
}

// finalizeAuthenticated promotes sess to the authenticated map under its
// now-known remote peer id. If a session for that peer id already won
// promotion, this (later) session is closed instead per the tie-break
// rule: the earlier session wins.
func (r *Registry) finalizeAuthenticated(sess *session.Session) error {
	id, ok := sess.RemotePeerID()
	if !ok {
		return errs.Wrap(errs.ErrProtocol, "authenticated session missing remote peer id", nil)
	}

	r.mu.Lock()
	hint := r.pending[sess]
	delete(r.pending, sess)
	if existing, exists := r.authenticated[id]; exists && existing.sess != sess {
		r.mu.Unlock()
		sess.Close()
		return errs.Wrap(errs.ErrProtocol, "duplicate session for peer superseded by an earlier one", nil)
	}
	record := meshnet.PeerRecord{ID: id, Host: hint.Host, Port: hint.Port}
	r.authenticated[id] = &peerEntry{sess: sess, record: record}
	r.mu.Unlock()

	metrics.SessionsActive.Inc()
	r.events.PeerConnected(record)
	r.log.Info("peer connected", logger.String("peer", string(id)))
	return nil
}

// closeSession removes sess from both maps (whichever it is in),
// releases its transport, and records PeerDisconnected if it had ever
// reached Authenticated.
func (r *Registry) closeSession(sess *session.Session, cause error) {
	sess.Close()

	r.mu.Lock()
	delete(r.pending, sess)
	var id meshnet.NodeID
	var wasAuthenticated bool
	if pid, ok := sess.RemotePeerID(); ok {
		if e, exists := r.authenticated[pid]; exists && e.sess == sess {
			delete(r.authenticated, pid)
			id = pid
			wasAuthenticated = true
		}
	}
	r.mu.Unlock()

	if !wasAuthenticated {
		return
	}
	metrics.SessionsActive.Dec()
	metrics.SessionsClosed.WithLabelValues(closeReason(cause)).Inc()
	r.events.PeerDisconnected(id, cause)
	r.log.Info("peer disconnected", logger.String("peer", string(id)))
}

func closeReason(cause error) string {
	if cause == nil {
		return "local_shutdown"
	}
	return "peer_close"
}

func parseRemoteAddr(addr string) meshnet.PeerRecord {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return meshnet.PeerRecord{}
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return meshnet.PeerRecord{}
	}
	return meshnet.PeerRecord{Host: host, Port: port}
}
