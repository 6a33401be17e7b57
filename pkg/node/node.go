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

// Package node wires every subsystem into a single mesh node: the
// Signature Service, the TCP Listener, the Connection Registry, the
// Routing Engine, the Reliable Delivery Layer, the Discovery Service,
// the Liveness Supervisor, and the health/metrics HTTP surface. Start
// and Stop are idempotent.
package node

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sage-x-project/meshnet/config"
	"github.com/sage-x-project/meshnet/internal/logger"
	"github.com/sage-x-project/meshnet/pkg/delivery"
	"github.com/sage-x-project/meshnet/pkg/discovery"
	"github.com/sage-x-project/meshnet/pkg/handshake"
	"github.com/sage-x-project/meshnet/pkg/healthsrv"
	"github.com/sage-x-project/meshnet/pkg/liveness"
	"github.com/sage-x-project/meshnet/pkg/meshnet"
	"github.com/sage-x-project/meshnet/pkg/registry"
	"github.com/sage-x-project/meshnet/pkg/routing"
	"github.com/sage-x-project/meshnet/pkg/signature"
	"github.com/sage-x-project/meshnet/pkg/transport"
)

const shutdownTimeout = 5 * time.Second

// Application receives fully reassembled payloads, one call per payload
// group, after Reliable Delivery finishes reassembly. This is the
// `on_message_delivered` upcall of the external interface contract.
type Application interface {
	OnMessageDelivered(sender meshnet.NodeID, payload []byte)
}

// NoopApplication discards every delivered payload. Used when a caller
// only wants the networking engine, not an application layer above it.
type NoopApplication struct{}

func (NoopApplication) OnMessageDelivered(meshnet.NodeID, []byte) {}

// Node owns every subsystem of a running mesh participant. The zero
// value is not usable; construct with New.
type Node struct {
	id      meshnet.NodeID
	cfg     *config.Config
	keys    signature.KeyPair
	sig     *signature.Service
	log     logger.Logger

	handshake *handshake.Engine

	listener  *transport.Listener
	registry  *registry.Registry
	routing   *routing.Engine
	delivery  *delivery.Engine
	discovery *discovery.Service
	debugSrv  *discovery.DebugServer
	liveness  *liveness.Supervisor
	health    *healthsrv.Server

	mu       sync.Mutex
	started  bool
	stopped  bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// registryEvents bridges registry.Events into the Liveness Supervisor,
// so every Authenticated/closed session is tracked for health sweeps
// without the registry importing the liveness package.
type registryEvents struct {
	sup *liveness.Supervisor
}

func (e registryEvents) PeerConnected(peer meshnet.PeerRecord) {
	e.sup.Track(peer.ID, peer.Host, peer.Port)
}

func (e registryEvents) PeerDisconnected(id meshnet.NodeID, _ error) {
	e.sup.Forget(id)
}

func (e registryEvents) PeerSeen(id meshnet.NodeID, latency time.Duration) {
	e.sup.Touch(id, latency)
}

// applicationBridge adapts the node's Application callback to
// delivery.Application, and feeds successful deliveries back into the
// Liveness Supervisor as evidence of a healthy peer.
type applicationBridge struct {
	app Application
	sup *liveness.Supervisor
}

func (b applicationBridge) Deliver(from meshnet.NodeID, payload []byte) {
	b.sup.RecordMessage(from, false)
	b.app.OnMessageDelivered(from, payload)
}

// New constructs a Node from cfg. If cfg.NodeID is empty, a fresh random
// identity is generated. app may be nil (defaults to NoopApplication).
func New(cfg *config.Config, app Application) (*Node, error) {
	if cfg == nil {
		cfg = &config.Config{}
	}
	if app == nil {
		app = NoopApplication{}
	}

	id := meshnet.NodeID(cfg.NodeID)
	if id == "" {
		id = meshnet.NewNodeID()
	}

	sig, err := signature.NewService()
	if err != nil {
		return nil, fmt.Errorf("node: init signature service: %w", err)
	}
	keys, err := sig.Keypair()
	if err != nil {
		return nil, fmt.Errorf("node: generate keypair: %w", err)
	}

	log := logger.GetDefaultLogger()

	handshakeEngine := handshake.NewEngine(id, sig, keys)

	sup := liveness.NewSupervisor(nil)
	reg := registry.New(handshakeEngine, registryEvents{sup: sup}, nil)
	sup.SetConnector(reg)

	routingEngine := routing.NewEngine(id, reg, nil)
	deliveryEngine := delivery.NewEngine(id, routingEngine, applicationBridge{app: app, sup: sup})
	routingEngine.SetDeliverer(deliveryEngine)
	reg.SetDispatcher(routingEngine)

	health := healthsrv.NewServer(sup, reg, cfg.Health.Port)

	n := &Node{
		id:        id,
		cfg:       cfg,
		keys:      keys,
		sig:       sig,
		log:       log,
		handshake: handshakeEngine,
		registry:  reg,
		routing:   routingEngine,
		delivery:  deliveryEngine,
		liveness:  sup,
		health:    health,
		stopCh:    make(chan struct{}),
	}
	return n, nil
}

// ID returns the node's identity.
func (n *Node) ID() meshnet.NodeID { return n.id }

// Registry exposes the Connection Registry, e.g. for a CLI's "peers"
// subcommand.
func (n *Node) Registry() *registry.Registry { return n.registry }

// Liveness exposes the Liveness Supervisor's network statistics and
// event log.
func (n *Node) Liveness() *liveness.Supervisor { return n.liveness }

// Send fragments and transmits payload to target through the Reliable
// Delivery Layer, returning the assigned group-id.
func (n *Node) Send(target meshnet.NodeID, payload []byte) (string, error) {
	return n.delivery.Send(target, payload)
}

// Connect dials a peer directly, bypassing discovery.
func (n *Node) Connect(ctx context.Context, host string, port int) error {
	return n.registry.Connect(ctx, host, port)
}

// Start binds the TCP listener and launches every background subsystem.
// A second call is a no-op, per the external interface's idempotent
// start contract.
func (n *Node) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.started {
		return nil
	}

	ln, err := transport.Listen(n.cfg.Listen.Host, n.cfg.Listen.Port)
	if err != nil {
		return fmt.Errorf("node: %w", err)
	}
	n.listener = ln

	n.wg.Add(1)
	go n.acceptLoop()

	if n.cfg.Discovery.Enabled {
		discoveryPort := n.cfg.Discovery.Port
		if discoveryPort == 0 {
			discoveryPort = 54321
		}
		advertiseHost := n.cfg.Listen.Host
		if advertiseHost == "0.0.0.0" || advertiseHost == "" {
			advertiseHost = "127.0.0.1"
		}
		disc, err := discovery.NewService(n.id, advertiseHost, n.listener.Port(), discoveryPort, n.registry)
		if err != nil {
			_ = n.listener.Close()
			return fmt.Errorf("node: init discovery service: %w", err)
		}
		n.discovery = disc
		n.debugSrv = discovery.NewDebugServer(n.discovery)
		n.discovery.Start()
	}
	n.liveness.Start()

	if cfg := n.cfg.Health; cfg.Enabled {
		if err := n.health.Start(); err != nil {
			return fmt.Errorf("node: start health server: %w", err)
		}
	}

	n.started = true
	n.log.Info("node started",
		logger.String("node_id", n.id.String()),
		logger.Int("port", n.listener.Port()),
	)
	return nil
}

func (n *Node) acceptLoop() {
	defer n.wg.Done()
	for {
		tr, err := n.listener.Accept()
		if err != nil {
			select {
			case <-n.stopCh:
				return
			default:
				n.log.Warn("accept failed", logger.Error(err))
				return
			}
		}
		n.registry.Accept(tr)
	}
}

// Stop tears down every subsystem, fanning shutdown out to each owned
// component and waiting up to 5s for the accept loop to unblock. Safe
// to call before Start completes, and safe to call more than once.
func (n *Node) Stop() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.stopped {
		return nil
	}
	n.stopped = true
	close(n.stopCh)

	if n.listener != nil {
		_ = n.listener.Close()
	}
	if n.discovery != nil {
		n.discovery.Stop()
	}
	n.liveness.Stop()
	n.delivery.Stop()
	n.routing.Stop()
	_ = n.registry.Close()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = n.health.Stop(ctx)

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		n.log.Warn("node stop: accept loop did not exit within timeout")
	}

	n.log.Info("node stopped", logger.String("node_id", n.id.String()))
	return nil
}

// ListenAddr returns the bound TCP address, valid only after Start.
func (n *Node) ListenAddr() (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.listener == nil {
		return "", fmt.Errorf("node: not started")
	}
	host := n.cfg.Listen.Host
	if host == "0.0.0.0" || host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, fmt.Sprintf("%d", n.listener.Port())), nil
}
