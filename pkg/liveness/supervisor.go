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

package liveness

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sage-x-project/meshnet/internal/logger"
	"github.com/sage-x-project/meshnet/internal/metrics"
	"github.com/sage-x-project/meshnet/pkg/meshnet"
)

const (
	healthSweepInterval   = 5 * time.Second
	metricsSampleInterval = 1 * time.Second
	reconnectTimeout      = 10 * time.Second
	eventLogCapacity      = 1000
)

// Connector is the subset of the Connection Registry the supervisor
// needs: reconnecting a peer, checking whether it is currently
// authenticated, and counting currently active peers.
type Connector interface {
	Connect(ctx context.Context, host string, port int) error
	IsAuthenticated(peerID meshnet.NodeID) bool
	ActivePeerCount() int
}

// NetworkStats is a consistent, point-in-time snapshot of network
// health across all known peers.
type NetworkStats struct {
	ActivePeers    int
	AverageLatency time.Duration
	TotalMessages  uint64
	ErrorRate      float64
}

// Supervisor runs the periodic health sweep and bounded-backoff
// reconnection described for known peers, and keeps the event log and
// network statistics that observability surfaces read from.
type Supervisor struct {
	connector Connector
	log       logger.Logger
	events    *EventLog

	mu    sync.RWMutex
	peers map[meshnet.NodeID]*peerHealth

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewSupervisor builds a Supervisor that reconnects peers through
// connector. connector may be nil and wired in later via SetConnector,
// for callers whose Connector implementation is itself constructed with
// a reference back to the Supervisor. Start must be called to begin its
// sweep and sampling loops.
func NewSupervisor(connector Connector) *Supervisor {
	return &Supervisor{
		connector: connector,
		log:       logger.GetDefaultLogger(),
		events:    NewEventLog(eventLogCapacity),
		peers:     make(map[meshnet.NodeID]*peerHealth),
		stopCh:    make(chan struct{}),
	}
}

// Events returns the supervisor's event log.
func (s *Supervisor) Events() *EventLog {
	return s.events
}

// SetConnector wires in the Connector after construction, for callers
// that need to construct the Supervisor before the concrete Connector
// (typically a Connection Registry whose Events implementation reports
// back into this same Supervisor) exists.
func (s *Supervisor) SetConnector(connector Connector) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connector = connector
}

// Start launches the health sweep and metrics sampling goroutines.
func (s *Supervisor) Start() {
	s.wg.Add(2)
	go s.healthSweepLoop()
	go s.metricsSampleLoop()
}

// Stop halts the supervisor's background loops and waits for them to
// exit, up to 5 seconds.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.log.Warn("liveness supervisor stop timed out")
	}
}

// Track begins watching peerID, reachable at host:port. Safe to call
// more than once for the same peer; later calls refresh its address.
func (s *Supervisor) Track(peerID meshnet.NodeID, host string, port int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ph, ok := s.peers[peerID]; ok {
		ph.mu.Lock()
		ph.host, ph.port = host, port
		ph.mu.Unlock()
		return
	}
	s.peers[peerID] = newPeerHealth(peerID, host, port)
	s.events.Append(NetworkEvent{Kind: PeerConnected, PeerID: peerID, Description: fmt.Sprintf("tracking %s:%d", host, port), Timestamp: time.Now()})
}

// Forget stops watching peerID entirely.
func (s *Supervisor) Forget(peerID meshnet.NodeID) {
	s.mu.Lock()
	_, existed := s.peers[peerID]
	delete(s.peers, peerID)
	s.mu.Unlock()
	if existed {
		s.events.Append(NetworkEvent{Kind: PeerDisconnected, PeerID: peerID, Timestamp: time.Now()})
	}
}

// Touch records a liveness signal for peerID: traffic was just
// observed, with the given one-way latency.
func (s *Supervisor) Touch(peerID meshnet.NodeID, latency time.Duration) {
	s.mu.RLock()
	ph, ok := s.peers[peerID]
	s.mu.RUnlock()
	if !ok {
		return
	}
	if ph.touch(latency) {
		s.events.Append(NetworkEvent{Kind: RecoverySucceeded, PeerID: peerID, Timestamp: time.Now()})
		metrics.ReconnectAttempts.WithLabelValues("succeeded").Inc()
	}
}

// RecordMessage accounts for one message sent or received to/from
// peerID, for NetworkStats purposes.
func (s *Supervisor) RecordMessage(peerID meshnet.NodeID, isError bool) {
	s.mu.RLock()
	ph, ok := s.peers[peerID]
	s.mu.RUnlock()
	if !ok {
		return
	}
	ph.recordMessage(isError)
}

// Snapshot returns the current health record of every tracked peer.
func (s *Supervisor) Snapshot() []PeerHealthSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PeerHealthSnapshot, 0, len(s.peers))
	for _, ph := range s.peers {
		out = append(out, ph.snapshot())
	}
	return out
}

// NetworkStats computes a consistent point-in-time snapshot of network
// health: active-peer count from the Connection Registry, average
// latency and total message/error counts across tracked peers.
func (s *Supervisor) NetworkStats() NetworkStats {
	snaps := s.Snapshot()

	var latencySum time.Duration
	var totalMessages, totalErrors uint64
	for _, snap := range snaps {
		latencySum += snap.Latency
		totalMessages += snap.MessageCount
		totalErrors += snap.ErrorCount
	}

	var avgLatency time.Duration
	if len(snaps) > 0 {
		avgLatency = latencySum / time.Duration(len(snaps))
	}

	var errorRate float64
	if totalMessages > 0 {
		errorRate = float64(totalErrors) * 100 / float64(totalMessages)
	}

	return NetworkStats{
		ActivePeers:    s.connector.ActivePeerCount(),
		AverageLatency: avgLatency,
		TotalMessages:  totalMessages,
		ErrorRate:      errorRate,
	}
}

func (s *Supervisor) healthSweepLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(healthSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Supervisor) sweep() {
	s.mu.RLock()
	targets := make([]*peerHealth, 0, len(s.peers))
	for _, ph := range s.peers {
		targets = append(targets, ph)
	}
	s.mu.RUnlock()

	now := time.Now()
	for _, ph := range targets {
		if ph.healthy(now) {
			continue
		}
		s.handleUnhealthy(ph, now)
	}
}

// handleUnhealthy drives one peer's reconnection state machine. It is
// called once per sweep for every peer currently outside the
// unhealthy-after window.
func (s *Supervisor) handleUnhealthy(ph *peerHealth, now time.Time) {
	ph.mu.Lock()
	firstObservation := !ph.unhealthy
	ph.unhealthy = true
	giveUp := ph.giveUp
	due := !now.Before(ph.nextTrialAt)
	peerID, host, port := ph.peerID, ph.host, ph.port
	ph.mu.Unlock()

	if firstObservation {
		metrics.PeersUnhealthy.Inc()
		s.events.Append(NetworkEvent{Kind: PeerUnhealthy, PeerID: peerID, Timestamp: now})
	}
	if giveUp || !due {
		return
	}

	ph.mu.Lock()
	ph.reconnectAttempts++
	attempts := ph.reconnectAttempts
	ph.nextTrialAt = now.Add(backoff(attempts))
	ph.mu.Unlock()

	metrics.ReconnectAttempts.WithLabelValues("attempted").Inc()
	s.events.Append(NetworkEvent{Kind: RecoveryAttempted, PeerID: peerID, Description: fmt.Sprintf("attempt %d", attempts), Timestamp: now})

	ctx, cancel := context.WithTimeout(context.Background(), reconnectTimeout)
	err := s.connector.Connect(ctx, host, port)
	cancel()

	if err == nil && s.connector.IsAuthenticated(peerID) {
		if ph.recover() {
			s.events.Append(NetworkEvent{Kind: RecoverySucceeded, PeerID: peerID, Timestamp: time.Now()})
			metrics.ReconnectAttempts.WithLabelValues("succeeded").Inc()
		}
		return
	}
	metrics.ReconnectAttempts.WithLabelValues("failed").Inc()

	if attempts >= maxReconnectAttempts {
		ph.mu.Lock()
		ph.giveUp = true
		ph.mu.Unlock()
		metrics.RecoveriesFailed.Inc()
		s.events.Append(NetworkEvent{Kind: RecoveryFailed, PeerID: peerID, Timestamp: time.Now()})
	}
}

func (s *Supervisor) metricsSampleLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(metricsSampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			stats := s.NetworkStats()
			metrics.ActivePeers.Set(float64(stats.ActivePeers))
			metrics.NetworkErrorRate.Set(stats.ErrorRate)
		}
	}
}
