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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/meshnet/pkg/meshnet"
)

type fakeConnector struct {
	mu            sync.Mutex
	authenticated map[meshnet.NodeID]bool
	connectErr    error
	connectCalls  int
	active        int
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{authenticated: make(map[meshnet.NodeID]bool)}
}

func (f *fakeConnector) Connect(ctx context.Context, host string, port int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
	return f.connectErr
}

func (f *fakeConnector) IsAuthenticated(peerID meshnet.NodeID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authenticated[peerID]
}

func (f *fakeConnector) ActivePeerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *fakeConnector) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectCalls
}

func TestTrackEmitsPeerConnectedEvent(t *testing.T) {
	sup := NewSupervisor(newFakeConnector())
	sup.Track(meshnet.NodeID("peer-a"), "10.0.0.1", 9000)

	snap := sup.Events().Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, PeerConnected, snap[0].Kind)
}

func TestTouchResetsUnhealthyState(t *testing.T) {
	sup := NewSupervisor(newFakeConnector())
	sup.Track(meshnet.NodeID("peer-a"), "10.0.0.1", 9000)

	sup.mu.RLock()
	ph := sup.peers[meshnet.NodeID("peer-a")]
	sup.mu.RUnlock()
	ph.mu.Lock()
	ph.unhealthy = true
	ph.reconnectAttempts = 2
	ph.mu.Unlock()

	sup.Touch(meshnet.NodeID("peer-a"), 5*time.Millisecond)

	snap := sup.Snapshot()
	require.Len(t, snap, 1)
	assert.True(t, snap[0].Healthy)
	assert.Equal(t, 0, snap[0].ReconnectAttempts)
}

func TestSweepMarksUnhealthyAndAttemptsReconnect(t *testing.T) {
	connector := newFakeConnector()
	connector.connectErr = nil
	connector.authenticated[meshnet.NodeID("peer-a")] = true
	sup := NewSupervisor(connector)
	sup.Track(meshnet.NodeID("peer-a"), "10.0.0.1", 9000)

	sup.mu.RLock()
	ph := sup.peers[meshnet.NodeID("peer-a")]
	sup.mu.RUnlock()
	ph.mu.Lock()
	ph.lastSeen = time.Now().Add(-unhealthyAfter - time.Second)
	ph.mu.Unlock()

	sup.sweep()

	assert.Equal(t, 1, connector.calls())
	events := sup.Events().Snapshot()
	var sawUnhealthy, sawAttempted bool
	for _, e := range events {
		if e.Kind == PeerUnhealthy {
			sawUnhealthy = true
		}
		if e.Kind == RecoveryAttempted {
			sawAttempted = true
		}
	}
	assert.True(t, sawUnhealthy)
	assert.True(t, sawAttempted)
}

func TestSweepResetsStateOnSuccessfulReconnect(t *testing.T) {
	connector := newFakeConnector()
	connector.authenticated[meshnet.NodeID("peer-a")] = true
	sup := NewSupervisor(connector)
	sup.Track(meshnet.NodeID("peer-a"), "10.0.0.1", 9000)

	sup.mu.RLock()
	ph := sup.peers[meshnet.NodeID("peer-a")]
	sup.mu.RUnlock()
	ph.mu.Lock()
	ph.lastSeen = time.Now().Add(-unhealthyAfter - time.Second)
	ph.latency = 7 * time.Millisecond
	ph.reconnectAttempts = 3
	ph.mu.Unlock()

	sup.sweep()

	snap := sup.Snapshot()
	require.Len(t, snap, 1)
	assert.True(t, snap[0].Healthy)
	assert.Equal(t, 0, snap[0].ReconnectAttempts)
	assert.Equal(t, 7*time.Millisecond, snap[0].Latency)

	var sawSucceeded bool
	for _, e := range sup.Events().Snapshot() {
		if e.Kind == RecoverySucceeded {
			sawSucceeded = true
		}
	}
	assert.True(t, sawSucceeded)
}

func TestSweepGivesUpAfterMaxReconnectAttempts(t *testing.T) {
	connector := newFakeConnector()
	connector.authenticated[meshnet.NodeID("peer-a")] = false
	sup := NewSupervisor(connector)
	sup.Track(meshnet.NodeID("peer-a"), "10.0.0.1", 9000)

	sup.mu.RLock()
	ph := sup.peers[meshnet.NodeID("peer-a")]
	sup.mu.RUnlock()

	ph.mu.Lock()
	ph.lastSeen = time.Now().Add(-unhealthyAfter - time.Second)
	ph.mu.Unlock()

	for i := 0; i < maxReconnectAttempts; i++ {
		sup.sweep()
		ph.mu.Lock()
		ph.nextTrialAt = time.Now().Add(-time.Millisecond)
		ph.mu.Unlock()
	}

	assert.Equal(t, maxReconnectAttempts, connector.calls())

	ph.mu.Lock()
	gaveUp := ph.giveUp
	ph.mu.Unlock()
	assert.True(t, gaveUp)

	var sawFailed bool
	for _, e := range sup.Events().Snapshot() {
		if e.Kind == RecoveryFailed {
			sawFailed = true
		}
	}
	assert.True(t, sawFailed)

	// A further sweep must not attempt again once given up.
	sup.sweep()
	assert.Equal(t, maxReconnectAttempts, connector.calls())
}

func TestNetworkStatsComputesAveragesAndErrorRate(t *testing.T) {
	connector := newFakeConnector()
	connector.active = 2
	sup := NewSupervisor(connector)
	sup.Track(meshnet.NodeID("peer-a"), "10.0.0.1", 9000)
	sup.Track(meshnet.NodeID("peer-b"), "10.0.0.2", 9001)

	sup.Touch(meshnet.NodeID("peer-a"), 10*time.Millisecond)
	sup.Touch(meshnet.NodeID("peer-b"), 20*time.Millisecond)

	for i := 0; i < 8; i++ {
		sup.RecordMessage(meshnet.NodeID("peer-a"), false)
	}
	sup.RecordMessage(meshnet.NodeID("peer-a"), true)
	sup.RecordMessage(meshnet.NodeID("peer-b"), true)

	stats := sup.NetworkStats()
	assert.Equal(t, 2, stats.ActivePeers)
	assert.Equal(t, 15*time.Millisecond, stats.AverageLatency)
	assert.Equal(t, uint64(10), stats.TotalMessages)
	assert.InDelta(t, 20.0, stats.ErrorRate, 0.01)
}

func TestNetworkStatsZeroErrorRateWithNoMessages(t *testing.T) {
	sup := NewSupervisor(newFakeConnector())
	sup.Track(meshnet.NodeID("peer-a"), "10.0.0.1", 9000)

	stats := sup.NetworkStats()
	assert.Equal(t, uint64(0), stats.TotalMessages)
	assert.Equal(t, 0.0, stats.ErrorRate)
}

func TestForgetRemovesPeerAndEmitsDisconnectedEvent(t *testing.T) {
	sup := NewSupervisor(newFakeConnector())
	sup.Track(meshnet.NodeID("peer-a"), "10.0.0.1", 9000)
	sup.Forget(meshnet.NodeID("peer-a"))

	assert.Empty(t, sup.Snapshot())
	var sawDisconnected bool
	for _, e := range sup.Events().Snapshot() {
		if e.Kind == PeerDisconnected {
			sawDisconnected = true
		}
	}
	assert.True(t, sawDisconnected)
}

func TestBackoffFollowsDoublingSchedule(t *testing.T) {
	assert.Equal(t, 2*time.Second, backoff(1))
	assert.Equal(t, 4*time.Second, backoff(2))
	assert.Equal(t, 8*time.Second, backoff(3))
	assert.Equal(t, 16*time.Second, backoff(4))
	assert.Equal(t, 32*time.Second, backoff(5))
}

func TestStartAndStopLifecycle(t *testing.T) {
	sup := NewSupervisor(newFakeConnector())
	sup.Start()
	time.Sleep(10 * time.Millisecond)
	sup.Stop()
}
