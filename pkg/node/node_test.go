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

package node

import (
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/sage-x-project/meshnet/config"
	"github.com/sage-x-project/meshnet/pkg/meshnet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturingApplication struct {
	mu       sync.Mutex
	delivers []delivered
}

type delivered struct {
	from    meshnet.NodeID
	payload []byte
}

func (a *capturingApplication) OnMessageDelivered(from meshnet.NodeID, payload []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.delivers = append(a.delivers, delivered{from: from, payload: append([]byte{}, payload...)})
}

func (a *capturingApplication) snapshot() []delivered {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]delivered{}, a.delivers...)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func newLoopbackNode(t *testing.T, app Application) *Node {
	t.Helper()
	cfg := &config.Config{
		Listen: config.ListenConfig{Host: "127.0.0.1", Port: 0},
	}
	n, err := New(cfg, app)
	require.NoError(t, err)
	require.NoError(t, n.Start())
	t.Cleanup(func() { _ = n.Stop() })
	return n
}

func TestTwoNodeHandshakeAuthenticatesBothSides(t *testing.T) {
	a := newLoopbackNode(t, nil)
	b := newLoopbackNode(t, nil)

	addrB, err := b.ListenAddr()
	require.NoError(t, err)
	host, port := splitAddr(t, addrB)

	require.NoError(t, a.Connect(t.Context(), host, port))

	waitFor(t, 2*time.Second, func() bool { return a.Registry().ActivePeerCount() == 1 })
	waitFor(t, 2*time.Second, func() bool { return b.Registry().ActivePeerCount() == 1 })

	assert.True(t, a.Registry().IsAuthenticated(b.ID()))
	assert.True(t, b.Registry().IsAuthenticated(a.ID()))
}

func TestDirectDeliveryInvokesApplicationExactlyOnce(t *testing.T) {
	appA := &capturingApplication{}
	appB := &capturingApplication{}
	a := newLoopbackNode(t, appA)
	b := newLoopbackNode(t, appB)

	addrB, err := b.ListenAddr()
	require.NoError(t, err)
	host, port := splitAddr(t, addrB)
	require.NoError(t, a.Connect(t.Context(), host, port))
	waitFor(t, 2*time.Second, func() bool { return a.Registry().ActivePeerCount() == 1 })

	payload := make([]byte, 1500)
	for i := range payload {
		payload[i] = byte(i)
	}
	_, err = a.Send(b.ID(), payload)
	require.NoError(t, err)

	waitFor(t, 2*time.Second, func() bool { return len(appB.snapshot()) == 1 })
	got := appB.snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, a.ID(), got[0].from)
	assert.Equal(t, payload, got[0].payload)

	// Real inbound traffic on b's side must advance liveness's last-seen
	// for a, not just the registry's own session-level Touch.
	waitFor(t, 2*time.Second, func() bool {
		for _, snap := range b.Liveness().Snapshot() {
			if snap.PeerID == a.ID() {
				return snap.Healthy
			}
		}
		return false
	})
}

func TestStartIsIdempotent(t *testing.T) {
	n := newLoopbackNode(t, nil)
	require.NoError(t, n.Start())
}

func TestStopBeforeStartCompletesIsSafe(t *testing.T) {
	cfg := &config.Config{Listen: config.ListenConfig{Host: "127.0.0.1", Port: 0}}
	n, err := New(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, n.Stop())
}

func splitAddr(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}
