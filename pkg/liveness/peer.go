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
	"sync"
	"time"

	"github.com/sage-x-project/meshnet/pkg/meshnet"
)

// unhealthyAfter is the silence duration after which a peer is
// considered unhealthy.
const unhealthyAfter = 30 * time.Second

// maxReconnectAttempts bounds how many times the supervisor retries a
// peer before giving up on it.
const maxReconnectAttempts = 5

// peerHealth is the supervisor's private record for one known peer. It
// mirrors the PeerHealth value described by the network model, plus
// the bookkeeping the supervisor needs to drive backoff.
type peerHealth struct {
	mu sync.Mutex

	peerID meshnet.NodeID
	host   string
	port   int

	lastSeen time.Time
	latency  time.Duration

	messageCount uint64
	errorCount   uint64

	reconnectAttempts int
	nextTrialAt       time.Time
	unhealthy         bool
	giveUp            bool
}

func newPeerHealth(peerID meshnet.NodeID, host string, port int) *peerHealth {
	return &peerHealth{
		peerID:   peerID,
		host:     host,
		port:     port,
		lastSeen: time.Now(),
	}
}

// touch advances last-seen monotonically and records an observed
// latency sample. A peer that was unhealthy recovers.
func (p *peerHealth) touch(latency time.Duration) (wasUnhealthy bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	if now.After(p.lastSeen) {
		p.lastSeen = now
	}
	p.latency = latency
	wasUnhealthy = p.unhealthy
	p.unhealthy = false
	p.giveUp = false
	p.reconnectAttempts = 0
	return wasUnhealthy
}

// recover advances last-seen and clears unhealthy/giveUp/reconnectAttempts
// without touching the last observed latency sample, for a peer reached
// again via the reconnection path rather than ordinary traffic.
func (p *peerHealth) recover() (wasUnhealthy bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	if now.After(p.lastSeen) {
		p.lastSeen = now
	}
	wasUnhealthy = p.unhealthy
	p.unhealthy = false
	p.giveUp = false
	p.reconnectAttempts = 0
	return wasUnhealthy
}

func (p *peerHealth) recordMessage(isError bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messageCount++
	if isError {
		p.errorCount++
	}
}

// healthy reports whether the peer has been seen inside unhealthyAfter.
func (p *peerHealth) healthy(now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return now.Sub(p.lastSeen) < unhealthyAfter
}

// PeerHealthSnapshot is a point-in-time, read-only copy of a peer's
// health record.
type PeerHealthSnapshot struct {
	PeerID            meshnet.NodeID
	Host              string
	Port              int
	LastSeen          time.Time
	Latency           time.Duration
	MessageCount      uint64
	ErrorCount        uint64
	ReconnectAttempts int
	Healthy           bool
}

func (p *peerHealth) snapshot() PeerHealthSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PeerHealthSnapshot{
		PeerID:            p.peerID,
		Host:              p.host,
		Port:              p.port,
		LastSeen:          p.lastSeen,
		Latency:           p.latency,
		MessageCount:      p.messageCount,
		ErrorCount:        p.errorCount,
		ReconnectAttempts: p.reconnectAttempts,
		Healthy:           time.Since(p.lastSeen) < unhealthyAfter,
	}
}

// backoff returns the delay to wait before the n-th reconnection
// attempt, per 1000 * 2^n milliseconds.
func backoff(attempts int) time.Duration {
	return time.Duration(1000*(1<<uint(attempts))) * time.Millisecond
}
