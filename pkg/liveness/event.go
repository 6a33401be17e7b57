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

// Package liveness supervises the health of known peers: a periodic
// sweep declares peers unhealthy once they fall silent, drives bounded
// exponential-backoff reconnection attempts, and keeps an append-only
// log of what happened plus point-in-time network statistics.
package liveness

import (
	"sync"
	"time"

	"github.com/sage-x-project/meshnet/internal/metrics"
	"github.com/sage-x-project/meshnet/pkg/meshnet"
)

// EventKind classifies a NetworkEvent.
type EventKind int

const (
	PeerConnected EventKind = iota
	PeerDisconnected
	PeerUnhealthy
	RouteDiscovered
	RouteLost
	RecoveryAttempted
	RecoverySucceeded
	RecoveryFailed
)

func (k EventKind) String() string {
	switch k {
	case PeerConnected:
		return "PeerConnected"
	case PeerDisconnected:
		return "PeerDisconnected"
	case PeerUnhealthy:
		return "PeerUnhealthy"
	case RouteDiscovered:
		return "RouteDiscovered"
	case RouteLost:
		return "RouteLost"
	case RecoveryAttempted:
		return "RecoveryAttempted"
	case RecoverySucceeded:
		return "RecoverySucceeded"
	case RecoveryFailed:
		return "RecoveryFailed"
	default:
		return "Unknown"
	}
}

// NetworkEvent is one entry in the append-only event log.
type NetworkEvent struct {
	Kind        EventKind
	PeerID      meshnet.NodeID
	Description string
	Timestamp   time.Time
}

// EventLog is a ring-buffered, append-only log of NetworkEvents. Once
// it holds capacity entries, each append evicts the oldest entry.
// Chronological order is always preserved by Snapshot.
type EventLog struct {
	mu       sync.Mutex
	capacity int
	events   []NetworkEvent
}

// NewEventLog creates an EventLog that holds at most capacity events.
func NewEventLog(capacity int) *EventLog {
	return &EventLog{
		capacity: capacity,
		events:   make([]NetworkEvent, 0, capacity),
	}
}

// Append adds evt to the log, evicting the oldest entry if the log is
// already at capacity.
func (l *EventLog) Append(evt NetworkEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = append(l.events, evt)
	if len(l.events) > l.capacity {
		excess := len(l.events) - l.capacity
		l.events = append(l.events[:0:0], l.events[excess:]...)
	}
	metrics.EventLogSize.Set(float64(len(l.events)))
}

// Snapshot returns a copy of the log's current contents, oldest first.
func (l *EventLog) Snapshot() []NetworkEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]NetworkEvent, len(l.events))
	copy(out, l.events)
	return out
}

// Len returns the current number of buffered events.
func (l *EventLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}
