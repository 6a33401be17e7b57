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

package routing

import (
	"sync"

	"github.com/sage-x-project/meshnet/pkg/meshnet"
)

// RoutingTable maps a target node id to the set of next-hop node ids
// through which it has been reached. Entries accumulate from path
// learning (DiscoverRoute) and are pruned when a send through a next hop
// fails.
type RoutingTable struct {
	mu       sync.RWMutex
	nextHops map[meshnet.NodeID]map[meshnet.NodeID]struct{}
}

// NewRoutingTable returns an empty table.
func NewRoutingTable() *RoutingTable {
	return &RoutingTable{
		nextHops: make(map[meshnet.NodeID]map[meshnet.NodeID]struct{}),
	}
}

// Insert records that target is reachable via nextHop. A no-op if
// target == nextHop, since a node is not its own next hop.
func (t *RoutingTable) Insert(target, nextHop meshnet.NodeID) {
	if target == nextHop {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	hops, ok := t.nextHops[target]
	if !ok {
		hops = make(map[meshnet.NodeID]struct{})
		t.nextHops[target] = hops
	}
	hops[nextHop] = struct{}{}
}

// Remove forgets nextHop as a path to target, e.g. after a failed send.
// If that was the last known next hop, target is dropped entirely.
func (t *RoutingTable) Remove(target, nextHop meshnet.NodeID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	hops, ok := t.nextHops[target]
	if !ok {
		return
	}
	delete(hops, nextHop)
	if len(hops) == 0 {
		delete(t.nextHops, target)
	}
}

// Has reports whether any next hop is known for target.
func (t *RoutingTable) Has(target meshnet.NodeID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nextHops[target]) > 0
}

// NextHops returns a snapshot of the known next hops for target.
// Ordering is unspecified.
func (t *RoutingTable) NextHops(target meshnet.NodeID) []meshnet.NodeID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	hops := t.nextHops[target]
	out := make([]meshnet.NodeID, 0, len(hops))
	for id := range hops {
		out = append(out, id)
	}
	return out
}

// Size is the number of distinct targets with at least one known next
// hop, used by the routing table size gauge.
func (t *RoutingTable) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nextHops)
}
