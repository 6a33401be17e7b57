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

// Package meshnet holds the value types shared across every subsystem of
// the mesh node: node identity and peer addressing. Neither type carries
// behavior beyond equality and string rendering — they are immutable once
// constructed.
package meshnet

import (
	"fmt"

	"github.com/google/uuid"
)

// NodeID is an opaque, globally unique, immutable node identifier.
type NodeID string

// NewNodeID generates a fresh random node identifier.
func NewNodeID() NodeID {
	return NodeID(uuid.NewString())
}

// String implements fmt.Stringer.
func (n NodeID) String() string {
	return string(n)
}

// PeerRecord is an immutable {peer-id, host, port} triple. Two records
// are equal iff all three fields match.
type PeerRecord struct {
	ID   NodeID
	Host string
	Port int
}

// Equal reports whether two records carry identical id, host, and port.
func (p PeerRecord) Equal(o PeerRecord) bool {
	return p.ID == o.ID && p.Host == o.Host && p.Port == o.Port
}

// Address renders the record's dial target as "host:port".
func (p PeerRecord) Address() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

func (p PeerRecord) String() string {
	return fmt.Sprintf("%s@%s", p.ID, p.Address())
}
