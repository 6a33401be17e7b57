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

package delivery

import (
	"sync"
	"time"

	"github.com/sage-x-project/meshnet/pkg/meshnet"
)

// outgoingTracker tracks one in-flight send() call: the chunk bytes (kept
// around so a RetransmitRequest or timeout sweep can re-emit them without
// re-chunking), an ack bit per chunk, and a shared retry count.
type outgoingTracker struct {
	mu         sync.Mutex
	target     meshnet.NodeID
	groupID    string
	chunks     [][]byte
	acked      []bool
	retryCount int
	createdAt  time.Time
}

func newOutgoingTracker(target meshnet.NodeID, groupID string, chunks [][]byte) *outgoingTracker {
	return &outgoingTracker{
		target:    target,
		groupID:   groupID,
		chunks:    chunks,
		acked:     make([]bool, len(chunks)),
		createdAt: time.Now(),
	}
}

// ack marks index as acknowledged and reports whether every chunk is now
// acknowledged. Re-acking an already-set index is a no-op, per the
// idempotent-acknowledgment invariant.
func (t *outgoingTracker) ack(index int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if index < 0 || index >= len(t.acked) {
		return false
	}
	t.acked[index] = true
	for _, done := range t.acked {
		if !done {
			return false
		}
	}
	return true
}

// chunkAt returns the original bytes for index, for retransmission.
func (t *outgoingTracker) chunkAt(index int) ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if index < 0 || index >= len(t.chunks) {
		return nil, false
	}
	return t.chunks[index], true
}

// bumpRetry increments and returns the tracker's shared retry count.
func (t *outgoingTracker) bumpRetry() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.retryCount++
	return t.retryCount
}

// snapshot returns the tracker's age and the chunks still unacknowledged,
// for the timeout sweep.
func (t *outgoingTracker) snapshot() (age time.Duration, retryCount int, pending map[int][]byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pending = make(map[int][]byte)
	for i, done := range t.acked {
		if !done {
			pending[i] = t.chunks[i]
		}
	}
	return time.Since(t.createdAt), t.retryCount, pending
}

// reassemblyBuffer accumulates chunks for one inbound (sender, group-id)
// pair until total distinct chunks have arrived.
type reassemblyBuffer struct {
	mu        sync.Mutex
	sender    meshnet.NodeID
	groupID   string
	total     int
	chunks    map[int][]byte
	delivered bool
	createdAt time.Time
}

func newReassemblyBuffer(sender meshnet.NodeID, groupID string, total int) *reassemblyBuffer {
	return &reassemblyBuffer{
		sender:    sender,
		groupID:   groupID,
		total:     total,
		chunks:    make(map[int][]byte),
		createdAt: time.Now(),
	}
}

// insert adds index's payload if this buffer has not already delivered,
// and reports whether every chunk has now arrived along with the
// concatenated result. A buffer delivers at most once: once complete ==
// true is returned, every subsequent call returns false until the buffer
// is discarded, even under concurrent arrivals racing on the last chunk.
func (b *reassemblyBuffer) insert(index int, payload []byte) (complete bool, assembled []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.delivered {
		return false, nil
	}
	if _, exists := b.chunks[index]; !exists {
		b.chunks[index] = payload
	}
	if len(b.chunks) < b.total {
		return false, nil
	}
	b.delivered = true
	out := make([]byte, 0, b.total*len(payload))
	for i := 0; i < b.total; i++ {
		out = append(out, b.chunks[i]...)
	}
	return true, out
}

func (b *reassemblyBuffer) expired(timeout time.Duration) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return time.Since(b.createdAt) > timeout
}
