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

// Package delivery implements chunked reliable delivery over the Routing
// Engine: send() fragments a byte payload into checksummed chunks and
// hands each to route(); on_data() dispatches inbound DataChunk,
// Acknowledgment, RetransmitRequest, and Complete envelopes against an
// OutgoingTracker or ReassemblyBuffer keyed by group id.
package delivery

import (
	"crypto/sha256"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sage-x-project/meshnet/internal/logger"
	"github.com/sage-x-project/meshnet/internal/metrics"
	"github.com/sage-x-project/meshnet/pkg/envelope"
	"github.com/sage-x-project/meshnet/pkg/meshnet"
)

// ChunkSize is the maximum payload carried by one DataChunk.
const ChunkSize = 1 << 20 // 1 MiB

const (
	maxRetries    = 3
	sweepInterval = 30 * time.Second
)

// Router is the subset of the Routing Engine delivery needs: hand a
// payload envelope to route() without delivery owning how it eventually
// gets there (direct send, flood, multipath).
type Router interface {
	Route(targetID meshnet.NodeID, payload *envelope.Envelope) error
}

// Application receives a fully reassembled payload.
type Application interface {
	Deliver(from meshnet.NodeID, payload []byte)
}

// Engine is the Reliable Delivery Layer of spec section 4.4.
type Engine struct {
	localID meshnet.NodeID
	router  Router
	app     Application
	log     logger.Logger

	mu       sync.Mutex
	outgoing map[string]*outgoingTracker  // by group id
	incoming map[string]*reassemblyBuffer // by sender|group id

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewEngine builds an Engine identifying itself as localID, forwarding
// chunks through router and delivering completed payloads to app. The
// timeout sweep starts immediately.
func NewEngine(localID meshnet.NodeID, router Router, app Application) *Engine {
	e := &Engine{
		localID:  localID,
		router:   router,
		app:      app,
		log:      logger.GetDefaultLogger(),
		outgoing: make(map[string]*outgoingTracker),
		incoming: make(map[string]*reassemblyBuffer),
		stopCh:   make(chan struct{}),
	}
	go e.sweepLoop()
	return e
}

// Stop ends the timeout sweep. Safe to call more than once.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
}

// Send is the send() operation: it assigns a fresh group id, chunks
// payload into ChunkSize pieces, registers an OutgoingTracker, and routes
// each chunk toward target. A zero-length payload still sends one empty
// chunk, so the receiver observes a single-chunk group rather than none.
func (e *Engine) Send(target meshnet.NodeID, payload []byte) (string, error) {
	groupID := uuid.NewString()
	total := (len(payload) + ChunkSize - 1) / ChunkSize
	if total == 0 {
		total = 1
	}
	chunks := make([][]byte, total)
	for i := 0; i < total; i++ {
		start := i * ChunkSize
		end := start + ChunkSize
		if end > len(payload) {
			end = len(payload)
		}
		chunk := make([]byte, end-start)
		copy(chunk, payload[start:end])
		chunks[i] = chunk
	}

	tracker := newOutgoingTracker(target, groupID, chunks)
	e.mu.Lock()
	e.outgoing[groupID] = tracker
	e.mu.Unlock()

	for i, chunk := range chunks {
		if err := e.sendChunk(target, groupID, total, i, chunk, false); err != nil {
			return groupID, err
		}
	}
	return groupID, nil
}

// Deliver implements routing.Deliverer: it is on_data(), dispatching an
// inbound Data envelope by its State.
func (e *Engine) Deliver(from meshnet.NodeID, payload *envelope.Envelope) {
	if payload.Kind != envelope.KindData || payload.Data == nil {
		e.log.Warn("delivery: non-data envelope reached on_data")
		return
	}
	switch payload.Data.State {
	case envelope.DataChunk:
		e.handleChunk(from, payload)
	case envelope.Acknowledgment:
		e.handleAck(payload)
	case envelope.RetransmitRequest:
		e.handleRetransmit(from, payload)
	case envelope.Complete:
		e.handleComplete(from, payload)
	default:
		e.log.Warn("delivery: unknown data state")
	}
}

func (e *Engine) handleChunk(from meshnet.NodeID, env *envelope.Envelope) {
	body := env.Data
	if sha256.Sum256(body.Payload) != body.Checksum {
		metrics.ChunksReceived.WithLabelValues("checksum_mismatch").Inc()
		e.sendControl(from, body.GroupID, body.Total, body.Index, envelope.RetransmitRequest)
		return
	}

	key := reassemblyKey(from, body.GroupID)
	e.mu.Lock()
	buf, ok := e.incoming[key]
	if !ok {
		buf = newReassemblyBuffer(from, body.GroupID, body.Total)
		e.incoming[key] = buf
	}
	e.mu.Unlock()

	complete, assembled := buf.insert(body.Index, body.Payload)
	metrics.ChunksReceived.WithLabelValues("accepted").Inc()
	e.sendControl(from, body.GroupID, body.Total, body.Index, envelope.Acknowledgment)

	if !complete {
		return
	}
	// Leave a delivered, chunk-free buffer under key until the timeout
	// sweep discards it, so a late duplicate chunk cannot redeliver.
	e.mu.Lock()
	e.incoming[key] = &reassemblyBuffer{sender: from, groupID: body.GroupID, total: body.Total, delivered: true, createdAt: time.Now()}
	e.mu.Unlock()

	if e.app != nil {
		e.app.Deliver(from, assembled)
	}
	metrics.GroupsCompleted.WithLabelValues("receiver", "success").Inc()
	e.sendControl(from, body.GroupID, body.Total, 0, envelope.Complete)
}

func (e *Engine) handleAck(env *envelope.Envelope) {
	body := env.Data
	e.mu.Lock()
	tracker, ok := e.outgoing[body.GroupID]
	e.mu.Unlock()
	if !ok {
		return
	}
	if !tracker.ack(body.Index) {
		return
	}
	e.mu.Lock()
	delete(e.outgoing, body.GroupID)
	e.mu.Unlock()
	metrics.GroupsCompleted.WithLabelValues("sender", "success").Inc()
}

func (e *Engine) handleRetransmit(from meshnet.NodeID, env *envelope.Envelope) {
	body := env.Data
	e.mu.Lock()
	tracker, ok := e.outgoing[body.GroupID]
	e.mu.Unlock()
	if !ok {
		return
	}

	if tracker.bumpRetry() > maxRetries {
		e.mu.Lock()
		delete(e.outgoing, body.GroupID)
		e.mu.Unlock()
		metrics.GroupsCompleted.WithLabelValues("sender", "failure").Inc()
		e.log.Warn("delivery: group abandoned after retry limit", logger.String("group_id", body.GroupID))
		return
	}

	chunk, ok := tracker.chunkAt(body.Index)
	if !ok {
		return
	}
	if err := e.sendChunk(from, body.GroupID, body.Total, body.Index, chunk, true); err != nil {
		e.log.Warn("delivery: retransmit failed", logger.Error(err))
	}
}

func (e *Engine) handleComplete(from meshnet.NodeID, env *envelope.Envelope) {
	body := env.Data
	e.mu.Lock()
	delete(e.outgoing, body.GroupID)
	delete(e.incoming, reassemblyKey(from, body.GroupID))
	e.mu.Unlock()
}

func (e *Engine) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.sweepOutgoing()
			e.sweepIncoming()
		}
	}
}

func (e *Engine) sweepOutgoing() {
	e.mu.Lock()
	groupIDs := make([]string, 0, len(e.outgoing))
	trackers := make([]*outgoingTracker, 0, len(e.outgoing))
	for id, t := range e.outgoing {
		groupIDs = append(groupIDs, id)
		trackers = append(trackers, t)
	}
	e.mu.Unlock()

	for i, tracker := range trackers {
		age, retryCount, pending := tracker.snapshot()
		if age <= sweepInterval {
			continue
		}
		if retryCount > maxRetries {
			e.mu.Lock()
			delete(e.outgoing, groupIDs[i])
			e.mu.Unlock()
			metrics.GroupsCompleted.WithLabelValues("sender", "failure").Inc()
			e.log.Warn("delivery: group abandoned on timeout sweep", logger.String("group_id", groupIDs[i]))
			continue
		}
		tracker.bumpRetry()
		for index, chunk := range pending {
			if err := e.sendChunk(tracker.target, groupIDs[i], len(tracker.chunks), index, chunk, true); err != nil {
				e.log.Warn("delivery: sweep retransmit failed", logger.Error(err))
			}
		}
	}
}

func (e *Engine) sweepIncoming() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for key, buf := range e.incoming {
		if buf.expired(sweepInterval) {
			delete(e.incoming, key)
			buf.mu.Lock()
			delivered := buf.delivered
			buf.mu.Unlock()
			if !delivered {
				metrics.GroupsCompleted.WithLabelValues("receiver", "failure").Inc()
			}
		}
	}
}

func (e *Engine) sendChunk(target meshnet.NodeID, groupID string, total, index int, chunk []byte, retransmit bool) error {
	env := envelope.NewData(e.localID, envelope.DataBody{
		GroupID:  groupID,
		Total:    total,
		Index:    index,
		Payload:  chunk,
		Checksum: sha256.Sum256(chunk),
		State:    envelope.DataChunk,
	})
	status := "first_attempt"
	if retransmit {
		status = "retransmit"
	}
	metrics.ChunksSent.WithLabelValues(status).Inc()
	return e.router.Route(target, env)
}

func (e *Engine) sendControl(target meshnet.NodeID, groupID string, total, index int, state envelope.DataState) {
	env := envelope.NewData(e.localID, envelope.DataBody{
		GroupID: groupID,
		Total:   total,
		Index:   index,
		State:   state,
	})
	if err := e.router.Route(target, env); err != nil {
		e.log.Warn("delivery: send control failed", logger.Error(err))
	}
}

func reassemblyKey(sender meshnet.NodeID, groupID string) string {
	return string(sender) + "|" + groupID
}
