package delivery

import (
	"crypto/sha256"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/meshnet/pkg/envelope"
	"github.com/sage-x-project/meshnet/pkg/meshnet"
)

type fakeRouter struct {
	mu   sync.Mutex
	fail bool
	sent []*envelope.Envelope
}

func (r *fakeRouter) Route(targetID meshnet.NodeID, payload *envelope.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return assert.AnError
	}
	r.sent = append(r.sent, payload)
	return nil
}

func (r *fakeRouter) byState(state envelope.DataState) []*envelope.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*envelope.Envelope
	for _, e := range r.sent {
		if e.Data != nil && e.Data.State == state {
			out = append(out, e)
		}
	}
	return out
}

type fakeApplication struct {
	mu        sync.Mutex
	delivered [][]byte
}

func (a *fakeApplication) Deliver(from meshnet.NodeID, payload []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.delivered = append(a.delivered, payload)
}

func (a *fakeApplication) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.delivered)
}

func newTestEngine(router *fakeRouter, app *fakeApplication) *Engine {
	e := NewEngine("local", router, app)
	e.Stop()
	return e
}

func chunkEnvelope(sender meshnet.NodeID, groupID string, total, index int, payload []byte) *envelope.Envelope {
	return envelope.NewData(sender, envelope.DataBody{
		GroupID:  groupID,
		Total:    total,
		Index:    index,
		Payload:  payload,
		Checksum: sha256.Sum256(payload),
		State:    envelope.DataChunk,
	})
}

func TestSendSmallPayloadSendsOneChunk(t *testing.T) {
	router := &fakeRouter{}
	e := newTestEngine(router, &fakeApplication{})

	groupID, err := e.Send("peer", []byte("hello"))
	require.NoError(t, err)
	chunks := router.byState(envelope.DataChunk)
	require.Len(t, chunks, 1)
	assert.Equal(t, groupID, chunks[0].Data.GroupID)
	assert.Equal(t, 1, chunks[0].Data.Total)
}

func TestSendEmptyPayloadSendsOneEmptyChunk(t *testing.T) {
	router := &fakeRouter{}
	e := newTestEngine(router, &fakeApplication{})

	_, err := e.Send("peer", nil)
	require.NoError(t, err)
	assert.Len(t, router.byState(envelope.DataChunk), 1)
}

func TestSendLargePayloadSplitsIntoMultipleChunks(t *testing.T) {
	router := &fakeRouter{}
	e := newTestEngine(router, &fakeApplication{})

	payload := make([]byte, ChunkSize*2+10)
	_, err := e.Send("peer", payload)
	require.NoError(t, err)
	assert.Len(t, router.byState(envelope.DataChunk), 3)
}

func TestDeliverReassemblesAndAcksEachChunk(t *testing.T) {
	router := &fakeRouter{}
	app := &fakeApplication{}
	e := newTestEngine(router, app)

	groupID := "group-1"
	part1 := []byte("hello ")
	part2 := []byte("world")
	e.Deliver("peer", chunkEnvelope("peer", groupID, 2, 0, part1))
	e.Deliver("peer", chunkEnvelope("peer", groupID, 2, 1, part2))

	require.Equal(t, 1, app.count())
	assert.Equal(t, []byte("hello world"), app.delivered[0])
	assert.Len(t, router.byState(envelope.Acknowledgment), 2)
	assert.Len(t, router.byState(envelope.Complete), 1)
}

func TestDeliverChecksumMismatchRequestsRetransmit(t *testing.T) {
	router := &fakeRouter{}
	e := newTestEngine(router, &fakeApplication{})

	env := chunkEnvelope("peer", "group-1", 1, 0, []byte("hello"))
	env.Data.Payload = []byte("corrupted")
	e.Deliver("peer", env)

	assert.Len(t, router.byState(envelope.RetransmitRequest), 1)
	assert.Empty(t, router.byState(envelope.Acknowledgment))
}

func TestDeliverDoesNotRedeliverAfterCompletion(t *testing.T) {
	router := &fakeRouter{}
	app := &fakeApplication{}
	e := newTestEngine(router, app)

	groupID := "group-1"
	e.Deliver("peer", chunkEnvelope("peer", groupID, 1, 0, []byte("hi")))
	require.Equal(t, 1, app.count())

	e.Deliver("peer", chunkEnvelope("peer", groupID, 1, 0, []byte("hi")))
	assert.Equal(t, 1, app.count())
}

func TestDeliverAcknowledgmentRemovesTrackerWhenAllAcked(t *testing.T) {
	router := &fakeRouter{}
	e := newTestEngine(router, &fakeApplication{})

	groupID, err := e.Send("peer", make([]byte, ChunkSize+1))
	require.NoError(t, err)
	require.Len(t, e.outgoing, 1)

	e.Deliver("peer", envelope.NewData("peer", envelope.DataBody{GroupID: groupID, Index: 0, State: envelope.Acknowledgment}))
	assert.Len(t, e.outgoing, 1)

	e.Deliver("peer", envelope.NewData("peer", envelope.DataBody{GroupID: groupID, Index: 1, State: envelope.Acknowledgment}))
	assert.Len(t, e.outgoing, 0)
}

func TestDeliverAcknowledgmentIsIdempotent(t *testing.T) {
	router := &fakeRouter{}
	e := newTestEngine(router, &fakeApplication{})

	groupID, err := e.Send("peer", []byte("hello"))
	require.NoError(t, err)

	ackEnv := envelope.NewData("peer", envelope.DataBody{GroupID: groupID, Index: 0, State: envelope.Acknowledgment})
	e.Deliver("peer", ackEnv)
	require.Len(t, e.outgoing, 0)

	e.Deliver("peer", ackEnv)
	assert.Len(t, e.outgoing, 0)
}

func TestDeliverRetransmitRequestResendsChunk(t *testing.T) {
	router := &fakeRouter{}
	e := newTestEngine(router, &fakeApplication{})

	groupID, err := e.Send("peer", []byte("hello"))
	require.NoError(t, err)
	require.Len(t, router.byState(envelope.DataChunk), 1)

	e.Deliver("peer", envelope.NewData("peer", envelope.DataBody{GroupID: groupID, Total: 1, Index: 0, State: envelope.RetransmitRequest}))
	assert.Len(t, router.byState(envelope.DataChunk), 2)
}

func TestDeliverRetransmitRequestAbandonsAfterRetryLimit(t *testing.T) {
	router := &fakeRouter{}
	e := newTestEngine(router, &fakeApplication{})

	groupID, err := e.Send("peer", []byte("hello"))
	require.NoError(t, err)

	for i := 0; i < maxRetries; i++ {
		e.Deliver("peer", envelope.NewData("peer", envelope.DataBody{GroupID: groupID, Total: 1, Index: 0, State: envelope.RetransmitRequest}))
	}
	require.Len(t, e.outgoing, 1)

	e.Deliver("peer", envelope.NewData("peer", envelope.DataBody{GroupID: groupID, Total: 1, Index: 0, State: envelope.RetransmitRequest}))
	assert.Len(t, e.outgoing, 0)
}

func TestDeliverCompleteClearsResidualState(t *testing.T) {
	router := &fakeRouter{}
	e := newTestEngine(router, &fakeApplication{})

	groupID, err := e.Send("peer", []byte("hello"))
	require.NoError(t, err)
	require.Len(t, e.outgoing, 1)

	e.Deliver("peer", envelope.NewData("peer", envelope.DataBody{GroupID: groupID, State: envelope.Complete}))
	assert.Len(t, e.outgoing, 0)
}
