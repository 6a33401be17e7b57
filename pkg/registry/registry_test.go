package registry

import (
	"sync"
	"testing"
	"time"

	"github.com/sage-x-project/meshnet/pkg/envelope"
	"github.com/sage-x-project/meshnet/pkg/handshake"
	"github.com/sage-x-project/meshnet/pkg/meshnet"
	"github.com/sage-x-project/meshnet/pkg/signature"
	"github.com/sage-x-project/meshnet/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingEvents struct {
	mu        sync.Mutex
	connected []meshnet.PeerRecord
	gone      []meshnet.NodeID
	seen      []meshnet.NodeID
}

func (r *recordingEvents) PeerConnected(p meshnet.PeerRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected = append(r.connected, p)
}

func (r *recordingEvents) PeerDisconnected(id meshnet.NodeID, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gone = append(r.gone, id)
}

func (r *recordingEvents) PeerSeen(id meshnet.NodeID, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, id)
}

func (r *recordingEvents) snapshot() ([]meshnet.PeerRecord, []meshnet.NodeID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]meshnet.PeerRecord{}, r.connected...), append([]meshnet.NodeID{}, r.gone...)
}

func (r *recordingEvents) seenCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}

type capturingDispatcher struct {
	mu   sync.Mutex
	envs []*envelope.Envelope
}

func (c *capturingDispatcher) Dispatch(_ meshnet.NodeID, env *envelope.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.envs = append(c.envs, env)
}

func newTestEngineFor(t *testing.T, id meshnet.NodeID) *handshake.Engine {
	t.Helper()
	svc, err := signature.NewService()
	require.NoError(t, err)
	kp, err := svc.Keypair()
	require.NoError(t, err)
	return handshake.NewEngine(id, svc, kp)
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

func TestConnectAcceptAuthenticatesAndNotifies(t *testing.T) {
	serverID := meshnet.NewNodeID()
	clientID := meshnet.NewNodeID()

	serverEvents := &recordingEvents{}
	clientEvents := &recordingEvents{}

	serverReg := New(newTestEngineFor(t, serverID), serverEvents, nil)
	clientReg := New(newTestEngineFor(t, clientID), clientEvents, nil)

	ln, err := transport.Listen("127.0.0.1", 0)
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		tr, err := ln.Accept()
		if err == nil {
			serverReg.Accept(tr)
		}
	}()

	err = clientReg.Connect(t.Context(), "127.0.0.1", ln.Port())
	require.NoError(t, err)

	waitFor(t, 2*time.Second, func() bool { return clientReg.ActivePeerCount() == 1 })
	waitFor(t, 2*time.Second, func() bool { return serverReg.ActivePeerCount() == 1 })

	assert.True(t, clientReg.IsAuthenticated(serverID))
	assert.True(t, serverReg.IsAuthenticated(clientID))

	clientConnected, _ := clientEvents.snapshot()
	serverConnected, _ := serverEvents.snapshot()
	require.Len(t, clientConnected, 1)
	require.Len(t, serverConnected, 1)
	assert.Equal(t, serverID, clientConnected[0].ID)
	assert.Equal(t, clientID, serverConnected[0].ID)

	peers := clientReg.AllPeers()
	require.Len(t, peers, 1)
	assert.Equal(t, serverID, peers[0].ID)
}

func TestSendToFailsWithoutRoute(t *testing.T) {
	reg := New(newTestEngineFor(t, meshnet.NewNodeID()), nil, nil)
	err := reg.SendTo(meshnet.NewNodeID(), envelope.NewPeerListRequest(meshnet.NewNodeID()))
	assert.Error(t, err)
}

func TestDataEnvelopeDispatchedOnlyAfterAuthentication(t *testing.T) {
	serverID := meshnet.NewNodeID()
	clientID := meshnet.NewNodeID()

	dispatcher := &capturingDispatcher{}
	serverEvents := &recordingEvents{}
	serverReg := New(newTestEngineFor(t, serverID), serverEvents, dispatcher)
	clientReg := New(newTestEngineFor(t, clientID), nil, nil)

	ln, err := transport.Listen("127.0.0.1", 0)
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		tr, err := ln.Accept()
		if err == nil {
			serverReg.Accept(tr)
		}
	}()

	require.NoError(t, clientReg.Connect(t.Context(), "127.0.0.1", ln.Port()))
	waitFor(t, 2*time.Second, func() bool { return clientReg.ActivePeerCount() == 1 })

	dataEnv := envelope.NewData(clientID, envelope.DataBody{GroupID: "g1", Total: 1, Index: 0, Payload: []byte("hi")})
	require.NoError(t, clientReg.SendTo(serverID, dataEnv))

	waitFor(t, 2*time.Second, func() bool {
		dispatcher.mu.Lock()
		defer dispatcher.mu.Unlock()
		return len(dispatcher.envs) == 1
	})
	assert.Equal(t, 1, serverEvents.seenCount())
}

func TestCloseTearsDownSessionsAndNotifiesDisconnect(t *testing.T) {
	serverID := meshnet.NewNodeID()
	clientID := meshnet.NewNodeID()

	clientEvents := &recordingEvents{}
	serverReg := New(newTestEngineFor(t, serverID), nil, nil)
	clientReg := New(newTestEngineFor(t, clientID), clientEvents, nil)

	ln, err := transport.Listen("127.0.0.1", 0)
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		tr, err := ln.Accept()
		if err == nil {
			serverReg.Accept(tr)
		}
	}()

	require.NoError(t, clientReg.Connect(t.Context(), "127.0.0.1", ln.Port()))
	waitFor(t, 2*time.Second, func() bool { return clientReg.ActivePeerCount() == 1 })

	require.NoError(t, serverReg.Close())

	waitFor(t, 2*time.Second, func() bool { return clientReg.ActivePeerCount() == 0 })
	_, gone := clientEvents.snapshot()
	assert.Len(t, gone, 1)
	assert.Equal(t, serverID, gone[0])
}
