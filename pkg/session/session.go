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

// Package session holds the per-connection state machine: which
// handshake phase a link is in, its transport, its pending challenges,
// and its last-activity timestamp. A Session carries no cryptographic
// material of its own — confidentiality is out of scope — it only
// tracks authentication progress and liveness.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/sage-x-project/meshnet/pkg/meshnet"
	"github.com/sage-x-project/meshnet/pkg/transport"
)

// State is a position in the handshake lifecycle. Closed is terminal:
// no transition out of Closed is permitted.
type State int

const (
	Unauthenticated State = iota
	AwaitingResponse
	AwaitingConfirm
	Authenticated
	Closed
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "Unauthenticated"
	case AwaitingResponse:
		return "AwaitingResponse"
	case AwaitingConfirm:
		return "AwaitingConfirm"
	case Authenticated:
		return "Authenticated"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Session is a transport-backed link to a peer, plus its handshake
// state. Sessions are exclusively owned by the Connection Registry;
// every other subsystem looks sessions up by peer-id rather than
// holding a direct reference.
type Session struct {
	mu sync.RWMutex

	transport transport.Transport
	state     State

	remotePeerID  meshnet.NodeID
	hasRemote     bool
	peerPublicKey []byte

	lastActivity time.Time

	// challenges maps message-id to the challenge bytes issued under
	// that message-id, consumed (deleted) at most once on successful
	// confirmation.
	challenges map[string][]byte
}

// New creates a session in the Unauthenticated state over t.
func New(t transport.Transport) *Session {
	return &Session{
		transport:    t,
		state:        Unauthenticated,
		lastActivity: time.Now(),
		challenges:   make(map[string][]byte),
	}
}

// Transport returns the session's underlying byte transport.
func (s *Session) Transport() transport.Transport {
	return s.transport
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SetState transitions the session to next. Returns an error if the
// session is already Closed, since Closed is terminal.
func (s *Session) SetState(next State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Closed {
		return fmt.Errorf("session: cannot transition out of Closed")
	}
	s.state = next
	return nil
}

// RemotePeerID returns the authenticated peer id, if set.
func (s *Session) RemotePeerID() (meshnet.NodeID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.remotePeerID, s.hasRemote
}

// SetRemotePeerID binds the session to a remote peer id once the
// handshake has identified it.
func (s *Session) SetRemotePeerID(id meshnet.NodeID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remotePeerID = id
	s.hasRemote = true
}

// PeerPublicKey returns the peer's public key bytes bound during the
// handshake, if any.
func (s *Session) PeerPublicKey() ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.peerPublicKey, s.peerPublicKey != nil
}

// SetPeerPublicKey binds the peer's public key bytes, captured when the
// handshake first verifies a signature from them.
func (s *Session) SetPeerPublicKey(pub []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peerPublicKey = pub
}

// Touch advances last-activity to now. last-activity only ever
// advances monotonically.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if now.After(s.lastActivity) {
		s.lastActivity = now
	}
}

// LastActivity returns the last time this session observed traffic.
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// StoreChallenge records the challenge bytes issued under messageID.
func (s *Session) StoreChallenge(messageID string, challenge []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenges[messageID] = challenge
}

// TakeChallenge looks up and erases the challenge stored under
// messageID, so each entry is consumed at most once. ok is false if no
// entry exists (e.g. a replayed or unknown message-id).
func (s *Session) TakeChallenge(messageID string) (challenge []byte, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	challenge, ok = s.challenges[messageID]
	if ok {
		delete(s.challenges, messageID)
	}
	return challenge, ok
}

// Close transitions the session to Closed and releases its transport.
// Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	s.state = Closed
	s.mu.Unlock()
	return s.transport.Close()
}
