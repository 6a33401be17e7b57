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

// Package handshake implements the three-message authenticated handshake
// (Init, Response, Confirm) that promotes a Session from Unauthenticated
// to Authenticated. Every operation is pure with respect to its Session
// argument: it reads and mutates only that session's challenge store and
// state, and never touches the transport directly.
package handshake

import (
	"crypto/rand"
	"time"

	"github.com/sage-x-project/meshnet/internal/logger"
	"github.com/sage-x-project/meshnet/internal/metrics"
	"github.com/sage-x-project/meshnet/pkg/envelope"
	"github.com/sage-x-project/meshnet/pkg/meshnet"
	"github.com/sage-x-project/meshnet/pkg/meshnet/errs"
	"github.com/sage-x-project/meshnet/pkg/session"
	"github.com/sage-x-project/meshnet/pkg/signature"
)

const challengeSize = 32

// Engine runs the handshake protocol on behalf of one local node identity.
type Engine struct {
	nodeID meshnet.NodeID
	sig    *signature.Service
	keys   signature.KeyPair
	log    logger.Logger
}

// NewEngine builds an Engine that signs with keys and identifies itself
// as nodeID.
func NewEngine(nodeID meshnet.NodeID, sig *signature.Service, keys signature.KeyPair) *Engine {
	return &Engine{nodeID: nodeID, sig: sig, keys: keys, log: logger.GetDefaultLogger()}
}

func randomChallenge() ([]byte, error) {
	b := make([]byte, challengeSize)
	if _, err := rand.Read(b); err != nil {
		return nil, errs.Wrap(errs.ErrAuthentication, "generate challenge", err)
	}
	return b, nil
}

// CreateInitial starts a handshake over sess: it mints a challenge, signs
// the local node id, stores the challenge under the Init envelope's
// message-id, and transitions sess to AwaitingResponse.
func (e *Engine) CreateInitial(sess *session.Session) (*envelope.Envelope, error) {
	start := time.Now()
	metrics.HandshakesInitiated.WithLabelValues("initiator").Inc()
	defer func() {
		metrics.HandshakeDuration.WithLabelValues("init").Observe(time.Since(start).Seconds())
	}()

	challenge, err := randomChallenge()
	if err != nil {
		metrics.HandshakesFailed.WithLabelValues("signature").Inc()
		return nil, err
	}
	pub, err := e.sig.PublicKeyBytes(e.keys.PublicKey())
	if err != nil {
		metrics.HandshakesFailed.WithLabelValues("signature").Inc()
		return nil, errs.Wrap(errs.ErrAuthentication, "marshal public key", err)
	}
	sig, err := e.sig.Sign(e.keys, []byte(e.nodeID))
	if err != nil {
		metrics.HandshakesFailed.WithLabelValues("signature").Inc()
		return nil, errs.Wrap(errs.ErrAuthentication, "sign init", err)
	}

	env := envelope.NewHandshakeInit(e.nodeID, pub, sig, challenge)
	sess.StoreChallenge(env.MessageID, challenge)
	if err := sess.SetState(session.AwaitingResponse); err != nil {
		return nil, err
	}
	e.log.Debug("handshake init created", logger.String("message_id", env.MessageID))
	return env, nil
}

// HandleInit responds to a peer's HandshakeInit: it verifies the peer's
// signature over its own node id, mints a fresh local challenge, and
// emits a HandshakeResponse echoing the peer's challenge. sess moves to
// AwaitingConfirm and remembers the peer's public key for VerifyConfirm.
func (e *Engine) HandleInit(sess *session.Session, msg *envelope.Envelope) (*envelope.Envelope, error) {
	start := time.Now()
	metrics.HandshakesInitiated.WithLabelValues("responder").Inc()
	defer func() {
		metrics.HandshakeDuration.WithLabelValues("response").Observe(time.Since(start).Seconds())
	}()

	if msg.Kind != envelope.KindHandshakeInit || msg.Handshake == nil {
		metrics.HandshakesFailed.WithLabelValues("transport").Inc()
		return nil, errs.Wrap(errs.ErrProtocol, "expected HandshakeInit", nil)
	}
	peerPub, err := e.sig.PublicKeyFromBytes(msg.Handshake.PublicKey)
	if err != nil {
		metrics.HandshakesFailed.WithLabelValues("signature").Inc()
		return nil, errs.Wrap(errs.ErrAuthentication, "parse peer public key", err)
	}
	ok, err := e.sig.Verify(peerPub, []byte(msg.SenderID), msg.Handshake.Signature)
	if err != nil || !ok {
		metrics.HandshakesFailed.WithLabelValues("signature").Inc()
		return nil, errs.Wrap(errs.ErrAuthentication, "verify init signature", err)
	}

	challenge, err := randomChallenge()
	if err != nil {
		metrics.HandshakesFailed.WithLabelValues("signature").Inc()
		return nil, err
	}
	pub, err := e.sig.PublicKeyBytes(e.keys.PublicKey())
	if err != nil {
		metrics.HandshakesFailed.WithLabelValues("signature").Inc()
		return nil, errs.Wrap(errs.ErrAuthentication, "marshal public key", err)
	}
	signed := append(append([]byte{}, e.nodeID...), msg.Handshake.Challenge...)
	sig, err := e.sig.Sign(e.keys, signed)
	if err != nil {
		metrics.HandshakesFailed.WithLabelValues("signature").Inc()
		return nil, errs.Wrap(errs.ErrAuthentication, "sign response", err)
	}

	resp := envelope.NewHandshakeResponse(msg.MessageID, e.nodeID, pub, sig, challenge, msg.Handshake.Challenge)
	sess.StoreChallenge(msg.MessageID, challenge)
	sess.SetRemotePeerID(msg.SenderID)
	sess.SetPeerPublicKey(msg.Handshake.PublicKey)
	if err := sess.SetState(session.AwaitingConfirm); err != nil {
		return nil, err
	}
	e.log.Debug("handshake init handled", logger.String("message_id", msg.MessageID))
	return resp, nil
}

// HandleResponse completes the initiator's half of the handshake: it
// looks up the challenge create_initial stored under msg.MessageID,
// verifies the responder's signature over (responder-id || that
// challenge), signs the responder's new challenge, and emits a
// HandshakeConfirm. sess moves to Authenticated.
func (e *Engine) HandleResponse(sess *session.Session, msg *envelope.Envelope) (*envelope.Envelope, error) {
	start := time.Now()
	defer func() {
		metrics.HandshakeDuration.WithLabelValues("confirm").Observe(time.Since(start).Seconds())
	}()

	if msg.Kind != envelope.KindHandshakeResponse || msg.Handshake == nil {
		metrics.HandshakesFailed.WithLabelValues("transport").Inc()
		return nil, errs.Wrap(errs.ErrProtocol, "expected HandshakeResponse", nil)
	}
	ourChallenge, ok := sess.TakeChallenge(msg.MessageID)
	if !ok {
		metrics.HandshakesFailed.WithLabelValues("challenge_mismatch").Inc()
		return nil, errs.Wrap(errs.ErrAuthentication, "no pending challenge for response", nil)
	}

	peerPub, err := e.sig.PublicKeyFromBytes(msg.Handshake.PublicKey)
	if err != nil {
		metrics.HandshakesFailed.WithLabelValues("signature").Inc()
		return nil, errs.Wrap(errs.ErrAuthentication, "parse peer public key", err)
	}
	signed := append(append([]byte{}, msg.SenderID...), ourChallenge...)
	ok, err = e.sig.Verify(peerPub, signed, msg.Handshake.Signature)
	if err != nil || !ok {
		metrics.HandshakesFailed.WithLabelValues("signature").Inc()
		return nil, errs.Wrap(errs.ErrAuthentication, "verify response signature", err)
	}

	sig, err := e.sig.Sign(e.keys, msg.Handshake.Challenge)
	if err != nil {
		metrics.HandshakesFailed.WithLabelValues("signature").Inc()
		return nil, errs.Wrap(errs.ErrAuthentication, "sign confirm", err)
	}

	confirm := envelope.NewHandshakeConfirm(msg.MessageID, e.nodeID, sig, msg.Handshake.Challenge)
	sess.SetRemotePeerID(msg.SenderID)
	sess.SetPeerPublicKey(msg.Handshake.PublicKey)
	if err := sess.SetState(session.Authenticated); err != nil {
		return nil, err
	}
	metrics.HandshakesCompleted.WithLabelValues("success").Inc()
	metrics.SessionsActive.Inc()
	e.log.Info("handshake authenticated", logger.String("peer", string(msg.SenderID)))
	return confirm, nil
}

// VerifyConfirm completes the responder's half: it looks up the
// challenge HandleInit stored under msg.MessageID, verifies the
// initiator's signature over it, and transitions sess to Authenticated.
func (e *Engine) VerifyConfirm(sess *session.Session, msg *envelope.Envelope) error {
	if msg.Kind != envelope.KindHandshakeConfirm || msg.Handshake == nil {
		metrics.HandshakesFailed.WithLabelValues("transport").Inc()
		return errs.Wrap(errs.ErrProtocol, "expected HandshakeConfirm", nil)
	}
	challenge, ok := sess.TakeChallenge(msg.MessageID)
	if !ok {
		metrics.HandshakesFailed.WithLabelValues("challenge_mismatch").Inc()
		return errs.Wrap(errs.ErrAuthentication, "no pending challenge for confirm", nil)
	}
	peerID, hasPeer := sess.RemotePeerID()
	if !hasPeer || peerID != msg.SenderID {
		metrics.HandshakesFailed.WithLabelValues("challenge_mismatch").Inc()
		return errs.Wrap(errs.ErrAuthentication, "confirm sender does not match handshake peer", nil)
	}
	if !bytesEqual(msg.Handshake.ChallengeEcho, challenge) {
		metrics.HandshakesFailed.WithLabelValues("challenge_mismatch").Inc()
		return errs.Wrap(errs.ErrAuthentication, "confirm echoes wrong challenge", nil)
	}

	peerPubBytes, hasPub := sess.PeerPublicKey()
	if !hasPub {
		metrics.HandshakesFailed.WithLabelValues("challenge_mismatch").Inc()
		return errs.Wrap(errs.ErrAuthentication, "no peer public key bound to session", nil)
	}
	peerPub, err := e.sig.PublicKeyFromBytes(peerPubBytes)
	if err != nil {
		metrics.HandshakesFailed.WithLabelValues("signature").Inc()
		return errs.Wrap(errs.ErrAuthentication, "parse bound peer public key", err)
	}
	ok, err = e.sig.Verify(peerPub, challenge, msg.Handshake.Signature)
	if err != nil || !ok {
		metrics.HandshakesFailed.WithLabelValues("signature").Inc()
		return errs.Wrap(errs.ErrAuthentication, "verify confirm signature", err)
	}

	if err := sess.SetState(session.Authenticated); err != nil {
		return err
	}
	metrics.HandshakesCompleted.WithLabelValues("success").Inc()
	metrics.SessionsActive.Inc()
	e.log.Info("handshake authenticated", logger.String("peer", string(msg.SenderID)))
	return nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
