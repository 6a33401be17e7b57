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

// Package envelope defines the wire message format exchanged between
// mesh nodes: a common header (message-id, sender-id, kind, timestamp)
// plus exactly one kind-specific body. The Kind tag drives a
// switch-over-tag dispatch in every consumer; there is no virtual
// dispatch or inheritance involved.
package envelope

import (
	"time"

	"github.com/google/uuid"
	"github.com/sage-x-project/meshnet/pkg/meshnet"
)

// Kind identifies which body field of an Envelope is populated.
type Kind int

const (
	KindHandshakeInit Kind = iota
	KindHandshakeResponse
	KindHandshakeConfirm
	KindData
	KindRouting
	KindDiscoveryRequest
	KindDiscoveryResponse
	KindPeerListRequest
	KindPeerListResponse
)

func (k Kind) String() string {
	switch k {
	case KindHandshakeInit:
		return "HandshakeInit"
	case KindHandshakeResponse:
		return "HandshakeResponse"
	case KindHandshakeConfirm:
		return "HandshakeConfirm"
	case KindData:
		return "Data"
	case KindRouting:
		return "Routing"
	case KindDiscoveryRequest:
		return "DiscoveryRequest"
	case KindDiscoveryResponse:
		return "DiscoveryResponse"
	case KindPeerListRequest:
		return "PeerListRequest"
	case KindPeerListResponse:
		return "PeerListResponse"
	default:
		return "Unknown"
	}
}

// Envelope is the common message shape. MessageID is generated once at
// construction and never rewritten on forwarding; a forwarding node
// mutates Routing.Route, never Envelope.MessageID.
type Envelope struct {
	MessageID string
	SenderID  meshnet.NodeID
	Kind      Kind
	CreatedAt time.Time

	Handshake *HandshakeBody
	Data      *DataBody
	Routing   *RoutingBody
	Discovery *DiscoveryBody
}

// HandshakeBody carries the per-message fields of the three handshake
// messages (Init, Response, Confirm). Which fields are populated depends
// on Kind: Init sets PublicKey/Signature/Challenge; Response additionally
// echoes the peer's challenge in ChallengeEcho; Confirm sets only
// Signature and ChallengeEcho.
type HandshakeBody struct {
	PublicKey     []byte
	Signature     []byte
	Challenge     []byte // a freshly generated 32-byte challenge, or nil
	ChallengeEcho []byte // echo of the peer's previously issued challenge, or nil
}

// DataState distinguishes the four Data-kind sub-messages of the
// reliable delivery layer.
type DataState int

const (
	DataChunk DataState = iota
	Acknowledgment
	RetransmitRequest
	Complete
)

// DataBody carries one fragment of a reliable-delivery payload group, or
// a control message (Acknowledgment/RetransmitRequest/Complete) about one.
type DataBody struct {
	GroupID  string
	Total    int
	Index    int
	Payload  []byte
	Checksum [32]byte
	State    DataState
}

// Strategy is the forwarding policy applied to a RoutingBody.
type Strategy int

const (
	Direct Strategy = iota
	Flood
	Multipath
	DiscoverRoute
)

func (s Strategy) String() string {
	switch s {
	case Direct:
		return "Direct"
	case Flood:
		return "Flood"
	case Multipath:
		return "Multipath"
	case DiscoverRoute:
		return "DiscoverRoute"
	default:
		return "Unknown"
	}
}

// RoutingBody wraps a payload Envelope (typically Data-kind) for
// multi-hop delivery. Route always begins with the original sender; each
// forwarding node appends its own id exactly once before forwarding. No
// node-id may appear twice in Route (loop freedom).
type RoutingBody struct {
	TargetID meshnet.NodeID
	Route    []meshnet.NodeID
	Payload  *Envelope
	Strategy Strategy
}

// HopCount is len(Route)-1 per the specification's definition.
func (r *RoutingBody) HopCount() int {
	return len(r.Route) - 1
}

// Contains reports whether id already appears in Route (used to enforce
// loop freedom before appending).
func (r *RoutingBody) Contains(id meshnet.NodeID) bool {
	for _, hop := range r.Route {
		if hop == id {
			return true
		}
	}
	return false
}

// DiscoveryBody carries the four discovery sub-kinds (Request, Response,
// PeerListRequest, PeerListResponse), distinguished by the envelope's
// Kind field rather than a nested tag.
type DiscoveryBody struct {
	Host  string
	Port  int
	Peers []meshnet.PeerRecord // populated for PeerListResponse only
}

func newHeader(kind Kind, sender meshnet.NodeID) Envelope {
	return Envelope{
		MessageID: uuid.NewString(),
		SenderID:  sender,
		Kind:      kind,
		CreatedAt: time.Now(),
	}
}

func newHeaderWithID(id string, kind Kind, sender meshnet.NodeID) Envelope {
	return Envelope{
		MessageID: id,
		SenderID:  sender,
		Kind:      kind,
		CreatedAt: time.Now(),
	}
}

// NewHandshakeInit builds a HandshakeInit envelope. Its MessageID is the
// correlation id for the whole three-message exchange: handle_init,
// handle_response, and verify_confirm all key their stored challenge by
// this same id, echoed unchanged through Response and Confirm.
func NewHandshakeInit(sender meshnet.NodeID, pub, sig, challenge []byte) *Envelope {
	e := newHeader(KindHandshakeInit, sender)
	e.Handshake = &HandshakeBody{PublicKey: pub, Signature: sig, Challenge: challenge}
	return &e
}

// NewHandshakeResponse builds a HandshakeResponse envelope correlated to
// convID (the Init envelope's MessageID).
func NewHandshakeResponse(convID string, sender meshnet.NodeID, pub, sig, challenge, echo []byte) *Envelope {
	e := newHeaderWithID(convID, KindHandshakeResponse, sender)
	e.Handshake = &HandshakeBody{PublicKey: pub, Signature: sig, Challenge: challenge, ChallengeEcho: echo}
	return &e
}

// NewHandshakeConfirm builds a HandshakeConfirm envelope correlated to
// convID.
func NewHandshakeConfirm(convID string, sender meshnet.NodeID, sig, echo []byte) *Envelope {
	e := newHeaderWithID(convID, KindHandshakeConfirm, sender)
	e.Handshake = &HandshakeBody{Signature: sig, ChallengeEcho: echo}
	return &e
}

// NewData builds a Data envelope carrying one chunk or control message.
func NewData(sender meshnet.NodeID, body DataBody) *Envelope {
	e := newHeader(KindData, sender)
	e.Data = &body
	return &e
}

// NewRouting wraps payload for multi-hop delivery toward target using
// strategy, with an initial single-hop route of [sender].
func NewRouting(sender meshnet.NodeID, target meshnet.NodeID, payload *Envelope, strategy Strategy) *Envelope {
	e := newHeader(KindRouting, sender)
	e.Routing = &RoutingBody{
		TargetID: target,
		Route:    []meshnet.NodeID{sender},
		Payload:  payload,
		Strategy: strategy,
	}
	return &e
}

// NewDiscoveryRequest builds a DiscoveryRequest envelope.
func NewDiscoveryRequest(sender meshnet.NodeID, host string, port int) *Envelope {
	e := newHeader(KindDiscoveryRequest, sender)
	e.Discovery = &DiscoveryBody{Host: host, Port: port}
	return &e
}

// NewDiscoveryResponse builds a DiscoveryResponse envelope.
func NewDiscoveryResponse(sender meshnet.NodeID, host string, port int) *Envelope {
	e := newHeader(KindDiscoveryResponse, sender)
	e.Discovery = &DiscoveryBody{Host: host, Port: port}
	return &e
}

// NewPeerListRequest builds a PeerListRequest envelope.
func NewPeerListRequest(sender meshnet.NodeID) *Envelope {
	e := newHeader(KindPeerListRequest, sender)
	e.Discovery = &DiscoveryBody{}
	return &e
}

// NewPeerListResponse builds a PeerListResponse envelope carrying a
// snapshot of known peers.
func NewPeerListResponse(sender meshnet.NodeID, peers []meshnet.PeerRecord) *Envelope {
	e := newHeader(KindPeerListResponse, sender)
	e.Discovery = &DiscoveryBody{Peers: peers}
	return &e
}
