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

// Package discovery implements peer discovery over UDP broadcast: a
// periodic DiscoveryRequest announces this node, DiscoveryResponse and
// PeerListResponse feed newly learned peers to the Connection Registry,
// and a stale-peer sweep forgets entries nobody has refreshed in a
// while.
package discovery

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/sage-x-project/meshnet/internal/logger"
	"github.com/sage-x-project/meshnet/internal/metrics"
	"github.com/sage-x-project/meshnet/pkg/envelope"
	"github.com/sage-x-project/meshnet/pkg/meshnet"
)

// DefaultPort is the UDP port discovery broadcasts and listens on.
const DefaultPort = 54321

const (
	bufferSize        = 8 * 1024
	broadcastInterval = 30 * time.Second
	sweepInterval     = 5 * time.Minute
	// staleAfter bounds how long a knownPeers entry survives without a
	// refreshing DiscoveryResponse or PeerListResponse sighting. The
	// specification names the sweep's cadence (every 5 minutes) but not
	// a staleness threshold; two sweep intervals gives an entry two
	// chances to be refreshed before it is forgotten.
	staleAfter = 2 * sweepInterval

	connectTimeout = 10 * time.Second
)

// Connector is the subset of the Connection Registry discovery needs:
// dial a newly learned peer, and check whether one is already linked so
// a redundant connect is skipped. *registry.Registry satisfies this
// structurally.
type Connector interface {
	Connect(ctx context.Context, host string, port int) error
	IsAuthenticated(peerID meshnet.NodeID) bool
}

type knownPeer struct {
	record   meshnet.PeerRecord
	lastSeen time.Time
}

// Service is the Discovery Service of spec section 4.5.
type Service struct {
	localID       meshnet.NodeID
	selfHost      string
	selfPort      int
	discoveryPort int

	conn      *net.UDPConn
	connector Connector
	log       logger.Logger

	mu    sync.RWMutex
	known map[meshnet.NodeID]*knownPeer

	onChange func([]meshnet.PeerRecord)

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewService binds the discovery UDP socket on discoveryPort and builds
// a Service that advertises (selfHost, selfPort) as this node's dial
// address. Call Start to begin broadcasting and listening.
func NewService(localID meshnet.NodeID, selfHost string, selfPort, discoveryPort int, connector Connector) (*Service, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: discoveryPort})
	if err != nil {
		return nil, err
	}
	if err := enableBroadcast(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return &Service{
		localID:       localID,
		selfHost:      selfHost,
		selfPort:      selfPort,
		discoveryPort: discoveryPort,
		conn:          conn,
		connector:     connector,
		log:           logger.GetDefaultLogger(),
		known:         make(map[meshnet.NodeID]*knownPeer),
		stopCh:        make(chan struct{}),
	}, nil
}

// OnChange registers a callback invoked with a snapshot of known peers
// whenever the set changes. Intended for the optional debug endpoint;
// nil (the default) disables the callback entirely.
func (s *Service) OnChange(fn func([]meshnet.PeerRecord)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// Start launches the receive loop, the periodic broadcast, and the
// stale-peer sweep.
func (s *Service) Start() {
	s.wg.Add(3)
	go s.receiveLoop()
	go s.broadcastLoop()
	go s.sweepLoop()
}

// Stop closes the UDP socket, unblocking the receive loop, and waits for
// every scheduled task to exit. Safe to call more than once.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.conn.Close()
	})
	s.wg.Wait()
}

// Snapshot returns the currently known peers. Ordering is unspecified.
func (s *Service) Snapshot() []meshnet.PeerRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]meshnet.PeerRecord, 0, len(s.known))
	for _, p := range s.known {
		out = append(out, p.record)
	}
	return out
}

func (s *Service) receiveLoop() {
	defer s.wg.Done()
	buf := make([]byte, bufferSize)
	for {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
				s.log.Warn("discovery: read failed", logger.Error(err))
				return
			}
		}
		frame := make([]byte, n)
		copy(frame, buf[:n])
		env, err := envelope.Decode(frame)
		if err != nil {
			s.log.Warn("discovery: decode failed", logger.Error(err))
			continue
		}
		s.dispatch(env, addr)
	}
}

func (s *Service) broadcastLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(broadcastInterval)
	defer ticker.Stop()
	s.broadcast()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.broadcast()
		}
	}
}

func (s *Service) broadcast() {
	req := envelope.NewDiscoveryRequest(s.localID, s.selfHost, s.selfPort)
	addr := &net.UDPAddr{IP: net.IPv4bcast, Port: s.discoveryPort}
	if err := s.sendTo(req, addr); err != nil {
		s.log.Warn("discovery: broadcast failed", logger.Error(err))
		return
	}
	metrics.DiscoveryBroadcastsSent.Inc()
}

func (s *Service) sweepLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweepStale()
		}
	}
}

func (s *Service) sweepStale() {
	s.mu.Lock()
	now := time.Now()
	changed := false
	for id, p := range s.known {
		if now.Sub(p.lastSeen) > staleAfter {
			delete(s.known, id)
			changed = true
		}
	}
	size := len(s.known)
	s.mu.Unlock()

	metrics.PeersKnown.Set(float64(size))
	if changed {
		s.notifyChange()
	}
}

func (s *Service) dispatch(env *envelope.Envelope, addr *net.UDPAddr) {
	if env.SenderID == s.localID {
		return
	}
	switch env.Kind {
	case envelope.KindDiscoveryRequest:
		s.handleRequest(addr)
	case envelope.KindDiscoveryResponse:
		s.handleResponse(env)
	case envelope.KindPeerListRequest:
		s.handlePeerListRequest(addr)
	case envelope.KindPeerListResponse:
		s.handlePeerListResponse(env)
	}
}

func (s *Service) handleRequest(addr *net.UDPAddr) {
	resp := envelope.NewDiscoveryResponse(s.localID, s.selfHost, s.selfPort)
	if err := s.sendTo(resp, addr); err != nil {
		s.log.Warn("discovery: response send failed", logger.Error(err))
	}
}

func (s *Service) handleResponse(env *envelope.Envelope) {
	if env.Discovery == nil {
		return
	}
	record := meshnet.PeerRecord{ID: env.SenderID, Host: env.Discovery.Host, Port: env.Discovery.Port}
	isNew := s.rememberPeer(record)

	status := "known_peer"
	if isNew {
		status = "new_peer"
	}
	metrics.DiscoveryResponsesReceived.WithLabelValues(status).Inc()

	s.connectIfNeeded(record)
}

func (s *Service) handlePeerListRequest(addr *net.UDPAddr) {
	resp := envelope.NewPeerListResponse(s.localID, s.Snapshot())
	if err := s.sendTo(resp, addr); err != nil {
		s.log.Warn("discovery: peer list send failed", logger.Error(err))
	}
}

func (s *Service) handlePeerListResponse(env *envelope.Envelope) {
	if env.Discovery == nil {
		return
	}
	for _, record := range env.Discovery.Peers {
		if record.ID == s.localID {
			continue
		}
		if s.rememberPeer(record) {
			s.connectIfNeeded(record)
		}
	}
}

func (s *Service) connectIfNeeded(record meshnet.PeerRecord) {
	if s.connector.IsAuthenticated(record.ID) {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		if err := s.connector.Connect(ctx, record.Host, record.Port); err != nil {
			s.log.Debug("discovery: connect failed", logger.String("peer", string(record.ID)), logger.Error(err))
		}
	}()
}

// rememberPeer inserts or refreshes record and reports whether its id
// was previously unknown.
func (s *Service) rememberPeer(record meshnet.PeerRecord) bool {
	s.mu.Lock()
	_, existed := s.known[record.ID]
	s.known[record.ID] = &knownPeer{record: record, lastSeen: time.Now()}
	size := len(s.known)
	s.mu.Unlock()

	metrics.PeersKnown.Set(float64(size))
	if !existed {
		s.notifyChange()
	}
	return !existed
}

func (s *Service) notifyChange() {
	s.mu.RLock()
	fn := s.onChange
	s.mu.RUnlock()
	if fn != nil {
		fn(s.Snapshot())
	}
}

func (s *Service) sendTo(env *envelope.Envelope, addr *net.UDPAddr) error {
	b, err := envelope.Encode(env)
	if err != nil {
		return err
	}
	_, err = s.conn.WriteToUDP(b, addr)
	return err
}
