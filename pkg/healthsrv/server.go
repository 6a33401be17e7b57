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

// Package healthsrv exposes the node's health, readiness and network
// statistics over HTTP, for operators and orchestrators that cannot
// speak the mesh protocol directly.
package healthsrv

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sage-x-project/meshnet/internal/logger"
	"github.com/sage-x-project/meshnet/internal/metrics"
	"github.com/sage-x-project/meshnet/pkg/liveness"
	"github.com/sage-x-project/meshnet/pkg/meshnet"
)

// NetworkStatsSource reports the current NetworkStats snapshot, as kept
// by the Liveness Supervisor.
type NetworkStatsSource interface {
	NetworkStats() liveness.NetworkStats
}

// PeerLister reports the set of peers currently known to the
// Connection Registry.
type PeerLister interface {
	AllPeers() []meshnet.PeerRecord
}

// Server is the node's health/metrics/peers HTTP surface.
type Server struct {
	stats NetworkStatsSource
	peers PeerLister
	log   logger.Logger
	port  int

	mu        sync.Mutex
	server    *http.Server
	startedAt time.Time
}

// NewServer builds a Server that reports stats and peers on port.
func NewServer(stats NetworkStatsSource, peers PeerLister, port int) *Server {
	return &Server{
		stats: stats,
		peers: peers,
		log:   logger.GetDefaultLogger(),
		port:  port,
	}
}

// Start begins serving in the background. It returns once the listener
// is configured; ListenAndServe errors are logged, not returned, since
// they surface asynchronously after the caller has moved on.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/live", s.handleLiveness)
	mux.HandleFunc("/health/ready", s.handleReadiness)
	mux.HandleFunc("/peers", s.handlePeers)
	mux.Handle("/metrics", metrics.Handler())

	s.mu.Lock()
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.startedAt = time.Now()
	srv := s.server
	s.mu.Unlock()

	s.log.Info("starting health server", logger.Int("port", s.port))
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("health server error", logger.Error(err))
		}
	}()
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.stats.NetworkStats()

	status := "healthy"
	httpStatus := http.StatusOK
	if stats.ErrorRate >= 50 {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	} else if stats.ErrorRate >= 10 {
		status = "degraded"
	}

	writeJSON(w, httpStatus, map[string]interface{}{
		"status":          status,
		"active_peers":    stats.ActivePeers,
		"average_latency": stats.AverageLatency.String(),
		"total_messages":  stats.TotalMessages,
		"error_rate":      stats.ErrorRate,
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "alive",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	ready := !s.startedAt.IsZero()
	s.mu.Unlock()

	httpStatus := http.StatusOK
	if !ready {
		httpStatus = http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, map[string]interface{}{
		"ready":     ready,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"stats": s.stats.NetworkStats(),
		"peers": s.peers.AllPeers(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
