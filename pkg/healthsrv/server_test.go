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

package healthsrv

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/meshnet/pkg/liveness"
	"github.com/sage-x-project/meshnet/pkg/meshnet"
)

type fakeStats struct {
	stats liveness.NetworkStats
}

func (f fakeStats) NetworkStats() liveness.NetworkStats { return f.stats }

type fakePeers struct {
	records []meshnet.PeerRecord
}

func (f fakePeers) AllPeers() []meshnet.PeerRecord { return f.records }

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func startTestServer(t *testing.T, stats liveness.NetworkStats, peers []meshnet.PeerRecord) (*Server, int) {
	t.Helper()
	port := freePort(t)
	srv := NewServer(fakeStats{stats: stats}, fakePeers{records: peers}, port)
	require.NoError(t, srv.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	})
	// Give the listener a moment to come up.
	for i := 0; i < 50; i++ {
		if conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port)); err == nil {
			conn.Close()
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	return srv, port
}

func getJSON(t *testing.T, url string) (int, map[string]interface{}) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestHandleHealthReportsHealthyWithLowErrorRate(t *testing.T) {
	_, port := startTestServer(t, liveness.NetworkStats{ActivePeers: 3, ErrorRate: 1}, nil)

	status, body := getJSON(t, fmt.Sprintf("http://127.0.0.1:%d/health", port))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, float64(3), body["active_peers"])
}

func TestHandleHealthReportsUnhealthyWithHighErrorRate(t *testing.T) {
	_, port := startTestServer(t, liveness.NetworkStats{ActivePeers: 1, ErrorRate: 90}, nil)

	status, body := getJSON(t, fmt.Sprintf("http://127.0.0.1:%d/health", port))
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "unhealthy", body["status"])
}

func TestHandleLivenessAlwaysOK(t *testing.T) {
	_, port := startTestServer(t, liveness.NetworkStats{}, nil)

	status, body := getJSON(t, fmt.Sprintf("http://127.0.0.1:%d/health/live", port))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "alive", body["status"])
}

func TestHandleReadinessTrueAfterStart(t *testing.T) {
	_, port := startTestServer(t, liveness.NetworkStats{}, nil)

	status, body := getJSON(t, fmt.Sprintf("http://127.0.0.1:%d/health/ready", port))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["ready"])
}

func TestHandlePeersReturnsStatsAndRecords(t *testing.T) {
	peers := []meshnet.PeerRecord{{ID: meshnet.NodeID("peer-a"), Host: "10.0.0.1", Port: 9000}}
	_, port := startTestServer(t, liveness.NetworkStats{ActivePeers: 1}, peers)

	status, body := getJSON(t, fmt.Sprintf("http://127.0.0.1:%d/peers", port))
	assert.Equal(t, http.StatusOK, status)
	require.Contains(t, body, "peers")
	require.Contains(t, body, "stats")
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	_, port := startTestServer(t, liveness.NetworkStats{}, nil)

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/metrics", port))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
