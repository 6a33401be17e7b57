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

package discovery

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sage-x-project/meshnet/internal/logger"
	"github.com/sage-x-project/meshnet/pkg/meshnet"
)

// DebugServer pushes a JSON snapshot of a Service's known peers to every
// connected client on change. It is purely observability: nothing in
// the protocol depends on it, and a node runs correctly with no
// DebugServer attached at all.
type DebugServer struct {
	upgrader websocket.Upgrader

	mu          sync.Mutex
	connections map[*websocket.Conn]bool

	writeTimeout time.Duration
	log          logger.Logger
}

// NewDebugServer builds a DebugServer and wires it to push on every
// change svc reports.
func NewDebugServer(svc *Service) *DebugServer {
	d := &DebugServer{
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		connections:  make(map[*websocket.Conn]bool),
		writeTimeout: 5 * time.Second,
		log:          logger.GetDefaultLogger(),
	}
	svc.OnChange(d.broadcast)
	return d
}

// Handler returns the /ws/peers endpoint.
func (d *DebugServer) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := d.upgrader.Upgrade(w, r, nil)
		if err != nil {
			http.Error(w, "websocket upgrade failed", http.StatusBadRequest)
			return
		}
		d.addConnection(conn)
		defer d.removeConnection(conn)

		// This endpoint is push-only; block on reads solely to notice
		// when the client disconnects.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
}

func (d *DebugServer) addConnection(conn *websocket.Conn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connections[conn] = true
}

func (d *DebugServer) removeConnection(conn *websocket.Conn) {
	d.mu.Lock()
	delete(d.connections, conn)
	d.mu.Unlock()
	conn.Close()
}

func (d *DebugServer) broadcast(peers []meshnet.PeerRecord) {
	d.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(d.connections))
	for c := range d.connections {
		conns = append(conns, c)
	}
	d.mu.Unlock()

	for _, c := range conns {
		c.SetWriteDeadline(time.Now().Add(d.writeTimeout))
		if err := c.WriteJSON(peers); err != nil {
			d.log.Warn("discovery: debug push failed", logger.Error(err))
			d.removeConnection(c)
		}
	}
}
