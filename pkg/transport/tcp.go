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

// Package transport is the node's session-carrying transport: a
// persistent duplex TCP stream, framed with a 4-byte big-endian length
// prefix, used to exchange opaque envelope bytes. It is deliberately
// independent of the envelope package's wire format — the Transport
// interface moves bytes, nothing more.
package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
)

// maxFrameSize bounds a single framed message to guard against a
// corrupt or hostile length prefix exhausting memory.
const maxFrameSize = 64 << 20 // 64 MiB, comfortably above one 1 MiB delivery chunk plus envelope overhead

// Transport is the duplex byte-stream abstraction the Connection
// Registry owns per session. Send/Receive operate on whole frames;
// Close unblocks any in-flight Receive by closing the underlying socket.
type Transport interface {
	Send(frame []byte) error
	Receive() ([]byte, error)
	RemoteAddr() string
	Close() error
}

// tcpTransport wraps a net.Conn with length-prefixed framing.
type tcpTransport struct {
	conn net.Conn
	r    *bufio.Reader

	writeMu sync.Mutex
	closeMu sync.Mutex
	closed  bool
}

// WrapConn adapts an already-established net.Conn (from Dial or
// Listener.Accept) into a Transport.
func WrapConn(conn net.Conn) Transport {
	return &tcpTransport{conn: conn, r: bufio.NewReaderSize(conn, 32*1024)}
}

// Dial opens a new TCP connection to host:port.
func Dial(ctx context.Context, host string, port int) (Transport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s:%d: %w", host, port, err)
	}
	return WrapConn(conn), nil
}

func (t *tcpTransport) Send(frame []byte) error {
	if len(frame) > maxFrameSize {
		return fmt.Errorf("transport: frame of %d bytes exceeds max %d", len(frame), maxFrameSize)
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(frame)))
	if _, err := t.conn.Write(hdr[:]); err != nil {
		return fmt.Errorf("transport: write length: %w", err)
	}
	if _, err := t.conn.Write(frame); err != nil {
		return fmt.Errorf("transport: write frame: %w", err)
	}
	return nil
}

func (t *tcpTransport) Receive() ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(t.r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("transport: incoming frame of %d bytes exceeds max %d", n, maxFrameSize)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(t.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (t *tcpTransport) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}

func (t *tcpTransport) Close() error {
	t.closeMu.Lock()
	defer t.closeMu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.conn.Close()
}

// Listener accepts inbound TCP connections on a single bound port.
type Listener struct {
	ln net.Listener
}

// Listen binds port (0 selects a kernel-assigned port per the node's
// "port 0 means kernel-selected" startup contract) and returns a
// Listener ready for Accept.
func Listen(host string, port int) (*Listener, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s:%d: %w", host, port, err)
	}
	return &Listener{ln: ln}, nil
}

// Port returns the bound TCP port, resolved from the kernel when Listen
// was called with port 0.
func (l *Listener) Port() int {
	return l.ln.Addr().(*net.TCPAddr).Port
}

// Accept blocks until an inbound connection arrives, or returns an error
// once Close unblocks it.
func (l *Listener) Accept() (Transport, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	return WrapConn(conn), nil
}

// Close stops accepting new connections, surfacing a transport error
// from any in-flight Accept.
func (l *Listener) Close() error {
	return l.ln.Close()
}
