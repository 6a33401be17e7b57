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

// Package errs defines the mesh node error taxonomy shared by every
// subsystem: which failures are session-scoped and recoverable, which are
// fatal for a session, and which propagate out of Node.Start.
package errs

import "errors"

// Sentinel kinds. Use errors.Is against these, not string comparison.
var (
	// ErrTransport covers socket/UDP failures. Session-scoped, recoverable
	// by reconnect via the liveness supervisor.
	ErrTransport = errors.New("transport error")

	// ErrAuthentication covers signature verification failures. Fatal for
	// the session that produced it; never retried.
	ErrAuthentication = errors.New("authentication error")

	// ErrProtocol covers malformed or out-of-state envelopes. Fatal for
	// the session that produced it.
	ErrProtocol = errors.New("protocol error")

	// ErrNoRoute means the routing engine found no next hop for a target.
	ErrNoRoute = errors.New("no route to target")

	// ErrChecksum means a chunk failed its integrity check. Never
	// surfaced to the application; triggers a RetransmitRequest.
	ErrChecksum = errors.New("chunk checksum mismatch")

	// ErrTimeout means a payload group exhausted its retry budget.
	ErrTimeout = errors.New("delivery timed out")

	// ErrConfiguration covers startup failures (port bind, no randomness
	// source). Fatal; propagates out of Node.Start.
	ErrConfiguration = errors.New("configuration error")
)

// Wrap annotates err with kind using fmt.Errorf-style wrapping so callers
// can still errors.Is against the sentinel while reading a specific
// message.
func Wrap(kind error, context string, cause error) error {
	if cause == nil {
		return &wrapped{kind: kind, msg: context}
	}
	return &wrapped{kind: kind, msg: context, cause: cause}
}

type wrapped struct {
	kind  error
	msg   string
	cause error
}

func (w *wrapped) Error() string {
	if w.cause != nil {
		return w.msg + ": " + w.cause.Error()
	}
	return w.msg
}

func (w *wrapped) Unwrap() error {
	if w.cause != nil {
		return w.cause
	}
	return nil
}

// Is reports whether target is the sentinel kind this error was wrapped
// with, in addition to normal Unwrap-chain matching against the cause.
func (w *wrapped) Is(target error) bool {
	return w.kind == target
}
