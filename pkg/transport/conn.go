//go:build linux || darwin

/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package transport provides blocking-descriptor transport helpers built
// on the safeio wrappers: a unix-domain Listener with a pooled accept
// loop, a Dialer with retry support, full read/write helpers and
// descriptor passing over SCM_RIGHTS ancillary data.
package transport

import (
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/srediag/sockio/pkg/safeio"
)

// Conn is an accepted or dialed stream descriptor, already configured by
// sockopt.Setup. Conn owns the descriptor; Close releases it.
type Conn struct {
	fd     int
	sio    *safeio.IO
	peer   unix.Sockaddr
	closed atomic.Bool
}

// FD exposes the raw descriptor for callers that need syscall-level
// access. The descriptor stays owned by the Conn.
func (c *Conn) FD() int { return c.fd }

// Peer returns the remote address, nil for dialed conns where the
// kernel did not report one.
func (c *Conn) Peer() unix.Sockaddr { return c.peer }

// Close releases the descriptor. Double close is a no-op.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.sio.Close(c.fd)
}
