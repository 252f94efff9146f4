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

package transport

import (
	"fmt"
	"io"

	"golang.org/x/sys/unix"
)

// ReadFull reads until p is filled. A zero-byte read means the peer
// closed and yields io.EOF.
func (c *Conn) ReadFull(p []byte) error {
	readSize := 0
	for readSize < len(p) {
		n, err := c.sio.Read(c.fd, p[readSize:])
		if err != nil {
			return fmt.Errorf("ReadFull failed, had readSize:%d reason:%w", readSize, err)
		}
		if n == 0 {
			return io.EOF
		}
		readSize += n
	}
	return nil
}

// WriteFull writes all of p, continuing across short writes.
func (c *Conn) WriteFull(p []byte) error {
	written := 0
	for written < len(p) {
		n, err := c.sio.Write(c.fd, p[written:])
		if err != nil {
			return err
		}
		written += n
	}
	return nil
}

// SendFds passes descriptors to the peer as SCM_RIGHTS ancillary data.
// This is the path the Sendmsg EMSGSIZE workaround exists for.
func (c *Conn) SendFds(fds ...int) error {
	oob := unix.UnixRights(fds...)
	_, err := c.sio.Sendmsg(c.fd, nil, oob, nil, 0)
	return err
}

// RecvFds receives up to max descriptors passed by the peer. The
// returned descriptors are owned by the caller.
func (c *Conn) RecvFds(max int) ([]int, error) {
	oob := make([]byte, unix.CmsgSpace(max*4))
	_, oobn, _, err := c.sio.Recvmsg(c.fd, nil, oob, 0)
	if err != nil {
		return nil, err
	}
	msgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return nil, fmt.Errorf("parse control message: %w", err)
	}
	var fds []int
	for _, msg := range msgs {
		got, err := unix.ParseUnixRights(&msg)
		if err != nil {
			return nil, fmt.Errorf("parse unix rights: %w", err)
		}
		fds = append(fds, got...)
	}
	return fds, nil
}
