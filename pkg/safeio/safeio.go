//go:build unix

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

// Package safeio wraps the blocking I/O syscalls (read/write/send/recv,
// connect/accept, sendmsg/recvmsg) so that EINTR is retried transparently
// and failures can be logged. The wrappers never own the descriptor they
// operate on; errors other than EINTR surface unchanged as unix.Errno
// values, so callers can errors.Is against unix.EAGAIN and friends.
package safeio

import (
	"golang.org/x/sys/unix"
)

// Raw syscall entry points, swappable for fault injection in tests.
// x/sys has no plain send(2)/recv(2) wrappers that return the byte count,
// so those go through sendmsg(2)/recvfrom(2).
var (
	sysRead    = unix.Read
	sysWrite   = unix.Write
	sysClose   = unix.Close
	sysConnect = unix.Connect
	sysAccept  = unix.Accept
	sysRecv    = func(fd int, p []byte, flags int) (int, error) {
		n, _, err := unix.Recvfrom(fd, p, flags)
		return n, err
	}
	sysSend = func(fd int, p []byte, flags int) (int, error) {
		return unix.SendmsgN(fd, p, nil, nil, flags)
	}
)

// Read is read(2) with the interruption retry.
func (s *IO) Read(fd int, p []byte) (int, error) {
	for {
		n, err := sysRead(fd, p)
		if err == unix.EINTR {
			s.countEINTR("read")
			continue
		}
		if err != nil {
			s.countError("read")
		}
		return n, err
	}
}

// Write is write(2) with the interruption retry.
func (s *IO) Write(fd int, p []byte) (int, error) {
	for {
		n, err := sysWrite(fd, p)
		if err == unix.EINTR {
			s.countEINTR("write")
			continue
		}
		if err != nil {
			s.countError("write")
		}
		return n, err
	}
}

// Recv is recv(2) with the interruption retry.
func (s *IO) Recv(fd int, p []byte, flags int) (int, error) {
	for {
		n, err := sysRecv(fd, p, flags)
		if err == unix.EINTR {
			s.countEINTR("recv")
			continue
		}
		if err != nil {
			s.countError("recv")
			s.log.Tracef("recv(%d, %d) = %s", fd, len(p), err)
		} else if s.verbosity > verboseNoise {
			s.log.Tracef("recv(%d, %d) = %d", fd, len(p), n)
		}
		return n, err
	}
}

// Send is send(2) with the interruption retry.
func (s *IO) Send(fd int, p []byte, flags int) (int, error) {
	for {
		n, err := sysSend(fd, p, flags)
		if err == unix.EINTR {
			s.countEINTR("send")
			continue
		}
		if err != nil {
			s.countError("send")
			s.log.Tracef("send(%d, %d) = %s", fd, len(p), err)
		} else if s.verbosity > verboseNoise {
			s.log.Tracef("send(%d, %d) = %d", fd, len(p), n)
		}
		return n, err
	}
}

// Close releases fd. The manpage allows close(2) to be interrupted even
// though Linux never actually does it.
func (s *IO) Close(fd int) error {
	for {
		err := sysClose(fd)
		if err == unix.EINTR {
			s.countEINTR("close")
			continue
		}
		if err != nil {
			s.countError("close")
		}
		return err
	}
}

// Connect is connect(2) with the interruption retry. EINPROGRESS is the
// expected outcome for a non-blocking socket: it surfaces to the caller
// but is only logged at the highest verbosity.
func (s *IO) Connect(fd int, sa unix.Sockaddr) error {
	for {
		err := sysConnect(fd, sa)
		if err == unix.EINTR {
			s.countEINTR("connect")
			continue
		}
		if err != nil {
			if err != unix.EINPROGRESS {
				s.countError("connect")
				s.log.Tracef("connect(%d, %s) = %s", fd, SockaddrString(sa), err)
			} else if s.verbosity > verboseNoise {
				s.log.Tracef("connect(%d, %s) = %s", fd, SockaddrString(sa), err)
			}
		} else if s.verbosity > verboseNoise {
			s.log.Tracef("connect(%d, %s) = ok", fd, SockaddrString(sa))
		}
		return err
	}
}

// Accept is accept(2) with the interruption retry. The success noise line
// renders the peer address.
func (s *IO) Accept(fd int) (int, unix.Sockaddr, error) {
	for {
		nfd, sa, err := sysAccept(fd)
		if err == unix.EINTR {
			s.countEINTR("accept")
			continue
		}
		if err != nil {
			s.countError("accept")
			s.log.Tracef("accept(%d) = %s", fd, err)
		} else if s.verbosity > verboseNoise {
			s.log.Tracef("accept(%d) = %d (%s)", fd, nfd, SockaddrString(sa))
		}
		return nfd, sa, err
	}
}

// Package-level convenience wrappers over Default.

func Read(fd int, p []byte) (int, error) { return Default.Read(fd, p) }

func Write(fd int, p []byte) (int, error) { return Default.Write(fd, p) }

func Recv(fd int, p []byte, flags int) (int, error) { return Default.Recv(fd, p, flags) }

func Send(fd int, p []byte, flags int) (int, error) { return Default.Send(fd, p, flags) }

func Close(fd int) error { return Default.Close(fd) }

func Connect(fd int, sa unix.Sockaddr) error { return Default.Connect(fd, sa) }

func Accept(fd int) (int, unix.Sockaddr, error) { return Default.Accept(fd) }
