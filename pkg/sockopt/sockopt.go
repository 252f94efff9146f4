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

// Package sockopt configures flags on an already-created socket
// descriptor. All helpers are idempotent, forward-only and perform no
// rollback: the first failing step aborts and earlier steps stay applied.
package sockopt

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// SetNonblock sets or clears O_NONBLOCK on fd. If F_SETFL fails the
// descriptor flags are left in whatever state the OS left them.
func SetNonblock(fd int, nonblock bool) error {
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	if err != nil {
		return fmt.Errorf("fcntl(%d, F_GETFL): %w", fd, err)
	}
	if nonblock {
		flags |= unix.O_NONBLOCK
	} else {
		flags &^= unix.O_NONBLOCK
	}
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFL, flags); err != nil {
		return fmt.Errorf("fcntl(%d, F_SETFL): %w", fd, err)
	}
	return nil
}

// Setup performs the initial socket configuration: close-on-exec, SIGPIPE
// suppression where the platform supports it, then the non-blocking
// toggle. A failure here should be fatal to the caller's setup sequence.
func Setup(fd int, nonblock bool) error {
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFD, unix.FD_CLOEXEC); err != nil {
		return fmt.Errorf("fcntl(%d, F_SETFD, FD_CLOEXEC): %w", fd, err)
	}
	if err := setNoSigpipe(fd); err != nil {
		return fmt.Errorf("setsockopt(%d, SO_NOSIGPIPE): %w", fd, err)
	}
	return SetNonblock(fd, nonblock)
}

// SetReuseAddr sets SO_REUSEADDR so a listener can rebind its address
// right after a restart.
func SetReuseAddr(fd int) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fmt.Errorf("setsockopt(%d, SO_REUSEADDR): %w", fd, err)
	}
	return nil
}
