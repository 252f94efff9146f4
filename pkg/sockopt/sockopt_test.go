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

package sockopt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newTestSocket(t *testing.T) int {
	t.Helper()
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = unix.Close(fd) })
	return fd
}

func flFlags(t *testing.T, fd int) int {
	t.Helper()
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	require.NoError(t, err)
	return flags
}

func fdFlags(t *testing.T, fd int) int {
	t.Helper()
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	require.NoError(t, err)
	return flags
}

func TestSetNonblockRoundTrip(t *testing.T) {
	fd := newTestSocket(t)

	require.NoError(t, SetNonblock(fd, true))
	assert.NotZero(t, flFlags(t, fd)&unix.O_NONBLOCK)

	require.NoError(t, SetNonblock(fd, false))
	assert.Zero(t, flFlags(t, fd)&unix.O_NONBLOCK)
}

func TestSetNonblockBadDescriptor(t *testing.T) {
	err := SetNonblock(-1, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, unix.EBADF)
}

func TestSetupNonblocking(t *testing.T) {
	fd := newTestSocket(t)

	require.NoError(t, Setup(fd, true))
	assert.NotZero(t, fdFlags(t, fd)&unix.FD_CLOEXEC)
	assert.NotZero(t, flFlags(t, fd)&unix.O_NONBLOCK)
}

func TestSetupBlocking(t *testing.T) {
	fd := newTestSocket(t)

	require.NoError(t, Setup(fd, false))
	assert.NotZero(t, fdFlags(t, fd)&unix.FD_CLOEXEC)
	assert.Zero(t, flFlags(t, fd)&unix.O_NONBLOCK)
}

func TestSetupIdempotent(t *testing.T) {
	fd := newTestSocket(t)

	require.NoError(t, Setup(fd, true))
	require.NoError(t, Setup(fd, true))
	assert.NotZero(t, fdFlags(t, fd)&unix.FD_CLOEXEC)
	assert.NotZero(t, flFlags(t, fd)&unix.O_NONBLOCK)
}

func TestSetReuseAddr(t *testing.T) {
	fd := newTestSocket(t)

	require.NoError(t, SetReuseAddr(fd))
	v, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}
