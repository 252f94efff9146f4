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

package safeio

import (
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// counterValue reads a prometheus Counter back out for assertions.
func counterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	_ = c.Write(m)
	return m.GetCounter().GetValue()
}

func TestWrappersRetryEINTR(t *testing.T) {
	sio := New(Options{})

	t.Run("read", func(t *testing.T) {
		calls := 0
		orig := sysRead
		defer func() { sysRead = orig }()
		sysRead = func(fd int, p []byte) (int, error) {
			calls++
			if calls == 1 {
				return -1, unix.EINTR
			}
			return 7, nil
		}
		n, err := sio.Read(3, make([]byte, 16))
		require.NoError(t, err)
		assert.Equal(t, 7, n)
		assert.Equal(t, 2, calls)
	})

	t.Run("write", func(t *testing.T) {
		calls := 0
		orig := sysWrite
		defer func() { sysWrite = orig }()
		sysWrite = func(fd int, p []byte) (int, error) {
			calls++
			if calls == 1 {
				return -1, unix.EINTR
			}
			return len(p), nil
		}
		n, err := sio.Write(3, []byte("hello"))
		require.NoError(t, err)
		assert.Equal(t, 5, n)
		assert.Equal(t, 2, calls)
	})

	t.Run("recv", func(t *testing.T) {
		calls := 0
		orig := sysRecv
		defer func() { sysRecv = orig }()
		sysRecv = func(fd int, p []byte, flags int) (int, error) {
			calls++
			if calls == 1 {
				return -1, unix.EINTR
			}
			return 3, nil
		}
		n, err := sio.Recv(3, make([]byte, 16), 0)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		assert.Equal(t, 2, calls)
	})

	t.Run("send", func(t *testing.T) {
		calls := 0
		orig := sysSend
		defer func() { sysSend = orig }()
		sysSend = func(fd int, p []byte, flags int) (int, error) {
			calls++
			if calls == 1 {
				return -1, unix.EINTR
			}
			return len(p), nil
		}
		n, err := sio.Send(3, []byte("hi"), 0)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.Equal(t, 2, calls)
	})

	t.Run("close", func(t *testing.T) {
		calls := 0
		orig := sysClose
		defer func() { sysClose = orig }()
		sysClose = func(fd int) error {
			calls++
			if calls == 1 {
				return unix.EINTR
			}
			return nil
		}
		require.NoError(t, sio.Close(3))
		assert.Equal(t, 2, calls)
	})

	t.Run("connect", func(t *testing.T) {
		calls := 0
		orig := sysConnect
		defer func() { sysConnect = orig }()
		sysConnect = func(fd int, sa unix.Sockaddr) error {
			calls++
			if calls == 1 {
				return unix.EINTR
			}
			return nil
		}
		require.NoError(t, sio.Connect(3, &unix.SockaddrUnix{Name: "/tmp/x"}))
		assert.Equal(t, 2, calls)
	})

	t.Run("accept", func(t *testing.T) {
		calls := 0
		orig := sysAccept
		defer func() { sysAccept = orig }()
		sysAccept = func(fd int) (int, unix.Sockaddr, error) {
			calls++
			if calls == 1 {
				return -1, nil, unix.EINTR
			}
			return 9, &unix.SockaddrUnix{Name: "/tmp/x"}, nil
		}
		nfd, sa, err := sio.Accept(3)
		require.NoError(t, err)
		assert.Equal(t, 9, nfd)
		assert.NotNil(t, sa)
		assert.Equal(t, 2, calls)
	})
}

func TestErrorsSurfaceUnchanged(t *testing.T) {
	sio := New(Options{})

	orig := sysRead
	defer func() { sysRead = orig }()
	sysRead = func(fd int, p []byte) (int, error) {
		return -1, unix.EBADF
	}
	_, err := sio.Read(3, make([]byte, 4))
	assert.Equal(t, unix.EBADF, err)
}

func TestConnectInProgressSurfaces(t *testing.T) {
	sio := New(Options{})

	orig := sysConnect
	defer func() { sysConnect = orig }()
	sysConnect = func(fd int, sa unix.Sockaddr) error {
		return unix.EINPROGRESS
	}
	err := sio.Connect(3, &unix.SockaddrUnix{Name: "/tmp/x"})
	assert.Equal(t, unix.EINPROGRESS, err)
}

func TestEINTRRetriesCounted(t *testing.T) {
	reg := prometheus.NewRegistry()
	sio := New(Options{Registry: reg})

	orig := sysWrite
	defer func() { sysWrite = orig }()
	calls := 0
	sysWrite = func(fd int, p []byte) (int, error) {
		calls++
		if calls <= 3 {
			return -1, unix.EINTR
		}
		return len(p), nil
	}
	_, err := sio.Write(3, []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, float64(3), counterValue(sio.metrics.eintrRetries.WithLabelValues("write")))
}

func TestReadWritePipe(t *testing.T) {
	sio := New(Options{})
	var p [2]int
	require.NoError(t, unix.Pipe(p[:]))
	defer func() {
		_ = sio.Close(p[0])
	}()

	n, err := sio.Write(p[1], []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	buf := make([]byte, 16)
	n, err = sio.Read(p[0], buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))

	require.NoError(t, sio.Close(p[1]))
}

func TestSendRecvSocketpair(t *testing.T) {
	sio := New(Options{})
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer func() {
		_ = sio.Close(fds[0])
		_ = sio.Close(fds[1])
	}()

	n, err := sio.Send(fds[0], []byte("ping"), 0)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	buf := make([]byte, 16)
	n, err = sio.Recv(fds[1], buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf[:n]))
}

func TestConnectAcceptUnixSocket(t *testing.T) {
	sio := New(Options{})
	path := filepath.Join(t.TempDir(), "sio.sock")

	lfd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer func() { _ = sio.Close(lfd) }()
	require.NoError(t, unix.Bind(lfd, &unix.SockaddrUnix{Name: path}))
	require.NoError(t, unix.Listen(lfd, 8))

	cfd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer func() { _ = sio.Close(cfd) }()
	require.NoError(t, sio.Connect(cfd, &unix.SockaddrUnix{Name: path}))

	nfd, _, err := sio.Accept(lfd)
	require.NoError(t, err)

	_, err = sio.Write(cfd, []byte("hi"))
	require.NoError(t, err)
	buf := make([]byte, 4)
	n, err := sio.Read(nfd, buf)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(buf[:n]))

	require.NoError(t, sio.Close(nfd))
}
