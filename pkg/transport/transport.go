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
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/Workiva/go-datastructures/queue"
	"github.com/cenkalti/backoff/v4"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sys/unix"

	"github.com/srediag/sockio/internal/fdutil"
	"github.com/srediag/sockio/internal/logging"
	"github.com/srediag/sockio/pkg/safeio"
	"github.com/srediag/sockio/pkg/sockopt"
)

const (
	defaultWorkers     = 32
	defaultBacklog     = 128
	defaultDialTimeout = 10 * time.Second
)

var tlog = logging.New("transport", nil)

// Handler serves one accepted connection. The Listener closes the conn
// when the handler returns.
type Handler func(*Conn)

// Options configures Listener and Dialer. The zero value works.
type Options struct {
	// IO supplies the syscall wrappers. Defaults to safeio.Default.
	IO *safeio.IO
	// Nonblock configures accepted/dialed descriptors as non-blocking.
	Nonblock bool
	// Workers sizes the handler pool. Defaults to 32.
	Workers int
	// Backlog caps the overflow queue used when the pool is saturated.
	// Defaults to 128.
	Backlog int
	// DialTimeout bounds the connect completion wait for non-blocking
	// dials. Defaults to 10s.
	DialTimeout time.Duration
	// Registry, when set, receives the transport counters.
	Registry prometheus.Registerer
	// Meter, when set, records accepted connections.
	Meter metric.Meter
	// Tracer, when set, spans each dial.
	Tracer trace.Tracer
}

func (o *Options) withDefaults() {
	if o.IO == nil {
		o.IO = safeio.Default
	}
	if o.Workers <= 0 {
		o.Workers = defaultWorkers
	}
	if o.Backlog <= 0 {
		o.Backlog = defaultBacklog
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = defaultDialTimeout
	}
}

// Listener accepts connections on a unix-domain stream socket and
// dispatches each to a Handler on a worker pool. When the pool is
// saturated the connection is parked on a bounded overflow queue drained
// by a fallback goroutine.
type Listener struct {
	path     string
	fd       int
	sio      *safeio.IO
	nonblock bool
	handler  Handler

	pool     *ants.Pool
	overflow *queue.Queue
	conns    cmap.ConcurrentMap[string, *Conn]
	closed   atomic.Bool

	accepted    prometheus.Counter
	active      prometheus.Gauge
	otelAccepts metric.Int64Counter
}

// Listen binds path, removing a stale socket file first, and starts the
// accept loop.
func Listen(path string, handler Handler, opts Options) (*Listener, error) {
	if handler == nil {
		return nil, errors.New("transport: nil handler")
	}
	opts.withDefaults()

	if fdutil.PathExists(path) && fdutil.RemoveStaleSocket(path) {
		tlog.Infof("removed stale socket file %s", path)
	}
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	if err := sockopt.Setup(fd, false); err != nil {
		_ = opts.IO.Close(fd)
		return nil, err
	}
	if err := sockopt.SetReuseAddr(fd); err != nil {
		_ = opts.IO.Close(fd)
		return nil, err
	}
	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		_ = opts.IO.Close(fd)
		return nil, fmt.Errorf("bind %s: %w", path, err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		_ = opts.IO.Close(fd)
		return nil, fmt.Errorf("listen %s: %w", path, err)
	}

	pool, err := ants.NewPool(opts.Workers, ants.WithNonblocking(true))
	if err != nil {
		_ = opts.IO.Close(fd)
		return nil, err
	}

	l := &Listener{
		path:     path,
		fd:       fd,
		sio:      opts.IO,
		nonblock: opts.Nonblock,
		handler:  handler,
		pool:     pool,
		overflow: queue.New(int64(opts.Backlog)),
		conns:    cmap.New[*Conn](),
	}
	if opts.Registry != nil {
		l.accepted = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sockio_accepted_connections_total",
			Help: "Connections accepted by the listener.",
		})
		l.active = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sockio_active_connections",
			Help: "Connections currently being served.",
		})
		opts.Registry.MustRegister(l.accepted, l.active)
	}
	if opts.Meter != nil {
		l.otelAccepts, err = opts.Meter.Int64Counter("sockio.listener.accepted")
		if err != nil {
			tlog.Warnf("meter counter unavailable: %v", err)
		}
	}

	go l.acceptLoop()
	go l.drainOverflow()
	return l, nil
}

// Addr returns the socket path the listener is bound to.
func (l *Listener) Addr() string { return l.path }

// ActiveConns reports the number of connections currently tracked.
func (l *Listener) ActiveConns() int { return l.conns.Count() }

func (l *Listener) acceptLoop() {
	for {
		nfd, sa, err := l.sio.Accept(l.fd)
		if err != nil {
			if l.closed.Load() {
				return
			}
			switch err {
			case unix.EMFILE, unix.ENFILE:
				if open, ferr := fdutil.OpenFDCount(); ferr == nil {
					tlog.Warnf("accept(%d) = %s with %d descriptors open", l.fd, err, open)
				} else {
					tlog.Warnf("accept(%d) = %s", l.fd, err)
				}
				time.Sleep(100 * time.Millisecond)
				continue
			case unix.EAGAIN, unix.ECONNABORTED:
				continue
			case unix.EBADF, unix.EINVAL:
				// listener fd gone
				return
			default:
				tlog.Warnf("accept(%d) = %s", l.fd, err)
				continue
			}
		}
		if err := sockopt.Setup(nfd, l.nonblock); err != nil {
			tlog.Warnf("setup accepted fd %d failed: %v", nfd, err)
			_ = l.sio.Close(nfd)
			continue
		}
		conn := &Conn{fd: nfd, sio: l.sio, peer: sa}
		l.track(conn)
		if err := l.pool.Submit(func() { l.serve(conn) }); err != nil {
			// pool saturated, park the conn for the drain goroutine
			if qerr := l.overflow.Put(conn); qerr != nil {
				l.untrack(conn)
				_ = conn.Close()
			}
		}
	}
}

func (l *Listener) drainOverflow() {
	for {
		items, err := l.overflow.Get(1)
		if err != nil {
			return
		}
		for _, item := range items {
			if conn, ok := item.(*Conn); ok {
				l.serve(conn)
			}
		}
	}
}

func (l *Listener) serve(conn *Conn) {
	defer func() {
		l.untrack(conn)
		_ = conn.Close()
	}()
	l.handler(conn)
}

func (l *Listener) track(conn *Conn) {
	l.conns.Set(strconv.Itoa(conn.fd), conn)
	if l.accepted != nil {
		l.accepted.Inc()
		l.active.Inc()
	}
	if l.otelAccepts != nil {
		l.otelAccepts.Add(context.Background(), 1)
	}
}

func (l *Listener) untrack(conn *Conn) {
	l.conns.Remove(strconv.Itoa(conn.fd))
	if l.active != nil {
		l.active.Dec()
	}
}

// Close stops accepting, releases the listening descriptor, closes every
// tracked connection and removes the socket file.
func (l *Listener) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	// shutdown wakes a blocked accept so the loop can observe closed
	_ = unix.Shutdown(l.fd, unix.SHUT_RD)
	err := l.sio.Close(l.fd)
	l.overflow.Dispose()
	l.pool.Release()
	l.conns.IterCb(func(_ string, conn *Conn) {
		_ = conn.Close()
	})
	fdutil.RemoveStaleSocket(l.path)
	return err
}

// Dialer connects to unix-domain stream sockets through the safeio
// wrappers.
type Dialer struct {
	sio      *safeio.IO
	nonblock bool
	timeout  time.Duration
	tracer   trace.Tracer
}

// NewDialer builds a Dialer from opts.
func NewDialer(opts Options) *Dialer {
	opts.withDefaults()
	return &Dialer{
		sio:      opts.IO,
		nonblock: opts.Nonblock,
		timeout:  opts.DialTimeout,
		tracer:   opts.Tracer,
	}
}

// Dial connects to the unix socket at path. For non-blocking dials the
// expected EINPROGRESS outcome is completed by polling for writability
// and reading SO_ERROR.
func (d *Dialer) Dial(path string) (*Conn, error) {
	if d.tracer != nil {
		_, span := d.tracer.Start(context.Background(), "sockio.dial")
		defer span.End()
	}
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	if err := sockopt.Setup(fd, d.nonblock); err != nil {
		_ = d.sio.Close(fd)
		return nil, err
	}
	err = d.sio.Connect(fd, &unix.SockaddrUnix{Name: path})
	if err == unix.EINPROGRESS && d.nonblock {
		err = d.waitConnect(fd)
	}
	if err != nil {
		_ = d.sio.Close(fd)
		return nil, fmt.Errorf("connect %s: %w", path, err)
	}
	return &Conn{fd: fd, sio: d.sio}, nil
}

// DialRetry dials with retries on transiently failing errnos. A nil
// policy means exponential backoff capped at 5 retries.
func (d *Dialer) DialRetry(path string, policy backoff.BackOff) (*Conn, error) {
	if policy == nil {
		policy = backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5)
	}
	var conn *Conn
	attempt := func() error {
		c, err := d.Dial(path)
		if err != nil {
			if transientDialError(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		conn = c
		return nil
	}
	if err := backoff.Retry(attempt, policy); err != nil {
		return nil, err
	}
	return conn, nil
}

func (d *Dialer) waitConnect(fd int) error {
	deadline := time.Now().Add(d.timeout)
	for {
		left := time.Until(deadline)
		if left <= 0 {
			return unix.ETIMEDOUT
		}
		pfds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
		n, err := unix.Poll(pfds, int(left.Milliseconds()))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return unix.ETIMEDOUT
		}
		soerr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if err != nil {
			return err
		}
		if soerr != 0 {
			return unix.Errno(soerr)
		}
		return nil
	}
}

// transientDialError reports whether a dial failure is worth retrying:
// the peer is restarting, its backlog is full, or the socket file is not
// bound yet.
func transientDialError(err error) bool {
	for _, errno := range []unix.Errno{
		unix.ECONNREFUSED, unix.ECONNRESET, unix.ECONNABORTED,
		unix.EAGAIN, unix.ETIMEDOUT, unix.ENOENT,
	} {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}
