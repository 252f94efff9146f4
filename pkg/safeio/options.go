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
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/srediag/sockio/internal/logging"
)

// success-path diagnostics are emitted only above this verbosity
const verboseNoise = 2

const (
	defaultMsgsizeDelay = time.Second
	defaultMsgsizeLimit = 20
)

// Logger is the diagnostic sink the wrappers write to. Tracef carries
// fine-grained noise, Warnf the rarer higher-severity events.
type Logger interface {
	Tracef(format string, args ...interface{})
	Warnf(format string, args ...interface{})
}

// MsgsizeRetry controls the Sendmsg workaround for kernels that report
// EMSGSIZE on a blocking socket carrying ancillary data instead of
// blocking. The zero value enables the historical behavior: sleep about
// a second between attempts, give up after 20 retries.
type MsgsizeRetry struct {
	// Disable turns the workaround off; EMSGSIZE surfaces immediately.
	Disable bool
	// Delay between retries. Defaults to one second.
	Delay time.Duration
	// Limit is the retry cap. Defaults to 20; the failure surfaces
	// unchanged once exceeded.
	Limit uint64
	// NewBackOff overrides Delay/Limit with a custom policy. Each
	// Sendmsg call gets a fresh BackOff from it.
	NewBackOff func() backoff.BackOff
}

func (r MsgsizeRetry) newBackOff() backoff.BackOff {
	if r.NewBackOff != nil {
		return r.NewBackOff()
	}
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(r.Delay), r.Limit)
}

// Options configures an IO instance. The zero value gives the stock
// behavior: verbosity 0, the package logger, no metrics.
type Options struct {
	// Verbosity gates success-path noise logging (emitted above 2) and
	// the logging of expected in-progress connect outcomes.
	Verbosity int
	// Logger receives diagnostics. Defaults to the internal leveled
	// logger.
	Logger Logger
	// Registry, when set, receives the retry/error counters.
	Registry prometheus.Registerer
	// MsgsizeRetry tunes the Sendmsg EMSGSIZE workaround.
	MsgsizeRetry MsgsizeRetry
}

// IO bundles the wrappers with their configuration. All methods are safe
// for concurrent use on independent descriptors; IO itself is read-only
// after New.
type IO struct {
	verbosity int
	log       Logger
	msgRetry  MsgsizeRetry
	metrics   *metrics
}

// New builds an IO from opts.
func New(opts Options) *IO {
	if opts.Logger == nil {
		opts.Logger = logging.Default
	}
	if opts.MsgsizeRetry.Delay <= 0 {
		opts.MsgsizeRetry.Delay = defaultMsgsizeDelay
	}
	if opts.MsgsizeRetry.Limit == 0 {
		opts.MsgsizeRetry.Limit = defaultMsgsizeLimit
	}
	return &IO{
		verbosity: opts.Verbosity,
		log:       opts.Logger,
		msgRetry:  opts.MsgsizeRetry,
		metrics:   newMetrics(opts.Registry),
	}
}

// Default backs the package-level convenience functions.
var Default = New(Options{})
