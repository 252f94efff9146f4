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

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	eintrRetries   *prometheus.CounterVec
	msgsizeRetries prometheus.Counter
	syscallErrors  *prometheus.CounterVec
}

// newMetrics returns nil when reg is nil; the count helpers tolerate that.
func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		return nil
	}
	m := &metrics{
		eintrRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sockio_eintr_retries_total",
			Help: "Syscalls transparently retried after EINTR.",
		}, []string{"op"}),
		msgsizeRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sockio_sendmsg_msgsize_retries_total",
			Help: "Sendmsg attempts retried after a spurious EMSGSIZE.",
		}),
		syscallErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sockio_syscall_errors_total",
			Help: "Syscall failures surfaced to callers.",
		}, []string{"op"}),
	}
	reg.MustRegister(m.eintrRetries, m.msgsizeRetries, m.syscallErrors)
	return m
}

func (s *IO) countEINTR(op string) {
	if s.metrics != nil {
		s.metrics.eintrRetries.WithLabelValues(op).Inc()
	}
}

func (s *IO) countMsgsize() {
	if s.metrics != nil {
		s.metrics.msgsizeRetries.Inc()
	}
}

func (s *IO) countError(op string) {
	if s.metrics != nil {
		s.metrics.syscallErrors.WithLabelValues(op).Inc()
	}
}
