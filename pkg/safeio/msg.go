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
	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sys/unix"
)

var (
	sysSendmsg = unix.SendmsgN
	sysRecvmsg = unix.Recvmsg
)

// Sendmsg is sendmsg(2) with the interruption retry. With ancillary data
// on a blocking socket some kernels (OSX at least) return EMSGSIZE
// instead of blocking; that failure is treated as transient and retried
// on the configured backoff before it surfaces. Failures are logged as
// warnings.
func (s *IO) Sendmsg(fd int, p, oob []byte, to unix.Sockaddr, flags int) (int, error) {
	var n int
	attempt := func() error {
		for {
			var err error
			n, err = sysSendmsg(fd, p, oob, to, flags)
			if err == unix.EINTR {
				s.countEINTR("sendmsg")
				continue
			}
			if err != nil {
				s.log.Warnf("sendmsg(%d, msg[%d,%d], %d) = %s", fd, len(p), len(oob), flags, err)
				if err == unix.EMSGSIZE && !s.msgRetry.Disable {
					s.countMsgsize()
					s.log.Warnf("sendmsg(%d): trying to sleep a bit", fd)
					return err
				}
				return backoff.Permanent(err)
			}
			if s.verbosity > verboseNoise {
				s.log.Tracef("sendmsg(%d, msg, %d) = %d", fd, flags, n)
			}
			return nil
		}
	}
	if err := backoff.Retry(attempt, s.msgRetry.newBackOff()); err != nil {
		s.countError("sendmsg")
		return n, err
	}
	return n, nil
}

// Recvmsg is recvmsg(2) with the interruption retry. Unlike the plain
// wrappers its failures are always logged as warnings, not gated on
// verbosity.
func (s *IO) Recvmsg(fd int, p, oob []byte, flags int) (n, oobn int, from unix.Sockaddr, err error) {
	for {
		n, oobn, _, from, err = sysRecvmsg(fd, p, oob, flags)
		if err == unix.EINTR {
			s.countEINTR("recvmsg")
			continue
		}
		if err != nil {
			s.countError("recvmsg")
			s.log.Warnf("recvmsg(%d, msg, %d) = %s", fd, flags, err)
		} else if s.verbosity > verboseNoise {
			s.log.Tracef("recvmsg(%d, msg, %d) = %d", fd, flags, n)
		}
		return n, oobn, from, err
	}
}

func Sendmsg(fd int, p, oob []byte, to unix.Sockaddr, flags int) (int, error) {
	return Default.Sendmsg(fd, p, oob, to, flags)
}

func Recvmsg(fd int, p, oob []byte, flags int) (int, int, unix.Sockaddr, error) {
	return Default.Recvmsg(fd, p, oob, flags)
}
