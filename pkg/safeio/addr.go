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
	"net"
	"strconv"

	"golang.org/x/sys/unix"
)

// unknownAddr is rendered for any address family the formatter does not
// understand, nil included.
const unknownAddr = "unknown address family"

// SockaddrString renders sa for diagnostics: "192.0.2.1:443" for IPv4,
// "[::1]:443" for IPv6, "unix:/tmp/x.sock" for local-domain sockets and
// a fixed placeholder for anything else. The returned string is owned by
// the caller.
func SockaddrString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return net.IP(a.Addr[:]).String() + ":" + strconv.Itoa(a.Port)
	case *unix.SockaddrInet6:
		return "[" + net.IP(a.Addr[:]).String() + "]:" + strconv.Itoa(a.Port)
	case *unix.SockaddrUnix:
		return "unix:" + a.Name
	default:
		return unknownAddr
	}
}
