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
	"time"

	"github.com/heptiolabs/healthcheck"
)

// LivenessCheck returns a healthcheck.Check that dials the unix socket
// at path and closes the connection again. Embed it in the application's
// health handler to probe a listener end to end.
func LivenessCheck(path string, timeout time.Duration) healthcheck.Check {
	d := NewDialer(Options{DialTimeout: timeout, Nonblock: true})
	return func() error {
		conn, err := d.Dial(path)
		if err != nil {
			return err
		}
		return conn.Close()
	}
}
