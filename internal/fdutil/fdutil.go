// Package fdutil contains small descriptor and socket-file helpers shared by
// the sockio packages and their tests.
package fdutil

import (
	"fmt"
	"net"
	"os"

	"github.com/shirou/gopsutil/v3/process"
)

// DupConnFd duplicates the descriptor out of a net.Conn. The returned
// *os.File owns the duplicate; the caller must close it. The original
// conn keeps its own descriptor and deadline behavior is lost on the dup.
func DupConnFd(conn net.Conn) (*os.File, error) {
	f, ok := conn.(interface{ File() (*os.File, error) })
	if !ok {
		return nil, fmt.Errorf("conn type %T does not expose its file", conn)
	}
	return f.File()
}

// PathExists reports whether path exists.
func PathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// RemoveStaleSocket removes a leftover unix socket file, returning true
// when a file was actually removed.
func RemoveStaleSocket(path string) bool {
	return os.Remove(path) == nil
}

// OpenFDCount returns the number of descriptors the current process holds
// open. Used for diagnostics when accept starts failing with EMFILE.
func OpenFDCount() (int32, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, err
	}
	return p.NumFDs()
}
