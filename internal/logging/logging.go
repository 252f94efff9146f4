// Package logging provides the leveled diagnostic logger shared by the
// sockio packages. The default level is Warn; the process env
// `SOCKIO_LOG_LEVEL` or SetLogLevel can change it.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/valyala/bytebufferpool"
)

// Log levels, in increasing severity. LevelNoPrint disables all output.
const (
	LevelTrace = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelNoPrint
)

var (
	level = LevelWarn

	magenta = string([]byte{27, 91, 57, 53, 109}) // Trace
	green   = string([]byte{27, 91, 57, 50, 109}) // Debug
	blue    = string([]byte{27, 91, 57, 52, 109}) // Info
	yellow  = string([]byte{27, 91, 57, 51, 109}) // Warn
	red     = string([]byte{27, 91, 57, 49, 109}) // Error
	reset   = string([]byte{27, 91, 48, 109})

	colors = []string{
		magenta,
		green,
		blue,
		yellow,
		red,
	}

	levelName = []string{
		"Trace",
		"Debug",
		"Info",
		"Warn",
		"Error",
	}
)

// Default is the logger the sockio packages write to unless a caller
// injects its own collaborator.
var Default = New("", os.Stdout)

func init() {
	if os.Getenv("SOCKIO_LOG_LEVEL") != "" {
		if n, err := strconv.Atoi(os.Getenv("SOCKIO_LOG_LEVEL")); err == nil {
			if n <= LevelNoPrint {
				level = n
			}
		}
	}
}

// SetLogLevel changes the process-wide log level. The default is Warn.
func SetLogLevel(l int) {
	if l <= LevelNoPrint {
		level = l
	}
}

// Logger writes leveled, colorized lines with a timestamp and caller
// location prefix.
type Logger struct {
	name      string
	out       io.Writer
	callDepth int
}

// New returns a Logger writing to out. A nil out falls back to stdout.
func New(name string, out io.Writer) *Logger {
	if out == nil {
		out = os.Stdout
	}
	return &Logger{
		name:      name,
		out:       out,
		callDepth: 4,
	}
}

// Tracef logs at the finest level; safeio success-path noise lands here.
func (l *Logger) Tracef(format string, a ...interface{}) {
	l.printf(LevelTrace, format, a...)
}

func (l *Logger) Debugf(format string, a ...interface{}) {
	l.printf(LevelDebug, format, a...)
}

func (l *Logger) Infof(format string, a ...interface{}) {
	l.printf(LevelInfo, format, a...)
}

func (l *Logger) Warnf(format string, a ...interface{}) {
	l.printf(LevelWarn, format, a...)
}

func (l *Logger) Errorf(format string, a ...interface{}) {
	l.printf(LevelError, format, a...)
}

func (l *Logger) printf(lv int, format string, a ...interface{}) {
	if level > lv {
		return
	}
	if _, err := fmt.Fprintf(l.out, l.prefix(lv)+format+reset+"\n", a...); err != nil {
		fmt.Fprintf(os.Stderr, "logger printf failed: %v\n", err)
	}
}

func (l *Logger) prefix(lv int) string {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	_, _ = buf.WriteString(colors[lv])
	_, _ = buf.WriteString(levelName[lv])
	_ = buf.WriteByte(' ')
	_, _ = buf.WriteString(time.Now().Format("2006-01-02 15:04:05.999999"))
	_ = buf.WriteByte(' ')
	_, _ = buf.WriteString(l.location())
	if l.name != "" {
		_ = buf.WriteByte(' ')
		_, _ = buf.WriteString(l.name)
	}
	_ = buf.WriteByte(' ')
	return buf.String()
}

func (l *Logger) location() string {
	_, file, line, ok := runtime.Caller(l.callDepth)
	if !ok {
		file = "???"
		line = 0
	}
	file = filepath.Base(file)
	return file + ":" + strconv.Itoa(line)
}
