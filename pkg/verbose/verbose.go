// Package verbose prints opt-in tracing for the command line tools.
package verbose

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync/atomic"
)

var (
	enabled atomic.Bool
	out     = log.New(os.Stderr, "[VERBOSE] ", log.Ltime|log.Lmicroseconds)
)

// SetEnabled sets the global verbose flag
func SetEnabled(enable bool) {
	enabled.Store(enable)
}

// IsEnabled returns whether verbose output is enabled
func IsEnabled() bool {
	return enabled.Load()
}

// SetOutput redirects verbose output
func SetOutput(w io.Writer) {
	out.SetOutput(w)
}

// Printf prints a verbose message if verbose output is enabled
func Printf(format string, args ...interface{}) {
	if enabled.Load() {
		out.Output(2, fmt.Sprintf(format, args...))
	}
}

// Println prints a verbose message if verbose output is enabled
func Println(args ...interface{}) {
	if enabled.Load() {
		out.Output(2, fmt.Sprintln(args...))
	}
}
