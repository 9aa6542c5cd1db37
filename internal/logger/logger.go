package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
)

var (
	mu   sync.RWMutex
	root hclog.Logger = hclog.New(&hclog.LoggerOptions{
		Name:  "purecut",
		Level: hclog.Info,
	})
)

// Init reconfigures the root logger. Level is one of trace, debug, info,
// warn, error; format "json" switches to JSON output.
func Init(level, format string) {
	mu.Lock()
	defer mu.Unlock()

	root = hclog.New(&hclog.LoggerOptions{
		Name:       "purecut",
		Level:      hclog.LevelFromString(strings.ToLower(level)),
		JSONFormat: strings.EqualFold(format, "json"),
		Output:     os.Stderr,
	})
}

// Named returns a child logger for a component, e.g. logger.Named("stitch").
// Components that want key/value logging should hold on to the result.
func Named(name string) hclog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root.Named(name)
}

// Info logs informational messages
func Info(format string, args ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	root.Info(fmt.Sprintf(format, args...))
}

// Warn logs warning messages
func Warn(format string, args ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	root.Warn(fmt.Sprintf(format, args...))
}

// Error logs error messages
func Error(format string, args ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	root.Error(fmt.Sprintf(format, args...))
}

// Debug logs debug messages
func Debug(format string, args ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	root.Debug(fmt.Sprintf(format, args...))
}
