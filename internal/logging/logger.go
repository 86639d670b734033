package logging

import (
	"io"
	"log"
	"os"
	"sync"
)

// Logger provides level-based logging functionality
type Logger struct {
	debugEnabled bool
	infoLogger   *log.Logger
	debugLogger  *log.Logger
}

// Global logger instance
var (
	globalLogger *Logger
	initOnce     sync.Once
)

// Initialize sets up the global logger with debug mode setting
// All logging goes to stderr to avoid polluting stdout (important for
// line-delimited JSON-RPC subprocess transports)
func Initialize(debugMode bool) {
	// Always use stderr for logging to avoid interfering with the
	// subprocess MCP wire protocol on stdout
	var output io.Writer = os.Stderr

	globalLogger = &Logger{
		debugEnabled: debugMode,
		infoLogger:   log.New(output, "", log.LstdFlags),
		debugLogger:  log.New(output, "", log.LstdFlags),
	}
}

func ensureInitialized() {
	initOnce.Do(func() {
		if globalLogger == nil {
			Initialize(false)
		}
	})
}

// Info logs informational messages (always shown)
func Info(format string, args ...interface{}) {
	ensureInitialized()
	globalLogger.infoLogger.Printf(format, args...)
}

// Debug logs debug messages (only shown when debug mode is enabled)
func Debug(format string, args ...interface{}) {
	ensureInitialized()
	if globalLogger.debugEnabled {
		globalLogger.debugLogger.Printf("DEBUG: "+format, args...)
	}
}

// Warn logs warning messages (always shown)
func Warn(format string, args ...interface{}) {
	ensureInitialized()
	globalLogger.infoLogger.Printf("WARN: "+format, args...)
}

// Error logs error messages (always shown)
func Error(format string, args ...interface{}) {
	ensureInitialized()
	globalLogger.infoLogger.Printf("ERROR: "+format, args...)
}

// IsDebugEnabled returns true if debug logging is enabled
func IsDebugEnabled() bool {
	ensureInitialized()
	return globalLogger.debugEnabled
}
