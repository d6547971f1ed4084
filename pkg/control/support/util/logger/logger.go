// Package logger provides the levelled logging utility used across the controller.
// It wraps the standard `log` package and filters messages by a global log level.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync/atomic"
)

// LogLevel is a type representing the logging level.
type LogLevel int32

const (
	// LevelTrace is used for per-cycle diagnostics that are too noisy for DEBUG.
	LevelTrace LogLevel = iota
	// LevelDebug is the log level used for detailed debugging information.
	LevelDebug
	// LevelInfo is the log level used for general informational messages.
	LevelInfo
	// LevelWarn is the log level used for potential issues or warning messages.
	LevelWarn
	// LevelError is the log level used for error messages.
	LevelError
	// LevelFatal is the log level used for fatal error messages that cause application termination.
	LevelFatal
	// LevelSilent suppresses every message except Fatalf.
	LevelSilent
)

// logLevel is the currently set global log level. The scan goroutine and command handlers
// read it concurrently, so it is stored atomically.
var logLevel atomic.Int32

var std = log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)

func init() {
	logLevel.Store(int32(LevelInfo))
}

// SetLogLevel sets the global log level.
// Valid string values are "TRACE", "DEBUG", "INFO", "WARN", "ERROR", "FATAL" and "SILENT" (case-insensitive).
// An unknown value falls back to INFO and a warning is printed.
func SetLogLevel(level string) {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "TRACE":
		logLevel.Store(int32(LevelTrace))
	case "DEBUG":
		logLevel.Store(int32(LevelDebug))
	case "INFO", "":
		logLevel.Store(int32(LevelInfo))
	case "WARN", "WARNING":
		logLevel.Store(int32(LevelWarn))
	case "ERROR":
		logLevel.Store(int32(LevelError))
	case "FATAL":
		logLevel.Store(int32(LevelFatal))
	case "SILENT":
		logLevel.Store(int32(LevelSilent))
	default:
		fmt.Fprintf(os.Stderr, "Unknown log level '%s' specified. Defaulting to INFO level.\n", level)
		logLevel.Store(int32(LevelInfo))
	}
}

// GetLogLevel returns the current global log level.
func GetLogLevel() LogLevel {
	return LogLevel(logLevel.Load())
}

// SetOutput redirects log output. Tests use it to capture or discard messages.
func SetOutput(w io.Writer) {
	std.SetOutput(w)
}

func enabled(level LogLevel) bool {
	return LogLevel(logLevel.Load()) <= level
}

// Tracef outputs a TRACE level message.
func Tracef(format string, v ...interface{}) {
	if enabled(LevelTrace) {
		std.Printf("[TRACE] "+format, v...)
	}
}

// Debugf formats and outputs a DEBUG level log message.
// It is only output if the current log level is DEBUG or lower.
//
// format: A format string in the same format as `fmt.Printf`.
// v: Arguments to pass to the format string.
func Debugf(format string, v ...interface{}) {
	if enabled(LevelDebug) {
		std.Printf("[DEBUG] "+format, v...)
	}
}

// Infof formats and outputs an INFO level log message.
// It is only output if the current log level is INFO or lower.
func Infof(format string, v ...interface{}) {
	if enabled(LevelInfo) {
		std.Printf("[INFO] "+format, v...)
	}
}

// Warnf formats and outputs a WARN level log message.
func Warnf(format string, v ...interface{}) {
	if enabled(LevelWarn) {
		std.Printf("[WARN] "+format, v...)
	}
}

// Errorf formats and outputs an ERROR level log message.
func Errorf(format string, v ...interface{}) {
	if enabled(LevelError) {
		std.Printf("[ERROR] "+format, v...)
	}
}

// Fatalf formats and outputs a FATAL level log message,
// then terminates the program by calling os.Exit(1).
func Fatalf(format string, v ...interface{}) {
	std.Fatalf("[FATAL] "+format, v...)
}
