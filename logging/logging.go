package logging

import (
	"log"
	"os"
	"sync/atomic"
)

const (
	// TraceLevel indicates a log message's level of criticality
	TraceLevel = iota
	// DebugLevel indicates a log message's level of criticality
	DebugLevel
	// InfoLevel indicates a log message's level of criticality
	InfoLevel
	// WarnLevel indicates a log message's level of criticality
	WarnLevel
	// ErrorLevel indicates a log message's level of criticality
	ErrorLevel
	// FatalLevel indicates a log message's level of criticality
	FatalLevel
)

// LogLevelToString translates a log level enum to a string representation
func LogLevelToString(level int) string {
	switch level {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	case FatalLevel:
		return "FATAL"
	default:
		return "TRACE"
	}
}

var minLevel int32 = InfoLevel

var logger = log.New(os.Stderr, "", log.LstdFlags)

// SetLogLevel sets the minimum level emitted by Log
func SetLogLevel(level int) {
	atomic.StoreInt32(&minLevel, int32(level))
}

// Log emits a formatted message at the given level, discarding it if the
// level is below the configured minimum
func Log(level int, format string, args ...interface{}) {
	if int32(level) < atomic.LoadInt32(&minLevel) {
		return
	}
	logger.Printf("["+LogLevelToString(level)+"] "+format, args...)
	if level == FatalLevel {
		os.Exit(1)
	}
}
