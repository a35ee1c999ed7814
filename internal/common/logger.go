package common

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
)

// Severity represents log message severity levels
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "DEBUG"
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseSeverity maps a config or flag value ("debug", "info", "warning"
// or "warn", "error") to a Severity.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return SeverityDebug, nil
	case "info", "":
		return SeverityInfo, nil
	case "warning", "warn":
		return SeverityWarning, nil
	case "error":
		return SeverityError, nil
	}
	return SeverityInfo, fmt.Errorf("unknown log level %q", s)
}

// Logger is the logging contract shared by the parsers, the server and the CLI.
type Logger interface {
	Log(severity Severity, msg string)
	Logf(severity Severity, format string, args ...any)
	Error(err error)
	Debug(msg string)
	Info(msg string)
	Warning(msg string)
}

// StdLogger implements Logger on top of the standard log package.
// Debug, info and warning go to stdout; errors go to stderr.
type StdLogger struct {
	debugLog   *log.Logger
	infoLog    *log.Logger
	warningLog *log.Logger
	errorLog   *log.Logger
	minLevel   Severity
}

// NewStdLogger creates a new standard logger
func NewStdLogger(minLevel Severity) *StdLogger {
	return NewStdLoggerWithWriter(os.Stdout, os.Stderr, minLevel)
}

// NewStdLoggerWithWriter creates a new standard logger with custom writers
func NewStdLoggerWithWriter(stdout, stderr io.Writer, minLevel Severity) *StdLogger {
	return &StdLogger{
		debugLog:   log.New(stdout, "DEBUG: ", log.Ltime|log.Lshortfile),
		infoLog:    log.New(stdout, "INFO: ", log.Ltime),
		warningLog: log.New(stdout, "WARNING: ", log.Ltime),
		errorLog:   log.New(stderr, "ERROR: ", log.Ltime|log.Lshortfile),
		minLevel:   minLevel,
	}
}

// Log logs a message with the specified severity
func (l *StdLogger) Log(severity Severity, msg string) {
	l.output(severity, msg)
}

func (l *StdLogger) Logf(severity Severity, format string, args ...any) {
	if severity < l.minLevel {
		return
	}
	l.output(severity, fmt.Sprintf(format, args...))
}

func (l *StdLogger) output(severity Severity, msg string) {
	if severity < l.minLevel {
		return
	}

	switch severity {
	case SeverityDebug:
		l.debugLog.Output(3, msg)
	case SeverityInfo:
		l.infoLog.Output(3, msg)
	case SeverityWarning:
		l.warningLog.Output(3, msg)
	case SeverityError:
		l.errorLog.Output(3, msg)
	}
}

func (l *StdLogger) Error(err error) {
	if err != nil {
		l.Log(SeverityError, err.Error())
	}
}

func (l *StdLogger) Debug(msg string)   { l.Log(SeverityDebug, msg) }
func (l *StdLogger) Info(msg string)    { l.Log(SeverityInfo, msg) }
func (l *StdLogger) Warning(msg string) { l.Log(SeverityWarning, msg) }

// NoOpLogger is a logger that doesn't log anything
type NoOpLogger struct{}

// NewNoOpLogger creates a new no-op logger
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

func (l *NoOpLogger) Log(severity Severity, msg string)                  {}
func (l *NoOpLogger) Logf(severity Severity, format string, args ...any) {}
func (l *NoOpLogger) Error(err error)                                    {}
func (l *NoOpLogger) Debug(msg string)                                   {}
func (l *NoOpLogger) Info(msg string)                                    {}
func (l *NoOpLogger) Warning(msg string)                                 {}

// OrNoOp returns l, or a NoOpLogger when l is nil.
func OrNoOp(l Logger) Logger {
	if l == nil {
		return NewNoOpLogger()
	}
	return l
}
