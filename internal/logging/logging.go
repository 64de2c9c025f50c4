package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
)

type LogLevel string

const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
)

var logLevels = map[LogLevel]int{
	LogLevelDebug: 1,
	LogLevelInfo:  2,
	LogLevelWarn:  3,
	LogLevelError: 4,
}

type Logger interface {
	Log(level LogLevel, format string, args ...interface{})
}

type DefaultLogger struct {
	logMode LogLevel
	logger  *log.Logger
}

// ParseLevel maps a config string such as "info" onto a LogLevel.
func ParseLevel(level string) (LogLevel, error) {
	l := LogLevel(strings.ToUpper(strings.TrimSpace(level)))
	if _, ok := logLevels[l]; !ok {
		return "", fmt.Errorf("unknown log level: %q", level)
	}
	return l, nil
}

// NewDefaultLogger writes to stdout and appends to logFile.
func NewDefaultLogger(mode LogLevel, logFile string) (*DefaultLogger, error) {
	file, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		return nil, err
	}

	return NewLogger(mode, io.MultiWriter(os.Stdout, file)), nil
}

func NewLogger(mode LogLevel, w io.Writer) *DefaultLogger {
	return &DefaultLogger{
		logMode: mode,
		logger:  log.New(w, "", log.LstdFlags),
	}
}

func (l *DefaultLogger) Enabled(level LogLevel) bool {
	return logLevels[level] >= logLevels[l.logMode]
}

func (l *DefaultLogger) Log(level LogLevel, format string, args ...interface{}) {
	if l.Enabled(level) {
		l.logger.Printf("[%s] %s", level, fmt.Sprintf(format, args...))
	}
}

type nopLogger struct{}

func (nopLogger) Log(LogLevel, string, ...interface{}) {}

// Nop discards everything. Codec instances use it until a caller installs a logger.
var Nop Logger = nopLogger{}
