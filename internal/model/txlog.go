package model

import (
	"encoding/json"
	"strings"
	"time"
)

type LogLevel string

const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
)

func (l LogLevel) String() string { return string(l) }

func (l LogLevel) Valid() bool {
	return l == LogLevelDebug || l == LogLevelInfo || l == LogLevelWarn || l == LogLevelError
}

// ParseLogLevel normalizes input; empty => INFO.
// Returns (value, true) if valid; otherwise (INFO, false).
func ParseLogLevel(s string) (LogLevel, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "":
		return LogLevelInfo, true
	case "DEBUG", "INFO", "WARN", "ERROR":
		return LogLevel(strings.ToUpper(strings.TrimSpace(s))), true
	default:
		return LogLevelInfo, false
	}
}

// TransactionLogEntry is one append-only row of step-level saga diagnostics.
// It is a sidecar: nothing in the outbox or entity path depends on it.
type TransactionLogEntry struct {
	ID            string          `db:"id"`
	TransactionID string          `db:"transaction_id"`
	StepID        string          `db:"step_id"`
	Level         LogLevel        `db:"level"`
	Message       string          `db:"message"`
	Data          json.RawMessage `db:"data"`
	Error         string          `db:"error"`
	Timestamp     time.Time       `db:"ts"`
}
