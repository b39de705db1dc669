// Package eventlog implements the engine's append-only event log (spec 6):
// one JSON object per line, fields timestamp/event_type/severity/payload.
package eventlog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// EventType enumerates the event kinds the scheduler and its collaborators
// may append.
type EventType string

const (
	EventRegimeFlip EventType = "regime_flip"
	EventRiskEvent  EventType = "risk_event"
	EventWeightChg  EventType = "weight_change"
	EventOutlierPnL EventType = "outlier_pnl"
	EventNoTrade    EventType = "no_trade"
)

// Severity mirrors standard log levels for event-log entries.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Entry is one line of the event log.
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	EventType EventType      `json:"event_type"`
	Severity  Severity       `json:"severity"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Logger appends Entry records to a JSONL file and mirrors them to a zap
// logger at the matching level, the way the teacher's learning/feedback.go
// pairs structured logging with file persistence.
type Logger struct {
	mu   sync.Mutex
	path string
	f    *os.File
	log  *zap.Logger
}

// New opens (creating as needed) the JSONL sink at path.
func New(path string, log *zap.Logger) (*Logger, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &Logger{path: path, f: f, log: log.Named("eventlog")}, nil
}

// Append writes one entry, stamping Timestamp if unset.
func (l *Logger) Append(e Entry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	if _, err := l.f.Write(b); err != nil {
		return err
	}

	fields := []zap.Field{zap.String("event_type", string(e.EventType))}
	switch e.Severity {
	case SeverityWarning:
		l.log.Warn("event", fields...)
	case SeverityError, SeverityCritical:
		l.log.Error("event", fields...)
	default:
		l.log.Info("event", fields...)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}
