package storage

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// TriggerLog is the append-only alert trigger history.
type TriggerLog struct {
	path   string
	mu     sync.Mutex
	logger zerolog.Logger
}

// NewTriggerLog binds a trigger log to a JSON file.
func NewTriggerLog(path string, logger zerolog.Logger) *TriggerLog {
	return &TriggerLog{path: path, logger: logger.With().Str("component", "trigger_log").Str("path", path).Logger()}
}

// Append reads the whole log, adds rec and writes it back. An unreadable
// log is treated as empty.
func (l *TriggerLog) Append(rec TriggerRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	records := l.readLocked()
	records = append(records, rec)
	return writeJSON(l.path, records)
}

// List returns every record in append order.
func (l *TriggerLog) List() []TriggerRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readLocked()
}

// Tail returns at most n of the newest records, oldest first.
func (l *TriggerLog) Tail(n int) []TriggerRecord {
	records := l.List()
	if n > 0 && len(records) > n {
		records = records[len(records)-n:]
	}
	return records
}

func (l *TriggerLog) readLocked() []TriggerRecord {
	var records []TriggerRecord
	if err := readJSON(l.path, &records); err != nil {
		if !errors.Is(err, errMissing) {
			l.logger.Warn().Err(err).Msg("trigger history unreadable; starting empty")
		}
		return []TriggerRecord{}
	}
	if records == nil {
		records = []TriggerRecord{}
	}
	return records
}
