package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
)

// AlertBook persists the active user alerts, rewritten wholesale on every change.
// Writers in other processes are serialised through an advisory lock file
// next to the collection.
type AlertBook struct {
	path   string
	mu     sync.Mutex
	lock   *flock.Flock
	logger zerolog.Logger
}

// NewAlertBook binds an alert book to a JSON file.
func NewAlertBook(path string, logger zerolog.Logger) *AlertBook {
	return &AlertBook{
		path:   path,
		lock:   flock.New(path + ".lock"),
		logger: logger.With().Str("component", "alert_book").Str("path", path).Logger(),
	}
}

// Path returns the backing file.
func (b *AlertBook) Path() string { return b.path }

// Load returns the active alerts in persisted order. Missing or corrupt
// files yield an empty collection.
func (b *AlertBook) Load() []UserAlert {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.readLocked()
}

// Save overwrites the collection.
func (b *AlertBook) Save(alerts []UserAlert) error {
	return b.Update(func([]UserAlert) ([]UserAlert, bool) { return alerts, true })
}

// Update runs a read-modify-write cycle while holding both the in-process
// mutex and the cross-process file lock. fn receives the current collection
// and reports whether its result must be written.
func (b *AlertBook) Update(fn func(current []UserAlert) (next []UserAlert, changed bool)) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", b.path, err)
	}
	if err := b.lock.Lock(); err != nil {
		return fmt.Errorf("lock %s: %w", b.lock.Path(), err)
	}
	defer func() {
		if err := b.lock.Unlock(); err != nil {
			b.logger.Warn().Err(err).Msg("release alert lock")
		}
	}()

	next, changed := fn(b.readLocked())
	if !changed {
		return nil
	}
	if next == nil {
		next = []UserAlert{}
	}
	return writeJSON(b.path, next)
}

func (b *AlertBook) readLocked() []UserAlert {
	var alerts []UserAlert
	if err := readJSON(b.path, &alerts); err != nil {
		if !errors.Is(err, errMissing) {
			b.logger.Warn().Err(err).Msg("active alerts unreadable; starting empty")
		}
		return []UserAlert{}
	}
	if alerts == nil {
		alerts = []UserAlert{}
	}
	return alerts
}
