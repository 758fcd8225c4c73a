// Package engine evaluates automatic and user-defined alerts against the
// market state store once per cycle.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ticker-alerts/internal/alerting"
	"ticker-alerts/internal/market"
	"ticker-alerts/internal/metrics"
	"ticker-alerts/internal/storage"
)

// ErrCycleInProgress is returned when Evaluate is called while a cycle runs.
var ErrCycleInProgress = errors.New("engine: evaluation cycle already in progress")

// SnapshotSource provides consistent copies of the market state.
type SnapshotSource interface {
	Snapshot() market.Snapshot
}

// AlertBook persists the active user alerts. Update is a read-modify-write
// that must be atomic with respect to every other writer, including other
// processes.
type AlertBook interface {
	Load() []storage.UserAlert
	Update(fn func(current []storage.UserAlert) (next []storage.UserAlert, changed bool)) error
}

// TriggerLog receives one record per fired alert.
type TriggerLog interface {
	Append(rec storage.TriggerRecord) error
}

// PriceArchive records the latest price of every symbol per cycle.
type PriceArchive interface {
	Append(prices map[string]float64) error
}

// Options tune the evaluation cycle.
type Options struct {
	AutoEnable           bool
	AutoPercentThreshold float64
	NotifyTimeout        time.Duration
	AdvisoryLockKey      int64
	LockTimeout          time.Duration
}

// Deps groups the collaborators of an Engine. Sink, Locker and Notifier are optional.
type Deps struct {
	Source   SnapshotSource
	Alerts   AlertBook
	Triggers TriggerLog
	Prices   PriceArchive
	Sink     storage.TriggerSink
	Locker   storage.AdvisoryLocker
	Notifier alerting.Notifier
}

// Report summarises one evaluation cycle.
type Report struct {
	At        time.Time
	Symbols   int
	Auto      []storage.TriggerRecord
	User      []storage.TriggerRecord
	Remaining int
	Skipped   bool
}

// Engine runs evaluation cycles.
type Engine struct {
	opts   Options
	deps   Deps
	now    func() time.Time
	logger zerolog.Logger

	cycle sync.Mutex
	book  sync.Mutex
	// consumed holds fired rules whose removal has not been persisted yet
	consumed []storage.UserAlert
}

// New builds an engine.
func New(opts Options, deps Deps, logger zerolog.Logger) *Engine {
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = 10 * time.Second
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = time.Second
	}
	return &Engine{
		opts:   opts,
		deps:   deps,
		now:    time.Now,
		logger: logger.With().Str("component", "engine").Logger(),
	}
}

// Evaluate runs one cycle. Persistence and delivery failures are logged and
// do not abort the cycle; only lock acquisition errors are returned.
func (e *Engine) Evaluate(ctx context.Context) (Report, error) {
	if !e.cycle.TryLock() {
		metrics.Cycles.WithLabelValues("overlap").Inc()
		return Report{}, ErrCycleInProgress
	}
	defer e.cycle.Unlock()

	unlock, proceed, err := e.acquireLock(ctx)
	if err != nil {
		metrics.Cycles.WithLabelValues("error").Inc()
		return Report{}, err
	}
	if !proceed {
		e.logger.Debug().Msg("skip cycle because advisory lock held elsewhere")
		metrics.Cycles.WithLabelValues("skipped").Inc()
		return Report{Skipped: true}, nil
	}
	if unlock != nil {
		defer unlock()
	}

	report := Report{At: e.now().UTC()}
	snap := e.deps.Source.Snapshot()
	report.Symbols = len(snap)

	if e.opts.AutoEnable {
		report.Auto = e.autoPass(ctx, snap, report.At)
	}
	report.User, report.Remaining = e.userPass(ctx, snap, report.At)

	if e.deps.Prices != nil && len(snap) > 0 {
		if err := e.deps.Prices.Append(snap.Prices()); err != nil {
			metrics.PersistFailures.WithLabelValues("prices").Inc()
			e.logger.Error().Err(err).Msg("failed to append price history")
		}
	}

	metrics.Cycles.WithLabelValues("ok").Inc()
	return report, nil
}

func (e *Engine) autoPass(ctx context.Context, snap market.Snapshot, at time.Time) []storage.TriggerRecord {
	var fired []storage.TriggerRecord
	for _, sym := range snap.SortedSymbols() {
		rec := snap[sym]
		if math.Abs(rec.PriceChangePercent) < e.opts.AutoPercentThreshold {
			continue
		}

		trigger := storage.TriggerRecord{
			Symbol:    sym,
			Condition: string(storage.AutoDetect),
			Value:     rec.PriceChangePercent,
			Current:   rec.Price,
		}
		fired = append(fired, trigger)
		metrics.AlertsFired.WithLabelValues(string(alerting.KindAuto)).Inc()

		e.record(ctx, trigger)
		e.notify(ctx, alerting.Notification{
			Kind:          alerting.KindAuto,
			Symbol:        sym,
			Condition:     string(storage.AutoDetect),
			Threshold:     e.opts.AutoPercentThreshold,
			Current:       rec.Price,
			PercentChange: rec.PriceChangePercent,
			At:            at,
		})
	}
	return fired
}

func (e *Engine) userPass(ctx context.Context, snap market.Snapshot, at time.Time) ([]storage.TriggerRecord, int) {
	e.book.Lock()
	var (
		fired     []firedRule
		kept      []storage.UserAlert
		evaluated bool
	)
	err := e.deps.Alerts.Update(func(current []storage.UserAlert) ([]storage.UserAlert, bool) {
		evaluated = true
		live, dropped := withoutConsumed(current, e.consumed)
		fired, kept = evaluateRules(live, snap)
		return kept, len(fired) > 0 || dropped > 0
	})
	switch {
	case err != nil && !evaluated:
		metrics.PersistFailures.WithLabelValues("alerts").Inc()
		e.logger.Error().Err(err).Msg("active alerts unavailable; user pass skipped")
	case err != nil:
		// rules that fired stay consumed in memory until a later write lands
		for _, f := range fired {
			e.consumed = append(e.consumed, f.alert)
		}
		metrics.PersistFailures.WithLabelValues("alerts").Inc()
		e.logger.Error().Err(err).Int("fired", len(fired)).Int("pending_removals", len(e.consumed)).
			Msg("failed to persist remaining alerts")
	default:
		e.consumed = nil
	}
	e.book.Unlock()

	for _, f := range fired {
		metrics.AlertsFired.WithLabelValues(string(alerting.KindUser)).Inc()
		e.record(ctx, f.record)
		e.notify(ctx, alerting.Notification{
			Kind:          alerting.KindUser,
			Symbol:        f.record.Symbol,
			Condition:     f.record.Condition,
			Threshold:     f.record.Value,
			Current:       f.record.Current,
			PercentChange: f.percent,
			At:            at,
		})
	}

	records := make([]storage.TriggerRecord, 0, len(fired))
	for _, f := range fired {
		records = append(records, f.record)
	}
	return records, len(kept)
}

// withoutConsumed removes one occurrence of every consumed rule from alerts.
func withoutConsumed(alerts, consumed []storage.UserAlert) ([]storage.UserAlert, int) {
	if len(consumed) == 0 {
		return alerts, 0
	}
	pending := make(map[string]int, len(consumed))
	for _, c := range consumed {
		pending[alertKey(c)]++
	}
	out := make([]storage.UserAlert, 0, len(alerts))
	dropped := 0
	for _, a := range alerts {
		if k := alertKey(a); pending[k] > 0 {
			pending[k]--
			dropped++
			continue
		}
		out = append(out, a)
	}
	return out, dropped
}

func alertKey(a storage.UserAlert) string {
	return a.Symbol + "|" + string(a.Condition) + "|" + a.Value.String()
}

type firedRule struct {
	alert   storage.UserAlert
	record  storage.TriggerRecord
	percent float64
}

// evaluateRules splits alerts into the ones that fire against snap and the
// ones that stay active, both in their original order. Rules with a
// non-numeric threshold, an unknown condition or an absent symbol are kept.
func evaluateRules(alerts []storage.UserAlert, snap market.Snapshot) ([]firedRule, []storage.UserAlert) {
	var fired []firedRule
	kept := make([]storage.UserAlert, 0, len(alerts))
	for _, a := range alerts {
		threshold, ok := a.Value.Float()
		rec, present := snap[a.Symbol]
		if !ok || !present || !a.Condition.Valid() {
			kept = append(kept, a)
			continue
		}

		current := rec.Price
		if a.Condition.UsesPercent() {
			current = rec.PriceChangePercent
		}
		if !a.Condition.Fires(current, threshold) {
			kept = append(kept, a)
			continue
		}

		fired = append(fired, firedRule{
			alert: a,
			record: storage.TriggerRecord{
				Symbol:    a.Symbol,
				Condition: string(a.Condition),
				Value:     threshold,
				Current:   current,
			},
			percent: rec.PriceChangePercent,
		})
	}
	return fired, kept
}

func (e *Engine) record(ctx context.Context, rec storage.TriggerRecord) {
	if e.deps.Triggers != nil {
		if err := e.deps.Triggers.Append(rec); err != nil {
			metrics.PersistFailures.WithLabelValues("triggers").Inc()
			e.logger.Error().Err(err).Str("symbol", rec.Symbol).Msg("failed to append trigger record")
		}
	}
	if e.deps.Sink != nil {
		if err := e.deps.Sink.InsertTrigger(ctx, rec); err != nil {
			metrics.PersistFailures.WithLabelValues("database").Inc()
			e.logger.Error().Err(err).Str("symbol", rec.Symbol).Msg("failed to mirror trigger record")
		}
	}
}

func (e *Engine) notify(ctx context.Context, note alerting.Notification) {
	if e.deps.Notifier == nil {
		e.logger.Warn().Str("kind", string(note.Kind)).Msg(note.Title() + ": " + note.Text())
		return
	}
	nctx, cancel := context.WithTimeout(ctx, e.opts.NotifyTimeout)
	defer cancel()
	if err := e.deps.Notifier.Notify(nctx, note); err != nil {
		e.logger.Warn().Err(err).Str("kind", string(note.Kind)).Msg(note.Title() + ": " + note.Text())
	}
}

func (e *Engine) acquireLock(ctx context.Context) (func(), bool, error) {
	if e.opts.AdvisoryLockKey == 0 || e.deps.Locker == nil {
		return nil, true, nil
	}
	lctx, cancel := context.WithTimeout(ctx, e.opts.LockTimeout)
	defer cancel()
	unlock, acquired, err := e.deps.Locker.TryAdvisoryLock(lctx, e.opts.AdvisoryLockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

// AddUserAlert appends an alert to the active collection and persists it.
func (e *Engine) AddUserAlert(alert storage.UserAlert) error {
	if alert.Symbol == "" {
		return fmt.Errorf("alert symbol is empty")
	}
	if !alert.Condition.Valid() {
		return fmt.Errorf("unknown alert condition %q", alert.Condition)
	}

	e.book.Lock()
	defer e.book.Unlock()
	err := e.deps.Alerts.Update(func(current []storage.UserAlert) ([]storage.UserAlert, bool) {
		return append(current, alert), true
	})
	if err != nil {
		return fmt.Errorf("save alerts: %w", err)
	}
	e.logger.Info().Str("symbol", alert.Symbol).Str("condition", string(alert.Condition)).
		Str("value", alert.Value.String()).Msg("user alert added")
	return nil
}

// ClearAllUserAlerts empties the active collection.
func (e *Engine) ClearAllUserAlerts() error {
	e.book.Lock()
	defer e.book.Unlock()
	err := e.deps.Alerts.Update(func([]storage.UserAlert) ([]storage.UserAlert, bool) {
		return []storage.UserAlert{}, true
	})
	if err != nil {
		return fmt.Errorf("save alerts: %w", err)
	}
	e.consumed = nil
	e.logger.Info().Msg("user alerts cleared")
	return nil
}

// UserAlerts returns the active collection in persisted order, minus rules
// already consumed by this engine.
func (e *Engine) UserAlerts() []storage.UserAlert {
	e.book.Lock()
	defer e.book.Unlock()
	alerts, _ := withoutConsumed(e.deps.Alerts.Load(), e.consumed)
	return alerts
}
