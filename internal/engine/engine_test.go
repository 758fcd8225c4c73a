package engine

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"ticker-alerts/internal/alerting"
	"ticker-alerts/internal/market"
	"ticker-alerts/internal/storage"
)

type recordingNotifier struct {
	mu    sync.Mutex
	notes []alerting.Notification
	err   error
}

func (r *recordingNotifier) Notify(_ context.Context, n alerting.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
	return r.err
}

func (r *recordingNotifier) kinds() []alerting.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]alerting.Kind, 0, len(r.notes))
	for _, n := range r.notes {
		out = append(out, n.Kind)
	}
	return out
}

type fixture struct {
	store    *market.Store
	book     *storage.AlertBook
	triggers *storage.TriggerLog
	prices   *storage.PriceArchive
	notifier *recordingNotifier
	engine   *Engine
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		store:    market.NewStore(10),
		book:     storage.NewAlertBook(filepath.Join(dir, "alerts.json"), zerolog.Nop()),
		triggers: storage.NewTriggerLog(filepath.Join(dir, "alerts_history.json"), zerolog.Nop()),
		prices:   storage.NewPriceArchive(filepath.Join(dir, "price_history.json"), 5, zerolog.Nop()),
		notifier: &recordingNotifier{},
	}
	f.engine = New(opts, Deps{
		Source:   f.store,
		Alerts:   f.book,
		Triggers: f.triggers,
		Prices:   f.prices,
		Notifier: f.notifier,
	}, zerolog.Nop())
	return f
}

func tick(symbol string, price, pct float64) market.Tick {
	return market.Tick{Symbol: symbol, Price: price, OpenPrice: price, HighPrice: price, LowPrice: price, Volume: 1, PriceChangePercent: pct}
}

func TestAutomaticAlertFiresAboveThreshold(t *testing.T) {
	f := newFixture(t, Options{AutoEnable: true, AutoPercentThreshold: 3.0})
	f.store.ApplyTick(tick("BTCUSDT", 61000, 4.1))
	f.store.ApplyTick(tick("ETHUSDT", 2000, -2.9))
	f.store.ApplyTick(tick("SOLUSDT", 150, -3.0))

	report, err := f.engine.Evaluate(context.Background())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	if len(report.Auto) != 2 || report.Auto[0].Symbol != "BTCUSDT" || report.Auto[1].Symbol != "SOLUSDT" {
		t.Fatalf("unexpected automatic triggers %+v", report.Auto)
	}
	btc := report.Auto[0]
	if btc.Condition != "auto_detect" || btc.Value != 4.1 || btc.Current != 61000 {
		t.Fatalf("unexpected BTC record %+v", btc)
	}

	history := f.triggers.List()
	if len(history) != 2 {
		t.Fatalf("expected 2 trigger records, got %d", len(history))
	}
	if kinds := f.notifier.kinds(); len(kinds) != 2 || kinds[0] != alerting.KindAuto {
		t.Fatalf("unexpected notifications %v", kinds)
	}

	// no dedup: the condition still holds on the next cycle
	if _, err := f.engine.Evaluate(context.Background()); err != nil {
		t.Fatalf("second Evaluate: %v", err)
	}
	if got := len(f.triggers.List()); got != 4 {
		t.Fatalf("automatic alerts should repeat every cycle, got %d records", got)
	}
}

func TestAutomaticPassDisabled(t *testing.T) {
	f := newFixture(t, Options{AutoEnable: false, AutoPercentThreshold: 3.0})
	f.store.ApplyTick(tick("BTCUSDT", 61000, 9))

	report, err := f.engine.Evaluate(context.Background())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(report.Auto) != 0 || len(f.triggers.List()) != 0 {
		t.Fatalf("disabled automatic pass fired: %+v", report)
	}
}

func TestUserAlertFiresOnceAndIsRemoved(t *testing.T) {
	f := newFixture(t, Options{})
	eth := storage.UserAlert{Symbol: "ETHUSDT", Condition: storage.PriceBelow, Value: storage.NewThreshold(2000)}
	btc := storage.UserAlert{Symbol: "BTCUSDT", Condition: storage.PriceAbove, Value: storage.NewThreshold(100000)}
	if err := f.engine.AddUserAlert(eth); err != nil {
		t.Fatalf("AddUserAlert: %v", err)
	}
	if err := f.engine.AddUserAlert(btc); err != nil {
		t.Fatalf("AddUserAlert: %v", err)
	}

	f.store.ApplyTick(tick("ETHUSDT", 1999.99, -1))
	f.store.ApplyTick(tick("BTCUSDT", 61000, 1))

	report, err := f.engine.Evaluate(context.Background())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(report.User) != 1 || report.Remaining != 1 {
		t.Fatalf("unexpected report %+v", report)
	}

	want := storage.TriggerRecord{Symbol: "ETHUSDT", Condition: "price_below", Value: 2000, Current: 1999.99}
	history := f.triggers.List()
	if len(history) != 1 || history[0] != want {
		t.Fatalf("unexpected trigger history %+v", history)
	}

	remaining := f.book.Load()
	if len(remaining) != 1 || remaining[0].Symbol != "BTCUSDT" {
		t.Fatalf("fired alert not removed: %+v", remaining)
	}

	if _, err := f.engine.Evaluate(context.Background()); err != nil {
		t.Fatalf("second Evaluate: %v", err)
	}
	if got := len(f.triggers.List()); got != 1 {
		t.Fatalf("alert fired twice: %d records", got)
	}
	if kinds := f.notifier.kinds(); len(kinds) != 1 || kinds[0] != alerting.KindUser {
		t.Fatalf("unexpected notifications %v", kinds)
	}
}

func TestUserAlertEqualityDoesNotFire(t *testing.T) {
	f := newFixture(t, Options{})
	_ = f.engine.AddUserAlert(storage.UserAlert{Symbol: "ETHUSDT", Condition: storage.PriceBelow, Value: storage.NewThreshold(2000)})
	_ = f.engine.AddUserAlert(storage.UserAlert{Symbol: "ETHUSDT", Condition: storage.PercentAbove, Value: storage.NewThreshold(5)})
	f.store.ApplyTick(tick("ETHUSDT", 2000, 5))

	report, _ := f.engine.Evaluate(context.Background())
	if len(report.User) != 0 || report.Remaining != 2 {
		t.Fatalf("equality must not fire: %+v", report)
	}
}

func TestAutomaticAlertsNeverTouchUserAlerts(t *testing.T) {
	f := newFixture(t, Options{AutoEnable: true, AutoPercentThreshold: 3.0})
	_ = f.engine.AddUserAlert(storage.UserAlert{Symbol: "BTCUSDT", Condition: storage.PercentAbove, Value: storage.NewThreshold(50)})
	before, err := os.ReadFile(f.book.Path())
	if err != nil {
		t.Fatalf("read alerts: %v", err)
	}

	f.store.ApplyTick(tick("BTCUSDT", 61000, 4.1))
	report, _ := f.engine.Evaluate(context.Background())
	if len(report.Auto) != 1 {
		t.Fatalf("expected one automatic alert, got %+v", report.Auto)
	}

	after, err := os.ReadFile(f.book.Path())
	if err != nil {
		t.Fatalf("read alerts: %v", err)
	}
	if string(before) != string(after) {
		t.Fatalf("active alerts changed:\n%s\n%s", before, after)
	}
}

func TestInvalidUserAlertsAreKept(t *testing.T) {
	f := newFixture(t, Options{})
	raw := `[{"symbol":"ETHUSDT","condition":"price_below","value":"cheap"},
{"symbol":"DOGEUSDT","condition":"price_below","value":1},
{"symbol":"ETHUSDT","condition":"price_sideways","value":1},
{"symbol":"ETHUSDT","condition":"price_below","value":"2500"}]`
	if err := os.WriteFile(f.book.Path(), []byte(raw), 0o644); err != nil {
		t.Fatalf("seed alerts: %v", err)
	}
	f.store.ApplyTick(tick("ETHUSDT", 1999.99, 0))

	report, _ := f.engine.Evaluate(context.Background())
	if len(report.User) != 1 || report.User[0].Value != 2500 {
		t.Fatalf("only the numeric-string rule should fire: %+v", report.User)
	}

	kept := f.book.Load()
	if len(kept) != 3 {
		t.Fatalf("expected 3 kept alerts, got %+v", kept)
	}
	data, _ := json.Marshal(kept[0])
	if string(data) != `{"symbol":"ETHUSDT","condition":"price_below","value":"cheap"}` {
		t.Fatalf("non-numeric threshold altered: %s", data)
	}
}

func TestEvaluateRulesPreservesOrder(t *testing.T) {
	snap := market.Snapshot{
		"BTCUSDT": {Symbol: "BTCUSDT", Price: 100, PriceChangePercent: 2},
	}
	alerts := []storage.UserAlert{
		{Symbol: "BTCUSDT", Condition: storage.PriceAbove, Value: storage.NewThreshold(50)},
		{Symbol: "BTCUSDT", Condition: storage.PriceAbove, Value: storage.NewThreshold(500)},
		{Symbol: "BTCUSDT", Condition: storage.PercentBelow, Value: storage.NewThreshold(3)},
		{Symbol: "BTCUSDT", Condition: storage.PercentAbove, Value: storage.NewThreshold(3)},
	}

	fired, kept := evaluateRules(alerts, snap)
	if len(fired) != 2 || fired[0].record.Condition != "price_above" || fired[1].record.Condition != "percent_below" {
		t.Fatalf("unexpected fired %+v", fired)
	}
	if fired[1].record.Current != 2 {
		t.Fatalf("percent rule should record the percent change, got %v", fired[1].record.Current)
	}
	if len(kept) != 2 || kept[0].Value.String() != "500" || kept[1].Condition != storage.PercentAbove {
		t.Fatalf("unexpected kept %+v", kept)
	}
}

func TestEvaluateAppendsPriceArchive(t *testing.T) {
	f := newFixture(t, Options{})
	f.store.ApplyTick(tick("BTCUSDT", 1, 0))
	for i := 0; i < 7; i++ {
		_, _ = f.engine.Evaluate(context.Background())
	}
	if got := f.prices.Read("BTCUSDT"); len(got) != 5 {
		t.Fatalf("archive should be bounded to 5, got %d", len(got))
	}
}

func TestNotifierFailureDoesNotStopCycle(t *testing.T) {
	f := newFixture(t, Options{})
	f.notifier.err = errors.New("telegram down")
	_ = f.engine.AddUserAlert(storage.UserAlert{Symbol: "ETHUSDT", Condition: storage.PriceBelow, Value: storage.NewThreshold(2000)})
	f.store.ApplyTick(tick("ETHUSDT", 1500, 0))

	if _, err := f.engine.Evaluate(context.Background()); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(f.book.Load()) != 0 || len(f.triggers.List()) != 1 {
		t.Fatal("alert should still be consumed and recorded")
	}
}

type blockingSource struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingSource) Snapshot() market.Snapshot {
	close(b.entered)
	<-b.release
	return market.Snapshot{}
}

func TestEvaluateRejectsOverlap(t *testing.T) {
	src := &blockingSource{entered: make(chan struct{}), release: make(chan struct{})}
	dir := t.TempDir()
	e := New(Options{}, Deps{
		Source: src,
		Alerts: storage.NewAlertBook(filepath.Join(dir, "alerts.json"), zerolog.Nop()),
	}, zerolog.Nop())

	done := make(chan error, 1)
	go func() {
		_, err := e.Evaluate(context.Background())
		done <- err
	}()
	<-src.entered

	if _, err := e.Evaluate(context.Background()); !errors.Is(err, ErrCycleInProgress) {
		t.Fatalf("expected ErrCycleInProgress, got %v", err)
	}
	close(src.release)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("first cycle: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("first cycle did not finish")
	}
}

type fakeLocker struct {
	acquired bool
	err      error
	unlocked int
}

func (l *fakeLocker) TryAdvisoryLock(context.Context, int64) (func(), bool, error) {
	if l.err != nil || !l.acquired {
		return nil, false, l.err
	}
	return func() { l.unlocked++ }, true, nil
}

func TestAdvisoryLockGatesCycle(t *testing.T) {
	f := newFixture(t, Options{AdvisoryLockKey: 42})
	locker := &fakeLocker{}
	f.engine.deps.Locker = locker
	_ = f.engine.AddUserAlert(storage.UserAlert{Symbol: "ETHUSDT", Condition: storage.PriceBelow, Value: storage.NewThreshold(2000)})
	f.store.ApplyTick(tick("ETHUSDT", 1500, 0))

	report, err := f.engine.Evaluate(context.Background())
	if err != nil || !report.Skipped {
		t.Fatalf("cycle should be skipped while lock is held elsewhere: %+v %v", report, err)
	}
	if len(f.book.Load()) != 1 {
		t.Fatal("skipped cycle must not consume alerts")
	}

	locker.acquired = true
	if _, err := f.engine.Evaluate(context.Background()); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if locker.unlocked != 1 || len(f.book.Load()) != 0 {
		t.Fatalf("lock not released or alert not consumed: unlocked=%d", locker.unlocked)
	}

	locker.err = errors.New("db down")
	if _, err := f.engine.Evaluate(context.Background()); err == nil {
		t.Fatal("lock error should surface")
	}
}

type memorySink struct {
	records []storage.TriggerRecord
}

func (m *memorySink) InsertTrigger(_ context.Context, rec storage.TriggerRecord) error {
	m.records = append(m.records, rec)
	return nil
}

func TestTriggerSinkMirrorsRecords(t *testing.T) {
	f := newFixture(t, Options{AutoEnable: true, AutoPercentThreshold: 3})
	sink := &memorySink{}
	f.engine.deps.Sink = sink
	f.store.ApplyTick(tick("BTCUSDT", 61000, 4.1))

	_, _ = f.engine.Evaluate(context.Background())
	if len(sink.records) != 1 || sink.records[0].Condition != "auto_detect" {
		t.Fatalf("unexpected mirrored records %+v", sink.records)
	}
}

func TestMutationAPI(t *testing.T) {
	f := newFixture(t, Options{})
	if err := f.engine.AddUserAlert(storage.UserAlert{Symbol: "", Condition: storage.PriceAbove}); err == nil {
		t.Fatal("empty symbol should be rejected")
	}
	if err := f.engine.AddUserAlert(storage.UserAlert{Symbol: "BTCUSDT", Condition: "nonsense"}); err == nil {
		t.Fatal("unknown condition should be rejected")
	}
	_ = f.engine.AddUserAlert(storage.UserAlert{Symbol: "BTCUSDT", Condition: storage.PriceAbove, Value: storage.NewThreshold(1)})
	if got := f.engine.UserAlerts(); len(got) != 1 {
		t.Fatalf("expected one alert, got %+v", got)
	}
	if err := f.engine.ClearAllUserAlerts(); err != nil {
		t.Fatalf("ClearAllUserAlerts: %v", err)
	}
	if got := f.engine.UserAlerts(); len(got) != 0 {
		t.Fatalf("alerts not cleared: %+v", got)
	}
	data, _ := os.ReadFile(f.book.Path())
	if string(data) != "[]" {
		t.Fatalf("cleared file should hold an empty array, got %q", data)
	}
}

// memoryBook keeps the collection in memory; when failWrites is set, every
// write is rejected after fn has run, the way a full disk behaves.
type memoryBook struct {
	mu         sync.Mutex
	alerts     []storage.UserAlert
	failWrites bool
	writes     int
}

func (m *memoryBook) Load() []storage.UserAlert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]storage.UserAlert(nil), m.alerts...)
}

func (m *memoryBook) Update(fn func([]storage.UserAlert) ([]storage.UserAlert, bool)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next, changed := fn(append([]storage.UserAlert(nil), m.alerts...))
	if !changed {
		return nil
	}
	if m.failWrites {
		return errors.New("disk full")
	}
	m.writes++
	m.alerts = next
	return nil
}

type failingTriggerLog struct{ calls int }

func (f *failingTriggerLog) Append(storage.TriggerRecord) error {
	f.calls++
	return errors.New("read-only file system")
}

type failingArchive struct{ calls int }

func (f *failingArchive) Append(map[string]float64) error {
	f.calls++
	return errors.New("read-only file system")
}

func TestFailedAlertWriteDoesNotRefire(t *testing.T) {
	book := &memoryBook{
		alerts:     []storage.UserAlert{{Symbol: "ETHUSDT", Condition: storage.PriceBelow, Value: storage.NewThreshold(2000)}},
		failWrites: true,
	}
	store := market.NewStore(5)
	store.ApplyTick(tick("ETHUSDT", 1999.99, 0))
	triggers := storage.NewTriggerLog(filepath.Join(t.TempDir(), "alerts_history.json"), zerolog.Nop())
	notifier := &recordingNotifier{}
	e := New(Options{}, Deps{Source: store, Alerts: book, Triggers: triggers, Notifier: notifier}, zerolog.Nop())

	for i := 0; i < 3; i++ {
		if _, err := e.Evaluate(context.Background()); err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
	}
	if got := len(notifier.kinds()); got != 1 {
		t.Fatalf("expected exactly one notification, got %d", got)
	}
	if got := len(triggers.List()); got != 1 {
		t.Fatalf("expected exactly one trigger record, got %d", got)
	}
	if got := e.UserAlerts(); len(got) != 0 {
		t.Fatalf("consumed rule still listed as active: %+v", got)
	}

	// once the disk recovers the pending removal is written out
	book.failWrites = false
	report, err := e.Evaluate(context.Background())
	if err != nil {
		t.Fatalf("recovery cycle: %v", err)
	}
	if len(report.User) != 0 || book.writes != 1 || len(book.Load()) != 0 {
		t.Fatalf("pending removal not persisted: report=%+v writes=%d alerts=%+v", report, book.writes, book.Load())
	}
	if len(e.consumed) != 0 {
		t.Fatalf("pending removals not cleared: %+v", e.consumed)
	}
}

func TestPendingRemovalKeepsIdenticalTwin(t *testing.T) {
	rule := storage.UserAlert{Symbol: "ETHUSDT", Condition: storage.PriceBelow, Value: storage.NewThreshold(2000)}
	got, dropped := withoutConsumed([]storage.UserAlert{rule, rule}, []storage.UserAlert{rule})
	if dropped != 1 || len(got) != 1 {
		t.Fatalf("only one occurrence should be removed: dropped=%d left=%+v", dropped, got)
	}
}

func TestStoreFailuresAreIsolated(t *testing.T) {
	book := &memoryBook{
		alerts:     []storage.UserAlert{{Symbol: "ETHUSDT", Condition: storage.PriceBelow, Value: storage.NewThreshold(2000)}},
		failWrites: true,
	}
	store := market.NewStore(5)
	store.ApplyTick(tick("ETHUSDT", 1999.99, 0))
	store.ApplyTick(tick("BTCUSDT", 61000, 4.1))
	triggers := &failingTriggerLog{}
	archive := &failingArchive{}
	sink := &memorySink{}
	notifier := &recordingNotifier{}
	e := New(Options{AutoEnable: true, AutoPercentThreshold: 3}, Deps{
		Source:   store,
		Alerts:   book,
		Triggers: triggers,
		Prices:   archive,
		Sink:     sink,
		Notifier: notifier,
	}, zerolog.Nop())

	report, err := e.Evaluate(context.Background())
	if err != nil {
		t.Fatalf("persistence failures must not fail the cycle: %v", err)
	}
	if len(report.Auto) != 1 || len(report.User) != 1 {
		t.Fatalf("both passes should still fire: %+v", report)
	}
	if triggers.calls != 2 || archive.calls != 1 {
		t.Fatalf("every store should still be attempted: triggers=%d archive=%d", triggers.calls, archive.calls)
	}
	if len(sink.records) != 2 {
		t.Fatalf("mirror should still receive both records, got %d", len(sink.records))
	}
	if kinds := notifier.kinds(); len(kinds) != 2 || kinds[0] != alerting.KindAuto || kinds[1] != alerting.KindUser {
		t.Fatalf("unexpected notifications %v", kinds)
	}
}

func TestConcurrentAddDuringCycleIsKept(t *testing.T) {
	f := newFixture(t, Options{})
	_ = f.engine.AddUserAlert(storage.UserAlert{Symbol: "ETHUSDT", Condition: storage.PriceBelow, Value: storage.NewThreshold(2000)})
	f.store.ApplyTick(tick("ETHUSDT", 1500, 0))

	other := storage.NewAlertBook(f.book.Path(), zerolog.Nop())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = f.engine.Evaluate(context.Background())
	}()
	go func() {
		defer wg.Done()
		_ = other.Update(func(current []storage.UserAlert) ([]storage.UserAlert, bool) {
			return append(current, storage.UserAlert{Symbol: "BTCUSDT", Condition: storage.PriceAbove, Value: storage.NewThreshold(1e6)}), true
		})
	}()
	wg.Wait()

	left := f.book.Load()
	if len(left) != 1 || left[0].Symbol != "BTCUSDT" {
		t.Fatalf("added alert lost or consumed alert kept: %+v", left)
	}
}
