package app

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"ticker-alerts/internal/alerting"
	"ticker-alerts/internal/config"
	"ticker-alerts/internal/market"
	"ticker-alerts/internal/storage"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	cfg := &config.Config{
		Universe: config.UniverseConfig{QuoteAsset: "USDT", Candidates: []string{"BTC", "ETH"}},
		Market:   config.MarketConfig{HistoryCapacity: 10},
		Engine:   config.EngineConfig{AutoEnable: true, AutoPercentThreshold: 3},
		Storage: config.StorageConfig{
			Dir:              t.TempDir(),
			AlertsFile:       "alerts.json",
			HistoryFile:      "alerts_history.json",
			PriceHistoryFile: "price_history.json",
			PriceHistoryMax:  50,
		},
		Export: config.ExportConfig{Width: 320, Height: 200},
	}
	return NewApp(cfg, zerolog.Nop())
}

func TestAddListClearAlerts(t *testing.T) {
	a := newTestApp(t)

	alert, err := a.AddAlert("eth", "below", "2000")
	if err != nil {
		t.Fatalf("AddAlert: %v", err)
	}
	if alert.Symbol != "ETHUSDT" || alert.Condition != storage.PriceBelow || alert.Value.String() != "2000" {
		t.Fatalf("unexpected alert %+v", alert)
	}
	if _, err := a.AddAlert("BTCUSDT", "percent_above", "5.5"); err != nil {
		t.Fatalf("AddAlert: %v", err)
	}
	if _, err := a.AddAlert("BTC", "sideways", "1"); err == nil {
		t.Fatal("unknown condition should fail")
	}
	if _, err := a.AddAlert("BTC", "price_above", "lots"); err == nil {
		t.Fatal("non-numeric value should fail")
	}

	alerts := a.openFiles().alerts.Load()
	if len(alerts) != 2 || alerts[1].Symbol != "BTCUSDT" {
		t.Fatalf("unexpected persisted alerts %+v", alerts)
	}

	var buf bytes.Buffer
	if err := writeAlertTable(&buf, alerts); err != nil {
		t.Fatalf("writeAlertTable: %v", err)
	}
	if !strings.Contains(buf.String(), "ETHUSDT") || !strings.Contains(buf.String(), "percent_above") {
		t.Fatalf("unexpected table:\n%s", buf.String())
	}

	if err := a.ClearAlerts(); err != nil {
		t.Fatalf("ClearAlerts: %v", err)
	}
	if got := a.openFiles().alerts.Load(); len(got) != 0 {
		t.Fatalf("alerts not cleared: %+v", got)
	}
}

func TestSimulateAlertDoesNotConsume(t *testing.T) {
	a := newTestApp(t)
	if _, err := a.AddAlert("ETH", "price_below", "2000"); err != nil {
		t.Fatalf("AddAlert: %v", err)
	}

	if err := a.SimulateAlert(context.Background(), SimulateOptions{Symbol: "ETH", Price: 1999.99, Percent: -1}); err != nil {
		t.Fatalf("SimulateAlert: %v", err)
	}

	f := a.openFiles()
	if got := f.alerts.Load(); len(got) != 1 {
		t.Fatalf("simulation consumed alerts: %+v", got)
	}
	if got := f.triggers.List(); len(got) != 0 {
		t.Fatalf("simulation wrote trigger history: %+v", got)
	}
	if got := f.prices.ReadAll(); len(got) != 0 {
		t.Fatalf("simulation wrote price history: %+v", got)
	}
}

func TestExportWritesCSVAndPNG(t *testing.T) {
	a := newTestApp(t)
	if err := a.openFiles().prices.Append(map[string]float64{"BTCUSDT": 60000}); err != nil {
		t.Fatalf("seed archive: %v", err)
	}
	if err := a.openFiles().prices.Append(map[string]float64{"BTCUSDT": 60500.5}); err != nil {
		t.Fatalf("seed archive: %v", err)
	}

	out := t.TempDir()
	csvPath := filepath.Join(out, "btc.csv")
	pngPath := filepath.Join(out, "charts", "btc.png")
	if err := a.Export(ExportOptions{Symbol: "btc", CSVPath: csvPath, PNGPath: pngPath}); err != nil {
		t.Fatalf("Export: %v", err)
	}

	data, err := os.ReadFile(csvPath)
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if string(data) != "index,price\n0,60000\n1,60500.5\n" {
		t.Fatalf("unexpected csv %q", data)
	}

	png, err := os.ReadFile(pngPath)
	if err != nil {
		t.Fatalf("read png: %v", err)
	}
	if !bytes.HasPrefix(png, []byte("\x89PNG")) {
		t.Fatal("output is not a PNG")
	}

	if err := a.Export(ExportOptions{Symbol: "DOGE", CSVPath: csvPath}); err == nil {
		t.Fatal("export of unknown symbol should fail")
	}
	if err := a.Export(ExportOptions{Symbol: "BTC"}); err == nil {
		t.Fatal("export without outputs should fail")
	}
}

func TestSnapshotTable(t *testing.T) {
	store := market.NewStore(5)
	store.ApplyTick(market.Tick{Symbol: "BTCUSDT", Price: 61000.5, HighPrice: 62000, LowPrice: 59000, Volume: 1234.5, QuoteVolume: 75_000_000, PriceChangePercent: 4.1})
	store.ApplyTick(market.Tick{Symbol: "BTCUSDT", Price: 61001, HighPrice: 62000, LowPrice: 59000, Volume: 1234.5, QuoteVolume: 75_000_000, PriceChangePercent: 4.1})
	store.ApplyTick(market.Tick{Symbol: "ETHUSDT", Price: 1999.99, PriceChangePercent: -2.44})

	var buf bytes.Buffer
	if err := writeSnapshotTable(&buf, store.Snapshot(), "USDT"); err != nil {
		t.Fatalf("writeSnapshotTable: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header plus two rows, got:\n%s", buf.String())
	}
	if !strings.Contains(lines[1], "Bitcoin") || !strings.Contains(lines[1], "75.00M") || !strings.Contains(lines[1], "▲") {
		t.Fatalf("unexpected BTC row %q", lines[1])
	}
	if !strings.Contains(lines[2], "Ethereum") || !strings.Contains(lines[2], "-2.44") {
		t.Fatalf("unexpected ETH row %q", lines[2])
	}
}

func TestTriggerTableAndFormatPrice(t *testing.T) {
	var buf bytes.Buffer
	recs := []storage.TriggerRecord{{Symbol: "ETHUSDT", Condition: "price_below", Value: 2000, Current: 1999.99}}
	if err := writeTriggerTable(&buf, recs); err != nil {
		t.Fatalf("writeTriggerTable: %v", err)
	}
	if !strings.Contains(buf.String(), "1999.99") {
		t.Fatalf("unexpected table %q", buf.String())
	}
	if got := formatPrice(0.000012345678); got != "0.00001235" {
		t.Fatalf("unexpected rounding %q", got)
	}
}

func TestQueuedTelegramDeliveryDoesNotBlockNotify(t *testing.T) {
	release := make(chan struct{})
	delivered := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		delivered <- r.URL.Path
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	a := newTestApp(t)
	a.Config.Alerting.QueueSize = 4
	a.Config.Engine.NotifyTimeout = 5 * time.Second
	a.Config.Alerting.Telegram = config.TelegramConfig{Enabled: true, BotToken: "token", ChatID: "chat", APIBase: srv.URL, Timeout: 5 * time.Second}

	queue := a.newQueue()
	note := alerting.Notification{Kind: alerting.KindUser, Symbol: "ETHUSDT", Condition: "price_below", Threshold: 2000, Current: 1999}

	done := make(chan error, 1)
	go func() { done <- a.newNotifier(queue).Notify(context.Background(), note) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Notify: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Notify waited for the Telegram round-trip")
	}

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := queue.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case path := <-delivered:
		if !strings.Contains(path, "sendMessage") {
			t.Fatalf("unexpected path %s", path)
		}
	default:
		t.Fatal("queued delivery was not sent before Close returned")
	}
}
