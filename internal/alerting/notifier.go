package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Kind separates blocking user-alert signals from transient automatic ones.
type Kind string

const (
	KindUser Kind = "user"
	KindAuto Kind = "auto"
)

// Notification carries the alert context to a delivery channel.
type Notification struct {
	Kind          Kind
	Symbol        string
	Condition     string
	Threshold     float64
	Current       float64
	PercentChange float64
	At            time.Time
}

// Title is the headline used by every channel.
func (n Notification) Title() string {
	if n.Kind == KindAuto {
		return "Automatic alert"
	}
	return "ALERT TRIGGERED"
}

// Text is the single-line alert body.
func (n Notification) Text() string {
	if n.Kind == KindAuto {
		return fmt.Sprintf("%s moved %.2f%% in 24h (price %s)", n.Symbol, n.PercentChange, formatFloat(n.Current))
	}
	return fmt.Sprintf("%s hit %s %s: %s", n.Symbol, n.Condition, formatFloat(n.Threshold), formatFloat(n.Current))
}

// Notifier defines alert delivery.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// LogNotifier writes alerts to the structured log.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier builds a log-backed notifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

// Notify logs the alert; user alerts at warn level so they stand out.
func (n *LogNotifier) Notify(_ context.Context, note Notification) error {
	ev := n.logger.Info()
	if note.Kind == KindUser {
		ev = n.logger.Warn()
	}
	ev.Str("kind", string(note.Kind)).
		Str("symbol", note.Symbol).
		Str("condition", note.Condition).
		Float64("threshold", note.Threshold).
		Float64("current", note.Current).
		Float64("percent_change", note.PercentChange).
		Msg(note.Title() + ": " + note.Text())
	return nil
}

// Fanout delivers to every notifier and joins their errors.
type Fanout []Notifier

// Notify implements Notifier.
func (f Fanout) Notify(ctx context.Context, note Notification) error {
	var errs []error
	for _, n := range f {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, note); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// UserOnly drops automatic notifications before they reach the wrapped notifier.
type UserOnly struct {
	Next Notifier
}

// Notify implements Notifier.
func (u UserOnly) Notify(ctx context.Context, note Notification) error {
	if note.Kind != KindUser || u.Next == nil {
		return nil
	}
	return u.Next.Notify(ctx, note)
}

// TelegramNotifier pushes alerts through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier builds a Telegram notifier.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify calls sendMessage.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram unexpected status: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().Str("symbol", note.Symbol).Str("kind", string(note.Kind)).Msg("alert delivered (telegram)")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString("[" + note.Title() + "]\n")
	builder.WriteString(fmt.Sprintf("Symbol: %s\n", note.Symbol))
	if note.Kind == KindAuto {
		builder.WriteString(fmt.Sprintf("24h change: %.2f%%\n", note.PercentChange))
		builder.WriteString(fmt.Sprintf("Price: %s\n", formatFloat(note.Current)))
	} else {
		builder.WriteString(fmt.Sprintf("Condition: %s %s\n", note.Condition, formatFloat(note.Threshold)))
		builder.WriteString(fmt.Sprintf("Current: %s\n", formatFloat(note.Current)))
	}
	if !note.At.IsZero() {
		builder.WriteString(fmt.Sprintf("At: %s UTC\n", note.At.UTC().Format(time.RFC3339)))
	}
	return builder.String()
}

func formatFloat(v float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.8f", v), "0"), ".")
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = Fanout(nil)
	_ Notifier = UserOnly{}
)
