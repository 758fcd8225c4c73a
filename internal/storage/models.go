package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Condition is the comparison a user alert applies.
type Condition string

const (
	PriceAbove   Condition = "price_above"
	PriceBelow   Condition = "price_below"
	PercentAbove Condition = "percent_above"
	PercentBelow Condition = "percent_below"

	// AutoDetect labels trigger records written by the automatic volatility pass.
	AutoDetect Condition = "auto_detect"
)

// Conditions lists the user-selectable conditions.
var Conditions = []Condition{PriceAbove, PriceBelow, PercentAbove, PercentBelow}

// ParseCondition accepts the canonical labels plus a few spellings used on the CLI.
func ParseCondition(s string) (Condition, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	switch norm {
	case string(PriceAbove), "above":
		return PriceAbove, nil
	case string(PriceBelow), "below":
		return PriceBelow, nil
	case string(PercentAbove), "pct_above":
		return PercentAbove, nil
	case string(PercentBelow), "pct_below":
		return PercentBelow, nil
	}
	return "", fmt.Errorf("unknown condition %q", s)
}

// Valid reports whether c is one of the user conditions.
func (c Condition) Valid() bool {
	switch c {
	case PriceAbove, PriceBelow, PercentAbove, PercentBelow:
		return true
	}
	return false
}

// UsesPercent reports whether c compares the 24h percent change instead of the price.
func (c Condition) UsesPercent() bool {
	return c == PercentAbove || c == PercentBelow
}

// Fires applies the strict comparison; equality never fires.
func (c Condition) Fires(current, threshold float64) bool {
	switch c {
	case PriceAbove, PercentAbove:
		return current > threshold
	case PriceBelow, PercentBelow:
		return current < threshold
	}
	return false
}

// Threshold keeps the persisted value verbatim so that alerts written by
// other tools round-trip unchanged, even when they do not hold a number.
type Threshold struct {
	raw json.RawMessage
}

// NewThreshold wraps a numeric threshold.
func NewThreshold(v float64) Threshold {
	return Threshold{raw: json.RawMessage(strconv.FormatFloat(v, 'f', -1, 64))}
}

// Float coerces the threshold to a finite number.
func (t Threshold) Float() (float64, bool) {
	raw := bytes.TrimSpace(t.raw)
	if len(raw) == 0 {
		return 0, false
	}
	text := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0, false
		}
		text = strings.TrimSpace(text)
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// String renders the raw value for display.
func (t Threshold) String() string {
	if len(t.raw) == 0 {
		return "null"
	}
	return string(t.raw)
}

// MarshalJSON implements json.Marshaler.
func (t Threshold) MarshalJSON() ([]byte, error) {
	if len(t.raw) == 0 {
		return []byte("null"), nil
	}
	return t.raw, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Threshold) UnmarshalJSON(data []byte) error {
	t.raw = append(json.RawMessage(nil), data...)
	return nil
}

// UserAlert is a persisted one-shot threshold rule.
type UserAlert struct {
	Symbol    string    `json:"symbol"`
	Condition Condition `json:"condition"`
	Value     Threshold `json:"value"`
}

// TriggerRecord is an append-only audit entry written whenever an alert fires.
type TriggerRecord struct {
	Symbol    string  `json:"symbol"`
	Condition string  `json:"condition"`
	Value     float64 `json:"value"`
	Current   float64 `json:"current"`
}

// MirroredTrigger is a trigger record as stored in PostgreSQL.
type MirroredTrigger struct {
	ID int64
	TriggerRecord
	CreatedAt time.Time
}
