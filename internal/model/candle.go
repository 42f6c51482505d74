package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Candle is one OHLCV bar as served by the data delegate.
// Series are ordered oldest → newest; only Close feeds the indicator engine.
type Candle struct {
	T time.Time `json:"t"`
	O float64   `json:"o"`
	H float64   `json:"h"`
	L float64   `json:"l"`
	C float64   `json:"c"`
	V float64   `json:"v"`
}

// wireCandle keeps every field raw so numbers may arrive as JSON numbers or strings.
type wireCandle struct {
	T json.RawMessage `json:"t"`
	O json.RawMessage `json:"o"`
	H json.RawMessage `json:"h"`
	L json.RawMessage `json:"l"`
	C json.RawMessage `json:"c"`
	V json.RawMessage `json:"v"`
}

// MarshalJSON encodes t as unix seconds, matching the data delegate.
func (c Candle) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		T int64   `json:"t"`
		O float64 `json:"o"`
		H float64 `json:"h"`
		L float64 `json:"l"`
		C float64 `json:"c"`
		V float64 `json:"v"`
	}{c.T.Unix(), c.O, c.H, c.L, c.C, c.V})
}

// UnmarshalJSON accepts numeric or string fields. Close is mandatory.
func (c *Candle) UnmarshalJSON(b []byte) error {
	var w wireCandle
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	if len(w.C) == 0 || string(w.C) == "null" {
		return fmt.Errorf("candle missing close")
	}

	var err error
	if c.C, err = parseNumber(w.C); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	for _, f := range []struct {
		raw json.RawMessage
		dst *float64
	}{{w.O, &c.O}, {w.H, &c.H}, {w.L, &c.L}, {w.V, &c.V}} {
		if len(f.raw) == 0 || string(f.raw) == "null" {
			continue
		}
		if *f.dst, err = parseNumber(f.raw); err != nil {
			return err
		}
	}
	if len(w.T) > 0 && string(w.T) != "null" {
		if c.T, err = parseTimestamp(w.T); err != nil {
			return fmt.Errorf("t: %w", err)
		}
	}
	return nil
}

func parseNumber(raw json.RawMessage) (float64, error) {
	s := string(raw)
	if strings.HasPrefix(s, `"`) {
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
	}
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

// parseTimestamp takes unix seconds, unix milliseconds or an RFC3339 string.
func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, err
		}
		if ts, err := time.Parse(time.RFC3339, s); err == nil {
			return ts.UTC(), nil
		}
		raw = json.RawMessage(s)
	}
	n, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return time.Time{}, err
	}
	if n > 1e12 {
		return time.UnixMilli(int64(n)).UTC(), nil
	}
	return time.Unix(int64(n), 0).UTC(), nil
}

// DecodeCandles parses a data-delegate body: either a bare array of candles
// or a wrapper object {"candles": [...]}.
func DecodeCandles(body []byte) ([]Candle, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, &MalformedResponseError{Detail: "empty body"}
	}

	switch body[0] {
	case '[':
		var candles []Candle
		if err := json.Unmarshal(body, &candles); err != nil {
			return nil, &MalformedResponseError{Detail: "candle array", Err: err}
		}
		return candles, nil
	case '{':
		var wrapper struct {
			Candles *[]Candle `json:"candles"`
		}
		if err := json.Unmarshal(body, &wrapper); err != nil {
			return nil, &MalformedResponseError{Detail: "candle wrapper", Err: err}
		}
		if wrapper.Candles == nil {
			return nil, &MalformedResponseError{Detail: "expected list or {candles:[...]}, got " + excerpt(body)}
		}
		return *wrapper.Candles, nil
	default:
		return nil, &MalformedResponseError{Detail: "expected list or {candles:[...]}, got " + excerpt(body)}
	}
}

// Closes extracts the close series.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i := range candles {
		out[i] = candles[i].C
	}
	return out
}

// CheckOrdered returns an error naming the first candle whose timestamp
// goes backwards. Candles without timestamps are ignored.
func CheckOrdered(candles []Candle) error {
	for i := 1; i < len(candles); i++ {
		prev, cur := candles[i-1].T, candles[i].T
		if prev.IsZero() || cur.IsZero() {
			continue
		}
		if cur.Before(prev) {
			return fmt.Errorf("candle %d at %s precedes candle %d at %s",
				i, cur.Format(time.RFC3339), i-1, prev.Format(time.RFC3339))
		}
	}
	return nil
}

func excerpt(b []byte) string {
	const max = 200
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
