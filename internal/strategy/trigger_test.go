package strategy

import (
	"math"
	"reflect"
	"strings"
	"testing"

	"sip-agent/internal/model"
)

// ────────────────────────────────────────────────────────────
// Fixtures
// ────────────────────────────────────────────────────────────

func flat(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// rally is a steady climb of 0.5 per bar from 100.
func rally(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 100 + 0.5*float64(i)
	}
	return out
}

// pullback appends three 3-point drops to a 250-bar rally.
//
// At the last bar: RSI ≈ 40, z20 ≈ -3.4, close ≈ 215.5 > ema50 ≈ 212.9 > ema200.
func pullback() []float64 {
	s := rally(250)
	last := s[len(s)-1]
	for i := 1; i <= 3; i++ {
		s = append(s, last-3*float64(i))
	}
	return s
}

// ────────────────────────────────────────────────────────────
// Config
// ────────────────────────────────────────────────────────────

func TestDefaultConfig_Validates(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestConfig_Validate_Rejects(t *testing.T) {
	cases := map[string]func(*Config){
		"zero rsi":       func(c *Config) { c.RSILength = 0 },
		"negative ema":   func(c *Config) { c.EMALong = -1 },
		"zero zscore":    func(c *Config) { c.ZScoreLength = 0 },
		"fast == slow":   func(c *Config) { c.MACDFast = c.MACDSlow },
		"fast > slow":    func(c *Config) { c.MACDFast = 30 },
		"negative min":   func(c *Config) { c.MinCandles = -5 },
		"zero signal":    func(c *Config) { c.MACDSignal = 0 },
		"zero ema short": func(c *Config) { c.EMAShort = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

// ────────────────────────────────────────────────────────────
// Fail-closed history handling
// ────────────────────────────────────────────────────────────

func TestEvaluate_BelowMinCandles_NoBuy(t *testing.T) {
	cfg := DefaultConfig()
	for _, series := range [][]float64{
		nil,
		{100},
		rally(cfg.MinCandles - 1),
		pullback()[:cfg.MinCandles-1],
	} {
		res := Evaluate(series, cfg)
		if res.Buy || res.HistoryOK || res.Reason != model.ReasonHold {
			t.Errorf("len=%d: got buy=%v historyOk=%v reason=%q, want no-buy/hold",
				len(series), res.Buy, res.HistoryOK, res.Reason)
		}
	}
}

func TestEvaluate_EmptySeries_SnapshotUndefined(t *testing.T) {
	res := Evaluate(nil, DefaultConfig())
	if !math.IsNaN(float64(res.Snapshot.Price)) || !math.IsNaN(float64(res.Snapshot.RSI)) {
		t.Errorf("empty snapshot should be undefined, got %+v", res.Snapshot)
	}
}

func TestEvaluate_UndefinedLastClose_NoBuy(t *testing.T) {
	s := pullback()
	s[len(s)-1] = math.NaN()
	res := Evaluate(s, DefaultConfig())
	if res.Buy || res.HistoryOK {
		t.Errorf("NaN close: got buy=%v historyOk=%v", res.Buy, res.HistoryOK)
	}
}

func TestEvaluate_MinCandlesZero_SingleCandle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinCandles = 0
	res := Evaluate([]float64{100}, cfg)
	if res.Buy || res.HistoryOK {
		t.Error("single candle must fail closed (i < 1)")
	}
}

// ────────────────────────────────────────────────────────────
// Scenarios
// ────────────────────────────────────────────────────────────

func TestEvaluate_Flat220_NoBuy(t *testing.T) {
	res := Evaluate(flat(220, 100), DefaultConfig())

	if res.Buy {
		t.Fatalf("flat series bought: %+v", res)
	}
	if res.Reason != model.ReasonHold {
		t.Errorf("reason=%q, want hold", res.Reason)
	}
	if res.Flags.GreenDip || res.Flags.TurnUp || res.Flags.UptrendOK {
		t.Errorf("flags=%+v, want all false", res.Flags)
	}
	if float64(res.Snapshot.Z20) != 0 {
		t.Errorf("z20=%v, want 0", res.Snapshot.Z20)
	}
	if float64(res.Snapshot.RSI) != 100 {
		t.Errorf("rsi=%v, want 100 (no losses)", res.Snapshot.RSI)
	}
}

func TestEvaluate_SteadyRally_Holds(t *testing.T) {
	res := Evaluate(rally(300), DefaultConfig())
	if res.Buy || res.Reason != model.ReasonHold {
		t.Errorf("rally: buy=%v reason=%q, want hold", res.Buy, res.Reason)
	}
	if !res.HistoryOK || !res.Flags.UptrendOK {
		t.Errorf("rally: historyOk=%v uptrend=%v, want both true", res.HistoryOK, res.Flags.UptrendOK)
	}
}

func TestEvaluate_GreenDip(t *testing.T) {
	res := Evaluate(pullback(), DefaultConfig())

	if !res.Buy || res.Reason != model.ReasonGreenDip {
		t.Fatalf("got buy=%v reason=%q snapshot=%+v, want green_dip", res.Buy, res.Reason, res.Snapshot)
	}
	if !res.Flags.GreenDip || !res.Flags.UptrendOK {
		t.Errorf("flags=%+v", res.Flags)
	}
	if rsi := float64(res.Snapshot.RSI); rsi > 44 || rsi < 35 {
		t.Errorf("rsi=%.2f, want ≈40", rsi)
	}
	if z := float64(res.Snapshot.Z20); z > -0.5 {
		t.Errorf("z20=%.2f, want ≤ -0.5", z)
	}
}

func TestEvaluate_GreenDip_BlockedByDowntrend(t *testing.T) {
	// Same dip without the rally underneath: ema50 > close.
	s := flat(250, 200)
	for i := 1; i <= 3; i++ {
		s = append(s, 200-3*float64(i))
	}
	res := Evaluate(s, DefaultConfig())
	if res.Buy || res.Flags.UptrendOK {
		t.Errorf("got buy=%v uptrend=%v, want no-buy without uptrend", res.Buy, res.Flags.UptrendOK)
	}

	cfg := DefaultConfig()
	cfg.RequireUptrend = false
	res = Evaluate(s, cfg)
	if !res.Flags.UptrendOK {
		t.Error("uptrend must pass when not required")
	}
}

func TestEvaluate_TurnUp(t *testing.T) {
	// Pullback then a bar that jumps back above ema20.
	s := append(pullback(), 225)
	cfg := DefaultConfig()
	cfg.RSIBuyBelow = -1 // disable green dip

	res := Evaluate(s, cfg)
	if !res.Buy || res.Reason != model.ReasonTurnUp {
		t.Fatalf("got buy=%v reason=%q flags=%+v, want turn_up", res.Buy, res.Reason, res.Flags)
	}
	if res.Flags.GreenDip || !res.Flags.TurnUp || !res.Flags.UptrendOK {
		t.Errorf("flags=%+v", res.Flags)
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	s := pullback()
	cfg := DefaultConfig()
	first := Evaluate(s, cfg)
	for i := 0; i < 5; i++ {
		again := Evaluate(append([]float64(nil), s...), cfg)
		// NaN != NaN, so compare through the JSON-safe string form.
		if !reflect.DeepEqual(first.Flags, again.Flags) || first.Buy != again.Buy ||
			first.Reason != again.Reason || snapshotString(first.Snapshot) != snapshotString(again.Snapshot) {
			t.Fatalf("run %d differs: %+v vs %+v", i, first, again)
		}
	}
}

func TestEvaluateCandles_UsesCloses(t *testing.T) {
	closes := pullback()
	candles := make([]model.Candle, len(closes))
	for i, c := range closes {
		candles[i] = model.Candle{O: c, H: c + 1, L: c - 1, C: c}
	}
	got := EvaluateCandles(candles, DefaultConfig())
	want := Evaluate(closes, DefaultConfig())
	if got.Reason != want.Reason || got.Buy != want.Buy {
		t.Errorf("EvaluateCandles=%+v, Evaluate=%+v", got, want)
	}
}

func snapshotString(s model.Snapshot) string {
	var b strings.Builder
	for _, f := range []model.Float{s.Price, s.EMA20, s.EMA50, s.EMA200, s.RSI, s.MACDHist, s.Z20} {
		raw, _ := f.MarshalJSON()
		b.Write(raw)
		b.WriteByte(',')
	}
	return b.String()
}
