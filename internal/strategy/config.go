// Package strategy decides whether to buy an asset from its close history.
//
// Evaluate is a pure function of the close series and an immutable Config:
// it computes the indicator set, derives the named trigger flags and returns
// a decision with a reason code. Insufficient or undefined history always
// yields a no-buy result.
package strategy

import "fmt"

// Config holds the indicator lengths and trigger thresholds.
type Config struct {
	RSILength    int
	EMAShort     int
	EMAMedium    int
	EMALong      int
	MACDFast     int
	MACDSlow     int
	MACDSignal   int
	ZScoreLength int

	RSIBuyBelow    float64
	MaxZBelowEMA20 float64
	MinCandles     int
	RequireUptrend bool
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		RSILength:      14,
		EMAShort:       20,
		EMAMedium:      50,
		EMALong:        200,
		MACDFast:       12,
		MACDSlow:       26,
		MACDSignal:     9,
		ZScoreLength:   20,
		RSIBuyBelow:    44,
		MaxZBelowEMA20: -0.5,
		MinCandles:     220,
		RequireUptrend: true,
	}
}

// Validate rejects configs the evaluator cannot run with.
func (c Config) Validate() error {
	lengths := []struct {
		name string
		v    int
	}{
		{"RSI_LEN", c.RSILength},
		{"EMA_SHORT", c.EMAShort},
		{"EMA_MED", c.EMAMedium},
		{"EMA_LONG", c.EMALong},
		{"MACD_FAST", c.MACDFast},
		{"MACD_SLOW", c.MACDSlow},
		{"MACD_SIG", c.MACDSignal},
		{"ZSCORE_LEN", c.ZScoreLength},
	}
	for _, l := range lengths {
		if l.v < 1 {
			return fmt.Errorf("strategy: %s must be positive, got %d", l.name, l.v)
		}
	}
	if c.MACDFast >= c.MACDSlow {
		return fmt.Errorf("strategy: MACD_FAST (%d) must be below MACD_SLOW (%d)", c.MACDFast, c.MACDSlow)
	}
	if c.MinCandles < 0 {
		return fmt.Errorf("strategy: MIN_CANDLES must not be negative, got %d", c.MinCandles)
	}
	return nil
}
