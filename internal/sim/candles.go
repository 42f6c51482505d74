package sim

import (
	"hash/fnv"
	"math"
	"math/rand/v2"
	"time"
)

// wireCandle is the data delegate's candle shape: unix seconds and floats.
type wireCandle struct {
	T int64   `json:"t"`
	O float64 `json:"o"`
	H float64 `json:"h"`
	L float64 `json:"l"`
	C float64 `json:"c"`
	V float64 `json:"v"`
}

// parseTimeframe accepts Go durations plus "1d"; anything else is 5m.
func parseTimeframe(tf string) time.Duration {
	if tf == "1d" {
		return 24 * time.Hour
	}
	if d, err := time.ParseDuration(tf); err == nil && d > 0 {
		return d
	}
	return 5 * time.Minute
}

// randomWalk returns limit candles for symbol ending at the bar containing
// end. The same symbol, seed, timeframe and limit always give the same
// prices.
func randomWalk(symbol string, seed uint64, tf time.Duration, limit int, end time.Time) []wireCandle {
	h := fnv.New64a()
	h.Write([]byte(symbol))
	sum := h.Sum64()
	rng := rand.New(rand.NewPCG(seed, sum))

	price := 10 + float64(sum%5000)
	const drift, vol = 0.0004, 0.006

	last := end.Truncate(tf)
	out := make([]wireCandle, limit)
	for i := range out {
		open := price
		price *= math.Exp(drift + vol*rng.NormFloat64())
		wick := vol * price * rng.Float64()
		out[i] = wireCandle{
			T: last.Add(-time.Duration(limit-1-i) * tf).Unix(),
			O: round(open),
			H: round(math.Max(open, price) + wick),
			L: round(math.Min(open, price) - wick),
			C: round(price),
			V: round(1000 + 500*rng.Float64()),
		}
	}
	return out
}

func round(v float64) float64 { return math.Round(v*1e6) / 1e6 }
