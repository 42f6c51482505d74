package strategy

import (
	"sip-agent/internal/indicator"
	"sip-agent/internal/model"
)

// Result is the evaluator's verdict for one asset.
type Result struct {
	Snapshot  model.Snapshot
	Flags     model.Flags
	Buy       bool
	Reason    string
	HistoryOK bool
}

// EvaluateCandles runs Evaluate over the candles' closes.
func EvaluateCandles(candles []model.Candle, cfg Config) Result {
	return Evaluate(model.Closes(candles), cfg)
}

// Evaluate computes the indicator set over closes and applies the buy rule
// at the last index:
//
//	uptrendOk = !RequireUptrend || (close > ema50 && ema50 > ema200)
//	greenDip  = rsi <= RSIBuyBelow && z20 <= MaxZBelowEMA20 && uptrendOk
//	turnUp    = MACD histogram crossed to >= 0, else close crossed to >= ema20
//	buy       = greenDip || (turnUp && uptrendOk)
//
// z20 is the rolling z-score of close-ema20. Fewer than MinCandles closes, or
// any required value undefined at the last index, gives no-buy with
// HistoryOK false.
func Evaluate(closes []float64, cfg Config) Result {
	emaS := indicator.EMA(closes, cfg.EMAShort)
	emaM := indicator.EMA(closes, cfg.EMAMedium)
	emaL := indicator.EMA(closes, cfg.EMALong)
	rsi := indicator.RSI(closes, cfg.RSILength)
	hist := indicator.MACDHistogram(closes, cfg.MACDFast, cfg.MACDSlow, cfg.MACDSignal)

	deviation := make([]float64, len(closes))
	for i := range closes {
		if indicator.AllDefined(closes[i], emaS[i]) {
			deviation[i] = closes[i] - emaS[i]
		} else {
			deviation[i] = indicator.Undefined()
		}
	}
	z := indicator.RollingZScore(deviation, cfg.ZScoreLength)

	res := Result{Reason: model.ReasonHold}
	i := len(closes) - 1
	if i < 0 {
		res.Snapshot = undefinedSnapshot()
		return res
	}

	res.Snapshot = model.Snapshot{
		Price:    model.Float(closes[i]),
		EMA20:    model.Float(emaS[i]),
		EMA50:    model.Float(emaM[i]),
		EMA200:   model.Float(emaL[i]),
		RSI:      model.Float(rsi[i]),
		MACDHist: model.Float(hist[i]),
		Z20:      model.Float(z[i]),
	}

	if len(closes) < cfg.MinCandles || i < 1 {
		return res
	}
	if !indicator.AllDefined(closes[i], emaS[i], emaM[i], emaL[i], rsi[i], z[i]) {
		return res
	}
	res.HistoryOK = true

	uptrend := !cfg.RequireUptrend || (closes[i] > emaM[i] && emaM[i] > emaL[i])
	greenDip := rsi[i] <= cfg.RSIBuyBelow && z[i] <= cfg.MaxZBelowEMA20 && uptrend
	turnUp := turnedUp(closes, emaS, hist, i)

	res.Flags = model.Flags{UptrendOK: uptrend, GreenDip: greenDip, TurnUp: turnUp}
	switch {
	case greenDip:
		res.Buy, res.Reason = true, model.ReasonGreenDip
	case turnUp && uptrend:
		res.Buy, res.Reason = true, model.ReasonTurnUp
	}
	return res
}

// turnedUp reports a MACD histogram zero-cross at i, falling back to a close
// crossing above ema20 when the histogram pair is not fully defined.
func turnedUp(closes, ema, hist []float64, i int) bool {
	if indicator.AllDefined(hist[i-1], hist[i]) {
		if hist[i-1] < 0 && hist[i] >= 0 {
			return true
		}
	}
	if indicator.AllDefined(closes[i-1], ema[i-1], closes[i], ema[i]) {
		return closes[i-1] < ema[i-1] && closes[i] >= ema[i]
	}
	return false
}

func undefinedSnapshot() model.Snapshot {
	u := model.Float(indicator.Undefined())
	return model.Snapshot{Price: u, EMA20: u, EMA50: u, EMA200: u, RSI: u, MACDHist: u, Z20: u}
}
