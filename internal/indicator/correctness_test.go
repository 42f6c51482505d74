package indicator

import (
	"math"
	"math/rand"
	"testing"

	"github.com/markcheno/go-talib"
)

// ────────────────────────────────────────────────────────────
// Helpers
// ────────────────────────────────────────────────────────────

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

func assertUndefined(t *testing.T, label string, v float64) {
	t.Helper()
	if IsDefined(v) {
		t.Errorf("%s: expected undefined, got %.6f", label, v)
	}
}

// randomWalk returns a reproducible positive price series.
func randomWalk(n int, seed int64) []float64 {
	r := rand.New(rand.NewSource(seed))
	out := make([]float64, n)
	price := 100.0
	for i := range out {
		price *= 1 + (r.Float64()-0.5)*0.04
		out[i] = price
	}
	return out
}

func ramp(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

func constant(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// ────────────────────────────────────────────────────────────
// EMA Correctness
// ────────────────────────────────────────────────────────────

func TestEMA_Correctness_Period3(t *testing.T) {
	// EMA(3): k = 2/(3+1) = 0.5, seeded with the first price.
	// Prices: 100, 102, 104, 103, 105
	//   i=0: 100
	//   i=1: 100 + 0.5*(102-100)    = 101
	//   i=2: 101 + 0.5*(104-101)    = 102.5
	//   i=3: 102.5 + 0.5*(103-102.5) = 102.75
	//   i=4: 102.75 + 0.5*(105-102.75) = 103.875
	got := EMA([]float64{100, 102, 104, 103, 105}, 3)
	want := []float64{100, 101, 102.5, 102.75, 103.875}

	for i := range want {
		assertClose(t, "EMA(3)", got[i], want[i], 1e-9)
	}
}

func TestEMA_DefinedFromFirstIndex(t *testing.T) {
	for _, length := range []int{1, 5, 20, 200} {
		out := EMA(randomWalk(50, 1), length)
		if len(out) != 50 {
			t.Fatalf("EMA(%d): len=%d, want 50", length, len(out))
		}
		for i, v := range out {
			if !IsDefined(v) {
				t.Fatalf("EMA(%d): index %d undefined", length, i)
			}
		}
	}
}

func TestEMA_Length1_TracksInput(t *testing.T) {
	// k = 1 → output equals input
	in := randomWalk(20, 2)
	out := EMA(in, 1)
	for i := range in {
		assertClose(t, "EMA(1)", out[i], in[i], 1e-12)
	}
}

func TestEMA_EdgeCases(t *testing.T) {
	if out := EMA(nil, 10); len(out) != 0 {
		t.Errorf("EMA(nil): len=%d, want 0", len(out))
	}
	out := EMA([]float64{1, 2, 3}, 0)
	if len(out) != 3 {
		t.Fatalf("EMA(len 0): len=%d, want 3", len(out))
	}
	for i, v := range out {
		assertUndefined(t, "EMA(length=0)["+string(rune('0'+i))+"]", v)
	}
}

// ────────────────────────────────────────────────────────────
// SMA Correctness
// ────────────────────────────────────────────────────────────

func TestSMA_Correctness_Period3(t *testing.T) {
	// Prices: 100, 102, 104, 103, 105
	// SMA after candle 3: (100+102+104)/3 = 102
	// SMA after candle 4: (102+104+103)/3 = 103
	// SMA after candle 5: (104+103+105)/3 = 104
	out := SMA([]float64{100, 102, 104, 103, 105}, 3)

	assertUndefined(t, "SMA(3)[0]", out[0])
	assertUndefined(t, "SMA(3)[1]", out[1])
	assertClose(t, "SMA(3)[2]", out[2], 102, 1e-9)
	assertClose(t, "SMA(3)[3]", out[3], 103, 1e-9)
	assertClose(t, "SMA(3)[4]", out[4], 104, 1e-9)
}

func TestSMA_Correctness_Period5(t *testing.T) {
	// Prices: 10..16
	// SMA(5) after candle 5: 12, after 6: 13, after 7: 14
	out := SMA([]float64{10, 11, 12, 13, 14, 15, 16}, 5)
	for i := 0; i < 4; i++ {
		assertUndefined(t, "SMA(5) warm-up", out[i])
	}
	assertClose(t, "SMA(5)[4]", out[4], 12, 1e-9)
	assertClose(t, "SMA(5)[5]", out[5], 13, 1e-9)
	assertClose(t, "SMA(5)[6]", out[6], 14, 1e-9)
}

func TestSMA_EqualsTrailingMean(t *testing.T) {
	in := randomWalk(120, 3)
	const length = 20
	out := SMA(in, length)

	for i := range in {
		if i < length-1 {
			assertUndefined(t, "SMA warm-up", out[i])
			continue
		}
		sum := 0.0
		for _, v := range in[i-length+1 : i+1] {
			sum += v
		}
		assertClose(t, "SMA trailing mean", out[i], sum/length, 1e-9)
	}
}

func TestSMA_MatchesTalib(t *testing.T) {
	in := randomWalk(300, 4)
	const length = 14
	ours := SMA(in, length)
	ref := talib.Sma(in, length)

	for i := length - 1; i < len(in); i++ {
		assertClose(t, "SMA vs talib", ours[i], ref[i], 1e-9)
	}
}

func TestSMA_TooShort(t *testing.T) {
	out := SMA([]float64{1, 2}, 3)
	if len(out) != 2 {
		t.Fatalf("len=%d, want 2", len(out))
	}
	assertUndefined(t, "SMA short[0]", out[0])
	assertUndefined(t, "SMA short[1]", out[1])
	if out := SMA(nil, 3); len(out) != 0 {
		t.Errorf("SMA(nil): len=%d, want 0", len(out))
	}
}

// ────────────────────────────────────────────────────────────
// RSI Correctness (Wilder's Method)
// ────────────────────────────────────────────────────────────

func TestRSI_Correctness_Period5(t *testing.T) {
	// Prices: 44, 44.34, 44.09, 43.61, 44.33, 44.83, 45.10, 45.42, 45.84
	//
	// Deltas 1..5: +0.34, -0.25, -0.48, +0.72, +0.50
	//   avgGain = 1.56/5 = 0.312, avgLoss = 0.73/5 = 0.146
	//   RSI[5] = 100 - 100/(1+2.13699) = 68.122
	// Delta 6 = +0.27: avgGain 0.3036, avgLoss 0.1168 → RSI[6] = 72.217
	// Delta 7 = +0.32: avgGain 0.30688, avgLoss 0.09344 → RSI[7] = 76.659
	// Delta 8 = +0.42: avgGain 0.329504, avgLoss 0.074752 → RSI[8] = 81.509
	prices := []float64{44, 44.34, 44.09, 43.61, 44.33, 44.83, 45.10, 45.42, 45.84}
	out := RSI(prices, 5)

	for i := 0; i < 5; i++ {
		assertUndefined(t, "RSI(5) warm-up", out[i])
	}
	assertClose(t, "RSI(5)[5]", out[5], 68.122, 0.01)
	assertClose(t, "RSI(5)[6]", out[6], 72.217, 0.01)
	assertClose(t, "RSI(5)[7]", out[7], 76.659, 0.01)
	assertClose(t, "RSI(5)[8]", out[8], 81.509, 0.01)
}

func TestRSI_MatchesTalibAfterConvergence(t *testing.T) {
	in := randomWalk(400, 5)
	ours := RSI(in, DefaultRSILength)
	ref := talib.Rsi(in, DefaultRSILength)

	for i := 300; i < len(in); i++ {
		assertClose(t, "RSI vs talib", ours[i], ref[i], 1e-6)
	}
}

func TestRSI_Bounded(t *testing.T) {
	for seed := int64(10); seed < 20; seed++ {
		for i, v := range RSI(randomWalk(200, seed), DefaultRSILength) {
			if !IsDefined(v) {
				if i >= DefaultRSILength {
					t.Fatalf("seed %d: index %d undefined after warm-up", seed, i)
				}
				continue
			}
			if v < 0 || v > 100 {
				t.Fatalf("seed %d: RSI[%d]=%.4f out of [0,100]", seed, i, v)
			}
		}
	}
}

func TestRSI_AllUp_Is100(t *testing.T) {
	out := RSI(ramp(30, 100, 1), 5)
	assertClose(t, "RSI all up", Last(out), 100, 1e-9)
}

func TestRSI_AllDown_Is0(t *testing.T) {
	out := RSI(ramp(30, 200, -1), 5)
	assertClose(t, "RSI all down", Last(out), 0, 1e-9)
}

func TestRSI_MostlyUpApproaches100(t *testing.T) {
	// One early loss, then a long strictly increasing run: the loss decays away.
	in := append([]float64{100, 99}, ramp(300, 100, 0.5)...)
	out := RSI(in, DefaultRSILength)
	if v := Last(out); v < 99.9 {
		t.Errorf("RSI after long rally = %.4f, want → 100", v)
	}
}

func TestRSI_Flat_Is100(t *testing.T) {
	// Zero average loss is treated as infinite RS.
	out := RSI(constant(20, 100), 5)
	assertClose(t, "RSI flat", Last(out), 100, 1e-9)
}

func TestRSI_TooShort(t *testing.T) {
	out := RSI([]float64{1, 2, 3}, 14)
	for i, v := range out {
		if IsDefined(v) {
			t.Errorf("index %d: expected undefined", i)
		}
	}
	if out := RSI([]float64{1}, 14); len(out) != 1 || IsDefined(out[0]) {
		t.Errorf("single value: got %v", out)
	}
}

// ────────────────────────────────────────────────────────────
// MACD
// ────────────────────────────────────────────────────────────

func TestMACD_LineAndSignal(t *testing.T) {
	in := randomWalk(100, 6)
	res := MACD(in, 12, 26, 9)
	fast := EMA(in, 12)
	slow := EMA(in, 26)
	sig := EMA(res.Line, 9)

	for i := range in {
		assertClose(t, "MACD line", res.Line[i], fast[i]-slow[i], 1e-12)
		assertClose(t, "MACD signal", res.Signal[i], sig[i], 1e-12)
		assertClose(t, "MACD hist", res.Histogram[i], res.Line[i]-res.Signal[i], 1e-12)
	}
	// both EMAs start at series[0]
	assertClose(t, "hist[0]", res.Histogram[0], 0, 1e-12)
}

func TestMACD_ConstantSeriesIsZero(t *testing.T) {
	for i, v := range MACDHistogram(constant(60, 42), DefaultMACDFast, DefaultMACDSlow, DefaultMACDSignal) {
		if v != 0 {
			t.Fatalf("hist[%d] = %v, want 0", i, v)
		}
	}
}

func TestMACD_InvalidLengths(t *testing.T) {
	// An undefined fast EMA leaves the line undefined; the signal sees zeros.
	res := MACD([]float64{1, 2, 3}, 0, 26, 9)
	for i := range res.Line {
		assertUndefined(t, "line", res.Line[i])
		assertUndefined(t, "hist", res.Histogram[i])
		assertClose(t, "signal", res.Signal[i], 0, 0)
	}
	if out := MACDHistogram(nil, 12, 26, 9); len(out) != 0 {
		t.Errorf("MACDHistogram(nil): len=%d", len(out))
	}
}

// ────────────────────────────────────────────────────────────
// Rolling Z-Score
// ────────────────────────────────────────────────────────────

func TestRollingZScore_HandCalculated(t *testing.T) {
	// Window 3 over 1, 2, 3: mean 2, population var 2/3, sd 0.816497
	// z = (3-2)/0.816497 = 1.224745
	out := RollingZScore([]float64{1, 2, 3, 3}, 3)
	assertUndefined(t, "z[0]", out[0])
	assertUndefined(t, "z[1]", out[1])
	assertClose(t, "z[2]", out[2], 1.224745, 1e-6)
	// 2, 3, 3: mean 8/3, var ((2/3)^2 + 2*(1/3)^2)/3 = 2/9, sd 0.471405
	// z = (3 - 8/3)/0.471405 = 0.707107
	assertClose(t, "z[3]", out[3], 0.707107, 1e-6)
}

func TestRollingZScore_ConstantIsZero(t *testing.T) {
	for _, v := range []float64{0, 100, 0.1, -3.3} {
		out := RollingZScore(constant(50, v), 20)
		for i := 19; i < len(out); i++ {
			if out[i] != 0 {
				t.Fatalf("constant %v: z[%d] = %v, want 0", v, i, out[i])
			}
		}
	}
}

func TestRollingZScore_UndefinedInWindow(t *testing.T) {
	in := []float64{math.NaN(), 1, 2, 3, 4}
	out := RollingZScore(in, 3)
	assertUndefined(t, "z[2] (window holds NaN)", out[2])
	if !IsDefined(out[3]) || !IsDefined(out[4]) {
		t.Errorf("expected defined values once NaN leaves the window, got %v", out)
	}
}

func TestRollingZScore_EdgeCases(t *testing.T) {
	if out := RollingZScore(nil, 20); len(out) != 0 {
		t.Errorf("nil: len=%d", len(out))
	}
	out := RollingZScore([]float64{1, 2}, 20)
	if len(out) != 2 || IsDefined(out[0]) || IsDefined(out[1]) {
		t.Errorf("too short: got %v", out)
	}
	out = RollingZScore([]float64{1, 2}, 0)
	if len(out) != 2 || IsDefined(out[1]) {
		t.Errorf("window 0: got %v", out)
	}
}

func TestHelpers(t *testing.T) {
	if IsDefined(Undefined()) {
		t.Error("Undefined() must not be defined")
	}
	if !AllDefined(1, 2, 3) || AllDefined(1, math.NaN()) {
		t.Error("AllDefined mismatch")
	}
	if IsDefined(Last(nil)) {
		t.Error("Last(nil) must be undefined")
	}
	if Last([]float64{1, 2}) != 2 {
		t.Error("Last mismatch")
	}
}
