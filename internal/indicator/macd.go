package indicator

// Conventional MACD periods.
const (
	DefaultMACDFast   = 12
	DefaultMACDSlow   = 26
	DefaultMACDSignal = 9
)

// MACDResult holds the three MACD series.
type MACDResult struct {
	Line      []float64
	Signal    []float64
	Histogram []float64
}

// MACD computes line = EMA(fast) - EMA(slow), the signal EMA of the line, and
// histogram = line - signal.
//
// Undefined line values are fed to the signal EMA as zero. This seeds the
// signal early and must stay as is: historical outputs depend on it.
func MACD(series []float64, fast, slow, signal int) MACDResult {
	n := len(series)
	fastE := EMA(series, fast)
	slowE := EMA(series, slow)

	line := undefinedSeries(n)
	zeroed := make([]float64, n)
	for i := 0; i < n; i++ {
		if AllDefined(fastE[i], slowE[i]) {
			line[i] = fastE[i] - slowE[i]
			zeroed[i] = line[i]
		}
	}

	sig := EMA(zeroed, signal)
	hist := undefinedSeries(n)
	for i := 0; i < n; i++ {
		if AllDefined(line[i], sig[i]) {
			hist[i] = line[i] - sig[i]
		}
	}
	return MACDResult{Line: line, Signal: sig, Histogram: hist}
}

// MACDHistogram returns only the histogram series.
func MACDHistogram(series []float64, fast, slow, signal int) []float64 {
	return MACD(series, fast, slow, signal).Histogram
}
