package indicator

// EMA calculates the Exponential Moving Average.
//
// Seeded with series[0] rather than an SMA, so the output is defined from the
// first index onward. Callers (deviation from EMA20, MACD) rely on this.
func EMA(series []float64, length int) []float64 {
	if length < 1 {
		return undefinedSeries(len(series))
	}
	out := make([]float64, len(series))
	if len(series) == 0 {
		return out
	}

	k := 2.0 / float64(length+1)
	prev := series[0]
	out[0] = prev
	for i := 1; i < len(series); i++ {
		prev += k * (series[i] - prev)
		out[i] = prev
	}
	return out
}
