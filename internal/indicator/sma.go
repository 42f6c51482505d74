package indicator

// SMA calculates the Simple Moving Average with a running sum.
// Undefined for indices < length-1.
func SMA(series []float64, length int) []float64 {
	out := undefinedSeries(len(series))
	if length < 1 || length > len(series) {
		return out
	}

	sum := 0.0
	for i, v := range series {
		sum += v
		if i >= length {
			// drop the value leaving the window
			sum -= series[i-length]
		}
		if i >= length-1 {
			out[i] = sum / float64(length)
		}
	}
	return out
}
