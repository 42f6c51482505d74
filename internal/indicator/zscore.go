package indicator

import "math"

// RollingZScore standardizes each value against the population mean and
// standard deviation of the trailing window ending at it.
//
// A window of identical values has zero deviation and scores 0. A window
// containing an undefined value leaves that index undefined.
func RollingZScore(series []float64, window int) []float64 {
	out := undefinedSeries(len(series))
	if window < 1 || window > len(series) {
		return out
	}

	n := float64(window)
	for i := window - 1; i < len(series); i++ {
		win := series[i-window+1 : i+1]
		if !AllDefined(win...) {
			continue
		}

		sum := 0.0
		flat := true
		for _, v := range win {
			sum += v
			if v != win[0] {
				flat = false
			}
		}
		if flat {
			out[i] = 0
			continue
		}

		mean := sum / n
		variance := 0.0
		for _, v := range win {
			d := v - mean
			variance += d * d
		}
		variance = math.Max(variance/n, 0)
		sd := math.Sqrt(variance)
		if sd == 0 {
			out[i] = 0
			continue
		}
		out[i] = (series[i] - mean) / sd
	}
	return out
}
