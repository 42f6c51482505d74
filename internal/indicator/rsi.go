package indicator

// DefaultRSILength is the conventional Wilder period.
const DefaultRSILength = 14

// RSI calculates the Relative Strength Index using Wilder's smoothing method.
//
// The first length price changes are summed; at index length the sums are
// divided by length to seed the averages, after which each step applies
// avg = (avg*(length-1) + value) / length. A zero average loss gives RSI 100.
// Undefined before index length.
func RSI(series []float64, length int) []float64 {
	out := undefinedSeries(len(series))
	if length < 1 || len(series) < 2 {
		return out
	}

	p := float64(length)
	avgGain, avgLoss := 0.0, 0.0
	for i := 1; i < len(series); i++ {
		delta := series[i] - series[i-1]
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}

		if i <= length {
			// Accumulation phase
			avgGain += gain
			avgLoss += loss
			if i < length {
				continue
			}
			avgGain /= p
			avgLoss /= p
		} else {
			avgGain = (avgGain*(p-1) + gain) / p
			avgLoss = (avgLoss*(p-1) + loss) / p
		}
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		// RS is infinite
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}
