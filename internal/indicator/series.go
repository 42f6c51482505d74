// Package indicator computes technical indicators over an ordered close-price
// series.
//
// Every function is pure and batch: it takes the full history and returns a
// series of the same length. Indices without enough history hold NaN, the
// "undefined" sentinel; undefined values only ever form a leading warm-up
// prefix. Empty or too-short input never panics, it yields an all-undefined
// series.
package indicator

import "math"

// Undefined returns the sentinel for indices without enough history.
func Undefined() float64 { return math.NaN() }

// IsDefined reports whether v holds a computed value.
func IsDefined(v float64) bool { return !math.IsNaN(v) }

// AllDefined reports whether none of vs is the undefined sentinel.
func AllDefined(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) {
			return false
		}
	}
	return true
}

// Last returns the final value of s, or Undefined for an empty series.
func Last(s []float64) float64 {
	if len(s) == 0 {
		return Undefined()
	}
	return s[len(s)-1]
}

// undefinedSeries allocates a series of n undefined values.
func undefinedSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
