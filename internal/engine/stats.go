package engine

import "math"

// zScores returns the z-score of every value against the population mean.
// A floor on the standard deviation keeps flat series from dividing by zero.
func zScores(values []float64) []float64 {
	if len(values) == 0 {
		return nil
	}

	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	variance := 0.0
	for _, v := range values {
		diff := v - mean
		variance += diff * diff
	}
	variance /= float64(len(values))
	stdDev := math.Sqrt(variance)
	if stdDev == 0 {
		stdDev = 0.01
	}

	scores := make([]float64, len(values))
	for i, v := range values {
		scores[i] = (v - mean) / stdDev
	}
	return scores
}

func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
