package model

import "math"

// scorePart applies the dampening used for every raw value entering a score.
func scorePart(value float64) float64 {
	if value <= 0 {
		return 0
	}
	return math.Sqrt(value)
}

// finalScore combines weighted parts into the stored score value.
func finalScore(parts map[string]float64, divider float64) int {
	if divider <= 0 {
		divider = 1
	}
	sum := 0.0
	for _, v := range parts {
		sum += v
	}
	score := sum / divider * 10
	if score <= 0 {
		return 0
	}
	return int(math.Round(score * math.Log1p(score) / 10))
}
