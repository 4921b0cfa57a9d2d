package entity

import "math"

// ClampScore bounds a score to [0,100] and rounds it to two decimals
func ClampScore(score float64) float64 {
	if math.IsNaN(score) {
		return 0
	}
	score = math.Max(0, math.Min(100, score))
	return math.Round(score*100) / 100
}

// RoundScore rounds to two decimals without clamping
func RoundScore(score float64) float64 {
	return math.Round(score*100) / 100
}
