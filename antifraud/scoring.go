package antifraud

import "math"

// ScoringConfig holds the point-scoring tunables from spec §4.3.
type ScoringConfig struct {
	BasePoints float64
	MinPoints  float64
	MaxPoints  float64
}

// DefaultScoringConfig matches the defaults named in spec §4.3.
var DefaultScoringConfig = ScoringConfig{
	BasePoints: 0.4,
	MinPoints:  0.1,
	MaxPoints:  1.0,
}

// Score computes the per-event point award per spec §4.3:
// base_points + min(0.1*retries, 0.3) + 0.2*I[fallback_used] -
// 0.1*I[duration<100ms], clamped to [min_points, max_points] and rounded to
// 3 decimals.
func Score(cfg ScoringConfig, retries int, fallbackUsed bool, durationMs int64) float64 {
	points := cfg.BasePoints

	retryBonus := 0.1 * float64(retries)
	if retryBonus > 0.3 {
		retryBonus = 0.3
	}
	points += retryBonus

	if fallbackUsed {
		points += 0.2
	}
	if durationMs < 100 {
		points -= 0.1
	}

	if points < cfg.MinPoints {
		points = cfg.MinPoints
	}
	if points > cfg.MaxPoints {
		points = cfg.MaxPoints
	}

	return math.Round(points*1000) / 1000
}
