package retry

import (
	"math"
	"math/rand"
	"time"
)

// Config holds the retry/fallback tunables from spec §6.
type Config struct {
	MaxAttempts         int
	InitialDelay        time.Duration
	MaxDelay            time.Duration
	Multiplier          float64
	Jitter              bool
	RequestTimeout      time.Duration
	FallbackEnabled     bool
	FallbackURL         string
	AutoDiscoverFallback bool
	FallbackSuffix      string // host suffix substitution for auto-discovery
	MaxFallbackAttempts int
}

// DefaultConfig mirrors the defaults named across spec §4.1 and §6.
var DefaultConfig = Config{
	MaxAttempts:          3,
	InitialDelay:         1 * time.Second,
	MaxDelay:             30 * time.Second,
	Multiplier:           2.0,
	Jitter:               true,
	RequestTimeout:       30 * time.Second,
	FallbackEnabled:      false,
	MaxFallbackAttempts:  3,
}

// Delay computes the backoff for attempt k (1-based), per spec §4.1:
// base = initial_delay * multiplier^(k-1), capped at max_delay; if jitter,
// scaled by U(0.5, 1.0). Full-zero jitter is never produced.
func Delay(cfg Config, k int) time.Duration {
	base := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(k-1))
	if max := float64(cfg.MaxDelay); base > max {
		base = max
	}
	if cfg.Jitter {
		factor := 0.5 + rand.Float64()*0.5
		base *= factor
	}
	return time.Duration(base)
}
