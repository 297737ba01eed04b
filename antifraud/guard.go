package antifraud

import (
	"context"
	"time"

	"github.com/sr-oliveiraa/prfi-api-tokenization/errs"
	"github.com/sr-oliveiraa/prfi-api-tokenization/log"
	"github.com/sr-oliveiraa/prfi-api-tokenization/metrics"
)

var logger = log.NewModuleLogger("antifraud")

// Config holds the rate-limit and duration thresholds from spec §4.3.
type Config struct {
	MaxPerHour      int
	MaxPerDay       int
	MinDurationMs   int64
	MaxPerSecond    int
}

// DefaultConfig matches the defaults named in spec §4.3.
var DefaultConfig = Config{
	MaxPerHour:    100,
	MaxPerDay:     1000,
	MinDurationMs: 100,
	MaxPerSecond:  5,
}

// Candidate is the information the guard needs about an about-to-be-counted
// event; it does not need the full Event envelope.
type Candidate struct {
	Miner             string
	PayloadHash       [32]byte
	RequestDurationMs int64
	StatusCode        int
}

// Result is returned by every evaluation; when Rejected, Reasons enumerates
// every triggered rule so operators can see the full picture rather than
// only the first failure.
type Result struct {
	Rejected     bool
	Reasons      []string
}

// Guard evaluates the anti-fraud rules of spec §4.3 before an EventRecord
// is appended.
type Guard struct {
	cfg     Config
	windows WindowStore
	dup     *DuplicateFilter
}

// NewGuard builds a Guard. windows and dup may be nil to use sane
// in-memory defaults.
func NewGuard(cfg Config, windows WindowStore, dup *DuplicateFilter) *Guard {
	if windows == nil {
		windows = NewMemoryWindowStore(10000)
	}
	if dup == nil {
		dup, _ = NewDuplicateFilter(1_000_000, 0.001)
	}
	return &Guard{cfg: cfg, windows: windows, dup: dup}
}

// Evaluate runs every rule in spec §4.3(a)-(d) and returns a Result.
// A nil error with Result.Rejected == false means the event may be counted.
func (g *Guard) Evaluate(ctx context.Context, c Candidate, now time.Time) (Result, error) {
	var reasons []string

	if c.StatusCode != 200 {
		reasons = append(reasons, "status_code_not_200")
	}
	var zero [32]byte
	if c.PayloadHash == zero {
		reasons = append(reasons, "missing_payload_hash")
	}
	if c.RequestDurationMs < g.cfg.MinDurationMs {
		reasons = append(reasons, "duration_below_minimum")
	}

	if g.cfg.MaxPerSecond > 0 {
		n, err := g.windows.Increment(ctx, c.Miner, now, time.Second)
		if err != nil {
			return Result{}, errs.New(errs.KindFraudReject, "antifraud", "Evaluate", c.Miner, err)
		}
		if n > g.cfg.MaxPerSecond {
			reasons = append(reasons, "per_second_rate_exceeded")
		}
	}
	if g.cfg.MaxPerHour > 0 {
		n, err := g.windows.Increment(ctx, c.Miner, now, time.Hour)
		if err != nil {
			return Result{}, errs.New(errs.KindFraudReject, "antifraud", "Evaluate", c.Miner, err)
		}
		if n > g.cfg.MaxPerHour {
			reasons = append(reasons, "hourly_rate_exceeded")
		}
	}
	if g.cfg.MaxPerDay > 0 {
		n, err := g.windows.Increment(ctx, c.Miner, now, 24*time.Hour)
		if err != nil {
			return Result{}, errs.New(errs.KindFraudReject, "antifraud", "Evaluate", c.Miner, err)
		}
		if n > g.cfg.MaxPerDay {
			reasons = append(reasons, "daily_rate_exceeded")
		}
	}

	if g.dup != nil && c.PayloadHash != zero {
		if g.dup.SeenOrAdd(c.PayloadHash) {
			reasons = append(reasons, "probable_duplicate_payload")
		}
	}

	if len(reasons) > 0 {
		metrics.FraudRejected.Inc(1)
		logger.Info("fraud reject", "miner", c.Miner, "reasons", reasons)
		return Result{Rejected: true, Reasons: reasons}, nil
	}

	return Result{Rejected: false}, nil
}
