// Package miner implements the proof-of-work block miner of spec §4.5 (C7):
// it finds a nonce such that H(miner‖batch_id‖events_count‖merkle_root‖hour_bucket‖nonce)
// meets the configured difficulty, then signs the resulting Block. Mining is
// CPU-bound and is off-loaded to a small pool of worker goroutines
// (spec §5's "must be off-loaded to a worker thread pool to avoid starving
// I/O tasks"), grounded on the teacher's work/agent.go CpuAgent pattern.
package miner

import "runtime"

// Config holds the miner's tunables from spec §4.5/§6.
type Config struct {
	// MinDifficulty is the number of leading hex-zero characters required
	// in a block hash.
	MinDifficulty int

	// IterationCap is the soft per-mine nonce budget (default 10^6). On
	// exhaustion the miner raises MiningTimeout.
	IterationCap uint64

	// Workers is the number of CPU agents searching concurrently; defaults
	// to runtime.NumCPU() when zero.
	Workers int

	// AllowDifficultyReduction lets Mine retry at one less than
	// MinDifficulty (bounded by DifficultyFloor) after a MiningTimeout, per
	// spec §4.5: "callers MAY lower difficulty only if configured to do
	// so."
	AllowDifficultyReduction bool

	// DifficultyFloor bounds how far AllowDifficultyReduction may lower
	// the difficulty.
	DifficultyFloor int

	// WidenIterationCapOnTimeout lets Mine retry once at a larger
	// iteration cap after a MiningTimeout, before falling back to
	// AllowDifficultyReduction, matching
	// original_source/prfi-core/minerador/miner.py's idle/backoff
	// behavior: a timeout is first treated as "the budget was too tight",
	// not "the difficulty is too high".
	WidenIterationCapOnTimeout bool

	// IterationCapMultiplier scales IterationCap for the single widened
	// retry (default 2.0 when zero).
	IterationCapMultiplier float64

	// MaxIterationCap bounds the widened cap; zero means unbounded.
	MaxIterationCap uint64
}

// DefaultConfig matches the defaults named in spec §4.5/§6.
var DefaultConfig = Config{
	MinDifficulty:              2,
	IterationCap:               1_000_000,
	Workers:                    0,
	AllowDifficultyReduction:   false,
	DifficultyFloor:            1,
	WidenIterationCapOnTimeout: false,
	IterationCapMultiplier:     2.0,
	MaxIterationCap:            10_000_000,
}

func (c Config) widenedIterationCap() uint64 {
	mult := c.IterationCapMultiplier
	if mult <= 0 {
		mult = 2.0
	}
	widened := uint64(float64(c.IterationCap) * mult)
	if c.MaxIterationCap > 0 && widened > c.MaxIterationCap {
		widened = c.MaxIterationCap
	}
	return widened
}

func (c Config) workers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.NumCPU()
}
