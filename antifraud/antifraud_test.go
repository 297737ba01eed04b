package antifraud

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validCandidate(hash [32]byte) Candidate {
	return Candidate{
		Miner:             "0xminer",
		PayloadHash:       hash,
		RequestDurationMs: 150,
		StatusCode:        200,
	}
}

func TestGuard_AcceptsCleanCandidate(t *testing.T) {
	dup, err := NewDuplicateFilter(1000, 0.001)
	require.NoError(t, err)
	g := NewGuard(DefaultConfig, nil, dup)

	result, err := g.Evaluate(context.Background(), validCandidate([32]byte{1}), time.Now())
	require.NoError(t, err)
	assert.False(t, result.Rejected)
}

func TestGuard_RejectsNonSuccessStatus(t *testing.T) {
	g := NewGuard(DefaultConfig, nil, nil)
	c := validCandidate([32]byte{2})
	c.StatusCode = 500

	result, err := g.Evaluate(context.Background(), c, time.Now())
	require.NoError(t, err)
	assert.True(t, result.Rejected)
	assert.Contains(t, result.Reasons, "status_code_not_200")
}

func TestGuard_RejectsMissingPayloadHash(t *testing.T) {
	g := NewGuard(DefaultConfig, nil, nil)
	c := validCandidate([32]byte{})

	result, err := g.Evaluate(context.Background(), c, time.Now())
	require.NoError(t, err)
	assert.True(t, result.Rejected)
	assert.Contains(t, result.Reasons, "missing_payload_hash")
}

func TestGuard_RejectsDurationBelowMinimum(t *testing.T) {
	g := NewGuard(DefaultConfig, nil, nil)
	c := validCandidate([32]byte{3})
	c.RequestDurationMs = 10

	result, err := g.Evaluate(context.Background(), c, time.Now())
	require.NoError(t, err)
	assert.True(t, result.Rejected)
	assert.Contains(t, result.Reasons, "duration_below_minimum")
}

func TestGuard_RejectsDuplicatePayload(t *testing.T) {
	dup, err := NewDuplicateFilter(1000, 0.001)
	require.NoError(t, err)
	g := NewGuard(DefaultConfig, nil, dup)

	hash := [32]byte{9}
	first, err := g.Evaluate(context.Background(), validCandidate(hash), time.Now())
	require.NoError(t, err)
	assert.False(t, first.Rejected)

	second, err := g.Evaluate(context.Background(), validCandidate(hash), time.Now())
	require.NoError(t, err)
	assert.True(t, second.Rejected)
	assert.Contains(t, second.Reasons, "probable_duplicate_payload")
}

func TestGuard_RejectsPerSecondRateExceeded(t *testing.T) {
	cfg := DefaultConfig
	cfg.MaxPerSecond = 2
	g := NewGuard(cfg, nil, nil)

	now := time.Now()
	for i := 0; i < 2; i++ {
		result, err := g.Evaluate(context.Background(), validCandidate([32]byte{byte(i + 10)}), now)
		require.NoError(t, err)
		assert.False(t, result.Rejected)
	}
	result, err := g.Evaluate(context.Background(), validCandidate([32]byte{20}), now)
	require.NoError(t, err)
	assert.True(t, result.Rejected)
	assert.Contains(t, result.Reasons, "per_second_rate_exceeded")
}

func TestMemoryWindowStore_ExpiresOldEntriesOutsideWindow(t *testing.T) {
	store := NewMemoryWindowStore(10)
	base := time.Now()

	n, err := store.Increment(context.Background(), "m1", base, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = store.Increment(context.Background(), "m1", base.Add(2*time.Second), time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "earlier timestamp should have aged out of the one-second window")
}

func TestDuplicateFilter_SeenOrAdd(t *testing.T) {
	f, err := NewDuplicateFilter(1000, 0.001)
	require.NoError(t, err)

	hash := [32]byte{42}
	assert.False(t, f.SeenOrAdd(hash))
	assert.True(t, f.SeenOrAdd(hash))
}

func TestScore_ClampsToMaxPoints(t *testing.T) {
	cfg := DefaultScoringConfig
	cfg.MaxPoints = 0.8
	points := Score(cfg, 10, true, 500)
	assert.Equal(t, cfg.MaxPoints, points)
}

func TestScore_AppliesShortDurationPenalty(t *testing.T) {
	points := Score(DefaultScoringConfig, 0, false, 50)
	assert.InDelta(t, 0.3, points, 0.001)
}

func TestScore_ClampsRetryBonus(t *testing.T) {
	withCap := Score(DefaultScoringConfig, 3, false, 500)
	beyondCap := Score(DefaultScoringConfig, 10, false, 500)
	assert.Equal(t, withCap, beyondCap)
}
