package miner

import (
	"context"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sr-oliveiraa/prfi-api-tokenization/antifraud"
	"github.com/sr-oliveiraa/prfi-api-tokenization/crypto"
)

func TestMine_ProducesBlockMeetingDifficulty(t *testing.T) {
	keys, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	cfg := Config{MinDifficulty: 1, IterationCap: 2_000_000, Workers: 2}
	m := New(keys, cfg, antifraud.DefaultScoringConfig)

	root := crypto.SHA256([]byte("merkle-root-fixture"))
	in := Input{
		BatchID:     "batch-1",
		CompanyID:   "company-1",
		EventsCount: 1000,
		MerkleRoot:  root,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	blk, err := m.Mine(ctx, in)
	require.NoError(t, err)
	require.NotNil(t, blk)

	hashBytes, err := hex.DecodeString(blk.BlockHash)
	require.NoError(t, err)
	var hash [32]byte
	copy(hash[:], hashBytes)
	assert.True(t, crypto.MeetsDifficulty(hash, blk.Difficulty))

	prefix := crypto.PowPrefix(keys.Address(), in.BatchID, in.EventsCount, root, blk.HourBucket)
	recomputed := crypto.PowHash(prefix, blk.Nonce)
	assert.Equal(t, hash, recomputed, "re-verification with the returned nonce must reproduce the same hash")
}

func TestMine_TimesOutOnTinyIterationCap(t *testing.T) {
	keys, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	// Difficulty high enough, and cap small enough, that the attempt is
	// overwhelmingly likely to exhaust its budget without a match.
	cfg := Config{MinDifficulty: 8, IterationCap: 4, Workers: 1}
	m := New(keys, cfg, antifraud.DefaultScoringConfig)

	in := Input{BatchID: "batch-2", CompanyID: "company-1", EventsCount: 1, MerkleRoot: crypto.SHA256([]byte("x"))}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = m.Mine(ctx, in)
	assert.Error(t, err)
}

func TestMine_WidensIterationCapOnTimeout(t *testing.T) {
	keys, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	// IterationCap is tiny enough that the first pass is likely (about two
	// times in three) to time out at MinDifficulty 1, but WidenIterationCapOnTimeout
	// gives the retry a cap large enough to find a match without ever
	// touching AllowDifficultyReduction.
	cfg := Config{
		MinDifficulty:              1,
		IterationCap:               4,
		Workers:                    2,
		WidenIterationCapOnTimeout: true,
		IterationCapMultiplier:     100_000,
	}
	m := New(keys, cfg, antifraud.DefaultScoringConfig)

	in := Input{BatchID: "batch-3", CompanyID: "company-1", EventsCount: 1, MerkleRoot: crypto.SHA256([]byte("widen"))}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	blk, err := m.Mine(ctx, in)
	require.NoError(t, err)
	require.NotNil(t, blk)
	assert.Equal(t, cfg.MinDifficulty, blk.Difficulty, "widening the cap must not also lower difficulty")
}
