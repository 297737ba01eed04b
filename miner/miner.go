package miner

import (
	"context"
	"crypto/elliptic"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/pborman/uuid"

	"github.com/sr-oliveiraa/prfi-api-tokenization/antifraud"
	"github.com/sr-oliveiraa/prfi-api-tokenization/block"
	"github.com/sr-oliveiraa/prfi-api-tokenization/crypto"
	"github.com/sr-oliveiraa/prfi-api-tokenization/errs"
	"github.com/sr-oliveiraa/prfi-api-tokenization/log"
	"github.com/sr-oliveiraa/prfi-api-tokenization/metrics"
)

var logger = log.NewModuleLogger("miner")

// Input describes a Batch ready to be mined, per spec §4.5/§3.
type Input struct {
	BatchID      string
	CompanyID    string
	EventsCount  uint64
	MerkleRoot   [32]byte
	Retries      int
	FallbackUsed bool
	DurationMs   int64
}

// Miner finds a proof-of-work nonce for a Batch and signs the resulting
// Block, per spec §4.5 (C7).
type Miner struct {
	keys       *crypto.KeyPair
	cfg        Config
	scoringCfg antifraud.ScoringConfig
	pool       *pool
}

// New builds a Miner signing with keys and mining according to cfg.
func New(keys *crypto.KeyPair, cfg Config, scoringCfg antifraud.ScoringConfig) *Miner {
	return &Miner{keys: keys, cfg: cfg, scoringCfg: scoringCfg, pool: newPool(cfg.workers())}
}

// Mine runs the algorithm of spec §4.5: build the PoW prefix, search for a
// nonce meeting MinDifficulty within IterationCap attempts, then sign the
// resulting Block over (block_id, batch_id, miner, merkle_root, nonce).
//
// On MiningTimeout, Mine first retries once at a widened iteration cap
// (cfg.WidenIterationCapOnTimeout) before it retries at a lowered
// difficulty (cfg.AllowDifficultyReduction, bounded by DifficultyFloor),
// per spec §4.5: "callers MAY lower difficulty only if configured to do
// so."
func (m *Miner) Mine(ctx context.Context, in Input) (*block.Block, error) {
	started := time.Now()
	minerAddr := m.keys.Address()
	hourBucket := crypto.HourBucket(started.Unix())
	prefix := crypto.PowPrefix(minerAddr, in.BatchID, in.EventsCount, in.MerkleRoot, hourBucket)

	difficulty := m.cfg.MinDifficulty
	iterCap := m.cfg.IterationCap
	nonce, hash, err := m.pool.search(ctx, prefix, difficulty, iterCap)

	if err != nil && errs.Is(err, errs.KindMiningTimeout) && m.cfg.WidenIterationCapOnTimeout {
		widened := m.cfg.widenedIterationCap()
		logger.Warn("mining timeout, retrying at widened iteration cap",
			"batch_id", in.BatchID, "from_cap", iterCap, "to_cap", widened)
		iterCap = widened
		nonce, hash, err = m.pool.search(ctx, prefix, difficulty, iterCap)
	}

	if err != nil && errs.Is(err, errs.KindMiningTimeout) && m.cfg.AllowDifficultyReduction && difficulty-1 >= m.cfg.DifficultyFloor {
		logger.Warn("mining timeout, retrying at reduced difficulty",
			"batch_id", in.BatchID, "from_difficulty", difficulty, "to_difficulty", difficulty-1)
		difficulty--
		nonce, hash, err = m.pool.search(ctx, prefix, difficulty, iterCap)
	}
	if err != nil {
		return nil, err
	}

	blockID := uuid.NewRandom().String()
	merkleHex := hex.EncodeToString(in.MerkleRoot[:])
	signMsg := blockID + "\x00" + in.BatchID + "\x00" + minerAddr + "\x00" + merkleHex + "\x00" + strconv.FormatUint(nonce, 10)
	sig, err := m.keys.Sign([]byte(signMsg))
	if err != nil {
		return nil, errs.New(errs.KindTerminal, "miner", "Mine", blockID, err)
	}

	points := antifraud.Score(m.scoringCfg, in.Retries, in.FallbackUsed, in.DurationMs)

	blk := &block.Block{
		BlockID:      blockID,
		BatchID:      in.BatchID,
		CompanyID:    in.CompanyID,
		MinerAddress: minerAddr,
		EventsCount:  in.EventsCount,
		Nonce:        nonce,
		BlockHash:    hex.EncodeToString(hash[:]),
		MerkleRoot:   merkleHex,
		HourBucket:   hourBucket,
		Difficulty:   difficulty,
		Signature:    hex.EncodeToString(sig),
		PublicKey:    hex.EncodeToString(publicKeyBytes(m.keys)),
		Points:       points,
		MinedAt:      time.Now().UnixMilli(),
		Status:       block.StatusPending,
	}

	metrics.BlocksMined.Inc(1)
	metrics.MiningDurationMs.Update(time.Since(started).Milliseconds())
	logger.Info("mined block", "block_id", blockID, "batch_id", in.BatchID, "difficulty", difficulty,
		"nonce", nonce, "points", points, "elapsed_ms", time.Since(started).Milliseconds())

	return blk, nil
}

func publicKeyBytes(k *crypto.KeyPair) []byte {
	pub := k.Private.PublicKey
	return elliptic.Marshal(pub.Curve, pub.X, pub.Y)
}
