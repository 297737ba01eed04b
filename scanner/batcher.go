package scanner

import (
	"math"
	"time"

	uuid "github.com/satori/go.uuid"

	"github.com/sr-oliveiraa/prfi-api-tokenization/block"
)

// baseTxGas is the fixed per-transaction gas cost (spec §4.7's "21 000 gas"
// floor) before any per-block marginal cost is added.
const baseTxGas = 21_000

// estimateGas is the heuristic of spec §4.7: a fixed base cost plus a
// per-block marginal cost.
func (c Config) estimateGas(blockCount int) uint64 {
	return baseTxGas + c.GasPerBlock*uint64(blockCount)
}

// Batch groups ordered, valid Blocks into SubmissionBatches bounded by
// BatchSize/MinBatchSize/MaxBatchSize, the gas heuristic, and miner
// diversity, per spec §4.7.
func (c Config) Batch(blocks []*block.Block) []*block.SubmissionBatch {
	var batches []*block.SubmissionBatch
	remaining := blocks
	for len(remaining) > 0 {
		group := c.nextGroup(remaining)
		if len(group) == 0 {
			break // single block already exceeds gas_limit; nothing more to do
		}
		batches = append(batches, newSubmissionBatch(group))
		// nextGroup may skip blocks to honour the diversity cap, so drop
		// exactly the chosen blocks rather than a prefix.
		taken := make(map[*block.Block]bool, len(group))
		for _, b := range group {
			taken[b] = true
		}
		rest := make([]*block.Block, 0, len(remaining)-len(group))
		for _, b := range remaining {
			if !taken[b] {
				rest = append(rest, b)
			}
		}
		remaining = rest
	}
	return batches
}

// nextGroup greedily takes up to MaxBatchSize blocks from the front of
// remaining, stopping early at the target BatchSize once MinBatchSize is
// met, respecting the gas ceiling and the miner-diversity cap of
// ⌈batch_size / distinct_miners⌉ when diversity is achievable (i.e. more
// than one miner is present in the candidate window).
func (c Config) nextGroup(remaining []*block.Block) []*block.Block {
	maxN := c.MaxBatchSize
	if maxN <= 0 || maxN > len(remaining) {
		maxN = len(remaining)
	}

	distinctMiners := countDistinctMiners(remaining, maxN)
	diversityCap := 0
	if distinctMiners > 1 {
		target := c.BatchSize
		if target <= 0 {
			target = maxN
		}
		diversityCap = int(math.Ceil(float64(target) / float64(distinctMiners)))
	}

	var group []*block.Block
	perMiner := make(map[string]int)
	for idx := 0; idx < maxN; idx++ {
		candidate := remaining[idx]

		if diversityCap > 0 && perMiner[candidate.MinerAddress] >= diversityCap {
			continue
		}

		nextCount := len(group) + 1
		if c.estimateGas(nextCount) > c.GasLimit {
			break
		}

		group = append(group, candidate)
		perMiner[candidate.MinerAddress]++

		if len(group) >= c.BatchSize && c.BatchSize > 0 {
			break
		}
	}

	if len(group) < c.MinBatchSize && len(group) < len(remaining) {
		// Diversity/gas constraints starved the batch below the hard
		// minimum; fall back to a plain gas-bounded fill ignoring
		// diversity so forward progress is never blocked indefinitely.
		group = nil
		for idx := 0; idx < maxN; idx++ {
			nextCount := len(group) + 1
			if c.estimateGas(nextCount) > c.GasLimit {
				break
			}
			group = append(group, remaining[idx])
		}
	}

	return group
}

func countDistinctMiners(blocks []*block.Block, limit int) int {
	seen := make(map[string]struct{})
	for i := 0; i < limit && i < len(blocks); i++ {
		seen[blocks[i].MinerAddress] = struct{}{}
	}
	return len(seen)
}

func newSubmissionBatch(blocks []*block.Block) *block.SubmissionBatch {
	ids := make([]string, len(blocks))
	for i, b := range blocks {
		ids[i] = b.BlockID
	}
	return &block.SubmissionBatch{
		SubmissionID: uuid.NewV4().String(),
		BlockIDs:     ids,
		Status:       block.SubStatusPending,
		CreatedAt:    time.Now().UnixMilli(),
	}
}
