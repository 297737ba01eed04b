package submitter

import (
	"context"
	"time"

	"github.com/sr-oliveiraa/prfi-api-tokenization/block"
	"github.com/sr-oliveiraa/prfi-api-tokenization/metrics"
	"github.com/sr-oliveiraa/prfi-api-tokenization/store"
)

// Monitor polls submitted transactions to confirmation, handling reverts,
// timeouts, and retry backoff per spec §4.8's post-submission state
// machine.
type Monitor struct {
	cfg   Config
	rpc   RPCClient
	store store.BlockStore
}

// NewMonitor builds a Monitor polling rpc and updating s.
func NewMonitor(rpc RPCClient, s store.BlockStore, cfg Config) *Monitor {
	return &Monitor{cfg: cfg, rpc: rpc, store: s}
}

// Run polls batch until its transaction is confirmed, reverts, or times out
// as lost, or until ctx is cancelled. Run is meant to be
// invoked as a goroutine per in-flight batch, mirroring the teacher's
// one-goroutine-per-unit-of-work pattern (work/agent.go's per-CpuAgent
// goroutine).
func (m *Monitor) Run(ctx context.Context, batch *block.SubmissionBatch, blocks []*block.Block) {
	ticker := time.NewTicker(m.pollInterval())
	defer ticker.Stop()

	deadline := time.Now().Add(m.submissionTimeout())

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if time.Now().After(deadline) {
			m.handleLost(batch, blocks)
			return
		}

		done, err := m.poll(ctx, batch, blocks)
		if err != nil {
			logger.Warn("poll failed, will retry on next tick", "submission_id", batch.SubmissionID, "err", err)
			continue
		}
		if done {
			return
		}
	}
}

func (m *Monitor) pollInterval() time.Duration {
	if m.cfg.PollInterval <= 0 {
		return 30 * time.Second
	}
	return m.cfg.PollInterval
}

func (m *Monitor) submissionTimeout() time.Duration {
	if m.cfg.SubmissionTimeout <= 0 {
		return 30 * time.Minute
	}
	return m.cfg.SubmissionTimeout
}

// poll checks the receipt once. It returns done=true when the transaction
// has been confirmed or has reverted.
func (m *Monitor) poll(ctx context.Context, batch *block.SubmissionBatch, blocks []*block.Block) (bool, error) {
	receipt, found, err := m.rpc.TransactionReceipt(ctx, batch.TxHash)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil // not yet mined
	}

	if receipt.Status == 0 {
		return m.handleRevert(ctx, batch, blocks)
	}

	head, err := m.rpc.BlockNumber(ctx)
	if err != nil {
		return false, err
	}
	if head < receipt.BlockNumber {
		return false, nil
	}
	confirmations := head - receipt.BlockNumber
	if confirmations < m.confirmationBlocks() {
		return false, nil
	}

	m.handleConfirmed(batch, blocks, receipt)
	return true, nil
}

func (m *Monitor) confirmationBlocks() uint64 {
	if m.cfg.ConfirmationBlocks == 0 {
		return 12
	}
	return m.cfg.ConfirmationBlocks
}

func (m *Monitor) handleConfirmed(batch *block.SubmissionBatch, blocks []*block.Block, receipt *Receipt) {
	batch.Status = block.SubStatusConfirmed
	batch.ConfirmedAt = time.Now().UnixMilli()
	batch.GasUsed = receipt.GasUsed

	for _, b := range blocks {
		if err := m.store.UpdateStatus(b.BlockID, func(b *block.Block) {
			b.Status = block.StatusConfirmed
			b.ConfirmationBlock = receipt.BlockNumber
		}); err != nil {
			logger.Error("failed to mark block confirmed", "block_id", b.BlockID, "err", err)
		}
		metrics.BlocksConfirmed.Inc(1)
	}
	metrics.ConfirmationDurationMs.Update(time.Now().UnixMilli() - batch.SubmittedAt)
	logger.Info("batch confirmed", "submission_id", batch.SubmissionID, "tx_hash", batch.TxHash,
		"block_number", receipt.BlockNumber, "gas_used", receipt.GasUsed)
}

// handleRevert reverts the batch to FAILED and its blocks to PENDING with
// an incremented retry_count, per spec §4.8's status==0 handling; once
// MaxRetries has been exhausted the blocks become FAILED instead. Otherwise
// the batch moves to RETRY and, after the backoff delay, the blocks are left
// PENDING for a later scan. It always returns done=true: a reverted
// transaction's receipt never changes, so there is nothing more to poll.
func (m *Monitor) handleRevert(ctx context.Context, batch *block.SubmissionBatch, blocks []*block.Block) (bool, error) {
	batch.Status = block.SubStatusFailed
	batch.RetryCount++
	metrics.TxFailed.Inc(1)
	logger.Warn("transaction reverted", "submission_id", batch.SubmissionID, "tx_hash", batch.TxHash,
		"retry_count", batch.RetryCount)

	if batch.RetryCount > m.maxRetries() {
		m.resetBlocksToFailed(blocks)
		return true, nil
	}

	m.resetBlocksToPending(blocks)
	if block.CanTransition(batch.Status, block.SubStatusRetry) {
		batch.Status = block.SubStatusRetry
	}

	delay := m.retryDelay() * time.Duration(1<<uint(batch.RetryCount-1))
	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
	return true, nil
}

func (m *Monitor) handleLost(batch *block.SubmissionBatch, blocks []*block.Block) {
	logger.Warn("submission timed out unconfirmed, treating as lost", "submission_id", batch.SubmissionID,
		"tx_hash", batch.TxHash)
	batch.Status = block.SubStatusFailed
	m.resetBlocksToPending(blocks)
}

func (m *Monitor) maxRetries() int {
	if m.cfg.MaxRetries <= 0 {
		return 3
	}
	return m.cfg.MaxRetries
}

func (m *Monitor) retryDelay() time.Duration {
	if m.cfg.RetryDelay <= 0 {
		return 5 * time.Second
	}
	return m.cfg.RetryDelay
}

func (m *Monitor) resetBlocksToPending(blocks []*block.Block) {
	for _, b := range blocks {
		if err := m.store.UpdateStatus(b.BlockID, func(b *block.Block) {
			b.Status = block.StatusPending
			b.RetryCount++
			b.TxHash = ""
		}); err != nil {
			logger.Error("failed to reset block to pending", "block_id", b.BlockID, "err", err)
		}
	}
}

func (m *Monitor) resetBlocksToFailed(blocks []*block.Block) {
	for _, b := range blocks {
		if err := m.store.UpdateStatus(b.BlockID, func(b *block.Block) {
			b.Status = block.StatusFailed
		}); err != nil {
			logger.Error("failed to mark block failed", "block_id", b.BlockID, "err", err)
		}
	}
}
