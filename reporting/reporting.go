// Package reporting is an optional, best-effort audit sink: it mirrors
// confirmed SubmissionBatch/Block rows into a relational table for
// downstream reporting, supplementing the spec's filesystem-only
// persisted-state layout (spec §6) with the kind of queryable audit trail
// an operator would otherwise have to reconstruct by scanning every block
// file. A reporting failure never blocks or rolls back the confirmation
// it is recording; it is fire-and-forget, logged on error.
package reporting

import (
	"time"

	"github.com/jinzhu/gorm"
	_ "github.com/jinzhu/gorm/dialects/mysql"

	"github.com/sr-oliveiraa/prfi-api-tokenization/block"
	"github.com/sr-oliveiraa/prfi-api-tokenization/log"
)

var logger = log.NewModuleLogger("reporting")

// BatchRecord is the audit row persisted for each confirmed
// SubmissionBatch, per SPEC_FULL.md's reporting supplement.
type BatchRecord struct {
	SubmissionID string `gorm:"primary_key"`
	TxHash       string
	BlockCount   int
	GasUsed      uint64
	GasPrice     uint64
	ConfirmedAt  time.Time
}

// BlockRecord is the audit row persisted for each confirmed Block.
type BlockRecord struct {
	BlockID           string `gorm:"primary_key"`
	SubmissionID      string `gorm:"index"`
	MinerAddress      string
	Points            float64
	ConfirmationBlock uint64
	ConfirmedAt       time.Time
}

// Sink persists confirmed batches/blocks to a MySQL-backed audit table.
type Sink struct {
	db *gorm.DB
}

// Open connects to dsn (a standard go-sql-driver/mysql DSN) and ensures the
// audit tables exist.
func Open(dsn string) (*Sink, error) {
	db, err := gorm.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	db.AutoMigrate(&BatchRecord{}, &BlockRecord{})
	return &Sink{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Sink) Close() error {
	return s.db.Close()
}

// RecordConfirmation persists one confirmed SubmissionBatch and its member
// Blocks. Errors are logged, never propagated: reporting is an ambient
// audit concern, not part of the confirmation critical path.
func (s *Sink) RecordConfirmation(batch *block.SubmissionBatch, blocks []*block.Block) {
	confirmedAt := time.UnixMilli(batch.ConfirmedAt)

	batchRow := BatchRecord{
		SubmissionID: batch.SubmissionID,
		TxHash:       batch.TxHash,
		BlockCount:   len(blocks),
		GasUsed:      batch.GasUsed,
		GasPrice:     batch.GasPrice,
		ConfirmedAt:  confirmedAt,
	}
	if err := s.db.Save(&batchRow).Error; err != nil {
		logger.Error("failed to persist batch audit row", "submission_id", batch.SubmissionID, "err", err)
	}

	for _, b := range blocks {
		row := BlockRecord{
			BlockID:           b.BlockID,
			SubmissionID:      batch.SubmissionID,
			MinerAddress:      b.MinerAddress,
			Points:            b.Points,
			ConfirmationBlock: b.ConfirmationBlock,
			ConfirmedAt:       confirmedAt,
		}
		if err := s.db.Save(&row).Error; err != nil {
			logger.Error("failed to persist block audit row", "block_id", b.BlockID, "err", err)
		}
	}
}
