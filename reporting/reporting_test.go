package reporting

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sr-oliveiraa/prfi-api-tokenization/block"
)

// TestSink_RecordConfirmation exercises the reporting sink against a real
// MySQL instance when one is configured. Reporting is an optional audit
// sink (spec §6 has no reporting option group), so this test is skipped
// rather than faked when no DSN is available, matching the teacher's own
// treatment of database-backed tests that need a live server.
func TestSink_RecordConfirmation(t *testing.T) {
	dsn := os.Getenv("PRFI_TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("PRFI_TEST_MYSQL_DSN not set, skipping reporting integration test")
	}

	sink, err := Open(dsn)
	require.NoError(t, err)
	defer sink.Close()

	batch := &block.SubmissionBatch{
		SubmissionID: "sub-test-1",
		TxHash:       "0xabc",
		GasUsed:      21000,
		GasPrice:     20,
		ConfirmedAt:  time.Now().UnixMilli(),
	}
	blocks := []*block.Block{{
		BlockID:           "blk-test-1",
		MinerAddress:      "0xminer",
		Points:            0.5,
		ConfirmationBlock: 12345,
	}}

	sink.RecordConfirmation(batch, blocks)

	var got BatchRecord
	require.NoError(t, sink.db.First(&got, "submission_id = ?", batch.SubmissionID).Error)
	require.Equal(t, batch.TxHash, got.TxHash)
}
