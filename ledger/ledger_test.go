package ledger

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sr-oliveiraa/prfi-api-tokenization/crypto"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func inputFor(eventID string) Input {
	return Input{
		EventID:           eventID,
		PayloadHash:       crypto.SHA256([]byte(eventID)),
		StatusCode:        200,
		RequestDurationMs: 150,
		ResponseSize:      512,
	}
}

func TestAppend_RejectsUnregisteredCompany(t *testing.T) {
	l := openTestLedger(t)
	_, err := l.Append("acme", inputFor("evt-1"))
	assert.Error(t, err)
}

func TestAppend_RejectsNonSuccessStatus(t *testing.T) {
	l := openTestLedger(t)
	_, err := l.RegisterCompany("acme", "Acme", "0xwallet", 3)
	require.NoError(t, err)

	in := inputFor("evt-1")
	in.StatusCode = 500
	_, err = l.Append("acme", in)
	assert.Error(t, err)
}

func TestAppend_RejectsEmptyPayloadHash(t *testing.T) {
	l := openTestLedger(t)
	_, err := l.RegisterCompany("acme", "Acme", "0xwallet", 3)
	require.NoError(t, err)

	in := inputFor("evt-1")
	in.PayloadHash = [32]byte{}
	_, err = l.Append("acme", in)
	assert.Error(t, err)
}

func TestAppend_FormsBatchOnceThresholdReached(t *testing.T) {
	l := openTestLedger(t)
	_, err := l.RegisterCompany("acme", "Acme", "0xwallet", 3)
	require.NoError(t, err)

	r1, err := l.Append("acme", inputFor("evt-1"))
	require.NoError(t, err)
	assert.Nil(t, r1.Batch)

	r2, err := l.Append("acme", inputFor("evt-2"))
	require.NoError(t, err)
	assert.Nil(t, r2.Batch)

	r3, err := l.Append("acme", inputFor("evt-3"))
	require.NoError(t, err)
	require.NotNil(t, r3.Batch)
	assert.Equal(t, 3, r3.Batch.EventsCount)
	assert.Equal(t, "acme", r3.Batch.CompanyID)

	snap, err := l.Snapshot("acme")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), snap.TotalEvents)
	assert.Equal(t, 0, snap.CurrentBatchEvents)
}

func TestAppend_ResetsCounterAfterBatch(t *testing.T) {
	l := openTestLedger(t)
	_, err := l.RegisterCompany("acme", "Acme", "0xwallet", 2)
	require.NoError(t, err)

	_, err = l.Append("acme", inputFor("evt-1"))
	require.NoError(t, err)
	r2, err := l.Append("acme", inputFor("evt-2"))
	require.NoError(t, err)
	require.NotNil(t, r2.Batch)

	r3, err := l.Append("acme", inputFor("evt-3"))
	require.NoError(t, err)
	assert.Nil(t, r3.Batch)

	snap, err := l.Snapshot("acme")
	require.NoError(t, err)
	assert.Equal(t, 1, snap.CurrentBatchEvents)
}

func TestRegisterCompany_IsIdempotent(t *testing.T) {
	l := openTestLedger(t)
	first, err := l.RegisterCompany("acme", "Acme", "0xwallet", 5)
	require.NoError(t, err)
	second, err := l.RegisterCompany("acme", "Other Name", "0xdifferent", 9)
	require.NoError(t, err)
	assert.Equal(t, first.Name, second.Name)
	assert.Equal(t, first.EventsPerToken, second.EventsPerToken)
}

func TestAppend_WritesWALFileToDisk(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir)
	require.NoError(t, err)
	_, err = l.RegisterCompany("acme", "Acme", "0xwallet", 100)
	require.NoError(t, err)
	_, err = l.Append("acme", inputFor("evt-1"))
	require.NoError(t, err)
	require.NoError(t, l.Close())

	info, err := os.Stat(dir + "/acme.wal")
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}
