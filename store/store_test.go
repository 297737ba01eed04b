package store

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sr-oliveiraa/prfi-api-tokenization/block"
)

func tempDir(t *testing.T, name string) string {
	t.Helper()
	dir, err := os.MkdirTemp("", name)
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func sampleBlock(id string, status block.Status) *block.Block {
	return &block.Block{
		BlockID:     id,
		BatchID:     "batch-1",
		CompanyID:   "company-1",
		EventsCount: 1000,
		Nonce:       42,
		BlockHash:   "deadbeef",
		MerkleRoot:  "cafebabe",
		HourBucket:  1,
		Difficulty:  4,
		Status:      status,
	}
}

func testBlockStoreRoundTrip(t *testing.T, s BlockStore) {
	b := sampleBlock("block-1", block.StatusPending)
	require.NoError(t, s.Put(b))

	got, ok, err := s.Get("block-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, b.BlockHash, got.BlockHash)
	assert.Equal(t, b.Status, got.Status)

	// Idempotent write of identical content.
	require.NoError(t, s.Put(b))

	_, ok, err = s.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func testBlockStoreListByStatus(t *testing.T, s BlockStore) {
	require.NoError(t, s.Put(sampleBlock("p1", block.StatusPending)))
	require.NoError(t, s.Put(sampleBlock("p2", block.StatusPending)))
	require.NoError(t, s.Put(sampleBlock("s1", block.StatusSubmitted)))

	pending, corrupt, err := s.ListByStatus(block.StatusPending)
	require.NoError(t, err)
	assert.Empty(t, corrupt)
	assert.Len(t, pending, 2)

	submitted, _, err := s.ListByStatus(block.StatusSubmitted)
	require.NoError(t, err)
	assert.Len(t, submitted, 1)
	assert.Equal(t, "s1", submitted[0].BlockID)
}

func testBlockStoreUpdateStatus(t *testing.T, s BlockStore) {
	require.NoError(t, s.Put(sampleBlock("u1", block.StatusPending)))

	require.NoError(t, s.UpdateStatus("u1", func(b *block.Block) {
		b.Status = block.StatusSubmitted
		b.TxHash = "0xabc"
	}))

	got, ok, err := s.Get("u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, block.StatusSubmitted, got.Status)
	assert.Equal(t, "0xabc", got.TxHash)

	pending, _, err := s.ListByStatus(block.StatusPending)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestFileStore(t *testing.T) {
	s, err := OpenFileStore(tempDir(t, "prfi-filestore"))
	require.NoError(t, err)
	defer s.Close()

	testBlockStoreRoundTrip(t, s)
	testBlockStoreListByStatus(t, s)
	testBlockStoreUpdateStatus(t, s)
}

func TestFileStore_QuarantinesCorruptRecord(t *testing.T) {
	dir := tempDir(t, "prfi-filestore-corrupt")
	s, err := OpenFileStore(dir)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put(sampleBlock("c1", block.StatusPending)))

	raw, err := os.ReadFile(s.path("c1"))
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xFF // flip every bit of the last byte of the compressed body
	require.NoError(t, os.WriteFile(s.path("c1"), raw, 0o644))

	_, ok, err := s.Get("c1")
	assert.False(t, ok)
	assert.Error(t, err)

	_, statErr := os.Stat(s.path("c1"))
	assert.True(t, os.IsNotExist(statErr), "corrupt record should have been moved out of the live path")
}

func TestLevelDBStore(t *testing.T) {
	s, err := OpenLevelDBStore(tempDir(t, "prfi-leveldb"))
	require.NoError(t, err)
	defer s.Close()

	testBlockStoreRoundTrip(t, s)
	testBlockStoreListByStatus(t, s)
	testBlockStoreUpdateStatus(t, s)
}

func TestBadgerStore(t *testing.T) {
	s, err := OpenBadgerStore(tempDir(t, "prfi-badger"))
	require.NoError(t, err)
	defer s.Close()

	testBlockStoreRoundTrip(t, s)
	testBlockStoreListByStatus(t, s)
	testBlockStoreUpdateStatus(t, s)
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	b := sampleBlock("enc-1", block.StatusConfirmed)
	raw, err := encode(b, 1234)
	require.NoError(t, err)

	got, savedAt, err := decode(raw)
	require.NoError(t, err)
	assert.Equal(t, int64(1234), savedAt)
	assert.Equal(t, b.BlockHash, got.BlockHash)
}

func TestDecode_RejectsTruncatedInput(t *testing.T) {
	_, _, err := decode([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrCorrupt)
}
