package submitter

import (
	"context"
	"encoding/hex"
	"math/big"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sr-oliveiraa/prfi-api-tokenization/block"
	"github.com/sr-oliveiraa/prfi-api-tokenization/crypto"
	"github.com/sr-oliveiraa/prfi-api-tokenization/store"
)

// fakeRPCClient is a simulated blockchain used only in tests, collapsing
// the "simulated vs real" sibling blockchain implementations into a single
// RPCClient trait whose only production implementation is httpRPCClient.
type fakeRPCClient struct {
	mu sync.Mutex

	blockNumber  uint64
	balance      uint64
	gasPriceWei  uint64
	txCount      uint64
	estimatedGas uint64

	sentTx   [][]byte
	receipts map[string]*Receipt
}

func newFakeRPCClient() *fakeRPCClient {
	return &fakeRPCClient{
		blockNumber:  100,
		gasPriceWei:  20,
		estimatedGas: 50_000,
		receipts:     map[string]*Receipt{},
	}
}

func (f *fakeRPCClient) BlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blockNumber, nil
}

func (f *fakeRPCClient) Balance(ctx context.Context, address string) (*big.Int, error) {
	return big.NewInt(int64(f.balance)), nil
}

func (f *fakeRPCClient) GasPrice(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gasPriceWei, nil
}

func (f *fakeRPCClient) TransactionCount(ctx context.Context, address string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.txCount, nil
}

func (f *fakeRPCClient) EstimateGas(ctx context.Context, msg CallMsg) (uint64, error) {
	return f.estimatedGas, nil
}

func (f *fakeRPCClient) SendRawTransaction(ctx context.Context, raw []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentTx = append(f.sentTx, raw)
	txHash := "0xtx" + itoaUint(uint64(len(f.sentTx)))
	return txHash, nil
}

func (f *fakeRPCClient) TransactionReceipt(ctx context.Context, txHash string) (*Receipt, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.receipts[txHash]
	if !ok {
		return nil, false, nil
	}
	return r, true, nil
}

func (f *fakeRPCClient) Call(ctx context.Context, msg CallMsg) ([]byte, error) {
	return nil, nil
}

func (f *fakeRPCClient) Code(ctx context.Context, address string) ([]byte, error) {
	return nil, nil
}

func (f *fakeRPCClient) setReceipt(txHash string, r *Receipt) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts[txHash] = r
}

func tempFileStore(t *testing.T) store.BlockStore {
	t.Helper()
	dir, err := os.MkdirTemp("", "submitter-store")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	s, err := store.OpenFileStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func minedBlock(t *testing.T, keys *crypto.KeyPair, id string, difficulty int) *block.Block {
	t.Helper()
	merkleRoot := crypto.SHA256([]byte("root-" + id))
	merkleHex := hex.EncodeToString(merkleRoot[:])
	batchID := "batch-" + id

	prefix := crypto.PowPrefix(keys.Address(), batchID, 10, merkleRoot, crypto.HourBucket(time.Now().Unix()))
	var nonce uint64
	var hash [32]byte
	for nonce = 0; ; nonce++ {
		hash = crypto.PowHash(prefix, nonce)
		if crypto.MeetsDifficulty(hash, difficulty) {
			break
		}
	}

	msg := id + "\x00" + batchID + "\x00" + keys.Address() + "\x00" + merkleHex + "\x00" + itoaUint(nonce)
	sig, err := keys.Sign([]byte(msg))
	require.NoError(t, err)

	return &block.Block{
		BlockID:      id,
		BatchID:      batchID,
		MinerAddress: keys.Address(),
		EventsCount:  10,
		Nonce:        nonce,
		BlockHash:    hex.EncodeToString(hash[:]),
		MerkleRoot:   merkleHex,
		Difficulty:   difficulty,
		Signature:    hex.EncodeToString(sig),
		MinedAt:      time.Now().UnixMilli(),
		Status:       block.StatusPending,
	}
}

func itoaUint(v uint64) string {
	if v == 0 {
		return "0"
	}
	digits := []byte{}
	for v > 0 {
		digits = append([]byte{byte('0' + v%10)}, digits...)
		v /= 10
	}
	return string(digits)
}

func TestSubmit_SingleBlockSendsMintBatchAndTransitions(t *testing.T) {
	keys, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	s := tempFileStore(t)
	b := minedBlock(t, keys, "blk-1", 1)
	require.NoError(t, s.Put(b))

	batch := &block.SubmissionBatch{
		SubmissionID: "sub-1",
		BlockIDs:     []string{b.BlockID},
		Status:       block.SubStatusPending,
	}

	rpc := newFakeRPCClient()
	cfg := DefaultConfig
	cfg.ContractAddress = "0x00000000000000000000000000000000000001"
	sub := New(rpc, keys, s, cfg)

	err = sub.Submit(context.Background(), batch, []*block.Block{b})
	require.NoError(t, err)

	assert.Equal(t, block.SubStatusSubmitted, batch.Status)
	assert.NotEmpty(t, batch.TxHash)
	require.Len(t, rpc.sentTx, 1)

	got, ok, err := s.Get(b.BlockID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, block.StatusSubmitted, got.Status)
	assert.Equal(t, batch.TxHash, got.TxHash)
}

func TestSubmit_RejectsNonPendingBlock(t *testing.T) {
	keys, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	s := tempFileStore(t)
	b := minedBlock(t, keys, "blk-2", 1)
	b.Status = block.StatusSubmitted
	require.NoError(t, s.Put(b))

	batch := &block.SubmissionBatch{SubmissionID: "sub-2", BlockIDs: []string{b.BlockID}, Status: block.SubStatusPending}
	rpc := newFakeRPCClient()
	sub := New(rpc, keys, s, DefaultConfig)

	err = sub.Submit(context.Background(), batch, []*block.Block{b})
	assert.Error(t, err)
	assert.Empty(t, rpc.sentTx)
}

func TestSubmit_GasPriceClampedAtMax(t *testing.T) {
	keys, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	s := tempFileStore(t)
	b := minedBlock(t, keys, "blk-3", 1)
	require.NoError(t, s.Put(b))

	batch := &block.SubmissionBatch{SubmissionID: "sub-3", BlockIDs: []string{b.BlockID}, Status: block.SubStatusPending}

	rpc := newFakeRPCClient()
	rpc.gasPriceWei = 1000

	cfg := DefaultConfig
	cfg.GasPriceMultiplier = 2
	cfg.MaxGasPrice = 500
	sub := New(rpc, keys, s, cfg)

	require.NoError(t, sub.Submit(context.Background(), batch, []*block.Block{b}))
	assert.Equal(t, uint64(500), batch.GasPrice)
}

func TestMonitor_ConfirmsAfterEnoughBlocks(t *testing.T) {
	keys, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	s := tempFileStore(t)
	b := minedBlock(t, keys, "blk-4", 1)
	require.NoError(t, s.Put(b))

	batch := &block.SubmissionBatch{
		SubmissionID: "sub-4",
		BlockIDs:     []string{b.BlockID},
		Status:       block.SubStatusSubmitted,
		TxHash:       "0xabc",
		SubmittedAt:  time.Now().UnixMilli(),
	}

	rpc := newFakeRPCClient()
	rpc.blockNumber = 100
	rpc.setReceipt("0xabc", &Receipt{TxHash: "0xabc", BlockNumber: 90, Status: 1, GasUsed: 21000})

	cfg := DefaultConfig
	cfg.PollInterval = 5 * time.Millisecond
	cfg.ConfirmationBlocks = 5
	cfg.SubmissionTimeout = time.Second

	m := NewMonitor(rpc, s, cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	m.Run(ctx, batch, []*block.Block{b})

	assert.Equal(t, block.SubStatusConfirmed, batch.Status)
	got, ok, err := s.Get(b.BlockID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, block.StatusConfirmed, got.Status)
}

func TestMonitor_RevertResetsBlocksToPending(t *testing.T) {
	keys, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	s := tempFileStore(t)
	b := minedBlock(t, keys, "blk-5", 1)
	b.Status = block.StatusSubmitted
	require.NoError(t, s.Put(b))

	batch := &block.SubmissionBatch{
		SubmissionID: "sub-5",
		BlockIDs:     []string{b.BlockID},
		Status:       block.SubStatusSubmitted,
		TxHash:       "0xdef",
		SubmittedAt:  time.Now().UnixMilli(),
	}

	rpc := newFakeRPCClient()
	rpc.setReceipt("0xdef", &Receipt{TxHash: "0xdef", BlockNumber: 90, Status: 0})

	cfg := DefaultConfig
	cfg.PollInterval = 5 * time.Millisecond
	cfg.RetryDelay = 5 * time.Millisecond
	cfg.MaxRetries = 3
	cfg.SubmissionTimeout = time.Second

	m := NewMonitor(rpc, s, cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	m.Run(ctx, batch, []*block.Block{b})

	assert.Equal(t, 1, batch.RetryCount)
	got, ok, err := s.Get(b.BlockID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, block.StatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)
}
