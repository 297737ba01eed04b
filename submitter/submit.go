package submitter

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/sr-oliveiraa/prfi-api-tokenization/block"
	"github.com/sr-oliveiraa/prfi-api-tokenization/crypto"
	"github.com/sr-oliveiraa/prfi-api-tokenization/errs"
	"github.com/sr-oliveiraa/prfi-api-tokenization/log"
	"github.com/sr-oliveiraa/prfi-api-tokenization/metrics"
	"github.com/sr-oliveiraa/prfi-api-tokenization/store"
)

var logger = log.NewModuleLogger("submitter")

// Config holds the submission tunables named in spec §4.8/§6.
type Config struct {
	ContractAddress  string
	GasLimit         uint64
	GasEstimateMargin float64 // e.g. 1.2 for a 20% safety margin
	GasPriceMultiplier float64
	MaxGasPrice      uint64
	PollInterval     time.Duration
	ConfirmationBlocks uint64
	MaxRetries       int
	RetryDelay       time.Duration
	SubmissionTimeout time.Duration // a submitted tx unconfirmed past this is "lost"
	ParallelSubmissions int
}

// DefaultConfig matches the defaults named in spec §4.8/§6.
var DefaultConfig = Config{
	GasLimit:            3_000_000,
	GasEstimateMargin:   1.2,
	GasPriceMultiplier:  1.1,
	MaxGasPrice:         500_000_000_000, // 500 gwei-equivalent unit ceiling
	PollInterval:        30 * time.Second,
	ConfirmationBlocks:  12,
	MaxRetries:          3,
	RetryDelay:          5 * time.Second,
	SubmissionTimeout:   30 * time.Minute,
	ParallelSubmissions: 1,
}

// Submitter turns a ready SubmissionBatch into an on-chain transaction,
// per spec §4.8 (C9): estimate gas, clamp gas price, fetch the account
// nonce, build and sign calldata, send the raw transaction, and transition
// the batch and its member blocks to SUBMITTED.
type Submitter struct {
	cfg    Config
	rpc    RPCClient
	keys   *crypto.KeyPair
	store  store.BlockStore
	nonceMu chan struct{} // 1-buffered mutex guarding the local nonce counter
	nonce   uint64
	nonceSet bool
}

// New builds a Submitter signing with keys and sending through rpc.
func New(rpc RPCClient, keys *crypto.KeyPair, s store.BlockStore, cfg Config) *Submitter {
	sem := make(chan struct{}, 1)
	sem <- struct{}{}
	return &Submitter{cfg: cfg, rpc: rpc, keys: keys, store: s, nonceMu: sem}
}

// Submit sends batch (backed by blocks, in the same order as
// batch.BlockIDs) as a single transaction and transitions batch and blocks
// to SUBMITTED on success.
func (s *Submitter) Submit(ctx context.Context, batch *block.SubmissionBatch, blocks []*block.Block) error {
	if len(blocks) == 0 {
		return errs.New(errs.KindConfigInvalid, "submitter", "submit", batch.SubmissionID, fmt.Errorf("empty batch"))
	}
	if !block.CanTransition(batch.Status, block.SubStatusSubmitting) {
		return errs.New(errs.KindConfigInvalid, "submitter", "submit", batch.SubmissionID,
			fmt.Errorf("batch in status %s cannot start submitting", batch.Status))
	}

	for _, b := range blocks {
		if b.Status != block.StatusPending {
			return errs.New(errs.KindConfigInvalid, "submitter", "submit", b.BlockID,
				fmt.Errorf("block not PENDING: %s", b.Status))
		}
	}

	calldata, err := s.buildCalldata(blocks)
	if err != nil {
		return err
	}

	gasLimit, err := s.estimateGas(ctx, calldata)
	if err != nil {
		return err
	}
	gasPrice, err := s.gasPrice(ctx)
	if err != nil {
		return err
	}
	nonce, err := s.accountNonce(ctx)
	if err != nil {
		return err
	}

	raw, err := s.signTransaction(nonce, gasPrice, gasLimit, calldata)
	if err != nil {
		return err
	}

	batch.Status = block.SubStatusSubmitting
	batch.GasPrice = gasPrice

	txHash, err := s.rpc.SendRawTransaction(ctx, raw)
	if err != nil {
		s.releaseNonce(nonce) // send failed before the chain ever saw this nonce
		return errs.New(errs.KindRpcUnavailable, "submitter", "submit", batch.SubmissionID, err)
	}

	batch.TxHash = txHash
	batch.Status = block.SubStatusSubmitted
	batch.SubmittedAt = time.Now().UnixMilli()

	for _, b := range blocks {
		if err := s.store.UpdateStatus(b.BlockID, func(b *block.Block) {
			b.Status = block.StatusSubmitted
			b.TxHash = txHash
		}); err != nil {
			logger.Error("failed to mark block submitted", "block_id", b.BlockID, "err", err)
		}
		metrics.BlocksSubmitted.Inc(1)
	}

	logger.Info("submitted batch", "submission_id", batch.SubmissionID, "tx_hash", txHash,
		"gas_price", gasPrice, "gas_limit", gasLimit, "block_count", len(blocks))
	return nil
}

func (s *Submitter) buildCalldata(blocks []*block.Block) ([]byte, error) {
	if len(blocks) == 1 {
		b := blocks[0]
		root, err := decodeMerkleRoot(b.MerkleRoot)
		if err != nil {
			return nil, err
		}
		return encodeMintBatch(b.BatchID, b.EventsCount, b.Nonce, root), nil
	}

	batchIDs := make([]string, len(blocks))
	eventsCounts := make([]uint64, len(blocks))
	nonces := make([]uint64, len(blocks))
	roots := make([][32]byte, len(blocks))
	for i, b := range blocks {
		root, err := decodeMerkleRoot(b.MerkleRoot)
		if err != nil {
			return nil, err
		}
		batchIDs[i] = b.BatchID
		eventsCounts[i] = b.EventsCount
		nonces[i] = b.Nonce
		roots[i] = root
	}
	return encodeSubmitBlocks(batchIDs, eventsCounts, nonces, roots)
}

func decodeMerkleRoot(hexStr string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(hexStr)
	if err != nil || len(raw) != 32 {
		return out, fmt.Errorf("submitter: malformed merkle root %q", hexStr)
	}
	copy(out[:], raw)
	return out, nil
}

// estimateGas asks the chain for a gas estimate, applies the configured
// safety margin, and caps the result at GasLimit, per spec §4.8 step 2.
func (s *Submitter) estimateGas(ctx context.Context, calldata []byte) (uint64, error) {
	est, err := s.rpc.EstimateGas(ctx, CallMsg{From: s.keys.Address(), To: s.cfg.ContractAddress, Data: calldata})
	if err != nil {
		return 0, err
	}
	margin := s.cfg.GasEstimateMargin
	if margin <= 0 {
		margin = 1.0
	}
	withMargin := uint64(float64(est) * margin)
	if s.cfg.GasLimit > 0 && withMargin > s.cfg.GasLimit {
		withMargin = s.cfg.GasLimit
	}
	return withMargin, nil
}

// gasPrice applies the configured multiplier to the network's suggested
// gas price, clamped at MaxGasPrice, per spec §4.8 step 2.
func (s *Submitter) gasPrice(ctx context.Context) (uint64, error) {
	base, err := s.rpc.GasPrice(ctx)
	if err != nil {
		return 0, err
	}
	multiplier := s.cfg.GasPriceMultiplier
	if multiplier <= 0 {
		multiplier = 1.0
	}
	price := uint64(float64(base) * multiplier)
	if s.cfg.MaxGasPrice > 0 && price > s.cfg.MaxGasPrice {
		price = s.cfg.MaxGasPrice
		metrics.GasPriceClamped.Inc(1)
	}
	return price, nil
}

// accountNonce reconciles the local nonce counter with the chain on first
// use, then hands out sequential nonces under a 1-buffered-channel mutex.
// The mutex only serializes nonce allocation: the number of outstanding
// transactions per account is not limited, and ParallelSubmissions is not
// consulted.
func (s *Submitter) accountNonce(ctx context.Context) (uint64, error) {
	<-s.nonceMu
	defer func() { s.nonceMu <- struct{}{} }()

	if !s.nonceSet {
		chainNonce, err := s.rpc.TransactionCount(ctx, s.keys.Address())
		if err != nil {
			return 0, err
		}
		s.nonce = chainNonce
		s.nonceSet = true
	}
	n := s.nonce
	s.nonce++
	return n, nil
}

// releaseNonce gives back a nonce that was allocated but never broadcast,
// so the next Submit call reuses it instead of leaving a gap.
func (s *Submitter) releaseNonce(n uint64) {
	<-s.nonceMu
	if s.nonceSet && s.nonce == n+1 {
		s.nonce = n
	}
	s.nonceMu <- struct{}{}
}

// signTransaction builds a self-contained signed transaction envelope.
// The module has no secp256k1/RLP dependency (see crypto.KeyPair's doc
// comment), so rather than fabricate a go-ethereum-format RLP transaction
// this mirrors the same "concatenate fields, sign with KeyPair.Sign" idiom
// already used for Block signing: the chain/RPC endpoint on the other end
// of this interface is expected to accept this envelope's encoding in
// place of a standard RLP transaction.
func (s *Submitter) signTransaction(nonce, gasPrice, gasLimit uint64, calldata []byte) ([]byte, error) {
	msg := fmt.Sprintf("%s\x00%s\x00%d\x00%d\x00%d\x00%s",
		s.keys.Address(), s.cfg.ContractAddress, nonce, gasPrice, gasLimit, hex.EncodeToString(calldata))
	sig, err := s.keys.Sign([]byte(msg))
	if err != nil {
		return nil, errs.New(errs.KindConfigInvalid, "submitter", "sign_transaction", "", err)
	}

	env := transactionEnvelope{
		From:     s.keys.Address(),
		To:       s.cfg.ContractAddress,
		Nonce:    nonce,
		GasPrice: gasPrice,
		GasLimit: gasLimit,
		Data:     hex.EncodeToString(calldata),
		Sig:      hex.EncodeToString(sig),
	}
	return env.encode(), nil
}
