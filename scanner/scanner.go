// Package scanner implements the Scanner & Batcher of spec §4.7 (C8): it
// scans the block store for PENDING blocks, re-validates each one, orders
// them by priority, and groups the survivors into gas-bounded
// SubmissionBatches for the submitter (C9).
package scanner

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"encoding/hex"
	"sort"
	"strconv"
	"time"

	"github.com/sr-oliveiraa/prfi-api-tokenization/block"
	"github.com/sr-oliveiraa/prfi-api-tokenization/crypto"
	"github.com/sr-oliveiraa/prfi-api-tokenization/log"
	"github.com/sr-oliveiraa/prfi-api-tokenization/store"
)

var logger = log.NewModuleLogger("scanner")

// Config holds the scan/batch tunables from spec §4.7/§6.
type Config struct {
	MinDifficulty   int
	ValidityWindow  time.Duration // how old a MinedAt may be before it's rejected
	BatchSize       int           // target size
	MinBatchSize    int
	MaxBatchSize    int
	GasLimit        uint64
	GasPerBlock     uint64 // marginal cost per block, on top of the 21000 base
}

// DefaultConfig matches the defaults named in spec §4.7/§6.
var DefaultConfig = Config{
	MinDifficulty:  2,
	ValidityWindow: 24 * time.Hour,
	BatchSize:      10,
	MinBatchSize:   1,
	MaxBatchSize:   50,
	GasLimit:       3_000_000,
	GasPerBlock:    30_000,
}

// QuarantineEntry records why a PENDING block was skipped instead of
// scanned into a batch, so an operator can see the full picture rather
// than a silent drop (spec §4.7: "invalid blocks are logged and skipped").
type QuarantineEntry struct {
	BlockID string
	Reason  string
}

// QuarantineReport is the accumulated result of one Scan call's validity
// filtering, supplementing spec §4.7 with the same operator-facing
// reporting the teacher gives storage corruption (store.ListByStatus's
// corruptIDs side channel).
type QuarantineReport struct {
	Entries []QuarantineEntry
}

func (r *QuarantineReport) add(blockID, reason string) {
	r.Entries = append(r.Entries, QuarantineEntry{BlockID: blockID, Reason: reason})
	logger.Info("block quarantined by scan", "block_id", blockID, "reason", reason)
}

// Scanner selects and orders eligible Blocks from a BlockStore.
type Scanner struct {
	cfg   Config
	store store.BlockStore
}

// New builds a Scanner over store using cfg.
func New(s store.BlockStore, cfg Config) *Scanner {
	return &Scanner{cfg: cfg, store: s}
}

// Scan returns every PENDING block that passes validity filtering, ordered
// by the priority rule of spec §4.7: oldest mined_at first, then higher
// points, then miner-fairness round-robin. Blocks rejected during
// filtering are reported, not silently dropped.
func (s *Scanner) Scan() ([]*block.Block, *QuarantineReport, error) {
	pending, corruptIDs, err := s.store.ListByStatus(block.StatusPending)
	if err != nil {
		return nil, nil, err
	}

	report := &QuarantineReport{}
	for _, id := range corruptIDs {
		report.add(id, "storage_corrupt")
	}

	now := time.Now()
	var valid []*block.Block
	for _, b := range pending {
		if reason, ok := s.validate(b, now); !ok {
			report.add(b.BlockID, reason)
			continue
		}
		valid = append(valid, b)
	}

	return order(valid), report, nil
}

func (s *Scanner) validate(b *block.Block, now time.Time) (string, bool) {
	if b.Difficulty < s.cfg.MinDifficulty {
		return "difficulty_below_minimum", false
	}
	minedAt := time.UnixMilli(b.MinedAt)
	if now.Sub(minedAt) > s.cfg.ValidityWindow {
		return "mined_at_expired", false
	}
	if now.Before(minedAt) {
		return "mined_at_in_future", false
	}

	hashBytes, err := hex.DecodeString(b.BlockHash)
	if err != nil || len(hashBytes) != 32 {
		return "malformed_block_hash", false
	}
	var hash [32]byte
	copy(hash[:], hashBytes)
	if !crypto.MeetsDifficulty(hash, b.Difficulty) {
		return "hash_does_not_meet_claimed_difficulty", false
	}

	pub, err := decodePublicKey(b.PublicKey)
	if err != nil {
		return "malformed_public_key", false
	}
	sig, err := hex.DecodeString(b.Signature)
	if err != nil {
		return "malformed_signature", false
	}
	msg := b.BlockID + "\x00" + b.BatchID + "\x00" + b.MinerAddress + "\x00" + b.MerkleRoot + "\x00" + strconv.FormatUint(b.Nonce, 10)
	if !crypto.Verify(pub, []byte(msg), sig) {
		return "invalid_signature", false
	}

	// status_code == 200 is enforced upstream: the ledger only admits
	// events with status_code 200 (see ledger.Append), so every Batch —
	// and therefore every Block mined from it — already satisfies this by
	// construction. There is no separate status_code field on Block to
	// re-check here.

	return "", true
}

func decodePublicKey(hexStr string) (*ecdsa.PublicKey, error) {
	raw, err := hex.DecodeString(hexStr)
	if err != nil {
		return nil, err
	}
	curve := elliptic.P256()
	x, y := elliptic.Unmarshal(curve, raw)
	if x == nil {
		return nil, errInvalidPoint
	}
	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
}

var errInvalidPoint = errDecodingPoint{}

type errDecodingPoint struct{}

func (errDecodingPoint) Error() string { return "scanner: could not unmarshal public key point" }

// order applies the priority rule: oldest mined_at first, then higher
// points, then miner-fairness round-robin across distinct miners.
func order(blocks []*block.Block) []*block.Block {
	sort.SliceStable(blocks, func(i, j int) bool {
		if blocks[i].MinedAt != blocks[j].MinedAt {
			return blocks[i].MinedAt < blocks[j].MinedAt
		}
		return blocks[i].Points > blocks[j].Points
	})
	out := make([]*block.Block, 0, len(blocks))
	for start := 0; start < len(blocks); {
		end := start + 1
		for end < len(blocks) && blocks[end].MinedAt == blocks[start].MinedAt && blocks[end].Points == blocks[start].Points {
			end++
		}
		out = append(out, roundRobinByMiner(blocks[start:end])...)
		start = end
	}
	return out
}

// roundRobinByMiner re-interleaves an already mined_at/points-sorted slice
// so that consecutive blocks from the same miner are spread out: it takes
// one block per miner per pass, preserving each miner's internal order,
// until every block has been placed. order applies it to each run of blocks
// that share mined_at and points, so it only breaks ties and never moves a
// block ahead of an older or higher-points one.
func roundRobinByMiner(blocks []*block.Block) []*block.Block {
	byMiner := make(map[string][]*block.Block)
	var minerOrder []string
	for _, b := range blocks {
		if _, seen := byMiner[b.MinerAddress]; !seen {
			minerOrder = append(minerOrder, b.MinerAddress)
		}
		byMiner[b.MinerAddress] = append(byMiner[b.MinerAddress], b)
	}
	if len(minerOrder) <= 1 {
		return blocks
	}

	out := make([]*block.Block, 0, len(blocks))
	idx := make(map[string]int, len(minerOrder))
	for {
		placed := false
		for _, miner := range minerOrder {
			i := idx[miner]
			queue := byMiner[miner]
			if i >= len(queue) {
				continue
			}
			out = append(out, queue[i])
			idx[miner] = i + 1
			placed = true
		}
		if !placed {
			break
		}
	}
	return out
}
