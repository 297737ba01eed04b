package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pborman/uuid"

	"github.com/sr-oliveiraa/prfi-api-tokenization/crypto"
	"github.com/sr-oliveiraa/prfi-api-tokenization/errs"
	"github.com/sr-oliveiraa/prfi-api-tokenization/log"
	"github.com/sr-oliveiraa/prfi-api-tokenization/metrics"
)

var logger = log.NewModuleLogger("ledger")

// Input is what the caller supplies about a successful event; the ledger
// derives record_id, payload_hash, and batch membership itself.
type Input struct {
	EventID           string
	PayloadHash       [32]byte
	StatusCode        int
	RequestDurationMs int64
	ResponseSize      int
}

// AppendResult reports what happened to a single Append call: the new
// record and, if the company's batch threshold was just reached, the newly
// constituted Batch.
type AppendResult struct {
	Record *EventRecord
	Batch  *Batch // nil unless a batch was just created
}

// company is the ledger's private per-company state: the records belonging
// to the current (not yet batched) window plus the full count, guarded by
// its own mutex so writes for one company never block another (spec §5's
// "single-writer per company; between companies no ordering guarantee").
type company struct {
	mu       sync.Mutex
	info     Company
	pending  []*EventRecord // unassigned records in insertion order
	sequence uint64
	wal      *os.File
}

// Ledger is the append-only, per-company event log and batch counter of
// spec §4.4.
type Ledger struct {
	dir string

	mu        sync.RWMutex
	companies map[string]*company
}

// Open creates or attaches to a ledger rooted at dir, one write-ahead log
// file per company for crash-safe appends. Existing WAL files are not read
// back: a reopened ledger starts with no companies and empty in-memory
// state, and RegisterCompany appends to a company's existing WAL file.
func Open(dir string) (*Ledger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ledger: mkdir %s: %w", dir, err)
	}
	return &Ledger{dir: dir, companies: make(map[string]*company)}, nil
}

// RegisterCompany registers a new company (or returns the existing one),
// mirroring the contract ABI's selfRegisterCompany (spec §6), even though
// the on-chain call itself is submitter's responsibility.
func (l *Ledger) RegisterCompany(companyID, name, walletAddress string, eventsPerToken int) (*Company, error) {
	if eventsPerToken <= 0 {
		eventsPerToken = 1000
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if c, ok := l.companies[companyID]; ok {
		c.mu.Lock()
		defer c.mu.Unlock()
		return &c.info, nil
	}

	walPath := filepath.Join(l.dir, companyID+".wal")
	f, err := os.OpenFile(walPath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("ledger: open wal for %s: %w", companyID, err)
	}

	c := &company{
		info: Company{
			CompanyID:      companyID,
			Name:           name,
			WalletAddress:  walletAddress,
			EventsPerToken: eventsPerToken,
			Registered:     true,
		},
		wal: f,
	}
	l.companies[companyID] = c
	return &c.info, nil
}

func (l *Ledger) getCompany(companyID string) (*company, error) {
	l.mu.RLock()
	c, ok := l.companies[companyID]
	l.mu.RUnlock()
	if !ok {
		return nil, errs.New(errs.KindConfigInvalid, "ledger", "getCompany", companyID,
			fmt.Errorf("unknown company %q: must RegisterCompany first", companyID))
	}
	return c, nil
}

// walRecord is the durable representation appended to a company's WAL.
type walRecord struct {
	Record *EventRecord `json:"record"`
	Batch  *Batch       `json:"batch,omitempty"`
}

// Append records a successful event, advances the batch counter, and —
// when current_batch_events reaches events_per_token — atomically
// constitutes a new Batch over exactly that many most-recent unassigned
// records, per spec §4.4. The whole (append, counter update, batch
// creation) tuple is written to the WAL and fsynced before any in-memory
// state changes, giving crash-safe group commit semantics: a record is
// durable in the WAL before it is visible in memory, and a failed WAL write
// leaves the in-memory state unchanged.
func (l *Ledger) Append(companyID string, in Input) (*AppendResult, error) {
	c, err := l.getCompany(companyID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var zero [32]byte
	if in.PayloadHash == zero {
		return nil, errs.New(errs.KindTerminal, "ledger", "Append", in.EventID,
			fmt.Errorf("empty payload_hash"))
	}
	if in.StatusCode != 200 {
		return nil, errs.New(errs.KindTerminal, "ledger", "Append", in.EventID,
			fmt.Errorf("status_code %d != 200, not countable", in.StatusCode))
	}

	record := &EventRecord{
		RecordID:          uuid.NewRandom().String(),
		EventID:           in.EventID,
		CompanyID:         companyID,
		ProcessedAt:       time.Now().UnixMilli(),
		PayloadHash:       in.PayloadHash,
		StatusCode:        in.StatusCode,
		RequestDurationMs: in.RequestDurationMs,
		ResponseSize:      in.ResponseSize,
	}

	rec := walRecord{Record: record}

	newPending := append(c.pending, record)
	var batch *Batch
	if len(newPending) == c.info.EventsPerToken {
		batch, err = constituteBatch(companyID, c.sequence, newPending)
		if err != nil {
			return nil, err
		}
		for _, r := range newPending {
			r.BatchID = batch.BatchID
		}
		rec.Batch = batch
	}

	if err := writeWAL(c.wal, rec); err != nil {
		for _, r := range newPending {
			r.BatchID = ""
		}
		return nil, errs.New(errs.KindStorageCorrupt, "ledger", "Append", in.EventID, err)
	}

	// Only now, after the fsync above, mutate in-memory state.
	c.info.TotalEvents++
	if batch != nil {
		c.info.CurrentBatchEvents = 0
		c.sequence++
		c.pending = nil
		metrics.BatchesCreated.Inc(1)
	} else {
		c.info.CurrentBatchEvents = len(newPending)
		c.pending = newPending
	}
	metrics.EventsCounted.Inc(1)

	return &AppendResult{Record: record, Batch: batch}, nil
}

func constituteBatch(companyID string, sequence uint64, records []*EventRecord) (*Batch, error) {
	leaves := make([][32]byte, len(records))
	for i, r := range records {
		leaves[i] = r.PayloadHash
	}
	root := crypto.MerkleRoot(leaves)
	var zero [32]byte
	if root == zero {
		logger.FatalWithStack("well-formed batch produced zero merkle root", "company", companyID)
	}

	batchID := crypto.SHA256Hex([]byte(fmt.Sprintf("%s\x00%d", companyID, sequence)))

	return &Batch{
		BatchID:     batchID,
		CompanyID:   companyID,
		EventsCount: len(records),
		MerkleRoot:  root,
		CreatedAt:   time.Now().UnixMilli(),
		SequenceNum: sequence,
	}, nil
}

func writeWAL(f *os.File, rec walRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("ledger: marshal wal record: %w", err)
	}
	w := bufio.NewWriter(f)
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("ledger: write wal record: %w", err)
	}
	if err := w.WriteByte('\n'); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("ledger: flush wal: %w", err)
	}
	return f.Sync()
}

// Snapshot returns a read-only copy of a company's current state, per
// spec §5's "readers may be concurrent with a consistent snapshot view".
func (l *Ledger) Snapshot(companyID string) (Company, error) {
	c, err := l.getCompany(companyID)
	if err != nil {
		return Company{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info, nil
}

// Close flushes and closes every company's WAL file.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var firstErr error
	for _, c := range l.companies {
		c.mu.Lock()
		if err := c.wal.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		c.mu.Unlock()
	}
	return firstErr
}
