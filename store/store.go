package store

import (
	"errors"

	"github.com/sr-oliveiraa/prfi-api-tokenization/block"
)

// ErrCorrupt is wrapped in the error Get returns when a stored record fails
// its CRC32 check; ListByStatus reports such records by id instead. A
// corrupt record is never deleted: FileStore moves it aside into its
// quarantine directory and the KV stores leave it in place, so an operator
// can inspect it later.
var ErrCorrupt = errors.New("store: record failed crc32 check")

// ErrNotFound is wrapped in the error UpdateStatus returns when no record
// exists for the given id; Get reports a missing id with ok == false.
var ErrNotFound = errors.New("store: block not found")

// BlockStore persists Blocks keyed by BlockID and supports the status-scan
// query the scanner (C8) needs to find eligible blocks, per spec §4.6/§6.
type BlockStore interface {
	// Put writes b, creating or overwriting its record. Put is idempotent:
	// writing the same content twice succeeds both times.
	Put(b *block.Block) error

	// Get reads the block with the given id. ok is false (with a nil error)
	// when the id is unknown; a non-nil error (ErrCorrupt) means the record
	// exists but failed its integrity check.
	Get(blockID string) (b *block.Block, ok bool, err error)

	// ListByStatus returns every block currently in the given status.
	// Corrupt records encountered along the way are skipped and reported
	// via the second return value rather than aborting the scan.
	ListByStatus(status block.Status) (blocks []*block.Block, corruptIDs []string, err error)

	// UpdateStatus loads the block, applies mutate (which may change Status
	// and any other field, e.g. TxHash/ConfirmationBlock), and writes it
	// back under the same crash-safe path Put uses.
	UpdateStatus(blockID string, mutate func(b *block.Block)) error

	// Close releases any resources (open files, database handles).
	Close() error
}
