// Package store implements the durable, crash-safe Block store of spec
// §4.6/§6 (C6): one <block_id>.blk record file per block under
// blocks_directory by default (see encode for the record layout),
// with a pluggable embedded-KV alternative (LevelDB or Badger, mirroring
// the teacher's storage/database DBManager split across backends) for
// deployments that prefer a single on-disk database over one file per
// block.
package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"

	"github.com/golang/snappy"

	"github.com/sr-oliveiraa/prfi-api-tokenization/block"
)

// schemaVersion is bumped whenever the on-disk record layout changes.
const schemaVersion = 1

// diskRecord is the self-describing representation persisted for each
// Block, per spec §4.6: schema version, all Block fields, and a CRC32 of
// the body.
type diskRecord struct {
	SchemaVersion int          `json:"schema_version"`
	SavedAt       int64        `json:"saved_at"`
	Block         *block.Block `json:"block"`
}

// encode serializes b into the on-disk byte layout:
//
//	[4-byte LE schema_version][4-byte LE CRC32(body)][snappy(body)]
//
// where body is the JSON encoding of diskRecord. CRC32 runs over the
// uncompressed body so verification does not depend on snappy's own
// integrity checks.
func encode(b *block.Block, savedAt int64) ([]byte, error) {
	rec := diskRecord{SchemaVersion: schemaVersion, SavedAt: savedAt, Block: b}
	body, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("store: marshal block %s: %w", b.BlockID, err)
	}
	sum := crc32.ChecksumIEEE(body)
	compressed := snappy.Encode(nil, body)

	out := make([]byte, 8+len(compressed))
	binary.LittleEndian.PutUint32(out[0:4], schemaVersion)
	binary.LittleEndian.PutUint32(out[4:8], sum)
	copy(out[8:], compressed)
	return out, nil
}

// decode parses the on-disk byte layout, verifying the CRC32 before
// trusting the body. A CRC mismatch surfaces as errs.KindStorageCorrupt to
// the caller (via ErrCorrupt), per spec §4.6/§7: quarantine, don't delete.
func decode(raw []byte) (*block.Block, int64, error) {
	if len(raw) < 8 {
		return nil, 0, ErrCorrupt
	}
	wantSum := binary.LittleEndian.Uint32(raw[4:8])
	body, err := snappy.Decode(nil, raw[8:])
	if err != nil {
		return nil, 0, ErrCorrupt
	}
	if crc32.ChecksumIEEE(body) != wantSum {
		return nil, 0, ErrCorrupt
	}
	var rec diskRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, 0, ErrCorrupt
	}
	return rec.Block, rec.SavedAt, nil
}
