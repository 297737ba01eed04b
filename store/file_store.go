package store

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sr-oliveiraa/prfi-api-tokenization/block"
	"github.com/sr-oliveiraa/prfi-api-tokenization/errs"
	"github.com/sr-oliveiraa/prfi-api-tokenization/log"
)

// FileStore is the default BlockStore of spec §4.6/§6: one record per block
// under blocks_directory, named <block_id>.blk and holding the binary record
// of encode (a header, then snappy-compressed JSON; not a plain JSON file),
// written atomically via a
// sibling .tmp file plus rename, with an fsync before the rename so a crash
// mid-write never leaves a half-written record at the final path.
type FileStore struct {
	dir string
	log *log.Logger

	mu sync.Mutex // serializes writes; reads need no lock, files are atomic
}

// OpenFileStore creates dir if necessary and returns a FileStore rooted
// there.
func OpenFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.New(errs.KindStorageCorrupt, "store", "OpenFileStore", dir, err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "quarantine"), 0o755); err != nil {
		return nil, errs.New(errs.KindStorageCorrupt, "store", "OpenFileStore", dir, err)
	}
	return &FileStore{dir: dir, log: log.NewModuleLogger("store.file")}, nil
}

func (s *FileStore) path(blockID string) string {
	return filepath.Join(s.dir, blockID+".blk")
}

// Put writes b atomically: encode -> write to a .tmp sibling -> fsync ->
// rename over the final path. Rename is atomic on POSIX filesystems, so
// readers never observe a partially written record.
func (s *FileStore) Put(b *block.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := encode(b, time.Now().UnixMilli())
	if err != nil {
		return errs.New(errs.KindStorageCorrupt, "store", "Put", b.BlockID, err)
	}

	final := s.path(b.BlockID)
	tmp := final + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return errs.New(errs.KindStorageCorrupt, "store", "Put", b.BlockID, err)
	}
	if _, err := f.Write(raw); err != nil {
		f.Close()
		os.Remove(tmp)
		return errs.New(errs.KindStorageCorrupt, "store", "Put", b.BlockID, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return errs.New(errs.KindStorageCorrupt, "store", "Put", b.BlockID, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errs.New(errs.KindStorageCorrupt, "store", "Put", b.BlockID, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return errs.New(errs.KindStorageCorrupt, "store", "Put", b.BlockID, err)
	}
	return nil
}

// Get reads the block with the given id, quarantining it (moving it under
// dir/quarantine rather than deleting it) if its CRC32 fails.
func (s *FileStore) Get(blockID string) (*block.Block, bool, error) {
	raw, err := os.ReadFile(s.path(blockID))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errs.New(errs.KindStorageCorrupt, "store", "Get", blockID, err)
	}
	b, _, err := decode(raw)
	if err != nil {
		s.quarantine(blockID)
		return nil, false, errs.New(errs.KindStorageCorrupt, "store", "Get", blockID, err)
	}
	return b, true, nil
}

func (s *FileStore) quarantine(blockID string) {
	src := s.path(blockID)
	dst := filepath.Join(s.dir, "quarantine", blockID+".blk")
	if err := os.Rename(src, dst); err != nil {
		s.log.Warn("quarantine move failed", "block_id", blockID, "err", err)
		return
	}
	s.log.Warn("quarantined corrupt block record", "block_id", blockID)
}

// ListByStatus scans dir for every non-quarantined record and returns those
// matching status, skipping (and quarantining) any that fail to decode.
func (s *FileStore) ListByStatus(status block.Status) ([]*block.Block, []string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, nil, errs.New(errs.KindStorageCorrupt, "store", "ListByStatus", "", err)
	}

	var matched []*block.Block
	var corrupt []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".blk" {
			continue
		}
		blockID := e.Name()[:len(e.Name())-len(".blk")]
		raw, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			s.log.Warn("read failed during scan", "block_id", blockID, "err", err)
			continue
		}
		b, _, err := decode(raw)
		if err != nil {
			s.quarantine(blockID)
			corrupt = append(corrupt, blockID)
			continue
		}
		if b.Status == status {
			matched = append(matched, b)
		}
	}
	return matched, corrupt, nil
}

// UpdateStatus loads the block, applies mutate, and writes it back via Put,
// so status transitions get the same fsync-then-rename guarantee as a fresh
// write.
func (s *FileStore) UpdateStatus(blockID string, mutate func(b *block.Block)) error {
	b, ok, err := s.Get(blockID)
	if err != nil {
		return err
	}
	if !ok {
		return errs.New(errs.KindStorageCorrupt, "store", "UpdateStatus", blockID, ErrNotFound)
	}
	mutate(b)
	return s.Put(b)
}

// Close is a no-op for FileStore; every write is already durable on return.
func (s *FileStore) Close() error { return nil }
