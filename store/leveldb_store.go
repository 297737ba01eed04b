package store

import (
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/sr-oliveiraa/prfi-api-tokenization/block"
	"github.com/sr-oliveiraa/prfi-api-tokenization/errs"
	"github.com/sr-oliveiraa/prfi-api-tokenization/log"
)

// statusIndexPrefix keys a secondary index entry "status:<status>:<block_id>"
// -> nil, so ListByStatus can range-scan instead of reading every record,
// the same role the teacher's iterator-based prefix scans play in
// storage/database/leveldb_database.go.
const statusIndexPrefix = "status:"

// LevelDBStore is an embedded-KV alternative to FileStore (spec §4.6),
// mirroring storage/database/leveldb_database.go: it opens with corruption
// recovery, keeps a contextual logger, and stores one self-describing
// record per key.
type LevelDBStore struct {
	db  *leveldb.DB
	log *log.Logger
}

// OpenLevelDBStore opens (or creates) a LevelDB database at dir, attempting
// RecoverFile if the existing database reports corruption on open — the
// same recovery path the teacher's NewLDBDatabase follows.
func OpenLevelDBStore(dir string) (*LevelDBStore, error) {
	logger := log.NewModuleLogger("store.leveldb")
	db, err := leveldb.OpenFile(dir, &opt.Options{OpenFilesCacheCapacity: 64})
	if _, corrupted := err.(*errors.ErrCorrupted); corrupted {
		logger.Warn("leveldb reported corruption on open, attempting recovery", "dir", dir)
		db, err = leveldb.RecoverFile(dir, nil)
	}
	if err != nil {
		return nil, errs.New(errs.KindStorageCorrupt, "store", "OpenLevelDBStore", dir, err)
	}
	return &LevelDBStore{db: db, log: logger}, nil
}

func (s *LevelDBStore) Put(b *block.Block) error {
	raw, err := encode(b, time.Now().UnixMilli())
	if err != nil {
		return errs.New(errs.KindStorageCorrupt, "store", "Put", b.BlockID, err)
	}

	batch := new(leveldb.Batch)
	batch.Put([]byte(b.BlockID), raw)
	batch.Put([]byte(statusIndexPrefix+string(b.Status)+":"+b.BlockID), nil)

	if prev, err := s.db.Get([]byte(b.BlockID), nil); err == nil {
		if prevBlock, _, derr := decode(prev); derr == nil && prevBlock.Status != b.Status {
			batch.Delete([]byte(statusIndexPrefix + string(prevBlock.Status) + ":" + b.BlockID))
		}
	}

	if err := s.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return errs.New(errs.KindStorageCorrupt, "store", "Put", b.BlockID, err)
	}
	return nil
}

func (s *LevelDBStore) Get(blockID string) (*block.Block, bool, error) {
	raw, err := s.db.Get([]byte(blockID), nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errs.New(errs.KindStorageCorrupt, "store", "Get", blockID, err)
	}
	b, _, derr := decode(raw)
	if derr != nil {
		s.log.Warn("corrupt record on read, leaving in place for inspection", "block_id", blockID)
		return nil, false, errs.New(errs.KindStorageCorrupt, "store", "Get", blockID, derr)
	}
	return b, true, nil
}

func (s *LevelDBStore) ListByStatus(status block.Status) ([]*block.Block, []string, error) {
	prefix := []byte(statusIndexPrefix + string(status) + ":")
	iter := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	var matched []*block.Block
	var corrupt []string
	for iter.Next() {
		blockID := string(iter.Key()[len(prefix):])
		b, ok, err := s.Get(blockID)
		if err != nil {
			corrupt = append(corrupt, blockID)
			continue
		}
		if ok {
			matched = append(matched, b)
		}
	}
	if err := iter.Error(); err != nil {
		return matched, corrupt, errs.New(errs.KindStorageCorrupt, "store", "ListByStatus", "", err)
	}
	return matched, corrupt, nil
}

func (s *LevelDBStore) UpdateStatus(blockID string, mutate func(b *block.Block)) error {
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

func (s *LevelDBStore) Close() error {
	return s.db.Close()
}
