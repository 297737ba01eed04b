package store

import (
	"os"
	"time"

	"github.com/dgraph-io/badger"

	"github.com/sr-oliveiraa/prfi-api-tokenization/block"
	"github.com/sr-oliveiraa/prfi-api-tokenization/errs"
	"github.com/sr-oliveiraa/prfi-api-tokenization/log"
)

const (
	badgerGCThreshold   = int64(1 << 30) // 1GB of reclaimable value-log space
	badgerGCTickerEvery = time.Minute
)

// BadgerStore is the second embedded-KV alternative to FileStore, mirroring
// storage/database/badger_database.go's periodic value-log GC ticker.
type BadgerStore struct {
	dir      string
	db       *badger.DB
	log      *log.Logger
	gcTicker *time.Ticker
	stop     chan struct{}
}

// OpenBadgerStore opens (or creates) a Badger database at dir and starts its
// background value-log GC loop.
func OpenBadgerStore(dir string) (*BadgerStore, error) {
	logger := log.NewModuleLogger("store.badger")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.New(errs.KindStorageCorrupt, "store", "OpenBadgerStore", dir, err)
	}

	opts := badger.DefaultOptions
	opts.Dir = dir
	opts.ValueDir = dir
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errs.New(errs.KindStorageCorrupt, "store", "OpenBadgerStore", dir, err)
	}

	s := &BadgerStore{
		dir:      dir,
		db:       db,
		log:      logger,
		gcTicker: time.NewTicker(badgerGCTickerEvery),
		stop:     make(chan struct{}),
	}
	go s.runValueLogGC()
	return s, nil
}

func (s *BadgerStore) runValueLogGC() {
	for {
		select {
		case <-s.gcTicker.C:
			err := s.db.RunValueLogGC(0.5)
			if err != nil && err != badger.ErrNoRewrite {
				s.log.Warn("value log gc failed", "err", err)
			}
		case <-s.stop:
			return
		}
	}
}

func statusKey(status block.Status, blockID string) []byte {
	return []byte(statusIndexPrefix + string(status) + ":" + blockID)
}

func (s *BadgerStore) Put(b *block.Block) error {
	raw, err := encode(b, time.Now().UnixMilli())
	if err != nil {
		return errs.New(errs.KindStorageCorrupt, "store", "Put", b.BlockID, err)
	}

	return errWrap("Put", b.BlockID, s.db.Update(func(txn *badger.Txn) error {
		if item, err := txn.Get([]byte(b.BlockID)); err == nil {
			prevRaw, err := item.ValueCopy(nil)
			if err == nil {
				if prevBlock, _, derr := decode(prevRaw); derr == nil && prevBlock.Status != b.Status {
					if err := txn.Delete(statusKey(prevBlock.Status, b.BlockID)); err != nil {
						return err
					}
				}
			}
		}
		if err := txn.Set([]byte(b.BlockID), raw); err != nil {
			return err
		}
		return txn.Set(statusKey(b.Status, b.BlockID), nil)
	}))
}

func (s *BadgerStore) Get(blockID string) (*block.Block, bool, error) {
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(blockID))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
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

func (s *BadgerStore) ListByStatus(status block.Status) ([]*block.Block, []string, error) {
	prefix := []byte(statusIndexPrefix + string(status) + ":")
	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			ids = append(ids, string(key[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, nil, errs.New(errs.KindStorageCorrupt, "store", "ListByStatus", "", err)
	}

	var matched []*block.Block
	var corrupt []string
	for _, id := range ids {
		b, ok, err := s.Get(id)
		if err != nil {
			corrupt = append(corrupt, id)
			continue
		}
		if ok {
			matched = append(matched, b)
		}
	}
	return matched, corrupt, nil
}

func (s *BadgerStore) UpdateStatus(blockID string, mutate func(b *block.Block)) error {
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

func (s *BadgerStore) Close() error {
	close(s.stop)
	s.gcTicker.Stop()
	return s.db.Close()
}

func errWrap(op, entityID string, err error) error {
	if err == nil {
		return nil
	}
	return errs.New(errs.KindStorageCorrupt, "store", op, entityID, err)
}
