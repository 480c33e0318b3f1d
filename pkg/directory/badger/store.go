package badger

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/go-ldap/ldap/v3"
	"github.com/marmos91/dittoldap/pkg/directory"
)

// BadgerStore implements directory.Store on BadgerDB.
//
// Every call runs in its own transaction (db.View for reads, db.Update for
// writes), so a Put or Delete updates the entry and the children index
// atomically. See keys.go for the key layout.
type BadgerStore struct {
	db     *badger.DB
	closed atomic.Bool
}

var _ directory.Store = (*BadgerStore)(nil)

// Config configures a BadgerStore.
type Config struct {
	// Path is the directory holding the database files
	Path string `mapstructure:"path"`

	// InMemory keeps the database in memory; Path is ignored
	InMemory bool `mapstructure:"in_memory"`

	// SyncWrites fsyncs every write transaction
	SyncWrites bool `mapstructure:"sync_writes"`

	// BlockCacheSizeMB is Badger's block cache size in MB (default: 64)
	BlockCacheSizeMB int64 `mapstructure:"block_cache_size_mb"`
}

// NewBadgerStore opens (or creates) the database described by cfg.
//
// Parameters:
//   - ctx: Context for cancellation
//   - cfg: Store configuration
//
// Returns:
//   - *BadgerStore: Store ready for use
//   - error: Error if the database cannot be opened
func NewBadgerStore(ctx context.Context, cfg Config) (*BadgerStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Path == "" && !cfg.InMemory {
		return nil, fmt.Errorf("badger store needs a path")
	}

	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}

	blockCacheMB := cfg.BlockCacheSizeMB
	if blockCacheMB == 0 {
		blockCacheMB = 64
	}
	opts = opts.WithLoggingLevel(badger.WARNING) // badger logs through its own logger
	opts = opts.WithCompression(options.None)    // entries are small
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithBlockCacheSize(blockCacheMB << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", cfg.Path, err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed.Load() {
		return directory.ErrStoreClosed
	}
	return nil
}

func getRecord(txn *badger.Txn, ndn string) (*record, error) {
	item, err := txn.Get(entryKey(ndn))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", directory.ErrEntryNotFound, ndn)
	}
	if err != nil {
		return nil, err
	}
	var rec *record
	err = item.Value(func(val []byte) error {
		rec, err = decodeRecord(val)
		return err
	})
	return rec, err
}

func hasChildren(txn *badger.Txn, ndn string) bool {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = childPrefix(ndn)

	it := txn.NewIterator(opts)
	defer it.Close()
	it.Rewind()
	return it.Valid()
}

// Get returns the entry stored under ndn.
func (s *BadgerStore) Get(ctx context.Context, ndn string) (*ldap.Entry, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	var entry *ldap.Entry
	err := s.db.View(func(txn *badger.Txn) error {
		rec, err := getRecord(txn, ndn)
		if err != nil {
			return err
		}
		entry = rec.entry()
		return nil
	})
	return entry, err
}

// Put stores entry under ndn as a child of parent.
func (s *BadgerStore) Put(ctx context.Context, ndn, parent string, entry *ldap.Entry) error {
	if err := s.check(ctx); err != nil {
		return err
	}

	data, err := encodeRecord(parent, entry)
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if parent != "" {
			if _, err := txn.Get(entryKey(parent)); errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s", directory.ErrParentNotFound, parent)
			} else if err != nil {
				return err
			}
		}

		old, err := getRecord(txn, ndn)
		switch {
		case errors.Is(err, directory.ErrEntryNotFound):
		case err != nil:
			return err
		case old.Parent != parent && old.Parent != "":
			if err := txn.Delete(childKey(old.Parent, ndn)); err != nil {
				return err
			}
		}

		if err := txn.Set(entryKey(ndn), data); err != nil {
			return err
		}
		if parent != "" {
			return txn.Set(childKey(parent, ndn), nil)
		}
		return nil
	})
}

// Delete removes the leaf stored under ndn.
func (s *BadgerStore) Delete(ctx context.Context, ndn string) error {
	if err := s.check(ctx); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		rec, err := getRecord(txn, ndn)
		if err != nil {
			return err
		}
		if hasChildren(txn, ndn) {
			return fmt.Errorf("%w: %s", directory.ErrHasChildren, ndn)
		}
		if rec.Parent != "" {
			if err := txn.Delete(childKey(rec.Parent, ndn)); err != nil {
				return err
			}
		}
		return txn.Delete(entryKey(ndn))
	})
}

// Children returns the normalized DNs of the children of ndn in key order.
func (s *BadgerStore) Children(ctx context.Context, ndn string) ([]string, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	var children []string
	err := s.db.View(func(txn *badger.Txn) error {
		if _, err := txn.Get(entryKey(ndn)); errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", directory.ErrEntryNotFound, ndn)
		} else if err != nil {
			return err
		}

		prefix := childPrefix(ndn)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			children = append(children, childFromKey(it.Item().Key(), prefix))
		}
		return nil
	})
	return children, err
}

// Count returns the number of stored entries.
func (s *BadgerStore) Count(ctx context.Context) (int64, error) {
	if err := s.check(ctx); err != nil {
		return 0, err
	}

	var count int64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefixEntry)

		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// Close closes the database. Closing twice is a no-op.
func (s *BadgerStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}
