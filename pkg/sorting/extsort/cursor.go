package extsort

import (
	"errors"
	"fmt"
	"os"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/go-ldap/ldap/v3"
	"github.com/marmos91/dittoldap/internal/logger"
	"github.com/marmos91/dittoldap/pkg/cursor"
	"github.com/marmos91/dittoldap/pkg/metrics"
)

// SortedCursor walks the entries of a sort index by position.
//
// Positions run from 0 to Len()-1; -1 is the before-first sentinel and Len()
// the after-last one. Only one entry is held in memory at a time. Close
// removes the index directory.
type SortedCursor struct {
	mu      sync.Mutex
	db      *badger.DB
	dir     string
	size    int64
	pos     int64
	current *ldap.Entry
	closed  bool
	metrics metrics.SortMetrics
	onClose func()
}

var _ cursor.Cursor[*ldap.Entry] = (*SortedCursor)(nil)

func newSortedCursor(db *badger.DB, dir string, size int64, m metrics.SortMetrics) *SortedCursor {
	m.IndexOpened()
	return &SortedCursor{db: db, dir: dir, size: size, pos: -1, metrics: m}
}

// Len returns the number of sorted entries.
func (c *SortedCursor) Len() int64 {
	return c.size
}

// Dir returns the index directory.
func (c *SortedCursor) Dir() string {
	return c.dir
}

// BeforeFirst moves before the first entry.
func (c *SortedCursor) BeforeFirst() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return cursor.ErrClosed
	}
	c.pos, c.current = -1, nil
	return nil
}

// AfterLast moves past the last entry.
func (c *SortedCursor) AfterLast() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return cursor.ErrClosed
	}
	c.pos, c.current = c.size, nil
	return nil
}

// First positions on the first entry. Returns false when empty.
func (c *SortedCursor) First() (bool, error) {
	if err := c.BeforeFirst(); err != nil {
		return false, err
	}
	return c.Next()
}

// Last positions on the last entry. Returns false when empty.
func (c *SortedCursor) Last() (bool, error) {
	if err := c.AfterLast(); err != nil {
		return false, err
	}
	return c.Previous()
}

// Next advances one entry. Past the end it returns false and stays after the last.
func (c *SortedCursor) Next() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, cursor.ErrClosed
	}
	if c.pos >= c.size-1 {
		c.pos, c.current = c.size, nil
		return false, nil
	}
	return c.moveTo(c.pos + 1)
}

// Previous moves back one entry. Before the start it returns false and stays before the first.
func (c *SortedCursor) Previous() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, cursor.ErrClosed
	}
	if c.pos <= 0 {
		c.pos, c.current = -1, nil
		return false, nil
	}
	return c.moveTo(c.pos - 1)
}

// moveTo loads the entry at pos. Callers hold mu.
func (c *SortedCursor) moveTo(pos int64) (bool, error) {
	var e *ldap.Entry
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sortedKey(pos))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var derr error
			e, derr = decodeEntry(val)
			return derr
		})
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return false, fmt.Errorf("%w: position %d missing from %s", ErrIndexStorage, pos, c.dir)
		}
		return false, fmt.Errorf("%w: read position %d: %v", ErrIndexStorage, pos, err)
	}
	c.pos, c.current = pos, e
	return true, nil
}

// Available reports whether Get would return an entry.
func (c *SortedCursor) Available() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.current != nil
}

// Get returns the current entry, or ErrInvalidPosition on a sentinel.
func (c *SortedCursor) Get() (*ldap.Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, cursor.ErrClosed
	}
	if c.current == nil {
		return nil, cursor.ErrInvalidPosition
	}
	return c.current, nil
}

// Before is not supported: the index is keyed by position, not by entry.
func (c *SortedCursor) Before(*ldap.Entry) error {
	return cursor.ErrUnsupportedOperation
}

// After is not supported: the index is keyed by position, not by entry.
func (c *SortedCursor) After(*ldap.Entry) error {
	return cursor.ErrUnsupportedOperation
}

// Close closes the index and deletes its directory.
func (c *SortedCursor) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.current = nil

	var errs []error
	if err := c.db.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := os.RemoveAll(c.dir); err != nil {
		errs = append(errs, err)
	}
	c.metrics.IndexClosed()
	if c.onClose != nil {
		c.onClose()
	}

	if err := errors.Join(errs...); err != nil {
		logger.Warn("sort: failed to release index %s: %v", c.dir, err)
		return err
	}
	return nil
}
