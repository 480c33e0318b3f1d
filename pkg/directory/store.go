package directory

import (
	"context"
	"errors"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/marmos91/dittoldap/pkg/metrics"
)

// Store persists the entries of one partition as a tree.
//
// Entries are addressed by normalized DN (see schema.NormalizeDN). Stores do
// not interpret entries: LDAP semantics (schema checks, operational
// attributes, subtree renames) live in Partition.
//
// Implementations must be safe for concurrent use and must return copies, so
// callers can modify what they get without affecting stored state.
type Store interface {
	// Get returns the entry stored under ndn.
	//
	// Returns ErrEntryNotFound if absent.
	Get(ctx context.Context, ndn string) (*ldap.Entry, error)

	// Put stores entry under ndn as a child of parent, replacing any entry
	// already stored under ndn. An empty parent makes the entry a root.
	//
	// Returns ErrParentNotFound if parent is not empty and absent.
	Put(ctx context.Context, ndn, parent string, entry *ldap.Entry) error

	// Delete removes the entry stored under ndn.
	//
	// Returns ErrEntryNotFound if absent and ErrHasChildren if it is not a leaf.
	Delete(ctx context.Context, ndn string) error

	// Children returns the normalized DNs of the immediate children of ndn.
	//
	// Returns ErrEntryNotFound if ndn is absent.
	Children(ctx context.Context, ndn string) ([]string, error)

	// Count returns the number of stored entries.
	Count(ctx context.Context) (int64, error)

	// Close releases the store. Further calls return ErrStoreClosed.
	Close() error
}

// instrumentedStore records a storage metric around every store call.
type instrumentedStore struct {
	Store
	metrics metrics.DirectoryMetrics
}

func instrument(s Store, m metrics.DirectoryMetrics) Store {
	if m == nil {
		return s
	}
	return &instrumentedStore{Store: s, metrics: m}
}

func (s *instrumentedStore) Get(ctx context.Context, ndn string) (*ldap.Entry, error) {
	start := time.Now()
	e, err := s.Store.Get(ctx, ndn)
	if errors.Is(err, ErrEntryNotFound) {
		s.metrics.RecordStorageOperation("get", time.Since(start), nil)
	} else {
		s.metrics.RecordStorageOperation("get", time.Since(start), err)
	}
	return e, err
}

func (s *instrumentedStore) Put(ctx context.Context, ndn, parent string, entry *ldap.Entry) error {
	start := time.Now()
	err := s.Store.Put(ctx, ndn, parent, entry)
	s.metrics.RecordStorageOperation("put", time.Since(start), err)
	return err
}

func (s *instrumentedStore) Delete(ctx context.Context, ndn string) error {
	start := time.Now()
	err := s.Store.Delete(ctx, ndn)
	s.metrics.RecordStorageOperation("delete", time.Since(start), err)
	return err
}

func (s *instrumentedStore) Children(ctx context.Context, ndn string) ([]string, error) {
	start := time.Now()
	children, err := s.Store.Children(ctx, ndn)
	s.metrics.RecordStorageOperation("children", time.Since(start), err)
	return children, err
}
