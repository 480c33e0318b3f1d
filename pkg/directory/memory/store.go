package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-ldap/ldap/v3"
	"github.com/marmos91/dittoldap/pkg/directory"
)

// nodeID addresses a node in the arena.
type nodeID int

// none is the parent of root nodes.
const none nodeID = -1

// node is one entry of the tree.
type node struct {
	entry    *ldap.Entry
	ndn      string
	parent   nodeID
	children []nodeID
}

// MemoryStore implements directory.Store in memory.
//
// Storage Model:
// Nodes live in a single slice (the arena) and refer to each other by index.
// A root node has parent none; nothing points at itself. Deleted slots go to
// a free list and are reused by later inserts. index maps normalized DNs to
// their slot.
//
// Thread Safety:
// All operations are protected by a single read-write mutex.
type MemoryStore struct {
	mu     sync.RWMutex
	nodes  []node
	free   []nodeID
	index  map[string]nodeID
	closed bool
}

var _ directory.Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{index: make(map[string]nodeID)}
}

func (s *MemoryStore) alloc(n node) nodeID {
	if len(s.free) > 0 {
		id := s.free[len(s.free)-1]
		s.free = s.free[:len(s.free)-1]
		s.nodes[id] = n
		return id
	}
	s.nodes = append(s.nodes, n)
	return nodeID(len(s.nodes) - 1)
}

func (s *MemoryStore) release(id nodeID) {
	s.nodes[id] = node{parent: none}
	s.free = append(s.free, id)
}

func (s *MemoryStore) attach(parent, child nodeID) {
	s.nodes[child].parent = parent
	if parent != none {
		s.nodes[parent].children = append(s.nodes[parent].children, child)
	}
}

func (s *MemoryStore) detach(child nodeID) {
	parent := s.nodes[child].parent
	if parent == none {
		return
	}
	siblings := s.nodes[parent].children
	for i, id := range siblings {
		if id == child {
			s.nodes[parent].children = append(siblings[:i], siblings[i+1:]...)
			break
		}
	}
	s.nodes[child].parent = none
}

// Get returns a copy of the entry stored under ndn.
func (s *MemoryStore) Get(ctx context.Context, ndn string) (*ldap.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, directory.ErrStoreClosed
	}
	id, ok := s.index[ndn]
	if !ok {
		return nil, fmt.Errorf("%w: %s", directory.ErrEntryNotFound, ndn)
	}
	return directory.CloneEntry(s.nodes[id].entry), nil
}

// Put stores a copy of entry under ndn.
func (s *MemoryStore) Put(ctx context.Context, ndn, parent string, entry *ldap.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return directory.ErrStoreClosed
	}

	pid := none
	if parent != "" {
		id, ok := s.index[parent]
		if !ok {
			return fmt.Errorf("%w: %s", directory.ErrParentNotFound, parent)
		}
		pid = id
	}

	if id, ok := s.index[ndn]; ok {
		s.nodes[id].entry = directory.CloneEntry(entry)
		if s.nodes[id].parent != pid {
			s.detach(id)
			s.attach(pid, id)
		}
		return nil
	}

	id := s.alloc(node{entry: directory.CloneEntry(entry), ndn: ndn, parent: none})
	s.attach(pid, id)
	s.index[ndn] = id
	return nil
}

// Delete removes the leaf stored under ndn.
func (s *MemoryStore) Delete(ctx context.Context, ndn string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return directory.ErrStoreClosed
	}
	id, ok := s.index[ndn]
	if !ok {
		return fmt.Errorf("%w: %s", directory.ErrEntryNotFound, ndn)
	}
	if len(s.nodes[id].children) > 0 {
		return fmt.Errorf("%w: %s", directory.ErrHasChildren, ndn)
	}

	s.detach(id)
	s.release(id)
	delete(s.index, ndn)
	return nil
}

// Children returns the normalized DNs of the children of ndn in insertion order.
func (s *MemoryStore) Children(ctx context.Context, ndn string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, directory.ErrStoreClosed
	}
	id, ok := s.index[ndn]
	if !ok {
		return nil, fmt.Errorf("%w: %s", directory.ErrEntryNotFound, ndn)
	}

	children := make([]string, 0, len(s.nodes[id].children))
	for _, c := range s.nodes[id].children {
		children = append(children, s.nodes[c].ndn)
	}
	return children, nil
}

// Count returns the number of stored entries.
func (s *MemoryStore) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, directory.ErrStoreClosed
	}
	return int64(len(s.index)), nil
}

// Close drops every entry.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.nodes, s.free, s.index = nil, nil, nil
	return nil
}

// parentOf returns the arena parent of ndn.
func (s *MemoryStore) parentOf(ndn string) (nodeID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.index[ndn]
	if !ok {
		return none, false
	}
	return s.nodes[id].parent, true
}
