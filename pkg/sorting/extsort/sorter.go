// Package extsort sorts entry cursors that may not fit in memory.
//
// Entries are buffered into runs, each run is sorted with the caller's
// comparator and spilled into a temporary Badger database, and the runs are
// then merged into positional keys. The result is a SortedCursor that can be
// walked in both directions and deletes its database when closed.
package extsort

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/go-ldap/ldap/v3"
	"github.com/google/uuid"
	"github.com/marmos91/dittoldap/internal/logger"
	"github.com/marmos91/dittoldap/pkg/cursor"
	"github.com/marmos91/dittoldap/pkg/metrics"
)

// ErrIndexStorage wraps failures to create or write the temporary index.
var ErrIndexStorage = errors.New("sort index storage failure")

// DirPrefix prefixes the name of every temporary index directory.
const DirPrefix = "dittoldap-sort-"

// DefaultRunSize is the number of entries sorted in memory before spilling.
const DefaultRunSize = 1000

// CompareFunc orders two entries.
type CompareFunc func(a, b *ldap.Entry) int

// Config configures a Sorter.
type Config struct {
	// TempDir is where index directories are created (default: os.TempDir()).
	TempDir string `mapstructure:"temp_dir"`

	// RunSize is the number of entries sorted in memory per run.
	RunSize int `mapstructure:"run_size"`

	// Metrics receives sort statistics. Nil disables collection.
	Metrics metrics.SortMetrics `mapstructure:"-"`
}

// Sorter creates sorted cursors.
type Sorter struct {
	tempDir string
	runSize int
	metrics metrics.SortMetrics

	mu     sync.Mutex
	active map[string]struct{}
}

// New creates a Sorter, filling zero config values with defaults.
func New(cfg Config) *Sorter {
	s := &Sorter{
		tempDir: cfg.TempDir,
		runSize: cfg.RunSize,
		metrics: cfg.Metrics,
		active:  make(map[string]struct{}),
	}
	if s.tempDir == "" {
		s.tempDir = os.TempDir()
	}
	if s.runSize <= 0 {
		s.runSize = DefaultRunSize
	}
	if s.metrics == nil {
		s.metrics = metrics.NewNoopSortMetrics()
	}
	return s
}

// TempDir returns the directory index directories are created in.
func (s *Sorter) TempDir() string {
	return s.tempDir
}

// InUse reports whether dir is the index of a cursor this Sorter has not
// released yet.
func (s *Sorter) InUse(dir string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[filepath.Clean(dir)]
	return ok
}

func (s *Sorter) acquire(dir string) {
	s.mu.Lock()
	s.active[filepath.Clean(dir)] = struct{}{}
	s.mu.Unlock()
}

func (s *Sorter) release(dir string) {
	s.mu.Lock()
	delete(s.active, filepath.Clean(dir))
	s.mu.Unlock()
}

// Sort drains in and returns its entries ordered by cmp.
//
// When in holds zero or one entry no index is built: in is rewound and
// returned as is. Otherwise in is fully consumed and closed before Sort
// returns, and the caller owns the returned SortedCursor and must Close it.
// On error in is closed as well.
func (s *Sorter) Sort(ctx context.Context, in cursor.Cursor[*ldap.Entry], cmp CompareFunc) (cursor.Cursor[*ldap.Entry], error) {
	start := time.Now()

	abort := func(err error) (cursor.Cursor[*ldap.Entry], error) {
		_ = in.Close()
		return nil, err
	}

	if err := in.BeforeFirst(); err != nil {
		return abort(err)
	}

	first, ok, err := nextEntry(in)
	if err != nil {
		return abort(err)
	}
	if !ok {
		return s.shortcut(in)
	}
	second, ok, err := nextEntry(in)
	if err != nil {
		return abort(err)
	}
	if !ok {
		return s.shortcut(in)
	}

	sc, runs, err := s.build(ctx, in, cmp, first, second)
	_ = in.Close()
	if err != nil {
		s.metrics.RecordSort(0, runs, time.Since(start), err)
		return nil, err
	}

	s.metrics.RecordSort(int(sc.Len()), runs, time.Since(start), nil)
	logger.Debug("sort: %d entries in %d run(s) at %s (%s)", sc.Len(), runs, sc.Dir(), time.Since(start))
	return sc, nil
}

// shortcut rewinds an input too small to need an index and returns it.
func (s *Sorter) shortcut(in cursor.Cursor[*ldap.Entry]) (cursor.Cursor[*ldap.Entry], error) {
	if err := in.BeforeFirst(); err != nil {
		_ = in.Close()
		return nil, err
	}
	s.metrics.RecordShortcut()
	return in, nil
}

func nextEntry(c cursor.Cursor[*ldap.Entry]) (*ldap.Entry, bool, error) {
	ok, err := c.Next()
	if err != nil || !ok {
		return nil, false, err
	}
	e, err := c.Get()
	if err != nil {
		return nil, false, err
	}
	return e, true, nil
}

func (s *Sorter) build(ctx context.Context, in cursor.Cursor[*ldap.Entry], cmp CompareFunc, first, second *ldap.Entry) (*SortedCursor, int, error) {
	dir := filepath.Join(s.tempDir, DirPrefix+uuid.NewString())
	s.acquire(dir)
	db, err := openIndex(dir)
	if err != nil {
		s.release(dir)
		return nil, 0, err
	}

	b := &builder{db: db, cmp: cmp, runSize: s.runSize}
	fail := func(err error) (*SortedCursor, int, error) {
		_ = db.Close()
		_ = os.RemoveAll(dir)
		s.release(dir)
		return nil, len(b.runs), err
	}

	if err := b.add(first); err != nil {
		return fail(err)
	}
	if err := b.add(second); err != nil {
		return fail(err)
	}
	for {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		e, ok, err := nextEntry(in)
		if err != nil {
			return fail(err)
		}
		if !ok {
			break
		}
		if err := b.add(e); err != nil {
			return fail(err)
		}
	}

	size, err := b.finish()
	if err != nil {
		return fail(err)
	}

	sc := newSortedCursor(db, dir, size, s.metrics)
	sc.onClose = func() { s.release(dir) }
	return sc, len(b.runs), nil
}

func openIndex(dir string) (*badger.DB, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", ErrIndexStorage, dir, err)
	}

	opts := badger.DefaultOptions(dir).
		WithLogger(nil).
		WithCompression(options.None).
		WithBlockCacheSize(0).
		WithDetectConflicts(false).
		WithMemTableSize(16 << 20).
		WithValueLogFileSize(64 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("%w: open %s: %v", ErrIndexStorage, dir, err)
	}
	return db, nil
}

// ============================================================================
// Run building and merging
// ============================================================================

type builder struct {
	db      *badger.DB
	cmp     CompareFunc
	runSize int
	buf     []*ldap.Entry
	runs    []uint32
}

func (b *builder) add(e *ldap.Entry) error {
	b.buf = append(b.buf, e)
	if len(b.buf) >= b.runSize {
		return b.spill()
	}
	return nil
}

func (b *builder) sortBuffer() {
	sort.SliceStable(b.buf, func(i, j int) bool { return b.cmp(b.buf[i], b.buf[j]) < 0 })
}

// spill writes the sorted buffer as a new run.
func (b *builder) spill() error {
	if len(b.buf) == 0 {
		return nil
	}
	b.sortBuffer()

	run := uint32(len(b.runs))
	wb := b.db.NewWriteBatch()
	defer wb.Cancel()

	for i, e := range b.buf {
		data, err := encodeEntry(e)
		if err != nil {
			return err
		}
		if err := wb.Set(runKey(run, uint64(i)), data); err != nil {
			return fmt.Errorf("%w: %v", ErrIndexStorage, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("%w: %v", ErrIndexStorage, err)
	}

	b.runs = append(b.runs, run)
	b.buf = b.buf[:0]
	return nil
}

// finish writes every entry to its final position and returns the count.
func (b *builder) finish() (int64, error) {
	if len(b.runs) == 0 {
		// Everything fit in one run: no merge needed.
		b.sortBuffer()
		wb := b.db.NewWriteBatch()
		defer wb.Cancel()
		for i, e := range b.buf {
			data, err := encodeEntry(e)
			if err != nil {
				return 0, err
			}
			if err := wb.Set(sortedKey(int64(i)), data); err != nil {
				return 0, fmt.Errorf("%w: %v", ErrIndexStorage, err)
			}
		}
		if err := wb.Flush(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrIndexStorage, err)
		}
		n := int64(len(b.buf))
		b.buf = nil
		return n, nil
	}

	if err := b.spill(); err != nil {
		return 0, err
	}
	n, err := b.merge()
	if err != nil {
		return 0, err
	}
	if err := b.db.DropPrefix([]byte{prefixRun}); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrIndexStorage, err)
	}
	return n, nil
}

// mergeHead is the smallest unconsumed entry of one run.
type mergeHead struct {
	entry *ldap.Entry
	raw   []byte
	run   int
	it    *badger.Iterator
}

type mergeHeap struct {
	heads []*mergeHead
	cmp   CompareFunc
}

func (h *mergeHeap) Len() int { return len(h.heads) }

func (h *mergeHeap) Less(i, j int) bool {
	c := h.cmp(h.heads[i].entry, h.heads[j].entry)
	if c != 0 {
		return c < 0
	}
	// Earlier runs hold earlier input, which keeps the merge stable.
	return h.heads[i].run < h.heads[j].run
}

func (h *mergeHeap) Swap(i, j int) { h.heads[i], h.heads[j] = h.heads[j], h.heads[i] }

func (h *mergeHeap) Push(x any) { h.heads = append(h.heads, x.(*mergeHead)) }

func (h *mergeHeap) Pop() any {
	n := len(h.heads)
	x := h.heads[n-1]
	h.heads = h.heads[:n-1]
	return x
}

// load reads the entry under the iterator into the head, or reports false
// once the run is exhausted.
func (m *mergeHead) load() (bool, error) {
	if !m.it.Valid() {
		return false, nil
	}
	raw, err := m.it.Item().ValueCopy(nil)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrIndexStorage, err)
	}
	e, err := decodeEntry(raw)
	if err != nil {
		return false, err
	}
	m.entry, m.raw = e, raw
	return true, nil
}

func (b *builder) merge() (int64, error) {
	txn := b.db.NewTransaction(false)
	defer txn.Discard()

	h := &mergeHeap{cmp: b.cmp}
	var iterators []*badger.Iterator
	defer func() {
		for _, it := range iterators {
			it.Close()
		}
	}()

	for i, run := range b.runs {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = runPrefix(run)
		it := txn.NewIterator(opts)
		iterators = append(iterators, it)
		it.Rewind()

		head := &mergeHead{run: i, it: it}
		ok, err := head.load()
		if err != nil {
			return 0, err
		}
		if ok {
			h.heads = append(h.heads, head)
		}
	}
	heap.Init(h)

	wb := b.db.NewWriteBatch()
	defer wb.Cancel()

	var pos int64
	for h.Len() > 0 {
		head := h.heads[0]
		if err := wb.Set(sortedKey(pos), head.raw); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrIndexStorage, err)
		}
		pos++

		head.it.Next()
		ok, err := head.load()
		if err != nil {
			return 0, err
		}
		if ok {
			heap.Fix(h, 0)
		} else {
			heap.Pop(h)
		}
	}

	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrIndexStorage, err)
	}
	return pos, nil
}
