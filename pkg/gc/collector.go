// Package gc removes sort indexes left behind in the sort temp directory.
//
// Every sorted search result lives in its own temporary Badger directory
// that is deleted when the cursor is closed. A directory can still be
// orphaned when:
//   - The server crashes while a sorted search is open
//   - Removing the directory fails on close
//   - A cursor is leaked and never closed
//
// The collector periodically scans the temp directory for index
// directories, skips the ones still owned by a live cursor and deletes the
// rest once they are old enough.
package gc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/marmos91/dittoldap/internal/logger"
	"github.com/marmos91/dittoldap/pkg/sorting/extsort"
)

// IndexTracker knows which index directories are still in use.
// *extsort.Sorter implements it.
type IndexTracker interface {
	// TempDir is the directory index directories are created in
	TempDir() string

	// InUse reports whether dir belongs to an open cursor
	InUse(dir string) bool
}

// Collector performs periodic garbage collection of sort indexes.
//
// Thread Safety: Safe for concurrent use.
type Collector struct {
	tracker IndexTracker
	config  Config
	now     func() time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	started   chan struct{}
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// Config contains configuration for the garbage collector.
type Config struct {
	// Enabled controls whether background collection is active
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Interval is how often to run garbage collection (default: 1h)
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`

	// MinAge is how old an unused index must be before it is removed
	// (default: 1h). Indexes of other processes sharing the temp directory
	// are only protected by their age.
	MinAge time.Duration `mapstructure:"min_age" yaml:"min_age"`

	// DryRun logs what would be deleted without deleting
	DryRun bool `mapstructure:"dry_run" yaml:"dry_run"`
}

// ErrNoTracker is returned by NewCollector without an IndexTracker.
var ErrNoTracker = errors.New("gc: index tracker is required")

// NewCollector creates a new garbage collector.
//
// The collector will be initialized but not started. Call Start() to begin
// background garbage collection.
//
// Parameters:
//   - tracker: Source of the temp directory and of in-use indexes
//   - config: Garbage collection configuration
//
// Returns:
//   - *Collector: Initialized collector (not started)
//   - error: ErrNoTracker if tracker is nil
func NewCollector(tracker IndexTracker, config Config) (*Collector, error) {
	if tracker == nil {
		return nil, ErrNoTracker
	}

	if config.Interval <= 0 {
		config.Interval = time.Hour
	}
	if config.MinAge <= 0 {
		config.MinAge = time.Hour
	}

	return &Collector{
		tracker: tracker,
		config:  config,
		now:     time.Now,
		started: make(chan struct{}),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

// Start begins background garbage collection.
//
// Safe to call multiple times (subsequent calls are no-ops).
func (c *Collector) Start() {
	if !c.config.Enabled {
		logger.Info("Sort index garbage collection disabled")
		return
	}

	c.startOnce.Do(func() {
		logger.Info("Starting sort index collector: dir=%s interval=%s min_age=%s dry_run=%v",
			c.tracker.TempDir(), c.config.Interval, c.config.MinAge, c.config.DryRun)
		close(c.started)
		go c.worker()
	})
}

// Stop stops the garbage collector and waits for it to finish.
// Safe to call multiple times and without a prior Start.
//
// Returns:
//   - error: ctx.Err() if ctx expires before the worker exits
func (c *Collector) Stop(ctx context.Context) error {
	select {
	case <-c.started:
	default:
		return nil
	}

	c.stopOnce.Do(func() { close(c.stopCh) })

	select {
	case <-c.doneCh:
		logger.Info("Sort index collector stopped")
		return nil
	case <-ctx.Done():
		logger.Warn("Sort index collector shutdown timeout")
		return ctx.Err()
	}
}

// RunNow triggers an immediate collection and blocks until it completes.
// It works whether or not the background worker is enabled.
func (c *Collector) RunNow(ctx context.Context) (*Stats, error) {
	logger.Debug("Running sort index collection (manual trigger)")
	return c.collect(ctx)
}

// worker is the background goroutine that runs periodic garbage collection.
func (c *Collector) worker() {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.config.Interval)
			stats, err := c.collect(ctx)
			cancel()

			if err != nil {
				logger.Error("Sort index collection failed: %v", err)
			} else if stats.OrphanedCount > 0 {
				logger.Info("Sort index collection completed: %s", stats.Summary())
			}

		case <-c.stopCh:
			return
		}
	}
}

// collect performs a single garbage collection run:
//  1. List the index directories in the temp directory
//  2. Keep the ones in use or younger than MinAge
//  3. Remove the rest
func (c *Collector) collect(ctx context.Context) (*Stats, error) {
	stats := &Stats{StartTime: c.now()}
	root := c.tracker.TempDir()

	entries, err := os.ReadDir(root)
	if err != nil {
		stats.EndTime = c.now()
		if errors.Is(err, os.ErrNotExist) {
			return stats, nil
		}
		return stats, fmt.Errorf("failed to list %s: %w", root, err)
	}

	cutoff := stats.StartTime.Add(-c.config.MinAge)
	var orphaned []string
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), extsort.DirPrefix) {
			continue
		}
		stats.ScannedCount++

		dir := filepath.Join(root, e.Name())
		if c.tracker.InUse(dir) {
			stats.InUseCount++
			continue
		}

		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		orphaned = append(orphaned, dir)
	}
	stats.OrphanedCount = uint64(len(orphaned))

	if c.config.DryRun {
		for _, dir := range orphaned {
			logger.Info("GC: DRY RUN - would remove %s", dir)
		}
		stats.EndTime = c.now()
		return stats, nil
	}

	for _, dir := range orphaned {
		if err := ctx.Err(); err != nil {
			stats.EndTime = c.now()
			return stats, err
		}
		if err := os.RemoveAll(dir); err != nil {
			logger.Debug("GC: failed to remove %s: %v", dir, err)
			stats.FailedCount++
			continue
		}
		stats.DeletedCount++
	}

	stats.EndTime = c.now()
	return stats, nil
}

// Stats contains statistics from a garbage collection run.
type Stats struct {
	StartTime     time.Time // When collection started
	EndTime       time.Time // When collection ended
	ScannedCount  uint64    // Index directories found
	InUseCount    uint64    // Index directories owned by open cursors
	OrphanedCount uint64    // Index directories old enough to remove
	DeletedCount  uint64    // Index directories removed
	FailedCount   uint64    // Index directories that could not be removed
}

// Duration returns the total collection duration.
func (s *Stats) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// Summary returns a human-readable summary of the collection.
func (s *Stats) Summary() string {
	return fmt.Sprintf("scanned=%d in_use=%d orphaned=%d deleted=%d failed=%d duration=%s",
		s.ScannedCount, s.InUseCount, s.OrphanedCount,
		s.DeletedCount, s.FailedCount, s.Duration())
}
