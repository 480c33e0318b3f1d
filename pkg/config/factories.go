package config

import (
	"fmt"

	"github.com/marmos91/dittoldap/internal/logger"
	"github.com/marmos91/dittoldap/pkg/gc"
	"github.com/marmos91/dittoldap/pkg/metrics"
	"github.com/marmos91/dittoldap/pkg/schema"
	"github.com/marmos91/dittoldap/pkg/sorting/extsort"
)

// CreateSchema builds the schema: the built-in definitions plus every
// configured extension file, loaded in order.
//
// Parameters:
//   - cfg: Schema configuration
//
// Returns:
//   - *schema.Schema: Schema ready for use
//   - error: If an extension file cannot be read or defines invalid types
func CreateSchema(cfg *SchemaConfig) (*schema.Schema, error) {
	s := schema.Default()

	for _, path := range cfg.Extensions {
		n, err := s.LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load schema extension: %w", err)
		}
		logger.Info("Loaded %d attribute type(s) from %s", n, path)
	}

	return s, nil
}

// CreateSorter creates the external sort engine.
//
// Parameters:
//   - cfg: Sort configuration
//   - m: Sort metrics (nil disables collection)
func CreateSorter(cfg *SortConfig, m metrics.SortMetrics) *extsort.Sorter {
	return extsort.New(extsort.Config{
		TempDir: cfg.TempDir,
		RunSize: cfg.RunSize,
		Metrics: m,
	})
}

// CreateCollector creates the sort index garbage collector for sorter.
// The collector is returned unstarted.
func CreateCollector(cfg *SortConfig, sorter *extsort.Sorter) (*gc.Collector, error) {
	if sorter == nil {
		return nil, gc.ErrNoTracker
	}
	c, err := gc.NewCollector(sorter, cfg.GC)
	if err != nil {
		return nil, fmt.Errorf("failed to create sort index collector: %w", err)
	}
	return c, nil
}
