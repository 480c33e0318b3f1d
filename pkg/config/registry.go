package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/marmos91/dittoldap/internal/logger"
	"github.com/marmos91/dittoldap/pkg/directory"
	"github.com/marmos91/dittoldap/pkg/metrics"
	"github.com/marmos91/dittoldap/pkg/schema"
)

// DirectoryResult holds the directory built from configuration.
type DirectoryResult struct {
	// Nexus routes operations to the partitions
	Nexus *directory.Nexus

	// ChangeLog records changes (nil if disabled)
	ChangeLog *directory.ChangeLog

	// Triggers runs stored procedures after changes; procedures and
	// triggers are registered by the caller
	Triggers *directory.TriggerInterceptor
}

// InitializeDirectory creates a fully configured Nexus from the provided configuration.
//
// This function orchestrates the complete initialization process:
//  1. Creates the store of every configured partition
//  2. Opens each partition on its store and registers it with the nexus
//  3. Installs the change log (if enabled) and the trigger interceptor
//
// On failure every partition opened so far is closed.
//
// Parameters:
//   - ctx: Context for cancellation and timeouts
//   - cfg: Complete configuration loaded from config file
//   - s: Schema shared by all partitions
//   - m: Directory metrics (nil disables collection)
//
// Returns:
//   - *DirectoryResult: Nexus and interceptors ready for use
//   - error: If a store cannot be created or a partition cannot be opened
//
// Example:
//
//	cfg, _ := config.Load("config.yaml")
//	s, _ := config.CreateSchema(&cfg.Schema)
//	dir, err := config.InitializeDirectory(ctx, cfg, s, nil)
//	if err != nil {
//	    log.Fatalf("Failed to initialize directory: %v", err)
//	}
func InitializeDirectory(ctx context.Context, cfg *Config, s *schema.Schema, m metrics.DirectoryMetrics) (*DirectoryResult, error) {
	logger.Debug("Initializing directory from configuration")

	if len(cfg.Directory.Partitions) == 0 {
		return nil, errors.New("no partitions configured")
	}
	if m == nil {
		m = metrics.NewNoopDirectoryMetrics()
	}

	nexus := directory.NewNexus(s)
	result := &DirectoryResult{Nexus: nexus}

	for i := range cfg.Directory.Partitions {
		pc := &cfg.Directory.Partitions[i]
		if err := addPartition(ctx, nexus, pc, s, m); err != nil {
			_ = nexus.Close()
			return nil, fmt.Errorf("partition %q: %w", pc.Suffix, err)
		}
		logger.Info("Partition %s served by %s store", pc.Suffix, pc.Store.Type)
	}

	if cfg.Directory.ChangeLog.Enabled {
		result.ChangeLog = directory.NewChangeLog(cfg.Directory.ChangeLog.Capacity)
		nexus.Use(result.ChangeLog)
	}
	result.Triggers = directory.NewTriggerInterceptor()
	nexus.Use(result.Triggers)

	return result, nil
}

// addPartition creates the store for pc and registers the partition.
func addPartition(ctx context.Context, nexus *directory.Nexus, pc *PartitionConfig, s *schema.Schema, m metrics.DirectoryMetrics) error {
	store, err := CreateStore(ctx, &pc.Store)
	if err != nil {
		return err
	}

	p, err := directory.NewPartition(ctx, pc.Suffix, store, s, m.WithStoreType(pc.Store.Type))
	if err != nil {
		_ = store.Close()
		return err
	}

	if err := nexus.AddPartition(p); err != nil {
		_ = p.Close()
		return err
	}
	return nil
}
