package config

import (
	"context"
	"fmt"

	"github.com/marmos91/dittoldap/pkg/directory"
	badgerstore "github.com/marmos91/dittoldap/pkg/directory/badger"
	"github.com/marmos91/dittoldap/pkg/directory/memory"
	"github.com/mitchellh/mapstructure"
)

// CreateStore creates an entry store based on configuration.
//
// This factory function uses the Type field to determine which store
// implementation to create, then decodes the type-specific configuration
// from the corresponding map and passes it to the store's constructor.
//
// Supported types:
//   - "memory": Uses pkg/directory/memory (arena-backed, not persistent)
//   - "badger": Uses pkg/directory/badger (BadgerDB, persistent)
//
// Parameters:
//   - ctx: Context for initialization operations
//   - cfg: Store configuration
//
// Returns:
//   - directory.Store: Initialized store
//   - error: Configuration or initialization error
func CreateStore(ctx context.Context, cfg *StoreConfig) (directory.Store, error) {
	switch cfg.Type {
	case "memory":
		return memory.NewMemoryStore(), nil
	case "badger":
		return createBadgerStore(ctx, cfg.Badger)
	default:
		return nil, fmt.Errorf("unknown store type: %q", cfg.Type)
	}
}

// createBadgerStore creates a BadgerDB store.
func createBadgerStore(ctx context.Context, options map[string]any) (directory.Store, error) {
	var badgerCfg badgerstore.Config
	if err := mapstructure.Decode(options, &badgerCfg); err != nil {
		return nil, fmt.Errorf("invalid badger config: %w", err)
	}

	store, err := badgerstore.NewBadgerStore(ctx, badgerCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	return store, nil
}
