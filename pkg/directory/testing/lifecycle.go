package testing

import (
	"context"
	"testing"

	"github.com/marmos91/dittoldap/pkg/directory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (suite *StoreTestSuite) RunLifecycleTests(t *testing.T) {
	t.Run("ClosedStore", suite.testClosedStore)
	t.Run("CancelledContext", suite.testCancelledContext)
}

func (suite *StoreTestSuite) testClosedStore(t *testing.T) {
	store := suite.NewStore()
	seed(t, store)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close(), "Close must be idempotent")

	ctx := context.Background()
	_, err := store.Get(ctx, "dc=example,dc=com")
	assert.ErrorIs(t, err, directory.ErrStoreClosed)
	assert.ErrorIs(t, store.Put(ctx, "dc=other", "", newEntry("dc=other", "other")), directory.ErrStoreClosed)
	assert.ErrorIs(t, store.Delete(ctx, "dc=example,dc=com"), directory.ErrStoreClosed)
	_, err = store.Children(ctx, "dc=example,dc=com")
	assert.ErrorIs(t, err, directory.ErrStoreClosed)
	_, err = store.Count(ctx)
	assert.ErrorIs(t, err, directory.ErrStoreClosed)
}

func (suite *StoreTestSuite) testCancelledContext(t *testing.T) {
	store := suite.NewStore()
	defer func() { _ = store.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Get(ctx, "dc=example,dc=com")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, store.Put(ctx, "dc=example,dc=com", "", newEntry("dc=example,dc=com", "x")), context.Canceled)
}
