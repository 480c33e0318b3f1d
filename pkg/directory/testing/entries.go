package testing

import (
	"context"
	"testing"

	"github.com/marmos91/dittoldap/pkg/directory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (suite *StoreTestSuite) RunEntryTests(t *testing.T) {
	t.Run("PutGet", suite.testPutGet)
	t.Run("GetMissing", suite.testGetMissing)
	t.Run("PutReplaces", suite.testPutReplaces)
	t.Run("ReturnsCopies", suite.testReturnsCopies)
	t.Run("PutMissingParent", suite.testPutMissingParent)
	t.Run("Count", suite.testCount)
}

func (suite *StoreTestSuite) testPutGet(t *testing.T) {
	store := suite.NewStore()
	defer func() { _ = store.Close() }()
	ctx := context.Background()

	entry := newEntry("dc=Example,dc=com", "root")
	require.NoError(t, store.Put(ctx, "dc=example,dc=com", "", entry))

	got, err := store.Get(ctx, "dc=example,dc=com")
	require.NoError(t, err)
	assert.Equal(t, "dc=Example,dc=com", got.DN)
	assert.Equal(t, []string{"root"}, got.GetAttributeValues("cn"))
	assert.ElementsMatch(t, []string{"top", "person"}, got.GetAttributeValues("objectClass"))
	assert.Equal(t, [][]byte{[]byte("root")}, got.GetRawAttributeValues("cn"))
}

func (suite *StoreTestSuite) testGetMissing(t *testing.T) {
	store := suite.NewStore()
	defer func() { _ = store.Close() }()

	_, err := store.Get(context.Background(), "cn=nobody")
	assert.ErrorIs(t, err, directory.ErrEntryNotFound)
}

func (suite *StoreTestSuite) testPutReplaces(t *testing.T) {
	store := suite.NewStore()
	defer func() { _ = store.Close() }()
	ctx := context.Background()
	seed(t, store)

	updated := newEntry("cn=Alice,ou=People,dc=example,dc=com", "alice v2")
	require.NoError(t, store.Put(ctx, "cn=alice,ou=people,dc=example,dc=com", "ou=people,dc=example,dc=com", updated))

	got, err := store.Get(ctx, "cn=alice,ou=people,dc=example,dc=com")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice v2"}, got.GetAttributeValues("cn"))

	children, err := store.Children(ctx, "ou=people,dc=example,dc=com")
	require.NoError(t, err)
	assert.Len(t, children, 2, "replacing an entry must not duplicate it in its parent")

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 5, count)
}

func (suite *StoreTestSuite) testReturnsCopies(t *testing.T) {
	store := suite.NewStore()
	defer func() { _ = store.Close() }()
	ctx := context.Background()

	entry := newEntry("dc=example,dc=com", "root")
	require.NoError(t, store.Put(ctx, "dc=example,dc=com", "", entry))
	entry.Attributes[0].Values[0] = "mutated"

	got, err := store.Get(ctx, "dc=example,dc=com")
	require.NoError(t, err)
	got.Attributes = nil

	again, err := store.Get(ctx, "dc=example,dc=com")
	require.NoError(t, err)
	assert.Len(t, again.Attributes, 2)
	assert.NotContains(t, again.GetAttributeValues("cn"), "mutated")
	assert.NotContains(t, again.GetAttributeValues("objectClass"), "mutated")
}

func (suite *StoreTestSuite) testPutMissingParent(t *testing.T) {
	store := suite.NewStore()
	defer func() { _ = store.Close() }()

	err := store.Put(context.Background(), "cn=orphan,ou=gone", "ou=gone", newEntry("cn=orphan,ou=gone", "orphan"))
	assert.ErrorIs(t, err, directory.ErrParentNotFound)

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func (suite *StoreTestSuite) testCount(t *testing.T) {
	store := suite.NewStore()
	defer func() { _ = store.Close() }()
	ctx := context.Background()

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	seed(t, store)
	count, err = store.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 5, count)
}
