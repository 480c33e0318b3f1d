package testing

import (
	"context"
	"testing"

	"github.com/marmos91/dittoldap/pkg/directory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (suite *StoreTestSuite) RunTreeTests(t *testing.T) {
	t.Run("Children", suite.testChildren)
	t.Run("ChildrenOfMissing", suite.testChildrenOfMissing)
	t.Run("DeleteLeaf", suite.testDeleteLeaf)
	t.Run("DeleteNonLeaf", suite.testDeleteNonLeaf)
	t.Run("DeleteMissing", suite.testDeleteMissing)
	t.Run("Reparent", suite.testReparent)
	t.Run("ReuseAfterDelete", suite.testReuseAfterDelete)
}

func (suite *StoreTestSuite) testChildren(t *testing.T) {
	store := suite.NewStore()
	defer func() { _ = store.Close() }()
	ctx := context.Background()
	seed(t, store)

	children, err := store.Children(ctx, "dc=example,dc=com")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"ou=people,dc=example,dc=com", "ou=groups,dc=example,dc=com"}, children)

	children, err = store.Children(ctx, "ou=people,dc=example,dc=com")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"cn=alice,ou=people,dc=example,dc=com", "cn=bob,ou=people,dc=example,dc=com"}, children)

	children, err = store.Children(ctx, "ou=groups,dc=example,dc=com")
	require.NoError(t, err)
	assert.Empty(t, children)
}

func (suite *StoreTestSuite) testChildrenOfMissing(t *testing.T) {
	store := suite.NewStore()
	defer func() { _ = store.Close() }()

	_, err := store.Children(context.Background(), "ou=nowhere")
	assert.ErrorIs(t, err, directory.ErrEntryNotFound)
}

func (suite *StoreTestSuite) testDeleteLeaf(t *testing.T) {
	store := suite.NewStore()
	defer func() { _ = store.Close() }()
	ctx := context.Background()
	seed(t, store)

	require.NoError(t, store.Delete(ctx, "cn=bob,ou=people,dc=example,dc=com"))

	_, err := store.Get(ctx, "cn=bob,ou=people,dc=example,dc=com")
	assert.ErrorIs(t, err, directory.ErrEntryNotFound)

	children, err := store.Children(ctx, "ou=people,dc=example,dc=com")
	require.NoError(t, err)
	assert.Equal(t, []string{"cn=alice,ou=people,dc=example,dc=com"}, children)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 4, count)
}

func (suite *StoreTestSuite) testDeleteNonLeaf(t *testing.T) {
	store := suite.NewStore()
	defer func() { _ = store.Close() }()
	ctx := context.Background()
	seed(t, store)

	err := store.Delete(ctx, "ou=people,dc=example,dc=com")
	assert.ErrorIs(t, err, directory.ErrHasChildren)

	_, err = store.Get(ctx, "ou=people,dc=example,dc=com")
	assert.NoError(t, err)
}

func (suite *StoreTestSuite) testDeleteMissing(t *testing.T) {
	store := suite.NewStore()
	defer func() { _ = store.Close() }()

	err := store.Delete(context.Background(), "cn=ghost")
	assert.ErrorIs(t, err, directory.ErrEntryNotFound)
}

// testReparent moves an entry by putting it under another parent.
func (suite *StoreTestSuite) testReparent(t *testing.T) {
	store := suite.NewStore()
	defer func() { _ = store.Close() }()
	ctx := context.Background()
	seed(t, store)

	ndn := "cn=bob,ou=people,dc=example,dc=com"
	require.NoError(t, store.Put(ctx, ndn, "ou=groups,dc=example,dc=com", newEntry("cn=Bob,ou=People,dc=example,dc=com", "bob")))

	people, err := store.Children(ctx, "ou=people,dc=example,dc=com")
	require.NoError(t, err)
	assert.NotContains(t, people, ndn)

	groups, err := store.Children(ctx, "ou=groups,dc=example,dc=com")
	require.NoError(t, err)
	assert.Equal(t, []string{ndn}, groups)

	require.NoError(t, store.Delete(ctx, ndn))
	require.NoError(t, store.Delete(ctx, "ou=groups,dc=example,dc=com"))
}

func (suite *StoreTestSuite) testReuseAfterDelete(t *testing.T) {
	store := suite.NewStore()
	defer func() { _ = store.Close() }()
	ctx := context.Background()
	seed(t, store)

	require.NoError(t, store.Delete(ctx, "cn=alice,ou=people,dc=example,dc=com"))
	require.NoError(t, store.Delete(ctx, "cn=bob,ou=people,dc=example,dc=com"))

	carol := "cn=carol,ou=groups,dc=example,dc=com"
	require.NoError(t, store.Put(ctx, carol, "ou=groups,dc=example,dc=com", newEntry("cn=Carol,ou=Groups,dc=example,dc=com", "carol")))

	got, err := store.Get(ctx, carol)
	require.NoError(t, err)
	assert.Equal(t, []string{"carol"}, got.GetAttributeValues("cn"))

	people, err := store.Children(ctx, "ou=people,dc=example,dc=com")
	require.NoError(t, err)
	assert.Empty(t, people)

	groups, err := store.Children(ctx, "ou=groups,dc=example,dc=com")
	require.NoError(t, err)
	assert.Equal(t, []string{carol}, groups)
}
