package memory

import (
	"context"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/marmos91/dittoldap/pkg/directory"
	storetesting "github.com/marmos91/dittoldap/pkg/directory/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMemoryStore runs the complete Store test suite against MemoryStore.
func TestMemoryStore(t *testing.T) {
	suite := &storetesting.StoreTestSuite{
		NewStore: func() directory.Store {
			return NewMemoryStore()
		},
	}

	suite.Run(t)
}

func TestArena(t *testing.T) {
	ctx := context.Background()
	entry := func(dn string) *ldap.Entry {
		return ldap.NewEntry(dn, map[string][]string{"objectClass": {"top"}})
	}

	t.Run("RootHasNoParent", func(t *testing.T) {
		s := NewMemoryStore()
		require.NoError(t, s.Put(ctx, "dc=com", "", entry("dc=com")))
		require.NoError(t, s.Put(ctx, "dc=example,dc=com", "dc=com", entry("dc=example,dc=com")))

		parent, ok := s.parentOf("dc=com")
		require.True(t, ok)
		assert.Equal(t, none, parent)

		parent, ok = s.parentOf("dc=example,dc=com")
		require.True(t, ok)
		assert.Equal(t, s.index["dc=com"], parent)
	})

	t.Run("FreedSlotsAreReused", func(t *testing.T) {
		s := NewMemoryStore()
		require.NoError(t, s.Put(ctx, "dc=com", "", entry("dc=com")))
		require.NoError(t, s.Put(ctx, "dc=a,dc=com", "dc=com", entry("dc=a,dc=com")))
		slot := s.index["dc=a,dc=com"]

		require.NoError(t, s.Delete(ctx, "dc=a,dc=com"))
		assert.Equal(t, []nodeID{slot}, s.free)

		require.NoError(t, s.Put(ctx, "dc=b,dc=com", "dc=com", entry("dc=b,dc=com")))
		assert.Equal(t, slot, s.index["dc=b,dc=com"])
		assert.Empty(t, s.free)
		assert.Len(t, s.nodes, 2)
	})

	t.Run("RootsCanBeDeleted", func(t *testing.T) {
		s := NewMemoryStore()
		require.NoError(t, s.Put(ctx, "dc=com", "", entry("dc=com")))
		require.NoError(t, s.Delete(ctx, "dc=com"))

		_, ok := s.parentOf("dc=com")
		assert.False(t, ok)
	})
}
