// Package testing provides a contract test suite for directory.Store
// implementations.
package testing

import (
	"context"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/marmos91/dittoldap/pkg/directory"
)

// StoreTestSuite runs the directory.Store contract against an implementation.
//
// Usage:
//
//	suite := &storetesting.StoreTestSuite{
//	    NewStore: func() directory.Store { return memory.NewMemoryStore() },
//	}
//	suite.Run(t)
type StoreTestSuite struct {
	// NewStore is a factory function that creates a fresh, empty Store
	// for each test. This ensures test isolation.
	NewStore func() directory.Store
}

// Run executes all tests in the suite.
func (suite *StoreTestSuite) Run(test *testing.T) {
	test.Run("Entries", suite.RunEntryTests)
	test.Run("Tree", suite.RunTreeTests)
	test.Run("Lifecycle", suite.RunLifecycleTests)
}

// newEntry builds an entry with a cn attribute.
func newEntry(dn, cn string) *ldap.Entry {
	return ldap.NewEntry(dn, map[string][]string{
		"objectClass": {"top", "person"},
		"cn":          {cn},
	})
}

// seed stores a small tree:
//
//	dc=example,dc=com
//	├── ou=people
//	│   ├── cn=alice
//	│   └── cn=bob
//	└── ou=groups
func seed(t *testing.T, store directory.Store) {
	t.Helper()
	ctx := context.Background()

	puts := []struct{ ndn, parent, dn string }{
		{"dc=example,dc=com", "", "dc=example,dc=com"},
		{"ou=people,dc=example,dc=com", "dc=example,dc=com", "ou=People,dc=example,dc=com"},
		{"cn=alice,ou=people,dc=example,dc=com", "ou=people,dc=example,dc=com", "cn=Alice,ou=People,dc=example,dc=com"},
		{"cn=bob,ou=people,dc=example,dc=com", "ou=people,dc=example,dc=com", "cn=Bob,ou=People,dc=example,dc=com"},
		{"ou=groups,dc=example,dc=com", "dc=example,dc=com", "ou=Groups,dc=example,dc=com"},
	}
	for _, p := range puts {
		if err := store.Put(ctx, p.ndn, p.parent, newEntry(p.dn, p.ndn)); err != nil {
			t.Fatalf("seed %s: %v", p.ndn, err)
		}
	}
}
