package directory_test

import (
	"context"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/marmos91/dittoldap/pkg/cursor"
	"github.com/marmos91/dittoldap/pkg/directory"
	"github.com/marmos91/dittoldap/pkg/directory/memory"
	"github.com/marmos91/dittoldap/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const suffix = "dc=example,dc=com"

var admin = directory.NewPrincipal("cn=admin,dc=example,dc=com", directory.AuthSimple)

func person(cn, sn string) map[string][]string {
	return map[string][]string{
		"objectClass": {"top", "person"},
		"cn":          {cn},
		"sn":          {sn},
	}
}

func ou() map[string][]string {
	return map[string][]string{"objectClass": {"top", "organizationalUnit"}}
}

// newTestPartition returns a partition holding:
//
//	dc=example,dc=com
//	├── ou=People
//	│   ├── cn=Alice
//	│   └── cn=Bob
//	└── ou=Groups
func newTestPartition(t *testing.T) *directory.Partition {
	t.Helper()

	p, err := directory.NewPartition(context.Background(), suffix, memory.NewMemoryStore(), schema.Default(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	mustAdd(t, p, suffix, map[string][]string{"objectClass": {"top", "domain"}, "dc": {"example"}})
	mustAdd(t, p, "ou=People,"+suffix, ou())
	mustAdd(t, p, "cn=Alice,ou=People,"+suffix, person("Alice", "Smith"))
	mustAdd(t, p, "cn=Bob,ou=People,"+suffix, person("Bob", "Jones"))
	mustAdd(t, p, "ou=Groups,"+suffix, ou())
	return p
}

func mustAdd(t *testing.T, p *directory.Partition, dn string, attrs map[string][]string) {
	t.Helper()
	require.NoError(t, p.Add(context.Background(), directory.NewAddContext(admin, ldap.NewEntry(dn, attrs), nil)))
}

func addEntry(p *directory.Partition, dn string, attrs map[string][]string) error {
	return p.Add(context.Background(), directory.NewAddContext(admin, ldap.NewEntry(dn, attrs), nil))
}

// assertCode checks that err carries the LDAP result code.
func assertCode(t *testing.T, code uint16, err error) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, directory.ResultCode(err), "unexpected error: %v", err)
}

// dns reads a cursor from the start, closes it, and returns the DNs in order.
func dns(t *testing.T, c cursor.Cursor[*ldap.Entry]) []string {
	t.Helper()
	defer func() { _ = c.Close() }()
	entries, err := cursor.Collect(c)
	require.NoError(t, err)
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.DN)
	}
	return out
}
