package session_test

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/marmos91/dittoldap/pkg/cursor"
	"github.com/marmos91/dittoldap/pkg/directory"
	"github.com/marmos91/dittoldap/pkg/directory/memory"
	"github.com/marmos91/dittoldap/pkg/schema"
	"github.com/marmos91/dittoldap/pkg/session"
	"github.com/marmos91/dittoldap/pkg/sorting"
	"github.com/marmos91/dittoldap/pkg/sorting/extsort"
	"github.com/stretchr/testify/require"
)

const (
	suffix = "dc=example,dc=com"
	people = "ou=People," + suffix
	remote = "ou=Remote," + suffix
)

// recordingManager wraps a real manager, counting searches and optionally
// failing modifications after attaching a response control.
type recordingManager struct {
	directory.OperationManager

	searches   int
	lastSearch *directory.SearchContext

	modifyControl ldap.Control
	modifyErr     error
}

func (m *recordingManager) Search(ctx context.Context, op *directory.SearchContext) (cursor.Cursor[*ldap.Entry], directory.Outcome, error) {
	m.searches++
	m.lastSearch = op
	return m.OperationManager.Search(ctx, op)
}

func (m *recordingManager) Modify(ctx context.Context, op *directory.ModifyContext) (directory.Outcome, error) {
	if m.modifyControl != nil {
		op.AddResponseControl(m.modifyControl)
	}
	if m.modifyErr != nil {
		return directory.Success, m.modifyErr
	}
	return m.OperationManager.Modify(ctx, op)
}

// failingSorter always fails to build an index.
type failingSorter struct{}

var errIndex = fmt.Errorf("%w: disk full", extsort.ErrIndexStorage)

func (failingSorter) Sort(context.Context, cursor.Cursor[*ldap.Entry], extsort.CompareFunc) (cursor.Cursor[*ldap.Entry], error) {
	return nil, errIndex
}

// unreadableSorter passes the input through but fails every read after
// the first readable ones, as an index whose files went away would.
type unreadableSorter struct {
	readable int
}

func (s unreadableSorter) Sort(_ context.Context, in cursor.Cursor[*ldap.Entry], _ extsort.CompareFunc) (cursor.Cursor[*ldap.Entry], error) {
	return &unreadableCursor{Cursor: in, readable: s.readable}, nil
}

type unreadableCursor struct {
	cursor.Cursor[*ldap.Entry]
	readable int
}

func (c *unreadableCursor) Next() (bool, error) {
	if c.readable == 0 {
		return false, errIndex
	}
	c.readable--
	return c.Cursor.Next()
}

type fixture struct {
	session   *session.Session
	manager   *recordingManager
	nexus     *directory.Nexus
	changelog *directory.ChangeLog
	tempDir   string
}

// newFixture builds a session over a memory partition holding:
//
//	dc=example,dc=com
//	├── ou=People
//	│   ├── cn=Charlie (sn=Charlie)
//	│   ├── cn=Alice   (sn=Alice)
//	│   └── cn=Bob     (sn=Bob)
//	└── ou=Remote      (referral)
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	s := schema.Default()

	p, err := directory.NewPartition(ctx, suffix, memory.NewMemoryStore(), s, nil)
	require.NoError(t, err)

	n := directory.NewNexus(s)
	require.NoError(t, n.AddPartition(p))
	t.Cleanup(func() { _ = n.Close() })

	changelog := directory.NewChangeLog(0)
	n.Use(changelog)

	f := &fixture{
		manager:   &recordingManager{OperationManager: n},
		nexus:     n,
		changelog: changelog,
		tempDir:   t.TempDir(),
	}
	f.session = session.New(f.manager, session.Config{
		Principal: directory.NewPrincipal("cn=admin,"+suffix, directory.AuthSimple),
		Schema:    s,
		Sorter:    extsort.New(extsort.Config{TempDir: f.tempDir, RunSize: 2}),
	})

	f.add(t, suffix, map[string][]string{"objectClass": {"top", "domain"}, "dc": {"example"}})
	f.add(t, people, map[string][]string{"objectClass": {"top", "organizationalUnit"}})
	for _, name := range []string{"Charlie", "Alice", "Bob"} {
		f.add(t, "cn="+name+","+people, map[string][]string{
			"objectClass": {"top", "person"},
			"sn":          {name},
			"mail":        {name + "@example.com"},
		})
	}
	f.add(t, remote, map[string][]string{
		"objectClass": {"top", "referral", "extensibleObject"},
		"ref":         {"ldap://east.example.com/ou=Remote,dc=example,dc=com"},
	})
	return f
}

func (f *fixture) add(t *testing.T, dn string, attrs map[string][]string) {
	t.Helper()
	req := ldap.NewAddRequest(dn, nil)
	for name, values := range attrs {
		req.Attribute(name, values)
	}
	resp, err := f.session.Add(context.Background(), req, session.NoLog())
	require.NoError(t, err)
	require.True(t, resp.Success())
}

// personSearch searches the people below ou=People.
func personSearch(controls ...ldap.Control) *ldap.SearchRequest {
	return ldap.NewSearchRequest(people, ldap.ScopeSingleLevel, ldap.NeverDerefAliases,
		0, 0, false, "(objectClass=person)", nil, controls)
}

func sortBySN(critical, reverse bool) *sorting.SortRequest {
	return sorting.NewSortRequest(critical, sorting.SortKey{AttributeType: "sn", Reverse: reverse})
}

// surnames drains c and returns the sn of every entry in order.
func surnames(t *testing.T, c cursor.Cursor[*ldap.Entry]) []string {
	t.Helper()
	defer func() { _ = c.Close() }()
	entries, err := cursor.Collect(c)
	require.NoError(t, err)
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.GetAttributeValue("sn"))
	}
	return out
}

// dns drains c and returns the DN of every entry in order.
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

// subtreeSearch searches everything below the suffix.
func subtreeSearch(filter string, controls ...ldap.Control) *ldap.SearchRequest {
	return ldap.NewSearchRequest(suffix, ldap.ScopeWholeSubtree, ldap.NeverDerefAliases,
		0, 0, false, filter, nil, controls)
}

var remoteReference = directory.Reference{
	DN:   remote,
	URLs: []string{"ldap://east.example.com/ou=Remote,dc=example,dc=com"},
}

// sortResult returns the sort response control carried by resp, or nil.
func sortResult(resp *session.ResultResponse) *sorting.SortResponse {
	c := ldap.FindControl(resp.Controls, ldap.ControlTypeServerSideSortingResult)
	if c == nil {
		return nil
	}
	return c.(*sorting.SortResponse)
}

// tempEntries lists what is left in the sorter's temp directory.
func tempEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}
