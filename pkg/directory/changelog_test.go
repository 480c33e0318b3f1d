package directory_test

import (
	"context"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/marmos91/dittoldap/pkg/directory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChangeLog(t *testing.T) {
	ctx := context.Background()
	n, _ := newTestNexus(t)
	log := directory.NewChangeLog(10)
	n.Use(log)

	carol := "cn=Carol,ou=People," + suffix
	_, err := n.Add(ctx, throw(directory.NewAddContext(admin, ldap.NewEntry(carol, person("Carol", "White")), nil)))
	require.NoError(t, err)

	_, err = n.Modify(ctx, throw(directory.NewModifyContext(admin, carol, []ldap.Change{
		{Operation: ldap.ReplaceAttribute, Modification: ldap.PartialAttribute{Type: "sn", Vals: []string{"Black"}}},
	}, nil)))
	require.NoError(t, err)

	_, err = n.Rename(ctx, throw(directory.NewRenameContext(admin, carol, "cn=Caroline", true, nil)))
	require.NoError(t, err)

	events := log.Events()
	require.Len(t, events, 3)
	assert.Equal(t, directory.OpAdd, events[0].Kind)
	assert.Equal(t, carol, events[0].DN)
	assert.Equal(t, admin.Name, events[0].Principal)
	assert.Equal(t, directory.OpModify, events[1].Kind)
	assert.Len(t, events[1].Changes, 1)
	assert.Equal(t, directory.OpRename, events[2].Kind)
	assert.Equal(t, "cn=Caroline,ou=People,dc=example,dc=com", events[2].NewDN)
	assert.Equal(t, []uint64{1, 2, 3}, []uint64{events[0].Seq, events[1].Seq, events[2].Seq})
	assert.EqualValues(t, 3, log.LastSeq())

	t.Run("OptOut", func(t *testing.T) {
		op := throw(directory.NewDeleteContext(admin, "cn=Caroline,ou=People,"+suffix, nil))
		op.SetLogChange(false)
		_, err := n.Delete(ctx, op)
		require.NoError(t, err)
		assert.EqualValues(t, 3, log.LastSeq())
	})

	t.Run("FailuresAndReferrals", func(t *testing.T) {
		_, err := n.Delete(ctx, throw(directory.NewDeleteContext(admin, "ou=People,"+suffix, nil)))
		require.Error(t, err)

		out, err := n.Add(ctx, throw(directory.NewAddContext(admin, ldap.NewEntry("cn=X,"+remote, person("X", "Y")), nil)))
		require.NoError(t, err)
		require.True(t, out.IsReferral())

		assert.EqualValues(t, 3, log.LastSeq())
	})

	t.Run("Since", func(t *testing.T) {
		since := log.Since(2)
		require.Len(t, since, 1)
		assert.EqualValues(t, 3, since[0].Seq)
	})
}

func TestChangeLogRing(t *testing.T) {
	ctx := context.Background()
	n, _ := newTestNexus(t)
	log := directory.NewChangeLog(2)
	n.Use(log)

	for _, cn := range []string{"A", "B", "C"} {
		_, err := n.Add(ctx, throw(directory.NewAddContext(admin, ldap.NewEntry("cn="+cn+",ou=Groups,"+suffix, person(cn, cn)), nil)))
		require.NoError(t, err)
	}

	events := log.Events()
	require.Len(t, events, 2)
	assert.EqualValues(t, 2, events[0].Seq)
	assert.EqualValues(t, 3, events[1].Seq)
	assert.Equal(t, "cn=C,ou=Groups,dc=example,dc=com", events[1].DN)
}
