package extsort

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/marmos91/dittoldap/pkg/cursor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(dn string, attrs map[string][]string) *ldap.Entry {
	return ldap.NewEntry(dn, attrs)
}

func bySN(a, b *ldap.Entry) int {
	return strings.Compare(a.GetAttributeValue("sn"), b.GetAttributeValue("sn"))
}

func randomEntries(n int, seed int64) []*ldap.Entry {
	r := rand.New(rand.NewSource(seed))
	out := make([]*ldap.Entry, n)
	for i := range out {
		sn := fmt.Sprintf("%08d", r.Intn(1_000_000))
		out[i] = entry(fmt.Sprintf("uid=u%d,ou=people,dc=example,dc=com", i), map[string][]string{
			"sn":  {sn},
			"uid": {fmt.Sprintf("u%d", i)},
		})
	}
	return out
}

func dns(entries []*ldap.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.DN
	}
	return out
}

func tempDirEntries(t *testing.T, dir string) []os.DirEntry {
	t.Helper()
	des, err := os.ReadDir(dir)
	require.NoError(t, err)
	return des
}

func TestSortOrdersEntries(t *testing.T) {
	for _, tc := range []struct {
		name    string
		count   int
		runSize int
	}{
		{"SingleRun", 50, 1000},
		{"ExactRun", 64, 64},
		{"ManyRuns", 500, 7},
	} {
		t.Run(tc.name, func(t *testing.T) {
			tmp := t.TempDir()
			s := New(Config{TempDir: tmp, RunSize: tc.runSize})

			input := randomEntries(tc.count, int64(tc.count))
			sorted, err := s.Sort(context.Background(), cursor.NewList(input, nil), bySN)
			require.NoError(t, err)
			defer sorted.Close()

			sc, ok := sorted.(*SortedCursor)
			require.True(t, ok)
			assert.EqualValues(t, tc.count, sc.Len())
			assert.DirExists(t, sc.Dir())

			got, err := cursor.Drain[*ldap.Entry](sorted)
			require.NoError(t, err)
			require.Len(t, got, tc.count)
			for i := 1; i < len(got); i++ {
				assert.LessOrEqual(t, bySN(got[i-1], got[i]), 0, "entries %d and %d out of order", i-1, i)
			}
			assert.ElementsMatch(t, dns(input), dns(got))
		})
	}
}

func TestSortIsStable(t *testing.T) {
	var input []*ldap.Entry
	for i := 0; i < 40; i++ {
		input = append(input, entry(fmt.Sprintf("cn=e%02d,o=x", i), map[string][]string{
			"sn": {fmt.Sprintf("%d", i%3)},
		}))
	}

	s := New(Config{TempDir: t.TempDir(), RunSize: 5})
	sorted, err := s.Sort(context.Background(), cursor.NewList(input, nil), bySN)
	require.NoError(t, err)
	defer sorted.Close()

	got, err := cursor.Drain[*ldap.Entry](sorted)
	require.NoError(t, err)
	require.Len(t, got, 40)

	var want []string
	for group := 0; group < 3; group++ {
		for i := group; i < 40; i += 3 {
			want = append(want, fmt.Sprintf("cn=e%02d,o=x", i))
		}
	}
	assert.Equal(t, want, dns(got))
}

func TestSortPreservesAttributes(t *testing.T) {
	input := []*ldap.Entry{
		entry("cn=Charlie,o=x", map[string][]string{"sn": {"Charlie"}, "mail": {"c@x", "charlie@x"}}),
		entry("cn=Alice,o=x", map[string][]string{"sn": {"Alice"}, "mail": {"a@x"}}),
		entry("cn=Bob,o=x", map[string][]string{"sn": {"Bob"}}),
	}

	s := New(Config{TempDir: t.TempDir()})
	sorted, err := s.Sort(context.Background(), cursor.NewList(input, nil), bySN)
	require.NoError(t, err)
	defer sorted.Close()

	got, err := cursor.Drain[*ldap.Entry](sorted)
	require.NoError(t, err)
	require.Equal(t, []string{"cn=Alice,o=x", "cn=Bob,o=x", "cn=Charlie,o=x"}, dns(got))
	assert.Equal(t, []string{"c@x", "charlie@x"}, got[2].GetAttributeValues("mail"))
	assert.Equal(t, []byte("a@x"), got[0].GetRawAttributeValue("mail"))
	assert.Empty(t, got[1].GetAttributeValues("mail"))
}

func TestSortedCursorBidirectional(t *testing.T) {
	input := randomEntries(25, 7)
	s := New(Config{TempDir: t.TempDir(), RunSize: 4})
	sorted, err := s.Sort(context.Background(), cursor.NewList(input, nil), bySN)
	require.NoError(t, err)
	defer sorted.Close()

	forward, err := cursor.Collect[*ldap.Entry](sorted)
	require.NoError(t, err)

	require.NoError(t, sorted.AfterLast())
	var backward []*ldap.Entry
	for {
		ok, err := sorted.Previous()
		require.NoError(t, err)
		if !ok {
			break
		}
		e, err := sorted.Get()
		require.NoError(t, err)
		backward = append(backward, e)
	}
	require.Len(t, backward, len(forward))
	for i := range forward {
		assert.Equal(t, forward[i].DN, backward[len(backward)-1-i].DN)
	}

	t.Run("Sentinels", func(t *testing.T) {
		require.NoError(t, sorted.BeforeFirst())
		assert.False(t, sorted.Available())
		_, err := sorted.Get()
		assert.ErrorIs(t, err, cursor.ErrInvalidPosition)

		ok, err := sorted.Previous()
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = sorted.First()
		require.NoError(t, err)
		require.True(t, ok)
		e, _ := sorted.Get()
		assert.Equal(t, forward[0].DN, e.DN)

		ok, err = sorted.Last()
		require.NoError(t, err)
		require.True(t, ok)
		e, _ = sorted.Get()
		assert.Equal(t, forward[len(forward)-1].DN, e.DN)

		ok, err = sorted.Next()
		require.NoError(t, err)
		assert.False(t, ok)
		ok, err = sorted.Previous()
		require.NoError(t, err)
		require.True(t, ok)
		e, _ = sorted.Get()
		assert.Equal(t, forward[len(forward)-1].DN, e.DN)
	})

	t.Run("BeforeAfterUnsupported", func(t *testing.T) {
		assert.ErrorIs(t, sorted.Before(forward[0]), cursor.ErrUnsupportedOperation)
		assert.ErrorIs(t, sorted.After(forward[0]), cursor.ErrUnsupportedOperation)
	})
}

func TestSortTrivialInputs(t *testing.T) {
	t.Run("Empty", func(t *testing.T) {
		tmp := t.TempDir()
		in := cursor.Empty[*ldap.Entry]()
		out, err := New(Config{TempDir: tmp}).Sort(context.Background(), in, bySN)
		require.NoError(t, err)
		assert.Same(t, in, out)
		assert.Empty(t, tempDirEntries(t, tmp))

		ok, err := out.Next()
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Single", func(t *testing.T) {
		tmp := t.TempDir()
		only := entry("cn=Alice,o=x", map[string][]string{"sn": {"Alice"}})
		in := cursor.NewList([]*ldap.Entry{only}, nil)
		_, _ = in.Next()

		out, err := New(Config{TempDir: tmp}).Sort(context.Background(), in, bySN)
		require.NoError(t, err)
		assert.Same(t, in, out)
		assert.Empty(t, tempDirEntries(t, tmp))

		got, err := cursor.Drain[*ldap.Entry](out)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, only.DN, got[0].DN)
	})
}

func TestSortedCursorClose(t *testing.T) {
	tmp := t.TempDir()
	s := New(Config{TempDir: tmp, RunSize: 3})
	sorted, err := s.Sort(context.Background(), cursor.NewList(randomEntries(20, 3), nil), bySN)
	require.NoError(t, err)
	require.Len(t, tempDirEntries(t, tmp), 1)

	// Abandon partway through.
	for i := 0; i < 5; i++ {
		ok, err := sorted.Next()
		require.NoError(t, err)
		require.True(t, ok)
	}

	dir := sorted.(*SortedCursor).Dir()
	assert.True(t, s.InUse(dir))
	require.NoError(t, sorted.Close())
	assert.False(t, s.InUse(dir))
	assert.NoDirExists(t, dir)
	assert.Empty(t, tempDirEntries(t, tmp))

	require.NoError(t, sorted.Close())
	_, err = sorted.Next()
	assert.ErrorIs(t, err, cursor.ErrClosed)
	_, err = sorted.Get()
	assert.ErrorIs(t, err, cursor.ErrClosed)
	assert.False(t, sorted.Available())
}

func TestSortClosesInput(t *testing.T) {
	in := cursor.NewList(randomEntries(10, 1), nil)
	sorted, err := New(Config{TempDir: t.TempDir()}).Sort(context.Background(), in, bySN)
	require.NoError(t, err)
	defer sorted.Close()

	_, err = in.Next()
	assert.ErrorIs(t, err, cursor.ErrClosed)
}

// brokenCursor fails once failAfter elements have been read, and on every
// BeforeFirst after the first rewinds.
type brokenCursor struct {
	cursor.Cursor[*ldap.Entry]
	failAfter int
	rewinds   int
	read      int
	closed    bool
}

var errBroken = errors.New("backend read failed")

func (c *brokenCursor) BeforeFirst() error {
	if c.rewinds == 0 {
		return errBroken
	}
	c.rewinds--
	return c.Cursor.BeforeFirst()
}

func (c *brokenCursor) Next() (bool, error) {
	if c.read >= c.failAfter {
		return false, errBroken
	}
	c.read++
	return c.Cursor.Next()
}

func (c *brokenCursor) Close() error {
	c.closed = true
	return c.Cursor.Close()
}

func TestSortClosesInputOnError(t *testing.T) {
	tests := []struct {
		name      string
		entries   int
		failAfter int
		rewinds   int
	}{
		{name: "FirstRead", entries: 5, failAfter: 0, rewinds: 1},
		{name: "SecondRead", entries: 5, failAfter: 1, rewinds: 1},
		{name: "Rewind", entries: 5, failAfter: 5, rewinds: 0},
		{name: "RewindSingleEntry", entries: 1, failAfter: 5, rewinds: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := &brokenCursor{
				Cursor:    cursor.NewList(randomEntries(tt.entries, 7), nil),
				failAfter: tt.failAfter,
				rewinds:   tt.rewinds,
			}
			sorted, err := New(Config{TempDir: t.TempDir()}).Sort(context.Background(), in, bySN)
			assert.ErrorIs(t, err, errBroken)
			assert.Nil(t, sorted)
			assert.True(t, in.closed)
		})
	}
}

func TestSortCancelled(t *testing.T) {
	tmp := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := New(Config{TempDir: tmp})
	_, err := s.Sort(ctx, cursor.NewList(randomEntries(10, 2), nil), bySN)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, tempDirEntries(t, tmp))
	assert.Empty(t, s.active)
}

func TestSortUnusableTempDir(t *testing.T) {
	file := t.TempDir() + "/not-a-dir"
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	_, err := New(Config{TempDir: file}).Sort(context.Background(), cursor.NewList(randomEntries(3, 4), nil), bySN)
	assert.ErrorIs(t, err, ErrIndexStorage)
}

func TestEncoding(t *testing.T) {
	e := entry("cn=Bob,o=x", map[string][]string{"cn": {"Bob"}, "jpegPhoto": {"\x00\xff"}})
	data, err := encodeEntry(e)
	require.NoError(t, err)

	back, err := decodeEntry(data)
	require.NoError(t, err)
	assert.Equal(t, e.DN, back.DN)
	assert.Equal(t, []byte("\x00\xff"), back.GetRawAttributeValue("jpegPhoto"))

	_, err = decodeEntry([]byte{0xc1})
	assert.Error(t, err)

	assert.Less(t, string(sortedKey(9)), string(sortedKey(10)))
	assert.Less(t, string(runKey(0, 1<<40)), string(runKey(1, 0)))
	assert.True(t, strings.HasPrefix(string(runKey(3, 9)), string(runPrefix(3))))
}
