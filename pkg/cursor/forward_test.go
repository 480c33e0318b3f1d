package cursor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sliceSource struct {
	items  []string
	next   int
	resets int
	closed bool
	fail   error
}

func (s *sliceSource) Next() (string, bool, error) {
	if s.fail != nil && s.next == 1 {
		return "", false, s.fail
	}
	if s.next >= len(s.items) {
		return "", false, nil
	}
	v := s.items[s.next]
	s.next++
	return v, true, nil
}

func (s *sliceSource) Reset() error {
	s.next = 0
	s.resets++
	return nil
}

func (s *sliceSource) Close() error {
	s.closed = true
	return nil
}

func TestForwardCursor(t *testing.T) {
	t.Run("Forward", func(t *testing.T) {
		src := &sliceSource{items: []string{"a", "b", "c"}}
		c := NewForward[string](src)
		got, err := Drain[string](c)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, got)
		assert.Zero(t, src.resets)
	})

	t.Run("ProbeAndRewind", func(t *testing.T) {
		src := &sliceSource{items: []string{"a", "b"}}
		c := NewForward[string](src)

		ok, err := c.Next()
		require.NoError(t, err)
		require.True(t, ok)
		ok, err = c.Previous()
		require.NoError(t, err)
		assert.False(t, ok)

		got, err := Drain[string](c)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, got)
	})

	t.Run("Backward", func(t *testing.T) {
		c := NewForward[string](&sliceSource{items: []string{"a", "b", "c"}})
		require.NoError(t, c.AfterLast())

		var got []string
		for {
			ok, err := c.Previous()
			require.NoError(t, err)
			if !ok {
				break
			}
			v, err := c.Get()
			require.NoError(t, err)
			got = append(got, v)
		}
		assert.Equal(t, []string{"c", "b", "a"}, got)
	})

	t.Run("FirstLast", func(t *testing.T) {
		c := NewForward[string](&sliceSource{items: []string{"a", "b", "c"}})
		ok, err := c.Last()
		require.NoError(t, err)
		require.True(t, ok)
		v, _ := c.Get()
		assert.Equal(t, "c", v)

		ok, err = c.First()
		require.NoError(t, err)
		require.True(t, ok)
		v, _ = c.Get()
		assert.Equal(t, "a", v)
	})

	t.Run("Empty", func(t *testing.T) {
		c := NewForward[string](&sliceSource{})
		ok, err := c.Next()
		require.NoError(t, err)
		assert.False(t, ok)
		ok, err = c.Previous()
		require.NoError(t, err)
		assert.False(t, ok)
		assert.False(t, c.Available())
	})

	t.Run("SourceError", func(t *testing.T) {
		boom := errors.New("boom")
		c := NewForward[string](&sliceSource{items: []string{"a", "b"}, fail: boom})
		_, err := c.Next()
		require.NoError(t, err)
		_, err = c.Next()
		assert.ErrorIs(t, err, boom)
	})

	t.Run("Close", func(t *testing.T) {
		src := &sliceSource{items: []string{"a"}}
		c := NewForward[string](src)
		require.NoError(t, c.Close())
		require.NoError(t, c.Close())
		assert.True(t, src.closed)
		_, err := c.Next()
		assert.ErrorIs(t, err, ErrClosed)
		assert.ErrorIs(t, c.Before("a"), ErrUnsupportedOperation)
	})
}
