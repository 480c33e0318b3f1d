package cursor

import (
	"cmp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListCursor(t *testing.T) {
	t.Run("ForwardIteration", func(t *testing.T) {
		c := NewList([]int{1, 2, 3}, nil)
		got, err := Drain[int](c)
		require.NoError(t, err)
		assert.Equal(t, []int{1, 2, 3}, got)
		assert.False(t, c.Available())
	})

	t.Run("GetBeforeFirst", func(t *testing.T) {
		c := NewList([]int{1}, nil)
		_, err := c.Get()
		assert.ErrorIs(t, err, ErrInvalidPosition)
	})

	t.Run("GetAfterExhaustion", func(t *testing.T) {
		c := NewList([]int{1}, nil)
		ok, err := c.Next()
		require.NoError(t, err)
		require.True(t, ok)
		ok, err = c.Next()
		require.NoError(t, err)
		assert.False(t, ok)
		_, err = c.Get()
		assert.ErrorIs(t, err, ErrInvalidPosition)
	})

	t.Run("NextThenPreviousReturnsToStart", func(t *testing.T) {
		c := NewList([]int{10, 20, 30, 40}, nil)
		for n := 0; n <= 4; n++ {
			require.NoError(t, c.BeforeFirst())
			for i := 0; i < n; i++ {
				_, err := c.Next()
				require.NoError(t, err)
			}
			for i := 0; i < n; i++ {
				_, err := c.Previous()
				require.NoError(t, err)
			}
			assert.False(t, c.Available())
			ok, err := c.Next()
			require.NoError(t, err)
			require.True(t, ok)
			v, _ := c.Get()
			assert.Equal(t, 10, v)
		}
	})

	t.Run("BackwardFromAfterLast", func(t *testing.T) {
		c := NewList([]int{1, 2, 3}, nil)
		require.NoError(t, c.AfterLast())
		var got []int
		for {
			ok, err := c.Previous()
			require.NoError(t, err)
			if !ok {
				break
			}
			v, _ := c.Get()
			got = append(got, v)
		}
		assert.Equal(t, []int{3, 2, 1}, got)
	})

	t.Run("FirstAndLast", func(t *testing.T) {
		c := NewList([]string{"a", "b", "c"}, nil)
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

	t.Run("EmptyFirst", func(t *testing.T) {
		ok, err := Empty[int]().First()
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("BeforeAndAfter", func(t *testing.T) {
		c := NewList([]int{10, 20, 30}, cmp.Compare[int])

		require.NoError(t, c.Before(20))
		ok, _ := c.Next()
		require.True(t, ok)
		v, _ := c.Get()
		assert.Equal(t, 20, v)

		require.NoError(t, c.After(20))
		ok, _ = c.Next()
		require.True(t, ok)
		v, _ = c.Get()
		assert.Equal(t, 30, v)

		require.NoError(t, c.After(20))
		ok, _ = c.Previous()
		require.True(t, ok)
		v, _ = c.Get()
		assert.Equal(t, 20, v)

		require.NoError(t, c.Before(25))
		ok, _ = c.Previous()
		require.True(t, ok)
		v, _ = c.Get()
		assert.Equal(t, 20, v)
	})

	t.Run("BeforeWithoutOrdering", func(t *testing.T) {
		c := NewList([]int{1}, nil)
		assert.ErrorIs(t, c.Before(1), ErrUnsupportedOperation)
		assert.ErrorIs(t, c.After(1), ErrUnsupportedOperation)
	})

	t.Run("Closed", func(t *testing.T) {
		c := NewList([]int{1}, nil)
		require.NoError(t, c.Close())
		require.NoError(t, c.Close())
		_, err := c.Next()
		assert.ErrorIs(t, err, ErrClosed)
		_, err = c.Get()
		assert.ErrorIs(t, err, ErrClosed)
	})
}

func TestCollectRewinds(t *testing.T) {
	c := NewList([]int{1, 2}, nil)
	_, _ = c.Next()
	_, _ = c.Next()

	got, err := Collect[int](c)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, got)
}
