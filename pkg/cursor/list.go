package cursor

import "sort"

// ListCursor walks an in-memory slice.
//
// Before and After need an ordering to locate an element that may not be
// present in the slice; a ListCursor built without one returns
// ErrUnsupportedOperation for both.
type ListCursor[T any] struct {
	items   []T
	compare func(a, b T) int

	// pos is the current index when valid. Otherwise gap is the index of the
	// element Next would return, so gap-1 is what Previous would return.
	pos    int
	gap    int
	valid  bool
	closed bool
}

// NewList returns a cursor over items, positioned before the first element.
// items must already be ordered by compare when compare is not nil.
func NewList[T any](items []T, compare func(a, b T) int) *ListCursor[T] {
	return &ListCursor[T]{items: items, compare: compare}
}

// Empty returns a cursor with no elements.
func Empty[T any]() *ListCursor[T] {
	return NewList[T](nil, nil)
}

// Len returns the number of elements.
func (c *ListCursor[T]) Len() int {
	return len(c.items)
}

func (c *ListCursor[T]) BeforeFirst() error {
	if c.closed {
		return ErrClosed
	}
	c.gap = 0
	c.valid = false
	return nil
}

func (c *ListCursor[T]) AfterLast() error {
	if c.closed {
		return ErrClosed
	}
	c.gap = len(c.items)
	c.valid = false
	return nil
}

func (c *ListCursor[T]) First() (bool, error) {
	if err := c.BeforeFirst(); err != nil {
		return false, err
	}
	return c.Next()
}

func (c *ListCursor[T]) Last() (bool, error) {
	if err := c.AfterLast(); err != nil {
		return false, err
	}
	return c.Previous()
}

func (c *ListCursor[T]) Next() (bool, error) {
	if c.closed {
		return false, ErrClosed
	}
	i := c.gap
	if c.valid {
		i = c.pos + 1
	}
	if i >= len(c.items) {
		c.gap = len(c.items)
		c.valid = false
		return false, nil
	}
	c.pos = i
	c.valid = true
	return true, nil
}

func (c *ListCursor[T]) Previous() (bool, error) {
	if c.closed {
		return false, ErrClosed
	}
	i := c.gap - 1
	if c.valid {
		i = c.pos - 1
	}
	if i < 0 {
		c.gap = 0
		c.valid = false
		return false, nil
	}
	c.pos = i
	c.valid = true
	return true, nil
}

func (c *ListCursor[T]) Available() bool {
	return !c.closed && c.valid
}

func (c *ListCursor[T]) Get() (T, error) {
	var zero T
	if c.closed {
		return zero, ErrClosed
	}
	if !c.valid {
		return zero, ErrInvalidPosition
	}
	return c.items[c.pos], nil
}

func (c *ListCursor[T]) Before(element T) error {
	if c.closed {
		return ErrClosed
	}
	if c.compare == nil {
		return ErrUnsupportedOperation
	}
	c.gap = sort.Search(len(c.items), func(i int) bool {
		return c.compare(c.items[i], element) >= 0
	})
	c.valid = false
	return nil
}

func (c *ListCursor[T]) After(element T) error {
	if c.closed {
		return ErrClosed
	}
	if c.compare == nil {
		return ErrUnsupportedOperation
	}
	c.gap = sort.Search(len(c.items), func(i int) bool {
		return c.compare(c.items[i], element) > 0
	})
	c.valid = false
	return nil
}

func (c *ListCursor[T]) Close() error {
	c.closed = true
	c.valid = false
	c.items = nil
	return nil
}
