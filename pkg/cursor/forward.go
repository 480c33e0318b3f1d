package cursor

// Source produces elements front to back. Reset restarts it from the first
// element.
type Source[T any] interface {
	Next() (T, bool, error)
	Reset() error
	Close() error
}

// ForwardCursor adapts a forward-only Source to the Cursor interface.
//
// Moving forward pulls from the source. Moving backward restarts the source
// and skips to the wanted element, so Previous costs O(n); it exists for the
// occasional probe, not for reverse scans.
type ForwardCursor[T any] struct {
	src Source[T]

	// consumed counts the elements pulled since the last reset.
	consumed int

	// Same convention as ListCursor: pos when valid, gap otherwise.
	pos     int
	gap     int
	valid   bool
	current T

	exhausted bool
	total     int
	closed    bool
}

// NewForward returns a cursor over src, positioned before the first element.
func NewForward[T any](src Source[T]) *ForwardCursor[T] {
	return &ForwardCursor[T]{src: src}
}

func (c *ForwardCursor[T]) pull() (T, bool, error) {
	v, ok, err := c.src.Next()
	if err != nil {
		return v, false, err
	}
	if !ok {
		c.exhausted = true
		c.total = c.consumed
		return v, false, nil
	}
	c.consumed++
	return v, true, nil
}

// seek arranges for the next pull to return element index.
func (c *ForwardCursor[T]) seek(index int) (bool, error) {
	if c.consumed > index {
		if err := c.src.Reset(); err != nil {
			return false, err
		}
		c.consumed = 0
	}
	for c.consumed < index {
		_, ok, err := c.pull()
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func (c *ForwardCursor[T]) clear() {
	var zero T
	c.current = zero
	c.valid = false
}

func (c *ForwardCursor[T]) BeforeFirst() error {
	if c.closed {
		return ErrClosed
	}
	c.clear()
	c.gap = 0
	return nil
}

func (c *ForwardCursor[T]) AfterLast() error {
	if c.closed {
		return ErrClosed
	}
	c.clear()
	for !c.exhausted {
		if _, _, err := c.pull(); err != nil {
			return err
		}
	}
	c.gap = c.total
	return nil
}

func (c *ForwardCursor[T]) First() (bool, error) {
	if err := c.BeforeFirst(); err != nil {
		return false, err
	}
	return c.Next()
}

func (c *ForwardCursor[T]) Last() (bool, error) {
	if err := c.AfterLast(); err != nil {
		return false, err
	}
	return c.Previous()
}

func (c *ForwardCursor[T]) Next() (bool, error) {
	if c.closed {
		return false, ErrClosed
	}
	target := c.gap
	if c.valid {
		target = c.pos + 1
	}
	return c.moveTo(target)
}

func (c *ForwardCursor[T]) Previous() (bool, error) {
	if c.closed {
		return false, ErrClosed
	}
	target := c.gap - 1
	if c.valid {
		target = c.pos - 1
	}
	if target < 0 {
		c.clear()
		c.gap = 0
		return false, nil
	}
	return c.moveTo(target)
}

func (c *ForwardCursor[T]) moveTo(index int) (bool, error) {
	c.clear()
	if c.exhausted && index >= c.total {
		c.gap = c.total
		return false, nil
	}
	ok, err := c.seek(index)
	if err != nil {
		return false, err
	}
	if ok {
		var v T
		v, ok, err = c.pull()
		if err != nil {
			return false, err
		}
		if ok {
			c.current, c.pos, c.valid = v, index, true
			return true, nil
		}
	}
	c.gap = c.total
	return false, nil
}

func (c *ForwardCursor[T]) Available() bool {
	return !c.closed && c.valid
}

func (c *ForwardCursor[T]) Get() (T, error) {
	var zero T
	if c.closed {
		return zero, ErrClosed
	}
	if !c.valid {
		return zero, ErrInvalidPosition
	}
	return c.current, nil
}

// Before is not supported: a forward source cannot be searched by value.
func (c *ForwardCursor[T]) Before(T) error {
	return ErrUnsupportedOperation
}

// After is not supported: a forward source cannot be searched by value.
func (c *ForwardCursor[T]) After(T) error {
	return ErrUnsupportedOperation
}

func (c *ForwardCursor[T]) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.clear()
	return c.src.Close()
}
