// Package cursor defines the bidirectional iterator used to move entries
// between directory stores, the sort engine and protocol sessions.
//
// A cursor is always in one of four states: before the first element,
// positioned on an element, after the last element, or closed. Moving past
// either end is not an error: Next and Previous simply return false and leave
// the cursor on the corresponding sentinel.
package cursor

import "errors"

var (
	// ErrInvalidPosition is returned by Get when the cursor is not on an element.
	ErrInvalidPosition = errors.New("cursor: not positioned on an element")

	// ErrUnsupportedOperation is returned for operations a cursor cannot honour.
	ErrUnsupportedOperation = errors.New("cursor: operation not supported")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("cursor: closed")
)

// Cursor iterates over elements of type T in both directions.
type Cursor[T any] interface {
	// BeforeFirst moves to the sentinel before the first element.
	BeforeFirst() error

	// AfterLast moves to the sentinel after the last element.
	AfterLast() error

	// First positions on the first element. Returns false when empty.
	First() (bool, error)

	// Last positions on the last element. Returns false when empty.
	Last() (bool, error)

	// Next advances one element. Returns false once exhausted.
	Next() (bool, error)

	// Previous moves back one element. Returns false once at the start.
	Previous() (bool, error)

	// Available reports whether Get would succeed.
	Available() bool

	// Get returns the current element or ErrInvalidPosition.
	Get() (T, error)

	// Before positions the cursor just before the given element.
	Before(element T) error

	// After positions the cursor just after the given element.
	After(element T) error

	// Close releases the cursor's resources. Safe to call more than once.
	Close() error
}

// Drain reads every remaining element from the current position forward.
func Drain[T any](c Cursor[T]) ([]T, error) {
	var out []T
	for {
		ok, err := c.Next()
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		v, err := c.Get()
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
}

// Collect rewinds the cursor and returns all its elements.
func Collect[T any](c Cursor[T]) ([]T, error) {
	if err := c.BeforeFirst(); err != nil {
		return nil, err
	}
	return Drain(c)
}
