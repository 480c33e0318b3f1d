package directory

import (
	"context"
	"sync"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/marmos91/dittoldap/internal/logger"
)

// DefaultChangeLogCapacity is the number of events kept when none is given.
const DefaultChangeLogCapacity = 1024

// ChangeEvent is one successful change to the directory.
type ChangeEvent struct {
	// Seq increases by one for every recorded event, starting at 1
	Seq uint64

	Kind OperationKind

	// DN is the target of the operation; NewDN is set for renames and moves
	DN    string
	NewDN string

	Principal string
	Time      time.Time

	// Entry is the entry after the change (the removed entry for deletes)
	Entry *ldap.Entry

	// Changes are the modifications of a modify operation
	Changes []ldap.Change
}

// ChangeLog is an interceptor that keeps the most recent changes in a
// bounded ring. Operations whose context opted out of logging, failed, or
// were answered with a referral are not recorded.
type ChangeLog struct {
	mu     sync.RWMutex
	events []ChangeEvent
	next   int
	full   bool
	seq    uint64
}

var _ Interceptor = (*ChangeLog)(nil)

// NewChangeLog creates a change log keeping at most capacity events.
func NewChangeLog(capacity int) *ChangeLog {
	if capacity <= 0 {
		capacity = DefaultChangeLogCapacity
	}
	return &ChangeLog{events: make([]ChangeEvent, capacity)}
}

// Name implements Interceptor.
func (c *ChangeLog) Name() string {
	return "changelog"
}

// Intercept implements Interceptor.
func (c *ChangeLog) Intercept(ctx context.Context, op Operation, next Handler) (Outcome, error) {
	out, err := next(ctx, op)
	if err != nil || out.IsReferral() || !op.Base().LogChange() {
		return out, err
	}

	event := ChangeEvent{
		Kind:      op.Kind(),
		DN:        op.Base().DN,
		Principal: op.Base().EffectivePrincipal().Name,
		Time:      op.Base().Time,
	}
	switch o := op.(type) {
	case *AddContext:
		event.Entry = CloneEntry(o.Entry)
	case *DeleteContext:
		event.Entry = CloneEntry(o.Entry)
	case *ModifyContext:
		event.Entry = CloneEntry(o.Entry)
		event.Changes = o.Changes
	default:
		if chg := DNChangeOf(op); chg != nil {
			event.NewDN = chg.NewDN
			event.Entry = CloneEntry(chg.Entry)
		}
	}

	seq := c.append(event)
	logger.Debug("changelog: #%d %s %s", seq, event.Kind, event.DN)
	return out, nil
}

func (c *ChangeLog) append(event ChangeEvent) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	event.Seq = c.seq
	c.events[c.next] = event
	c.next++
	if c.next == len(c.events) {
		c.next = 0
		c.full = true
	}
	return c.seq
}

// Events returns the retained events, oldest first.
func (c *ChangeLog) Events() []ChangeEvent {
	return c.Since(0)
}

// Since returns the retained events with a sequence number above seq.
func (c *ChangeLog) Since(seq uint64) []ChangeEvent {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var ordered []ChangeEvent
	if c.full {
		ordered = append(ordered, c.events[c.next:]...)
	}
	ordered = append(ordered, c.events[:c.next]...)

	out := make([]ChangeEvent, 0, len(ordered))
	for _, e := range ordered {
		if e.Seq > seq {
			out = append(out, e)
		}
	}
	return out
}

// LastSeq returns the sequence number of the latest event, 0 if none.
func (c *ChangeLog) LastSeq() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.seq
}
