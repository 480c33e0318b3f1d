package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/marmos91/dittoldap/internal/logger"
	"github.com/marmos91/dittoldap/pkg/cursor"
	"github.com/marmos91/dittoldap/pkg/directory"
	"github.com/marmos91/dittoldap/pkg/metrics"
	"github.com/marmos91/dittoldap/pkg/schema"
)

// SearchResponse is one protocol response of a search: an entry, a
// continuation reference or the final done response.
type SearchResponse struct {
	Entry     *ldap.Entry
	Reference *directory.Reference
	Done      *ResultResponse
}

// IsDone reports whether this is the terminating response.
func (r *SearchResponse) IsDone() bool {
	return r.Done != nil
}

// IsReference reports whether this is a continuation reference.
func (r *SearchResponse) IsReference() bool {
	return r.Reference != nil
}

// SearchResponseIterator turns a search cursor into protocol responses.
//
// Entries are projected to the requested attributes. The size and time
// limits of the request end the search with sizeLimitExceeded and
// timeLimitExceeded. A referral entry met by the walk is produced as a
// continuation reference ahead of the entries that follow it. Exactly one
// done response is produced, unless the search is abandoned, in which case
// none is.
//
// Next and Close must be called from one goroutine; Abandon may be called
// from any.
type SearchResponseIterator struct {
	ctx     context.Context
	schema  *schema.Schema
	metrics metrics.SessionMetrics

	baseDN     string
	references func() []directory.Reference

	attributes []string
	typesOnly  bool
	sizeLimit  int
	deadline   time.Time

	// mu guards the cursor against a concurrent Abandon.
	mu        sync.Mutex
	cursor    cursor.Cursor[*ldap.Entry]
	closed    bool
	done      *ResultResponse
	err       error
	sent      int
	refsSent  int
	pending   []*SearchResponse
	finished  bool
	doneSent  bool
	abandoned atomic.Bool
}

// Next returns the next response, or false once the done response has been
// produced or the search was abandoned.
func (it *SearchResponseIterator) Next() (*SearchResponse, bool) {
	it.mu.Lock()
	defer it.mu.Unlock()

	if it.abandoned.Load() || it.doneSent {
		return nil, false
	}

	if len(it.pending) == 0 && !it.finished {
		entry, ok := it.advance()
		it.queueReferences()
		if ok {
			it.pending = append(it.pending, &SearchResponse{Entry: entry})
		} else {
			it.finished = true
		}
	}

	if len(it.pending) > 0 {
		resp := it.pending[0]
		it.pending = it.pending[1:]
		if resp.Entry != nil {
			it.sent++
		}
		return resp, true
	}

	it.doneSent = true
	it.closeCursor()
	it.done.References = it.referenceList()
	it.metrics.RecordSearchEntries(it.sent)
	return &SearchResponse{Done: it.done}, true
}

func (it *SearchResponseIterator) referenceList() []directory.Reference {
	if it.references == nil {
		return nil
	}
	return it.references()
}

// queueReferences queues the references recorded since the last call.
func (it *SearchResponseIterator) queueReferences() {
	refs := it.referenceList()
	for ; it.refsSent < len(refs); it.refsSent++ {
		ref := refs[it.refsSent]
		it.pending = append(it.pending, &SearchResponse{Reference: &ref})
	}
}

// advance fetches and projects the next entry. On false the done response is
// final.
func (it *SearchResponseIterator) advance() (*ldap.Entry, bool) {
	if err := it.ctx.Err(); err != nil {
		it.fail(err)
		return nil, false
	}
	if !it.deadline.IsZero() && time.Now().After(it.deadline) {
		it.limit(ldap.LDAPResultTimeLimitExceeded)
		return nil, false
	}

	ok, err := it.cursor.Next()
	if err != nil {
		it.fail(err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	if it.sizeLimit > 0 && it.sent >= it.sizeLimit {
		it.limit(ldap.LDAPResultSizeLimitExceeded)
		return nil, false
	}

	entry, err := it.cursor.Get()
	if err != nil {
		it.fail(err)
		return nil, false
	}
	return directory.Project(entry, it.attributes, it.typesOnly, it.schema), true
}

func (it *SearchResponseIterator) fail(err error) {
	err = storageError(it.baseDN, err)
	it.err = err
	it.done = &ResultResponse{
		Code:       directory.ResultCode(err),
		MatchedDN:  directory.MatchedDN(err),
		Diagnostic: err.Error(),
		Controls:   it.done.Controls,
	}
}

func (it *SearchResponseIterator) limit(code uint16) {
	it.done = &ResultResponse{
		Code:       code,
		Diagnostic: ldap.LDAPResultCodeMap[code],
		Controls:   it.done.Controls,
	}
}

// Abandon stops the search. No further response is produced, not even the
// done response, and the cursor is closed.
func (it *SearchResponseIterator) Abandon() {
	if it.abandoned.Swap(true) {
		return
	}
	it.metrics.RecordSearchAbandoned()

	it.mu.Lock()
	defer it.mu.Unlock()
	logger.Debug("session: search abandoned after %d entries", it.sent)
	it.closeCursor()
}

// Abandoned reports whether Abandon was called.
func (it *SearchResponseIterator) Abandoned() bool {
	return it.abandoned.Load()
}

// Sent returns the number of entry responses produced.
func (it *SearchResponseIterator) Sent() int {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.sent
}

// Err returns the error that ended the search, if any.
func (it *SearchResponseIterator) Err() error {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.err
}

// Close releases the cursor. It is safe to call more than once.
func (it *SearchResponseIterator) Close() error {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.closeCursor()
}

func (it *SearchResponseIterator) closeCursor() error {
	if it.closed {
		return nil
	}
	it.closed = true
	return it.cursor.Close()
}
