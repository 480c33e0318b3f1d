package session

import (
	"context"
	"errors"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/marmos91/dittoldap/internal/logger"
	"github.com/marmos91/dittoldap/pkg/cursor"
	"github.com/marmos91/dittoldap/pkg/directory"
	"github.com/marmos91/dittoldap/pkg/sorting"
	"github.com/marmos91/dittoldap/pkg/sorting/extsort"
)

// Search runs req and returns the matching entries, sorted when req carries
// a server side sorting control.
//
// Processing order:
//  1. A sync request control marks the search as content synchronization.
//  2. A sort control is validated. A critical control that fails validation
//     ends the search with unavailableCriticalExtension and an empty cursor;
//     the manager is never called.
//  3. The manager executes the search.
//  4. A validated sort orders the result through the Sorter.
//  5. When a sort control was processed and the result is empty, the sort
//     response control is dropped.
//
// The returned cursor is never nil, is positioned before the first entry and
// must be closed by the caller. The response carries the accumulated
// response controls on every path, including failures. Referral entries in
// scope are not returned as entries: the response lists them in References,
// which grows as the cursor advances.
//
// A failure of the temporary sort index is reported as operationsError.
func (s *Session) Search(ctx context.Context, req *ldap.SearchRequest, opts ...Option) (cursor.Cursor[*ldap.Entry], *ResultResponse, error) {
	cur, resp, _, err := s.runSearch(ctx, req, opts)
	return cur, resp, err
}

func (s *Session) runSearch(ctx context.Context, req *ldap.SearchRequest, opts []Option) (cursor.Cursor[*ldap.Entry], *ResultResponse, *directory.SearchContext, error) {
	empty := cursor.Empty[*ldap.Entry]()
	op := directory.NewSearchContext(nil, req)
	if resp, err := s.admit(ctx, opts); resp != nil {
		return empty, resp, op, err
	}

	start := time.Now()
	s.prepare(&op.OperationContext, opts)
	if op.Control(ldap.ControlTypeSyncRequest) != nil {
		op.SyncRepl = true
	}

	cur, out, err := s.search(ctx, op)
	resp := result(&op.OperationContext, out, err)
	if err == nil && !out.IsReferral() && cur == nil {
		// Critical sort failure: the manager was skipped.
		resp.Code = ldap.LDAPResultUnavailableCriticalExtension
	}
	s.record(op.Kind(), resp, start)

	if err != nil || cur == nil || out.IsReferral() {
		if err != nil {
			logger.Debug("session: search %q failed: %v", req.BaseDN, err)
		}
		return empty, resp, op, err
	}
	return &referenceCursor{Cursor: cur, op: &op.OperationContext, resp: resp}, resp, op, nil
}

// search runs the search pipeline. A nil cursor with a nil error and a
// non-referral outcome means a critical sort control was rejected.
func (s *Session) search(ctx context.Context, op *directory.SearchContext) (cursor.Cursor[*ldap.Entry], directory.Outcome, error) {
	sortReq, err := sorting.FindSortRequest(op.Controls)
	if err != nil {
		return nil, directory.Success, directory.NewError(ldap.LDAPResultProtocolError, op.DN, "%v", err)
	}

	var cmp *sorting.EntryComparator
	if sortReq != nil {
		var sortResp *sorting.SortResponse
		sortResp, cmp = sorting.Plan(sortReq, s.schema)
		op.AddResponseControl(sortResp)
		if !sortResp.Success() {
			logger.Debug("session: sort request rejected (%d) on %q", sortResp.Result, sortResp.AttributeType)
			if sortReq.Criticality {
				return nil, directory.Success, nil
			}
		}
	}

	cur, out, err := s.manager.Search(ctx, op)
	if err != nil || out.IsReferral() {
		if cur != nil {
			_ = cur.Close()
		}
		return nil, out, err
	}

	if cmp != nil {
		sorted, err := s.sorter.Sort(ctx, cur, cmp.Compare)
		if err != nil {
			_ = cur.Close()
			return nil, directory.Success, storageError(op.DN, err)
		}
		cur = sorted
	}

	if sortReq != nil {
		if err := probe(&op.OperationContext, cur); err != nil {
			_ = cur.Close()
			return nil, directory.Success, storageError(op.DN, err)
		}
	}
	return cur, directory.Success, nil
}

// storageError reports a failure of the temporary sort index as
// operationsError.
func storageError(dn string, err error) error {
	if _, ok := directory.AsError(err); ok || !errors.Is(err, extsort.ErrIndexStorage) {
		return err
	}
	return directory.WrapError(ldap.LDAPResultOperationsError, dn, err)
}

// referenceCursor keeps resp.References in step with the continuation
// references the search walk records on op.
type referenceCursor struct {
	cursor.Cursor[*ldap.Entry]
	op   *directory.OperationContext
	resp *ResultResponse
}

func (c *referenceCursor) sync() {
	c.resp.References = c.op.References()
}

func (c *referenceCursor) AfterLast() error {
	defer c.sync()
	return c.Cursor.AfterLast()
}

func (c *referenceCursor) First() (bool, error) {
	defer c.sync()
	return c.Cursor.First()
}

func (c *referenceCursor) Last() (bool, error) {
	defer c.sync()
	return c.Cursor.Last()
}

func (c *referenceCursor) Next() (bool, error) {
	defer c.sync()
	return c.Cursor.Next()
}

func (c *referenceCursor) Previous() (bool, error) {
	defer c.sync()
	return c.Cursor.Previous()
}

// probe drops the sort response control when cur is empty and otherwise
// leaves cur before its first entry.
func probe(op *directory.OperationContext, cur cursor.Cursor[*ldap.Entry]) error {
	if err := cur.BeforeFirst(); err != nil {
		return err
	}
	ok, err := cur.Next()
	if err != nil {
		return err
	}
	if !ok {
		op.RemoveResponseControl(ldap.ControlTypeServerSideSortingResult)
		return nil
	}
	_, err = cur.Previous()
	return err
}

// SearchIterator runs req and wraps the result in an iterator that produces
// the protocol responses: one per entry and one per continuation reference,
// then a single done response.
//
// A failed search yields only the done response; its error is available
// from Err.
func (s *Session) SearchIterator(ctx context.Context, req *ldap.SearchRequest, opts ...Option) *SearchResponseIterator {
	cur, resp, op, err := s.runSearch(ctx, req, opts)
	it := &SearchResponseIterator{
		ctx:        ctx,
		cursor:     cur,
		done:       resp,
		err:        err,
		baseDN:     req.BaseDN,
		references: op.References,
		schema:     s.schema,
		metrics:    s.metrics,
		attributes: req.Attributes,
		typesOnly:  req.TypesOnly,
		sizeLimit:  req.SizeLimit,
	}
	if req.TimeLimit > 0 {
		it.deadline = time.Now().Add(time.Duration(req.TimeLimit) * time.Second)
	}
	if err != nil || !resp.Success() {
		it.finished = true
	}
	return it
}
