// Package session dispatches client operations to the directory.
//
// A Session represents one client connection. Each public method builds
// exactly one operation context, applies the referral and change-log
// policies, forwards it to the OperationManager and copies the response
// controls the context accumulated onto the returned ResultResponse, whether
// or not the operation succeeded.
package session

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/marmos91/dittoldap/internal/logger"
	"github.com/marmos91/dittoldap/pkg/cursor"
	"github.com/marmos91/dittoldap/pkg/directory"
	"github.com/marmos91/dittoldap/pkg/metrics"
	"github.com/marmos91/dittoldap/pkg/schema"
	"github.com/marmos91/dittoldap/pkg/sorting/extsort"
)

// ErrSessionClosed is returned by every operation after Unbind.
var ErrSessionClosed = errors.New("session closed")

// ErrBusy is returned when the operation rate limit rejects an operation.
var ErrBusy = errors.New("operation rate limit exceeded")

// Limiter admits operations. *ratelimiter.RateLimiter implements it.
type Limiter interface {
	Allow() bool
	Wait(ctx context.Context) error
}

// Sorter orders a search result. *extsort.Sorter implements it.
type Sorter interface {
	Sort(ctx context.Context, in cursor.Cursor[*ldap.Entry], cmp extsort.CompareFunc) (cursor.Cursor[*ldap.Entry], error)
}

// Config holds the collaborators of a Session. Zero fields get defaults.
type Config struct {
	// Principal is the authenticated principal; nil means anonymous
	Principal *directory.Principal

	// ClientAddr and ServiceAddr are the connection endpoints, if known
	ClientAddr  net.Addr
	ServiceAddr net.Addr

	// Schema validates sort requests and projects entries (default: schema.Default())
	Schema *schema.Schema

	// Sorter builds sorted results (default: an extsort.Sorter in os.TempDir())
	Sorter Sorter

	// Metrics receives per-operation statistics (default: no-op)
	Metrics metrics.SessionMetrics

	// Limiter throttles operations; nil admits everything
	Limiter Limiter
}

// ResultResponse is the outcome reported to the client for one operation.
type ResultResponse struct {
	Code       uint16
	MatchedDN  string
	Diagnostic string

	// Referrals holds the LDAP URLs when Code is referral
	Referrals []string

	// References are the continuation references of a search: the referral
	// entries met in its scope. Complete once the search cursor is exhausted.
	References []directory.Reference

	// Controls are the response controls accumulated by the operation
	Controls []ldap.Control
}

// Success reports whether the operation completed with result code success.
func (r *ResultResponse) Success() bool {
	return r.Code == ldap.LDAPResultSuccess
}

// Option adjusts how a single operation is executed.
type Option func(*callOptions)

type callOptions struct {
	ignoreReferrals bool
	noLog           bool
	waitForLimiter  bool
}

func newCallOptions(opts []Option) callOptions {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// IgnoreReferrals treats referral entries as ordinary entries, as the
// ManageDsaIT control does.
func IgnoreReferrals() Option {
	return func(o *callOptions) { o.ignoreReferrals = true }
}

// NoLog keeps a change out of the change log.
func NoLog() Option {
	return func(o *callOptions) { o.noLog = true }
}

// WaitForLimiter makes the operation wait for the rate limiter instead of
// failing with busy. Meant for bulk loads run by the server itself.
func WaitForLimiter() Option {
	return func(o *callOptions) { o.waitForLimiter = true }
}

// Session is a client's view of the directory.
//
// Operations on one session may run concurrently; the manager is the only
// synchronization point for directory state.
type Session struct {
	manager directory.OperationManager
	schema  *schema.Schema
	sorter  Sorter
	metrics metrics.SessionMetrics
	limiter Limiter

	clientAddr  net.Addr
	serviceAddr net.Addr

	// anonymous is created once and reused for unauthenticated sessions.
	anonymous *directory.Principal

	mu         sync.RWMutex
	principal  *directory.Principal
	authorized *directory.Principal

	closed atomic.Bool
}

// New creates a session bound to manager.
func New(manager directory.OperationManager, cfg Config) *Session {
	s := &Session{
		manager:     manager,
		schema:      cfg.Schema,
		sorter:      cfg.Sorter,
		metrics:     cfg.Metrics,
		limiter:     cfg.Limiter,
		clientAddr:  cfg.ClientAddr,
		serviceAddr: cfg.ServiceAddr,
		anonymous:   directory.Anonymous(),
		principal:   cfg.Principal,
	}
	if s.schema == nil {
		s.schema = schema.Default()
	}
	if s.sorter == nil {
		s.sorter = extsort.New(extsort.Config{})
	}
	if s.metrics == nil {
		s.metrics = metrics.NewNoopSessionMetrics()
	}
	return s
}

// Principal returns the authenticated principal, or the session's anonymous
// principal.
func (s *Session) Principal() *directory.Principal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.principal == nil {
		return s.anonymous
	}
	return s.principal
}

// SetPrincipal replaces the authenticated principal (after a bind).
func (s *Session) SetPrincipal(p *directory.Principal) {
	s.mu.Lock()
	s.principal = p
	s.mu.Unlock()
}

// AuthorizedPrincipal returns the proxy-authorization override, if any.
func (s *Session) AuthorizedPrincipal() *directory.Principal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authorized
}

// SetAuthorizedPrincipal sets the principal operations run as. Nil clears
// the override.
func (s *Session) SetAuthorizedPrincipal(p *directory.Principal) {
	s.mu.Lock()
	s.authorized = p
	s.mu.Unlock()
}

// ClientAddr returns the client endpoint, or nil.
func (s *Session) ClientAddr() net.Addr { return s.clientAddr }

// ServiceAddr returns the server endpoint, or nil.
func (s *Session) ServiceAddr() net.Addr { return s.serviceAddr }

// Closed reports whether the session has been unbound.
func (s *Session) Closed() bool { return s.closed.Load() }

// ============================================================================
// Context preparation and result mapping
// ============================================================================

// prepare stamps the session identity and the per-call policies on op.
func (s *Session) prepare(op *directory.OperationContext, opts []Option) {
	o := newCallOptions(opts)

	op.Principal = s.Principal()
	op.Authorized = s.AuthorizedPrincipal()

	if o.ignoreReferrals || op.Control(ldap.ControlTypeManageDsaIT) != nil {
		op.SetReferralPolicy(directory.ReferralIgnore)
	} else {
		op.SetReferralPolicy(directory.ReferralThrow)
	}
	op.SetLogChange(!o.noLog)
}

// result builds the response for an executed operation. The controls are
// copied from op in every case.
func result(op *directory.OperationContext, out directory.Outcome, err error) *ResultResponse {
	resp := &ResultResponse{Controls: op.ResponseControls(), References: op.References()}
	switch {
	case err != nil:
		resp.Code = directory.ResultCode(err)
		resp.MatchedDN = directory.MatchedDN(err)
		resp.Diagnostic = err.Error()
	case out.IsReferral():
		resp.Code = ldap.LDAPResultReferral
		resp.MatchedDN = out.Referral.MatchedDN
		resp.Referrals = append([]string(nil), out.Referral.URLs...)
	default:
		resp.Code = ldap.LDAPResultSuccess
	}
	return resp
}

func (s *Session) record(kind directory.OperationKind, resp *ResultResponse, start time.Time) {
	s.metrics.RecordOperation(kind.String(), resp.Code, time.Since(start))
	if resp.Code == ldap.LDAPResultReferral {
		s.metrics.RecordReferral(kind.String())
	}
}

// admit returns a non-nil response when the operation must not run: the
// session is closed or the rate limit is exhausted. With WaitForLimiter the
// operation waits for a token instead.
func (s *Session) admit(ctx context.Context, opts []Option) (*ResultResponse, error) {
	if s.closed.Load() {
		return &ResultResponse{Code: ldap.LDAPResultUnwillingToPerform, Diagnostic: ErrSessionClosed.Error()}, ErrSessionClosed
	}
	if s.limiter == nil {
		return nil, nil
	}
	if newCallOptions(opts).waitForLimiter {
		if err := s.limiter.Wait(ctx); err != nil {
			return &ResultResponse{Code: directory.ResultCode(err), Diagnostic: err.Error()}, err
		}
		return nil, nil
	}
	if !s.limiter.Allow() {
		return &ResultResponse{Code: ldap.LDAPResultBusy, Diagnostic: ErrBusy.Error()}, ErrBusy
	}
	return nil, nil
}

// mutate runs a mutating operation and maps its outcome. The error returned
// is exactly the one the manager produced.
func (s *Session) mutate(ctx context.Context, op directory.Operation, opts []Option, exec func() (directory.Outcome, error)) (*ResultResponse, error) {
	if resp, err := s.admit(ctx, opts); resp != nil {
		return resp, err
	}
	start := time.Now()
	base := op.Base()
	s.prepare(base, opts)

	out, err := exec()
	resp := result(base, out, err)
	s.record(op.Kind(), resp, start)
	if err != nil {
		logger.Debug("session: %s %q failed: %v", op.Kind(), base.DN, err)
	}
	return resp, err
}

// ============================================================================
// Mutating operations
// ============================================================================

// Add creates the entry described by req.
func (s *Session) Add(ctx context.Context, req *ldap.AddRequest, opts ...Option) (*ResultResponse, error) {
	entry := &ldap.Entry{DN: req.DN}
	for _, a := range req.Attributes {
		entry.Attributes = append(entry.Attributes, ldap.NewEntryAttribute(a.Type, a.Vals))
	}
	op := directory.NewAddContext(nil, entry, req.Controls)
	return s.mutate(ctx, op, opts, func() (directory.Outcome, error) {
		return s.manager.Add(ctx, op)
	})
}

// Delete removes a leaf entry.
func (s *Session) Delete(ctx context.Context, req *ldap.DelRequest, opts ...Option) (*ResultResponse, error) {
	op := directory.NewDeleteContext(nil, req.DN, req.Controls)
	return s.mutate(ctx, op, opts, func() (directory.Outcome, error) {
		return s.manager.Delete(ctx, op)
	})
}

// Modify applies req's changes atomically.
func (s *Session) Modify(ctx context.Context, req *ldap.ModifyRequest, opts ...Option) (*ResultResponse, error) {
	op := directory.NewModifyContext(nil, req.DN, req.Changes, req.Controls)
	return s.mutate(ctx, op, opts, func() (directory.Outcome, error) {
		return s.manager.Modify(ctx, op)
	})
}

// Rename changes the RDN of an entry in place.
func (s *Session) Rename(ctx context.Context, dn, newRDN string, deleteOldRDN bool, controls []ldap.Control, opts ...Option) (*ResultResponse, error) {
	op := directory.NewRenameContext(nil, dn, newRDN, deleteOldRDN, controls)
	return s.mutate(ctx, op, opts, func() (directory.Outcome, error) {
		return s.manager.Rename(ctx, op)
	})
}

// Move gives an entry a new superior, keeping its RDN.
func (s *Session) Move(ctx context.Context, dn, newSuperior string, controls []ldap.Control, opts ...Option) (*ResultResponse, error) {
	op := directory.NewMoveContext(nil, dn, newSuperior, controls)
	return s.mutate(ctx, op, opts, func() (directory.Outcome, error) {
		return s.manager.Move(ctx, op)
	})
}

// MoveAndRename gives an entry a new superior and a new RDN.
func (s *Session) MoveAndRename(ctx context.Context, dn, newSuperior, newRDN string, deleteOldRDN bool, controls []ldap.Control, opts ...Option) (*ResultResponse, error) {
	op := directory.NewMoveAndRenameContext(nil, dn, newSuperior, newRDN, deleteOldRDN, controls)
	return s.mutate(ctx, op, opts, func() (directory.Outcome, error) {
		return s.manager.MoveAndRename(ctx, op)
	})
}

// ModifyDN dispatches a modify DN request to Rename, Move or MoveAndRename.
//
// A request without a new superior is a rename. A request with a new
// superior whose RDN is empty or equal to the current one is a move.
func (s *Session) ModifyDN(ctx context.Context, req *ldap.ModifyDNRequest, opts ...Option) (*ResultResponse, error) {
	if req.NewSuperior == "" {
		return s.Rename(ctx, req.DN, req.NewRDN, req.DeleteOldRDN, req.Controls, opts...)
	}
	if req.NewRDN == "" || sameRDN(req.DN, req.NewRDN) {
		return s.Move(ctx, req.DN, req.NewSuperior, req.Controls, opts...)
	}
	return s.MoveAndRename(ctx, req.DN, req.NewSuperior, req.NewRDN, req.DeleteOldRDN, req.Controls, opts...)
}

func sameRDN(dn, rdn string) bool {
	current, err := ldap.ParseDN(dn)
	if err != nil || len(current.RDNs) == 0 {
		return false
	}
	next, err := ldap.ParseDN(rdn)
	if err != nil || len(next.RDNs) != 1 {
		return false
	}
	return current.RDNs[0].Equal(next.RDNs[0])
}

// ============================================================================
// Read operations
// ============================================================================

// Compare tests an attribute value assertion. The response code is
// compareTrue or compareFalse on success.
func (s *Session) Compare(ctx context.Context, req *ldap.CompareRequest, opts ...Option) (*ResultResponse, error) {
	if resp, err := s.admit(ctx, opts); resp != nil {
		return resp, err
	}
	start := time.Now()
	op := directory.NewCompareContext(nil, req.DN, req.Attribute, req.Value)
	s.prepare(&op.OperationContext, opts)

	matched, out, err := s.manager.Compare(ctx, op)
	resp := result(&op.OperationContext, out, err)
	if resp.Success() {
		resp.Code = ldap.LDAPResultCompareFalse
		if matched {
			resp.Code = ldap.LDAPResultCompareTrue
		}
	}
	s.record(op.Kind(), resp, start)
	return resp, err
}

// Lookup reads a single entry projected to attributes.
func (s *Session) Lookup(ctx context.Context, dn string, attributes []string, opts ...Option) (*ldap.Entry, *ResultResponse, error) {
	if resp, err := s.admit(ctx, opts); resp != nil {
		return nil, resp, err
	}
	start := time.Now()
	op := directory.NewLookupContext(nil, dn, attributes, nil)
	s.prepare(&op.OperationContext, opts)

	entry, out, err := s.manager.Lookup(ctx, op)
	resp := result(&op.OperationContext, out, err)
	s.record(op.Kind(), resp, start)
	if err != nil || out.IsReferral() {
		return nil, resp, err
	}
	return entry, resp, nil
}

// HasEntry reports whether dn exists. Referrals are not followed.
func (s *Session) HasEntry(ctx context.Context, dn string) (bool, error) {
	if _, err := s.admit(ctx, nil); err != nil {
		return false, err
	}
	op := directory.NewHasEntryContext(nil, dn)
	s.prepare(&op.OperationContext, nil)
	return s.manager.HasEntry(ctx, op)
}

// List returns the immediate children of dn. The cursor is empty, never
// nil, when the response is not a success.
func (s *Session) List(ctx context.Context, dn string, opts ...Option) (cursor.Cursor[*ldap.Entry], *ResultResponse, error) {
	if resp, err := s.admit(ctx, opts); resp != nil {
		return cursor.Empty[*ldap.Entry](), resp, err
	}
	start := time.Now()
	op := directory.NewListContext(nil, dn, nil)
	s.prepare(&op.OperationContext, opts)

	cur, out, err := s.manager.List(ctx, op)
	resp := result(&op.OperationContext, out, err)
	s.record(op.Kind(), resp, start)
	if err != nil || out.IsReferral() || cur == nil {
		return cursor.Empty[*ldap.Entry](), resp, err
	}
	return cur, resp, nil
}

// Unbind ends the session. Later operations fail with ErrSessionClosed.
func (s *Session) Unbind(ctx context.Context) error {
	if s.closed.Swap(true) {
		return nil
	}
	start := time.Now()
	op := directory.NewUnbindContext(nil)
	s.prepare(&op.OperationContext, nil)

	err := s.manager.Unbind(ctx, op)
	s.record(op.Kind(), result(&op.OperationContext, directory.Success, err), start)
	logger.Debug("session: unbind from %v", s.clientAddr)
	return err
}
