package directory

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/go-ldap/ldap/v3"
	"github.com/marmos91/dittoldap/internal/logger"
	"github.com/marmos91/dittoldap/pkg/cursor"
	"github.com/marmos91/dittoldap/pkg/schema"
)

// Nexus is the OperationManager of the server. It owns the partitions,
// routes every operation to the partition holding its target and serves the
// entries no partition holds: the root DSE and the subschema subentry.
//
// Mutating operations run through the registered interceptors. Under the
// throw referral policy, an operation whose target lies at or below a
// referral entry yields a Referral outcome instead of executing.
//
// Example usage:
//
//	nexus := NewNexus(schema.Default())
//	nexus.Use(NewChangeLog(1024))
//	nexus.AddPartition(partition)
//
//	outcome, err := nexus.Add(ctx, addCtx)
type Nexus struct {
	schema    *schema.Schema
	subschema *schema.SubschemaCache
	m         matcher

	mu           sync.RWMutex
	partitions   map[string]*Partition // key: normalized suffix
	interceptors []Interceptor
}

var _ OperationManager = (*Nexus)(nil)

// NewNexus creates a nexus without partitions.
func NewNexus(s *schema.Schema) *Nexus {
	return &Nexus{
		schema:     s,
		subschema:  schema.NewSubschemaCache(s),
		m:          matcher{schema: s},
		partitions: make(map[string]*Partition),
	}
}

// Use appends interceptors to the chain.
func (n *Nexus) Use(interceptors ...Interceptor) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.interceptors = append(n.interceptors, interceptors...)
	for _, ic := range interceptors {
		logger.Debug("nexus: interceptor %s registered", ic.Name())
	}
}

// AddPartition registers p. Returns an error if a partition with the same
// suffix is already registered.
func (n *Nexus) AddPartition(p *Partition) error {
	if p == nil {
		return fmt.Errorf("cannot register nil partition")
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if _, exists := n.partitions[p.suffix.norm]; exists {
		return fmt.Errorf("partition %q already registered", p.Suffix())
	}
	n.partitions[p.suffix.norm] = p
	logger.Info("nexus: partition %s registered (%d entries)", p.Suffix(), p.Count())
	return nil
}

// RemovePartition unregisters and closes the partition for suffix.
func (n *Nexus) RemovePartition(suffix string) error {
	sn, err := parseName(suffix)
	if err != nil {
		return err
	}

	n.mu.Lock()
	p, exists := n.partitions[sn.norm]
	delete(n.partitions, sn.norm)
	n.mu.Unlock()

	if !exists {
		return fmt.Errorf("partition %q not registered", suffix)
	}
	return p.Close()
}

// Partitions returns the registered suffixes, sorted.
func (n *Nexus) Partitions() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()

	suffixes := make([]string, 0, len(n.partitions))
	for _, p := range n.partitions {
		suffixes = append(suffixes, p.Suffix())
	}
	sort.Strings(suffixes)
	return suffixes
}

// Subschema returns the subschema subentry cache.
func (n *Nexus) Subschema() *schema.SubschemaCache {
	return n.subschema
}

// Close closes every partition.
func (n *Nexus) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	var errs []error
	for key, p := range n.partitions {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("partition %s: %w", p.Suffix(), err))
		}
		delete(n.partitions, key)
	}
	return errors.Join(errs...)
}

// ============================================================================
// Routing
// ============================================================================

// partition returns the partition with the longest suffix containing target.
func (n *Nexus) partition(target name) *Partition {
	n.mu.RLock()
	defer n.mu.RUnlock()

	var best *Partition
	for _, p := range n.partitions {
		if target.within(p.suffix) && (best == nil || len(p.suffix.rdns) > len(best.suffix.rdns)) {
			best = p
		}
	}
	return best
}

func (n *Nexus) sortedPartitions() []*Partition {
	n.mu.RLock()
	defer n.mu.RUnlock()

	out := make([]*Partition, 0, len(n.partitions))
	for _, p := range n.partitions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].suffix.norm < out[j].suffix.norm })
	return out
}

func (n *Nexus) handler(final Handler) Handler {
	n.mu.RLock()
	interceptors := append([]Interceptor(nil), n.interceptors...)
	n.mu.RUnlock()
	return chain(interceptors, final)
}

// resolve checks the context and locates the partition for dn.
func (n *Nexus) resolve(op *OperationContext, dn string) (*Partition, name, error) {
	if !op.Ready() {
		return nil, name{}, NewError(ldap.LDAPResultOther, dn, "operation context is missing its referral or change log policy")
	}
	target, err := parseName(dn)
	if err != nil {
		return nil, name{}, err
	}
	if target.isRoot() || isSubschema(target) {
		return nil, target, nil
	}
	p := n.partition(target)
	if p == nil {
		return nil, target, noSuchObject(target.str, "")
	}
	return p, target, nil
}

func isSubschema(n name) bool {
	return len(n.rdns) == 1 && n.rdns[0] == schema.SubschemaDN
}

// checkReferral returns a Referral outcome when the policy is throw and
// target lies at or below a referral entry.
func (n *Nexus) checkReferral(ctx context.Context, op *OperationContext, p *Partition, target name) (Outcome, error) {
	if op.IgnoreReferral() {
		return Success, nil
	}
	entry, at, err := p.referral(ctx, target)
	if err != nil || entry == nil {
		return Success, err
	}
	urls := referralURLs(n.m.values(entry, AttrRef), target, at)
	logger.Debug("nexus: %s is below referral %s", target.str, entry.DN)
	return Referred(entry.DN, urls), nil
}

// referralURLs rewrites the ref values of the referral entry at so that they
// name target: the RDNs of target below the referral are prepended to the DN
// of each LDAP URL.
func referralURLs(refs []string, target, at name) []string {
	rest := target.dn.RDNs[:len(target.rdns)-len(at.rdns)]
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		u, err := url.Parse(ref)
		if err != nil || len(rest) == 0 {
			out = append(out, ref)
			continue
		}
		base, err := ldap.ParseDN(strings.TrimPrefix(u.Path, "/"))
		if err != nil || len(base.RDNs) == 0 {
			out = append(out, ref)
			continue
		}
		rdns := append(append([]*ldap.RelativeDN(nil), rest...), base.RDNs...)
		u.Path = "/" + nameOf(&ldap.DN{RDNs: rdns}).str
		u.RawPath = ""
		out = append(out, u.String())
	}
	return out
}

// mutate runs a mutating operation on the partition holding dn.
func (n *Nexus) mutate(ctx context.Context, op Operation, dn string, exec func(p *Partition) error) (Outcome, error) {
	base := op.Base()
	p, target, err := n.resolve(base, dn)
	if err != nil {
		return Success, err
	}
	if p == nil {
		return Success, NewError(ldap.LDAPResultUnwillingToPerform, target.str, "entry cannot be modified")
	}

	h := n.handler(func(ctx context.Context, op Operation) (Outcome, error) {
		if out, err := n.checkReferral(ctx, base, p, target); err != nil || out.IsReferral() {
			return out, err
		}
		return Success, exec(p)
	})
	return h(ctx, op)
}

// ============================================================================
// OperationManager
// ============================================================================

// Add adds op.Entry.
func (n *Nexus) Add(ctx context.Context, op *AddContext) (Outcome, error) {
	return n.mutate(ctx, op, op.DN, func(p *Partition) error {
		return p.Add(ctx, op)
	})
}

// Delete removes a leaf entry.
func (n *Nexus) Delete(ctx context.Context, op *DeleteContext) (Outcome, error) {
	return n.mutate(ctx, op, op.DN, func(p *Partition) error {
		return p.Delete(ctx, op)
	})
}

// Modify applies op.Changes.
func (n *Nexus) Modify(ctx context.Context, op *ModifyContext) (Outcome, error) {
	return n.mutate(ctx, op, op.DN, func(p *Partition) error {
		return p.Modify(ctx, op)
	})
}

// Rename changes the RDN of an entry.
func (n *Nexus) Rename(ctx context.Context, op *RenameContext) (Outcome, error) {
	return n.mutate(ctx, op, op.DN, func(p *Partition) error {
		return p.Rename(ctx, op)
	})
}

// Move moves an entry under a new superior.
func (n *Nexus) Move(ctx context.Context, op *MoveContext) (Outcome, error) {
	return n.mutate(ctx, op, op.DN, func(p *Partition) error {
		if err := n.checkSuperior(ctx, &op.OperationContext, p, op.NewSuperior); err != nil {
			return err
		}
		return p.Move(ctx, op)
	})
}

// MoveAndRename moves an entry under a new superior with a new RDN.
func (n *Nexus) MoveAndRename(ctx context.Context, op *MoveAndRenameContext) (Outcome, error) {
	return n.mutate(ctx, op, op.DN, func(p *Partition) error {
		if err := n.checkSuperior(ctx, &op.OperationContext, p, op.NewSuperior); err != nil {
			return err
		}
		return p.MoveAndRename(ctx, op)
	})
}

// checkSuperior rejects moves into another partition or below a referral.
func (n *Nexus) checkSuperior(ctx context.Context, op *OperationContext, p *Partition, newSuperior string) error {
	sup, err := parseName(newSuperior)
	if err != nil {
		return err
	}
	if n.partition(sup) != p {
		return NewError(ldap.LDAPResultAffectsMultipleDSAs, op.DN, "new superior %s belongs to another naming context", sup.str)
	}
	if op.IgnoreReferral() {
		return nil
	}
	if entry, _, err := p.referral(ctx, sup); err != nil {
		return err
	} else if entry != nil {
		return NewError(ldap.LDAPResultAffectsMultipleDSAs, op.DN, "new superior %s is below referral %s", sup.str, entry.DN)
	}
	return nil
}

// Compare reports whether the target holds op.Value for op.Attribute.
func (n *Nexus) Compare(ctx context.Context, op *CompareContext) (bool, Outcome, error) {
	p, target, err := n.resolve(&op.OperationContext, op.DN)
	if err != nil {
		return false, Success, err
	}
	if p == nil {
		entry := n.special(target)
		if entry == nil {
			return false, Success, noSuchObject(target.str, "")
		}
		return n.m.hasValue(entry, op.Attribute, op.Value), Success, nil
	}
	if out, err := n.checkReferral(ctx, &op.OperationContext, p, target); err != nil || out.IsReferral() {
		return false, out, err
	}
	matched, err := p.Compare(ctx, op)
	return matched, Success, err
}

// Lookup returns the target projected to op.Attributes.
func (n *Nexus) Lookup(ctx context.Context, op *LookupContext) (*ldap.Entry, Outcome, error) {
	p, target, err := n.resolve(&op.OperationContext, op.DN)
	if err != nil {
		return nil, Success, err
	}
	if p == nil {
		entry := n.special(target)
		if entry == nil {
			return nil, Success, noSuchObject(target.str, "")
		}
		return Project(entry, op.Attributes, false, n.schema), Success, nil
	}
	if out, err := n.checkReferral(ctx, &op.OperationContext, p, target); err != nil || out.IsReferral() {
		return nil, out, err
	}
	entry, err := p.Lookup(ctx, target.str)
	if err != nil {
		return nil, Success, err
	}
	return Project(entry, op.Attributes, false, n.schema), Success, nil
}

// HasEntry reports whether the target exists.
func (n *Nexus) HasEntry(ctx context.Context, op *HasEntryContext) (bool, error) {
	p, target, err := n.resolve(&op.OperationContext, op.DN)
	if err != nil {
		if de, ok := AsError(err); ok && de.Code == ldap.LDAPResultNoSuchObject {
			return false, nil
		}
		return false, err
	}
	if p == nil {
		return true, nil
	}
	return p.HasEntry(ctx, target.str)
}

// List returns the immediate children of the target.
func (n *Nexus) List(ctx context.Context, op *ListContext) (cursor.Cursor[*ldap.Entry], Outcome, error) {
	return n.search(ctx, &op.OperationContext, ldap.ScopeSingleLevel, nil)
}

// Search returns the entries in scope matching op.Filter.
func (n *Nexus) Search(ctx context.Context, op *SearchContext) (cursor.Cursor[*ldap.Entry], Outcome, error) {
	filter, err := CompileFilter(op.Filter)
	if err != nil {
		return nil, Success, err
	}
	if op.SyncRepl {
		logger.Debug("nexus: content synchronization search on %q", op.DN)
	}
	return n.search(ctx, &op.OperationContext, op.Scope, filter)
}

func (n *Nexus) search(ctx context.Context, op *OperationContext, scope int, filter *Filter) (cursor.Cursor[*ldap.Entry], Outcome, error) {
	p, target, err := n.resolve(op, op.DN)
	if err != nil {
		return nil, Success, err
	}
	if p != nil {
		if out, err := n.checkReferral(ctx, op, p, target); err != nil || out.IsReferral() {
			return nil, out, err
		}
		cur, err := p.Search(ctx, target.str, scope, filter, n.referenceHandler(op))
		return cur, Success, err
	}

	if isSubschema(target) {
		return n.specialSearch(n.subschema.Entry(), scope, filter), Success, nil
	}
	if scope == ldap.ScopeBaseObject {
		return n.specialSearch(n.rootDSE(), scope, filter), Success, nil
	}

	// Below the root DSE: every naming context, as if it were a child.
	var sources []cursor.Source[*ldap.Entry]
	for _, p := range n.sortedPartitions() {
		partScope := ldap.ScopeWholeSubtree
		if scope == ldap.ScopeSingleLevel {
			partScope = ldap.ScopeBaseObject
		}
		w, err := p.walk(ctx, p.Suffix(), partScope, filter, n.referenceHandler(op))
		if err != nil {
			if ResultCode(err) == ldap.LDAPResultNoSuchObject {
				continue
			}
			return nil, Success, err
		}
		sources = append(sources, w)
	}
	return cursor.NewForward[*ldap.Entry](&concatSource{sources: sources}), Success, nil
}

// referenceHandler records the referral entries a search steps over as
// continuation references on op. It is nil when referrals are ignored.
func (n *Nexus) referenceHandler(op *OperationContext) ReferralHandler {
	if op.IgnoreReferral() {
		return nil
	}
	return func(entry *ldap.Entry) {
		op.AddReference(Reference{
			DN:   entry.DN,
			URLs: continuationURLs(n.m.values(entry, AttrRef), entry.DN),
		})
	}
}

// continuationURLs sets dn as the base of the ref URLs that name no DN.
func continuationURLs(refs []string, dn string) []string {
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		u, err := url.Parse(ref)
		if err != nil || strings.Trim(u.Path, "/") != "" {
			out = append(out, ref)
			continue
		}
		u.Path = "/" + dn
		u.RawPath = ""
		out = append(out, u.String())
	}
	return out
}

// specialSearch evaluates a search on the root DSE or the subschema entry,
// neither of which has children.
func (n *Nexus) specialSearch(entry *ldap.Entry, scope int, filter *Filter) cursor.Cursor[*ldap.Entry] {
	if scope == ldap.ScopeSingleLevel || scope == ldap.ScopeChildren {
		return cursor.Empty[*ldap.Entry]()
	}
	if filter != nil && !filter.Match(entry, n.schema) {
		return cursor.Empty[*ldap.Entry]()
	}
	return cursor.NewList([]*ldap.Entry{CloneEntry(entry)}, nil)
}

// Unbind ends a session. The nexus keeps no per-session state.
func (n *Nexus) Unbind(ctx context.Context, op *UnbindContext) error {
	logger.Debug("nexus: unbind from %s", op.EffectivePrincipal())
	return nil
}

// special returns the root DSE or the subschema subentry for target.
func (n *Nexus) special(target name) *ldap.Entry {
	switch {
	case target.isRoot():
		return n.rootDSE()
	case isSubschema(target):
		return n.subschema.Entry()
	}
	return nil
}

// rootDSE renders the root DSE.
func (n *Nexus) rootDSE() *ldap.Entry {
	return ldap.NewEntry("", map[string][]string{
		AttrObjectClass:        {"top", "extensibleObject"},
		"namingContexts":       n.Partitions(),
		AttrSubschemaSubentry:  {schema.SubschemaDN},
		"supportedLDAPVersion": {"3"},
		"supportedControl": {
			ldap.ControlTypeManageDsaIT,
			ldap.ControlTypeServerSideSorting,
		},
		"vendorName": {"DittoLDAP"},
	})
}

// concatSource reads its sources one after the other.
type concatSource struct {
	sources []cursor.Source[*ldap.Entry]
	idx     int
}

func (c *concatSource) Next() (*ldap.Entry, bool, error) {
	for c.idx < len(c.sources) {
		e, ok, err := c.sources[c.idx].Next()
		if err != nil || ok {
			return e, ok, err
		}
		c.idx++
	}
	return nil, false, nil
}

func (c *concatSource) Reset() error {
	for _, s := range c.sources {
		if err := s.Reset(); err != nil {
			return err
		}
	}
	c.idx = 0
	return nil
}

func (c *concatSource) Close() error {
	var errs []error
	for _, s := range c.sources {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}
