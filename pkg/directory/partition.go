package directory

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/google/uuid"
	"github.com/marmos91/dittoldap/internal/logger"
	"github.com/marmos91/dittoldap/pkg/cursor"
	"github.com/marmos91/dittoldap/pkg/metrics"
	"github.com/marmos91/dittoldap/pkg/schema"
)

// timestampLayout is the GeneralizedTime form written to timestamps.
const timestampLayout = "20060102150405Z0700"

// Partition applies LDAP semantics to the entries below one naming context.
//
// A partition owns every entry at or below its suffix. Writes are serialized
// by a partition-wide lock; reads run concurrently. Subtree renames touch
// several store keys and are not atomic with respect to store failures.
type Partition struct {
	suffix  name
	store   Store
	schema  *schema.Schema
	m       matcher
	metrics metrics.DirectoryMetrics

	mu      sync.RWMutex
	entries atomic.Int64

	// now is replaced in tests
	now func() time.Time
}

// NewPartition creates a partition for suffix backed by store.
//
// Parameters:
//   - suffix: Naming context, e.g. "dc=example,dc=com"
//   - store: Entry store; the partition takes ownership and closes it
//   - s: Schema used for attribute checks and matching
//   - m: Metrics sink, nil for no metrics
func NewPartition(ctx context.Context, suffix string, store Store, s *schema.Schema, m metrics.DirectoryMetrics) (*Partition, error) {
	n, err := parseName(suffix)
	if err != nil {
		return nil, err
	}
	if n.isRoot() {
		return nil, fmt.Errorf("partition suffix must not be empty")
	}
	if m == nil {
		m = metrics.NewNoopDirectoryMetrics()
	}

	p := &Partition{
		suffix:  n,
		store:   instrument(store, m),
		schema:  s,
		m:       matcher{schema: s},
		metrics: m,
		now:     time.Now,
	}

	count, err := store.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count entries of %s: %w", suffix, err)
	}
	p.entries.Store(count)
	m.SetEntries(n.str, count)
	return p, nil
}

// Suffix returns the naming context.
func (p *Partition) Suffix() string {
	return p.suffix.str
}

// Count returns the number of entries in the partition.
func (p *Partition) Count() int64 {
	return p.entries.Load()
}

// Close closes the underlying store.
func (p *Partition) Close() error {
	return p.store.Close()
}

// Contains reports whether dn lies at or below the suffix.
func (p *Partition) Contains(dn string) bool {
	n, err := parseName(dn)
	return err == nil && n.within(p.suffix)
}

func (p *Partition) record(op string, start time.Time, err error) {
	p.metrics.RecordOperation(p.suffix.str, op, time.Since(start), err)
}

func (p *Partition) adjustCount(delta int64) {
	p.metrics.SetEntries(p.suffix.str, p.entries.Add(delta))
}

// parentKey returns the store key of n's parent; the suffix entry is a root.
func (p *Partition) parentKey(n name) string {
	if n.norm == p.suffix.norm {
		return ""
	}
	return n.parent().norm
}

func (p *Partition) get(ctx context.Context, n name) (*ldap.Entry, error) {
	e, err := p.store.Get(ctx, n.norm)
	if errors.Is(err, ErrEntryNotFound) {
		return nil, noSuchObject(n.str, p.matched(ctx, n))
	}
	return e, err
}

func (p *Partition) exists(ctx context.Context, n name) (bool, error) {
	_, err := p.store.Get(ctx, n.norm)
	if errors.Is(err, ErrEntryNotFound) {
		return false, nil
	}
	return err == nil, err
}

// matched returns the DN of the deepest existing ancestor of n.
func (p *Partition) matched(ctx context.Context, n name) string {
	for cur := n.parent(); cur.within(p.suffix); cur = cur.parent() {
		if e, err := p.store.Get(ctx, cur.norm); err == nil {
			return e.DN
		}
		if cur.isRoot() {
			break
		}
	}
	return ""
}

func (p *Partition) target(dn string) (name, error) {
	n, err := parseName(dn)
	if err != nil {
		return name{}, err
	}
	if !n.within(p.suffix) {
		return name{}, noSuchObject(n.str, "")
	}
	return n, nil
}

func (p *Partition) timestamp() string {
	return p.now().UTC().Format(timestampLayout)
}

// ============================================================================
// Attribute checks
// ============================================================================

// attributeType resolves name, failing with undefinedAttributeType.
func (p *Partition) attributeType(dn, attr string) (*schema.AttributeType, error) {
	if p.schema == nil {
		return &schema.AttributeType{Names: []string{attr}}, nil
	}
	at, err := p.schema.AttributeType(attr)
	if err != nil {
		return nil, NewError(ldap.LDAPResultUndefinedAttributeType, dn, "undefined attribute type %s", attr)
	}
	return at, nil
}

// checkValues validates values the client supplies for at: syntax through
// the equality normalizer, and no duplicates.
func (p *Partition) checkValues(dn string, at *schema.AttributeType, values []string) error {
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		norm := v
		if p.schema != nil {
			var err error
			norm, err = p.schema.Normalize(at.Name(), v)
			if err != nil {
				return NewError(ldap.LDAPResultInvalidAttributeSyntax, dn, "invalid value for %s: %v", at.Name(), err)
			}
		}
		if _, dup := seen[norm]; dup {
			return NewError(ldap.LDAPResultAttributeOrValueExists, dn, "duplicate value %q for %s", v, at.Name())
		}
		seen[norm] = struct{}{}
	}
	return nil
}

// checkEntry enforces the constraints every stored entry must satisfy.
func (p *Partition) checkEntry(n name, e *ldap.Entry) error {
	if len(p.m.values(e, AttrObjectClass)) == 0 {
		return NewError(ldap.LDAPResultObjectClassViolation, n.str, "entry has no objectClass")
	}
	for _, a := range e.Attributes {
		at, err := p.attributeType(n.str, a.Name)
		if err != nil {
			return err
		}
		if at.SingleValue && len(a.Values) > 1 {
			return NewError(ldap.LDAPResultConstraintViolation, n.str, "%s is single-valued", at.Name())
		}
	}
	return nil
}

// rdnPresent reports whether every value of the entry's RDN is present.
func (p *Partition) rdnPresent(n name, e *ldap.Entry) bool {
	rdn := n.rdn()
	if rdn == nil {
		return true
	}
	for _, ava := range rdn.Attributes {
		if !p.m.hasValue(e, ava.Type, ava.Value) {
			return false
		}
	}
	return true
}

// ============================================================================
// Add / Delete
// ============================================================================

// Add stores a new entry. The RDN values are added to the entry when
// missing, and the operational attributes are set.
func (p *Partition) Add(ctx context.Context, op *AddContext) (err error) {
	start := time.Now()
	defer func() { p.record("add", start, err) }()

	n, err := p.target(op.Entry.DN)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	found, err := p.exists(ctx, n)
	if err != nil {
		return err
	}
	if found {
		return NewError(ldap.LDAPResultEntryAlreadyExists, n.str, "entry already exists")
	}
	if p.parentKey(n) != "" {
		found, err := p.exists(ctx, n.parent())
		if err != nil {
			return err
		}
		if !found {
			return noSuchObject(n.parent().str, p.matched(ctx, n.parent()))
		}
	}

	entry := &ldap.Entry{DN: n.str}
	for _, a := range op.Entry.Attributes {
		at, err := p.attributeType(n.str, a.Name)
		if err != nil {
			return err
		}
		if at.NoUserModification {
			return NewError(ldap.LDAPResultConstraintViolation, n.str, "%s is not user-modifiable", at.Name())
		}
		if len(a.Values) == 0 {
			return NewError(ldap.LDAPResultConstraintViolation, n.str, "%s has no values", at.Name())
		}
		if p.m.find(entry, a.Name) != nil {
			return NewError(ldap.LDAPResultAttributeOrValueExists, n.str, "%s given more than once", at.Name())
		}
		if err := p.checkValues(n.str, at, a.Values); err != nil {
			return err
		}
		entry.Attributes = append(entry.Attributes, newAttribute(a.Name, append([]string(nil), a.Values...)))
	}

	for _, ava := range n.rdn().Attributes {
		if !p.m.hasValue(entry, ava.Type, ava.Value) {
			if _, err := p.attributeType(n.str, ava.Type); err != nil {
				return err
			}
			p.m.set(entry, ava.Type, append(p.m.values(entry, ava.Type), ava.Value))
		}
	}
	if err := p.checkEntry(n, entry); err != nil {
		return err
	}

	now := p.timestamp()
	who := op.EffectivePrincipal().Name
	p.m.set(entry, AttrCreateTimestamp, []string{now})
	p.m.set(entry, AttrModifyTimestamp, []string{now})
	p.m.set(entry, AttrCreatorsName, []string{who})
	p.m.set(entry, AttrModifiersName, []string{who})
	p.m.set(entry, AttrEntryUUID, []string{uuid.NewString()})

	if err := p.store.Put(ctx, n.norm, p.parentKey(n), entry); err != nil {
		return p.storeError(n, err)
	}
	p.adjustCount(1)
	op.Entry = CloneEntry(entry)

	logger.Debug("partition %s: added %s", p.suffix.str, n.str)
	return nil
}

// Delete removes a leaf entry.
func (p *Partition) Delete(ctx context.Context, op *DeleteContext) (err error) {
	start := time.Now()
	defer func() { p.record("delete", start, err) }()

	n, err := p.target(op.DN)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	entry, err := p.get(ctx, n)
	if err != nil {
		return err
	}
	if err := p.store.Delete(ctx, n.norm); err != nil {
		return p.storeError(n, err)
	}
	p.adjustCount(-1)
	op.Entry = entry

	logger.Debug("partition %s: deleted %s", p.suffix.str, n.str)
	return nil
}

// storeError translates store sentinels into directory errors.
func (p *Partition) storeError(n name, err error) error {
	switch {
	case errors.Is(err, ErrHasChildren):
		return NewError(ldap.LDAPResultNotAllowedOnNonLeaf, n.str, "entry has subordinates")
	case errors.Is(err, ErrEntryNotFound):
		return noSuchObject(n.str, "")
	case errors.Is(err, ErrParentNotFound):
		return noSuchObject(n.parent().str, "")
	}
	return fmt.Errorf("store failure on %s: %w", n.str, err)
}

// ============================================================================
// Modify
// ============================================================================

// Modify applies the changes in order; either all of them are stored or none.
func (p *Partition) Modify(ctx context.Context, op *ModifyContext) (err error) {
	start := time.Now()
	defer func() { p.record("modify", start, err) }()

	n, err := p.target(op.DN)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	old, err := p.get(ctx, n)
	if err != nil {
		return err
	}
	entry := CloneEntry(old)

	for _, change := range op.Changes {
		if err := p.applyChange(n, entry, change); err != nil {
			return err
		}
	}

	if !p.rdnPresent(n, entry) {
		return NewError(ldap.LDAPResultNotAllowedOnRDN, n.str, "modification removes an RDN value")
	}
	if err := p.checkEntry(n, entry); err != nil {
		return err
	}

	p.m.set(entry, AttrModifyTimestamp, []string{p.timestamp()})
	p.m.set(entry, AttrModifiersName, []string{op.EffectivePrincipal().Name})

	if err := p.store.Put(ctx, n.norm, p.parentKey(n), entry); err != nil {
		return p.storeError(n, err)
	}
	op.OldEntry, op.Entry = old, CloneEntry(entry)
	return nil
}

func (p *Partition) applyChange(n name, entry *ldap.Entry, change ldap.Change) error {
	attr := change.Modification.Type
	values := change.Modification.Vals

	at, err := p.attributeType(n.str, attr)
	if err != nil {
		return err
	}
	if at.NoUserModification {
		return NewError(ldap.LDAPResultConstraintViolation, n.str, "%s is not user-modifiable", at.Name())
	}
	current := p.m.values(entry, attr)

	switch change.Operation {
	case ldap.AddAttribute:
		if len(values) == 0 {
			return NewError(ldap.LDAPResultProtocolError, n.str, "add of %s without values", at.Name())
		}
		if err := p.checkValues(n.str, at, values); err != nil {
			return err
		}
		for _, v := range values {
			if p.m.hasValue(entry, attr, v) {
				return NewError(ldap.LDAPResultAttributeOrValueExists, n.str, "%s already holds %q", at.Name(), v)
			}
		}
		p.m.set(entry, attr, append(append([]string(nil), current...), values...))

	case ldap.DeleteAttribute:
		if len(current) == 0 {
			return NewError(ldap.LDAPResultNoSuchAttribute, n.str, "no attribute %s", at.Name())
		}
		if len(values) == 0 {
			p.m.remove(entry, attr)
			return nil
		}
		remaining := append([]string(nil), current...)
		for _, v := range values {
			idx := -1
			for i, have := range remaining {
				if p.m.equal(attr, have, v) {
					idx = i
					break
				}
			}
			if idx < 0 {
				return NewError(ldap.LDAPResultNoSuchAttribute, n.str, "%s does not hold %q", at.Name(), v)
			}
			remaining = append(remaining[:idx], remaining[idx+1:]...)
		}
		if len(remaining) == 0 {
			p.m.remove(entry, attr)
		} else {
			p.m.set(entry, attr, remaining)
		}

	case ldap.ReplaceAttribute:
		if len(values) == 0 {
			p.m.remove(entry, attr)
			return nil
		}
		if err := p.checkValues(n.str, at, values); err != nil {
			return err
		}
		p.m.set(entry, attr, append([]string(nil), values...))

	case ldap.IncrementAttribute:
		if len(current) == 0 {
			return NewError(ldap.LDAPResultNoSuchAttribute, n.str, "no attribute %s", at.Name())
		}
		if len(values) != 1 {
			return NewError(ldap.LDAPResultProtocolError, n.str, "increment of %s needs exactly one value", at.Name())
		}
		delta, ok := new(big.Int).SetString(strings.TrimSpace(values[0]), 10)
		if !ok {
			return NewError(ldap.LDAPResultInvalidAttributeSyntax, n.str, "increment %q is not an integer", values[0])
		}
		next := make([]string, len(current))
		for i, v := range current {
			x, ok := new(big.Int).SetString(strings.TrimSpace(v), 10)
			if !ok {
				return NewError(ldap.LDAPResultConstraintViolation, n.str, "%s value %q is not an integer", at.Name(), v)
			}
			next[i] = x.Add(x, delta).String()
		}
		p.m.set(entry, attr, next)

	default:
		return NewError(ldap.LDAPResultProtocolError, n.str, "unknown modification type %d", change.Operation)
	}
	return nil
}

// ============================================================================
// Rename / Move
// ============================================================================

// Rename changes the RDN of an entry; descendants follow.
func (p *Partition) Rename(ctx context.Context, op *RenameContext) (err error) {
	start := time.Now()
	defer func() { p.record("rename", start, err) }()
	return p.modifyDN(ctx, &op.OperationContext, &op.DNChange)
}

// Move moves an entry and its subtree under a new superior.
func (p *Partition) Move(ctx context.Context, op *MoveContext) (err error) {
	start := time.Now()
	defer func() { p.record("move", start, err) }()
	return p.modifyDN(ctx, &op.OperationContext, &op.DNChange)
}

// MoveAndRename moves an entry under a new superior with a new RDN.
func (p *Partition) MoveAndRename(ctx context.Context, op *MoveAndRenameContext) (err error) {
	start := time.Now()
	defer func() { p.record("moveAndRename", start, err) }()
	return p.modifyDN(ctx, &op.OperationContext, &op.DNChange)
}

func (p *Partition) modifyDN(ctx context.Context, op *OperationContext, chg *DNChange) error {
	n, err := p.target(op.DN)
	if err != nil {
		return err
	}
	if n.norm == p.suffix.norm {
		return NewError(ldap.LDAPResultUnwillingToPerform, n.str, "cannot rename a naming context")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	old, err := p.get(ctx, n)
	if err != nil {
		return err
	}

	superior := n.parent()
	if chg.NewSuperior != "" {
		if superior, err = parseName(chg.NewSuperior); err != nil {
			return err
		}
		if !superior.within(p.suffix) {
			return NewError(ldap.LDAPResultAffectsMultipleDSAs, n.str, "new superior %s is outside %s", superior.str, p.suffix.str)
		}
		if superior.within(n) {
			return NewError(ldap.LDAPResultUnwillingToPerform, n.str, "cannot move an entry below itself")
		}
		if _, err := p.get(ctx, superior); err != nil {
			return err
		}
	}

	rdn := n.rdn()
	if chg.NewRDN != "" {
		if rdn, err = parseRDN(chg.NewRDN); err != nil {
			return err
		}
	}
	target := superior.child(rdn)

	if target.norm != n.norm {
		found, err := p.exists(ctx, target)
		if err != nil {
			return err
		}
		if found {
			return NewError(ldap.LDAPResultEntryAlreadyExists, target.str, "entry already exists")
		}
	}

	entry := CloneEntry(old)
	entry.DN = target.str
	if chg.NewRDN != "" {
		if err := p.applyRDN(n, target, entry, chg.DeleteOldRDN); err != nil {
			return err
		}
	}
	if err := p.checkEntry(target, entry); err != nil {
		return err
	}
	p.m.set(entry, AttrModifyTimestamp, []string{p.timestamp()})
	p.m.set(entry, AttrModifiersName, []string{op.EffectivePrincipal().Name})

	if err := p.relocate(ctx, n, target, entry); err != nil {
		return err
	}

	chg.NewDN = target.str
	chg.OldEntry, chg.Entry = old, CloneEntry(entry)
	logger.Debug("partition %s: %s renamed to %s", p.suffix.str, n.str, target.str)
	return nil
}

// applyRDN adds the new RDN values and, when asked, removes the old ones
// that are not part of the new RDN.
func (p *Partition) applyRDN(from, to name, entry *ldap.Entry, deleteOld bool) error {
	newRDN := to.rdn()
	for _, ava := range newRDN.Attributes {
		if _, err := p.attributeType(to.str, ava.Type); err != nil {
			return err
		}
		if !p.m.hasValue(entry, ava.Type, ava.Value) {
			p.m.set(entry, ava.Type, append(append([]string(nil), p.m.values(entry, ava.Type)...), ava.Value))
		}
	}
	if !deleteOld {
		return nil
	}
	for _, ava := range from.rdn().Attributes {
		kept := false
		for _, nv := range newRDN.Attributes {
			if p.m.same(ava.Type, nv.Type) && p.m.equal(ava.Type, ava.Value, nv.Value) {
				kept = true
				break
			}
		}
		if kept {
			continue
		}
		var remaining []string
		for _, v := range p.m.values(entry, ava.Type) {
			if !p.m.equal(ava.Type, v, ava.Value) {
				remaining = append(remaining, v)
			}
		}
		if len(remaining) == 0 {
			p.m.remove(entry, ava.Type)
		} else {
			p.m.set(entry, ava.Type, remaining)
		}
	}
	return nil
}

// relocate writes entry under to and moves every descendant of from along.
// New keys are written parents first, then old keys are removed leaves first.
func (p *Partition) relocate(ctx context.Context, from, to name, entry *ldap.Entry) error {
	subtree, err := p.descendants(ctx, from)
	if err != nil {
		return err
	}

	if err := p.store.Put(ctx, to.norm, p.parentKey(to), entry); err != nil {
		return p.storeError(to, err)
	}
	for _, d := range subtree {
		child, err := p.store.Get(ctx, d.norm)
		if err != nil {
			return p.storeError(d, err)
		}
		moved := d.rebase(from, to)
		child.DN = moved.str
		if err := p.store.Put(ctx, moved.norm, moved.parent().norm, child); err != nil {
			return p.storeError(moved, err)
		}
	}

	if to.norm == from.norm {
		return nil
	}
	for i := len(subtree) - 1; i >= 0; i-- {
		if err := p.store.Delete(ctx, subtree[i].norm); err != nil {
			return p.storeError(subtree[i], err)
		}
	}
	if err := p.store.Delete(ctx, from.norm); err != nil {
		return p.storeError(from, err)
	}
	return nil
}

// descendants lists the subtree below n in pre-order, n excluded.
func (p *Partition) descendants(ctx context.Context, n name) ([]name, error) {
	var out []name
	var walk func(ndn string) error
	walk = func(ndn string) error {
		children, err := p.store.Children(ctx, ndn)
		if err != nil {
			return err
		}
		for _, c := range children {
			child, err := p.store.Get(ctx, c)
			if err != nil {
				return err
			}
			cn, err := parseName(child.DN)
			if err != nil {
				return err
			}
			out = append(out, cn)
			if err := walk(c); err != nil {
				return err
			}
		}
		return nil
	}
	return out, walk(n.norm)
}

// ============================================================================
// Read operations
// ============================================================================

// Lookup returns a copy of the entry at dn.
func (p *Partition) Lookup(ctx context.Context, dn string) (*ldap.Entry, error) {
	n, err := p.target(dn)
	if err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.get(ctx, n)
}

// HasEntry reports whether dn exists.
func (p *Partition) HasEntry(ctx context.Context, dn string) (bool, error) {
	n, err := p.target(dn)
	if err != nil {
		if de, ok := AsError(err); ok && de.Code == ldap.LDAPResultNoSuchObject {
			return false, nil
		}
		return false, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.exists(ctx, n)
}

// Compare reports whether the entry at op.DN holds op.Value.
func (p *Partition) Compare(ctx context.Context, op *CompareContext) (matched bool, err error) {
	start := time.Now()
	defer func() { p.record("compare", start, err) }()

	entry, err := p.Lookup(ctx, op.DN)
	if err != nil {
		return false, err
	}
	if _, err := p.attributeType(op.DN, op.Attribute); err != nil {
		return false, err
	}
	if p.m.same(schema.EntryDN, op.Attribute) {
		return p.m.equal(schema.EntryDN, entry.DN, op.Value), nil
	}
	return p.m.hasValue(entry, op.Attribute, op.Value), nil
}

// ReferralHandler receives each referral entry a search steps over.
type ReferralHandler func(entry *ldap.Entry)

// Search returns a cursor over the entries in scope that match filter.
//
// The cursor walks the store lazily. With a non-nil onReferral, referral
// entries below base are not returned: they are passed to onReferral, whatever
// the filter, and nothing below them is visited. With a nil onReferral they
// are ordinary entries. The walk restarts when the cursor moves backward, so
// onReferral may see an entry more than once.
func (p *Partition) Search(ctx context.Context, base string, scope int, filter *Filter, onReferral ReferralHandler) (cursor.Cursor[*ldap.Entry], error) {
	w, err := p.walk(ctx, base, scope, filter, onReferral)
	if err != nil {
		return nil, err
	}
	return cursor.NewForward[*ldap.Entry](w), nil
}

func (p *Partition) walk(ctx context.Context, base string, scope int, filter *Filter, onReferral ReferralHandler) (w *treeWalk, err error) {
	start := time.Now()
	defer func() { p.record("search", start, err) }()

	n, err := p.target(base)
	if err != nil {
		return nil, err
	}
	switch scope {
	case ldap.ScopeBaseObject, ldap.ScopeSingleLevel, ldap.ScopeWholeSubtree, ldap.ScopeChildren:
	default:
		return nil, NewError(ldap.LDAPResultProtocolError, base, "invalid scope %d", scope)
	}
	if _, err := p.Lookup(ctx, base); err != nil {
		return nil, err
	}

	return &treeWalk{
		ctx:        ctx,
		p:          p,
		base:       n.norm,
		scope:      scope,
		filter:     filter,
		onReferral: onReferral,
	}, nil
}

// referral returns the closest referral entry at or above target, or nil.
func (p *Partition) referral(ctx context.Context, target name) (*ldap.Entry, name, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for cur := target; cur.within(p.suffix); cur = cur.parent() {
		e, err := p.store.Get(ctx, cur.norm)
		switch {
		case errors.Is(err, ErrEntryNotFound):
		case err != nil:
			return nil, name{}, err
		case IsReferral(e):
			return e, cur, nil
		}
		if cur.norm == p.suffix.norm {
			break
		}
	}
	return nil, name{}, nil
}

type walkItem struct {
	ndn   string
	depth int
}

// treeWalk is a depth-first walk of a partition subtree.
type treeWalk struct {
	ctx        context.Context
	p          *Partition
	base       string
	scope      int
	filter     *Filter
	onReferral ReferralHandler

	stack   []walkItem
	started bool
}

func (w *treeWalk) include(depth int) bool {
	switch w.scope {
	case ldap.ScopeBaseObject:
		return depth == 0
	case ldap.ScopeSingleLevel:
		return depth == 1
	case ldap.ScopeChildren:
		return depth >= 1
	default:
		return true
	}
}

func (w *treeWalk) expand(depth int) bool {
	switch w.scope {
	case ldap.ScopeBaseObject:
		return false
	case ldap.ScopeSingleLevel:
		return depth == 0
	default:
		return true
	}
}

func (w *treeWalk) Next() (*ldap.Entry, bool, error) {
	if !w.started {
		w.started = true
		w.stack = []walkItem{{ndn: w.base}}
	}

	for len(w.stack) > 0 {
		if err := w.ctx.Err(); err != nil {
			return nil, false, err
		}
		item := w.stack[len(w.stack)-1]
		w.stack = w.stack[:len(w.stack)-1]

		entry, children, err := w.load(item)
		if errors.Is(err, ErrEntryNotFound) {
			continue
		}
		if err != nil {
			return nil, false, err
		}

		if w.onReferral != nil && item.depth > 0 && IsReferral(entry) {
			logger.Debug("search: continuation reference at %s", entry.DN)
			w.onReferral(entry)
			continue
		}
		for i := len(children) - 1; i >= 0; i-- {
			w.stack = append(w.stack, walkItem{ndn: children[i], depth: item.depth + 1})
		}
		if w.include(item.depth) && (w.filter == nil || w.filter.Match(entry, w.p.schema)) {
			return entry, true, nil
		}
	}
	return nil, false, nil
}

func (w *treeWalk) load(item walkItem) (*ldap.Entry, []string, error) {
	w.p.mu.RLock()
	defer w.p.mu.RUnlock()

	entry, err := w.p.store.Get(w.ctx, item.ndn)
	if err != nil {
		return nil, nil, err
	}
	if !w.expand(item.depth) {
		return entry, nil, nil
	}
	children, err := w.p.store.Children(w.ctx, item.ndn)
	return entry, children, err
}

func (w *treeWalk) Reset() error {
	w.stack = nil
	w.started = false
	return nil
}

func (w *treeWalk) Close() error {
	w.stack = nil
	return nil
}
