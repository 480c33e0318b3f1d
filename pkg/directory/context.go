package directory

import (
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// ReferralPolicy tells the nexus what to do with referral entries met while
// resolving a target.
type ReferralPolicy int

const (
	// ReferralUnset is the zero value; executing a context in this state fails.
	ReferralUnset ReferralPolicy = iota

	// ReferralIgnore treats referral entries as ordinary entries (ManageDsaIT).
	ReferralIgnore

	// ReferralThrow turns referral entries into a Referral outcome.
	ReferralThrow
)

func (p ReferralPolicy) String() string {
	switch p {
	case ReferralIgnore:
		return "ignore"
	case ReferralThrow:
		return "throw"
	default:
		return "unset"
	}
}

// ChangeLogPolicy tells the change log interceptor whether to record an
// operation.
type ChangeLogPolicy int

const (
	// ChangeLogUnset is the zero value; executing a context in this state fails.
	ChangeLogUnset ChangeLogPolicy = iota
	ChangeLogRecord
	ChangeLogSkip
)

// OperationKind identifies the operation a context describes.
type OperationKind int

const (
	OpAdd OperationKind = iota
	OpDelete
	OpModify
	OpRename
	OpMove
	OpMoveAndRename
	OpCompare
	OpLookup
	OpHasEntry
	OpList
	OpSearch
	OpUnbind
)

var operationNames = map[OperationKind]string{
	OpAdd:           "add",
	OpDelete:        "delete",
	OpModify:        "modify",
	OpRename:        "rename",
	OpMove:          "move",
	OpMoveAndRename: "moveAndRename",
	OpCompare:       "compare",
	OpLookup:        "lookup",
	OpHasEntry:      "hasEntry",
	OpList:          "list",
	OpSearch:        "search",
	OpUnbind:        "unbind",
}

func (k OperationKind) String() string {
	if s, ok := operationNames[k]; ok {
		return s
	}
	return "unknown"
}

// Mutating reports whether the operation changes the directory.
func (k OperationKind) Mutating() bool {
	return k <= OpMoveAndRename
}

// OperationContext carries the state shared by every operation: who runs it,
// what it targets, the referral and change-log policies, and the response
// controls accumulated while it executes.
//
// Contexts are created by the session for a single call and are not safe for
// concurrent use.
type OperationContext struct {
	// Principal is the session's authenticated (or anonymous) principal
	Principal *Principal

	// Authorized overrides Principal for this operation (proxy authorization)
	Authorized *Principal

	// DN is the target of the operation as sent by the client
	DN string

	// Controls are the request controls
	Controls []ldap.Control

	// Time is when the operation started
	Time time.Time

	referralPolicy   ReferralPolicy
	changeLogPolicy  ChangeLogPolicy
	responseControls []ldap.Control
	references       []Reference
}

func newOperationContext(principal *Principal, dn string, controls []ldap.Control) OperationContext {
	return OperationContext{
		Principal: principal,
		DN:        dn,
		Controls:  controls,
		Time:      time.Now().UTC(),
	}
}

// Base returns the context itself; it lets every per-operation context
// satisfy Operation through embedding.
func (c *OperationContext) Base() *OperationContext {
	return c
}

// EffectivePrincipal returns the authorized principal when set, otherwise the
// authenticated one.
func (c *OperationContext) EffectivePrincipal() *Principal {
	if c.Authorized != nil {
		return c.Authorized
	}
	if c.Principal != nil {
		return c.Principal
	}
	return Anonymous()
}

// SetReferralPolicy sets how referral entries are handled.
func (c *OperationContext) SetReferralPolicy(p ReferralPolicy) {
	c.referralPolicy = p
}

// ReferralPolicy returns the referral policy.
func (c *OperationContext) ReferralPolicy() ReferralPolicy {
	return c.referralPolicy
}

// IgnoreReferral reports whether referral entries are treated as plain entries.
func (c *OperationContext) IgnoreReferral() bool {
	return c.referralPolicy == ReferralIgnore
}

// SetLogChange sets whether a successful change is written to the change log.
func (c *OperationContext) SetLogChange(log bool) {
	if log {
		c.changeLogPolicy = ChangeLogRecord
	} else {
		c.changeLogPolicy = ChangeLogSkip
	}
}

// LogChange reports whether the change should be logged.
func (c *OperationContext) LogChange() bool {
	return c.changeLogPolicy == ChangeLogRecord
}

// Ready reports whether both policies have been set.
func (c *OperationContext) Ready() bool {
	return c.referralPolicy != ReferralUnset && c.changeLogPolicy != ChangeLogUnset
}

// Control returns the request control with the given OID, or nil.
func (c *OperationContext) Control(oid string) ldap.Control {
	return ldap.FindControl(c.Controls, oid)
}

// AddResponseControl appends a control to send back with the result,
// replacing any previous control of the same type.
func (c *OperationContext) AddResponseControl(ctrl ldap.Control) {
	c.RemoveResponseControl(ctrl.GetControlType())
	c.responseControls = append(c.responseControls, ctrl)
}

// RemoveResponseControl drops the response control with the given OID and
// reports whether one was present.
func (c *OperationContext) RemoveResponseControl(oid string) bool {
	for i, ctrl := range c.responseControls {
		if ctrl.GetControlType() == oid {
			c.responseControls = append(c.responseControls[:i], c.responseControls[i+1:]...)
			return true
		}
	}
	return false
}

// ResponseControl returns the response control with the given OID, or nil.
func (c *OperationContext) ResponseControl(oid string) ldap.Control {
	return ldap.FindControl(c.responseControls, oid)
}

// AddReference records a continuation reference. A reference for a DN already
// recorded is ignored, so rewinding a search cursor does not repeat it.
func (c *OperationContext) AddReference(ref Reference) bool {
	for _, r := range c.references {
		if strings.EqualFold(r.DN, ref.DN) {
			return false
		}
	}
	c.references = append(c.references, ref)
	return true
}

// References returns the continuation references recorded so far.
func (c *OperationContext) References() []Reference {
	if len(c.references) == 0 {
		return nil
	}
	return append([]Reference(nil), c.references...)
}

// ResponseControls returns a copy of the accumulated response controls.
func (c *OperationContext) ResponseControls() []ldap.Control {
	if len(c.responseControls) == 0 {
		return nil
	}
	return append([]ldap.Control(nil), c.responseControls...)
}

// Operation is implemented by every per-operation context.
type Operation interface {
	Base() *OperationContext
	Kind() OperationKind
}

// ============================================================================
// Per-operation contexts
// ============================================================================

// AddContext describes an add operation.
type AddContext struct {
	OperationContext

	// Entry is the entry to add; its DN equals the context DN
	Entry *ldap.Entry
}

// NewAddContext creates an add context.
func NewAddContext(principal *Principal, entry *ldap.Entry, controls []ldap.Control) *AddContext {
	return &AddContext{OperationContext: newOperationContext(principal, entry.DN, controls), Entry: entry}
}

func (*AddContext) Kind() OperationKind { return OpAdd }

// DeleteContext describes a delete operation.
type DeleteContext struct {
	OperationContext

	// Entry is set by the partition to the entry that was removed
	Entry *ldap.Entry
}

// NewDeleteContext creates a delete context.
func NewDeleteContext(principal *Principal, dn string, controls []ldap.Control) *DeleteContext {
	return &DeleteContext{OperationContext: newOperationContext(principal, dn, controls)}
}

func (*DeleteContext) Kind() OperationKind { return OpDelete }

// ModifyContext describes a modify operation.
type ModifyContext struct {
	OperationContext

	// Changes are applied in order, atomically
	Changes []ldap.Change

	// OldEntry and Entry are set by the partition to the entry before and
	// after the modification
	OldEntry *ldap.Entry
	Entry    *ldap.Entry
}

// NewModifyContext creates a modify context.
func NewModifyContext(principal *Principal, dn string, changes []ldap.Change, controls []ldap.Control) *ModifyContext {
	return &ModifyContext{OperationContext: newOperationContext(principal, dn, controls), Changes: changes}
}

func (*ModifyContext) Kind() OperationKind { return OpModify }

// DNChange holds the fields shared by the three modifyDN variants.
type DNChange struct {
	// NewRDN is the new relative name (rename, moveAndRename)
	NewRDN string

	// DeleteOldRDN removes the old RDN values from the entry
	DeleteOldRDN bool

	// NewSuperior is the new parent (move, moveAndRename)
	NewSuperior string

	// NewDN, OldEntry and Entry are set by the partition
	NewDN    string
	OldEntry *ldap.Entry
	Entry    *ldap.Entry
}

// DNChangeOf returns the modifyDN fields of op, or nil when op does not
// change a DN.
func DNChangeOf(op Operation) *DNChange {
	switch o := op.(type) {
	case *RenameContext:
		return &o.DNChange
	case *MoveContext:
		return &o.DNChange
	case *MoveAndRenameContext:
		return &o.DNChange
	}
	return nil
}

// RenameContext changes the RDN of an entry in place.
type RenameContext struct {
	OperationContext
	DNChange
}

// NewRenameContext creates a rename context.
func NewRenameContext(principal *Principal, dn, newRDN string, deleteOldRDN bool, controls []ldap.Control) *RenameContext {
	return &RenameContext{
		OperationContext: newOperationContext(principal, dn, controls),
		DNChange:         DNChange{NewRDN: newRDN, DeleteOldRDN: deleteOldRDN},
	}
}

func (*RenameContext) Kind() OperationKind { return OpRename }

// MoveContext moves an entry, with its subtree, under a new superior.
type MoveContext struct {
	OperationContext
	DNChange
}

// NewMoveContext creates a move context.
func NewMoveContext(principal *Principal, dn, newSuperior string, controls []ldap.Control) *MoveContext {
	return &MoveContext{
		OperationContext: newOperationContext(principal, dn, controls),
		DNChange:         DNChange{NewSuperior: newSuperior},
	}
}

func (*MoveContext) Kind() OperationKind { return OpMove }

// MoveAndRenameContext moves an entry and changes its RDN.
type MoveAndRenameContext struct {
	OperationContext
	DNChange
}

// NewMoveAndRenameContext creates a moveAndRename context.
func NewMoveAndRenameContext(principal *Principal, dn, newSuperior, newRDN string, deleteOldRDN bool, controls []ldap.Control) *MoveAndRenameContext {
	return &MoveAndRenameContext{
		OperationContext: newOperationContext(principal, dn, controls),
		DNChange:         DNChange{NewRDN: newRDN, DeleteOldRDN: deleteOldRDN, NewSuperior: newSuperior},
	}
}

func (*MoveAndRenameContext) Kind() OperationKind { return OpMoveAndRename }

// CompareContext asserts an attribute value.
type CompareContext struct {
	OperationContext
	Attribute string
	Value     string
}

// NewCompareContext creates a compare context.
func NewCompareContext(principal *Principal, dn, attribute, value string) *CompareContext {
	return &CompareContext{
		OperationContext: newOperationContext(principal, dn, nil),
		Attribute:        attribute,
		Value:            value,
	}
}

func (*CompareContext) Kind() OperationKind { return OpCompare }

// LookupContext reads a single entry.
type LookupContext struct {
	OperationContext

	// Attributes selects what to return; empty means all user attributes
	Attributes []string
}

// NewLookupContext creates a lookup context.
func NewLookupContext(principal *Principal, dn string, attributes []string, controls []ldap.Control) *LookupContext {
	return &LookupContext{OperationContext: newOperationContext(principal, dn, controls), Attributes: attributes}
}

func (*LookupContext) Kind() OperationKind { return OpLookup }

// HasEntryContext checks whether an entry exists.
type HasEntryContext struct {
	OperationContext
}

// NewHasEntryContext creates a hasEntry context.
func NewHasEntryContext(principal *Principal, dn string) *HasEntryContext {
	return &HasEntryContext{OperationContext: newOperationContext(principal, dn, nil)}
}

func (*HasEntryContext) Kind() OperationKind { return OpHasEntry }

// ListContext lists the immediate children of an entry.
type ListContext struct {
	OperationContext
}

// NewListContext creates a list context.
func NewListContext(principal *Principal, dn string, controls []ldap.Control) *ListContext {
	return &ListContext{OperationContext: newOperationContext(principal, dn, controls)}
}

func (*ListContext) Kind() OperationKind { return OpList }

// SearchContext describes a search.
type SearchContext struct {
	OperationContext

	Scope        int
	DerefAliases int
	Filter       string
	Attributes   []string
	SizeLimit    int
	TimeLimit    int
	TypesOnly    bool

	// SyncRepl marks a content synchronization (RFC 4533) search
	SyncRepl bool
}

// NewSearchContext creates a search context from a request.
func NewSearchContext(principal *Principal, req *ldap.SearchRequest) *SearchContext {
	return &SearchContext{
		OperationContext: newOperationContext(principal, req.BaseDN, req.Controls),
		Scope:            req.Scope,
		DerefAliases:     req.DerefAliases,
		Filter:           req.Filter,
		Attributes:       req.Attributes,
		SizeLimit:        req.SizeLimit,
		TimeLimit:        req.TimeLimit,
		TypesOnly:        req.TypesOnly,
	}
}

func (*SearchContext) Kind() OperationKind { return OpSearch }

// UnbindContext ends a session.
type UnbindContext struct {
	OperationContext
}

// NewUnbindContext creates an unbind context.
func NewUnbindContext(principal *Principal) *UnbindContext {
	return &UnbindContext{OperationContext: newOperationContext(principal, "", nil)}
}

func (*UnbindContext) Kind() OperationKind { return OpUnbind }
