// Package schema is the read-only schema service used by the directory core:
// attribute types, matching rules, and the normalizers and comparators
// registered for those rules.
package schema

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoSuchAttribute is returned when an attribute type is not defined.
	ErrNoSuchAttribute = errors.New("no such attribute type")

	// ErrNoSuchMatchingRule is returned when a rule is not defined or has no
	// implementation registered.
	ErrNoSuchMatchingRule = errors.New("no such matching rule")

	// ErrInvalidValue is returned by normalizers for values outside the syntax.
	ErrInvalidValue = errors.New("invalid attribute value")

	// ErrDuplicate is returned when registering an OID or name twice.
	ErrDuplicate = errors.New("schema object already defined")
)

// RuleKind classifies a matching rule.
type RuleKind int

const (
	RuleEquality RuleKind = iota
	RuleOrdering
	RuleSubstring
)

func (k RuleKind) String() string {
	switch k {
	case RuleEquality:
		return "equality"
	case RuleOrdering:
		return "ordering"
	case RuleSubstring:
		return "substring"
	default:
		return "unknown"
	}
}

// Usage is the attribute usage from RFC 4512.
type Usage int

const (
	UserApplications Usage = iota
	DirectoryOperation
	DistributedOperation
	DSAOperation
)

func (u Usage) String() string {
	switch u {
	case DirectoryOperation:
		return "directoryOperation"
	case DistributedOperation:
		return "distributedOperation"
	case DSAOperation:
		return "dSAOperation"
	default:
		return "userApplications"
	}
}

// Normalizer converts a raw value into its canonical comparable form.
type Normalizer func(value string) (string, error)

// Comparator orders two normalized values.
type Comparator func(a, b string) int

// MatchingRule describes a named comparison semantic.
type MatchingRule struct {
	OID    string   `yaml:"oid"`
	Names  []string `yaml:"names"`
	Kind   RuleKind `yaml:"-"`
	Syntax string   `yaml:"syntax"`
}

// Name returns the primary name, or the OID when the rule is unnamed.
func (r *MatchingRule) Name() string {
	if len(r.Names) > 0 {
		return r.Names[0]
	}
	return r.OID
}

// String returns the RFC 4512 description of the rule.
func (r *MatchingRule) String() string {
	var b strings.Builder
	b.WriteString("( ")
	b.WriteString(r.OID)
	writeNames(&b, r.Names)
	if r.Syntax != "" {
		fmt.Fprintf(&b, " SYNTAX %s", r.Syntax)
	}
	b.WriteString(" )")
	return b.String()
}

// AttributeType describes an attribute.
//
// Equality, Ordering and Substring hold matching rule OIDs; an empty string
// means the attribute declares no rule of that kind.
type AttributeType struct {
	OID                string   `yaml:"oid"`
	Names              []string `yaml:"names"`
	Description        string   `yaml:"description"`
	Sup                string   `yaml:"sup"`
	Equality           string   `yaml:"equality"`
	Ordering           string   `yaml:"ordering"`
	Substring          string   `yaml:"substring"`
	Syntax             string   `yaml:"syntax"`
	SingleValue        bool     `yaml:"single_value"`
	NoUserModification bool     `yaml:"no_user_modification"`
	Usage              Usage    `yaml:"-"`
}

// Name returns the primary name, or the OID when the attribute is unnamed.
func (a *AttributeType) Name() string {
	if len(a.Names) > 0 {
		return a.Names[0]
	}
	return a.OID
}

// HasName reports whether id is the OID or one of the names (case-insensitive).
func (a *AttributeType) HasName(id string) bool {
	if strings.EqualFold(a.OID, id) {
		return true
	}
	for _, n := range a.Names {
		if strings.EqualFold(n, id) {
			return true
		}
	}
	return false
}

// IsOperational reports whether the attribute is an operational attribute.
func (a *AttributeType) IsOperational() bool {
	return a.Usage != UserApplications
}

// String returns the RFC 4512 description of the attribute type.
func (a *AttributeType) String() string {
	var b strings.Builder
	b.WriteString("( ")
	b.WriteString(a.OID)
	writeNames(&b, a.Names)
	if a.Description != "" {
		fmt.Fprintf(&b, " DESC '%s'", a.Description)
	}
	if a.Sup != "" {
		fmt.Fprintf(&b, " SUP %s", a.Sup)
	}
	if a.Equality != "" {
		fmt.Fprintf(&b, " EQUALITY %s", a.Equality)
	}
	if a.Ordering != "" {
		fmt.Fprintf(&b, " ORDERING %s", a.Ordering)
	}
	if a.Substring != "" {
		fmt.Fprintf(&b, " SUBSTR %s", a.Substring)
	}
	if a.Syntax != "" {
		fmt.Fprintf(&b, " SYNTAX %s", a.Syntax)
	}
	if a.SingleValue {
		b.WriteString(" SINGLE-VALUE")
	}
	if a.NoUserModification {
		b.WriteString(" NO-USER-MODIFICATION")
	}
	if a.Usage != UserApplications {
		fmt.Fprintf(&b, " USAGE %s", a.Usage)
	}
	b.WriteString(" )")
	return b.String()
}

func writeNames(b *strings.Builder, names []string) {
	switch len(names) {
	case 0:
	case 1:
		fmt.Fprintf(b, " NAME '%s'", names[0])
	default:
		b.WriteString(" NAME (")
		for _, n := range names {
			fmt.Fprintf(b, " '%s'", n)
		}
		b.WriteString(" )")
	}
}
