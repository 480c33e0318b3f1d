package directory

import (
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/marmos91/dittoldap/pkg/schema"
)

// Operational attributes maintained by partitions.
const (
	AttrObjectClass       = "objectClass"
	AttrCreateTimestamp   = "createTimestamp"
	AttrModifyTimestamp   = "modifyTimestamp"
	AttrCreatorsName      = "creatorsName"
	AttrModifiersName     = "modifiersName"
	AttrEntryUUID         = "entryUUID"
	AttrSubschemaSubentry = "subschemaSubentry"
	AttrRef               = "ref"

	// ObjectClassReferral marks an entry whose ref values point elsewhere.
	ObjectClassReferral = "referral"
)

// Special attribute selectors (RFC 4511 section 4.5.1.8).
const (
	AllUserAttributes        = "*"
	AllOperationalAttributes = "+"
	NoAttributes             = "1.1"
)

// CloneEntry returns a deep copy of e.
func CloneEntry(e *ldap.Entry) *ldap.Entry {
	if e == nil {
		return nil
	}
	out := &ldap.Entry{DN: e.DN, Attributes: make([]*ldap.EntryAttribute, 0, len(e.Attributes))}
	for _, a := range e.Attributes {
		out.Attributes = append(out.Attributes, cloneAttribute(a))
	}
	return out
}

func cloneAttribute(a *ldap.EntryAttribute) *ldap.EntryAttribute {
	c := &ldap.EntryAttribute{Name: a.Name, Values: append([]string(nil), a.Values...)}
	if len(a.ByteValues) > 0 {
		c.ByteValues = make([][]byte, len(a.ByteValues))
		for i, v := range a.ByteValues {
			c.ByteValues[i] = append([]byte(nil), v...)
		}
	}
	return c
}

// setValues replaces the values of an attribute, keeping ByteValues in step.
func setValues(a *ldap.EntryAttribute, values []string) {
	a.Values = values
	a.ByteValues = make([][]byte, len(values))
	for i, v := range values {
		a.ByteValues[i] = []byte(v)
	}
}

func newAttribute(name string, values []string) *ldap.EntryAttribute {
	a := &ldap.EntryAttribute{Name: name}
	setValues(a, values)
	return a
}

// matcher resolves attribute descriptions against the schema so that
// aliases (cn / commonName / 2.5.4.3) select the same attribute.
type matcher struct {
	schema *schema.Schema
}

// same reports whether an entry attribute named have is the attribute want.
func (m matcher) same(want, have string) bool {
	if strings.EqualFold(want, have) {
		return true
	}
	if m.schema == nil {
		return false
	}
	at, err := m.schema.AttributeType(want)
	if err != nil {
		return false
	}
	return at.HasName(have)
}

// find returns the entry attribute for name, or nil.
func (m matcher) find(e *ldap.Entry, name string) *ldap.EntryAttribute {
	for _, a := range e.Attributes {
		if m.same(name, a.Name) {
			return a
		}
	}
	return nil
}

// values returns the values of name in e.
func (m matcher) values(e *ldap.Entry, name string) []string {
	if a := m.find(e, name); a != nil {
		return a.Values
	}
	return nil
}

// remove drops the attribute name from e and reports whether it was present.
func (m matcher) remove(e *ldap.Entry, name string) bool {
	for i, a := range e.Attributes {
		if m.same(name, a.Name) {
			e.Attributes = append(e.Attributes[:i], e.Attributes[i+1:]...)
			return true
		}
	}
	return false
}

// set replaces (or adds) the values of name in e.
func (m matcher) set(e *ldap.Entry, name string, values []string) {
	if a := m.find(e, name); a != nil {
		setValues(a, values)
		return
	}
	e.Attributes = append(e.Attributes, newAttribute(name, values))
}

// hasValue reports whether e holds value for name under the attribute's
// equality rule.
func (m matcher) hasValue(e *ldap.Entry, name, value string) bool {
	for _, v := range m.values(e, name) {
		if m.equal(name, v, value) {
			return true
		}
	}
	return false
}

func (m matcher) equal(name, a, b string) bool {
	if m.schema == nil {
		return strings.EqualFold(a, b)
	}
	ok, err := m.schema.Equal(name, a, b)
	return err == nil && ok
}

// isOperational reports whether name is an operational attribute.
func (m matcher) isOperational(name string) bool {
	if m.schema == nil {
		return false
	}
	at, err := m.schema.AttributeType(name)
	return err == nil && at.IsOperational()
}

// IsReferral reports whether e is a referral entry.
func IsReferral(e *ldap.Entry) bool {
	for _, oc := range e.GetEqualFoldAttributeValues(AttrObjectClass) {
		if strings.EqualFold(oc, ObjectClassReferral) {
			return true
		}
	}
	return false
}

// Project returns a copy of e restricted to the requested attributes.
//
// An empty selection or "*" returns all user attributes, "+" adds the
// operational ones (including the virtual entryDN and subschemaSubentry), and
// "1.1" alone returns none. With typesOnly the values are dropped.
func Project(e *ldap.Entry, attributes []string, typesOnly bool, s *schema.Schema) *ldap.Entry {
	m := matcher{schema: s}

	allUser := len(attributes) == 0
	allOperational := false
	var named []string
	for _, a := range attributes {
		switch strings.TrimSpace(a) {
		case AllUserAttributes:
			allUser = true
		case AllOperationalAttributes:
			allOperational = true
		case NoAttributes, "":
		default:
			named = append(named, a)
		}
	}

	wanted := func(name string) bool {
		op := m.isOperational(name)
		if (op && allOperational) || (!op && allUser) {
			return true
		}
		for _, n := range named {
			if m.same(n, name) {
				return true
			}
		}
		return false
	}

	out := &ldap.Entry{DN: e.DN}
	for _, a := range e.Attributes {
		if !wanted(a.Name) {
			continue
		}
		c := cloneAttribute(a)
		if typesOnly {
			c.Values, c.ByteValues = nil, nil
		}
		out.Attributes = append(out.Attributes, c)
	}

	virtual := map[string]string{
		schema.EntryDN:        e.DN,
		AttrSubschemaSubentry: schema.SubschemaDN,
	}
	for _, name := range []string{schema.EntryDN, AttrSubschemaSubentry} {
		if m.find(out, name) != nil || !wanted(name) {
			continue
		}
		a := newAttribute(name, []string{virtual[name]})
		if typesOnly {
			a.Values, a.ByteValues = nil, nil
		}
		out.Attributes = append(out.Attributes, a)
	}
	return out
}
