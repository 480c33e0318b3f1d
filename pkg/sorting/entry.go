package sorting

import (
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/marmos91/dittoldap/pkg/schema"
)

// EntryComparator orders whole entries by a single sort key.
//
// A multi-valued attribute contributes its least value, or its greatest when
// the key is reversed. Entries without the attribute sort as if their value
// were larger than any other, so they come last in ascending order and first
// when reversed. Entries whose keys compare equal are ordered by DN, so two
// distinct entries never compare equal.
type EntryComparator struct {
	attr    *schema.AttributeType
	cmp     *Comparator
	reverse bool
}

// NewEntryComparator binds a resolved comparator to the sort key's attribute.
func NewEntryComparator(at *schema.AttributeType, cmp *Comparator, reverse bool) *EntryComparator {
	return &EntryComparator{attr: at, cmp: cmp, reverse: reverse}
}

// Compare returns -1, 0 or 1.
func (e *EntryComparator) Compare(a, b *ldap.Entry) int {
	va, okA := e.key(a)
	vb, okB := e.key(b)

	var c int
	switch {
	case !okA && !okB:
		c = 0
	case !okA:
		c = 1
	case !okB:
		c = -1
	default:
		c = e.cmp.Compare(va, vb)
	}
	if e.reverse {
		c = -c
	}
	if c != 0 {
		return c
	}
	return strings.Compare(dnKey(a), dnKey(b))
}

// key picks the value that represents the entry for sorting.
func (e *EntryComparator) key(entry *ldap.Entry) (string, bool) {
	values := e.values(entry)
	if len(values) == 0 {
		return "", false
	}
	best := values[0]
	for _, v := range values[1:] {
		c := e.cmp.Compare(v, best)
		if (!e.reverse && c < 0) || (e.reverse && c > 0) {
			best = v
		}
	}
	return best, true
}

func (e *EntryComparator) values(entry *ldap.Entry) []string {
	if e.attr.HasName(schema.EntryDN) {
		return []string{entry.DN}
	}
	var out []string
	for _, a := range entry.Attributes {
		if e.attr.HasName(a.Name) {
			out = append(out, a.Values...)
		}
	}
	return out
}

func dnKey(entry *ldap.Entry) string {
	if n, err := schema.NormalizeDN(entry.DN); err == nil {
		return n
	}
	return strings.ToLower(entry.DN)
}
