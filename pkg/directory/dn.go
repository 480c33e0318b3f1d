package directory

import (
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// name is a parsed DN with its presentation and normalized forms.
type name struct {
	dn   *ldap.DN
	str  string
	norm string

	// rdns holds the normalized RDNs, leaf first.
	rdns []string
}

func nameOf(dn *ldap.DN) name {
	n := name{dn: dn, str: dn.String(), rdns: make([]string, len(dn.RDNs))}
	for i, r := range dn.RDNs {
		n.rdns[i] = strings.ToLower(r.String())
	}
	n.norm = strings.Join(n.rdns, ",")
	return n
}

// parseName parses dn, failing with invalidDNSyntax.
func parseName(dn string) (name, error) {
	parsed, err := ldap.ParseDN(dn)
	if err != nil {
		return name{}, NewError(ldap.LDAPResultInvalidDNSyntax, dn, "invalid DN: %v", err)
	}
	return nameOf(parsed), nil
}

// parseRDN parses a single relative name such as "cn=Bob".
func parseRDN(rdn string) (*ldap.RelativeDN, error) {
	parsed, err := ldap.ParseDN(rdn)
	if err != nil || len(parsed.RDNs) != 1 {
		return nil, NewError(ldap.LDAPResultInvalidDNSyntax, rdn, "invalid RDN")
	}
	return parsed.RDNs[0], nil
}

func (n name) isRoot() bool {
	return len(n.rdns) == 0
}

// parent returns the parent name. The parent of the root is the root.
func (n name) parent() name {
	if n.isRoot() {
		return n
	}
	return nameOf(&ldap.DN{RDNs: n.dn.RDNs[1:]})
}

func (n name) rdn() *ldap.RelativeDN {
	if n.isRoot() {
		return nil
	}
	return n.dn.RDNs[0]
}

// within reports whether n equals ancestor or lies below it.
func (n name) within(ancestor name) bool {
	if len(n.rdns) < len(ancestor.rdns) {
		return false
	}
	tail := n.rdns[len(n.rdns)-len(ancestor.rdns):]
	for i := range tail {
		if tail[i] != ancestor.rdns[i] {
			return false
		}
	}
	return true
}

// below reports whether n lies strictly below ancestor.
func (n name) below(ancestor name) bool {
	return len(n.rdns) > len(ancestor.rdns) && n.within(ancestor)
}

// child returns the name of rdn under n.
func (n name) child(rdn *ldap.RelativeDN) name {
	rdns := append([]*ldap.RelativeDN{rdn}, n.dn.RDNs...)
	return nameOf(&ldap.DN{RDNs: rdns})
}

// rebase moves n from below oldBase to below newBase.
func (n name) rebase(oldBase, newBase name) name {
	keep := n.dn.RDNs[:len(n.rdns)-len(oldBase.rdns)]
	rdns := append(append([]*ldap.RelativeDN(nil), keep...), newBase.dn.RDNs...)
	return nameOf(&ldap.DN{RDNs: rdns})
}
