package directory

import (
	"strings"

	ber "github.com/go-asn1-ber/asn1-ber"
	"github.com/go-ldap/ldap/v3"
	"github.com/marmos91/dittoldap/internal/logger"
	"github.com/marmos91/dittoldap/pkg/schema"
)

// DefaultFilter matches every entry.
const DefaultFilter = "(objectClass=*)"

// Filter is a compiled RFC 4515 search filter.
type Filter struct {
	text   string
	packet *ber.Packet
}

// CompileFilter parses a string filter. An empty string compiles to
// DefaultFilter.
func CompileFilter(text string) (*Filter, error) {
	if strings.TrimSpace(text) == "" {
		text = DefaultFilter
	}
	packet, err := ldap.CompileFilter(text)
	if err != nil {
		return nil, NewError(ldap.LDAPResultProtocolError, "", "invalid filter %q: %v", text, err)
	}
	return &Filter{text: text, packet: packet}, nil
}

func (f *Filter) String() string {
	return f.text
}

// Match evaluates the filter against e. Undefined results (unknown
// attributes, unparsable values) count as no match.
func (f *Filter) Match(e *ldap.Entry, s *schema.Schema) bool {
	return evaluate(f.packet, e, matcher{schema: s}) == matchTrue
}

type tri int

const (
	matchFalse tri = iota
	matchTrue
	matchUndefined
)

func boolTri(b bool) tri {
	if b {
		return matchTrue
	}
	return matchFalse
}

func packetString(p *ber.Packet) string {
	if s, ok := p.Value.(string); ok {
		return s
	}
	if p.Data != nil {
		return p.Data.String()
	}
	return ""
}

func evaluate(p *ber.Packet, e *ldap.Entry, m matcher) tri {
	switch p.Tag {
	case ldap.FilterAnd:
		result := matchTrue
		for _, child := range p.Children {
			switch evaluate(child, e, m) {
			case matchFalse:
				return matchFalse
			case matchUndefined:
				result = matchUndefined
			}
		}
		return result

	case ldap.FilterOr:
		result := matchFalse
		for _, child := range p.Children {
			switch evaluate(child, e, m) {
			case matchTrue:
				return matchTrue
			case matchUndefined:
				result = matchUndefined
			}
		}
		return result

	case ldap.FilterNot:
		if len(p.Children) != 1 {
			return matchUndefined
		}
		switch evaluate(p.Children[0], e, m) {
		case matchTrue:
			return matchFalse
		case matchFalse:
			return matchTrue
		}
		return matchUndefined

	case ldap.FilterPresent:
		attr := packetString(p)
		if m.same(schema.EntryDN, attr) {
			return matchTrue
		}
		return boolTri(len(m.values(e, attr)) > 0)

	case ldap.FilterEqualityMatch, ldap.FilterApproxMatch:
		attr, value, ok := assertion(p)
		if !ok {
			return matchUndefined
		}
		return equality(e, m, attr, value)

	case ldap.FilterGreaterOrEqual, ldap.FilterLessOrEqual:
		attr, value, ok := assertion(p)
		if !ok {
			return matchUndefined
		}
		return ordering(e, m, attr, value, p.Tag == ldap.FilterGreaterOrEqual)

	case ldap.FilterSubstrings:
		return substrings(p, e, m)

	case ldap.FilterExtensibleMatch:
		return extensible(p, e, m)
	}

	logger.Debug("filter: unsupported filter tag %d", p.Tag)
	return matchUndefined
}

func assertion(p *ber.Packet) (string, string, bool) {
	if len(p.Children) != 2 {
		return "", "", false
	}
	return packetString(p.Children[0]), packetString(p.Children[1]), true
}

func entryValues(e *ldap.Entry, m matcher, attr string) []string {
	if m.same(schema.EntryDN, attr) {
		return []string{e.DN}
	}
	return m.values(e, attr)
}

func equality(e *ldap.Entry, m matcher, attr, value string) tri {
	if m.schema != nil {
		want, err := m.schema.Normalize(attr, value)
		if err != nil {
			return matchUndefined
		}
		for _, v := range entryValues(e, m, attr) {
			if have, err := m.schema.Normalize(attr, v); err == nil && have == want {
				return matchTrue
			}
		}
		return matchFalse
	}
	for _, v := range entryValues(e, m, attr) {
		if strings.EqualFold(v, value) {
			return matchTrue
		}
	}
	return matchFalse
}

func ordering(e *ldap.Entry, m matcher, attr, value string, greater bool) tri {
	if m.schema == nil {
		return matchUndefined
	}
	result := matchFalse
	for _, v := range entryValues(e, m, attr) {
		c, err := m.schema.Order(attr, v, value)
		if err != nil {
			result = matchUndefined
			continue
		}
		if (greater && c >= 0) || (!greater && c <= 0) {
			return matchTrue
		}
	}
	return result
}

func substrings(p *ber.Packet, e *ldap.Entry, m matcher) tri {
	if len(p.Children) != 2 {
		return matchUndefined
	}
	attr := packetString(p.Children[0])

	norm := func(v string) (string, error) {
		if m.schema == nil {
			return strings.ToLower(v), nil
		}
		return m.schema.NormalizeSubstring(attr, v)
	}

	var parts []substringPart
	for _, c := range p.Children[1].Children {
		v, err := norm(packetString(c))
		if err != nil {
			return matchUndefined
		}
		parts = append(parts, substringPart{tag: c.Tag, value: v})
	}

	for _, raw := range entryValues(e, m, attr) {
		v, err := norm(raw)
		if err != nil {
			continue
		}
		if matchSubstrings(v, parts) {
			return matchTrue
		}
	}
	return matchFalse
}

type substringPart struct {
	tag   ber.Tag
	value string
}

func matchSubstrings(v string, parts []substringPart) bool {
	for _, p := range parts {
		switch p.tag {
		case ldap.FilterSubstringsInitial:
			if !strings.HasPrefix(v, p.value) {
				return false
			}
			v = v[len(p.value):]
		case ldap.FilterSubstringsAny:
			i := strings.Index(v, p.value)
			if i < 0 {
				return false
			}
			v = v[i+len(p.value):]
		case ldap.FilterSubstringsFinal:
			if !strings.HasSuffix(v, p.value) {
				return false
			}
			v = ""
		}
	}
	return true
}

// extensible supports the attribute form, with or without a matching rule:
// (sn:caseExactMatch:=Bob) or (sn:=Bob). DN component matching is not
// supported and is undefined.
func extensible(p *ber.Packet, e *ldap.Entry, m matcher) tri {
	var rule, attr, value string
	dnAttributes := false
	for _, c := range p.Children {
		switch c.Tag {
		case ldap.MatchingRuleAssertionMatchingRule:
			rule = packetString(c)
		case ldap.MatchingRuleAssertionType:
			attr = packetString(c)
		case ldap.MatchingRuleAssertionMatchValue:
			value = packetString(c)
		case ldap.MatchingRuleAssertionDNAttributes:
			dnAttributes = true
		}
	}
	if attr == "" || dnAttributes {
		return matchUndefined
	}
	if rule == "" {
		return equality(e, m, attr, value)
	}
	if m.schema == nil {
		return matchUndefined
	}
	normalize, err := m.schema.Normalizer(rule)
	if err != nil {
		return matchUndefined
	}
	want, err := normalize(value)
	if err != nil {
		return matchUndefined
	}
	for _, v := range entryValues(e, m, attr) {
		if have, err := normalize(v); err == nil && have == want {
			return matchTrue
		}
	}
	return matchFalse
}
