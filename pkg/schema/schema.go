package schema

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// EntryDN is the name of the entryDN operational attribute (RFC 5020).
const EntryDN = "entryDN"

// Schema holds attribute types and matching rules together with the
// normalizer and comparator registries keyed by rule OID.
//
// Lookups take a read lock and never modify state, so a Schema can be shared
// by any number of concurrent searches. Registration is meant for startup and
// extension loading.
type Schema struct {
	mu sync.RWMutex

	attributes    map[string]*AttributeType // lower-cased OID and names
	attributeList []*AttributeType
	rules         map[string]*MatchingRule // lower-cased OID and names
	ruleList      []*MatchingRule
	normalizers   map[string]Normalizer // rule OID
	comparators   map[string]Comparator // rule OID

	hooks []func()
}

// New returns an empty schema.
func New() *Schema {
	return &Schema{
		attributes:  make(map[string]*AttributeType),
		rules:       make(map[string]*MatchingRule),
		normalizers: make(map[string]Normalizer),
		comparators: make(map[string]Comparator),
	}
}

// AddMatchingRule registers a rule with its normalizer and comparator.
// Either implementation may be nil; a rule without a comparator cannot be
// used for ordering.
func (s *Schema) AddMatchingRule(rule MatchingRule, normalizer Normalizer, comparator Comparator) error {
	if rule.OID == "" {
		return fmt.Errorf("matching rule without OID")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	keys := append([]string{rule.OID}, rule.Names...)
	for _, k := range keys {
		if _, exists := s.rules[strings.ToLower(k)]; exists {
			return fmt.Errorf("%w: matching rule %q", ErrDuplicate, k)
		}
	}

	r := rule
	for _, k := range keys {
		s.rules[strings.ToLower(k)] = &r
	}
	s.ruleList = append(s.ruleList, &r)
	if normalizer != nil {
		s.normalizers[r.OID] = normalizer
	}
	if comparator != nil {
		s.comparators[r.OID] = comparator
	}
	return nil
}

// AddAttributeType registers an attribute type. Rules may be referenced by
// name or OID and are stored as OIDs. Missing rules are inherited from Sup.
func (s *Schema) AddAttributeType(at AttributeType) error {
	if at.OID == "" {
		return fmt.Errorf("attribute type without OID")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	keys := append([]string{at.OID}, at.Names...)
	for _, k := range keys {
		if _, exists := s.attributes[strings.ToLower(k)]; exists {
			return fmt.Errorf("%w: attribute type %q", ErrDuplicate, k)
		}
	}

	if at.Sup != "" {
		sup, ok := s.attributes[strings.ToLower(at.Sup)]
		if !ok {
			return fmt.Errorf("%w: superior %q of %q", ErrNoSuchAttribute, at.Sup, at.Name())
		}
		if at.Equality == "" {
			at.Equality = sup.Equality
		}
		if at.Ordering == "" {
			at.Ordering = sup.Ordering
		}
		if at.Substring == "" {
			at.Substring = sup.Substring
		}
		if at.Syntax == "" {
			at.Syntax = sup.Syntax
		}
	}

	for _, ref := range []*string{&at.Equality, &at.Ordering, &at.Substring} {
		if *ref == "" {
			continue
		}
		rule, ok := s.rules[strings.ToLower(*ref)]
		if !ok {
			return fmt.Errorf("%w: %q referenced by %q", ErrNoSuchMatchingRule, *ref, at.Name())
		}
		*ref = rule.OID
	}

	a := at
	for _, k := range keys {
		s.attributes[strings.ToLower(k)] = &a
	}
	s.attributeList = append(s.attributeList, &a)
	return nil
}

// AttributeType looks up an attribute type by OID or any of its names.
func (s *Schema) AttributeType(id string) (*AttributeType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	at, ok := s.attributes[strings.ToLower(strings.TrimSpace(id))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoSuchAttribute, id)
	}
	return at, nil
}

// MatchingRule looks up a rule by OID or name.
func (s *Schema) MatchingRule(id string) (*MatchingRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rules[strings.ToLower(strings.TrimSpace(id))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoSuchMatchingRule, id)
	}
	return r, nil
}

// Comparator returns the comparator registered for a rule (OID or name).
func (s *Schema) Comparator(ruleID string) (Comparator, error) {
	rule, err := s.MatchingRule(ruleID)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.comparators[rule.OID]
	if !ok {
		return nil, fmt.Errorf("%w: no comparator for %s", ErrNoSuchMatchingRule, rule.Name())
	}
	return c, nil
}

// Normalizer returns the normalizer registered for a rule (OID or name).
func (s *Schema) Normalizer(ruleID string) (Normalizer, error) {
	rule, err := s.MatchingRule(ruleID)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.normalizers[rule.OID]
	if !ok {
		return nil, fmt.Errorf("%w: no normalizer for %s", ErrNoSuchMatchingRule, rule.Name())
	}
	return n, nil
}

// AttributeTypes returns every attribute type sorted by OID.
func (s *Schema) AttributeTypes() []*AttributeType {
	s.mu.RLock()
	out := append([]*AttributeType(nil), s.attributeList...)
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].OID < out[j].OID })
	return out
}

// MatchingRules returns every matching rule sorted by OID.
func (s *Schema) MatchingRules() []*MatchingRule {
	s.mu.RLock()
	out := append([]*MatchingRule(nil), s.ruleList...)
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].OID < out[j].OID })
	return out
}

// OnChange registers fn to run after the schema has been extended.
func (s *Schema) OnChange(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
}

func (s *Schema) notify() {
	s.mu.RLock()
	hooks := append([]func(){}, s.hooks...)
	s.mu.RUnlock()

	for _, fn := range hooks {
		fn()
	}
}

// ============================================================================
// Value matching helpers
// ============================================================================

// equalityRule returns the equality rule OID of attr, or "" when it has none.
func (s *Schema) equalityRule(attr string) string {
	at, err := s.AttributeType(attr)
	if err != nil {
		return ""
	}
	return at.Equality
}

// Normalize normalizes value with the equality rule of attr. Unknown
// attributes and attributes without an equality rule fall back to
// case-insensitive matching.
func (s *Schema) Normalize(attr, value string) (string, error) {
	rule := s.equalityRule(attr)
	if rule == "" {
		return NormalizeCaseIgnore(value)
	}
	n, err := s.Normalizer(rule)
	if err != nil {
		return NormalizeCaseIgnore(value)
	}
	return n(value)
}

// NormalizeSubstring normalizes a value or assertion fragment for substring
// matching on attr.
func (s *Schema) NormalizeSubstring(attr, value string) (string, error) {
	at, err := s.AttributeType(attr)
	if err != nil || at.Substring == "" {
		return s.Normalize(attr, value)
	}
	n, err := s.Normalizer(at.Substring)
	if err != nil {
		return s.Normalize(attr, value)
	}
	return n(value)
}

// Equal reports whether two values of attr match under its equality rule.
func (s *Schema) Equal(attr, a, b string) (bool, error) {
	na, err := s.Normalize(attr, a)
	if err != nil {
		return false, err
	}
	nb, err := s.Normalize(attr, b)
	if err != nil {
		return false, err
	}
	return na == nb, nil
}

// Order compares two raw values of attr with its ordering rule, falling back
// to its equality rule.
func (s *Schema) Order(attr, a, b string) (int, error) {
	at, err := s.AttributeType(attr)
	if err != nil {
		return 0, err
	}
	rule := at.Ordering
	if rule == "" {
		rule = at.Equality
	}
	if rule == "" {
		return 0, fmt.Errorf("%w: %s has no ordering", ErrNoSuchMatchingRule, at.Name())
	}
	cmp, err := s.Comparator(rule)
	if err != nil {
		return 0, err
	}
	n, err := s.Normalizer(rule)
	if err != nil {
		return 0, err
	}
	na, err := n(a)
	if err != nil {
		return 0, err
	}
	nb, err := n(b)
	if err != nil {
		return 0, err
	}
	return cmp(na, nb), nil
}
