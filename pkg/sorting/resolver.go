package sorting

import (
	"fmt"

	"github.com/marmos91/dittoldap/internal/logger"
	"github.com/marmos91/dittoldap/pkg/schema"
)

// Comparator orders raw attribute values with a matching rule. It normalizes
// both values with the rule's normalizer before comparing them.
//
// A value that fails normalization makes the pair compare equal: one bad
// value must not abort sorting of a whole result set.
type Comparator struct {
	rule      *schema.MatchingRule
	normalize schema.Normalizer
	compare   schema.Comparator
}

// Rule returns the matching rule the comparator implements.
func (c *Comparator) Rule() *schema.MatchingRule {
	return c.rule
}

// Normalize returns the canonical form of a value under the rule.
func (c *Comparator) Normalize(v string) (string, error) {
	if c.normalize == nil {
		return v, nil
	}
	return c.normalize(v)
}

// Compare orders two raw values.
func (c *Comparator) Compare(a, b string) int {
	na, err := c.Normalize(a)
	if err != nil {
		logger.Debug("sort: cannot normalize %q with %s, treating as equal: %v", a, c.rule.Name(), err)
		return 0
	}
	nb, err := c.Normalize(b)
	if err != nil {
		logger.Debug("sort: cannot normalize %q with %s, treating as equal: %v", b, c.rule.Name(), err)
		return 0
	}
	return c.compare(na, nb)
}

// ResolveComparator finds the comparator used to sort on at.
//
// The entryDN attribute always sorts structurally by DN. Otherwise an
// explicit matchingRule is used as given; without one the attribute's
// ORDERING rule is used, then its EQUALITY rule. The result fails with
// schema.ErrNoSuchMatchingRule when the rule has no comparator registered.
//
// Resolution only reads from s.
func ResolveComparator(at *schema.AttributeType, matchingRule string, s *schema.Schema) (*Comparator, error) {
	if at.HasName(schema.EntryDN) {
		return bind(s, schema.DistinguishedNameMatch)
	}

	ruleID := matchingRule
	if ruleID == "" {
		ruleID = at.Ordering
	}
	if ruleID == "" {
		ruleID = at.Equality
	}
	if ruleID == "" {
		return nil, fmt.Errorf("%w: %s has neither ordering nor equality rule", schema.ErrNoSuchMatchingRule, at.Name())
	}
	return bind(s, ruleID)
}

func bind(s *schema.Schema, ruleID string) (*Comparator, error) {
	rule, err := s.MatchingRule(ruleID)
	if err != nil {
		return nil, err
	}
	cmp, err := s.Comparator(rule.OID)
	if err != nil {
		return nil, err
	}
	// A rule without a normalizer compares raw values.
	norm, _ := s.Normalizer(rule.OID)
	return &Comparator{rule: rule, normalize: norm, compare: cmp}, nil
}
