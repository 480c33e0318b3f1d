package sorting

import (
	"errors"

	"github.com/go-ldap/ldap/v3"
	"github.com/marmos91/dittoldap/pkg/schema"
)

// Validate checks a sort request against the schema. The first failing check
// decides the outcome:
//
//  1. more than one sort key: unwillingToPerform
//  2. unknown attribute: noSuchAttribute
//  3. explicit rule other than the attribute's ORDERING rule: inappropriateMatching
//  4. rule without a comparator: inappropriateMatching
//  5. neither ORDERING nor EQUALITY rule: inappropriateMatching
//
// Failures echo the offending attribute name.
func Validate(req *SortRequest, s *schema.Schema) *SortResponse {
	// An empty key list is as unusable as several keys.
	if len(req.Keys) != 1 {
		return &SortResponse{Result: ldap.ControlServerSideSortingCodeUnwillingToPerform}
	}

	key := req.Keys[0]
	fail := func(code ldap.ControlServerSideSortingCode) *SortResponse {
		return &SortResponse{Result: code, AttributeType: key.AttributeType}
	}

	at, err := s.AttributeType(key.AttributeType)
	if err != nil {
		return fail(ldap.ControlServerSideSortingCodeNoSuchAttribute)
	}

	if key.MatchingRule != "" {
		rule, err := s.MatchingRule(key.MatchingRule)
		if err != nil || rule.OID != at.Ordering {
			return fail(ldap.ControlServerSideSortingCodeInappropriateMatching)
		}
	}

	if _, err := ResolveComparator(at, key.MatchingRule, s); err != nil {
		if errors.Is(err, schema.ErrNoSuchMatchingRule) {
			return fail(ldap.ControlServerSideSortingCodeInappropriateMatching)
		}
		return fail(ldap.ControlServerSideSortingCodeOther)
	}

	return &SortResponse{Result: ldap.ControlServerSideSortingCodeSuccess}
}

// Plan validates req and, when it succeeds, resolves the comparator that
// orders entries by its key. The comparator is nil unless the response is
// a success.
func Plan(req *SortRequest, s *schema.Schema) (*SortResponse, *EntryComparator) {
	resp := Validate(req, s)
	if !resp.Success() {
		return resp, nil
	}

	key := req.Keys[0]
	at, err := s.AttributeType(key.AttributeType)
	if err != nil {
		return &SortResponse{Result: ldap.ControlServerSideSortingCodeNoSuchAttribute, AttributeType: key.AttributeType}, nil
	}
	cmp, err := ResolveComparator(at, key.MatchingRule, s)
	if err != nil {
		return &SortResponse{Result: ldap.ControlServerSideSortingCodeInappropriateMatching, AttributeType: key.AttributeType}, nil
	}
	return resp, NewEntryComparator(at, cmp, key.Reverse)
}
