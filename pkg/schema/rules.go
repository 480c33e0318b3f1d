package schema

import (
	"fmt"
	"math/big"
	"strings"
	"time"
	"unicode"

	"github.com/go-ldap/ldap/v3"
	"github.com/google/uuid"
)

// Matching rule OIDs.
const (
	ObjectIdentifierMatch          = "2.5.13.0"
	DistinguishedNameMatch         = "2.5.13.1"
	CaseIgnoreMatch                = "2.5.13.2"
	CaseIgnoreOrderingMatch        = "2.5.13.3"
	CaseIgnoreSubstringsMatch      = "2.5.13.4"
	CaseExactMatch                 = "2.5.13.5"
	CaseExactOrderingMatch         = "2.5.13.6"
	CaseExactSubstringsMatch       = "2.5.13.7"
	IntegerMatch                   = "2.5.13.14"
	IntegerOrderingMatch           = "2.5.13.15"
	OctetStringMatch               = "2.5.13.17"
	OctetStringOrderingMatch       = "2.5.13.18"
	TelephoneNumberMatch           = "2.5.13.20"
	TelephoneNumberSubstringsMatch = "2.5.13.21"
	GeneralizedTimeMatch           = "2.5.13.27"
	GeneralizedTimeOrderingMatch   = "2.5.13.28"
	CaseExactIA5Match              = "1.3.6.1.4.1.1466.109.114.1"
	CaseIgnoreIA5Match             = "1.3.6.1.4.1.1466.109.114.2"
	CaseIgnoreIA5SubstringsMatch   = "1.3.6.1.4.1.1466.109.114.3"
	UUIDMatch                      = "1.3.6.1.1.16.2"
	UUIDOrderingMatch              = "1.3.6.1.1.16.3"
)

// Syntax OIDs.
const (
	SyntaxDN              = "1.3.6.1.4.1.1466.115.121.1.12"
	SyntaxDirectoryString = "1.3.6.1.4.1.1466.115.121.1.15"
	SyntaxGeneralizedTime = "1.3.6.1.4.1.1466.115.121.1.24"
	SyntaxIA5String       = "1.3.6.1.4.1.1466.115.121.1.26"
	SyntaxInteger         = "1.3.6.1.4.1.1466.115.121.1.27"
	SyntaxOID             = "1.3.6.1.4.1.1466.115.121.1.38"
	SyntaxOctetString     = "1.3.6.1.4.1.1466.115.121.1.40"
	SyntaxTelephoneNumber = "1.3.6.1.4.1.1466.115.121.1.50"
	SyntaxUUID            = "1.3.6.1.1.16.1"
)

// GeneralizedTimeLayout is the canonical form produced by NormalizeGeneralizedTime.
// It has a fixed width, so normalized values order lexically.
const GeneralizedTimeLayout = "20060102150405.000000000Z"

// NormalizeCaseIgnore trims, collapses inner whitespace and folds case.
func NormalizeCaseIgnore(v string) (string, error) {
	return strings.ToLower(strings.Join(strings.Fields(v), " ")), nil
}

// NormalizeCaseExact trims and collapses inner whitespace.
func NormalizeCaseExact(v string) (string, error) {
	return strings.Join(strings.Fields(v), " "), nil
}

// NormalizeCaseIgnoreIA5 is NormalizeCaseIgnore restricted to IA5 characters.
func NormalizeCaseIgnoreIA5(v string) (string, error) {
	if err := checkIA5(v); err != nil {
		return "", err
	}
	return NormalizeCaseIgnore(v)
}

// NormalizeCaseExactIA5 is NormalizeCaseExact restricted to IA5 characters.
func NormalizeCaseExactIA5(v string) (string, error) {
	if err := checkIA5(v); err != nil {
		return "", err
	}
	return NormalizeCaseExact(v)
}

func checkIA5(v string) error {
	for _, r := range v {
		if r > unicode.MaxASCII {
			return fmt.Errorf("%w: non IA5 character %q", ErrInvalidValue, r)
		}
	}
	return nil
}

// NormalizeInteger returns the canonical decimal form of an INTEGER value.
func NormalizeInteger(v string) (string, error) {
	n, ok := new(big.Int).SetString(strings.TrimSpace(v), 10)
	if !ok {
		return "", fmt.Errorf("%w: %q is not an integer", ErrInvalidValue, v)
	}
	return n.String(), nil
}

// CompareInteger orders two normalized integers numerically.
func CompareInteger(a, b string) int {
	x, okA := new(big.Int).SetString(a, 10)
	y, okB := new(big.Int).SetString(b, 10)
	if !okA || !okB {
		return strings.Compare(a, b)
	}
	return x.Cmp(y)
}

var generalizedTimeLayouts = []string{
	"20060102150405Z0700",
	"20060102150405.999999999Z0700",
	"20060102150405,999999999Z0700",
	"200601021504Z0700",
	"2006010215Z0700",
}

// NormalizeGeneralizedTime parses a GeneralizedTime value and renders it in UTC
// using GeneralizedTimeLayout.
func NormalizeGeneralizedTime(v string) (string, error) {
	v = strings.TrimSpace(v)
	for _, layout := range generalizedTimeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC().Format(GeneralizedTimeLayout), nil
		}
	}
	return "", fmt.Errorf("%w: %q is not a generalized time", ErrInvalidValue, v)
}

// NormalizeOctetString leaves the value untouched.
func NormalizeOctetString(v string) (string, error) {
	return v, nil
}

// NormalizeTelephoneNumber drops spaces and hyphens and folds case.
func NormalizeTelephoneNumber(v string) (string, error) {
	return strings.ToLower(strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' {
			return -1
		}
		return r
	}, v)), nil
}

// NormalizeOID lower-cases a numeric OID or descriptor.
func NormalizeOID(v string) (string, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return "", fmt.Errorf("%w: empty object identifier", ErrInvalidValue)
	}
	return v, nil
}

// NormalizeUUID returns the canonical lower-case hyphenated UUID.
func NormalizeUUID(v string) (string, error) {
	id, err := uuid.Parse(strings.TrimSpace(v))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	return id.String(), nil
}

// NormalizeDN parses a DN and renders it with types and values case-folded.
func NormalizeDN(v string) (string, error) {
	dn, err := ldap.ParseDN(v)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	return strings.ToLower(dn.String()), nil
}

// CompareDN orders DNs structurally: RDNs are compared from the root down,
// and an ancestor sorts before its descendants.
func CompareDN(a, b string) int {
	da, errA := ldap.ParseDN(a)
	db, errB := ldap.ParseDN(b)
	if errA != nil || errB != nil {
		return strings.Compare(a, b)
	}
	i, j := len(da.RDNs)-1, len(db.RDNs)-1
	for i >= 0 && j >= 0 {
		ra := strings.ToLower(da.RDNs[i].String())
		rb := strings.ToLower(db.RDNs[j].String())
		if c := strings.Compare(ra, rb); c != 0 {
			return c
		}
		i--
		j--
	}
	switch {
	case i < 0 && j < 0:
		return 0
	case i < 0:
		return -1
	default:
		return 1
	}
}

type ruleDef struct {
	rule       MatchingRule
	normalizer Normalizer
	comparator Comparator
}

func builtinRules() []ruleDef {
	return []ruleDef{
		{MatchingRule{OID: ObjectIdentifierMatch, Names: []string{"objectIdentifierMatch"}, Kind: RuleEquality, Syntax: SyntaxOID}, NormalizeOID, strings.Compare},
		{MatchingRule{OID: DistinguishedNameMatch, Names: []string{"distinguishedNameMatch"}, Kind: RuleEquality, Syntax: SyntaxDN}, NormalizeDN, CompareDN},
		{MatchingRule{OID: CaseIgnoreMatch, Names: []string{"caseIgnoreMatch"}, Kind: RuleEquality, Syntax: SyntaxDirectoryString}, NormalizeCaseIgnore, strings.Compare},
		{MatchingRule{OID: CaseIgnoreOrderingMatch, Names: []string{"caseIgnoreOrderingMatch"}, Kind: RuleOrdering, Syntax: SyntaxDirectoryString}, NormalizeCaseIgnore, strings.Compare},
		{MatchingRule{OID: CaseIgnoreSubstringsMatch, Names: []string{"caseIgnoreSubstringsMatch"}, Kind: RuleSubstring, Syntax: SyntaxDirectoryString}, NormalizeCaseIgnore, nil},
		{MatchingRule{OID: CaseExactMatch, Names: []string{"caseExactMatch"}, Kind: RuleEquality, Syntax: SyntaxDirectoryString}, NormalizeCaseExact, strings.Compare},
		{MatchingRule{OID: CaseExactOrderingMatch, Names: []string{"caseExactOrderingMatch"}, Kind: RuleOrdering, Syntax: SyntaxDirectoryString}, NormalizeCaseExact, strings.Compare},
		{MatchingRule{OID: CaseExactSubstringsMatch, Names: []string{"caseExactSubstringsMatch"}, Kind: RuleSubstring, Syntax: SyntaxDirectoryString}, NormalizeCaseExact, nil},
		{MatchingRule{OID: IntegerMatch, Names: []string{"integerMatch"}, Kind: RuleEquality, Syntax: SyntaxInteger}, NormalizeInteger, CompareInteger},
		{MatchingRule{OID: IntegerOrderingMatch, Names: []string{"integerOrderingMatch"}, Kind: RuleOrdering, Syntax: SyntaxInteger}, NormalizeInteger, CompareInteger},
		{MatchingRule{OID: OctetStringMatch, Names: []string{"octetStringMatch"}, Kind: RuleEquality, Syntax: SyntaxOctetString}, NormalizeOctetString, strings.Compare},
		{MatchingRule{OID: OctetStringOrderingMatch, Names: []string{"octetStringOrderingMatch"}, Kind: RuleOrdering, Syntax: SyntaxOctetString}, NormalizeOctetString, strings.Compare},
		{MatchingRule{OID: TelephoneNumberMatch, Names: []string{"telephoneNumberMatch"}, Kind: RuleEquality, Syntax: SyntaxTelephoneNumber}, NormalizeTelephoneNumber, strings.Compare},
		{MatchingRule{OID: TelephoneNumberSubstringsMatch, Names: []string{"telephoneNumberSubstringsMatch"}, Kind: RuleSubstring, Syntax: SyntaxTelephoneNumber}, NormalizeTelephoneNumber, nil},
		{MatchingRule{OID: GeneralizedTimeMatch, Names: []string{"generalizedTimeMatch"}, Kind: RuleEquality, Syntax: SyntaxGeneralizedTime}, NormalizeGeneralizedTime, strings.Compare},
		{MatchingRule{OID: GeneralizedTimeOrderingMatch, Names: []string{"generalizedTimeOrderingMatch"}, Kind: RuleOrdering, Syntax: SyntaxGeneralizedTime}, NormalizeGeneralizedTime, strings.Compare},
		{MatchingRule{OID: CaseExactIA5Match, Names: []string{"caseExactIA5Match"}, Kind: RuleEquality, Syntax: SyntaxIA5String}, NormalizeCaseExactIA5, strings.Compare},
		{MatchingRule{OID: CaseIgnoreIA5Match, Names: []string{"caseIgnoreIA5Match"}, Kind: RuleEquality, Syntax: SyntaxIA5String}, NormalizeCaseIgnoreIA5, strings.Compare},
		{MatchingRule{OID: CaseIgnoreIA5SubstringsMatch, Names: []string{"caseIgnoreIA5SubstringsMatch"}, Kind: RuleSubstring, Syntax: SyntaxIA5String}, NormalizeCaseIgnoreIA5, nil},
		{MatchingRule{OID: UUIDMatch, Names: []string{"uuidMatch"}, Kind: RuleEquality, Syntax: SyntaxUUID}, NormalizeUUID, strings.Compare},
		{MatchingRule{OID: UUIDOrderingMatch, Names: []string{"uuidOrderingMatch"}, Kind: RuleOrdering, Syntax: SyntaxUUID}, NormalizeUUID, strings.Compare},
	}
}
