package sorting

import (
	"sort"
	"testing"

	ber "github.com/go-asn1-ber/asn1-ber"
	"github.com/go-ldap/ldap/v3"
	"github.com/marmos91/dittoldap/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func controlValue(t *testing.T, packet *ber.Packet) []byte {
	t.Helper()
	require.NotEmpty(t, packet.Children)
	last := packet.Children[len(packet.Children)-1]
	return last.Data.Bytes()
}

// ============================================================================
// Controls
// ============================================================================

func TestSortRequestControl(t *testing.T) {
	t.Run("EncodeDecode", func(t *testing.T) {
		req := NewSortRequest(true,
			SortKey{AttributeType: "sn", MatchingRule: "caseIgnoreOrderingMatch", Reverse: true},
			SortKey{AttributeType: "cn"},
		)
		packet := req.Encode()
		require.Len(t, packet.Children, 3)
		assert.Equal(t, ldap.ControlTypeServerSideSorting, packet.Children[0].Value)

		decoded, err := DecodeSortRequest(true, controlValue(t, packet))
		require.NoError(t, err)
		assert.Equal(t, req, decoded)
	})

	t.Run("NonCriticalOmitsCriticality", func(t *testing.T) {
		packet := NewSortRequest(false, SortKey{AttributeType: "sn"}).Encode()
		assert.Len(t, packet.Children, 2)
	})

	t.Run("Garbage", func(t *testing.T) {
		_, err := DecodeSortRequest(false, []byte{0x01})
		assert.ErrorIs(t, err, ErrMalformedControl)
	})

	t.Run("FindNative", func(t *testing.T) {
		want := NewSortRequest(true, SortKey{AttributeType: "sn"})
		got, err := FindSortRequest([]ldap.Control{ldap.NewControlManageDsaIT(false), want})
		require.NoError(t, err)
		assert.Same(t, want, got)
	})

	t.Run("FindGoLDAPControl", func(t *testing.T) {
		ctrl := ldap.NewControlServerSideSortingWithSortKeys([]*ldap.SortKey{
			{AttributeType: "uidNumber", Reverse: true},
		})
		got, err := FindSortRequest([]ldap.Control{ctrl})
		require.NoError(t, err)
		assert.False(t, got.Criticality)
		assert.Equal(t, []SortKey{{AttributeType: "uidNumber", Reverse: true}}, got.Keys)
	})

	t.Run("FindUndecoded", func(t *testing.T) {
		value := controlValue(t, NewSortRequest(true, SortKey{AttributeType: "mail"}).Encode())
		raw := ldap.NewControlString(ldap.ControlTypeServerSideSorting, true, string(value))

		got, err := FindSortRequest([]ldap.Control{raw})
		require.NoError(t, err)
		assert.True(t, got.Criticality)
		assert.Equal(t, "mail", got.Keys[0].AttributeType)
	})

	t.Run("FindAbsent", func(t *testing.T) {
		got, err := FindSortRequest(nil)
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestSortResponseControl(t *testing.T) {
	resp := &SortResponse{Result: ldap.ControlServerSideSortingCodeNoSuchAttribute, AttributeType: "zzz"}
	decoded, err := DecodeSortResponse(controlValue(t, resp.Encode()))
	require.NoError(t, err)
	assert.Equal(t, resp, decoded)
	assert.False(t, decoded.Success())

	ok := &SortResponse{Result: ldap.ControlServerSideSortingCodeSuccess}
	decoded, err = DecodeSortResponse(controlValue(t, ok.Encode()))
	require.NoError(t, err)
	assert.True(t, decoded.Success())
	assert.Empty(t, decoded.AttributeType)
}

// ============================================================================
// Resolver
// ============================================================================

func testSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s := schema.Default()
	require.NoError(t, s.AddAttributeType(schema.AttributeType{
		OID: "1.3.6.1.4.1.55555.9.1", Names: []string{"opaque"},
	}))
	require.NoError(t, s.AddAttributeType(schema.AttributeType{
		OID: "1.3.6.1.4.1.55555.9.2", Names: []string{"fragment"}, Equality: schema.CaseIgnoreSubstringsMatch,
	}))
	return s
}

func TestResolveComparator(t *testing.T) {
	s := testSchema(t)
	attr := func(name string) *schema.AttributeType {
		at, err := s.AttributeType(name)
		require.NoError(t, err)
		return at
	}

	t.Run("OrderingRule", func(t *testing.T) {
		c, err := ResolveComparator(attr("uidNumber"), "", s)
		require.NoError(t, err)
		assert.Equal(t, schema.IntegerOrderingMatch, c.Rule().OID)
		assert.Equal(t, -1, c.Compare("9", "10"))
	})

	t.Run("FallsBackToEquality", func(t *testing.T) {
		c, err := ResolveComparator(attr("sn"), "", s)
		require.NoError(t, err)
		assert.Equal(t, schema.CaseIgnoreMatch, c.Rule().OID)
		assert.Equal(t, 0, c.Compare("ALICE", "alice"))
	})

	t.Run("ExplicitRule", func(t *testing.T) {
		c, err := ResolveComparator(attr("sn"), "caseExactOrderingMatch", s)
		require.NoError(t, err)
		assert.Equal(t, schema.CaseExactOrderingMatch, c.Rule().OID)
		assert.Equal(t, -1, c.Compare("Alice", "alice"))
	})

	t.Run("EntryDNIgnoresRule", func(t *testing.T) {
		c, err := ResolveComparator(attr("entryDN"), "caseExactMatch", s)
		require.NoError(t, err)
		assert.Equal(t, schema.DistinguishedNameMatch, c.Rule().OID)
		assert.Equal(t, -1, c.Compare("dc=com", "dc=example,dc=com"))
	})

	t.Run("NoRules", func(t *testing.T) {
		_, err := ResolveComparator(attr("opaque"), "", s)
		assert.ErrorIs(t, err, schema.ErrNoSuchMatchingRule)
	})

	t.Run("RuleWithoutComparator", func(t *testing.T) {
		_, err := ResolveComparator(attr("fragment"), "", s)
		assert.ErrorIs(t, err, schema.ErrNoSuchMatchingRule)
	})

	t.Run("NormalizationFailureComparesEqual", func(t *testing.T) {
		c, err := ResolveComparator(attr("uidNumber"), "", s)
		require.NoError(t, err)
		assert.Equal(t, 0, c.Compare("not-a-number", "5"))
		assert.Equal(t, 0, c.Compare("5", "not-a-number"))
	})
}

// ============================================================================
// Validator
// ============================================================================

func TestValidate(t *testing.T) {
	s := testSchema(t)

	tests := []struct {
		name string
		keys []SortKey
		code ldap.ControlServerSideSortingCode
		attr string
	}{
		{"Success", []SortKey{{AttributeType: "sn"}}, ldap.ControlServerSideSortingCodeSuccess, ""},
		{"SuccessWithOrderingRule", []SortKey{{AttributeType: "uidNumber", MatchingRule: "2.5.13.15"}}, ldap.ControlServerSideSortingCodeSuccess, ""},
		{"SuccessRuleByName", []SortKey{{AttributeType: "uidNumber", MatchingRule: "integerOrderingMatch"}}, ldap.ControlServerSideSortingCodeSuccess, ""},
		{"TwoValidKeys", []SortKey{{AttributeType: "sn"}, {AttributeType: "cn"}}, ldap.ControlServerSideSortingCodeUnwillingToPerform, ""},
		{"TwoInvalidKeys", []SortKey{{AttributeType: "zzz"}, {AttributeType: "yyy"}}, ldap.ControlServerSideSortingCodeUnwillingToPerform, ""},
		{"NoKeys", nil, ldap.ControlServerSideSortingCodeUnwillingToPerform, ""},
		{"UnknownAttribute", []SortKey{{AttributeType: "zzz"}}, ldap.ControlServerSideSortingCodeNoSuchAttribute, "zzz"},
		{"RuleDiffersFromOrdering", []SortKey{{AttributeType: "sn", MatchingRule: "caseExactOrderingMatch"}}, ldap.ControlServerSideSortingCodeInappropriateMatching, "sn"},
		{"UnknownRule", []SortKey{{AttributeType: "uidNumber", MatchingRule: "1.2.3.4"}}, ldap.ControlServerSideSortingCodeInappropriateMatching, "uidNumber"},
		{"RuleWithoutComparator", []SortKey{{AttributeType: "fragment"}}, ldap.ControlServerSideSortingCodeInappropriateMatching, "fragment"},
		{"NoRules", []SortKey{{AttributeType: "opaque"}}, ldap.ControlServerSideSortingCodeInappropriateMatching, "opaque"},
		{"EntryDN", []SortKey{{AttributeType: "entryDN"}}, ldap.ControlServerSideSortingCodeSuccess, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := Validate(&SortRequest{Keys: tt.keys}, s)
			assert.Equal(t, tt.code, resp.Result)
			assert.Equal(t, tt.attr, resp.AttributeType)
		})
	}
}

func TestPlan(t *testing.T) {
	s := testSchema(t)

	resp, cmp := Plan(NewSortRequest(false, SortKey{AttributeType: "zzz"}), s)
	assert.Equal(t, ldap.ControlServerSideSortingCodeNoSuchAttribute, resp.Result)
	assert.Nil(t, cmp)

	resp, cmp = Plan(NewSortRequest(false, SortKey{AttributeType: "sn"}), s)
	assert.True(t, resp.Success())
	assert.NotNil(t, cmp)
}

// ============================================================================
// Entry ordering
// ============================================================================

func person(sn string) *ldap.Entry {
	attrs := map[string][]string{"objectClass": {"person"}, "cn": {sn}}
	if sn != "" {
		attrs["sn"] = []string{sn}
	}
	return ldap.NewEntry("cn="+sn+",ou=people,dc=example,dc=com", attrs)
}

func sortedNames(t *testing.T, s *schema.Schema, key SortKey, entries []*ldap.Entry) []string {
	t.Helper()
	resp, cmp := Plan(NewSortRequest(false, key), s)
	require.True(t, resp.Success())

	sort.SliceStable(entries, func(i, j int) bool { return cmp.Compare(entries[i], entries[j]) < 0 })
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.GetAttributeValue("cn")
	}
	return names
}

func TestEntryComparator(t *testing.T) {
	s := testSchema(t)

	t.Run("Ascending", func(t *testing.T) {
		got := sortedNames(t, s, SortKey{AttributeType: "sn"},
			[]*ldap.Entry{person("Charlie"), person("Alice"), person("Bob")})
		assert.Equal(t, []string{"Alice", "Bob", "Charlie"}, got)
	})

	t.Run("Reverse", func(t *testing.T) {
		got := sortedNames(t, s, SortKey{AttributeType: "sn", Reverse: true},
			[]*ldap.Entry{person("Charlie"), person("Alice"), person("Bob")})
		assert.Equal(t, []string{"Charlie", "Bob", "Alice"}, got)
	})

	t.Run("CaseInsensitive", func(t *testing.T) {
		got := sortedNames(t, s, SortKey{AttributeType: "surname"},
			[]*ldap.Entry{person("bob"), person("ALICE"), person("Carol")})
		assert.Equal(t, []string{"ALICE", "bob", "Carol"}, got)
	})

	t.Run("MissingAttributeSortsLast", func(t *testing.T) {
		missing := ldap.NewEntry("cn=Nobody,dc=example,dc=com", map[string][]string{"cn": {"Nobody"}})
		got := sortedNames(t, s, SortKey{AttributeType: "sn"},
			[]*ldap.Entry{missing, person("Bob"), person("Alice")})
		assert.Equal(t, []string{"Alice", "Bob", "Nobody"}, got)

		got = sortedNames(t, s, SortKey{AttributeType: "sn", Reverse: true},
			[]*ldap.Entry{person("Bob"), missing, person("Alice")})
		assert.Equal(t, []string{"Nobody", "Bob", "Alice"}, got)
	})

	t.Run("MultiValuedUsesLeastValue", func(t *testing.T) {
		multi := ldap.NewEntry("cn=Multi,dc=example,dc=com", map[string][]string{
			"cn": {"Multi"}, "sn": {"Zed", "Aaron"},
		})
		got := sortedNames(t, s, SortKey{AttributeType: "sn"},
			[]*ldap.Entry{person("Bob"), multi})
		assert.Equal(t, []string{"Multi", "Bob"}, got)

		got = sortedNames(t, s, SortKey{AttributeType: "sn", Reverse: true},
			[]*ldap.Entry{person("Bob"), multi})
		assert.Equal(t, []string{"Multi", "Bob"}, got)
	})

	t.Run("NumericOrdering", func(t *testing.T) {
		mk := func(cn, n string) *ldap.Entry {
			return ldap.NewEntry("cn="+cn+",dc=x", map[string][]string{"cn": {cn}, "uidNumber": {n}})
		}
		got := sortedNames(t, s, SortKey{AttributeType: "uidNumber"},
			[]*ldap.Entry{mk("a", "100"), mk("b", "20"), mk("c", "3")})
		assert.Equal(t, []string{"c", "b", "a"}, got)
	})

	t.Run("DistinctEntriesNeverEqual", func(t *testing.T) {
		resp, cmp := Plan(NewSortRequest(false, SortKey{AttributeType: "sn"}), s)
		require.True(t, resp.Success())
		a := ldap.NewEntry("cn=a,dc=x", map[string][]string{"sn": {"Same"}})
		b := ldap.NewEntry("cn=b,dc=x", map[string][]string{"sn": {"same"}})
		assert.Equal(t, -1, cmp.Compare(a, b))
		assert.Equal(t, 1, cmp.Compare(b, a))
		assert.Equal(t, 0, cmp.Compare(a, a))
	})

	t.Run("EntryDN", func(t *testing.T) {
		got := sortedNames(t, s, SortKey{AttributeType: "entryDN"}, []*ldap.Entry{
			ldap.NewEntry("cn=b,ou=x,dc=com", map[string][]string{"cn": {"b"}}),
			ldap.NewEntry("ou=x,dc=com", map[string][]string{"cn": {"x"}}),
			ldap.NewEntry("cn=a,ou=x,dc=com", map[string][]string{"cn": {"a"}}),
		})
		assert.Equal(t, []string{"x", "a", "b"}, got)
	})
}
