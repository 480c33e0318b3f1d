package schema

import "fmt"

// defaultAttributeTypes is the core attribute set from RFC 4512, RFC 4519,
// RFC 4530, RFC 5020 and RFC 3296. Order matters: superiors come first.
var defaultAttributeTypes = []AttributeType{
	{OID: "2.5.4.0", Names: []string{"objectClass"}, Equality: ObjectIdentifierMatch, Syntax: SyntaxOID},
	{OID: "2.5.4.41", Names: []string{"name"}, Equality: CaseIgnoreMatch, Substring: CaseIgnoreSubstringsMatch, Syntax: SyntaxDirectoryString},
	{OID: "2.5.4.3", Names: []string{"cn", "commonName"}, Sup: "name"},
	{OID: "2.5.4.4", Names: []string{"sn", "surname"}, Sup: "name"},
	{OID: "2.5.4.42", Names: []string{"givenName", "gn"}, Sup: "name"},
	{OID: "2.5.4.10", Names: []string{"o", "organizationName"}, Sup: "name"},
	{OID: "2.5.4.11", Names: []string{"ou", "organizationalUnitName"}, Sup: "name"},
	{OID: "2.5.4.12", Names: []string{"title"}, Sup: "name"},
	{OID: "2.5.4.7", Names: []string{"l", "localityName"}, Sup: "name"},
	{OID: "2.5.4.13", Names: []string{"description"}, Equality: CaseIgnoreMatch, Substring: CaseIgnoreSubstringsMatch, Syntax: SyntaxDirectoryString},
	{OID: "2.5.4.17", Names: []string{"postalCode"}, Equality: CaseIgnoreMatch, Substring: CaseIgnoreSubstringsMatch, Syntax: SyntaxDirectoryString},
	{OID: "2.5.4.20", Names: []string{"telephoneNumber"}, Equality: TelephoneNumberMatch, Substring: TelephoneNumberSubstringsMatch, Syntax: SyntaxTelephoneNumber},
	{OID: "2.5.4.31", Names: []string{"member"}, Equality: DistinguishedNameMatch, Syntax: SyntaxDN},
	{OID: "2.5.4.34", Names: []string{"seeAlso"}, Equality: DistinguishedNameMatch, Syntax: SyntaxDN},
	{OID: "2.5.4.35", Names: []string{"userPassword"}, Equality: OctetStringMatch, Syntax: SyntaxOctetString},
	{OID: "0.9.2342.19200300.100.1.1", Names: []string{"uid", "userid"}, Equality: CaseIgnoreMatch, Substring: CaseIgnoreSubstringsMatch, Syntax: SyntaxDirectoryString},
	{OID: "0.9.2342.19200300.100.1.3", Names: []string{"mail", "rfc822Mailbox"}, Equality: CaseIgnoreIA5Match, Substring: CaseIgnoreIA5SubstringsMatch, Syntax: SyntaxIA5String},
	{OID: "0.9.2342.19200300.100.1.25", Names: []string{"dc", "domainComponent"}, Equality: CaseIgnoreIA5Match, Substring: CaseIgnoreIA5SubstringsMatch, Syntax: SyntaxIA5String, SingleValue: true},
	{OID: "1.3.6.1.1.1.1.0", Names: []string{"uidNumber"}, Equality: IntegerMatch, Ordering: IntegerOrderingMatch, Syntax: SyntaxInteger, SingleValue: true},
	{OID: "1.3.6.1.1.1.1.1", Names: []string{"gidNumber"}, Equality: IntegerMatch, Ordering: IntegerOrderingMatch, Syntax: SyntaxInteger, SingleValue: true},
	{OID: "2.16.840.1.113730.3.1.3", Names: []string{"employeeNumber"}, Equality: CaseIgnoreMatch, Substring: CaseIgnoreSubstringsMatch, Syntax: SyntaxDirectoryString, SingleValue: true},
	{OID: "2.16.840.1.113730.3.1.241", Names: []string{"displayName"}, Equality: CaseIgnoreMatch, Ordering: CaseIgnoreOrderingMatch, Substring: CaseIgnoreSubstringsMatch, Syntax: SyntaxDirectoryString, SingleValue: true},
	{OID: "2.16.840.1.113730.3.1.34", Names: []string{"ref"}, Equality: CaseExactMatch, Syntax: SyntaxDirectoryString, Usage: DistributedOperation},
	{OID: "2.5.18.1", Names: []string{"createTimestamp"}, Equality: GeneralizedTimeMatch, Ordering: GeneralizedTimeOrderingMatch, Syntax: SyntaxGeneralizedTime, SingleValue: true, NoUserModification: true, Usage: DirectoryOperation},
	{OID: "2.5.18.2", Names: []string{"modifyTimestamp"}, Equality: GeneralizedTimeMatch, Ordering: GeneralizedTimeOrderingMatch, Syntax: SyntaxGeneralizedTime, SingleValue: true, NoUserModification: true, Usage: DirectoryOperation},
	{OID: "2.5.18.3", Names: []string{"creatorsName"}, Equality: DistinguishedNameMatch, Syntax: SyntaxDN, SingleValue: true, NoUserModification: true, Usage: DirectoryOperation},
	{OID: "2.5.18.4", Names: []string{"modifiersName"}, Equality: DistinguishedNameMatch, Syntax: SyntaxDN, SingleValue: true, NoUserModification: true, Usage: DirectoryOperation},
	{OID: "2.5.18.10", Names: []string{"subschemaSubentry"}, Equality: DistinguishedNameMatch, Syntax: SyntaxDN, SingleValue: true, NoUserModification: true, Usage: DirectoryOperation},
	{OID: "2.5.21.4", Names: []string{"matchingRules"}, Equality: ObjectIdentifierMatch, Syntax: SyntaxOID, Usage: DirectoryOperation},
	{OID: "2.5.21.5", Names: []string{"attributeTypes"}, Equality: ObjectIdentifierMatch, Syntax: SyntaxOID, Usage: DirectoryOperation},
	{OID: "1.3.6.1.1.16.4", Names: []string{"entryUUID"}, Equality: UUIDMatch, Ordering: UUIDOrderingMatch, Syntax: SyntaxUUID, SingleValue: true, NoUserModification: true, Usage: DirectoryOperation},
	{OID: "1.3.6.1.1.20", Names: []string{EntryDN}, Equality: DistinguishedNameMatch, Syntax: SyntaxDN, SingleValue: true, NoUserModification: true, Usage: DirectoryOperation},
}

// Default returns a schema loaded with the built-in matching rules and the
// core attribute types.
func Default() *Schema {
	s := New()
	for _, def := range builtinRules() {
		if err := s.AddMatchingRule(def.rule, def.normalizer, def.comparator); err != nil {
			panic(fmt.Sprintf("schema: built-in rule: %v", err))
		}
	}
	for _, at := range defaultAttributeTypes {
		if err := s.AddAttributeType(at); err != nil {
			panic(fmt.Sprintf("schema: built-in attribute: %v", err))
		}
	}
	return s
}
