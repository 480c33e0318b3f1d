package schema

import (
	"sync"

	"github.com/go-ldap/ldap/v3"
)

// SubschemaDN is the DN of the subschema subentry published by the server.
const SubschemaDN = "cn=schema"

// SubschemaCache publishes the schema as an RFC 4512 subschema subentry.
//
// The entry is rendered on first use and kept until Invalidate is called.
// NewSubschemaCache registers Invalidate as a change hook on the schema, so
// loading an extension refreshes the published entry.
type SubschemaCache struct {
	schema *Schema

	mu    sync.Mutex
	entry *ldap.Entry
	built uint64
}

// NewSubschemaCache creates a cache bound to s.
func NewSubschemaCache(s *Schema) *SubschemaCache {
	c := &SubschemaCache{schema: s}
	s.OnChange(c.Invalidate)
	return c
}

// Entry returns the subschema subentry, building it if needed.
// Callers must not modify the returned entry.
func (c *SubschemaCache) Entry() *ldap.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.entry == nil {
		c.entry = c.build()
		c.built++
	}
	return c.entry
}

// Invalidate drops the cached entry.
func (c *SubschemaCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entry = nil
}

// Builds reports how many times the entry has been rendered.
func (c *SubschemaCache) Builds() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.built
}

func (c *SubschemaCache) build() *ldap.Entry {
	ats := c.schema.AttributeTypes()
	mrs := c.schema.MatchingRules()

	atValues := make([]string, 0, len(ats))
	for _, at := range ats {
		atValues = append(atValues, at.String())
	}
	mrValues := make([]string, 0, len(mrs))
	for _, mr := range mrs {
		mrValues = append(mrValues, mr.String())
	}

	return ldap.NewEntry(SubschemaDN, map[string][]string{
		"objectClass":    {"top", "subentry", "subschema", "extensibleObject"},
		"cn":             {"schema"},
		"attributeTypes": atValues,
		"matchingRules":  mrValues,
	})
}
