package badger

import (
	"encoding/json"
	"fmt"

	"github.com/go-ldap/ldap/v3"
)

// record is the stored form of an entry. Values are kept as strings; the
// byte form is rebuilt on decode.
type record struct {
	DN         string      `json:"dn"`
	Parent     string      `json:"parent"`
	Attributes []attribute `json:"attributes"`
}

type attribute struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

func encodeRecord(parent string, e *ldap.Entry) ([]byte, error) {
	rec := record{DN: e.DN, Parent: parent, Attributes: make([]attribute, 0, len(e.Attributes))}
	for _, a := range e.Attributes {
		rec.Attributes = append(rec.Attributes, attribute{Name: a.Name, Values: a.Values})
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode entry %s: %w", e.DN, err)
	}
	return data, nil
}

func decodeRecord(data []byte) (*record, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode entry: %w", err)
	}
	return &rec, nil
}

func (r *record) entry() *ldap.Entry {
	e := &ldap.Entry{DN: r.DN, Attributes: make([]*ldap.EntryAttribute, 0, len(r.Attributes))}
	for _, a := range r.Attributes {
		ea := &ldap.EntryAttribute{Name: a.Name, Values: append([]string(nil), a.Values...)}
		for _, v := range a.Values {
			ea.ByteValues = append(ea.ByteValues, []byte(v))
		}
		e.Attributes = append(e.Attributes, ea)
	}
	return e
}
