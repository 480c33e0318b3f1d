package extsort

import (
	"encoding/binary"
	"fmt"

	"github.com/go-ldap/ldap/v3"
	"github.com/vmihailenco/msgpack/v5"
)

// Key layout
// ==========
//
// Every sort index lives in its own Badger directory, so keys only need to
// separate the two phases of a sort:
//
// Data Type       Prefix  Key Format                        Value
// ==================================================================
// Run entries     'r'     r<run uint32 BE><seq uint64 BE>   entry (msgpack)
// Sorted entries  's'     s<position uint64 BE>             entry (msgpack)
//
// Runs are written in comparator order, so iterating a run prefix yields
// that run already sorted. The merge then assigns each entry its final
// position. Positions make every entry a distinct key, so entries that
// compare equal are never collapsed.

const (
	prefixRun    byte = 'r'
	prefixSorted byte = 's'
)

func runPrefix(run uint32) []byte {
	key := make([]byte, 5)
	key[0] = prefixRun
	binary.BigEndian.PutUint32(key[1:], run)
	return key
}

func runKey(run uint32, seq uint64) []byte {
	key := make([]byte, 13)
	key[0] = prefixRun
	binary.BigEndian.PutUint32(key[1:], run)
	binary.BigEndian.PutUint64(key[5:], seq)
	return key
}

func sortedKey(pos int64) []byte {
	key := make([]byte, 9)
	key[0] = prefixSorted
	binary.BigEndian.PutUint64(key[1:], uint64(pos))
	return key
}

// storedEntry is the on-disk form of an entry.
type storedEntry struct {
	DN         string            `msgpack:"dn"`
	Attributes []storedAttribute `msgpack:"attrs"`
}

type storedAttribute struct {
	Name   string   `msgpack:"n"`
	Values [][]byte `msgpack:"v"`
}

func encodeEntry(e *ldap.Entry) ([]byte, error) {
	se := storedEntry{DN: e.DN, Attributes: make([]storedAttribute, 0, len(e.Attributes))}
	for _, a := range e.Attributes {
		values := a.ByteValues
		if len(values) == 0 && len(a.Values) > 0 {
			values = make([][]byte, len(a.Values))
			for i, v := range a.Values {
				values[i] = []byte(v)
			}
		}
		se.Attributes = append(se.Attributes, storedAttribute{Name: a.Name, Values: values})
	}
	data, err := msgpack.Marshal(&se)
	if err != nil {
		return nil, fmt.Errorf("failed to encode entry %q: %w", e.DN, err)
	}
	return data, nil
}

func decodeEntry(data []byte) (*ldap.Entry, error) {
	var se storedEntry
	if err := msgpack.Unmarshal(data, &se); err != nil {
		return nil, fmt.Errorf("failed to decode entry: %w", err)
	}
	e := &ldap.Entry{DN: se.DN, Attributes: make([]*ldap.EntryAttribute, 0, len(se.Attributes))}
	for _, a := range se.Attributes {
		attr := &ldap.EntryAttribute{
			Name:       a.Name,
			Values:     make([]string, len(a.Values)),
			ByteValues: a.Values,
		}
		for i, v := range a.Values {
			attr.Values[i] = string(v)
		}
		e.Attributes = append(e.Attributes, attr)
	}
	return e, nil
}
