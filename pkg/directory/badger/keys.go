package badger

// Key Namespace
// =============
//
// Prefix   Key Format                  Value
// ==========================================================
// "e:"     e:<ndn>                     entry record (JSON)
// "c:"     c:<parent ndn>\x00<ndn>     empty
//
// Entries are addressed by normalized DN. The children index is a range of
// keys per parent, so listing children is a prefix scan. Root entries (the
// suffix of a partition) have no children-index key.

const (
	prefixEntry = "e:"
	prefixChild = "c:"

	childSeparator = "\x00"
)

func entryKey(ndn string) []byte {
	return []byte(prefixEntry + ndn)
}

func childPrefix(parent string) []byte {
	return []byte(prefixChild + parent + childSeparator)
}

func childKey(parent, ndn string) []byte {
	return []byte(prefixChild + parent + childSeparator + ndn)
}

// childFromKey returns the child DN of a children-index key under prefix.
func childFromKey(key, prefix []byte) string {
	return string(key[len(prefix):])
}
