package schema

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// extensionFile is the YAML layout of a schema extension file:
//
//	attribute_types:
//	  - oid: 1.3.6.1.4.1.55555.1.1
//	    names: [roomNumber]
//	    equality: caseIgnoreMatch
//	    ordering: caseIgnoreOrderingMatch
//	    syntax: 1.3.6.1.4.1.1466.115.121.1.15
//	    usage: userApplications
//
// Extensions may only reference matching rules that are already registered.
type extensionFile struct {
	AttributeTypes []attributeTypeEntry `yaml:"attribute_types"`
}

type attributeTypeEntry struct {
	AttributeType `yaml:",inline"`
	Usage         string `yaml:"usage"`
}

func parseUsage(s string) (Usage, error) {
	switch strings.ToLower(s) {
	case "", "userapplications":
		return UserApplications, nil
	case "directoryoperation":
		return DirectoryOperation, nil
	case "distributedoperation":
		return DistributedOperation, nil
	case "dsaoperation":
		return DSAOperation, nil
	default:
		return UserApplications, fmt.Errorf("unknown usage %q", s)
	}
}

// LoadExtensions reads a YAML extension document and registers its
// attribute types. Change hooks run once when at least one type was added.
//
// Returns the number of attribute types registered. Types registered before
// a failing entry stay registered.
func (s *Schema) LoadExtensions(r io.Reader) (int, error) {
	var file extensionFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		if err == io.EOF {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to parse schema extension: %w", err)
	}

	added := 0
	defer func() {
		if added > 0 {
			s.notify()
		}
	}()

	for i, entry := range file.AttributeTypes {
		usage, err := parseUsage(entry.Usage)
		if err != nil {
			return added, fmt.Errorf("attribute_types[%d]: %w", i, err)
		}
		at := entry.AttributeType
		at.Usage = usage
		if err := s.AddAttributeType(at); err != nil {
			return added, fmt.Errorf("attribute_types[%d]: %w", i, err)
		}
		added++
	}
	return added, nil
}

// LoadFile loads a schema extension file from disk.
func (s *Schema) LoadFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open schema file: %w", err)
	}
	defer f.Close()

	n, err := s.LoadExtensions(f)
	if err != nil {
		return n, fmt.Errorf("%s: %w", path, err)
	}
	return n, nil
}
