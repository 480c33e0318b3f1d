// Package sorting implements RFC 2891 server-side sorting: the request and
// response controls, validation of a sort request against the schema, and
// resolution of the comparator that orders entries by the sort key.
package sorting

import (
	"errors"
	"fmt"

	ber "github.com/go-asn1-ber/asn1-ber"
	"github.com/go-ldap/ldap/v3"
)

// ErrMalformedControl is returned when a sort control value cannot be decoded.
var ErrMalformedControl = errors.New("malformed sort control")

// SortKey names the attribute to sort on, an optional ordering rule and the
// direction.
type SortKey struct {
	AttributeType string
	MatchingRule  string
	Reverse       bool
}

// ============================================================================
// Sort request control (1.2.840.113556.1.4.473)
// ============================================================================

// SortRequest is the client's sort control.
//
//	SortKeyList ::= SEQUENCE OF SEQUENCE {
//	    attributeType   AttributeDescription,
//	    orderingRule    [0] MatchingRuleId OPTIONAL,
//	    reverseOrder    [1] BOOLEAN DEFAULT FALSE }
type SortRequest struct {
	Criticality bool
	Keys        []SortKey
}

// NewSortRequest builds a request control for the given keys.
func NewSortRequest(critical bool, keys ...SortKey) *SortRequest {
	return &SortRequest{Criticality: critical, Keys: keys}
}

// GetControlType returns the OID.
func (c *SortRequest) GetControlType() string {
	return ldap.ControlTypeServerSideSorting
}

// Encode returns the ber packet representation.
func (c *SortRequest) Encode() *ber.Packet {
	packet := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Control")
	packet.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, c.GetControlType(), "Control Type (Server Side Sorting)"))
	if c.Criticality {
		packet.AppendChild(ber.NewBoolean(ber.ClassUniversal, ber.TypePrimitive, ber.TagBoolean, true, "Criticality"))
	}

	value := ber.Encode(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, nil, "Control Value")
	value.AppendChild(c.encodeKeys())
	packet.AppendChild(value)
	return packet
}

func (c *SortRequest) encodeKeys() *ber.Packet {
	seqs := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "SortKeyList")
	for _, k := range c.Keys {
		seq := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "SortKey")
		seq.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, k.AttributeType, "attributeType"))
		if k.MatchingRule != "" {
			seq.AppendChild(ber.NewString(ber.ClassContext, ber.TypePrimitive, 0, k.MatchingRule, "orderingRule"))
		}
		if k.Reverse {
			seq.AppendChild(ber.NewBoolean(ber.ClassContext, ber.TypePrimitive, 1, true, "reverseOrder"))
		}
		seqs.AppendChild(seq)
	}
	return seqs
}

// String returns a human-readable description.
func (c *SortRequest) String() string {
	return fmt.Sprintf("Control Type: %s (%q)  Criticality: %t Keys: %+v",
		"Server Side Sorting", c.GetControlType(), c.Criticality, c.Keys)
}

// DecodeSortRequest parses the control value of a sort request.
func DecodeSortRequest(critical bool, value []byte) (*SortRequest, error) {
	list, err := ber.DecodePacketErr(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedControl, err)
	}
	if list.Tag != ber.TagSequence {
		return nil, fmt.Errorf("%w: expected SortKeyList sequence", ErrMalformedControl)
	}

	req := &SortRequest{Criticality: critical}
	for i, seq := range list.Children {
		if len(seq.Children) == 0 {
			return nil, fmt.Errorf("%w: sort key %d has no attribute", ErrMalformedControl, i)
		}
		attr, ok := seq.Children[0].Value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: sort key %d attribute is not a string", ErrMalformedControl, i)
		}
		key := SortKey{AttributeType: attr}
		for _, opt := range seq.Children[1:] {
			if opt.ClassType != ber.ClassContext {
				return nil, fmt.Errorf("%w: sort key %d has unexpected element", ErrMalformedControl, i)
			}
			switch opt.Tag {
			case 0:
				key.MatchingRule = string(opt.Data.Bytes())
			case 1:
				v, err := ber.ParseInt64(opt.Data.Bytes())
				if err != nil {
					return nil, fmt.Errorf("%w: %v", ErrMalformedControl, err)
				}
				key.Reverse = v != 0
			default:
				return nil, fmt.Errorf("%w: sort key %d has unknown tag %d", ErrMalformedControl, i, opt.Tag)
			}
		}
		req.Keys = append(req.Keys, key)
	}
	return req, nil
}

// FindSortRequest extracts the sort request from a control list. Besides
// *SortRequest it accepts go-ldap's *ldap.ControlServerSideSorting (which
// carries no criticality) and an undecoded *ldap.ControlString.
func FindSortRequest(controls []ldap.Control) (*SortRequest, error) {
	c := ldap.FindControl(controls, ldap.ControlTypeServerSideSorting)
	if c == nil {
		return nil, nil
	}

	switch ctrl := c.(type) {
	case *SortRequest:
		return ctrl, nil
	case *ldap.ControlServerSideSorting:
		req := &SortRequest{}
		for _, k := range ctrl.SortKeys {
			req.Keys = append(req.Keys, SortKey{
				AttributeType: k.AttributeType,
				MatchingRule:  k.MatchingRule,
				Reverse:       k.Reverse,
			})
		}
		return req, nil
	case *ldap.ControlString:
		return DecodeSortRequest(ctrl.Criticality, []byte(ctrl.ControlValue))
	default:
		return nil, fmt.Errorf("%w: unsupported control type %T", ErrMalformedControl, c)
	}
}

// ============================================================================
// Sort response control (1.2.840.113556.1.4.474)
// ============================================================================

// SortResponse reports the outcome of sorting.
//
//	SortResult ::= SEQUENCE {
//	    sortResult  ENUMERATED,
//	    attributeType [0] AttributeDescription OPTIONAL }
type SortResponse struct {
	Result        ldap.ControlServerSideSortingCode
	AttributeType string
}

// Success reports whether the sort request was accepted.
func (c *SortResponse) Success() bool {
	return c.Result == ldap.ControlServerSideSortingCodeSuccess
}

// GetControlType returns the OID.
func (c *SortResponse) GetControlType() string {
	return ldap.ControlTypeServerSideSortingResult
}

// Encode returns the ber packet representation.
func (c *SortResponse) Encode() *ber.Packet {
	packet := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Control")
	packet.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, c.GetControlType(), "Control Type (Server Side Sorting Result)"))

	value := ber.Encode(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, nil, "Control Value")
	seq := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "SortResult")
	seq.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagEnumerated, int64(c.Result), "sortResult"))
	if c.AttributeType != "" {
		seq.AppendChild(ber.NewString(ber.ClassContext, ber.TypePrimitive, 0, c.AttributeType, "attributeType"))
	}
	value.AppendChild(seq)
	packet.AppendChild(value)
	return packet
}

// String returns a human-readable description.
func (c *SortResponse) String() string {
	return fmt.Sprintf("Control Type: %s (%q)  Result: %d Attribute: %q",
		"Server Side Sorting Result", c.GetControlType(), c.Result, c.AttributeType)
}

// DecodeSortResponse parses the control value of a sort response.
func DecodeSortResponse(value []byte) (*SortResponse, error) {
	seq, err := ber.DecodePacketErr(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedControl, err)
	}
	if len(seq.Children) == 0 {
		return nil, fmt.Errorf("%w: missing sortResult", ErrMalformedControl)
	}
	code, err := ber.ParseInt64(seq.Children[0].Data.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedControl, err)
	}
	resp := &SortResponse{Result: ldap.ControlServerSideSortingCode(code)}
	if err := resp.Result.Valid(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedControl, err)
	}
	if len(seq.Children) > 1 {
		resp.AttributeType = string(seq.Children[1].Data.Bytes())
	}
	return resp, nil
}
