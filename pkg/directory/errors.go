package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-ldap/ldap/v3"
	"github.com/marmos91/dittoldap/pkg/cursor"
)

// DirectoryError is a domain error raised by partitions and the nexus.
//
// Code is an LDAP result code. Protocol layers send it to the client as is,
// together with MatchedDN when the target could only be partially resolved.
type DirectoryError struct {
	// Code is the LDAP result code (ldap.LDAPResult* constants)
	Code uint16

	// Message is a human-readable diagnostic
	Message string

	// DN is the distinguished name the operation targeted (if applicable)
	DN string

	// MatchedDN is the deepest existing ancestor of DN, set for noSuchObject
	MatchedDN string

	// Err is the underlying cause, if any
	Err error
}

// Error implements the error interface.
func (e *DirectoryError) Error() string {
	name := ldap.LDAPResultCodeMap[e.Code]
	if name == "" {
		name = fmt.Sprintf("result code %d", e.Code)
	}
	if e.DN != "" {
		return fmt.Sprintf("%s: %s: %s", name, e.Message, e.DN)
	}
	return fmt.Sprintf("%s: %s", name, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DirectoryError) Unwrap() error {
	return e.Err
}

// WrapError reports err to clients with code while keeping it in the chain.
func WrapError(code uint16, dn string, err error) *DirectoryError {
	return &DirectoryError{
		Code:    code,
		Message: err.Error(),
		DN:      dn,
		Err:     err,
	}
}

// NewError creates a DirectoryError for dn.
func NewError(code uint16, dn string, format string, args ...any) *DirectoryError {
	return &DirectoryError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		DN:      dn,
	}
}

// noSuchObject builds a noSuchObject error carrying the matched DN.
func noSuchObject(dn, matched string) *DirectoryError {
	return &DirectoryError{
		Code:      ldap.LDAPResultNoSuchObject,
		Message:   "no such object",
		DN:        dn,
		MatchedDN: matched,
	}
}

// AsError extracts a DirectoryError from err's chain.
func AsError(err error) (*DirectoryError, bool) {
	var de *DirectoryError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// ResultCode maps err to the LDAP result code a client should receive.
//
// DirectoryError and go-ldap errors keep their code, cancellation maps to
// canceled, and anything else is reported as other.
func ResultCode(err error) uint16 {
	if err == nil {
		return ldap.LDAPResultSuccess
	}
	if de, ok := AsError(err); ok {
		return de.Code
	}
	var le *ldap.Error
	if errors.As(err, &le) {
		return le.ResultCode
	}
	switch {
	case errors.Is(err, context.Canceled):
		return ldap.LDAPResultCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return ldap.LDAPResultTimeLimitExceeded
	case errors.Is(err, cursor.ErrUnsupportedOperation):
		return ldap.LDAPResultUnwillingToPerform
	}
	return ldap.LDAPResultOther
}

// MatchedDN returns the matched DN carried by err, if any.
func MatchedDN(err error) string {
	if de, ok := AsError(err); ok {
		return de.MatchedDN
	}
	var le *ldap.Error
	if errors.As(err, &le) {
		return le.MatchedDN
	}
	return ""
}

// Store-level errors. Partitions translate them into DirectoryErrors.
var (
	// ErrEntryNotFound is returned when a DN is not present in a store.
	ErrEntryNotFound = errors.New("entry not found")

	// ErrParentNotFound is returned by Put when the parent DN is missing.
	ErrParentNotFound = errors.New("parent entry not found")

	// ErrHasChildren is returned by Delete when the entry is not a leaf.
	ErrHasChildren = errors.New("entry has children")

	// ErrStoreClosed is returned by every store operation after Close.
	ErrStoreClosed = errors.New("store closed")
)
