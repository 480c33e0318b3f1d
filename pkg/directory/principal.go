package directory

import "strings"

// AuthLevel is the strength of the authentication behind a principal.
type AuthLevel int

const (
	AuthNone AuthLevel = iota
	AuthSimple
	AuthStrong
)

func (l AuthLevel) String() string {
	switch l {
	case AuthNone:
		return "none"
	case AuthSimple:
		return "simple"
	case AuthStrong:
		return "strong"
	default:
		return "unknown"
	}
}

// Principal is the identity an operation runs as.
type Principal struct {
	// Name is the DN of the principal; empty for anonymous
	Name string

	// AuthLevel is how the principal authenticated
	AuthLevel AuthLevel
}

// NewPrincipal creates a principal for name.
func NewPrincipal(name string, level AuthLevel) *Principal {
	return &Principal{Name: name, AuthLevel: level}
}

// Anonymous returns a new anonymous principal.
func Anonymous() *Principal {
	return &Principal{AuthLevel: AuthNone}
}

// IsAnonymous reports whether the principal carries no identity.
func (p *Principal) IsAnonymous() bool {
	return p == nil || (p.Name == "" && p.AuthLevel == AuthNone)
}

func (p *Principal) String() string {
	if p.IsAnonymous() {
		return "anonymous"
	}
	return strings.TrimSpace(p.Name) + " (" + p.AuthLevel.String() + ")"
}
