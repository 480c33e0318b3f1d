package directory

import (
	"context"

	"github.com/go-ldap/ldap/v3"
	"github.com/marmos91/dittoldap/pkg/cursor"
)

// Referral points the client at another server holding the target.
type Referral struct {
	// MatchedDN is the DN of the referral entry that was hit
	MatchedDN string

	// URLs are the LDAP URLs to continue the operation at
	URLs []string
}

// Reference is a continuation reference: a referral entry met inside the
// scope of a search. The search goes on; the client continues below DN at
// URLs.
type Reference struct {
	// DN of the referral entry
	DN string

	// URLs name the referral entry on the other server
	URLs []string
}

// Outcome is the non-error result of an operation: either plain success or a
// referral. Referrals are a normal outcome, not an error.
type Outcome struct {
	Referral *Referral
}

// Success is the plain successful outcome.
var Success = Outcome{}

// Referred returns an outcome carrying a referral.
func Referred(matchedDN string, urls []string) Outcome {
	return Outcome{Referral: &Referral{MatchedDN: matchedDN, URLs: urls}}
}

// IsReferral reports whether the outcome is a referral.
func (o Outcome) IsReferral() bool {
	return o.Referral != nil
}

// OperationManager executes operations against the directory. The session
// builds one context per call and hands it over; policies must already be
// set on the context.
type OperationManager interface {
	Add(ctx context.Context, op *AddContext) (Outcome, error)
	Delete(ctx context.Context, op *DeleteContext) (Outcome, error)
	Modify(ctx context.Context, op *ModifyContext) (Outcome, error)
	Rename(ctx context.Context, op *RenameContext) (Outcome, error)
	Move(ctx context.Context, op *MoveContext) (Outcome, error)
	MoveAndRename(ctx context.Context, op *MoveAndRenameContext) (Outcome, error)

	// Compare reports whether the entry holds the asserted value.
	Compare(ctx context.Context, op *CompareContext) (bool, Outcome, error)

	// Lookup returns the target entry projected to the requested attributes.
	Lookup(ctx context.Context, op *LookupContext) (*ldap.Entry, Outcome, error)

	// HasEntry reports whether the target exists. Referrals are not followed.
	HasEntry(ctx context.Context, op *HasEntryContext) (bool, error)

	// List returns the immediate children of the target.
	List(ctx context.Context, op *ListContext) (cursor.Cursor[*ldap.Entry], Outcome, error)

	// Search returns the matching entries, unsorted and unprojected.
	Search(ctx context.Context, op *SearchContext) (cursor.Cursor[*ldap.Entry], Outcome, error)

	Unbind(ctx context.Context, op *UnbindContext) error
}
