package reconcile

import (
	"strings"

	"subsync/internal/csvfile"
	"subsync/internal/store"
)

// Identity is an applicant's identity normalized for matching: email
// lowercased and trimmed, names trimmed. Stored values are never modified;
// normalization exists only for comparison.
type Identity struct {
	Email     string
	LastName  string
	FirstName string
}

// NewIdentity normalizes the raw identity fields of an applicant.
func NewIdentity(email, lastName, firstName string) Identity {
	return Identity{
		Email:     strings.ToLower(strings.TrimSpace(email)),
		LastName:  strings.TrimSpace(lastName),
		FirstName: strings.TrimSpace(firstName),
	}
}

func rowEmail(row csvfile.Row) string {
	return strings.ToLower(strings.TrimSpace(row.OrderEmail))
}

func (id Identity) emailEquals(row csvfile.Row) bool {
	return id.Email == rowEmail(row)
}

func (id Identity) nameEquals(row csvfile.Row) bool {
	return id.LastName == strings.TrimSpace(row.ShipLastName) &&
		id.FirstName == strings.TrimSpace(row.ShipFirstName)
}

// MatchResult is the outcome of matching one applicant against a row set.
// Exactly one of the three states holds: matched (Row non-nil), ambiguous
// (CandidateEmails non-empty), or no match (zero value).
type MatchResult struct {
	Method store.MatchMethod
	Row    *csvfile.Row

	// CandidateEmails lists every same-name candidate's email when the
	// name-only tier found more than one. Surfaced to operators for manual
	// resolution; never auto-picked.
	CandidateEmails []string
}

// Matched reports whether a single row was selected.
func (r MatchResult) Matched() bool { return r.Row != nil }

// Ambiguous reports whether the name-only tier found competing candidates.
func (r MatchResult) Ambiguous() bool { return len(r.CandidateEmails) > 0 }

// Match finds the row for an applicant using the three-tier priority
// policy, scanning rows in file order within each tier:
//
//  1. email + last name + first name all equal -> email_and_name
//  2. email equal -> email_only
//  3. last+first name equal: exactly one candidate -> name_only;
//     two or more -> ambiguous with all candidate emails; none -> no match.
//
// Email is the strong identity signal; a same-name collision with no email
// corroboration is never resolved automatically because picking the first
// occurrence could hand a benefit to the wrong person.
func Match(id Identity, rows []csvfile.Row) MatchResult {
	for i := range rows {
		if id.emailEquals(rows[i]) && id.nameEquals(rows[i]) {
			return MatchResult{Method: store.MatchEmailAndName, Row: &rows[i]}
		}
	}

	for i := range rows {
		if id.emailEquals(rows[i]) {
			return MatchResult{Method: store.MatchEmailOnly, Row: &rows[i]}
		}
	}

	var candidates []int
	for i := range rows {
		if id.nameEquals(rows[i]) {
			candidates = append(candidates, i)
		}
	}
	switch len(candidates) {
	case 0:
		return MatchResult{}
	case 1:
		return MatchResult{Method: store.MatchNameOnly, Row: &rows[candidates[0]]}
	default:
		emails := make([]string, 0, len(candidates))
		for _, i := range candidates {
			emails = append(emails, rowEmail(rows[i]))
		}
		return MatchResult{CandidateEmails: emails}
	}
}

// MatchDirect is the two-tier variant used by revocation checks: email+name
// first, then email only. The name-only tier is deliberately absent here.
// Revoking is harder to reverse than verifying, so it demands an
// email-anchored identity match.
func MatchDirect(id Identity, rows []csvfile.Row) (*csvfile.Row, bool) {
	for i := range rows {
		if id.emailEquals(rows[i]) && id.nameEquals(rows[i]) {
			return &rows[i], true
		}
	}
	for i := range rows {
		if id.emailEquals(rows[i]) {
			return &rows[i], true
		}
	}
	return nil, false
}
