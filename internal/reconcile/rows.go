// Package reconcile matches benefit applicants against the rows of an
// uploaded subscription-status export, verifying new applicants and
// flagging granted ones whose subscription lapsed.
package reconcile

import (
	"strings"

	"subsync/internal/csvfile"
)

// requiredColumns must all be present in the export header. The full-name
// column is informational only but its absence still fails the upload, per
// the export contract.
var requiredColumns = []string{
	csvfile.ColStatus,
	csvfile.ColLastName,
	csvfile.ColFirstName,
	csvfile.ColFullName,
	csvfile.ColEmail,
}

// RowSet is the export split into active and inactive subscriptions.
// Both slices keep file order; matching scans them front to back and the
// first hit wins, so the order is part of the behavior.
type RowSet struct {
	Active   []csvfile.Row
	Inactive []csvfile.Row
}

// Classify splits rows on the subscription status. A row is active iff its
// trimmed status equals the continuing literal; blank, unknown, and
// malformed statuses all land in Inactive.
func Classify(rows []csvfile.Row) RowSet {
	var set RowSet
	for _, row := range rows {
		if strings.TrimSpace(row.Status) == csvfile.StatusActive {
			set.Active = append(set.Active, row)
		} else {
			set.Inactive = append(set.Inactive, row)
		}
	}
	return set
}

// MissingColumns returns the required column names absent from headers, in
// required order. An empty result means the header passes the schema check.
func MissingColumns(headers []string) []string {
	present := make(map[string]bool, len(headers))
	for _, h := range headers {
		present[h] = true
	}

	var missing []string
	for _, col := range requiredColumns {
		if !present[col] {
			missing = append(missing, col)
		}
	}
	return missing
}
