package reconcile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"subsync/internal/csvfile"
	"subsync/internal/logging"
	"subsync/internal/store"
)

// Engine drives reconciliation runs against the record store. One run at a
// time; the web layer serializes uploads.
type Engine struct {
	store store.Store
}

// New creates an Engine backed by st.
func New(st store.Store) *Engine {
	return &Engine{store: st}
}

// Summary is the outcome of one reconciliation run.
type Summary struct {
	TotalRows  int `json:"totalRows"`
	ActiveRows int `json:"activeRows"`

	ServiceMatches      int `json:"serviceMatches"`
	ServiceRevocations  int `json:"serviceRevocations"`
	DiscountMatches     int `json:"discountMatches"`
	DiscountRevocations int `json:"discountRevocations"`
}

// Run reconciles the export at filePath against both applicant pools and
// records the outcome on run. The run moves pending -> processing ->
// completed, or -> error on a decode failure, a schema failure, or a store
// failure during the service pass. Failures during the discount passes are
// logged and recorded as zero counts; the run still completes. That
// asymmetry matches long-standing operator expectations and is kept
// deliberately.
func (e *Engine) Run(ctx context.Context, filePath string, run *store.UploadRun) (*Summary, error) {
	log := logging.FromContext(ctx)

	run.Status = store.RunProcessing
	if err := e.store.UpdateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("mark run processing: %w", err)
	}

	headers, rows, err := csvfile.DecodeFile(filePath)
	if err != nil {
		e.failRun(ctx, run, err)
		return nil, err
	}

	// An empty export means "nothing to reconcile", not a broken header.
	if len(headers) > 0 || len(rows) > 0 {
		if missing := MissingColumns(headers); len(missing) > 0 {
			err := &SchemaError{Missing: missing}
			e.failRun(ctx, run, err)
			return nil, err
		}
	}

	set := Classify(rows)
	run.TotalRows = len(rows)
	run.ActiveRows = len(set.Active)
	if err := e.store.UpdateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("record row counts: %w", err)
	}

	summary := Summary{TotalRows: len(rows), ActiveRows: len(set.Active)}

	summary.ServiceMatches, err = e.verifyPool(ctx, store.PoolService, set, run)
	if err != nil {
		e.failRun(ctx, run, err)
		return nil, fmt.Errorf("service verification: %w", err)
	}
	summary.ServiceRevocations, err = e.revokePool(ctx, store.PoolService, set, run)
	if err != nil {
		e.failRun(ctx, run, err)
		return nil, fmt.Errorf("service revocation check: %w", err)
	}

	// Discount-pass failures are swallowed: the run already holds valid
	// service results and operators act on those first.
	summary.DiscountMatches, err = e.verifyPool(ctx, store.PoolDiscount, set, run)
	if err != nil {
		log.Error("discount verification failed, recording zero matches", "error", err)
		summary.DiscountMatches = 0
	}
	summary.DiscountRevocations, err = e.revokePool(ctx, store.PoolDiscount, set, run)
	if err != nil {
		log.Error("discount revocation check failed, recording zero revocations", "error", err)
		summary.DiscountRevocations = 0
	}

	run.ServiceMatchCount = summary.ServiceMatches
	run.ServiceRevocationCount = summary.ServiceRevocations
	run.DiscountMatchCount = summary.DiscountMatches
	run.DiscountRevocationCount = summary.DiscountRevocations
	run.Status = store.RunCompleted
	run.ErrorMessage = ""
	if err := e.store.UpdateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("complete run: %w", err)
	}

	log.Info("reconciliation run completed",
		"run_id", run.ID,
		"total_rows", summary.TotalRows,
		"active_rows", summary.ActiveRows,
		"service_matches", summary.ServiceMatches,
		"service_revocations", summary.ServiceRevocations,
		"discount_matches", summary.DiscountMatches,
		"discount_revocations", summary.DiscountRevocations,
	)
	return &summary, nil
}

// failRun moves the run to error status. The update is best-effort; the
// original failure is what callers see.
func (e *Engine) failRun(ctx context.Context, run *store.UploadRun, cause error) {
	run.Status = store.RunError
	run.ErrorMessage = cause.Error()
	if err := e.store.UpdateRun(ctx, run); err != nil {
		logging.FromContext(ctx).Error("record run failure", "run_id", run.ID, "error", err)
	}
}

// verifyPool matches every unverified applicant of a pool against the
// active rows, oldest application first, and returns the number newly
// verified. Every applicant is saved exactly once whether or not it
// matched; a store error aborts the pass.
func (e *Engine) verifyPool(ctx context.Context, pool store.Pool, set RowSet, run *store.UploadRun) (int, error) {
	applicants, err := e.store.ListUnverified(ctx, pool)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, a := range applicants {
		res := Match(NewIdentity(a.Email, a.LastName, a.FirstName), set.Active)

		switch {
		case res.Matched():
			if err := e.verifyApplicant(ctx, a, res, run, count); err != nil {
				return count, err
			}
			count++

		case res.Ambiguous():
			a.MatchNotes = "Multiple same-name candidates in the export; manual resolution required.\n" +
				"Candidate emails: " + strings.Join(res.CandidateEmails, ", ")
			if err := e.store.UpdateApplicant(ctx, a); err != nil {
				return count, err
			}

		default:
			// Keep any earlier manual note.
			if a.MatchNotes == "" {
				a.MatchNotes = "No matching row found in the subscription export."
			}
			if err := e.store.UpdateApplicant(ctx, a); err != nil {
				return count, err
			}
		}
	}
	return count, nil
}

// verifyApplicant records a successful match: verification state, run link,
// and the lazily created subscriber identity. The subscriber's external id
// comes from the row's order number, falling back to an id unique within
// the run.
func (e *Engine) verifyApplicant(ctx context.Context, a *store.Applicant, res MatchResult, run *store.UploadRun, matched int) error {
	now := time.Now().UTC()
	a.SubscriptionVerified = true
	a.MatchMethod = res.Method
	a.MatchedAt = &now
	a.UploadRunID = &run.ID
	a.Status = store.ApplicantVerified

	subscriptionID := strings.TrimSpace(res.Row.OrderNumber)
	if subscriptionID == "" {
		subscriptionID = fmt.Sprintf("CSV_%s_%d", run.ID, matched)
	}
	sub, err := e.store.GetOrCreateSubscriber(ctx, rowEmail(*res.Row), subscriptionID)
	if err != nil {
		return err
	}
	a.SubscriberID = &sub.ID

	a.MatchNotes = fmt.Sprintf("Matched against subscription export (%s).", res.Method)
	return e.store.UpdateApplicant(ctx, a)
}

// revokePool scans granted, never-revoked applicants of a pool and flags
// those who no longer appear as active subscribers but do appear in an
// inactive row. Applicants in neither set are left untouched; absence from
// the export is not evidence of cancellation. Returns the number newly
// flagged.
func (e *Engine) revokePool(ctx context.Context, pool store.Pool, set RowSet, run *store.UploadRun) (int, error) {
	granted, err := e.store.ListGranted(ctx, pool)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, a := range granted {
		id := NewIdentity(a.Email, a.LastName, a.FirstName)

		// Still listed as continuing: nothing to do.
		if _, ok := MatchDirect(id, set.Active); ok {
			continue
		}

		row, ok := MatchDirect(id, set.Inactive)
		if !ok {
			continue
		}
		if a.RevocationRequired {
			continue
		}

		now := time.Now().UTC()
		a.RevocationRequired = true
		a.RevocationRequiredAt = &now
		a.MatchNotes = appendNote(a.MatchNotes, fmt.Sprintf(
			"[Export %s] No active row matched; matched only a row with status \"%s\". Benefit revocation required.",
			run.FileName, strings.TrimSpace(row.Status)))
		if err := e.store.UpdateApplicant(ctx, a); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func appendNote(existing, note string) string {
	if existing == "" {
		return note
	}
	return existing + "\n" + note
}

// ManualCandidate carries the raw fields of an operator-chosen export row.
type ManualCandidate struct {
	Email       string `json:"email"`
	LastName    string `json:"lastName"`
	FirstName   string `json:"firstName"`
	OrderNumber string `json:"orderNumber"`
	RowNumber   int    `json:"rowNumber"`
}

// ManualMatch verifies an applicant against an operator-chosen candidate,
// bypassing the matcher. Subscriber get-or-create works exactly as in
// automatic verification; the external id falls back to a manual marker
// when the candidate row has no order number. runID, when non-empty, links
// the applicant to the export the candidate was picked from.
func (e *Engine) ManualMatch(ctx context.Context, pool store.Pool, applicantID string, c ManualCandidate, runID string) (*store.Applicant, error) {
	email := strings.ToLower(strings.TrimSpace(c.Email))
	if email == "" {
		return nil, fmt.Errorf("manual match: candidate email is required")
	}

	a, err := e.store.GetApplicant(ctx, pool, applicantID)
	if err != nil {
		return nil, err
	}

	subscriptionID := strings.TrimSpace(c.OrderNumber)
	if subscriptionID == "" {
		subscriptionID = "MANUAL_" + applicantID
	}
	sub, err := e.store.GetOrCreateSubscriber(ctx, email, subscriptionID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	a.SubscriptionVerified = true
	a.SubscriberID = &sub.ID
	a.MatchMethod = store.MatchManual
	a.MatchedAt = &now
	a.Status = store.ApplicantVerified
	if runID != "" {
		a.UploadRunID = &runID
	}
	a.MatchNotes = fmt.Sprintf(
		"Manual match: operator-selected export entry.\nEmail: %s\nName: %s %s\nExport row: %d",
		c.Email, strings.TrimSpace(c.LastName), strings.TrimSpace(c.FirstName), c.RowNumber)

	if err := e.store.UpdateApplicant(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}
