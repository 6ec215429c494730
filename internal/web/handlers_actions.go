package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"subsync/internal/reconcile"
)

type manualMatchRequest struct {
	reconcile.ManualCandidate
	RunID string `json:"runId"`
}

// handleManualMatch verifies an applicant against an operator-chosen export
// entry, bypassing the matcher. Used to resolve ambiguous same-name cases.
func (s *Server) handleManualMatch(w http.ResponseWriter, r *http.Request) {
	pool, err := poolParam(r)
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	var req manualMatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	a, err := s.engine.ManualMatch(r.Context(), pool, chi.URLParam(r, "id"), req.ManualCandidate, req.RunID)
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toApplicantView(a))
}

// handleGrant applies the benefit to a verified applicant.
func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	pool, err := poolParam(r)
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	a, err := s.store.GetApplicant(r.Context(), pool, chi.URLParam(r, "id"))
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	if !a.SubscriptionVerified {
		s.respondError(w, r, fmt.Errorf("applicant is not verified"), http.StatusUnprocessableEntity)
		return
	}

	a.Grant(time.Now().UTC())
	if err := s.store.UpdateApplicant(r.Context(), a); err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toApplicantView(a))
}

// handleRevoke withdraws a granted benefit. This is the terminal action for
// an applicant flagged by a revocation scan: RevokedAt is stamped and the
// applicant never re-enters revocation scans.
func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	pool, err := poolParam(r)
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	a, err := s.store.GetApplicant(r.Context(), pool, chi.URLParam(r, "id"))
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}

	a.Revoke(time.Now().UTC())
	if err := s.store.UpdateApplicant(r.Context(), a); err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toApplicantView(a))
}
