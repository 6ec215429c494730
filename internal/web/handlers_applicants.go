package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"subsync/internal/store"
)

// applicantView is the JSON shape of an applicant.
type applicantView struct {
	ID   string     `json:"id"`
	Pool store.Pool `json:"pool"`

	LastName  string `json:"lastName"`
	FirstName string `json:"firstName"`
	Email     string `json:"email"`

	SubscriptionVerified bool              `json:"subscriptionVerified"`
	SubscriberID         *string           `json:"subscriberId,omitempty"`
	MatchMethod          store.MatchMethod `json:"matchMethod,omitempty"`
	MatchedAt            *time.Time        `json:"matchedAt,omitempty"`
	UploadRunID          *string           `json:"uploadRunId,omitempty"`
	MatchNotes           string            `json:"matchNotes,omitempty"`

	Status store.ApplicantStatus `json:"status"`

	BenefitGranted   bool       `json:"benefitGranted"`
	BenefitGrantedAt *time.Time `json:"benefitGrantedAt,omitempty"`

	RevocationRequired   bool       `json:"revocationRequired"`
	RevocationRequiredAt *time.Time `json:"revocationRequiredAt,omitempty"`
	RevokedAt            *time.Time `json:"revokedAt,omitempty"`

	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func toApplicantView(a *store.Applicant) applicantView {
	return applicantView{
		ID:                   a.ID,
		Pool:                 a.Pool,
		LastName:             a.LastName,
		FirstName:            a.FirstName,
		Email:                a.Email,
		SubscriptionVerified: a.SubscriptionVerified,
		SubscriberID:         a.SubscriberID,
		MatchMethod:          a.MatchMethod,
		MatchedAt:            a.MatchedAt,
		UploadRunID:          a.UploadRunID,
		MatchNotes:           a.MatchNotes,
		Status:               a.Status,
		BenefitGranted:       a.BenefitGranted,
		BenefitGrantedAt:     a.BenefitGrantedAt,
		RevocationRequired:   a.RevocationRequired,
		RevocationRequiredAt: a.RevocationRequiredAt,
		RevokedAt:            a.RevokedAt,
		Notes:                a.Notes,
		CreatedAt:            a.CreatedAt,
		UpdatedAt:            a.UpdatedAt,
	}
}

func poolParam(r *http.Request) (store.Pool, error) {
	pool := store.Pool(chi.URLParam(r, "pool"))
	if !pool.Valid() {
		return "", fmt.Errorf("unknown applicant pool %q", pool)
	}
	return pool, nil
}

// boolQuery parses an optional true/false query parameter into a filter
// pointer; absent or malformed values mean "don't filter".
func boolQuery(r *http.Request, name string) *bool {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil
	}
	return &v
}

func (s *Server) handleListApplicants(w http.ResponseWriter, r *http.Request) {
	pool, err := poolParam(r)
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	filter := store.ApplicantFilter{
		Verified:           boolQuery(r, "verified"),
		Granted:            boolQuery(r, "granted"),
		RevocationRequired: boolQuery(r, "revocation"),
		Status:             store.ApplicantStatus(r.URL.Query().Get("status")),
	}

	applicants, err := s.store.List(r.Context(), pool, filter)
	if err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}

	views := make([]applicantView, 0, len(applicants))
	for _, a := range applicants {
		views = append(views, toApplicantView(a))
	}
	writeJSON(w, http.StatusOK, views)
}

type createApplicantRequest struct {
	LastName  string `json:"lastName"`
	FirstName string `json:"firstName"`
	Email     string `json:"email"`
	Notes     string `json:"notes"`
}

// handleCreateApplicant is the intake glue behind the public application
// forms. New applicants start unverified and pending.
func (s *Server) handleCreateApplicant(w http.ResponseWriter, r *http.Request) {
	pool, err := poolParam(r)
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	var req createApplicantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}
	if req.Email == "" || req.LastName == "" || req.FirstName == "" {
		s.respondError(w, r, fmt.Errorf("required field missing: lastName, firstName and email are required"), http.StatusBadRequest)
		return
	}

	a := &store.Applicant{
		Pool:      pool,
		LastName:  req.LastName,
		FirstName: req.FirstName,
		Email:     req.Email,
		Notes:     req.Notes,
	}
	if err := s.store.CreateApplicant(r.Context(), a); err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, toApplicantView(a))
}

func (s *Server) handleGetApplicant(w http.ResponseWriter, r *http.Request) {
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
	writeJSON(w, http.StatusOK, toApplicantView(a))
}

func (s *Server) handleDeleteApplicant(w http.ResponseWriter, r *http.Request) {
	pool, err := poolParam(r)
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	if err := s.store.DeleteApplicant(r.Context(), pool, chi.URLParam(r, "id")); err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type subscriberView struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	SubscriptionID string    `json:"subscriptionId"`
	IsActive       bool      `json:"isActive"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func (s *Server) handleListSubscribers(w http.ResponseWriter, r *http.Request) {
	subs, err := s.store.ListSubscribers(r.Context())
	if err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}

	views := make([]subscriberView, 0, len(subs))
	for _, sub := range subs {
		views = append(views, subscriberView{
			ID:             sub.ID,
			Email:          sub.Email,
			SubscriptionID: sub.SubscriptionID,
			IsActive:       sub.IsActive,
			CreatedAt:      sub.CreatedAt,
			UpdatedAt:      sub.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, views)
}
