// Package store holds the persisted records of the reconciliation service
// and the storage interfaces the reconciliation engine depends on.
package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: record not found")

// Pool selects which applicant pool a record belongs to. The two pools are
// structurally identical but live in separate tables and are reconciled in
// separate passes.
type Pool string

const (
	// PoolService holds applications for member-area access.
	PoolService Pool = "service"
	// PoolDiscount holds applications for the subscriber discount.
	PoolDiscount Pool = "discount"
)

// Valid reports whether p is one of the known pools.
func (p Pool) Valid() bool {
	return p == PoolService || p == PoolDiscount
}

// MatchMethod records how an applicant was matched to a subscription row.
// The empty string means not yet matched.
type MatchMethod string

const (
	MatchEmailAndName MatchMethod = "email_and_name"
	MatchEmailOnly    MatchMethod = "email_only"
	MatchNameOnly     MatchMethod = "name_only"
	MatchManual       MatchMethod = "manual"
)

// ApplicantStatus is the review lifecycle of an application.
type ApplicantStatus string

const (
	ApplicantPending   ApplicantStatus = "pending"
	ApplicantVerified  ApplicantStatus = "verified"
	ApplicantApproved  ApplicantStatus = "approved"
	ApplicantRejected  ApplicantStatus = "rejected"
	ApplicantCompleted ApplicantStatus = "completed"
)

// RunStatus is the lifecycle of an upload run:
// pending -> processing -> completed | error. Completed and error are
// terminal.
type RunStatus string

const (
	RunPending    RunStatus = "pending"
	RunProcessing RunStatus = "processing"
	RunCompleted  RunStatus = "completed"
	RunError      RunStatus = "error"
)

// Applicant is one benefit application, tracked through
// verification -> grant -> optional revocation. The same shape serves both
// pools; Pool says which table the record lives in.
type Applicant struct {
	ID   string
	Pool Pool

	LastName  string
	FirstName string
	Email     string

	SubscriptionVerified bool
	SubscriberID         *string
	MatchMethod          MatchMethod
	MatchedAt            *time.Time
	UploadRunID          *string
	MatchNotes           string

	Status ApplicantStatus

	BenefitGranted   bool
	BenefitGrantedAt *time.Time

	RevocationRequired   bool
	RevocationRequiredAt *time.Time
	RevokedAt            *time.Time

	Notes string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// FullName returns the display name in family-name-first order, matching
// how names appear in the subscription export.
func (a *Applicant) FullName() string {
	return a.LastName + " " + a.FirstName
}

// Grant marks the benefit as applied and moves the application to
// completed.
func (a *Applicant) Grant(now time.Time) {
	a.BenefitGranted = true
	a.BenefitGrantedAt = &now
	a.Status = ApplicantCompleted
}

// Revoke withdraws a granted benefit. The revocation-required flag is
// cleared and RevokedAt is stamped; a non-null RevokedAt permanently
// excludes the applicant from future revocation scans. Status falls back to
// verified, not pending, since the subscription check itself still stands.
func (a *Applicant) Revoke(now time.Time) {
	a.BenefitGranted = false
	a.BenefitGrantedAt = nil
	a.RevocationRequired = false
	a.RevokedAt = &now
	if a.Status == ApplicantCompleted {
		a.Status = ApplicantVerified
	}
}

// Subscriber is a confirmed active-subscription identity, keyed by email.
// Created lazily the first time a matched export row's email is seen.
type Subscriber struct {
	ID             string
	Email          string
	SubscriptionID string
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// UploadRun is one submitted export file and the outcome of reconciling it.
type UploadRun struct {
	ID       string
	FileName string
	FilePath string
	Status   RunStatus

	TotalRows  int
	ActiveRows int

	ServiceMatchCount       int
	ServiceRevocationCount  int
	DiscountMatchCount      int
	DiscountRevocationCount int

	ErrorMessage string
	UploadedBy   string

	CreatedAt time.Time
	UpdatedAt time.Time
}
