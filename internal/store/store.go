package store

import "context"

// ApplicantFilter narrows applicant listings for the admin surface.
// Nil pointer fields mean "don't care".
type ApplicantFilter struct {
	Verified           *bool
	Granted            *bool
	RevocationRequired *bool
	Status             ApplicantStatus
}

// ApplicantStore is the applicant persistence surface consumed by the
// reconciliation engine and the web layer.
type ApplicantStore interface {
	// ListUnverified returns unverified applicants of a pool, oldest
	// application first. Reconciliation processes requests FIFO.
	ListUnverified(ctx context.Context, pool Pool) ([]*Applicant, error)

	// ListGranted returns applicants whose benefit is currently applied and
	// who have never been revoked (RevokedAt null), oldest first.
	ListGranted(ctx context.Context, pool Pool) ([]*Applicant, error)

	// List returns applicants of a pool matching the filter, newest first.
	List(ctx context.Context, pool Pool, filter ApplicantFilter) ([]*Applicant, error)

	GetApplicant(ctx context.Context, pool Pool, id string) (*Applicant, error)
	CreateApplicant(ctx context.Context, a *Applicant) error
	UpdateApplicant(ctx context.Context, a *Applicant) error
	DeleteApplicant(ctx context.Context, pool Pool, id string) error
}

// SubscriberStore provides get-or-create access to subscriber identities.
type SubscriberStore interface {
	// GetOrCreateSubscriber returns the subscriber with the given email,
	// creating it with the supplied external subscription id if absent.
	// An existing record is returned as-is; the external id is never
	// overwritten by later calls.
	GetOrCreateSubscriber(ctx context.Context, email, subscriptionID string) (*Subscriber, error)

	ListSubscribers(ctx context.Context) ([]*Subscriber, error)
}

// RunStore persists upload runs.
type RunStore interface {
	CreateRun(ctx context.Context, r *UploadRun) error
	GetRun(ctx context.Context, id string) (*UploadRun, error)
	UpdateRun(ctx context.Context, r *UploadRun) error
	// ListRuns returns runs newest first.
	ListRuns(ctx context.Context) ([]*UploadRun, error)
	DeleteRun(ctx context.Context, id string) error
}

// Store is the full persistence surface. Postgres implements it for
// production; Memory implements it for tests.
type Store interface {
	ApplicantStore
	SubscriberStore
	RunStore
}
