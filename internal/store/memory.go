package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is a map-backed Store with the same ordering and uniqueness
// guarantees as Postgres. It backs engine and handler tests.
type Memory struct {
	mu          sync.Mutex
	applicants  map[Pool]map[string]*Applicant
	subscribers map[string]*Subscriber // keyed by email
	runs        map[string]*UploadRun

	// FailUpdates makes applicant updates of the given pool fail, for
	// exercising store-error paths.
	FailUpdates map[Pool]error
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		applicants: map[Pool]map[string]*Applicant{
			PoolService:  {},
			PoolDiscount: {},
		},
		subscribers: map[string]*Subscriber{},
		runs:        map[string]*UploadRun{},
		FailUpdates: map[Pool]error{},
	}
}

func cloneApplicant(a *Applicant) *Applicant {
	c := *a
	return &c
}

func (m *Memory) listApplicants(pool Pool, keep func(*Applicant) bool, oldestFirst bool) ([]*Applicant, error) {
	if !pool.Valid() {
		return nil, fmt.Errorf("unknown applicant pool %q", pool)
	}

	var out []*Applicant
	for _, a := range m.applicants[pool] {
		if keep(a) {
			out = append(out, cloneApplicant(a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if oldestFirst {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) ListUnverified(_ context.Context, pool Pool) ([]*Applicant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listApplicants(pool, func(a *Applicant) bool {
		return !a.SubscriptionVerified
	}, true)
}

func (m *Memory) ListGranted(_ context.Context, pool Pool) ([]*Applicant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listApplicants(pool, func(a *Applicant) bool {
		return a.BenefitGranted && a.RevokedAt == nil
	}, true)
}

func (m *Memory) List(_ context.Context, pool Pool, filter ApplicantFilter) ([]*Applicant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listApplicants(pool, func(a *Applicant) bool {
		if filter.Verified != nil && a.SubscriptionVerified != *filter.Verified {
			return false
		}
		if filter.Granted != nil && a.BenefitGranted != *filter.Granted {
			return false
		}
		if filter.RevocationRequired != nil && a.RevocationRequired != *filter.RevocationRequired {
			return false
		}
		if filter.Status != "" && a.Status != filter.Status {
			return false
		}
		return true
	}, false)
}

func (m *Memory) GetApplicant(_ context.Context, pool Pool, id string) (*Applicant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !pool.Valid() {
		return nil, fmt.Errorf("unknown applicant pool %q", pool)
	}
	a, ok := m.applicants[pool][id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneApplicant(a), nil
}

func (m *Memory) CreateApplicant(_ context.Context, a *Applicant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !a.Pool.Valid() {
		return fmt.Errorf("unknown applicant pool %q", a.Pool)
	}
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Status == "" {
		a.Status = ApplicantPending
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	a.UpdatedAt = a.CreatedAt
	m.applicants[a.Pool][a.ID] = cloneApplicant(a)
	return nil
}

func (m *Memory) UpdateApplicant(_ context.Context, a *Applicant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.FailUpdates[a.Pool]; err != nil {
		return err
	}
	if !a.Pool.Valid() {
		return fmt.Errorf("unknown applicant pool %q", a.Pool)
	}
	if _, ok := m.applicants[a.Pool][a.ID]; !ok {
		return ErrNotFound
	}
	a.UpdatedAt = time.Now().UTC()
	m.applicants[a.Pool][a.ID] = cloneApplicant(a)
	return nil
}

func (m *Memory) DeleteApplicant(_ context.Context, pool Pool, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !pool.Valid() {
		return fmt.Errorf("unknown applicant pool %q", pool)
	}
	if _, ok := m.applicants[pool][id]; !ok {
		return ErrNotFound
	}
	delete(m.applicants[pool], id)
	return nil
}

func (m *Memory) GetOrCreateSubscriber(_ context.Context, email, subscriptionID string) (*Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sub, ok := m.subscribers[email]; ok {
		c := *sub
		return &c, nil
	}
	now := time.Now().UTC()
	sub := &Subscriber{
		ID:             uuid.New().String(),
		Email:          email,
		SubscriptionID: subscriptionID,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	m.subscribers[email] = sub
	c := *sub
	return &c, nil
}

func (m *Memory) ListSubscribers(_ context.Context) ([]*Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Subscriber, 0, len(m.subscribers))
	for _, sub := range m.subscribers {
		c := *sub
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) CreateRun(_ context.Context, r *UploadRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Status == "" {
		r.Status = RunPending
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	r.UpdatedAt = r.CreatedAt
	c := *r
	m.runs[r.ID] = &c
	return nil
}

func (m *Memory) GetRun(_ context.Context, id string) (*UploadRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *r
	return &c, nil
}

func (m *Memory) UpdateRun(_ context.Context, r *UploadRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.runs[r.ID]; !ok {
		return ErrNotFound
	}
	r.UpdatedAt = time.Now().UTC()
	c := *r
	m.runs[r.ID] = &c
	return nil
}

func (m *Memory) ListRuns(_ context.Context) ([]*UploadRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*UploadRun, 0, len(m.runs))
	for _, r := range m.runs {
		c := *r
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) DeleteRun(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.runs[id]; !ok {
		return ErrNotFound
	}
	delete(m.runs, id)
	return nil
}
