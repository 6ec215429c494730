package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGrantAndRevokeLifecycle(t *testing.T) {
	a := &Applicant{Status: ApplicantVerified}
	now := time.Now().UTC()

	a.Grant(now)
	assert.True(t, a.BenefitGranted)
	require.NotNil(t, a.BenefitGrantedAt)
	assert.Equal(t, ApplicantCompleted, a.Status)

	later := now.Add(time.Hour)
	a.Revoke(later)
	assert.False(t, a.BenefitGranted)
	assert.Nil(t, a.BenefitGrantedAt)
	assert.False(t, a.RevocationRequired)
	require.NotNil(t, a.RevokedAt)
	assert.Equal(t, later, *a.RevokedAt)
	// Verification itself still stands after a revocation.
	assert.Equal(t, ApplicantVerified, a.Status)
}

func TestRevokeKeepsNonCompletedStatus(t *testing.T) {
	a := &Applicant{Status: ApplicantApproved}
	a.Revoke(time.Now().UTC())
	assert.Equal(t, ApplicantApproved, a.Status)
}

func TestMemoryListUnverifiedOldestFirst(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Now().UTC().Add(-time.Hour)

	newer := &Applicant{Pool: PoolService, Email: "newer@x.com", CreatedAt: base.Add(time.Minute)}
	older := &Applicant{Pool: PoolService, Email: "older@x.com", CreatedAt: base}
	verified := &Applicant{Pool: PoolService, Email: "done@x.com", SubscriptionVerified: true, CreatedAt: base}
	for _, a := range []*Applicant{newer, older, verified} {
		require.NoError(t, m.CreateApplicant(ctx, a))
	}

	got, err := m.ListUnverified(ctx, PoolService)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "older@x.com", got[0].Email)
	assert.Equal(t, "newer@x.com", got[1].Email)
}

func TestMemoryListGrantedExcludesRevoked(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	revoked := time.Now().UTC()

	granted := &Applicant{Pool: PoolDiscount, Email: "granted@x.com", BenefitGranted: true}
	terminal := &Applicant{Pool: PoolDiscount, Email: "revoked@x.com", BenefitGranted: true, RevokedAt: &revoked}
	plain := &Applicant{Pool: PoolDiscount, Email: "plain@x.com"}
	for _, a := range []*Applicant{granted, terminal, plain} {
		require.NoError(t, m.CreateApplicant(ctx, a))
	}

	got, err := m.ListGranted(ctx, PoolDiscount)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "granted@x.com", got[0].Email)
}

func TestMemoryPoolsAreSeparate(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	a := &Applicant{Pool: PoolService, Email: "a@x.com"}
	require.NoError(t, m.CreateApplicant(ctx, a))

	_, err := m.GetApplicant(ctx, PoolDiscount, a.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := m.GetApplicant(ctx, PoolService, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", got.Email)
}

func TestMemoryGetOrCreateSubscriber(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	first, err := m.GetOrCreateSubscriber(ctx, "a@x.com", "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, "ORD-1", first.SubscriptionID)
	assert.True(t, first.IsActive)

	// A second call must not overwrite the stored external id.
	second, err := m.GetOrCreateSubscriber(ctx, "a@x.com", "ORD-2")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "ORD-1", second.SubscriptionID)
}

func TestMemoryListFilters(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	yes := true

	require.NoError(t, m.CreateApplicant(ctx, &Applicant{
		Pool: PoolService, Email: "v@x.com", SubscriptionVerified: true,
	}))
	require.NoError(t, m.CreateApplicant(ctx, &Applicant{
		Pool: PoolService, Email: "r@x.com", BenefitGranted: true, RevocationRequired: true,
	}))

	got, err := m.List(ctx, PoolService, ApplicantFilter{Verified: &yes})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "v@x.com", got[0].Email)

	got, err = m.List(ctx, PoolService, ApplicantFilter{RevocationRequired: &yes})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "r@x.com", got[0].Email)
}

func TestMemoryListsAreCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.CreateApplicant(ctx, &Applicant{Pool: PoolService, Email: "a@x.com"}))

	got, err := m.List(ctx, PoolService, ApplicantFilter{})
	require.NoError(t, err)
	got[0].Email = "mutated@x.com"

	again, err := m.List(ctx, PoolService, ApplicantFilter{})
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", again[0].Email)
}

func TestMemoryRunLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	run := &UploadRun{FileName: "export.csv"}
	require.NoError(t, m.CreateRun(ctx, run))
	assert.Equal(t, RunPending, run.Status)
	assert.NotEmpty(t, run.ID)

	run.Status = RunCompleted
	run.ServiceMatchCount = 3
	require.NoError(t, m.UpdateRun(ctx, run))

	got, err := m.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, got.Status)
	assert.Equal(t, 3, got.ServiceMatchCount)

	require.NoError(t, m.DeleteRun(ctx, run.ID))
	_, err = m.GetRun(ctx, run.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
