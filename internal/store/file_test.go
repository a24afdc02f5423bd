// internal/store/file_test.go
package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quotagate/internal/common/logger"
)

func newFileStore(t *testing.T) *FileStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "users.json")
	return NewFileStore(path, logger.NewNoOpLogger())
}

func TestFileStoreCreateAndGet(t *testing.T) {
	s := newFileStore(t)
	ctx := context.Background()

	rec, err := s.GetUser(ctx, 42)
	require.NoError(t, err)
	assert.Nil(t, rec, "absent user reads as nil, nil")

	created, err := s.CreateUser(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, PlanFree, created.Plan)
	assert.Equal(t, DefaultFreeTokens, created.TokensRemaining)
	assert.Equal(t, 0, created.ChatRequests)
	assert.False(t, created.AdminUnlimited)

	got, err := s.GetUser(ctx, 42)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, created.UserID, got.UserID)
	assert.Equal(t, created.TokensRemaining, got.TokensRemaining)

	// Creating again returns the existing record unchanged.
	again, err := s.CreateUser(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, created.TokensRemaining, again.TokensRemaining)
}

func TestFileStoreUpdateUser(t *testing.T) {
	s := newFileStore(t)
	ctx := context.Background()

	_, err := s.CreateUser(ctx, 42)
	require.NoError(t, err)

	lite := PlanLite
	start := time.Now().Truncate(time.Second)
	end := start.Add(30 * 24 * time.Hour)
	err = s.UpdateUser(ctx, 42, UserUpdate{
		Plan:            &lite,
		PlanStart:       &start,
		PlanEnd:         &end,
		TokensRemaining: intPtr(250000),
	})
	require.NoError(t, err)

	rec, err := s.GetUser(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, PlanLite, rec.Plan)
	assert.Equal(t, 250000, rec.TokensRemaining)
	require.NotNil(t, rec.PlanEnd)
	assert.WithinDuration(t, end, *rec.PlanEnd, time.Second)

	// ClearPlanDates nulls both timestamps.
	free := PlanFree
	err = s.UpdateUser(ctx, 42, UserUpdate{Plan: &free, ClearPlanDates: true})
	require.NoError(t, err)

	rec, err = s.GetUser(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, PlanFree, rec.Plan)
	assert.Nil(t, rec.PlanStart)
	assert.Nil(t, rec.PlanEnd)
}

func TestFileStorePurchaseIncrements(t *testing.T) {
	s := newFileStore(t)
	ctx := context.Background()

	_, err := s.CreateUser(ctx, 42)
	require.NoError(t, err)

	require.NoError(t, s.AddPurchasedTokens(ctx, 42, 150000))
	require.NoError(t, s.AddPurchasedVisionRequests(ctx, 42, 30))

	rec, err := s.GetUser(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, DefaultFreeTokens+150000, rec.TokensRemaining)
	assert.Equal(t, 30, rec.PurchasedVisionRequests)
}

func TestFileStoreCorruptDocumentStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	s := NewFileStore(path, logger.NewNoOpLogger())
	ctx := context.Background()

	rec, err := s.GetUser(ctx, 42)
	require.NoError(t, err)
	assert.Nil(t, rec)

	// The store stays usable after discarding the corrupt document.
	created, err := s.CreateUser(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, DefaultFreeTokens, created.TokensRemaining)
}

func TestFileStorePlansServeBuiltinCatalog(t *testing.T) {
	s := newFileStore(t)
	plans, err := s.Plans(context.Background())
	require.NoError(t, err)
	require.Len(t, plans, 3)
	assert.Nil(t, plans[PlanFree].MaxTokens)
	assert.Equal(t, 2, plans[PlanFree].VisionMax)
	require.NotNil(t, plans[PlanPremium].MaxTokens)
	assert.Equal(t, 1000000, *plans[PlanPremium].MaxTokens)
}
