// internal/catalog/catalog_test.go
package catalog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quotagate/internal/common/errors"
	"quotagate/internal/common/logger"
	"quotagate/internal/store"
)

// failingStore simulates a backend whose plan query is broken.
type failingStore struct {
	store.Store
}

func (failingStore) Plans(ctx context.Context) (map[string]store.Plan, error) {
	return nil, errors.NewStorageUnavailableError(context.DeadlineExceeded)
}

func TestLoadFromStore(t *testing.T) {
	s := store.NewFileStore(filepath.Join(t.TempDir(), "users.json"), logger.NewNoOpLogger())
	cat := Load(context.Background(), s, logger.NewNoOpLogger())

	free, ok := cat.Plan(store.PlanFree)
	require.True(t, ok)
	assert.Nil(t, free.MaxTokens)
	require.NotNil(t, free.ChatMaxRequests)
	assert.Equal(t, 5, *free.ChatMaxRequests)

	assert.Len(t, cat.Names(), 3)
}

func TestLoadFallsBackOnError(t *testing.T) {
	cat := Load(context.Background(), failingStore{}, logger.NewNoOpLogger())

	premium, ok := cat.Plan(store.PlanPremium)
	require.True(t, ok)
	require.NotNil(t, premium.MaxTokens)
	assert.Equal(t, 1000000, *premium.MaxTokens)
	assert.Equal(t, 50, premium.VisionMax)
}

func TestUnknownPlanLookup(t *testing.T) {
	cat := NewFromPlans(store.FallbackPlans())
	_, ok := cat.Plan("enterprise")
	assert.False(t, ok)
}
