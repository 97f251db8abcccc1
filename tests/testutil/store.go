package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/nhle/secondbrain/internal/model"
	"github.com/nhle/secondbrain/internal/store"
)

// NewTestStore creates an in-memory SQLStore with all migrations applied.
// It automatically closes the store when the test completes.
func NewTestStore(t *testing.T) *store.SQLStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

// SeedTenant inserts a tenant with the given routing code and returns it.
func SeedTenant(t *testing.T, s store.Store, code string) model.Tenant {
	t.Helper()

	tenant := model.Tenant{
		ID:          "tenant-" + code,
		Name:        "Tenant " + code,
		Email:       "owner-" + code + "@example.com",
		RoutingCode: code,
		CreatedAt:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := s.CreateTenant(context.Background(), tenant); err != nil {
		t.Fatalf("seeding tenant %s: %v", code, err)
	}
	return tenant
}
