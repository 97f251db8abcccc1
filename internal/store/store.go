package store

import (
	"context"
	"errors"

	"github.com/nhle/secondbrain/internal/model"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Store defines the persistence interface for tenants, correlation
// threads, their message history, and captured entries.
type Store interface {
	// === Tenants ===

	CreateTenant(ctx context.Context, t model.Tenant) error
	GetTenants(ctx context.Context) ([]model.Tenant, error)
	TenantByID(ctx context.Context, id string) (*model.Tenant, error)
	TenantByRoutingCode(ctx context.Context, code string) (*model.Tenant, error)

	// === Threads ===

	CreateThread(ctx context.Context, th model.Thread) error
	ThreadByToken(ctx context.Context, token string) (*model.Thread, error)
	ThreadByMessageID(ctx context.Context, messageID string) (*model.Thread, error)
	AddThreadMessage(ctx context.Context, msg model.ThreadMessage) error
	ThreadReferences(ctx context.Context, threadID string) ([]string, error)

	// === Entries ===

	CreateEntry(ctx context.Context, e model.Entry) error
	GetEntry(ctx context.Context, id string) (*model.Entry, error)
	GetEntries(ctx context.Context, tenantID string, limit int) ([]model.Entry, error)
	UpdateEntryCategory(ctx context.Context, id string, c model.Category, confidence float64) error
	AppendEntryNote(ctx context.Context, id, note string) error

	Close() error
}
