package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/secondbrain/internal/model"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

// SQLStore implements Store over sqlx. It runs on SQLite by default and
// on PostgreSQL through the pgx stdlib driver.
type SQLStore struct {
	db     *sqlx.DB
	driver string
}

// Open connects to the database named by driver and dsn and runs any
// pending schema migrations.
func Open(driver, dsn string) (*SQLStore, error) {
	switch driver {
	case "", DriverSQLite:
		return NewSQLiteStore(dsn)
	case DriverPostgres, "postgres":
		return newSQLStore(DriverPostgres, dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLStore, error) {
	return newSQLStore(DriverSQLite, dbPath)
}

func newSQLStore(driver, dsn string) (*SQLStore, error) {
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s db: %w", driver, err)
	}

	if driver == DriverSQLite {
		// A single connection keeps ":memory:" databases shared and
		// serializes writers.
		db.SetMaxOpenConns(1)

		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling WAL mode: %w", err)
		}
		if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling foreign keys: %w", err)
		}
	} else if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to %s db: %w", driver, err)
	}

	s := &SQLStore{db: db, driver: driver}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLStore) runMigrations() error {
	if _, err := s.db.Exec(
		"CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)",
	); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	currentVersion := 0
	if err := s.db.Get(
		&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version",
	); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

func (s *SQLStore) get(ctx context.Context, dest any, what, query string, args ...any) error {
	err := s.db.GetContext(ctx, dest, s.db.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("getting %s: %w", what, err)
	}
	return nil
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.db.Rebind(query), args...)
}

// CreateTenant inserts a tenant. A missing ID is generated and the
// routing code is stored lowercase.
func (s *SQLStore) CreateTenant(ctx context.Context, t model.Tenant) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}

	_, err := s.exec(ctx, `
		INSERT INTO tenants (id, name, email, routing_code, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.Email, strings.ToLower(t.RoutingCode), t.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("creating tenant %s: %w", t.RoutingCode, err)
	}
	return nil
}

// GetTenants returns all tenants ordered by creation time.
func (s *SQLStore) GetTenants(ctx context.Context) ([]model.Tenant, error) {
	var tenants []model.Tenant
	err := s.db.SelectContext(ctx, &tenants,
		"SELECT * FROM tenants ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("getting tenants: %w", err)
	}
	return tenants, nil
}

// TenantByID retrieves a single tenant.
func (s *SQLStore) TenantByID(ctx context.Context, id string) (*model.Tenant, error) {
	var t model.Tenant
	if err := s.get(ctx, &t, "tenant "+id,
		"SELECT * FROM tenants WHERE id = ?", id); err != nil {
		return nil, err
	}
	return &t, nil
}

// TenantByRoutingCode resolves a 6-hex routing code to its tenant.
func (s *SQLStore) TenantByRoutingCode(ctx context.Context, code string) (*model.Tenant, error) {
	var t model.Tenant
	if err := s.get(ctx, &t, "tenant with routing code "+code,
		"SELECT * FROM tenants WHERE routing_code = ?", strings.ToLower(code)); err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateThread inserts a correlation thread.
func (s *SQLStore) CreateThread(ctx context.Context, th model.Thread) error {
	if th.ID == "" {
		th.ID = uuid.New().String()
	}
	if th.CreatedAt.IsZero() {
		th.CreatedAt = time.Now()
	}

	_, err := s.exec(ctx, `
		INSERT INTO threads (id, token, tenant_id, entry_id, subject, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		th.ID, strings.ToLower(th.Token), th.TenantID, th.EntryID, th.Subject, th.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("creating thread %s: %w", th.Token, err)
	}
	return nil
}

// ThreadByToken retrieves the thread minted with token.
func (s *SQLStore) ThreadByToken(ctx context.Context, token string) (*model.Thread, error) {
	var th model.Thread
	if err := s.get(ctx, &th, "thread "+token,
		"SELECT * FROM threads WHERE token = ?", strings.ToLower(token)); err != nil {
		return nil, err
	}
	return &th, nil
}

// ThreadByMessageID retrieves the thread that recorded messageID.
func (s *SQLStore) ThreadByMessageID(ctx context.Context, messageID string) (*model.Thread, error) {
	var th model.Thread
	if err := s.get(ctx, &th, "thread for message "+messageID, `
		SELECT t.* FROM threads t
		JOIN thread_messages m ON m.thread_id = t.id
		WHERE m.message_id = ?`, messageID); err != nil {
		return nil, err
	}
	return &th, nil
}

// AddThreadMessage records a Message-ID against a thread. Recording the
// same id twice is a no-op.
func (s *SQLStore) AddThreadMessage(ctx context.Context, msg model.ThreadMessage) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var seq int
	if err := tx.GetContext(ctx, &seq, tx.Rebind(
		"SELECT COALESCE(MAX(seq), 0) + 1 FROM thread_messages WHERE thread_id = ?",
	), msg.ThreadID); err != nil {
		return fmt.Errorf("sequencing message %s: %w", msg.MessageID, err)
	}

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO thread_messages (message_id, thread_id, seq, direction, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (message_id) DO NOTHING`),
		msg.MessageID, msg.ThreadID, seq, string(msg.Direction), msg.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("adding message %s to thread %s: %w", msg.MessageID, msg.ThreadID, err)
	}

	return tx.Commit()
}

// ThreadReferences returns the thread's Message-IDs, oldest first, for
// use as a References chain.
func (s *SQLStore) ThreadReferences(ctx context.Context, threadID string) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids, s.db.Rebind(`
		SELECT message_id FROM thread_messages
		WHERE thread_id = ?
		ORDER BY seq`), threadID)
	if err != nil {
		return nil, fmt.Errorf("getting references for thread %s: %w", threadID, err)
	}
	return ids, nil
}

// CreateEntry inserts a captured entry.
func (s *SQLStore) CreateEntry(ctx context.Context, e model.Entry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	now := time.Now()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = e.CreatedAt
	}

	_, err := s.exec(ctx, `
		INSERT INTO entries (id, tenant_id, name, category, confidence, body, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.TenantID, e.Name, string(e.Category), e.Confidence, e.Body,
		e.CreatedAt.UTC(), e.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("creating entry %s: %w", e.ID, err)
	}
	return nil
}

// GetEntry retrieves a single entry.
func (s *SQLStore) GetEntry(ctx context.Context, id string) (*model.Entry, error) {
	var e model.Entry
	if err := s.get(ctx, &e, "entry "+id,
		"SELECT * FROM entries WHERE id = ?", id); err != nil {
		return nil, err
	}
	return &e, nil
}

// GetEntries returns a tenant's entries, newest first. A limit of zero
// returns all of them.
func (s *SQLStore) GetEntries(ctx context.Context, tenantID string, limit int) ([]model.Entry, error) {
	query := "SELECT * FROM entries WHERE tenant_id = ? ORDER BY created_at DESC, id"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	var entries []model.Entry
	if err := s.db.SelectContext(ctx, &entries, s.db.Rebind(query), tenantID); err != nil {
		return nil, fmt.Errorf("getting entries for tenant %s: %w", tenantID, err)
	}
	return entries, nil
}

// UpdateEntryCategory reclassifies an entry.
func (s *SQLStore) UpdateEntryCategory(
	ctx context.Context,
	id string,
	c model.Category,
	confidence float64,
) error {
	res, err := s.exec(ctx, `
		UPDATE entries SET category = ?, confidence = ?, updated_at = ?
		WHERE id = ?`,
		string(c), confidence, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("updating entry %s: %w", id, err)
	}
	return requireRow(res, "entry "+id)
}

// AppendEntryNote appends a follow-up note, separated by a blank line.
func (s *SQLStore) AppendEntryNote(ctx context.Context, id, note string) error {
	res, err := s.exec(ctx, `
		UPDATE entries
		SET body = CASE WHEN body = '' THEN CAST(? AS TEXT) ELSE body || CAST(? AS TEXT) END,
			updated_at = ?
		WHERE id = ?`,
		note, "\n\n"+note, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("appending note to entry %s: %w", id, err)
	}
	return requireRow(res, "entry "+id)
}

func requireRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows for %s: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}
