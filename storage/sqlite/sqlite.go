// Package sqlite provides a relational implementation of the storage
// repositories over modernc.org/sqlite, with goose-managed embedded
// migrations. Uniqueness of client identifiers, scope identifiers, and token
// codes is enforced by UNIQUE indexes, so concurrent writers cannot race a
// duplicate past the application.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"
	sqlite3 "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/torque-foxes/ss-oauth2-server/instrumentation"
	"github.com/torque-foxes/ss-oauth2-server/security"
	"github.com/torque-foxes/ss-oauth2-server/storage"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Store wraps the database handle shared by the repository views.
type Store struct {
	db      *sql.DB
	secrets security.SecretStore
	logger  *slog.Logger
	inst    *instrumentation.Instrumentation
	auditor *security.Auditor
}

// Option configures optional Store collaborators.
type Option func(*Store)

// WithLogger sets the logger used for store diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithInstrumentation enables telemetry for store operations.
func WithInstrumentation(inst *instrumentation.Instrumentation) Option {
	return func(s *Store) { s.inst = inst }
}

// WithAuditor enables audit events for security-relevant store operations.
func WithAuditor(auditor *security.Auditor) Option {
	return func(s *Store) { s.auditor = auditor }
}

// Open opens (creating if necessary) the database at the given DSN and
// applies pending migrations. Use "file:oauth.db" for a file-backed store or
// "file:memdb?mode=memory&cache=shared" for a shared in-memory one.
func Open(ctx context.Context, dsn string, secrets security.SecretStore, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{
		db:      db,
		secrets: secrets,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// runMigrations applies all pending migrations using goose.
func runMigrations(ctx context.Context, db *sql.DB) error {
	migrationFS, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return fmt.Errorf("creating migration sub filesystem: %w", err)
	}

	provider, err := goose.NewProvider(database.DialectSQLite3, db, migrationFS)
	if err != nil {
		return fmt.Errorf("creating goose provider: %w", err)
	}

	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the handle for host applications that need raw access.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Clients returns the client repository view.
func (s *Store) Clients() storage.ClientRepository { return &clientRepo{s} }

// Scopes returns the scope repository view.
func (s *Store) Scopes() storage.ScopeRepository { return &scopeRepo{s} }

// AuthCodes returns the authorization code repository view.
func (s *Store) AuthCodes() storage.AuthCodeRepository { return &authCodeRepo{s} }

// AccessTokens returns the access token repository view.
func (s *Store) AccessTokens() storage.AccessTokenRepository { return &accessTokenRepo{s} }

// RefreshTokens returns the refresh token repository view.
func (s *Store) RefreshTokens() storage.RefreshTokenRepository { return &refreshTokenRepo{s} }

// isUniqueViolation checks for a SQLite UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3lib.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}

// rollback rolls back tx, ignoring errors (tx may already be committed).
func rollback(tx *sql.Tx) { _ = tx.Rollback() }

// Expiry columns hold unix seconds; zero means the zero time.
func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromUnix(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(n, 0).UTC()
}
