package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/authbridge/tokenvault/instrumentation"
	"github.com/authbridge/tokenvault/storage"
	"github.com/authbridge/tokenvault/storage/postgres/migrations"
)

// auditActor is recorded in the audit metadata of every write.
const auditActor = "postgres-store"

// DBTX is the subset of database/sql methods the repositories need,
// satisfied by both *sql.DB and *sql.Tx so callers can run repository
// operations inside their own transactions.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store vends PostgreSQL-backed repository implementations over a shared
// connection pool.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	inst   *instrumentation.Instrumentation
}

// New opens a connection pool for the configuration and returns a store over
// it. Call RunMigrations before first use and Close when done.
func New(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid postgres config: %w", err)
	}
	cfg = cfg.withDefaults()

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return NewWithDB(db), nil
}

// NewWithDB returns a store over an existing connection pool. The caller
// keeps ownership of the pool.
func NewWithDB(db *sql.DB) *Store {
	return &Store{
		db:     db,
		logger: slog.Default(),
	}
}

// SetLogger sets a custom logger.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.logger = logger
	if s.logger == nil {
		s.logger = slog.Default()
	}
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.inst = inst
}

// RunMigrations applies the embedded schema migrations.
func (s *Store) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, s.db, "."); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	s.logger.Info("Applied database migrations")
	return nil
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrStoreUnavailable, err)
	}
	return nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// AccessTokens returns the access-token repository.
func (s *Store) AccessTokens() storage.AccessTokenRepository {
	return &AccessTokenRepository{db: s.db, logger: s.logger}
}

// RefreshTokens returns the refresh-token repository.
func (s *Store) RefreshTokens() storage.RefreshTokenRepository {
	return &RefreshTokenRepository{db: s.db}
}

// Codes returns the authorization-code repository.
func (s *Store) Codes() storage.AuthorizationCodeRepository {
	return &AuthorizationCodeRepository{db: s.db, logger: s.logger}
}

// PartnerTokens returns the partner-token repository.
func (s *Store) PartnerTokens() storage.PartnerTokenRepository {
	return &PartnerTokenRepository{db: s.db}
}

// Clients returns the client repository.
func (s *Store) Clients() storage.ClientRepository {
	return &ClientRepository{db: s.db}
}

// Partners returns the partner repository.
func (s *Store) Partners() storage.PartnerRepository {
	return &PartnerRepository{db: s.db}
}

// Approvals returns the approval repository.
func (s *Store) Approvals() storage.ApprovalRepository {
	return &ApprovalRepository{db: s.db}
}

// storeErr wraps a driver failure as the transient sentinel so callers can
// retry without parsing driver error strings.
func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", storage.ErrStoreUnavailable, op, err)
}

// encodeToken serializes a token payload for the jsonb column.
func encodeToken(token storage.Token) ([]byte, error) {
	raw, err := json.Marshal(token)
	if err != nil {
		return nil, fmt.Errorf("failed to encode token payload: %w", err)
	}
	return raw, nil
}

// decodeToken deserializes a token payload from the jsonb column.
func decodeToken(raw []byte) (storage.Token, error) {
	var token storage.Token
	if err := json.Unmarshal(raw, &token); err != nil {
		return storage.Token{}, fmt.Errorf("failed to decode token payload: %w", err)
	}
	return token, nil
}

// joinList and splitList map string slices onto a single text column.
// Scope and grant-type values never contain spaces, and redirect URIs may
// not per RFC 3986, so a space-separated list loses nothing.
func joinList(values []string) string {
	return strings.Join(values, " ")
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	return strings.Fields(value)
}
