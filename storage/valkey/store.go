package valkey

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/authbridge/tokenvault/instrumentation"
	"github.com/authbridge/tokenvault/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys.
	DefaultKeyPrefix = "tokenvault:"

	// DefaultExpiredRecordRetention is how long a token record outlives
	// its payload expiry. Expired records must stay findable so
	// revocation cascades can remove them; after the retention window
	// the server-side TTL vacates them.
	DefaultExpiredRecordRetention = 24 * time.Hour

	// keyLogLength is the number of characters of a derived key included
	// in log lines.
	keyLogLength = 8

	// auditActor is recorded in the audit metadata of every write.
	auditActor = "valkey-store"

	// scanBatchSize is the number of keys to fetch per SCAN iteration.
	scanBatchSize = 100

	// connectionVerifyTimeout is the timeout for initial connection
	// verification.
	connectionVerifyTimeout = 5 * time.Second
)

// Config holds configuration for the Valkey storage backend.
type Config struct {
	// Address is the Valkey server address (required), e.g. "localhost:6379"
	Address string

	// Password is the optional password for Valkey authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "tokenvault:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger

	// ExpiredRecordRetention is how long expired token records are kept
	// before their TTL removes them (default 24h)
	ExpiredRecordRetention time.Duration
}

// Store vends Valkey-backed repository implementations over a shared client
// connection.
type Store struct {
	client    valkeygo.Client
	prefix    string
	retention time.Duration
	logger    *slog.Logger
	inst      *instrumentation.Instrumentation
}

// New creates a new Valkey-backed storage instance. Returns an error if the
// connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	retention := cfg.ExpiredRecordRetention
	if retention <= 0 {
		retention = DefaultExpiredRecordRetention
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.TLS != nil {
		opts.TLSConfig = cfg.TLS
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	logger.Info("Connected to Valkey storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)

	return &Store{
		client:    client,
		prefix:    prefix,
		retention: retention,
		logger:    logger,
	}, nil
}

// Close closes the Valkey client connection.
func (s *Store) Close() {
	s.client.Close()
	s.logger.Info("Valkey storage connection closed")
}

// SetLogger sets a custom logger for the store.
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

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Do(ctx, s.client.B().Ping().Build()).Error(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrStoreUnavailable, err)
	}
	return nil
}

// AccessTokens returns the access-token repository.
func (s *Store) AccessTokens() storage.AccessTokenRepository {
	return &AccessTokenRepository{s: s}
}

// RefreshTokens returns the refresh-token repository.
func (s *Store) RefreshTokens() storage.RefreshTokenRepository {
	return &RefreshTokenRepository{s: s}
}

// Codes returns the authorization-code repository.
func (s *Store) Codes() storage.AuthorizationCodeRepository {
	return &AuthorizationCodeRepository{s: s}
}

// PartnerTokens returns the partner-token repository.
func (s *Store) PartnerTokens() storage.PartnerTokenRepository {
	return &PartnerTokenRepository{s: s}
}

// Clients returns the client repository.
func (s *Store) Clients() storage.ClientRepository {
	return &ClientRepository{s: s}
}

// Partners returns the partner repository.
func (s *Store) Partners() storage.PartnerRepository {
	return &PartnerRepository{s: s}
}

// Approvals returns the approval repository.
func (s *Store) Approvals() storage.ApprovalRepository {
	return &ApprovalRepository{s: s}
}

// Key helpers. One string key per record, plus index keys carrying the
// non-primary lookup paths.

func (s *Store) accessKey(tokenID string) string {
	return fmt.Sprintf("%saccess:%s", s.prefix, tokenID)
}

func (s *Store) accessByAuthKey(authenticationID string) string {
	return fmt.Sprintf("%saccess:auth:%s", s.prefix, authenticationID)
}

func (s *Store) accessByClientKey(clientID string) string {
	return fmt.Sprintf("%saccess:client:%s", s.prefix, clientID)
}

func (s *Store) accessByUserKey(clientID, userName string) string {
	return fmt.Sprintf("%saccess:user:%s:%s", s.prefix, clientID, userName)
}

func (s *Store) accessByRefreshKey(refreshTokenID string) string {
	return fmt.Sprintf("%saccess:refresh:%s", s.prefix, refreshTokenID)
}

func (s *Store) refreshKey(tokenID string) string {
	return fmt.Sprintf("%srefresh:%s", s.prefix, tokenID)
}

func (s *Store) codeKey(code string) string {
	return fmt.Sprintf("%scode:%s", s.prefix, code)
}

func (s *Store) partnerTokenKey(id string) string {
	return fmt.Sprintf("%sptoken:%s", s.prefix, id)
}

func (s *Store) partnerTokenByAuthKey(authenticationID string) string {
	return fmt.Sprintf("%sptoken:auth:%s", s.prefix, authenticationID)
}

func (s *Store) clientKey(clientID string) string {
	return fmt.Sprintf("%sclient:%s", s.prefix, clientID)
}

func (s *Store) partnerKey(partnerID string) string {
	return fmt.Sprintf("%spartner:%s", s.prefix, partnerID)
}

func (s *Store) approvalKey(userName, clientID string) string {
	return fmt.Sprintf("%sapproval:%s:%s", s.prefix, userName, clientID)
}

// recordTTL is the server-side TTL for a token record: the payload lifetime
// plus the retention window. Zero means the key never expires.
func (s *Store) recordTTL(expiresAt time.Time) time.Duration {
	if expiresAt.IsZero() {
		return 0
	}
	ttl := time.Until(expiresAt) + s.retention
	if ttl <= 0 {
		return -1
	}
	return ttl
}

// setJSON writes a marshaled record, applying the TTL when positive. A
// negative TTL means the retention window has already passed; the write is
// skipped because the server would reject or immediately expire it.
func (s *Store) setJSON(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if ttl < 0 {
		return nil
	}
	if ttl > 0 {
		return s.client.Do(ctx, s.client.B().Set().Key(key).Value(string(data)).Ex(ttl).Build()).Error()
	}
	return s.client.Do(ctx, s.client.B().Set().Key(key).Value(string(data)).Build()).Error()
}

// scanKeys iterates SCAN over the pattern, passing each matched key to fn
// exactly once. SCAN can return duplicates across iterations, so results
// are deduplicated here.
func (s *Store) scanKeys(ctx context.Context, pattern string, fn func(key string) error) error {
	seen := make(map[string]struct{})
	var cursor uint64
	for {
		result, err := s.client.Do(ctx,
			s.client.B().Scan().Cursor(cursor).Match(pattern).Count(scanBatchSize).Build(),
		).AsScanEntry()
		if err != nil {
			return err
		}

		for _, key := range result.Elements {
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			if err := fn(key); err != nil {
				return err
			}
		}

		cursor = result.Cursor
		if cursor == 0 {
			break
		}
	}
	return nil
}

// isNilError checks if the error indicates a nil/not-found result from
// Valkey, using the valkey-go library's built-in nil detection.
func isNilError(err error) bool {
	return valkeygo.IsValkeyNil(err)
}

// storeErr wraps a server failure as the transient sentinel so callers can
// retry without parsing server error strings.
func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", storage.ErrStoreUnavailable, op, err)
}
