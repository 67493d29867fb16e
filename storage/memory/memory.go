package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/authbridge/tokenvault/instrumentation"
	"github.com/authbridge/tokenvault/internal/util"
	"github.com/authbridge/tokenvault/security"
	"github.com/authbridge/tokenvault/storage"
)

const (
	// keyLogLength is the number of characters of a derived key included
	// in log lines.
	keyLogLength = 8

	// auditActor is recorded in the audit metadata of every write.
	auditActor = "memory-store"
)

// Store is an in-memory implementation of all credential repositories.
type Store struct {
	mu sync.RWMutex

	// Primary collections, keyed by derived token key (codes by raw code,
	// which is itself single-use and short-lived).
	accessTokens  map[string]*storage.AccessTokenRecord
	refreshTokens map[string]*storage.RefreshTokenRecord
	codes         map[string]*storage.AuthorizationCodeRecord
	partnerTokens map[string]*storage.PartnerTokenRecord // keyed by surrogate ID
	clients       map[string]*storage.ClientDetails
	partners      map[string]*storage.PartnerDetails
	approvals     map[string][]*storage.ApprovalRecord // keyed by userName + "\x00" + clientID

	// accessOrder preserves insertion order of access-token keys so the
	// client/user scans return results in a stable, documented order.
	accessOrder []string

	// partnerOrder preserves insertion order of partner-token surrogate IDs.
	partnerOrder []string

	// Instrumentation
	inst   *instrumentation.Instrumentation
	tracer trace.Tracer

	// Atomic counters for size gauges (lock-free metric collection)
	accessCount  atomic.Int64
	refreshCount atomic.Int64
	codesCount   atomic.Int64
	clientsCount atomic.Int64
	partnerCount atomic.Int64

	// Cleanup of expired authorization codes. Tokens are not swept;
	// expiry is a query-time concern and revocation is explicit.
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
}

// Compile-time interface checks. The Store itself is the access-token
// repository; the other repositories are narrow views over the same
// collections.
var (
	_ storage.AccessTokenRepository       = (*Store)(nil)
	_ storage.RefreshTokenRepository      = refreshTokenRepository{}
	_ storage.AuthorizationCodeRepository = codeRepository{}
	_ storage.PartnerTokenRepository      = partnerTokenRepository{}
	_ storage.ClientRepository            = clientRepository{}
	_ storage.PartnerRepository           = partnerRepository{}
	_ storage.ApprovalRepository          = approvalRepository{}
)

// New creates a new in-memory store with the default code-cleanup interval
// (1 minute).
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates a new in-memory store with a custom cleanup
// interval. Non-positive intervals fall back to 1 minute.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &Store{
		accessTokens:    make(map[string]*storage.AccessTokenRecord),
		refreshTokens:   make(map[string]*storage.RefreshTokenRecord),
		codes:           make(map[string]*storage.AuthorizationCodeRecord),
		partnerTokens:   make(map[string]*storage.PartnerTokenRecord),
		clients:         make(map[string]*storage.ClientDetails),
		partners:        make(map[string]*storage.PartnerDetails),
		approvals:       make(map[string][]*storage.ApprovalRecord),
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}

	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store and
// registers the collection size gauges.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.inst = inst
	if inst != nil {
		s.tracer = inst.Tracer("store")
	}

	s.accessCount.Store(int64(len(s.accessTokens)))
	s.refreshCount.Store(int64(len(s.refreshTokens)))
	s.codesCount.Store(int64(len(s.codes)))
	s.clientsCount.Store(int64(len(s.clients)))
	s.partnerCount.Store(int64(len(s.partnerTokens)))
	s.mu.Unlock()

	if inst != nil {
		err := inst.RegisterStoreSizeCallbacks(
			func() int64 { return s.accessCount.Load() },
			func() int64 { return s.refreshCount.Load() },
			func() int64 { return s.codesCount.Load() },
			func() int64 { return s.clientsCount.Load() },
			func() int64 { return s.partnerCount.Load() },
		)
		if err != nil {
			s.logger.Warn("Failed to register store size callbacks", "error", err)
		}
	}
}

// Stop gracefully stops the cleanup goroutine.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}

// ============================================================
// AccessTokenRepository Implementation
// ============================================================

// Save persists an access-token record; an existing record with the same
// TokenID is overwritten in place.
func (s *Store) Save(ctx context.Context, record *storage.AccessTokenRecord) error {
	ctx, span := s.startSpan(ctx, "save_access_token")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() { s.recordOperation(ctx, span, "save_access_token", err, startTime) }()

	if record == nil || record.TokenID == "" {
		err = fmt.Errorf("invalid access token record")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record.Audit.Touch(auditActor)
	stored := *record

	if _, existed := s.accessTokens[record.TokenID]; !existed {
		s.accessOrder = append(s.accessOrder, record.TokenID)
		s.accessCount.Add(1)
	}
	s.accessTokens[record.TokenID] = &stored

	s.logger.Debug("Saved access token",
		"token_id", util.SafeTruncate(record.TokenID, keyLogLength),
		"client_id", record.ClientID)
	return nil
}

// FindByTokenID returns the access-token record for the derived key.
func (s *Store) FindByTokenID(ctx context.Context, tokenID string) (*storage.AccessTokenRecord, error) {
	ctx, span := s.startSpan(ctx, "find_access_token")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() { s.recordOperation(ctx, span, "find_access_token", err, startTime) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.accessTokens[tokenID]
	if !ok {
		err = fmt.Errorf("%w: %s", storage.ErrTokenNotFound, util.SafeTruncate(tokenID, keyLogLength))
		return nil, err
	}

	found := *record
	return &found, nil
}

// DeleteByTokenID removes the access-token record; absent is a no-op success.
func (s *Store) DeleteByTokenID(ctx context.Context, tokenID string) error {
	ctx, span := s.startSpan(ctx, "delete_access_token")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() { s.recordOperation(ctx, span, "delete_access_token", err, startTime) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.deleteAccessLocked(tokenID)
	return nil
}

// deleteAccessLocked removes a record and its order entry. Caller holds mu.
func (s *Store) deleteAccessLocked(tokenID string) bool {
	if _, existed := s.accessTokens[tokenID]; !existed {
		return false
	}
	delete(s.accessTokens, tokenID)
	for i, id := range s.accessOrder {
		if id == tokenID {
			s.accessOrder = append(s.accessOrder[:i], s.accessOrder[i+1:]...)
			break
		}
	}
	s.accessCount.Add(-1)
	return true
}

// FindAllByAuthenticationID returns records for the authentication key,
// ordered by surrogate ID so duplicate resolution is reproducible.
func (s *Store) FindAllByAuthenticationID(ctx context.Context, authenticationID string) ([]*storage.AccessTokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*storage.AccessTokenRecord
	for _, id := range s.accessOrder {
		if record := s.accessTokens[id]; record.AuthenticationID == authenticationID {
			found := *record
			result = append(result, &found)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })

	return result, nil
}

// FindAllByClientID returns the client's access-token records in insertion
// order.
func (s *Store) FindAllByClientID(ctx context.Context, clientID string) ([]*storage.AccessTokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*storage.AccessTokenRecord
	for _, id := range s.accessOrder {
		if record := s.accessTokens[id]; record.ClientID == clientID {
			found := *record
			result = append(result, &found)
		}
	}

	return result, nil
}

// FindAllByClientIDAndUserName returns the pair's access-token records in
// insertion order.
func (s *Store) FindAllByClientIDAndUserName(ctx context.Context, clientID, userName string) ([]*storage.AccessTokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*storage.AccessTokenRecord
	for _, id := range s.accessOrder {
		if record := s.accessTokens[id]; record.ClientID == clientID && record.UserName == userName {
			found := *record
			result = append(result, &found)
		}
	}

	return result, nil
}

// DeleteAllByRefreshToken removes every access token linked to the refresh
// key. The whole batch happens under the write lock, so a concurrent reader
// observes the affected tokens either all present or all gone.
func (s *Store) DeleteAllByRefreshToken(ctx context.Context, refreshTokenID string) (int, error) {
	ctx, span := s.startSpan(ctx, "cascade_delete_access_tokens")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() { s.recordOperation(ctx, span, "cascade_delete_access_tokens", err, startTime) }()

	if refreshTokenID == "" {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []string
	for id, record := range s.accessTokens {
		if record.RefreshToken == refreshTokenID {
			matched = append(matched, id)
		}
	}
	for _, id := range matched {
		s.deleteAccessLocked(id)
	}

	if len(matched) > 0 {
		s.logger.Debug("Cascade-deleted access tokens for refresh token",
			"refresh_token_id", util.SafeTruncate(refreshTokenID, keyLogLength),
			"count", len(matched))
	}
	return len(matched), nil
}

// AccessTokens returns the store's AccessTokenRepository view.
func (s *Store) AccessTokens() storage.AccessTokenRepository {
	return s
}

// ============================================================
// RefreshTokenRepository Implementation
// ============================================================

// SaveRefreshToken persists a refresh-token record.
//
// The method names on the refresh side carry the RefreshToken/Refresh
// qualifier because Store implements both token repositories on a single
// type; the qualified methods are adapted to the RefreshTokenRepository
// interface via RefreshTokens().
func (s *Store) SaveRefreshToken(ctx context.Context, record *storage.RefreshTokenRecord) error {
	ctx, span := s.startSpan(ctx, "save_refresh_token")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() { s.recordOperation(ctx, span, "save_refresh_token", err, startTime) }()

	if record == nil || record.TokenID == "" {
		err = fmt.Errorf("invalid refresh token record")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record.Audit.Touch(auditActor)
	stored := *record

	if _, existed := s.refreshTokens[record.TokenID]; !existed {
		s.refreshCount.Add(1)
	}
	s.refreshTokens[record.TokenID] = &stored

	s.logger.Debug("Saved refresh token",
		"token_id", util.SafeTruncate(record.TokenID, keyLogLength))
	return nil
}

// FindRefreshTokenByTokenID returns the refresh-token record for the key.
func (s *Store) FindRefreshTokenByTokenID(ctx context.Context, tokenID string) (*storage.RefreshTokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.refreshTokens[tokenID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrTokenNotFound, util.SafeTruncate(tokenID, keyLogLength))
	}

	found := *record
	return &found, nil
}

// DeleteRefreshTokenByTokenID removes the record; absent is a no-op success.
func (s *Store) DeleteRefreshTokenByTokenID(ctx context.Context, tokenID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, existed := s.refreshTokens[tokenID]; existed {
		delete(s.refreshTokens, tokenID)
		s.refreshCount.Add(-1)
	}
	return nil
}

// refreshTokenRepository adapts the qualified refresh-token methods to the
// plain RefreshTokenRepository method set.
type refreshTokenRepository struct{ s *Store }

func (r refreshTokenRepository) Save(ctx context.Context, record *storage.RefreshTokenRecord) error {
	return r.s.SaveRefreshToken(ctx, record)
}

func (r refreshTokenRepository) FindByTokenID(ctx context.Context, tokenID string) (*storage.RefreshTokenRecord, error) {
	return r.s.FindRefreshTokenByTokenID(ctx, tokenID)
}

func (r refreshTokenRepository) DeleteByTokenID(ctx context.Context, tokenID string) error {
	return r.s.DeleteRefreshTokenByTokenID(ctx, tokenID)
}

// RefreshTokens returns the store's RefreshTokenRepository view.
func (s *Store) RefreshTokens() storage.RefreshTokenRepository {
	return refreshTokenRepository{s: s}
}

// ============================================================
// AuthorizationCodeRepository Implementation
// ============================================================

// SaveCode persists a pending authorization code.
func (s *Store) SaveCode(ctx context.Context, record *storage.AuthorizationCodeRecord) error {
	ctx, span := s.startSpan(ctx, "save_authorization_code")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() { s.recordOperation(ctx, span, "save_authorization_code", err, startTime) }()

	if record == nil || record.Code == "" {
		err = fmt.Errorf("invalid authorization code record")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record.Audit.Touch(auditActor)
	stored := *record

	if _, existed := s.codes[record.Code]; !existed {
		s.codesCount.Add(1)
	}
	s.codes[record.Code] = &stored

	s.logger.Debug("Saved authorization code",
		"code_prefix", util.SafeTruncate(record.Code, keyLogLength))
	return nil
}

// Take atomically reads and removes the code under the write lock: of two
// concurrent callers, exactly one observes the record; the other observes
// ErrCodeNotFound. Expired codes are removed and reported absent.
func (s *Store) Take(ctx context.Context, code string) (*storage.AuthorizationCodeRecord, error) {
	ctx, span := s.startSpan(ctx, "take_authorization_code")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() { s.recordOperation(ctx, span, "take_authorization_code", err, startTime) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.codes[code]
	if !ok {
		err = storage.ErrCodeNotFound
		return nil, err
	}

	delete(s.codes, code)
	s.codesCount.Add(-1)

	if security.IsExpired(record.ExpiresAt) {
		s.logger.Debug("Discarded expired authorization code",
			"code_prefix", util.SafeTruncate(code, keyLogLength))
		err = storage.ErrCodeNotFound
		return nil, err
	}

	s.logger.Debug("Consumed authorization code",
		"code_prefix", util.SafeTruncate(code, keyLogLength))

	taken := *record
	return &taken, nil
}

// codeRepository adapts SaveCode/Take to the AuthorizationCodeRepository
// method set.
type codeRepository struct{ s *Store }

func (r codeRepository) Save(ctx context.Context, record *storage.AuthorizationCodeRecord) error {
	return r.s.SaveCode(ctx, record)
}

func (r codeRepository) Take(ctx context.Context, code string) (*storage.AuthorizationCodeRecord, error) {
	return r.s.Take(ctx, code)
}

// Codes returns the store's AuthorizationCodeRepository view.
func (s *Store) Codes() storage.AuthorizationCodeRepository {
	return codeRepository{s: s}
}

// ============================================================
// PartnerTokenRepository Implementation
// ============================================================

// SavePartnerToken persists a partner-token record.
func (s *Store) SavePartnerToken(ctx context.Context, record *storage.PartnerTokenRecord) error {
	ctx, span := s.startSpan(ctx, "save_partner_token")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() { s.recordOperation(ctx, span, "save_partner_token", err, startTime) }()

	if record == nil || record.ID == "" {
		err = fmt.Errorf("invalid partner token record")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record.Audit.Touch(auditActor)
	stored := *record

	if _, existed := s.partnerTokens[record.ID]; !existed {
		s.partnerOrder = append(s.partnerOrder, record.ID)
		s.partnerCount.Add(1)
	}
	s.partnerTokens[record.ID] = &stored

	return nil
}

// FindPartnerTokensByAuthenticationID returns the partner tokens for the
// partner authentication key in insertion order.
func (s *Store) FindPartnerTokensByAuthenticationID(ctx context.Context, authenticationID string) ([]*storage.PartnerTokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*storage.PartnerTokenRecord
	for _, id := range s.partnerOrder {
		if record := s.partnerTokens[id]; record.AuthenticationID == authenticationID {
			found := *record
			result = append(result, &found)
		}
	}

	return result, nil
}

// DeletePartnerTokensByAuthenticationID removes the partner tokens for the
// key, returning the number removed.
func (s *Store) DeletePartnerTokensByAuthenticationID(ctx context.Context, authenticationID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []string
	for id, record := range s.partnerTokens {
		if record.AuthenticationID == authenticationID {
			matched = append(matched, id)
		}
	}
	for _, id := range matched {
		delete(s.partnerTokens, id)
		for i, ordered := range s.partnerOrder {
			if ordered == id {
				s.partnerOrder = append(s.partnerOrder[:i], s.partnerOrder[i+1:]...)
				break
			}
		}
		s.partnerCount.Add(-1)
	}

	return len(matched), nil
}

// partnerTokenRepository adapts the qualified partner-token methods to the
// PartnerTokenRepository method set.
type partnerTokenRepository struct{ s *Store }

func (r partnerTokenRepository) Save(ctx context.Context, record *storage.PartnerTokenRecord) error {
	return r.s.SavePartnerToken(ctx, record)
}

func (r partnerTokenRepository) FindAllByAuthenticationID(ctx context.Context, authenticationID string) ([]*storage.PartnerTokenRecord, error) {
	return r.s.FindPartnerTokensByAuthenticationID(ctx, authenticationID)
}

func (r partnerTokenRepository) DeleteAllByAuthenticationID(ctx context.Context, authenticationID string) (int, error) {
	return r.s.DeletePartnerTokensByAuthenticationID(ctx, authenticationID)
}

// PartnerTokens returns the store's PartnerTokenRepository view.
func (s *Store) PartnerTokens() storage.PartnerTokenRepository {
	return partnerTokenRepository{s: s}
}

// ============================================================
// ClientRepository Implementation
// ============================================================

// SaveClient inserts or overwrites a client's details.
func (s *Store) SaveClient(ctx context.Context, details *storage.ClientDetails) error {
	ctx, span := s.startSpan(ctx, "save_client")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() { s.recordOperation(ctx, span, "save_client", err, startTime) }()

	if details == nil || details.ClientID == "" {
		err = fmt.Errorf("invalid client details")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	details.Audit.Touch(auditActor)
	stored := *details

	if _, existed := s.clients[details.ClientID]; !existed {
		s.clientsCount.Add(1)
	}
	s.clients[details.ClientID] = &stored

	s.logger.Debug("Saved client", "client_id", details.ClientID)
	return nil
}

// FindClientByClientID returns the client's details.
func (s *Store) FindClientByClientID(ctx context.Context, clientID string) (*storage.ClientDetails, error) {
	ctx, span := s.startSpan(ctx, "find_client")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() { s.recordOperation(ctx, span, "find_client", err, startTime) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	details, ok := s.clients[clientID]
	if !ok {
		err = fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
		return nil, err
	}

	found := *details
	return &found, nil
}

// DeleteClientByClientID removes the client; absent is a no-op success.
func (s *Store) DeleteClientByClientID(ctx context.Context, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, existed := s.clients[clientID]; existed {
		delete(s.clients, clientID)
		s.clientsCount.Add(-1)
	}
	return nil
}

// ListClients returns all registered clients ordered by client id.
func (s *Store) ListClients(ctx context.Context) ([]*storage.ClientDetails, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*storage.ClientDetails, 0, len(s.clients))
	for _, details := range s.clients {
		found := *details
		result = append(result, &found)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ClientID < result[j].ClientID })

	return result, nil
}

// clientRepository adapts the qualified client methods to the
// ClientRepository method set.
type clientRepository struct{ s *Store }

func (r clientRepository) Save(ctx context.Context, details *storage.ClientDetails) error {
	return r.s.SaveClient(ctx, details)
}

func (r clientRepository) FindByClientID(ctx context.Context, clientID string) (*storage.ClientDetails, error) {
	return r.s.FindClientByClientID(ctx, clientID)
}

func (r clientRepository) DeleteByClientID(ctx context.Context, clientID string) error {
	return r.s.DeleteClientByClientID(ctx, clientID)
}

func (r clientRepository) List(ctx context.Context) ([]*storage.ClientDetails, error) {
	return r.s.ListClients(ctx)
}

// Clients returns the store's ClientRepository view.
func (s *Store) Clients() storage.ClientRepository {
	return clientRepository{s: s}
}

// ============================================================
// PartnerRepository Implementation
// ============================================================

// SavePartner inserts or overwrites a partner's details.
func (s *Store) SavePartner(ctx context.Context, details *storage.PartnerDetails) error {
	if details == nil || details.PartnerID == "" {
		return fmt.Errorf("invalid partner details")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	details.Audit.Touch(auditActor)
	stored := *details
	s.partners[details.PartnerID] = &stored

	s.logger.Debug("Saved partner", "partner_id", details.PartnerID)
	return nil
}

// FindPartnerByPartnerID returns the partner's details.
func (s *Store) FindPartnerByPartnerID(ctx context.Context, partnerID string) (*storage.PartnerDetails, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	details, ok := s.partners[partnerID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrPartnerNotFound, partnerID)
	}

	found := *details
	return &found, nil
}

// DeletePartnerByPartnerID removes the partner; absent is a no-op success.
func (s *Store) DeletePartnerByPartnerID(ctx context.Context, partnerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.partners, partnerID)
	return nil
}

// ListPartners returns all partners ordered by partner id.
func (s *Store) ListPartners(ctx context.Context) ([]*storage.PartnerDetails, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*storage.PartnerDetails, 0, len(s.partners))
	for _, details := range s.partners {
		found := *details
		result = append(result, &found)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].PartnerID < result[j].PartnerID })

	return result, nil
}

// partnerRepository adapts the qualified partner methods to the
// PartnerRepository method set.
type partnerRepository struct{ s *Store }

func (r partnerRepository) Save(ctx context.Context, details *storage.PartnerDetails) error {
	return r.s.SavePartner(ctx, details)
}

func (r partnerRepository) FindByPartnerID(ctx context.Context, partnerID string) (*storage.PartnerDetails, error) {
	return r.s.FindPartnerByPartnerID(ctx, partnerID)
}

func (r partnerRepository) DeleteByPartnerID(ctx context.Context, partnerID string) error {
	return r.s.DeletePartnerByPartnerID(ctx, partnerID)
}

func (r partnerRepository) List(ctx context.Context) ([]*storage.PartnerDetails, error) {
	return r.s.ListPartners(ctx)
}

// Partners returns the store's PartnerRepository view.
func (s *Store) Partners() storage.PartnerRepository {
	return partnerRepository{s: s}
}

// ============================================================
// ApprovalRepository Implementation
// ============================================================

func approvalKey(userName, clientID string) string {
	return userName + "\x00" + clientID
}

// SaveApproval persists a consent record.
func (s *Store) SaveApproval(ctx context.Context, record *storage.ApprovalRecord) error {
	if record == nil || record.UserName == "" || record.ClientID == "" {
		return fmt.Errorf("invalid approval record")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record.Audit.Touch(auditActor)
	stored := *record
	key := approvalKey(record.UserName, record.ClientID)

	// One approval per (user, client, scope); a re-approval refreshes it.
	for i, existing := range s.approvals[key] {
		if existing.Scope == record.Scope {
			s.approvals[key][i] = &stored
			return nil
		}
	}
	s.approvals[key] = append(s.approvals[key], &stored)
	return nil
}

// FindApprovalsByUserAndClient returns the pair's consent records.
func (s *Store) FindApprovalsByUserAndClient(ctx context.Context, userName, clientID string) ([]*storage.ApprovalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.approvals[approvalKey(userName, clientID)]
	result := make([]*storage.ApprovalRecord, 0, len(records))
	for _, record := range records {
		found := *record
		result = append(result, &found)
	}

	return result, nil
}

// DeleteApprovalsByUserAndClient removes the pair's consent records,
// returning the number removed.
func (s *Store) DeleteApprovalsByUserAndClient(ctx context.Context, userName, clientID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := approvalKey(userName, clientID)
	removed := len(s.approvals[key])
	delete(s.approvals, key)

	return removed, nil
}

// approvalRepository adapts the qualified approval methods to the
// ApprovalRepository method set.
type approvalRepository struct{ s *Store }

func (r approvalRepository) Save(ctx context.Context, record *storage.ApprovalRecord) error {
	return r.s.SaveApproval(ctx, record)
}

func (r approvalRepository) FindAllByUserAndClient(ctx context.Context, userName, clientID string) ([]*storage.ApprovalRecord, error) {
	return r.s.FindApprovalsByUserAndClient(ctx, userName, clientID)
}

func (r approvalRepository) DeleteAllByUserAndClient(ctx context.Context, userName, clientID string) (int, error) {
	return r.s.DeleteApprovalsByUserAndClient(ctx, userName, clientID)
}

// Approvals returns the store's ApprovalRepository view.
func (s *Store) Approvals() storage.ApprovalRepository {
	return approvalRepository{s: s}
}

// ============================================================
// Cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

// cleanup sweeps expired authorization codes. Tokens are deliberately left
// in place: their expiry is checked at read time and their removal is an
// explicit revocation concern.
func (s *Store) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleaned := 0
	for code, record := range s.codes {
		if security.IsExpired(record.ExpiresAt) {
			delete(s.codes, code)
			s.codesCount.Add(-1)
			cleaned++
		}
	}

	if cleaned > 0 {
		s.logger.Debug("Cleaned up expired authorization codes", "count", cleaned)
	}
}

// ============================================================
// Instrumentation Helpers
// ============================================================

// startSpan starts a span for a store operation when tracing is configured.
func (s *Store) startSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}

	return s.tracer.Start(ctx, fmt.Sprintf("store.%s", operation),
		trace.WithAttributes(
			attribute.String("operation", operation),
		))
}

// recordOperation records metrics for a store operation and sets span status.
func (s *Store) recordOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	if s.inst == nil {
		return
	}

	durationMs := float64(time.Since(startTime).Milliseconds())
	result := "success"
	if err != nil {
		result = "error"
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	} else if span != nil {
		span.SetStatus(codes.Ok, "")
	}

	s.inst.Metrics().RecordStoreOperation(ctx, operation, result, durationMs)
}
