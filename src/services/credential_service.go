package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/lucaspeixotoadv/crm-webhook-core/src/logging"
	"github.com/lucaspeixotoadv/crm-webhook-core/src/models"
	"github.com/lucaspeixotoadv/crm-webhook-core/src/repositories"
	"github.com/lucaspeixotoadv/crm-webhook-core/src/store"
)

const credentialCachePrefix = "cred:"

// CredentialCache is the subset of shared-store operations the validator
// needs for its short-TTL result cache.
type CredentialCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// CredentialService answers "is this vendor token currently valid for any
// tenant?". The full lookup scans the tenant credential set, so outcomes
// (including negatives, to blunt brute-force probing) are cached for a few
// minutes keyed by token hash.
type CredentialService struct {
	pool     *pgxpool.Pool
	repo     repositories.TenantRepository
	cache    CredentialCache
	cacheTTL time.Duration
	log      zerolog.Logger
}

// NewCredentialService creates a credential service backed by the database
// pool and the shared-store cache.
func NewCredentialService(pool *pgxpool.Pool, cache CredentialCache, cacheTTL time.Duration) *CredentialService {
	return &CredentialService{
		pool:     pool,
		cache:    cache,
		cacheTTL: cacheTTL,
		log:      logging.NewLogger("credentials"),
	}
}

// NewCredentialServiceWithRepo creates a credential service with a repository
// (for testing).
func NewCredentialServiceWithRepo(repo repositories.TenantRepository, cache CredentialCache, cacheTTL time.Duration) *CredentialService {
	return &CredentialService{
		repo:     repo,
		cache:    cache,
		cacheTTL: cacheTTL,
		log:      logging.NewLogger("credentials"),
	}
}

// IsValid reports whether the token belongs to an active tenant.
func (cs *CredentialService) IsValid(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}

	key := cacheKey(token)
	if cached, err := cs.cache.Get(ctx, key); err == nil {
		return cached == "1", nil
	} else if !errors.Is(err, store.ErrNotFound) {
		cs.log.Warn().Err(err).Msg("credential cache read failed, falling back to lookup")
	}

	tenant, err := cs.lookup(ctx, token)
	if err != nil && !errors.Is(err, ErrTenantNotFound) {
		return false, err
	}
	valid := tenant != nil

	value := "0"
	if valid {
		value = "1"
	}
	if err := cs.cache.Set(ctx, key, value, cs.cacheTTL); err != nil {
		cs.log.Warn().Err(err).Msg("failed to populate credential cache")
	}

	return valid, nil
}

// TenantID resolves the tenant owning a token. Used after validation to stamp
// normalized events.
func (cs *CredentialService) TenantID(ctx context.Context, token string) (string, error) {
	tenant, err := cs.lookup(ctx, token)
	if err != nil {
		return "", err
	}
	return tenant.ID.String(), nil
}

// Invalidate evicts a token's cache entry. The credential-management
// collaborator must call this whenever a tenant's credentials change.
func (cs *CredentialService) Invalidate(ctx context.Context, token string) error {
	return cs.cache.Del(ctx, cacheKey(token))
}

func (cs *CredentialService) lookup(ctx context.Context, token string) (*models.Tenant, error) {
	// Use repository if available (for testing)
	if cs.repo != nil {
		tenant, err := cs.repo.GetByToken(ctx, token)
		if err != nil {
			return nil, err
		}
		if tenant == nil {
			return nil, ErrTenantNotFound
		}
		return tenant, nil
	}

	tenant := &models.Tenant{}
	err := cs.pool.QueryRow(ctx,
		`SELECT id, name, token, is_active, created_at, updated_at
		 FROM tenants WHERE token = $1 AND is_active = true`,
		token,
	).Scan(&tenant.ID, &tenant.Name, &tenant.Token, &tenant.IsActive, &tenant.CreatedAt, &tenant.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up tenant credentials: %w", err)
	}

	return tenant, nil
}

func cacheKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return credentialCachePrefix + hex.EncodeToString(sum[:])
}
