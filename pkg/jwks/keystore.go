package jwks

import (
	"context"
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/platinummonkey/consolesso/pkg/cache"
	"github.com/platinummonkey/consolesso/pkg/console"
	"github.com/platinummonkey/consolesso/pkg/observability"
)

// DefaultTTL is how long a fetched key set is trusted
const DefaultTTL = 60 * time.Minute

// Fetcher retrieves the published key set
type Fetcher interface {
	JWKS(ctx context.Context) (*console.JWKSet, error)
}

// Key is a verification key converted from a JWK
type Key struct {
	ID     string
	Public *rsa.PublicKey
	PEM    []byte
}

// KeyStore serves signing keys from the cache, refetching once on an unknown key id
type KeyStore struct {
	fetcher Fetcher
	store   cache.Store
	ttl     time.Duration
	logger  *observability.Logger
	metrics *observability.Metrics
}

// Option configures a KeyStore
type Option func(*KeyStore)

// WithTTL overrides DefaultTTL
func WithTTL(ttl time.Duration) Option {
	return func(k *KeyStore) {
		if ttl > 0 {
			k.ttl = ttl
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *observability.Logger) Option {
	return func(k *KeyStore) { k.logger = l }
}

// WithMetrics counts refetches
func WithMetrics(m *observability.Metrics) Option {
	return func(k *KeyStore) { k.metrics = m }
}

// NewKeyStore creates a KeyStore
func NewKeyStore(fetcher Fetcher, store cache.Store, opts ...Option) *KeyStore {
	k := &KeyStore{
		fetcher: fetcher,
		store:   store,
		ttl:     DefaultTTL,
		logger:  observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

var jwksKey = cache.Key{Namespace: cache.NamespaceJWKS}

// JWKS returns the cached key set, fetching it on a miss.
// A failed fetch is an error, never an empty set.
func (k *KeyStore) JWKS(ctx context.Context) (*console.JWKSet, error) {
	return cache.Remember(ctx, k.store, jwksKey, k.ttl, nil, k.fetch)
}

// PublicKey returns the key for kid or nil when the provider does not publish it
func (k *KeyStore) PublicKey(ctx context.Context, kid string) (*Key, error) {
	set, err := k.JWKS(ctx)
	if err != nil {
		return nil, err
	}
	if jwk, ok := set.Find(kid); ok {
		return k.convert(jwk)
	}

	k.logger.WithField("kid", kid).Info("unknown key id, refetching JWKS")
	k.metrics.ObserveJWKSRefetch()
	set, err = k.refetch(ctx)
	if err != nil {
		return nil, err
	}
	if jwk, ok := set.Find(kid); ok {
		return k.convert(jwk)
	}
	return nil, nil
}

// refetch drops the cached set and fetches it from the provider exactly once,
// even when the cache backend is unavailable.
func (k *KeyStore) refetch(ctx context.Context) (*console.JWKSet, error) {
	if err := k.Invalidate(ctx); err != nil {
		k.logger.WithError(err).Warn("JWKS cache invalidation failed")
	}
	set, err := k.fetch(ctx)
	if err != nil {
		return nil, err
	}
	_ = k.store.Set(ctx, jwksKey, set, k.ttl)
	return set, nil
}

func (k *KeyStore) fetch(ctx context.Context) (*console.JWKSet, error) {
	set, err := k.fetcher.JWKS(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	if set == nil {
		return nil, &console.Error{Kind: console.ErrServer, Code: "INVALID_RESPONSE", Message: "empty JWKS response"}
	}
	return set, nil
}

// Invalidate drops the cached key set
func (k *KeyStore) Invalidate(ctx context.Context) error {
	if err := k.store.Forget(ctx, jwksKey); err != nil {
		return fmt.Errorf("failed to invalidate JWKS cache: %w", err)
	}
	return nil
}

func (k *KeyStore) convert(jwk *console.JWK) (*Key, error) {
	pub, err := ToPublicKey(jwk)
	if err != nil {
		return nil, fmt.Errorf("key %s: %w", jwk.Kid, err)
	}
	pemBytes, err := ToPEM(jwk)
	if err != nil {
		return nil, fmt.Errorf("key %s: %w", jwk.Kid, err)
	}
	return &Key{ID: jwk.Kid, Public: pub, PEM: pemBytes}, nil
}
