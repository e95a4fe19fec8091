// Package platform holds the outbound clients for the publishing
// destinations and the registry that resolves an owner's connected client.
package platform

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nexus/internal/lifecycle"
	"nexus/internal/store"
	"nexus/pkg/cache"
	"nexus/pkg/crypto"
	"nexus/pkg/models"
)

// Client publishes content to one external platform.
type Client interface {
	Platform() string
	Publish(ctx context.Context, integration *models.Integration, content string) (externalID string, err error)
}

// MetricsFetcher is implemented by clients whose platform exposes post
// metrics. Not all do; callers must check with errors.As-style assertion.
type MetricsFetcher interface {
	FetchMetrics(ctx context.Context, integration *models.Integration, externalID string) (models.EngagementCounters, error)
}

// IntegrationSource looks up an owner's connected integration for a platform.
type IntegrationSource interface {
	GetConnectedIntegration(ctx context.Context, ownerID, platform string) (*models.Integration, error)
}

// Registry maps platform names to clients and resolves the connected
// integration for an owner. Integration lookups are cached briefly since
// every publish and every metrics collection needs one.
type Registry struct {
	source  IntegrationSource
	cache   *cache.Cache
	crypt   *crypto.FieldEncryptor
	clients map[string]Client
}

// NewRegistry builds a registry. crypt decrypts stored integration
// credentials and may be nil when they are kept in plaintext.
func NewRegistry(source IntegrationSource, crypt *crypto.FieldEncryptor) *Registry {
	return &Registry{
		source: source,
		cache: cache.New(cache.Options{
			TTL:         time.Minute,
			NegativeTTL: 15 * time.Second,
		}),
		crypt:   crypt,
		clients: make(map[string]Client),
	}
}

// Register adds a client. Not safe for concurrent use; call during startup.
func (r *Registry) Register(c Client) {
	r.clients[c.Platform()] = c
}

// Resolve returns the client and connected integration for an owner on a
// platform. Both a missing client and a missing integration surface as
// lifecycle.ErrNoPlatformClient.
func (r *Registry) Resolve(ctx context.Context, ownerID, platform string) (Client, *models.Integration, error) {
	client, ok := r.clients[platform]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", lifecycle.ErrNoPlatformClient, platform)
	}

	key := ownerID + ":" + platform
	val, found, err := r.cache.Get(ctx, key, func(ctx context.Context, _ string) (interface{}, bool, error) {
		in, err := r.source.GetConnectedIntegration(ctx, ownerID, platform)
		if errors.Is(err, store.ErrNotFound) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		if r.crypt != nil {
			plain, err := r.crypt.Decrypt(in.Credentials)
			if err != nil {
				return nil, false, fmt.Errorf("decrypt credentials for %s: %w", platform, err)
			}
			in.Credentials = plain
		}
		return in, true, nil
	})
	if err != nil {
		return nil, nil, err
	}
	if !found {
		return nil, nil, fmt.Errorf("%w: %s", lifecycle.ErrNoPlatformClient, platform)
	}
	return client, val.(*models.Integration), nil
}

// InvalidateIntegration drops the cached lookup after a connect or
// disconnect so the next resolve sees the change.
func (r *Registry) InvalidateIntegration(ownerID, platform string) {
	r.cache.Invalidate(ownerID + ":" + platform)
}
