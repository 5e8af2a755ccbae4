// Package tenant resolves a tenant id to the store handle its requests run
// against. Handles are cached so each tenant pays connection and index setup
// once per cache lifetime.
package tenant

import (
	"context"
	"regexp"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/retail-backoffice/inventory-audit/internal/apperr"
	"github.com/retail-backoffice/inventory-audit/internal/repositories"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultCacheSize = 1000
	DefaultCacheTTL  = 30 * time.Minute
)

// Tenant ids end up in database names, so only a conservative alphabet is accepted.
var tenantIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

func ValidID(tenantID string) bool {
	return tenantIDPattern.MatchString(tenantID)
}

type Resolver interface {
	Resolve(ctx context.Context, tenantID string) (repositories.StoreHandle, error)
}

// Backend builds a handle for one tenant. Implemented by the postgres, mongo
// and memory backends in repositories.
type Backend interface {
	Handle(tenantID string) repositories.StoreHandle
}

type CachedResolver struct {
	backend Backend
	cache   *expirable.LRU[string, repositories.StoreHandle]
	group   singleflight.Group
	log     *zap.Logger
}

func NewCachedResolver(backend Backend, size int, ttl time.Duration, log *zap.Logger) *CachedResolver {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	r := &CachedResolver{backend: backend, log: log}
	r.cache = expirable.NewLRU[string, repositories.StoreHandle](size, func(key string, _ repositories.StoreHandle) {
		r.log.Debug("tenant handle evicted", zap.String("tenant_id", key))
	}, ttl)
	return r
}

func (r *CachedResolver) Resolve(ctx context.Context, tenantID string) (repositories.StoreHandle, error) {
	if !ValidID(tenantID) {
		return nil, apperr.Forbidden("invalid tenant id %q", tenantID)
	}
	if h, ok := r.cache.Get(tenantID); ok {
		return h, nil
	}

	v, err, _ := r.group.Do(tenantID, func() (any, error) {
		if h, ok := r.cache.Get(tenantID); ok {
			return h, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		h := r.backend.Handle(tenantID)
		r.cache.Add(tenantID, h)
		r.log.Info("tenant handle resolved", zap.String("tenant_id", tenantID))
		return h, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(repositories.StoreHandle), nil
}

// Invalidate drops a cached handle, e.g. after a tenant is deprovisioned.
func (r *CachedResolver) Invalidate(tenantID string) {
	r.cache.Remove(tenantID)
}

func (r *CachedResolver) Len() int {
	return r.cache.Len()
}
