// Package orgcache puts a read-through cache in front of organization
// lookups. Organizations are read-only for the service, so entries only
// leave the cache by TTL.
package orgcache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"

	"tasktrail.org/internal/auth"
	"tasktrail.org/internal/obs"
)

const (
	DefaultSize = 1024
	DefaultTTL  = time.Minute

	keyPrefix = "tasktrail:org:"
)

// Cache implements auth.OrganizationStore over a backing store, checking an
// in-process LRU first and Redis second when configured.
type Cache struct {
	next  auth.OrganizationStore
	local *lru.LRU[string, auth.Organization]
	redis redis.UniversalClient
	ttl   time.Duration
}

// Option configures a Cache.
type Option func(*Cache)

// WithRedis adds a shared cache tier.
func WithRedis(client redis.UniversalClient) Option {
	return func(c *Cache) { c.redis = client }
}

// New wraps next. Non-positive size or ttl fall back to the defaults.
func New(next auth.OrganizationStore, size int, ttl time.Duration, opts ...Option) *Cache {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		next:  next,
		local: lru.NewLRU[string, auth.Organization](size, nil, ttl),
		ttl:   ttl,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewRedisClient parses a redis:// URL and checks the connection.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// FindOrganization returns a copy of the cached organization or loads it.
// Missing organizations are not cached.
func (c *Cache) FindOrganization(ctx context.Context, id string) (*auth.Organization, error) {
	if org, ok := c.local.Get(id); ok {
		return clone(org), nil
	}
	if org, ok := c.fromRedis(ctx, id); ok {
		c.local.Add(id, org)
		return clone(org), nil
	}
	org, err := c.next.FindOrganization(ctx, id)
	if err != nil {
		return nil, err
	}
	c.local.Add(id, *clone(*org))
	c.toRedis(ctx, org)
	return clone(*org), nil
}

// Purge drops every locally cached entry.
func (c *Cache) Purge() {
	c.local.Purge()
}

func (c *Cache) fromRedis(ctx context.Context, id string) (auth.Organization, bool) {
	if c.redis == nil {
		return auth.Organization{}, false
	}
	raw, err := c.redis.Get(ctx, keyPrefix+id).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			obs.Logger().WithError(err).WithField("organization_id", id).Warn("organization cache read failed")
		}
		return auth.Organization{}, false
	}
	var org auth.Organization
	if err := json.Unmarshal(raw, &org); err != nil {
		return auth.Organization{}, false
	}
	return org, true
}

func (c *Cache) toRedis(ctx context.Context, org *auth.Organization) {
	if c.redis == nil {
		return
	}
	raw, err := json.Marshal(org)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, keyPrefix+org.ID, raw, c.ttl).Err(); err != nil {
		obs.Logger().WithError(err).WithField("organization_id", org.ID).Warn("organization cache write failed")
	}
}

func clone(o auth.Organization) *auth.Organization {
	if o.ParentID != nil {
		parent := *o.ParentID
		o.ParentID = &parent
	}
	return &o
}
