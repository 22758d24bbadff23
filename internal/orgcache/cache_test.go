package orgcache

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tasktrail.org/internal/auth"
	"tasktrail.org/internal/obs"
)

type countingStore struct {
	mu    sync.Mutex
	orgs  map[string]*auth.Organization
	calls int
}

func (s *countingStore) FindOrganization(_ context.Context, id string) (*auth.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	o, ok := s.orgs[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func newBacking() *countingStore {
	parent := "P"
	return &countingStore{orgs: map[string]*auth.Organization{
		"P": {ID: "P", Name: "parent"},
		"A": {ID: "A", Name: "a", ParentID: &parent},
	}}
}

func TestLocalTierServesRepeatReads(t *testing.T) {
	backing := newBacking()
	c := New(backing, 8, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		org, err := c.FindOrganization(ctx, "A")
		require.NoError(t, err)
		require.NotNil(t, org.ParentID)
		assert.Equal(t, "P", *org.ParentID)
		*org.ParentID = "mutated"
	}
	assert.Equal(t, 1, backing.calls)

	_, err := c.FindOrganization(ctx, "missing")
	require.ErrorIs(t, err, auth.ErrNotFound)
	_, err = c.FindOrganization(ctx, "missing")
	require.ErrorIs(t, err, auth.ErrNotFound)
	assert.Equal(t, 3, backing.calls, "misses are not cached")
}

func TestRedisTierIsShared(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	backing := newBacking()
	ctx := context.Background()
	first := New(backing, 8, time.Minute, WithRedis(client))
	_, err := first.FindOrganization(ctx, "A")
	require.NoError(t, err)
	assert.True(t, mr.Exists(keyPrefix+"A"))
	assert.Equal(t, time.Minute, mr.TTL(keyPrefix+"A"))

	second := New(backing, 8, time.Minute, WithRedis(client))
	org, err := second.FindOrganization(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "a", org.Name)
	assert.Equal(t, 1, backing.calls, "second instance read from redis")
}

func TestRedisFailureFallsBackToStore(t *testing.T) {
	var logs bytes.Buffer
	t.Cleanup(obs.SetOutput(&logs))

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	backing := newBacking()
	c := New(backing, 8, time.Minute, WithRedis(client))
	org, err := c.FindOrganization(context.Background(), "P")
	require.NoError(t, err)
	assert.Equal(t, "parent", org.Name)
	assert.Equal(t, 1, backing.calls)
	assert.Contains(t, logs.String(), "organization cache")
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewRedisClient(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	require.NoError(t, client.Close())

	_, err = NewRedisClient(context.Background(), "not a url")
	require.Error(t, err)
}
