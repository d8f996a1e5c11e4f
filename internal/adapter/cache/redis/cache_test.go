package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-job-matcher/internal/domain"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client), mr
}

func job(id string) domain.EnrichedJob {
	return domain.EnrichedJob{
		RawJob:    domain.RawJob{ID: id, Company: "Acme", Position: "Engineer"},
		Skills:    []string{"Go"},
		Seniority: domain.SeniorityMid,
	}
}

func TestCacheJobRoundTrip(t *testing.T) {
	t.Parallel()
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.CacheJob(ctx, job("job-1"), time.Hour))
	got, err := c.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "Acme", got.Company)
	assert.Equal(t, []string{"Go"}, got.Skills)
}

func TestCacheJobSetsTTL(t *testing.T) {
	t.Parallel()
	c, mr := newTestCache(t)
	require.NoError(t, c.CacheJob(context.Background(), job("job-1"), time.Hour))
	assert.Equal(t, time.Hour, mr.TTL("job:job-1"))
}

func TestGetJobMiss(t *testing.T) {
	t.Parallel()
	c, _ := newTestCache(t)
	_, err := c.GetJob(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRecentJobIDsNewestFirst(t *testing.T) {
	t.Parallel()
	c, _ := newTestCache(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, c.CacheJob(ctx, job(id), time.Hour))
	}
	ids, err := c.RecentJobIDs(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b"}, ids)
}

func TestCacheJobErrorWhenRedisDown(t *testing.T) {
	t.Parallel()
	c, mr := newTestCache(t)
	mr.Close()
	err := c.CacheJob(context.Background(), job("job-1"), time.Hour)
	assert.Error(t, err)
}
