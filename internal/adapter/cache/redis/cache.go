// Package redis caches enriched jobs for fast reads. The cache is strictly
// best-effort: the worker treats failures here as log-worthy, not fatal.
package redis

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/ai-job-matcher/internal/domain"
)

const (
	jobKeyPrefix  = "job:"
	recentListKey = "jobs:recent"
	recentMax     = 100
)

// Cache stores enriched jobs in Redis keyed by job id, plus a capped list of
// recently enriched ids.
type Cache struct {
	client *redis.Client
}

// New constructs a Cache over an existing client.
func New(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// CacheJob writes the job under job:{id} with a TTL and pushes the id onto
// the recent list, trimming it to the last hundred entries.
func (c *Cache) CacheJob(ctx domain.Context, job domain.EnrichedJob, ttl time.Duration) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("op=cache.CacheJob: marshal: %w", err)
	}
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, jobKeyPrefix+job.ID, payload, ttl)
	pipe.LPush(ctx, recentListKey, job.ID)
	pipe.LTrim(ctx, recentListKey, 0, recentMax-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("op=cache.CacheJob: %w", err)
	}
	return nil
}

// GetJob loads a cached job. A cache miss surfaces domain.ErrNotFound.
func (c *Cache) GetJob(ctx domain.Context, id string) (domain.EnrichedJob, error) {
	raw, err := c.client.Get(ctx, jobKeyPrefix+id).Bytes()
	if err == redis.Nil {
		return domain.EnrichedJob{}, fmt.Errorf("op=cache.GetJob: %w", domain.ErrNotFound)
	}
	if err != nil {
		return domain.EnrichedJob{}, fmt.Errorf("op=cache.GetJob: %w", err)
	}
	var job domain.EnrichedJob
	if err := json.Unmarshal(raw, &job); err != nil {
		return domain.EnrichedJob{}, fmt.Errorf("op=cache.GetJob: decode: %w", err)
	}
	return job, nil
}

// RecentJobIDs returns up to n most recently cached job ids, newest first.
func (c *Cache) RecentJobIDs(ctx domain.Context, n int) ([]string, error) {
	if n <= 0 || n > recentMax {
		n = recentMax
	}
	ids, err := c.client.LRange(ctx, recentListKey, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("op=cache.RecentJobIDs: %w", err)
	}
	return ids, nil
}
