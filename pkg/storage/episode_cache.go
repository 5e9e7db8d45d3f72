package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/synaptica-ai/surgical-cohort/pkg/common/models"
)

var ErrCacheMiss = errors.New("episode not cached")

// EpisodeCache keeps the latest summary of each episode of a run in Redis so
// the service can answer episode lookups without a database round trip.
type EpisodeCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewEpisodeCache(client *redis.Client, ttl time.Duration) *EpisodeCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &EpisodeCache{client: client, ttl: ttl}
}

func EpisodeKey(runID, episodeID string) string {
	return fmt.Sprintf("cohort:%s:%s", runID, episodeID)
}

func (c *EpisodeCache) PutEpisode(ctx context.Context, summary models.EpisodeSummary) error {
	if c.client == nil {
		return fmt.Errorf("redis client not configured")
	}
	if summary.UpdatedAt.IsZero() {
		summary.UpdatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, EpisodeKey(summary.RunID, summary.EpisodeID), data, c.ttl).Err()
}

func (c *EpisodeCache) GetEpisode(ctx context.Context, runID, episodeID string) (models.EpisodeSummary, error) {
	if c.client == nil {
		return models.EpisodeSummary{}, ErrCacheMiss
	}
	data, err := c.client.Get(ctx, EpisodeKey(runID, episodeID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.EpisodeSummary{}, ErrCacheMiss
	}
	if err != nil {
		return models.EpisodeSummary{}, err
	}
	var summary models.EpisodeSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return models.EpisodeSummary{}, err
	}
	return summary, nil
}
