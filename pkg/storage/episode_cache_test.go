package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/synaptica-ai/surgical-cohort/pkg/common/models"
)

func TestEpisodeKey(t *testing.T) {
	assert.Equal(t, "cohort:run-1:R1", EpisodeKey("run-1", "R1"))
}

func TestEpisodeCacheWithoutClient(t *testing.T) {
	cache := NewEpisodeCache(nil, 0)
	assert.Equal(t, 24*time.Hour, cache.ttl)

	_, err := cache.GetEpisode(context.Background(), "run-1", "R1")
	assert.ErrorIs(t, err, ErrCacheMiss)

	err = cache.PutEpisode(context.Background(), models.EpisodeSummary{RunID: "run-1", EpisodeID: "R1"})
	assert.Error(t, err)
}
