package cohort

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/synaptica-ai/surgical-cohort/pkg/common/models"
)

var (
	ErrRunNotFound     = errors.New("cohort run not found")
	ErrEpisodeNotFound = errors.New("episode not found in run")
)

// RunStore records runs and the per-episode outcome of each run.
type RunStore interface {
	CreateRun(ctx context.Context, run models.CohortRun) error
	SaveRun(ctx context.Context, run models.CohortRun) error
	GetRun(ctx context.Context, id uuid.UUID) (models.CohortRun, error)
	ListRuns(ctx context.Context, limit int) ([]models.CohortRun, error)
	SaveEpisodes(ctx context.Context, runID uuid.UUID, episodes []models.EpisodeSummary) error
	GetEpisode(ctx context.Context, runID uuid.UUID, episodeID string) (models.EpisodeSummary, error)
}

type MemoryStore struct {
	mu       sync.RWMutex
	runs     map[uuid.UUID]models.CohortRun
	episodes map[uuid.UUID]map[string]models.EpisodeSummary
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:     make(map[uuid.UUID]models.CohortRun),
		episodes: make(map[uuid.UUID]map[string]models.EpisodeSummary),
	}
}

func (m *MemoryStore) CreateRun(_ context.Context, run models.CohortRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = run
	return nil
}

func (m *MemoryStore) SaveRun(_ context.Context, run models.CohortRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.ID]; !ok {
		return ErrRunNotFound
	}
	m.runs[run.ID] = run
	return nil
}

func (m *MemoryStore) GetRun(_ context.Context, id uuid.UUID) (models.CohortRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return models.CohortRun{}, ErrRunNotFound
	}
	return run, nil
}

// ListRuns returns the newest runs first.
func (m *MemoryStore) ListRuns(_ context.Context, limit int) ([]models.CohortRun, error) {
	if limit <= 0 {
		limit = 50
	}
	m.mu.RLock()
	runs := make([]models.CohortRun, 0, len(m.runs))
	for _, run := range m.runs {
		runs = append(runs, run)
	}
	m.mu.RUnlock()

	sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAt.After(runs[j].CreatedAt) })
	if len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (m *MemoryStore) SaveEpisodes(_ context.Context, runID uuid.UUID, episodes []models.EpisodeSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byID, ok := m.episodes[runID]
	if !ok {
		byID = make(map[string]models.EpisodeSummary, len(episodes))
		m.episodes[runID] = byID
	}
	for _, ep := range episodes {
		byID[ep.EpisodeID] = ep
	}
	return nil
}

func (m *MemoryStore) GetEpisode(_ context.Context, runID uuid.UUID, episodeID string) (models.EpisodeSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ep, ok := m.episodes[runID][episodeID]
	if !ok {
		return models.EpisodeSummary{}, ErrEpisodeNotFound
	}
	return ep, nil
}
