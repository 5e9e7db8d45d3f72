package cohort

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/synaptica-ai/surgical-cohort/pkg/common/models"
	"github.com/synaptica-ai/surgical-cohort/pkg/timeline"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const rowBatchSize = 500

type runModel struct {
	ID           uuid.UUID      `gorm:"primaryKey;column:id"`
	Status       string         `gorm:"column:status;index"`
	VisitKind    string         `gorm:"column:visit_kind"`
	OutputDir    string         `gorm:"column:output_dir"`
	Counts       datatypes.JSON `gorm:"column:counts"`
	Durations    datatypes.JSON `gorm:"column:durations"`
	Audits       datatypes.JSON `gorm:"column:audits"`
	ErrorMessage string         `gorm:"column:error_message"`
	RequestedBy  string         `gorm:"column:requested_by"`
	CreatedAt    time.Time      `gorm:"column:created_at"`
	StartedAt    *time.Time     `gorm:"column:started_at"`
	CompletedAt  *time.Time     `gorm:"column:completed_at"`
}

func (runModel) TableName() string {
	return "cohort_runs"
}

type episodeModel struct {
	RunID      uuid.UUID `gorm:"primaryKey;column:run_id"`
	EpisodeID  string    `gorm:"primaryKey;column:record_id"`
	PatientID  string    `gorm:"column:person_id;index"`
	DOS        string    `gorm:"column:dos"`
	Outcome    string    `gorm:"column:outcome"`
	Readmitted bool      `gorm:"column:readmitted"`
	Visits     int       `gorm:"column:visits"`
	UpdatedAt  time.Time `gorm:"column:updated_at"`
}

func (episodeModel) TableName() string {
	return "cohort_episodes"
}

type rowModel struct {
	ID         uint      `gorm:"primaryKey;autoIncrement;column:id"`
	RunID      uuid.UUID `gorm:"column:run_id;index:idx_cohort_rows_episode"`
	EpisodeID  string    `gorm:"column:record_id;index:idx_cohort_rows_episode"`
	PatientID  string    `gorm:"column:person_id"`
	VisitID    string    `gorm:"column:visit_occurrence_id"`
	VisitStart int64     `gorm:"column:visit_start"`
	VisitEnd   int64     `gorm:"column:visit_end"`
	CareSite   string    `gorm:"column:care_site_name"`
	RelStart   int64     `gorm:"column:rel_start"`
	RelEnd     int64     `gorm:"column:rel_end"`
	Duration   int64     `gorm:"column:visit_duration"`
	Readmitted bool      `gorm:"column:readmitted"`
}

func (rowModel) TableName() string {
	return "cohort_rows"
}

// Repository is the Postgres RunStore.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&runModel{}, &episodeModel{}, &rowModel{})
}

func (r *Repository) CreateRun(ctx context.Context, run models.CohortRun) error {
	model := toRunModel(run)
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *Repository) SaveRun(ctx context.Context, run models.CohortRun) error {
	model := toRunModel(run)
	return r.db.WithContext(ctx).Save(&model).Error
}

func (r *Repository) GetRun(ctx context.Context, id uuid.UUID) (models.CohortRun, error) {
	var model runModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.CohortRun{}, ErrRunNotFound
	}
	if err != nil {
		return models.CohortRun{}, err
	}
	return fromRunModel(model), nil
}

func (r *Repository) ListRuns(ctx context.Context, limit int) ([]models.CohortRun, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []runModel
	if err := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&records).Error; err != nil {
		return nil, err
	}
	runs := make([]models.CohortRun, 0, len(records))
	for _, record := range records {
		runs = append(runs, fromRunModel(record))
	}
	return runs, nil
}

// SaveEpisodes writes the episode outcomes and their cohort rows in one
// transaction.
func (r *Repository) SaveEpisodes(ctx context.Context, runID uuid.UUID, episodes []models.EpisodeSummary) error {
	if len(episodes) == 0 {
		return nil
	}
	episodeRows := make([]episodeModel, 0, len(episodes))
	var cohortRows []rowModel
	for _, ep := range episodes {
		episodeRows = append(episodeRows, episodeModel{
			RunID:      runID,
			EpisodeID:  ep.EpisodeID,
			PatientID:  ep.PatientID,
			DOS:        ep.DOS,
			Outcome:    string(ep.Outcome),
			Readmitted: ep.Readmitted,
			Visits:     ep.Visits,
			UpdatedAt:  ep.UpdatedAt,
		})
		for _, row := range ep.Rows {
			cohortRows = append(cohortRows, toRowModel(runID, row))
		}
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.CreateInBatches(episodeRows, rowBatchSize).Error; err != nil {
			return err
		}
		if len(cohortRows) == 0 {
			return nil
		}
		return tx.CreateInBatches(cohortRows, rowBatchSize).Error
	})
}

func (r *Repository) GetEpisode(ctx context.Context, runID uuid.UUID, episodeID string) (models.EpisodeSummary, error) {
	var model episodeModel
	err := r.db.WithContext(ctx).First(&model, "run_id = ? AND record_id = ?", runID, episodeID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.EpisodeSummary{}, ErrEpisodeNotFound
	}
	if err != nil {
		return models.EpisodeSummary{}, err
	}

	var rows []rowModel
	if err := r.db.WithContext(ctx).
		Where("run_id = ? AND record_id = ?", runID, episodeID).
		Order("id").
		Find(&rows).Error; err != nil {
		return models.EpisodeSummary{}, err
	}

	summary := models.EpisodeSummary{
		RunID:      runID.String(),
		EpisodeID:  model.EpisodeID,
		PatientID:  model.PatientID,
		DOS:        model.DOS,
		Outcome:    models.Outcome(model.Outcome),
		Readmitted: model.Readmitted,
		Visits:     model.Visits,
		UpdatedAt:  model.UpdatedAt,
	}
	for _, row := range rows {
		summary.Rows = append(summary.Rows, fromRowModel(row))
	}
	return summary, nil
}

func toRunModel(run models.CohortRun) runModel {
	counts, _ := json.Marshal(run.Counts)
	durations, _ := json.Marshal(run.Durations)
	audits, _ := json.Marshal(run.Audits)
	return runModel{
		ID:           run.ID,
		Status:       run.Status,
		VisitKind:    run.VisitKind,
		OutputDir:    run.OutputDir,
		Counts:       datatypes.JSON(counts),
		Durations:    datatypes.JSON(durations),
		Audits:       datatypes.JSON(audits),
		ErrorMessage: run.ErrorMessage,
		RequestedBy:  run.RequestedBy,
		CreatedAt:    run.CreatedAt,
		StartedAt:    run.StartedAt,
		CompletedAt:  run.CompletedAt,
	}
}

func fromRunModel(model runModel) models.CohortRun {
	run := models.CohortRun{
		ID:           model.ID,
		Status:       model.Status,
		VisitKind:    model.VisitKind,
		OutputDir:    model.OutputDir,
		ErrorMessage: model.ErrorMessage,
		RequestedBy:  model.RequestedBy,
		CreatedAt:    model.CreatedAt,
		StartedAt:    model.StartedAt,
		CompletedAt:  model.CompletedAt,
	}
	if len(model.Counts) > 0 {
		_ = json.Unmarshal(model.Counts, &run.Counts)
	}
	if len(model.Durations) > 0 {
		_ = json.Unmarshal(model.Durations, &run.Durations)
	}
	if len(model.Audits) > 0 {
		_ = json.Unmarshal(model.Audits, &run.Audits)
	}
	return run
}

func toRowModel(runID uuid.UUID, row models.CohortRow) rowModel {
	return rowModel{
		RunID:      runID,
		EpisodeID:  row.EpisodeID,
		PatientID:  row.PatientID,
		VisitID:    row.VisitID,
		VisitStart: int64(row.VisitStart),
		VisitEnd:   int64(row.VisitEnd),
		CareSite:   row.CareSite,
		RelStart:   row.RelStart,
		RelEnd:     row.RelEnd,
		Duration:   row.Duration,
		Readmitted: row.Readmitted,
	}
}

func fromRowModel(model rowModel) models.CohortRow {
	return models.CohortRow{
		EpisodeID:  model.EpisodeID,
		PatientID:  model.PatientID,
		VisitID:    model.VisitID,
		VisitStart: timeline.Timestamp(model.VisitStart),
		VisitEnd:   timeline.Timestamp(model.VisitEnd),
		CareSite:   model.CareSite,
		RelStart:   model.RelStart,
		RelEnd:     model.RelEnd,
		Duration:   model.Duration,
		Readmitted: model.Readmitted,
	}
}
