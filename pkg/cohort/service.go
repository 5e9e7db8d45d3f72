package cohort

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/synaptica-ai/surgical-cohort/pkg/common/models"
	"github.com/synaptica-ai/surgical-cohort/pkg/extract"
	"github.com/synaptica-ai/surgical-cohort/pkg/observability/metrics"
	"github.com/synaptica-ai/surgical-cohort/pkg/storage"
)

const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"

	EventEpisode = "cohort.episode"
	EventRun     = "cohort.run"
	EventBuild   = "cohort.build"

	// AnyVisitKind disables the visit-kind filter for a run.
	AnyVisitKind = "*"
)

var ErrInvalidRequest = errors.New("invalid cohort request")

type AuditStore interface {
	SaveAudits(ctx context.Context, runID uuid.UUID, audits []models.CorrespondenceAudit) error
	ListAudits(ctx context.Context, runID uuid.UUID) ([]models.CorrespondenceAudit, error)
}

type EpisodeCache interface {
	PutEpisode(ctx context.Context, summary models.EpisodeSummary) error
	GetEpisode(ctx context.Context, runID, episodeID string) (models.EpisodeSummary, error)
}

type Publisher interface {
	PublishEvent(ctx context.Context, eventType string, source string, data map[string]interface{}) error
}

type Service struct {
	log        logrus.FieldLogger
	source     string
	visitKind  string
	outputDir  string
	writeFiles bool
	paths      extract.Paths
	extractDir string
	mapping    extract.Mapping
	runs       RunStore
	audits     AuditStore
	cache      EpisodeCache
	publisher  Publisher
}

type Option func(*Service)

func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

func WithSource(source string) Option {
	return func(s *Service) {
		s.source = source
	}
}

func WithRunStore(store RunStore) Option {
	return func(s *Service) {
		if store != nil {
			s.runs = store
		}
	}
}

func WithAuditStore(store AuditStore) Option {
	return func(s *Service) {
		s.audits = store
	}
}

func WithEpisodeCache(cache EpisodeCache) Option {
	return func(s *Service) {
		s.cache = cache
	}
}

func WithPublisher(publisher Publisher) Option {
	return func(s *Service) {
		s.publisher = publisher
	}
}

// WithExtracts sets the extract locations and column mapping used when a
// request leaves them out.
func WithExtracts(paths extract.Paths, mapping extract.Mapping) Option {
	return func(s *Service) {
		s.paths = paths
		s.mapping = mapping
	}
}

// WithExtractRoot allows requests to name their own extracts, as long as
// they resolve inside dir. Without it request paths are rejected.
func WithExtractRoot(dir string) Option {
	return func(s *Service) {
		s.extractDir = dir
	}
}

// WithExport enables the per-episode directory layout under dir.
func WithExport(dir string) Option {
	return func(s *Service) {
		s.outputDir = dir
		s.writeFiles = dir != ""
	}
}

func NewService(visitKind string, opts ...Option) *Service {
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	if visitKind = strings.TrimSpace(visitKind); visitKind == AnyVisitKind {
		visitKind = ""
	}

	svc := &Service{
		log:       discard,
		source:    "cohort-builder",
		visitKind: visitKind,
		mapping:   extract.DefaultMapping(),
		runs:      NewMemoryStore(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Assemble runs the assembler over in-memory extracts. An empty kind uses the
// service default; AnyVisitKind keeps every kind.
func (s *Service) Assemble(extracts models.Extracts, kind string) (*Result, error) {
	return NewAssembler(s.log, s.resolveKind(kind)).Assemble(extracts)
}

// NewRun registers a queued run for req.
func (s *Service) NewRun(ctx context.Context, req models.CohortBuildRequest) (models.CohortRun, error) {
	paths, err := s.resolvePaths(req)
	if err != nil {
		return models.CohortRun{}, err
	}
	if paths.Surgery == "" || paths.Visit == "" {
		return models.CohortRun{}, fmt.Errorf("%w: surgery and visit extracts are required", ErrInvalidRequest)
	}
	outputDir := s.outputDir
	if strings.TrimSpace(req.OutputDir) != "" {
		if outputDir, err = confine(s.outputDir, req.OutputDir); err != nil {
			return models.CohortRun{}, fmt.Errorf("output_dir: %w", err)
		}
	}
	run := models.CohortRun{
		ID:          uuid.New(),
		Status:      StatusQueued,
		VisitKind:   s.resolveKind(req.VisitKind),
		OutputDir:   outputDir,
		RequestedBy: req.RequestedBy,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.runs.CreateRun(ctx, run); err != nil {
		return models.CohortRun{}, err
	}
	return run, nil
}

// Build registers and executes a run synchronously.
func (s *Service) Build(ctx context.Context, req models.CohortBuildRequest) (models.CohortRun, *Result, error) {
	run, err := s.NewRun(ctx, req)
	if err != nil {
		return models.CohortRun{}, nil, err
	}
	return s.Run(ctx, run, req)
}

// Run executes a registered run and records its final state.
func (s *Service) Run(ctx context.Context, run models.CohortRun, req models.CohortBuildRequest) (models.CohortRun, *Result, error) {
	log := s.log.WithField("run_id", run.ID.String())

	started := time.Now().UTC()
	run.Status = StatusRunning
	run.StartedAt = &started
	if err := s.runs.SaveRun(ctx, run); err != nil {
		log.WithError(err).Warn("failed to mark run running")
	}

	metrics.RunStarted()
	result, err := s.Execute(ctx, run, req)
	metrics.RunFinished(err)

	completed := time.Now().UTC()
	run.CompletedAt = &completed
	if err != nil {
		run.Status = StatusFailed
		run.ErrorMessage = err.Error()
		log.WithError(err).Error("cohort run failed")
	} else {
		run.Status = StatusCompleted
		run.Counts = result.Counts
		run.Durations = SummarizeDurations(result.Rows)
		run.Audits = result.Audits
		metrics.ObserveCohortCounts(result.Counts)
		log.WithFields(logrus.Fields{
			"included":      run.Counts.Included,
			"excluded":      run.Counts.Excluded(),
			"mean_duration": run.Durations.Mean,
		}).Info("cohort run completed")
	}

	if saveErr := s.runs.SaveRun(ctx, run); saveErr != nil {
		log.WithError(saveErr).Error("failed to save run")
	}
	s.publish(ctx, EventRun, runEventData(run))
	return run, result, err
}

// Execute loads the extracts of req, assembles the cohort, and fans the
// outcome out to the export directory, stores, cache and publisher.
func (s *Service) Execute(ctx context.Context, run models.CohortRun, req models.CohortBuildRequest) (*Result, error) {
	paths, err := s.resolvePaths(req)
	if err != nil {
		return nil, err
	}
	extracts, err := extract.Load(paths, s.mapping)
	if err != nil {
		return nil, err
	}
	kind := run.VisitKind
	if kind == "" {
		kind = AnyVisitKind
	}
	result, err := s.Assemble(extracts, kind)
	if err != nil {
		return nil, err
	}

	if s.writeFiles && run.OutputDir != "" {
		if err := s.export(run.OutputDir, result); err != nil {
			return nil, fmt.Errorf("exporting cohort: %w", err)
		}
	}

	summaries := Summaries(run.ID.String(), result)
	if err := s.runs.SaveEpisodes(ctx, run.ID, summaries); err != nil {
		return nil, fmt.Errorf("saving episodes: %w", err)
	}
	if s.audits != nil && len(result.Audits) > 0 {
		if err := s.audits.SaveAudits(ctx, run.ID, result.Audits); err != nil {
			return nil, fmt.Errorf("saving audits: %w", err)
		}
	}

	for _, summary := range summaries {
		if s.cache != nil {
			if err := s.cache.PutEpisode(ctx, summary); err != nil {
				s.log.WithError(err).WithField("record_id", summary.EpisodeID).Warn("failed to cache episode")
			}
		}
		s.publish(ctx, EventEpisode, episodeEventData(summary))
	}
	return result, nil
}

func (s *Service) export(dir string, result *Result) error {
	exporter := NewExporter(dir)
	for _, episode := range result.Included() {
		if err := exporter.WriteEpisode(episode); err != nil {
			return err
		}
	}
	path, err := exporter.WriteCohort(result.Rows)
	if err != nil {
		return err
	}
	s.log.WithField("path", path).Info("cohort written")
	return nil
}

func (s *Service) GetRun(ctx context.Context, id uuid.UUID) (models.CohortRun, error) {
	return s.runs.GetRun(ctx, id)
}

func (s *Service) ListRuns(ctx context.Context, limit int) ([]models.CohortRun, error) {
	return s.runs.ListRuns(ctx, limit)
}

// GetEpisode reads through the cache before the run store.
func (s *Service) GetEpisode(ctx context.Context, runID uuid.UUID, episodeID string) (models.EpisodeSummary, error) {
	if s.cache != nil {
		summary, err := s.cache.GetEpisode(ctx, runID.String(), episodeID)
		if err == nil {
			return summary, nil
		}
		if !errors.Is(err, storage.ErrCacheMiss) {
			s.log.WithError(err).Warn("episode cache lookup failed")
		}
	}
	return s.runs.GetEpisode(ctx, runID, episodeID)
}

func (s *Service) ListAudits(ctx context.Context, runID uuid.UUID) ([]models.CorrespondenceAudit, error) {
	if s.audits != nil {
		return s.audits.ListAudits(ctx, runID)
	}
	run, err := s.runs.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	return run.Audits, nil
}

func (s *Service) resolveKind(kind string) string {
	switch kind = strings.TrimSpace(kind); kind {
	case "":
		return s.visitKind
	case AnyVisitKind:
		return ""
	default:
		return kind
	}
}

// resolvePaths overlays the extract paths of req on the service defaults.
// Request paths must stay inside the extract root.
func (s *Service) resolvePaths(req models.CohortBuildRequest) (extract.Paths, error) {
	paths := s.paths
	overrides := []struct {
		name   string
		value  string
		target *string
	}{
		{"identity_path", req.IdentityPath, &paths.Identity},
		{"surgery_path", req.SurgeryPath, &paths.Surgery},
		{"visit_path", req.VisitPath, &paths.Visit},
	}
	for _, o := range overrides {
		if strings.TrimSpace(o.value) == "" {
			continue
		}
		resolved, err := confine(s.extractDir, o.value)
		if err != nil {
			return extract.Paths{}, fmt.Errorf("%s: %w", o.name, err)
		}
		*o.target = resolved
	}
	return paths, nil
}

// confine resolves p against root and rejects anything that lands outside it.
func confine(root, p string) (string, error) {
	if strings.TrimSpace(root) == "" {
		return "", fmt.Errorf("%w: path overrides are disabled", ErrInvalidRequest)
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	absPath, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s is outside %s", ErrInvalidRequest, p, root)
	}
	return absPath, nil
}

func (s *Service) publish(ctx context.Context, eventType string, data map[string]interface{}) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishEvent(ctx, eventType, s.source, data); err != nil {
		s.log.WithError(err).WithField("event_type", eventType).Warn("failed to publish event")
	}
}

// Summaries lists one summary per evaluated episode, including those with no
// usable operation record.
func Summaries(runID string, result *Result) []models.EpisodeSummary {
	now := time.Now().UTC()
	out := make([]models.EpisodeSummary, 0, result.Counts.Episodes)
	for _, ep := range result.Episodes {
		out = append(out, models.EpisodeSummary{
			RunID:      runID,
			EpisodeID:  ep.Episode.ID,
			PatientID:  ep.Episode.PatientID,
			DOS:        ep.Episode.Index.String(),
			Outcome:    ep.Outcome,
			Readmitted: ep.Readmitted,
			Visits:     len(ep.Visits),
			Rows:       ep.Rows,
			UpdatedAt:  now,
		})
	}
	for _, ex := range result.Exclusions {
		if ex.Outcome != models.OutcomeNoEpisode {
			continue
		}
		out = append(out, models.EpisodeSummary{
			RunID:     runID,
			EpisodeID: ex.EpisodeID,
			PatientID: ex.PatientID,
			Outcome:   ex.Outcome,
			UpdatedAt: now,
		})
	}
	return out
}

func episodeEventData(summary models.EpisodeSummary) map[string]interface{} {
	return map[string]interface{}{
		"run_id":     summary.RunID,
		"record_id":  summary.EpisodeID,
		"person_id":  summary.PatientID,
		"outcome":    string(summary.Outcome),
		"readmitted": summary.Readmitted,
		"rows":       len(summary.Rows),
	}
}

func runEventData(run models.CohortRun) map[string]interface{} {
	data := map[string]interface{}{
		"run_id":      run.ID.String(),
		"status":      run.Status,
		"visit_kind":  run.VisitKind,
		"episodes":    run.Counts.Episodes,
		"included":    run.Counts.Included,
		"readmitted":  run.Counts.Readmitted,
		"no_episode":  run.Counts.NoEpisode,
		"no_identity": run.Counts.NoIdentity,
		"no_visit":    run.Counts.NoVisit,
		"no_periop":   run.Counts.NoPeriop,
		"rows":        run.Counts.Rows,
	}
	if run.ErrorMessage != "" {
		data["error"] = run.ErrorMessage
	}
	return data
}
