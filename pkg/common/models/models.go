package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/synaptica-ai/surgical-cohort/pkg/timeline"
)

// Upstream extract records. Date-time fields stay raw until the assembler
// normalizes them.
type IdentityRecord struct {
	EpisodeID   string `json:"record_id"`
	PatientID   string `json:"person_id"`
	SourceValue string `json:"person_source_value"`
}

type SurgeryRecord struct {
	EpisodeID string `json:"record_id"`
	DOS       string `json:"dos"`
}

type VisitRecord struct {
	EpisodeID string `json:"record_id"`
	PatientID string `json:"person_id"`
	VisitID   string `json:"visit_occurrence_id"`
	Start     string `json:"visit_start_datetime"`
	End       string `json:"visit_end_datetime"`
	CareSite  string `json:"care_site_name"`
	Kind      string `json:"visit_concept_id"`
}

// Extracts is one run's worth of in-memory input.
type Extracts struct {
	Identities []IdentityRecord `json:"identities"`
	Surgeries  []SurgeryRecord  `json:"surgeries"`
	Visits     []VisitRecord    `json:"visits"`
}

// Cohort output
type CohortRow struct {
	EpisodeID  string             `json:"record_id"`
	PatientID  string             `json:"person_id"`
	VisitID    string             `json:"visit_occurrence_id"`
	VisitStart timeline.Timestamp `json:"visit_start"`
	VisitEnd   timeline.Timestamp `json:"visit_end"`
	CareSite   string             `json:"care_site_name"`
	RelStart   int64              `json:"rel_start"`
	RelEnd     int64              `json:"rel_end"`
	Duration   int64              `json:"visit_duration"`
	Readmitted bool               `json:"readmitted"`
}

type Outcome string

const (
	OutcomeIncluded  Outcome = "included"
	OutcomeNoEpisode Outcome = "no-episode"
	OutcomeNoVisit   Outcome = "no-visit"
	OutcomeNoPeriop  Outcome = "no-periop"
)

type CohortCounts struct {
	Episodes            int `json:"episodes"`
	Included            int `json:"included"`
	Readmitted          int `json:"readmitted"`
	NoEpisode           int `json:"no_episode"`
	NoIdentity          int `json:"no_identity"`
	NoVisit             int `json:"no_visit"`
	NoPeriop            int `json:"no_periop"`
	Rows                int `json:"rows"`
	UnclassifiedVisits  int `json:"unclassified_visits"`
	DuplicateIdentities int `json:"duplicate_identities"`
}

// Add records one episode outcome.
func (c *CohortCounts) Add(outcome Outcome) {
	c.Episodes++
	switch outcome {
	case OutcomeIncluded:
		c.Included++
	case OutcomeNoEpisode:
		c.NoEpisode++
	case OutcomeNoVisit:
		c.NoVisit++
	case OutcomeNoPeriop:
		c.NoPeriop++
	}
}

func (c CohortCounts) Excluded() int {
	return c.NoEpisode + c.NoVisit + c.NoPeriop
}

type EpisodeSummary struct {
	RunID      string      `json:"run_id,omitempty"`
	EpisodeID  string      `json:"record_id"`
	PatientID  string      `json:"person_id,omitempty"`
	DOS        string      `json:"dos,omitempty"`
	Outcome    Outcome     `json:"outcome"`
	Readmitted bool        `json:"readmitted"`
	Visits     int         `json:"visits"`
	Rows       []CohortRow `json:"rows,omitempty"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

type DurationSummary struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean_minutes"`
	Median float64 `json:"median_minutes"`
	Min    int64   `json:"min_minutes"`
	Max    int64   `json:"max_minutes"`
}

// Identity audit
type PartnerBucket struct {
	Count int      `json:"count"`
	Keys  []string `json:"keys"`
}

type CorrespondenceAudit struct {
	Name     string                `json:"name"`
	AToB     bool                  `json:"a_to_b"`
	BToA     bool                  `json:"b_to_a"`
	ReportAB map[int]PartnerBucket `json:"report_ab,omitempty"`
	ReportBA map[int]PartnerBucket `json:"report_ba,omitempty"`
}

// Runs
type CohortBuildRequest struct {
	IdentityPath string `json:"identity_path,omitempty"`
	SurgeryPath  string `json:"surgery_path,omitempty"`
	VisitPath    string `json:"visit_path,omitempty"`
	VisitKind    string `json:"visit_kind,omitempty"`
	OutputDir    string `json:"output_dir,omitempty"`
	RequestedBy  string `json:"requested_by,omitempty"`
}

type CohortRun struct {
	ID           uuid.UUID             `json:"id"`
	Status       string                `json:"status"`
	VisitKind    string                `json:"visit_kind,omitempty"`
	OutputDir    string                `json:"output_dir,omitempty"`
	Counts       CohortCounts          `json:"counts"`
	Durations    DurationSummary       `json:"durations"`
	Audits       []CorrespondenceAudit `json:"audits,omitempty"`
	ErrorMessage string                `json:"error_message,omitempty"`
	RequestedBy  string                `json:"requested_by,omitempty"`
	CreatedAt    time.Time             `json:"created_at"`
	StartedAt    *time.Time            `json:"started_at,omitempty"`
	CompletedAt  *time.Time            `json:"completed_at,omitempty"`
}

// Event Bus models
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // cohort.episode, cohort.run, cohort.build
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}
