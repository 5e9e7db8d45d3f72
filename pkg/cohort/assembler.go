package cohort

import (
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/synaptica-ai/surgical-cohort/pkg/classifier"
	"github.com/synaptica-ai/surgical-cohort/pkg/common/models"
	"github.com/synaptica-ai/surgical-cohort/pkg/identity"
	"github.com/synaptica-ai/surgical-cohort/pkg/timeline"
)

// Exclusion records why an episode did not make it into the cohort.
type Exclusion struct {
	EpisodeID string         `json:"record_id"`
	PatientID string         `json:"person_id,omitempty"`
	Outcome   models.Outcome `json:"outcome"`
	Reason    string         `json:"reason"`
}

type Result struct {
	Episodes   []classifier.EpisodeResult
	Rows       []models.CohortRow
	Exclusions []Exclusion
	Counts     models.CohortCounts
	Audits     []models.CorrespondenceAudit
}

// Included returns the episodes that contributed rows.
func (r *Result) Included() []classifier.EpisodeResult {
	var out []classifier.EpisodeResult
	for _, ep := range r.Episodes {
		if ep.Outcome == models.OutcomeIncluded {
			out = append(out, ep)
		}
	}
	return out
}

type Assembler struct {
	log       logrus.FieldLogger
	visitKind string
}

func NewAssembler(log logrus.FieldLogger, visitKind string) *Assembler {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Assembler{log: log, visitKind: strings.TrimSpace(visitKind)}
}

// Assemble classifies every candidate episode and collects the cohort rows.
// Absent dates and missing records only exclude episodes; a malformed date
// string aborts the run.
func (a *Assembler) Assemble(extracts models.Extracts) (*Result, error) {
	resolver := identity.NewResolver(extracts.Identities)
	surgeries, surgeryOrder := indexSurgeries(extracts.Surgeries)
	visits := groupVisits(extracts.Visits)

	result := &Result{
		Rows: make([]models.CohortRow, 0, len(extracts.Visits)),
	}

	if len(extracts.Identities) > 0 {
		result.Audits = append(result.Audits, resolver.Audit()...)
	}
	if len(extracts.Visits) > 0 {
		result.Audits = append(result.Audits, identity.VisitAudit(extracts.Visits))
	}
	for _, audit := range result.Audits {
		identity.LogAudit(a.log, audit)
	}
	for _, dup := range resolver.Duplicates() {
		result.Counts.DuplicateIdentities++
		a.log.WithField("record_id", dup).Warn("duplicate identity record ignored")
	}

	for _, id := range candidates(resolver.EpisodeIDs(), surgeryOrder) {
		patientID := ""
		if rec, err := resolver.Lookup(id); err == nil {
			patientID = rec.PatientID
		} else {
			result.Counts.NoIdentity++
			entry := a.log.WithField("record_id", id)
			if resolver.Len() > 0 {
				entry.Warn("operation has no identity record")
			} else {
				entry.Debug("operation has no identity record")
			}
		}
		log := a.log.WithFields(logrus.Fields{"record_id": id, "person_id": patientID})

		surgery, ok := surgeries[id]
		if !ok {
			a.exclude(result, log, Exclusion{EpisodeID: id, PatientID: patientID, Outcome: models.OutcomeNoEpisode, Reason: "no operation found"})
			continue
		}
		index, err := timeline.NormalizeString(surgery.DOS)
		if err != nil {
			return nil, fmt.Errorf("episode %s: DOS: %w", id, err)
		}
		if index.IsUnknown() {
			a.exclude(result, log, Exclusion{EpisodeID: id, PatientID: patientID, Outcome: models.OutcomeNoEpisode, Reason: "operation date unknown"})
			continue
		}

		episodeVisits, err := normalizeVisits(visits[id])
		if err != nil {
			return nil, fmt.Errorf("episode %s: %w", id, err)
		}

		episode := classifier.ClassifyEpisode(classifier.Episode{ID: id, PatientID: patientID, Index: index}, episodeVisits, a.visitKind)
		result.Episodes = append(result.Episodes, episode)

		if len(episode.Unclassified) > 0 {
			result.Counts.UnclassifiedVisits += len(episode.Unclassified)
			log.WithField("visit_occurrence_ids", episode.Unclassified).Warn("visits with unknown start or end left unclassified")
		}

		switch episode.Outcome {
		case models.OutcomeNoVisit:
			a.exclude(result, log, Exclusion{EpisodeID: id, PatientID: patientID, Outcome: episode.Outcome, Reason: "no visit data"})
		case models.OutcomeNoPeriop:
			a.exclude(result, log, Exclusion{EpisodeID: id, PatientID: patientID, Outcome: episode.Outcome, Reason: "no periop data"})
		default:
			result.Counts.Add(episode.Outcome)
			if episode.Readmitted {
				result.Counts.Readmitted++
			}
			result.Rows = append(result.Rows, episode.Rows...)
			log.WithFields(logrus.Fields{
				"rows":       len(episode.Rows),
				"readmitted": episode.Readmitted,
			}).Debug("episode included")
		}
	}

	result.Counts.Rows = len(result.Rows)
	a.log.WithFields(logrus.Fields{
		"episodes":            result.Counts.Episodes,
		"included":            result.Counts.Included,
		"readmitted":          result.Counts.Readmitted,
		"no_episode":          result.Counts.NoEpisode,
		"no_identity":         result.Counts.NoIdentity,
		"no_visit":            result.Counts.NoVisit,
		"no_periop":           result.Counts.NoPeriop,
		"rows":                result.Counts.Rows,
		"unclassified_visits": result.Counts.UnclassifiedVisits,
	}).Info("cohort assembled")

	return result, nil
}

func (a *Assembler) exclude(result *Result, log logrus.FieldLogger, exclusion Exclusion) {
	result.Counts.Add(exclusion.Outcome)
	result.Exclusions = append(result.Exclusions, exclusion)
	log.WithFields(logrus.Fields{
		"outcome": exclusion.Outcome,
		"reason":  exclusion.Reason,
	}).Info("episode skipped")
}

// candidates lists identity episode ids followed by surgery ids without an
// identity record, each in first-seen order.
func candidates(identityIDs, surgeryIDs []string) []string {
	seen := make(map[string]struct{}, len(identityIDs)+len(surgeryIDs))
	out := make([]string, 0, len(identityIDs)+len(surgeryIDs))
	for _, ids := range [][]string{identityIDs, surgeryIDs} {
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

func indexSurgeries(records []models.SurgeryRecord) (map[string]models.SurgeryRecord, []string) {
	index := make(map[string]models.SurgeryRecord, len(records))
	var order []string
	for _, rec := range records {
		id := strings.TrimSpace(rec.EpisodeID)
		if id == "" {
			continue
		}
		if _, ok := index[id]; ok {
			continue
		}
		index[id] = rec
		order = append(order, id)
	}
	return index, order
}

func groupVisits(records []models.VisitRecord) map[string][]models.VisitRecord {
	grouped := make(map[string][]models.VisitRecord)
	for _, rec := range records {
		id := strings.TrimSpace(rec.EpisodeID)
		if id == "" {
			continue
		}
		grouped[id] = append(grouped[id], rec)
	}
	return grouped
}

func normalizeVisits(records []models.VisitRecord) ([]classifier.Visit, error) {
	out := make([]classifier.Visit, 0, len(records))
	for _, rec := range records {
		start, err := timeline.NormalizeString(rec.Start)
		if err != nil {
			return nil, fmt.Errorf("visit %s start: %w", rec.VisitID, err)
		}
		end, err := timeline.NormalizeString(rec.End)
		if err != nil {
			return nil, fmt.Errorf("visit %s end: %w", rec.VisitID, err)
		}
		out = append(out, classifier.Visit{Record: rec, Span: classifier.Span{Start: start, End: end}})
	}
	return out, nil
}
