package identity

import (
	"errors"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/synaptica-ai/surgical-cohort/pkg/common/models"
)

var ErrUnknownEpisode = errors.New("episode has no identity record")

// Resolver maps an episode id to the patient it belongs to.
type Resolver struct {
	byEpisode  map[string]models.IdentityRecord
	order      []string
	records    []models.IdentityRecord
	duplicates []string
}

// NewResolver indexes identity records by episode id. The first record for an
// episode wins; later ones are kept only for auditing.
func NewResolver(records []models.IdentityRecord) *Resolver {
	r := &Resolver{
		byEpisode: make(map[string]models.IdentityRecord, len(records)),
		records:   records,
	}
	for _, rec := range records {
		id := strings.TrimSpace(rec.EpisodeID)
		if id == "" {
			continue
		}
		if _, ok := r.byEpisode[id]; ok {
			r.duplicates = append(r.duplicates, id)
			continue
		}
		r.byEpisode[id] = rec
		r.order = append(r.order, id)
	}
	return r
}

func (r *Resolver) Lookup(episodeID string) (models.IdentityRecord, error) {
	rec, ok := r.byEpisode[strings.TrimSpace(episodeID)]
	if !ok {
		return models.IdentityRecord{}, ErrUnknownEpisode
	}
	return rec, nil
}

// EpisodeIDs returns the indexed episode ids in first-seen order.
func (r *Resolver) EpisodeIDs() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

func (r *Resolver) Duplicates() []string {
	return r.duplicates
}

func (r *Resolver) Len() int {
	return len(r.order)
}

// Audit checks the episode/patient and patient/source-value relationships
// over the raw identity records.
func (r *Resolver) Audit() []models.CorrespondenceAudit {
	episodes := make([]string, len(r.records))
	patients := make([]string, len(r.records))
	sources := make([]string, len(r.records))
	for i, rec := range r.records {
		episodes[i] = rec.EpisodeID
		patients[i] = rec.PatientID
		sources[i] = rec.SourceValue
	}
	return []models.CorrespondenceAudit{
		Audit("episode_patient", episodes, patients),
		Audit("patient_source_value", patients, sources),
	}
}

// VisitAudit checks that every visit occurrence belongs to a single episode.
func VisitAudit(visits []models.VisitRecord) models.CorrespondenceAudit {
	visitIDs := make([]string, len(visits))
	episodes := make([]string, len(visits))
	for i, v := range visits {
		visitIDs[i] = v.VisitID
		episodes[i] = v.EpisodeID
	}
	return Audit("visit_episode", visitIDs, episodes)
}

// LogAudit writes one line per check, plus the offending keys when a
// direction is not one-to-one.
func LogAudit(log logrus.FieldLogger, audit models.CorrespondenceAudit) {
	entry := log.WithFields(logrus.Fields{
		"check":  audit.Name,
		"a_to_b": audit.AToB,
		"b_to_a": audit.BToA,
	})
	entry.Info("identity correspondence checked")

	reports := []struct {
		direction string
		report    map[int]models.PartnerBucket
	}{
		{"a_to_b", audit.ReportAB},
		{"b_to_a", audit.ReportBA},
	}
	for _, r := range reports {
		counts := make([]int, 0, len(r.report))
		for partners := range r.report {
			if partners > 1 {
				counts = append(counts, partners)
			}
		}
		sort.Ints(counts)
		for _, partners := range counts {
			bucket := r.report[partners]
			entry.WithFields(logrus.Fields{
				"direction": r.direction,
				"partners":  partners,
				"count":     bucket.Count,
				"keys":      bucket.Keys,
			}).Warn("keys paired with more than one partner")
		}
	}
}
