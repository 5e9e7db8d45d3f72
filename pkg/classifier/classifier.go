package classifier

import (
	"github.com/synaptica-ai/surgical-cohort/pkg/common/models"
	"github.com/synaptica-ai/surgical-cohort/pkg/timeline"
)

const (
	PeriThreshold    int64 = 90 * timeline.MinutesPerDay
	ReadmitThreshold int64 = 180 * timeline.MinutesPerDay
)

type Span struct {
	Start timeline.Timestamp
	End   timeline.Timestamp
}

func (s Span) Known() bool {
	return !s.Start.IsUnknown() && !s.End.IsUnknown()
}

type Classification struct {
	RelStart      int64 `json:"rel_start"`
	RelEnd        int64 `json:"rel_end"`
	Duration      int64 `json:"visit_duration"`
	IsPeriop      bool  `json:"is_periop"`
	IsReadmission bool  `json:"is_readmission"`
}

// Classify places a visit relative to the index timestamp. A visit is
// perioperative only when it lies entirely inside the ±90 day band; one that
// starts before or ends after the band is not, however much it overlaps.
func Classify(index timeline.Timestamp, span Span) Classification {
	relStart := int64(span.Start - index)
	relEnd := int64(span.End - index)
	return Classification{
		RelStart:      relStart,
		RelEnd:        relEnd,
		Duration:      int64(span.End - span.Start),
		IsPeriop:      relStart >= -PeriThreshold && relEnd <= PeriThreshold,
		IsReadmission: relEnd > PeriThreshold && relStart <= ReadmitThreshold,
	}
}

type Episode struct {
	ID        string
	PatientID string
	Index     timeline.Timestamp
}

type Visit struct {
	Record models.VisitRecord
	Span   Span
}

type ClassifiedVisit struct {
	Visit
	Classification
	// Classified is false when either end of the span is unknown; both flags
	// are then false.
	Classified bool
}

type EpisodeResult struct {
	Episode      Episode
	Visits       []ClassifiedVisit
	Rows         []models.CohortRow
	Readmitted   bool
	Outcome      models.Outcome
	Unclassified []string
}

// ClassifyEpisode classifies every visit of one episode. Rows hold the
// perioperative visits of the given kind; an empty kind keeps every kind.
func ClassifyEpisode(episode Episode, visits []Visit, kind string) EpisodeResult {
	result := EpisodeResult{
		Episode: episode,
		Visits:  make([]ClassifiedVisit, 0, len(visits)),
	}
	if len(visits) == 0 {
		result.Outcome = models.OutcomeNoVisit
		return result
	}

	for _, v := range visits {
		cv := ClassifiedVisit{Visit: v}
		if v.Span.Known() {
			cv.Classification = Classify(episode.Index, v.Span)
			cv.Classified = true
		} else {
			result.Unclassified = append(result.Unclassified, v.Record.VisitID)
		}
		if cv.IsReadmission {
			result.Readmitted = true
		}
		result.Visits = append(result.Visits, cv)
	}

	for _, cv := range result.Visits {
		if !cv.IsPeriop || (kind != "" && cv.Record.Kind != kind) {
			continue
		}
		patientID := cv.Record.PatientID
		if patientID == "" {
			patientID = episode.PatientID
		}
		result.Rows = append(result.Rows, models.CohortRow{
			EpisodeID:  episode.ID,
			PatientID:  patientID,
			VisitID:    cv.Record.VisitID,
			VisitStart: cv.Span.Start,
			VisitEnd:   cv.Span.End,
			CareSite:   cv.Record.CareSite,
			RelStart:   cv.RelStart,
			RelEnd:     cv.RelEnd,
			Duration:   cv.Duration,
			Readmitted: result.Readmitted,
		})
	}

	if len(result.Rows) == 0 {
		result.Outcome = models.OutcomeNoPeriop
		return result
	}
	result.Outcome = models.OutcomeIncluded
	return result
}
