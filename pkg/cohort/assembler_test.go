package cohort

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synaptica-ai/surgical-cohort/pkg/common/models"
	"github.com/synaptica-ai/surgical-cohort/pkg/timeline"
)

const day = timeline.MinutesPerDay

func sampleExtracts() models.Extracts {
	return models.Extracts{
		Identities: []models.IdentityRecord{
			{EpisodeID: "R1", PatientID: "P1", SourceValue: "S1"},
			{EpisodeID: "R2", PatientID: "P2", SourceValue: "S2"},
			{EpisodeID: "R3", PatientID: "P3", SourceValue: "S3"},
			{EpisodeID: "R4", PatientID: "P4", SourceValue: "S4"},
		},
		Surgeries: []models.SurgeryRecord{
			{EpisodeID: "R1", DOS: "2020/06/15 00:00"},
			{EpisodeID: "R2", DOS: "2020/06/15 00:00"},
			{EpisodeID: "R3", DOS: "nan"},
		},
		Visits: []models.VisitRecord{
			{EpisodeID: "R1", PatientID: "P1", VisitID: "a", Start: "2020/06/13 00:00", End: "2020/06/18 00:00", CareSite: "Main OR", Kind: "9201"},
			{EpisodeID: "R1", PatientID: "P1", VisitID: "b", Start: "2020/06/25 00:00", End: "2020/09/23 00:00", CareSite: "Ward", Kind: "9201"},
			{EpisodeID: "R1", PatientID: "P1", VisitID: "c", Start: "2021/01/01 00:00", End: "2021/01/06 00:00", CareSite: "Ward", Kind: "9201"},
			{EpisodeID: "R2", PatientID: "P2", VisitID: "d", Start: "2021/01/01 00:00", End: "2021/01/02 00:00", Kind: "9201"},
		},
	}
}

func TestAssembleEndToEnd(t *testing.T) {
	result, err := NewAssembler(nil, "9201").Assemble(sampleExtracts())
	require.NoError(t, err)

	require.Len(t, result.Rows, 1)
	row := result.Rows[0]
	assert.Equal(t, "R1", row.EpisodeID)
	assert.Equal(t, "P1", row.PatientID)
	assert.Equal(t, "a", row.VisitID)
	assert.Equal(t, int64(-2*day), row.RelStart)
	assert.Equal(t, int64(3*day), row.RelEnd)
	assert.Equal(t, int64(5*day), row.Duration)
	assert.True(t, row.Readmitted)

	assert.Equal(t, models.CohortCounts{
		Episodes:   4,
		Included:   1,
		Readmitted: 1,
		NoEpisode:  2,
		NoPeriop:   1,
		Rows:       1,
	}, result.Counts)

	reasons := map[string]models.Outcome{}
	for _, ex := range result.Exclusions {
		reasons[ex.EpisodeID] = ex.Outcome
	}
	assert.Equal(t, map[string]models.Outcome{
		"R2": models.OutcomeNoPeriop,
		"R3": models.OutcomeNoEpisode,
		"R4": models.OutcomeNoEpisode,
	}, reasons)

	included := result.Included()
	require.Len(t, included, 1)
	assert.Equal(t, "R1", included[0].Episode.ID)
	assert.Len(t, included[0].Visits, 3)
}

func TestAssembleNoVisit(t *testing.T) {
	extracts := models.Extracts{
		Surgeries: []models.SurgeryRecord{{EpisodeID: "R1", DOS: "2020/06/15 00:00"}},
	}
	result, err := NewAssembler(nil, "").Assemble(extracts)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Counts.NoVisit)
	assert.Empty(t, result.Rows)
}

func TestAssembleFallsBackToSurgeryIDs(t *testing.T) {
	extracts := models.Extracts{
		Surgeries: []models.SurgeryRecord{
			{EpisodeID: "R9", DOS: "2020/06/15 00:00"},
			{EpisodeID: "R9", DOS: "2019/01/01 00:00"},
		},
		Visits: []models.VisitRecord{
			{EpisodeID: "R9", PatientID: "P9", VisitID: "v", Start: "2020/06/15 08:00", End: "2020/06/16 08:00"},
		},
	}
	result, err := NewAssembler(nil, "").Assemble(extracts)
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	assert.Equal(t, "P9", result.Rows[0].PatientID)
	assert.Equal(t, int64(8*60), result.Rows[0].RelStart)
	assert.Equal(t, 1, result.Counts.Episodes)
	assert.Equal(t, 1, result.Counts.NoIdentity)
}

func TestAssembleKeepsOperationsWithoutIdentity(t *testing.T) {
	log, hook := test.NewNullLogger()
	extracts := models.Extracts{
		Identities: []models.IdentityRecord{{EpisodeID: "R1", PatientID: "P1"}},
		Surgeries: []models.SurgeryRecord{
			{EpisodeID: "R1", DOS: "2020/06/15 00:00"},
			{EpisodeID: "R9", DOS: "2020/06/15 00:00"},
			{EpisodeID: "R8", DOS: "nan"},
		},
		Visits: []models.VisitRecord{
			{EpisodeID: "R1", PatientID: "P1", VisitID: "a", Start: "2020/06/15 08:00", End: "2020/06/16 08:00"},
			{EpisodeID: "R9", PatientID: "P9", VisitID: "z", Start: "2020/06/15 08:00", End: "2020/06/16 08:00"},
		},
	}

	result, err := NewAssembler(log, "").Assemble(extracts)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Counts.Episodes)
	assert.Equal(t, 2, result.Counts.Included)
	assert.Equal(t, 1, result.Counts.NoEpisode)
	assert.Equal(t, 2, result.Counts.NoIdentity)

	require.Len(t, result.Episodes, 2)
	assert.Equal(t, "R1", result.Episodes[0].Episode.ID)
	assert.Equal(t, "R9", result.Episodes[1].Episode.ID)
	assert.Empty(t, result.Episodes[1].Episode.PatientID)

	require.Len(t, result.Rows, 2)
	assert.Equal(t, "P9", result.Rows[1].PatientID)

	require.Len(t, result.Exclusions, 1)
	assert.Equal(t, "R8", result.Exclusions[0].EpisodeID)

	var missing []string
	for _, entry := range hook.AllEntries() {
		if entry.Message == "operation has no identity record" {
			assert.Equal(t, logrus.WarnLevel, entry.Level)
			missing = append(missing, entry.Data["record_id"].(string))
		}
	}
	assert.Equal(t, []string{"R9", "R8"}, missing)
}

func TestAssembleMalformedDates(t *testing.T) {
	t.Run("operation date", func(t *testing.T) {
		extracts := sampleExtracts()
		extracts.Surgeries[0].DOS = "15-06-2020"
		_, err := NewAssembler(nil, "").Assemble(extracts)
		require.Error(t, err)
		assert.True(t, errors.Is(err, timeline.ErrMalformed))
		assert.Contains(t, err.Error(), "R1")
	})

	t.Run("visit end", func(t *testing.T) {
		extracts := sampleExtracts()
		extracts.Visits[1].End = "2020/13/01 00:00"
		_, err := NewAssembler(nil, "").Assemble(extracts)
		require.Error(t, err)

		var parseErr *timeline.ParseError
		require.True(t, errors.As(err, &parseErr))
		assert.Equal(t, "2020/13/01 00:00", parseErr.Value)
	})
}

func TestAssembleLogsAnomalies(t *testing.T) {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	extracts := sampleExtracts()
	extracts.Identities = append(extracts.Identities, models.IdentityRecord{EpisodeID: "R1", PatientID: "P7", SourceValue: "S7"})
	extracts.Visits = append(extracts.Visits, models.VisitRecord{EpisodeID: "R1", PatientID: "P1", VisitID: "x", Start: "nan", End: "2020/06/20 00:00"})

	result, err := NewAssembler(log, "9201").Assemble(extracts)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Counts.DuplicateIdentities)
	assert.Equal(t, 1, result.Counts.UnclassifiedVisits)

	var duplicate, unclassified, skipped int
	for _, entry := range hook.AllEntries() {
		switch entry.Message {
		case "duplicate identity record ignored":
			duplicate++
		case "visits with unknown start or end left unclassified":
			unclassified++
			assert.Equal(t, []string{"x"}, entry.Data["visit_occurrence_ids"])
		case "episode skipped":
			skipped++
		}
	}
	assert.Equal(t, 1, duplicate)
	assert.Equal(t, 1, unclassified)
	assert.Equal(t, 3, skipped)
	assert.Equal(t, "cohort assembled", hook.LastEntry().Message)
}

func TestSummarizeDurations(t *testing.T) {
	assert.Equal(t, models.DurationSummary{}, SummarizeDurations(nil))

	rows := []models.CohortRow{{Duration: 30}, {Duration: 10}, {Duration: 20}, {Duration: 100}}
	summary := SummarizeDurations(rows)
	assert.Equal(t, 4, summary.Count)
	assert.InDelta(t, 40.0, summary.Mean, 1e-9)
	assert.InDelta(t, 25.0, summary.Median, 1e-9)
	assert.Equal(t, int64(10), summary.Min)
	assert.Equal(t, int64(100), summary.Max)

	odd := SummarizeDurations(rows[:3])
	assert.InDelta(t, 20.0, odd.Median, 1e-9)
}
