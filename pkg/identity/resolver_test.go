package identity

import (
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synaptica-ai/surgical-cohort/pkg/common/models"
)

func identities() []models.IdentityRecord {
	return []models.IdentityRecord{
		{EpisodeID: "R1", PatientID: "P1", SourceValue: "MRN-1"},
		{EpisodeID: "R2", PatientID: "P1", SourceValue: "MRN-1"},
		{EpisodeID: "R3", PatientID: "P2", SourceValue: "MRN-2"},
		{EpisodeID: "R1", PatientID: "P9", SourceValue: "MRN-9"},
		{EpisodeID: " ", PatientID: "P0"},
	}
}

func TestResolverLookup(t *testing.T) {
	r := NewResolver(identities())

	rec, err := r.Lookup("R1")
	require.NoError(t, err)
	assert.Equal(t, "P1", rec.PatientID, "first record wins")

	_, err = r.Lookup("R404")
	assert.ErrorIs(t, err, ErrUnknownEpisode)

	assert.Equal(t, []string{"R1", "R2", "R3"}, r.EpisodeIDs())
	assert.Equal(t, []string{"R1"}, r.Duplicates())
	assert.Equal(t, 3, r.Len())
}

func TestResolverAudit(t *testing.T) {
	audits := NewResolver(identities()).Audit()
	require.Len(t, audits, 2)

	episodePatient := audits[0]
	assert.Equal(t, "episode_patient", episodePatient.Name)
	assert.False(t, episodePatient.AToB, "R1 appears with P1 and P9")
	assert.False(t, episodePatient.BToA, "P1 owns two episodes")

	patientSource := audits[1]
	assert.True(t, patientSource.AToB)
}

func TestVisitAudit(t *testing.T) {
	audit := VisitAudit([]models.VisitRecord{
		{VisitID: "V1", EpisodeID: "R1"},
		{VisitID: "V1", EpisodeID: "R1"},
		{VisitID: "V2", EpisodeID: "R2"},
	})
	assert.True(t, audit.AToB)
	assert.True(t, audit.BToA)
}

func TestLogAuditWarnsOnViolations(t *testing.T) {
	log, hook := test.NewNullLogger()
	LogAudit(log, Audit("episode_patient", []string{"R1", "R1"}, []string{"P1", "P2"}))

	var warnings int
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel {
			warnings++
			assert.Equal(t, 2, entry.Data["partners"])
		}
	}
	assert.Equal(t, 1, warnings)
}

func TestLogAuditOrdersViolations(t *testing.T) {
	audit := Audit("episode_patient",
		[]string{"R1", "R1", "R2", "R2", "R2", "R3"},
		[]string{"P1", "P2", "P3", "P4", "P5", "P1"},
	)
	want := []string{"a_to_b/2", "a_to_b/3", "b_to_a/2"}

	for i := 0; i < 20; i++ {
		log, hook := test.NewNullLogger()
		LogAudit(log, audit)

		var got []string
		for _, entry := range hook.AllEntries() {
			if entry.Level == logrus.WarnLevel {
				got = append(got, fmt.Sprintf("%s/%d", entry.Data["direction"], entry.Data["partners"]))
			}
		}
		require.Equal(t, want, got)
	}
}
