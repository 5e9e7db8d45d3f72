package metrics

import (
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/synaptica-ai/surgical-cohort/pkg/common/models"
)

func TestWritePrometheus(t *testing.T) {
	ObserveCohortCounts(models.CohortCounts{Episodes: 4, Included: 1, NoEpisode: 2, NoPeriop: 1, Rows: 1})
	before := runsFailed.value.Load()
	RunStarted()
	RunFinished(errors.New("boom"))

	rec := httptest.NewRecorder()
	WritePrometheus(rec)

	body := rec.Body.String()
	assert.Equal(t, "text/plain; version=0.0.4", rec.Header().Get("Content-Type"))
	assert.Contains(t, body, "synaptica_cohort_episodes_evaluated 4\n")
	assert.Contains(t, body, "synaptica_cohort_excluded_no_episode 2\n")
	assert.Contains(t, body, "# TYPE synaptica_cohort_rows gauge\n")
	assert.Equal(t, before+1, runsFailed.value.Load())
	assert.Equal(t, int64(0), runsActive.value.Load())
}
