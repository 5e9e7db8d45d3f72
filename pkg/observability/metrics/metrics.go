package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/synaptica-ai/surgical-cohort/pkg/common/models"
)

type gauge struct {
	name  string
	help  string
	value atomic.Int64
}

var (
	runsCompleted       = &gauge{name: "cohort_runs_completed_total", help: "Number of cohort runs completed since start."}
	runsFailed          = &gauge{name: "cohort_runs_failed_total", help: "Number of cohort runs failed since start."}
	runsActive          = &gauge{name: "cohort_runs_active", help: "Number of cohort runs currently executing."}
	episodesEvaluated   = &gauge{name: "cohort_episodes_evaluated", help: "Episodes evaluated by the latest run."}
	episodesIncluded    = &gauge{name: "cohort_episodes_included", help: "Episodes included by the latest run."}
	episodesReadmitted  = &gauge{name: "cohort_episodes_readmitted", help: "Included episodes flagged as readmitted in the latest run."}
	noEpisode           = &gauge{name: "cohort_excluded_no_episode", help: "Episodes without a usable operation record in the latest run."}
	noIdentity          = &gauge{name: "cohort_operations_without_identity", help: "Operations without an identity record in the latest run."}
	noVisit             = &gauge{name: "cohort_excluded_no_visit", help: "Episodes without visit data in the latest run."}
	noPeriop            = &gauge{name: "cohort_excluded_no_periop", help: "Episodes without a perioperative visit in the latest run."}
	cohortRows          = &gauge{name: "cohort_rows", help: "Cohort rows produced by the latest run."}
	unclassifiedVisits  = &gauge{name: "cohort_unclassified_visits", help: "Visits left unclassified for unknown dates in the latest run."}
	duplicateIdentities = &gauge{name: "cohort_duplicate_identities", help: "Duplicate identity records ignored in the latest run."}

	gauges = []*gauge{
		runsCompleted, runsFailed, runsActive,
		episodesEvaluated, episodesIncluded, episodesReadmitted,
		noEpisode, noIdentity, noVisit, noPeriop,
		cohortRows, unclassifiedVisits, duplicateIdentities,
	}
)

func ObserveCohortCounts(counts models.CohortCounts) {
	episodesEvaluated.value.Store(int64(counts.Episodes))
	episodesIncluded.value.Store(int64(counts.Included))
	episodesReadmitted.value.Store(int64(counts.Readmitted))
	noEpisode.value.Store(int64(counts.NoEpisode))
	noIdentity.value.Store(int64(counts.NoIdentity))
	noVisit.value.Store(int64(counts.NoVisit))
	noPeriop.value.Store(int64(counts.NoPeriop))
	cohortRows.value.Store(int64(counts.Rows))
	unclassifiedVisits.value.Store(int64(counts.UnclassifiedVisits))
	duplicateIdentities.value.Store(int64(counts.DuplicateIdentities))
}

func RunStarted() {
	runsActive.value.Add(1)
}

func RunFinished(err error) {
	runsActive.value.Add(-1)
	if err != nil {
		runsFailed.value.Add(1)
		return
	}
	runsCompleted.value.Add(1)
}

func WritePrometheus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	for _, g := range gauges {
		fmt.Fprintf(w, "# HELP synaptica_%s %s\n", g.name, g.help)
		fmt.Fprintf(w, "# TYPE synaptica_%s gauge\n", g.name)
		fmt.Fprintf(w, "synaptica_%s %d\n", g.name, g.value.Load())
	}
}
