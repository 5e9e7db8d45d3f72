package cohort

import (
	"sort"

	"github.com/synaptica-ai/surgical-cohort/pkg/common/models"
)

// SummarizeDurations reports visit durations, in minutes, over the cohort rows.
func SummarizeDurations(rows []models.CohortRow) models.DurationSummary {
	if len(rows) == 0 {
		return models.DurationSummary{}
	}
	durations := make([]int64, len(rows))
	var total int64
	for i, row := range rows {
		durations[i] = row.Duration
		total += row.Duration
	}
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	n := len(durations)
	median := float64(durations[n/2])
	if n%2 == 0 {
		median = float64(durations[n/2-1]+durations[n/2]) / 2
	}
	return models.DurationSummary{
		Count:  n,
		Mean:   float64(total) / float64(n),
		Median: median,
		Min:    durations[0],
		Max:    durations[n-1],
	}
}
