package cohort

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/synaptica-ai/surgical-cohort/pkg/classifier"
	"github.com/synaptica-ai/surgical-cohort/pkg/common/models"
)

var (
	rowHeader = []string{
		"RECORD_ID", "PERSON_ID", "VISIT_OCCURRENCE_ID", "VISIT_START_DATETIME", "VISIT_END_DATETIME",
		"CARE_SITE_NAME", "REL_START", "REL_END", "VISIT_DURATION", "READMITTED",
	}
	visitHeader = []string{
		"VISIT_OCCURRENCE_ID", "VISIT_START_DATETIME", "VISIT_END_DATETIME", "CARE_SITE_NAME",
		"VISIT_CONCEPT_ID", "VISIT_DURATION", "REL_START", "REL_END", "IS_PERIOP", "IS_READMISSION", "CLASSIFIED",
	}
)

// Exporter lays out one directory per included episode under root, named
// "<record>-<person>", plus the combined cohort table.
type Exporter struct {
	root string
}

func NewExporter(root string) *Exporter {
	return &Exporter{root: root}
}

func (e *Exporter) Root() string {
	return e.root
}

func (e *Exporter) EpisodeDir(episode classifier.Episode) string {
	return filepath.Join(e.root, safeName(episode.ID)+"-"+safeName(episode.PatientID))
}

// WriteEpisode writes peri.csv with the episode's cohort rows and one file per
// distinct visit id, "<n>-<visit>.csv", holding every classified row of that
// visit. Visit ids are taken in sorted order.
func (e *Exporter) WriteEpisode(result classifier.EpisodeResult) error {
	dir := e.EpisodeDir(result.Episode)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating episode dir: %w", err)
	}
	if err := writeRows(filepath.Join(dir, "peri.csv"), result.Rows); err != nil {
		return err
	}

	byVisit := make(map[string][]classifier.ClassifiedVisit)
	for _, v := range result.Visits {
		byVisit[v.Record.VisitID] = append(byVisit[v.Record.VisitID], v)
	}
	ids := make([]string, 0, len(byVisit))
	for id := range byVisit {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for n, id := range ids {
		path := filepath.Join(dir, fmt.Sprintf("%d-%s.csv", n, safeName(id)))
		if err := writeVisits(path, byVisit[id]); err != nil {
			return err
		}
	}
	return nil
}

func (e *Exporter) WriteCohort(rows []models.CohortRow) (string, error) {
	if err := os.MkdirAll(e.root, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(e.root, "cohort.csv")
	return path, writeRows(path, rows)
}

func writeRows(path string, rows []models.CohortRow) error {
	return writeCSV(path, rowHeader, len(rows), func(i int) []string {
		row := rows[i]
		return []string{
			row.EpisodeID,
			row.PatientID,
			row.VisitID,
			strconv.FormatInt(int64(row.VisitStart), 10),
			strconv.FormatInt(int64(row.VisitEnd), 10),
			row.CareSite,
			strconv.FormatInt(row.RelStart, 10),
			strconv.FormatInt(row.RelEnd, 10),
			strconv.FormatInt(row.Duration, 10),
			strconv.FormatBool(row.Readmitted),
		}
	})
}

func writeVisits(path string, visits []classifier.ClassifiedVisit) error {
	return writeCSV(path, visitHeader, len(visits), func(i int) []string {
		v := visits[i]
		return []string{
			v.Record.VisitID,
			strconv.FormatInt(int64(v.Span.Start), 10),
			strconv.FormatInt(int64(v.Span.End), 10),
			v.Record.CareSite,
			v.Record.Kind,
			strconv.FormatInt(v.Duration, 10),
			strconv.FormatInt(v.RelStart, 10),
			strconv.FormatInt(v.RelEnd, 10),
			strconv.FormatBool(v.IsPeriop),
			strconv.FormatBool(v.IsReadmission),
			strconv.FormatBool(v.Classified),
		}
	})
}

func writeCSV(path string, header []string, n int, row func(int) []string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	writer := csv.NewWriter(f)
	if err := writer.Write(header); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if err := writer.Write(row(i)); err != nil {
			return err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}
	return f.Close()
}

func safeName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, s)
}
