package extract

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/synaptica-ai/surgical-cohort/pkg/common/models"
)

var ErrMissingColumn = errors.New("extract column missing")

// Table is a header-indexed view over one CSV extract.
type Table struct {
	header map[string]int
	rows   [][]string
}

func ReadTable(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	head, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return &Table{header: map[string]int{}}, nil
		}
		return nil, fmt.Errorf("reading header: %w", err)
	}

	t := &Table{header: make(map[string]int, len(head))}
	for i, name := range head {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		if _, ok := t.header[name]; !ok {
			t.header[name] = i
		}
	}

	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		t.rows = append(t.rows, row)
	}
	return t, nil
}

func (t *Table) Len() int {
	return len(t.rows)
}

func (t *Table) HasColumn(name string) bool {
	_, ok := t.header[name]
	return ok
}

// Column returns every cell of the named column; short rows yield "".
func (t *Table) Column(name string) ([]string, error) {
	idx, ok := t.header[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, name)
	}
	out := make([]string, len(t.rows))
	for i, row := range t.rows {
		if idx < len(row) {
			out[i] = strings.TrimSpace(row[idx])
		}
	}
	return out, nil
}

func (t *Table) columns(names ...string) ([][]string, error) {
	cols := make([][]string, len(names))
	for i, name := range names {
		col, err := t.Column(name)
		if err != nil {
			return nil, err
		}
		cols[i] = col
	}
	return cols, nil
}

// optionalColumn is Column but returns blanks when the column is absent.
func (t *Table) optionalColumn(name string) []string {
	col, err := t.Column(name)
	if err != nil {
		return make([]string, len(t.rows))
	}
	return col
}

func (t *Table) Identities(cols IdentityColumns) ([]models.IdentityRecord, error) {
	c, err := t.columns(cols.EpisodeID, cols.PatientID)
	if err != nil {
		return nil, err
	}
	sources := t.optionalColumn(cols.SourceValue)
	out := make([]models.IdentityRecord, t.Len())
	for i := range out {
		out[i] = models.IdentityRecord{EpisodeID: c[0][i], PatientID: c[1][i], SourceValue: sources[i]}
	}
	return out, nil
}

func (t *Table) Surgeries(cols SurgeryColumns) ([]models.SurgeryRecord, error) {
	c, err := t.columns(cols.EpisodeID, cols.DOS)
	if err != nil {
		return nil, err
	}
	out := make([]models.SurgeryRecord, t.Len())
	for i := range out {
		out[i] = models.SurgeryRecord{EpisodeID: c[0][i], DOS: c[1][i]}
	}
	return out, nil
}

func (t *Table) Visits(cols VisitColumns) ([]models.VisitRecord, error) {
	c, err := t.columns(cols.EpisodeID, cols.VisitID, cols.Start, cols.End)
	if err != nil {
		return nil, err
	}
	patients := t.optionalColumn(cols.PatientID)
	sites := t.optionalColumn(cols.CareSite)
	kinds := t.optionalColumn(cols.Kind)
	out := make([]models.VisitRecord, t.Len())
	for i := range out {
		out[i] = models.VisitRecord{
			EpisodeID: c[0][i],
			PatientID: patients[i],
			VisitID:   c[1][i],
			Start:     c[2][i],
			End:       c[3][i],
			CareSite:  sites[i],
			Kind:      kinds[i],
		}
	}
	return out, nil
}

// Paths locates the three extracts of a run.
type Paths struct {
	Identity string
	Surgery  string
	Visit    string
}

// Load reads all three extracts. The identity extract is optional; the
// assembler then falls back to the surgery extract's episode ids.
func Load(paths Paths, mapping Mapping) (models.Extracts, error) {
	var out models.Extracts

	if paths.Identity != "" {
		table, err := readFile(paths.Identity)
		if err != nil {
			return out, err
		}
		if out.Identities, err = table.Identities(mapping.Identity); err != nil {
			return out, fmt.Errorf("identity extract %s: %w", paths.Identity, err)
		}
	}

	table, err := readFile(paths.Surgery)
	if err != nil {
		return out, err
	}
	if out.Surgeries, err = table.Surgeries(mapping.Surgery); err != nil {
		return out, fmt.Errorf("surgery extract %s: %w", paths.Surgery, err)
	}

	table, err = readFile(paths.Visit)
	if err != nil {
		return out, err
	}
	if out.Visits, err = table.Visits(mapping.Visit); err != nil {
		return out, fmt.Errorf("visit extract %s: %w", paths.Visit, err)
	}

	return out, nil
}

func readFile(path string) (*Table, error) {
	if path == "" {
		return nil, fmt.Errorf("extract path is required")
	}
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("opening extract: %w", err)
	}
	defer f.Close()

	table, err := ReadTable(f)
	if err != nil {
		return nil, fmt.Errorf("reading extract %s: %w", path, err)
	}
	return table, nil
}
