package extract

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Mapping names the extract column that carries each logical field.
type Mapping struct {
	Identity IdentityColumns `yaml:"identity" json:"identity"`
	Surgery  SurgeryColumns  `yaml:"surgery" json:"surgery"`
	Visit    VisitColumns    `yaml:"visit" json:"visit"`
}

type IdentityColumns struct {
	EpisodeID   string `yaml:"record_id" json:"record_id"`
	PatientID   string `yaml:"person_id" json:"person_id"`
	SourceValue string `yaml:"person_source_value" json:"person_source_value"`
}

type SurgeryColumns struct {
	EpisodeID string `yaml:"record_id" json:"record_id"`
	DOS       string `yaml:"dos" json:"dos"`
}

type VisitColumns struct {
	EpisodeID string `yaml:"record_id" json:"record_id"`
	PatientID string `yaml:"person_id" json:"person_id"`
	VisitID   string `yaml:"visit_occurrence_id" json:"visit_occurrence_id"`
	Start     string `yaml:"visit_start_datetime" json:"visit_start_datetime"`
	End       string `yaml:"visit_end_datetime" json:"visit_end_datetime"`
	CareSite  string `yaml:"care_site_name" json:"care_site_name"`
	Kind      string `yaml:"visit_concept_id" json:"visit_concept_id"`
}

func DefaultMapping() Mapping {
	return Mapping{
		Identity: IdentityColumns{
			EpisodeID:   "RECORD_ID",
			PatientID:   "PERSON_ID",
			SourceValue: "PERSON_SOURCE_VALUE",
		},
		Surgery: SurgeryColumns{
			EpisodeID: "RECORD_ID",
			DOS:       "DOS",
		},
		Visit: VisitColumns{
			EpisodeID: "RECORD_ID",
			PatientID: "PERSON_ID",
			VisitID:   "VISIT_OCCURRENCE_ID",
			Start:     "VISIT_START_DATETIME",
			End:       "VISIT_END_DATETIME",
			CareSite:  "CARE_SITE_NAME",
			Kind:      "VISIT_CONCEPT_ID",
		},
	}
}

// LoadMapping reads a YAML mapping. Fields left out of the file keep their
// default column names; an empty path yields the defaults.
func LoadMapping(path string) (Mapping, error) {
	mapping := DefaultMapping()
	if path == "" {
		return mapping, nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return mapping, err
	}
	if err := yaml.Unmarshal(content, &mapping); err != nil {
		return Mapping{}, fmt.Errorf("parsing column mapping %s: %w", path, err)
	}
	return mapping, nil
}
