package identity

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/synaptica-ai/surgical-cohort/pkg/common/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type AuditModel struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey"`
	RunID     uuid.UUID      `gorm:"type:uuid;index"`
	Name      string         `gorm:"column:name"`
	AToB      bool           `gorm:"column:a_to_b"`
	BToA      bool           `gorm:"column:b_to_a"`
	ReportAB  datatypes.JSON `gorm:"column:report_ab"`
	ReportBA  datatypes.JSON `gorm:"column:report_ba"`
	CreatedAt time.Time
}

func (AuditModel) TableName() string {
	return "identity_audits"
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&AuditModel{})
}

func (r *Repository) SaveAudits(ctx context.Context, runID uuid.UUID, audits []models.CorrespondenceAudit) error {
	if len(audits) == 0 {
		return nil
	}
	rows := make([]AuditModel, 0, len(audits))
	for _, audit := range audits {
		row, err := toAuditModel(runID, audit)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}
	return r.db.WithContext(ctx).Create(&rows).Error
}

func (r *Repository) ListAudits(ctx context.Context, runID uuid.UUID) ([]models.CorrespondenceAudit, error) {
	var rows []AuditModel
	if err := r.db.WithContext(ctx).Where("run_id = ?", runID).Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	audits := make([]models.CorrespondenceAudit, 0, len(rows))
	for _, row := range rows {
		audits = append(audits, fromAuditModel(row))
	}
	return audits, nil
}

func toAuditModel(runID uuid.UUID, audit models.CorrespondenceAudit) (AuditModel, error) {
	ab, err := json.Marshal(audit.ReportAB)
	if err != nil {
		return AuditModel{}, err
	}
	ba, err := json.Marshal(audit.ReportBA)
	if err != nil {
		return AuditModel{}, err
	}
	return AuditModel{
		ID:        uuid.New(),
		RunID:     runID,
		Name:      audit.Name,
		AToB:      audit.AToB,
		BToA:      audit.BToA,
		ReportAB:  datatypes.JSON(ab),
		ReportBA:  datatypes.JSON(ba),
		CreatedAt: time.Now().UTC(),
	}, nil
}

func fromAuditModel(row AuditModel) models.CorrespondenceAudit {
	audit := models.CorrespondenceAudit{
		Name: row.Name,
		AToB: row.AToB,
		BToA: row.BToA,
	}
	if len(row.ReportAB) > 0 {
		_ = json.Unmarshal(row.ReportAB, &audit.ReportAB)
	}
	if len(row.ReportBA) > 0 {
		_ = json.Unmarshal(row.ReportBA, &audit.ReportBA)
	}
	return audit
}
