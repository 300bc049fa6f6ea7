package postgres

import (
	"context"

	"github.com/SAP-F-2025/exam-service/internal/models"
	"github.com/SAP-F-2025/exam-service/internal/repositories"
	"gorm.io/gorm"
)

type GradeAuditPostgreSQL struct {
	db *gorm.DB
}

func NewGradeAuditPostgreSQL(db *gorm.DB) repositories.GradeAuditRepository {
	return &GradeAuditPostgreSQL{db: db}
}

func (g *GradeAuditPostgreSQL) Create(ctx context.Context, tx *gorm.DB, audit *models.GradeAudit) error {
	return getDB(g.db, tx).WithContext(ctx).Create(audit).Error
}

func (g *GradeAuditPostgreSQL) ListByResponse(ctx context.Context, tx *gorm.DB, responseID uint) ([]*models.GradeAudit, error) {
	var audits []*models.GradeAudit
	if err := getDB(g.db, tx).WithContext(ctx).
		Where("response_id = ?", responseID).
		Order("id ASC").
		Find(&audits).Error; err != nil {
		return nil, err
	}
	return audits, nil
}
