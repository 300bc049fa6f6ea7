package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/SAP-F-2025/exam-service/internal/models"
	"github.com/SAP-F-2025/exam-service/internal/repositories"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AttemptPostgreSQL struct {
	db *gorm.DB
}

func NewAttemptPostgreSQL(db *gorm.DB) repositories.AttemptRepository {
	return &AttemptPostgreSQL{db: db}
}

// ===== BASIC OPERATIONS =====

func (a *AttemptPostgreSQL) GetOrCreate(ctx context.Context, tx *gorm.DB, studentID, examID uint, joinedAt time.Time) (*models.Attempt, bool, error) {
	db := getDB(a.db, tx).WithContext(ctx)

	attempt := models.Attempt{
		StudentID: studentID,
		ExamID:    examID,
		JoinedAt:  joinedAt,
	}
	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "student_id"}, {Name: "exam_id"}},
		DoNothing: true,
	}).Omit(clause.Associations).Create(&attempt)
	if result.Error != nil {
		return nil, false, fmt.Errorf("failed to create attempt: %w", result.Error)
	}

	var stored models.Attempt
	if err := db.Where("student_id = ? AND exam_id = ?", studentID, examID).First(&stored).Error; err != nil {
		return nil, false, err
	}
	return &stored, result.RowsAffected == 1, nil
}

func (a *AttemptPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Attempt, error) {
	var attempt models.Attempt
	if err := getDB(a.db, tx).WithContext(ctx).First(&attempt, id).Error; err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (a *AttemptPostgreSQL) GetForUpdate(ctx context.Context, tx *gorm.DB, id uint) (*models.Attempt, error) {
	db := getDB(a.db, tx).WithContext(ctx)
	// sqlite has no row locks; its single connection already serializes writers
	if db.Dialector.Name() != "sqlite" {
		db = db.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var attempt models.Attempt
	if err := db.First(&attempt, id).Error; err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (a *AttemptPostgreSQL) GetByIDWithExam(ctx context.Context, tx *gorm.DB, id uint) (*models.Attempt, error) {
	var attempt models.Attempt
	if err := getDB(a.db, tx).WithContext(ctx).
		Preload("Exam").
		Preload("Exam.Subject").
		First(&attempt, id).Error; err != nil {
		return nil, err
	}
	return &attempt, nil
}

// ===== QUERY OPERATIONS =====

func (a *AttemptPostgreSQL) List(ctx context.Context, tx *gorm.DB, filters repositories.AttemptFilters) ([]*models.Attempt, error) {
	var attempts []*models.Attempt

	query := getDB(a.db, tx).WithContext(ctx).Model(&models.Attempt{})
	if filters.ExamID != nil {
		query = query.Where("exam_id = ?", *filters.ExamID)
	}
	if filters.StudentID != nil {
		query = query.Where("student_id = ?", *filters.StudentID)
	}
	if filters.Finished != nil {
		query = query.Where("is_finished = ?", *filters.Finished)
	}

	if err := query.
		Preload("Student").
		Preload("Exam").
		Preload("Exam.Subject").
		Order("id ASC").
		Find(&attempts).Error; err != nil {
		return nil, err
	}
	return attempts, nil
}

func (a *AttemptPostgreSQL) ListExpirable(ctx context.Context, tx *gorm.DB) ([]*models.Attempt, error) {
	var attempts []*models.Attempt
	if err := getDB(a.db, tx).WithContext(ctx).
		Where("is_finished = ? AND started_at IS NOT NULL", false).
		Preload("Exam").
		Order("id ASC").
		Find(&attempts).Error; err != nil {
		return nil, err
	}
	return attempts, nil
}

// ===== STATE TRANSITIONS =====

func (a *AttemptPostgreSQL) MarkStarted(ctx context.Context, tx *gorm.DB, id uint, at time.Time) (bool, error) {
	result := getDB(a.db, tx).WithContext(ctx).
		Model(&models.Attempt{}).
		Where("id = ? AND started_at IS NULL", id).
		Update("started_at", at)
	if result.Error != nil {
		return false, fmt.Errorf("failed to start attempt: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (a *AttemptPostgreSQL) Finish(ctx context.Context, tx *gorm.DB, id uint, at time.Time, reason models.FinishReason) (bool, error) {
	result := getDB(a.db, tx).WithContext(ctx).
		Model(&models.Attempt{}).
		Where("id = ? AND is_finished = ?", id, false).
		Updates(map[string]interface{}{
			"is_finished":   true,
			"finished_at":   at,
			"finish_reason": reason,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to finish attempt: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (a *AttemptPostgreSQL) UpdateScore(ctx context.Context, tx *gorm.DB, id uint, score float64) error {
	if err := getDB(a.db, tx).WithContext(ctx).
		Model(&models.Attempt{}).
		Where("id = ?", id).
		Update("score", score).Error; err != nil {
		return fmt.Errorf("failed to update score: %w", err)
	}
	return nil
}
