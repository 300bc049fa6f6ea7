package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/SAP-F-2025/exam-service/internal/models"
	"github.com/SAP-F-2025/exam-service/internal/repositories"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ExamPostgreSQL struct {
	db *gorm.DB
}

func NewExamPostgreSQL(db *gorm.DB) repositories.ExamRepository {
	return &ExamPostgreSQL{db: db}
}

// ===== BASIC OPERATIONS =====

func (e *ExamPostgreSQL) Create(ctx context.Context, tx *gorm.DB, exam *models.Exam) error {
	if err := getDB(e.db, tx).WithContext(ctx).Omit(clause.Associations).Create(exam).Error; err != nil {
		return fmt.Errorf("failed to create exam: %w", err)
	}
	return nil
}

func (e *ExamPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Exam, error) {
	var exam models.Exam
	if err := getDB(e.db, tx).WithContext(ctx).
		Preload("Subject").
		First(&exam, id).Error; err != nil {
		return nil, err
	}
	return &exam, nil
}

func (e *ExamPostgreSQL) GetByIDWithQuestions(ctx context.Context, tx *gorm.DB, id uint) (*models.Exam, error) {
	var exam models.Exam
	if err := getDB(e.db, tx).WithContext(ctx).
		Preload("Subject").
		Preload("Questions", func(db *gorm.DB) *gorm.DB {
			return db.Order("questions.id ASC")
		}).
		Preload("Questions.Choices", func(db *gorm.DB) *gorm.DB {
			return db.Order("choices.id ASC")
		}).
		First(&exam, id).Error; err != nil {
		return nil, err
	}
	return &exam, nil
}

func (e *ExamPostgreSQL) Update(ctx context.Context, tx *gorm.DB, exam *models.Exam) error {
	if err := getDB(e.db, tx).WithContext(ctx).Omit(clause.Associations).Save(exam).Error; err != nil {
		return fmt.Errorf("failed to update exam: %w", err)
	}
	return nil
}

func (e *ExamPostgreSQL) Delete(ctx context.Context, tx *gorm.DB, id uint) error {
	result := getDB(e.db, tx).WithContext(ctx).Delete(&models.Exam{}, id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete exam: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ===== QUERY OPERATIONS =====

func (e *ExamPostgreSQL) List(ctx context.Context, tx *gorm.DB, filters repositories.ExamFilters) ([]*models.Exam, int64, error) {
	var exams []*models.Exam
	var total int64

	// apply filter first
	query := getDB(e.db, tx).WithContext(ctx).Model(&models.Exam{})
	query = e.applyFilters(query, filters)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	// then pagination and sorting
	if filters.Limit > 0 {
		query = query.Limit(filters.Limit)
	}
	if filters.Offset > 0 {
		query = query.Offset(filters.Offset)
	}

	if err := query.Preload("Subject").
		Order("exams.start_time ASC").
		Order("exams.id ASC").
		Find(&exams).Error; err != nil {
		return nil, 0, err
	}

	return exams, total, nil
}

func (e *ExamPostgreSQL) applyFilters(query *gorm.DB, filters repositories.ExamFilters) *gorm.DB {
	if filters.TeacherID != nil {
		query = query.Where("exams.teacher_id = ?", *filters.TeacherID)
	}
	if filters.SubjectID != nil {
		query = query.Where("exams.subject_id = ?", *filters.SubjectID)
	}
	if q := strings.TrimSpace(filters.SubjectQuery); q != "" {
		query = query.Where("exams.subject_id IN (?)",
			e.db.Model(&models.Subject{}).Select("id").Where("LOWER(name) LIKE ?", "%"+strings.ToLower(q)+"%"))
	}
	if filters.NotEnrolledBy != nil {
		query = query.Where("exams.id NOT IN (?)",
			e.db.Model(&models.Attempt{}).Select("exam_id").Where("student_id = ?", *filters.NotEnrolledBy))
	}
	return query
}
