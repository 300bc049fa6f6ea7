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

type ResponsePostgreSQL struct {
	db *gorm.DB
}

func NewResponsePostgreSQL(db *gorm.DB) repositories.ResponseRepository {
	return &ResponsePostgreSQL{db: db}
}

var responseKey = []clause.Column{{Name: "attempt_id"}, {Name: "question_id"}}

// ===== READS =====

func (r *ResponsePostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Response, error) {
	var response models.Response
	if err := getDB(r.db, tx).WithContext(ctx).
		Preload("Attempt").
		Preload("Attempt.Exam").
		Preload("Question").
		First(&response, id).Error; err != nil {
		return nil, err
	}
	return &response, nil
}

func (r *ResponsePostgreSQL) GetByAttemptAndQuestion(ctx context.Context, tx *gorm.DB, attemptID, questionID uint) (*models.Response, error) {
	var response models.Response
	if err := getDB(r.db, tx).WithContext(ctx).
		Where("attempt_id = ? AND question_id = ?", attemptID, questionID).
		First(&response).Error; err != nil {
		return nil, err
	}
	return &response, nil
}

func (r *ResponsePostgreSQL) ListByAttempt(ctx context.Context, tx *gorm.DB, attemptID uint) ([]*models.Response, error) {
	var responses []*models.Response
	if err := getDB(r.db, tx).WithContext(ctx).
		Where("attempt_id = ?", attemptID).
		Preload("Question").
		Preload("SelectedChoice").
		Order("question_id ASC").
		Find(&responses).Error; err != nil {
		return nil, err
	}
	return responses, nil
}

func (r *ResponsePostgreSQL) ListPendingByExam(ctx context.Context, tx *gorm.DB, examID uint) ([]*models.Response, error) {
	var responses []*models.Response
	if err := getDB(r.db, tx).WithContext(ctx).
		Joins("JOIN attempts ON attempts.id = responses.attempt_id").
		Joins("JOIN questions ON questions.id = responses.question_id").
		Where("attempts.exam_id = ? AND attempts.is_finished = ?", examID, true).
		Where("questions.question_type <> ? AND responses.evaluated = ?", models.QuestionMCQ, false).
		Preload("Question").
		Preload("Attempt").
		Preload("Attempt.Student").
		Order("responses.attempt_id ASC").
		Order("responses.question_id ASC").
		Find(&responses).Error; err != nil {
		return nil, err
	}
	return responses, nil
}

func (r *ResponsePostgreSQL) CountPending(ctx context.Context, tx *gorm.DB, attemptID uint) (int64, error) {
	var count int64
	if err := getDB(r.db, tx).WithContext(ctx).
		Model(&models.Response{}).
		Joins("JOIN questions ON questions.id = responses.question_id").
		Where("responses.attempt_id = ?", attemptID).
		Where("questions.question_type <> ? AND responses.evaluated = ?", models.QuestionMCQ, false).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// ===== WRITES =====

func (r *ResponsePostgreSQL) Upsert(ctx context.Context, tx *gorm.DB, response *models.Response) error {
	db := getDB(r.db, tx).WithContext(ctx)

	row := models.Response{
		AttemptID:        response.AttemptID,
		QuestionID:       response.QuestionID,
		AnswerText:       response.AnswerText,
		SelectedChoiceID: response.SelectedChoiceID,
		UploadedFile:     response.UploadedFile,
	}
	if err := db.Clauses(clause.OnConflict{
		Columns:   responseKey,
		DoUpdates: clause.AssignmentColumns([]string{"answer_text", "selected_choice_id", "uploaded_file", "updated_at"}),
	}).Omit(clause.Associations).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to save response: %w", err)
	}

	if err := db.Where("attempt_id = ? AND question_id = ?", response.AttemptID, response.QuestionID).
		First(response).Error; err != nil {
		return fmt.Errorf("failed to reload response: %w", err)
	}
	return nil
}

func (r *ResponsePostgreSQL) CreateMissing(ctx context.Context, tx *gorm.DB, attemptID uint, questionIDs []uint) error {
	if len(questionIDs) == 0 {
		return nil
	}

	rows := make([]models.Response, 0, len(questionIDs))
	for _, qid := range questionIDs {
		rows = append(rows, models.Response{AttemptID: attemptID, QuestionID: qid})
	}

	if err := getDB(r.db, tx).WithContext(ctx).
		Clauses(clause.OnConflict{Columns: responseKey, DoNothing: true}).
		Omit(clause.Associations).
		Create(&rows).Error; err != nil {
		return fmt.Errorf("failed to create missing responses: %w", err)
	}
	return nil
}

func (r *ResponsePostgreSQL) SetMarks(ctx context.Context, tx *gorm.DB, id uint, marks float64, gradedBy *uint, gradedAt *time.Time) (bool, error) {
	result := getDB(r.db, tx).WithContext(ctx).
		Model(&models.Response{}).
		Where("id = ? AND evaluated = ?", id, false).
		Updates(map[string]interface{}{
			"marks_obtained": marks,
			"evaluated":      true,
			"graded_by":      gradedBy,
			"graded_at":      gradedAt,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to set marks: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}
