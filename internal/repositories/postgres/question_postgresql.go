package postgres

import (
	"context"
	"fmt"

	"github.com/SAP-F-2025/exam-service/internal/models"
	"github.com/SAP-F-2025/exam-service/internal/repositories"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type QuestionPostgreSQL struct {
	db *gorm.DB
}

func NewQuestionPostgreSQL(db *gorm.DB) repositories.QuestionRepository {
	return &QuestionPostgreSQL{db: db}
}

func (q *QuestionPostgreSQL) Create(ctx context.Context, tx *gorm.DB, question *models.Question) error {
	db := getDB(q.db, tx).WithContext(ctx)

	choices := question.Choices
	question.Choices = nil
	if err := db.Omit(clause.Associations).Create(question).Error; err != nil {
		return fmt.Errorf("failed to create question: %w", err)
	}

	if len(choices) > 0 {
		for i := range choices {
			choices[i].ID = 0
			choices[i].QuestionID = question.ID
		}
		if err := db.Create(&choices).Error; err != nil {
			return fmt.Errorf("failed to create choices: %w", err)
		}
	}
	question.Choices = choices
	return nil
}

func (q *QuestionPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Question, error) {
	var question models.Question
	if err := getDB(q.db, tx).WithContext(ctx).
		Preload("Choices", func(db *gorm.DB) *gorm.DB {
			return db.Order("choices.id ASC")
		}).
		First(&question, id).Error; err != nil {
		return nil, err
	}
	return &question, nil
}

func (q *QuestionPostgreSQL) Update(ctx context.Context, tx *gorm.DB, question *models.Question) error {
	if err := getDB(q.db, tx).WithContext(ctx).Omit(clause.Associations).Save(question).Error; err != nil {
		return fmt.Errorf("failed to update question: %w", err)
	}
	return nil
}

func (q *QuestionPostgreSQL) ReplaceChoices(ctx context.Context, tx *gorm.DB, questionID uint, choices []models.Choice) error {
	db := getDB(q.db, tx).WithContext(ctx)

	if err := db.Where("question_id = ?", questionID).Delete(&models.Choice{}).Error; err != nil {
		return fmt.Errorf("failed to delete choices: %w", err)
	}
	if len(choices) == 0 {
		return nil
	}

	for i := range choices {
		choices[i].ID = 0
		choices[i].QuestionID = questionID
	}
	if err := db.Create(&choices).Error; err != nil {
		return fmt.Errorf("failed to create choices: %w", err)
	}
	return nil
}

func (q *QuestionPostgreSQL) Delete(ctx context.Context, tx *gorm.DB, id uint) error {
	result := getDB(q.db, tx).WithContext(ctx).Delete(&models.Question{}, id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete question: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (q *QuestionPostgreSQL) ListByExam(ctx context.Context, tx *gorm.DB, examID uint) ([]*models.Question, error) {
	var questions []*models.Question
	if err := getDB(q.db, tx).WithContext(ctx).
		Where("exam_id = ?", examID).
		Preload("Choices", func(db *gorm.DB) *gorm.DB {
			return db.Order("choices.id ASC")
		}).
		Order("id ASC").
		Find(&questions).Error; err != nil {
		return nil, err
	}
	return questions, nil
}

func (q *QuestionPostgreSQL) GetChoice(ctx context.Context, tx *gorm.DB, id uint) (*models.Choice, error) {
	var choice models.Choice
	if err := getDB(q.db, tx).WithContext(ctx).First(&choice, id).Error; err != nil {
		return nil, err
	}
	return &choice, nil
}
