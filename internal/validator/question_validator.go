package validator

import (
	"fmt"
	"strings"

	"github.com/SAP-F-2025/exam-service/internal/errors"
	"github.com/SAP-F-2025/exam-service/internal/models"
)

// QuestionValidator handles question-specific business rules
type QuestionValidator struct{}

// NewQuestionValidator creates a new question validator
func NewQuestionValidator() *QuestionValidator {
	return &QuestionValidator{}
}

// ValidateQuestion checks a question and its choices before it is stored.
func (v *QuestionValidator) ValidateQuestion(question *models.Question) ValidationErrors {
	var errs ValidationErrors

	if !question.Type.Valid() {
		errs = append(errs, *errors.NewValidationErrorWithRule("type", "must be a valid question type (short, long, mcq, file)", "question_type", question.Type))
	}
	if strings.TrimSpace(question.Text) == "" {
		errs = append(errs, *errors.NewValidationErrorWithRule("text", "is required", "required", question.Text))
	}
	if question.Marks < 1 {
		errs = append(errs, *errors.NewValidationErrorWithRule("marks", "must be a positive integer", "marks", question.Marks))
	}

	switch question.Type {
	case models.QuestionMCQ:
		errs = append(errs, v.validateChoices(question.Choices)...)
	case models.QuestionShort, models.QuestionLong, models.QuestionFile:
		if len(question.Choices) > 0 {
			errs = append(errs, *errors.NewValidationErrorWithRule("choices",
				fmt.Sprintf("%s questions cannot have choices", question.Type), "choices", len(question.Choices)))
		}
	}

	return errs
}

func (v *QuestionValidator) validateChoices(choices []models.Choice) ValidationErrors {
	var errs ValidationErrors

	if len(choices) < 2 {
		errs = append(errs, *errors.NewValidationErrorWithRule("choices",
			"multiple-choice questions need at least two choices with one marked correct", "choices", len(choices)))
		return errs
	}

	correct := 0
	for i, c := range choices {
		if strings.TrimSpace(c.Text) == "" {
			errs = append(errs, *errors.NewValidationErrorWithRule(fmt.Sprintf("choices[%d].text", i), "is required", "required", c.Text))
		}
		if c.IsCorrect {
			correct++
		}
	}
	if correct == 0 {
		errs = append(errs, *errors.NewValidationErrorWithRule("choices",
			"multiple-choice questions need at least two choices with one marked correct", "choices", correct))
	}

	return errs
}
