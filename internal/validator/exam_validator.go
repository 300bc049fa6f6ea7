package validator

import (
	"strings"

	"github.com/SAP-F-2025/exam-service/internal/errors"
	"github.com/SAP-F-2025/exam-service/internal/models"
)

// ExamValidator handles exam-level business rules
type ExamValidator struct{}

func NewExamValidator() *ExamValidator {
	return &ExamValidator{}
}

func (v *ExamValidator) ValidateExam(exam *models.Exam) ValidationErrors {
	var errs ValidationErrors

	if strings.TrimSpace(exam.Title) == "" {
		errs = append(errs, *errors.NewValidationErrorWithRule("title", "is required", "required", exam.Title))
	}
	if exam.DurationMinutes < 1 {
		errs = append(errs, *errors.NewValidationErrorWithRule("duration_minutes", "must be a positive number of minutes", "duration_minutes", exam.DurationMinutes))
	}
	if exam.TotalScore < 0 {
		errs = append(errs, *errors.NewValidationErrorWithRule("total_score", "must be at least 0", "min", exam.TotalScore))
	}
	if exam.StartTime.IsZero() {
		errs = append(errs, *errors.NewValidationErrorWithRule("start_time", "is required", "required", nil))
	}

	return errs
}
