package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/SAP-F-2025/exam-service/internal/events"
	"github.com/SAP-F-2025/exam-service/internal/grading"
	"github.com/SAP-F-2025/exam-service/internal/models"
	"github.com/SAP-F-2025/exam-service/internal/repositories"
	"gorm.io/gorm"
)

// publish sends an event. Publishing failures are logged and never fail the operation.
func publish(ctx context.Context, publisher events.EventPublisher, logger *ServiceLogger, eventType events.EventType, data interface{}) {
	if publisher == nil {
		return
	}
	event := events.NewEvent(eventType, data)
	if err := publisher.Publish(ctx, event); err != nil {
		logger.For(ctx).WarnContext(ctx, "Failed to publish event",
			"event_type", eventType,
			"event_id", event.ID,
			"error", err)
	}
}

// aggregateScore recomputes the attempt score from its responses and stores it.
// It is the only writer of Attempt.Score.
func aggregateScore(ctx context.Context, repo repositories.Repository, tx *gorm.DB, attemptID uint) (grading.Breakdown, error) {
	responses, err := repo.Response().ListByAttempt(ctx, tx, attemptID)
	if err != nil {
		return grading.Breakdown{}, fmt.Errorf("failed to list responses: %w", err)
	}

	values := make([]models.Response, 0, len(responses))
	types := make(map[uint]models.QuestionType, len(responses))
	for _, r := range responses {
		values = append(values, *r)
		if r.Question != nil {
			types[r.QuestionID] = r.Question.Type
		}
	}

	breakdown := grading.Aggregate(values, types)
	if err := repo.Attempt().UpdateScore(ctx, tx, attemptID, breakdown.Total); err != nil {
		return grading.Breakdown{}, err
	}
	return breakdown, nil
}

// loadTeacherExam returns the exam only when the principal is the teacher who owns it.
func loadTeacherExam(ctx context.Context, repo repositories.Repository, tx *gorm.DB, principal models.Principal, examID uint, action string) (*models.Exam, error) {
	if !principal.IsTeacher() {
		return nil, NewPermissionError(principal.UserID, examID, "exam", action, "teacher role required")
	}

	exam, err := repo.Exam().GetByID(ctx, tx, examID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("failed to get exam: %w", err)
	}
	if exam.TeacherID != principal.UserID {
		return nil, ErrExamNotFound
	}
	return exam, nil
}

func notFound(err error, sentinel error, what string) error {
	if repositories.IsNotFoundError(err) {
		return sentinel
	}
	return fmt.Errorf("failed to get %s: %w", what, err)
}

// errFinalizeLost rolls back a finalize transaction that lost the compare-and-set
var errFinalizeLost = errors.New("attempt finalized concurrently")
