package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"path"
	"strconv"
	"strings"

	apperrors "github.com/SAP-F-2025/exam-service/internal/errors"
	"github.com/SAP-F-2025/exam-service/internal/events"
	"github.com/SAP-F-2025/exam-service/internal/grading"
	"github.com/SAP-F-2025/exam-service/internal/models"
	"github.com/SAP-F-2025/exam-service/internal/repositories"
	"github.com/SAP-F-2025/exam-service/internal/storage"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type gradingService struct {
	repo      repositories.Repository
	storage   storage.FileStore
	session   SessionService
	publisher events.EventPublisher
	logger    *ServiceLogger
	opts      options
}

func NewGradingService(deps Dependencies, session SessionService, opts ...Option) GradingService {
	return &gradingService{
		repo:      deps.Repo,
		storage:   deps.Storage,
		session:   session,
		publisher: deps.Publisher,
		logger:    NewServiceLogger(deps.Logger, "grading"),
		opts:      buildOptions(opts),
	}
}

func (s *gradingService) ListPending(ctx context.Context, principal models.Principal, examID uint) ([]PendingResponse, error) {
	if _, err := loadTeacherExam(ctx, s.repo, nil, principal, examID, "grade"); err != nil {
		return nil, err
	}

	responses, err := s.repo.Response().ListPendingByExam(ctx, nil, examID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending responses: %w", err)
	}

	pending := make([]PendingResponse, 0, len(responses))
	for _, r := range responses {
		item := PendingResponse{
			AttemptID:    r.AttemptID,
			ResponseID:   r.ID,
			QuestionID:   r.QuestionID,
			AnswerText:   r.AnswerText,
			UploadedFile: r.UploadedFile,
		}
		if r.Question != nil {
			item.QuestionType = r.Question.Type
			item.QuestionText = r.Question.Text
			item.MaxMarks = r.Question.Marks
		}
		if r.Attempt != nil {
			item.StudentID = r.Attempt.StudentID
			if r.Attempt.Student != nil {
				item.StudentName = r.Attempt.Student.FullName
				if item.StudentName == "" {
					item.StudentName = r.Attempt.Student.Username
				}
			}
		}
		pending = append(pending, item)
	}
	return pending, nil
}

func (s *gradingService) RecordManualGrade(ctx context.Context, principal models.Principal, responseID uint, marks float64) (*models.Response, error) {
	op := s.logger.WithOperation(ctx, "record_manual_grade", principal.UserID)

	response, err := s.recordManualGrade(ctx, principal, responseID, marks)
	op.LogResult(responseID, "response", err)
	return response, err
}

func (s *gradingService) recordManualGrade(ctx context.Context, principal models.Principal, responseID uint, marks float64) (*models.Response, error) {
	response, err := s.loadGradableResponse(ctx, principal, responseID, "grade")
	if err != nil {
		return nil, err
	}
	if !response.Attempt.IsFinished {
		return nil, ErrAttemptNotFinished
	}
	if response.Question == nil || response.Question.Type.IsObjective() {
		return nil, ErrGradingNotAllowed
	}
	if response.Evaluated {
		return nil, ErrAlreadyGraded
	}

	var graded *models.Response
	err = s.repo.WithTransaction(ctx, func(tx *gorm.DB) error {
		var err error
		graded, err = s.writeGrade(ctx, tx, principal, response, marks, strconv.FormatFloat(marks, 'f', -1, 64), models.GradeSourceSingle)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyGraded) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to record grade: %w", err)
	}
	return graded, nil
}

func (s *gradingService) RecordManualGrades(ctx context.Context, principal models.Principal, attemptID uint, entries []GradeEntry) (*BatchGradeResult, error) {
	op := s.logger.WithOperation(ctx, "record_manual_grades", principal.UserID)

	result, err := s.recordManualGrades(ctx, principal, attemptID, entries)
	op.LogResult(attemptID, "attempt", err)
	return result, err
}

// recordManualGrades writes the whole batch and the re-aggregated score in one
// transaction. Bad entries are reported without discarding the accepted ones.
func (s *gradingService) recordManualGrades(ctx context.Context, principal models.Principal, attemptID uint, entries []GradeEntry) (*BatchGradeResult, error) {
	attempt, err := s.loadGradableAttempt(ctx, principal, attemptID)
	if err != nil {
		return nil, err
	}
	if !attempt.IsFinished {
		return nil, ErrAttemptNotFinished
	}

	var result *BatchGradeResult
	err = s.repo.WithTransaction(ctx, func(tx *gorm.DB) error {
		result = &BatchGradeResult{Accepted: []*models.Response{}}

		responses, err := s.repo.Response().ListByAttempt(ctx, tx, attemptID)
		if err != nil {
			return fmt.Errorf("failed to list responses: %w", err)
		}
		byID := make(map[uint]*models.Response, len(responses))
		for _, r := range responses {
			byID[r.ID] = r
		}

		for _, entry := range entries {
			field := fmt.Sprintf("marks_%d", entry.ResponseID)
			raw := strings.TrimSpace(entry.Marks)
			if raw == "" {
				continue
			}

			response, ok := byID[entry.ResponseID]
			if !ok {
				result.Errors = append(result.Errors, *apperrors.NewValidationErrorWithRule(field, "response does not belong to this attempt", "response", entry.ResponseID))
				continue
			}
			if response.Question == nil || response.Question.Type.IsObjective() {
				result.Errors = append(result.Errors, *apperrors.NewValidationErrorWithRule(field, "multiple-choice responses are graded automatically", "question_type", models.QuestionMCQ))
				continue
			}
			if response.Evaluated {
				result.Errors = append(result.Errors, *apperrors.NewValidationErrorWithRule(field, ErrAlreadyGraded.Error(), "graded", entry.Marks))
				continue
			}

			marks, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				result.Errors = append(result.Errors, *apperrors.NewValidationErrorWithRule(field, "must be a number", "numeric", entry.Marks))
				continue
			}

			graded, err := s.writeGrade(ctx, tx, principal, response, marks, raw, models.GradeSourceBatch)
			if errors.Is(err, ErrAlreadyGraded) {
				result.Errors = append(result.Errors, *apperrors.NewValidationErrorWithRule(field, err.Error(), "graded", entry.Marks))
				continue
			}
			if err != nil {
				return err
			}
			result.Accepted = append(result.Accepted, graded)
		}

		// One aggregation covers the whole batch
		result.Breakdown, err = aggregateScore(ctx, s.repo, tx, attemptID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record grades: %w", err)
	}
	result.Score = result.Breakdown.Total

	if result.Breakdown.Pending == 0 && len(result.Accepted) > 0 {
		publish(ctx, s.publisher, s.logger, events.EventAttemptGraded, events.AttemptGradedEvent{
			AttemptID: attemptID,
			ExamID:    attempt.ExamID,
			StudentID: attempt.StudentID,
			TeacherID: principal.UserID,
			Score:     result.Breakdown.Total,
			GradedAt:  s.opts.now(),
		})
	}

	return result, nil
}

// OpenResponseFile streams a file answer to the teacher who owns the exam.
func (s *gradingService) OpenResponseFile(ctx context.Context, principal models.Principal, responseID uint) (*ResponseFile, error) {
	if s.storage == nil {
		return nil, fmt.Errorf("file uploads are not configured")
	}

	response, err := s.loadGradableResponse(ctx, principal, responseID, "download")
	if err != nil {
		return nil, err
	}
	if response.UploadedFile == nil || *response.UploadedFile == "" {
		return nil, ErrUploadNotFound
	}

	body, err := s.storage.Open(ctx, *response.UploadedFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, storage.ErrInvalidKey) {
			s.logger.For(ctx).WarnContext(ctx, "Stored upload is missing", "response_id", responseID, "key", *response.UploadedFile)
			return nil, ErrUploadNotFound
		}
		return nil, fmt.Errorf("failed to open upload: %w", err)
	}

	return &ResponseFile{
		Name: fmt.Sprintf("attempt_%d_question_%d%s", response.AttemptID, response.QuestionID, path.Ext(*response.UploadedFile)),
		Body: body,
	}, nil
}

func (s *gradingService) RefreshScore(ctx context.Context, principal models.Principal, attemptID uint) (*models.Attempt, error) {
	if _, err := s.loadGradableAttempt(ctx, principal, attemptID); err != nil {
		return nil, err
	}

	if _, err := s.session.AggregateScore(ctx, nil, attemptID); err != nil {
		return nil, err
	}

	attempt, err := s.repo.Attempt().GetByID(ctx, nil, attemptID)
	if err != nil {
		return nil, notFound(err, ErrAttemptNotFound, "attempt")
	}
	return attempt, nil
}

// ===== HELPERS =====

func (s *gradingService) loadGradableAttempt(ctx context.Context, principal models.Principal, attemptID uint) (*models.Attempt, error) {
	if !principal.IsTeacher() {
		return nil, NewPermissionError(principal.UserID, attemptID, "attempt", "grade", "teacher role required")
	}

	attempt, err := s.repo.Attempt().GetByIDWithExam(ctx, nil, attemptID)
	if err != nil {
		return nil, notFound(err, ErrAttemptNotFound, "attempt")
	}
	if attempt.Exam == nil || attempt.Exam.TeacherID != principal.UserID {
		return nil, ErrAttemptNotFound
	}
	return attempt, nil
}

func (s *gradingService) loadGradableResponse(ctx context.Context, principal models.Principal, responseID uint, action string) (*models.Response, error) {
	if !principal.IsTeacher() {
		return nil, NewPermissionError(principal.UserID, responseID, "response", action, "teacher role required")
	}

	response, err := s.repo.Response().GetByID(ctx, nil, responseID)
	if err != nil {
		return nil, notFound(err, ErrResponseNotFound, "response")
	}
	if response.Attempt == nil || response.Attempt.Exam == nil || response.Attempt.Exam.TeacherID != principal.UserID {
		return nil, ErrResponseNotFound
	}
	return response, nil
}

// writeGrade clamps the mark, stores it and writes the audit row inside tx.
// It returns ErrAlreadyGraded when the response was evaluated in the meantime.
func (s *gradingService) writeGrade(ctx context.Context, tx *gorm.DB, principal models.Principal, response *models.Response, requested float64, raw string, source models.GradeSource) (*models.Response, error) {
	marks, clamped := grading.ClampMarks(requested, response.Question.Marks)
	now := s.opts.now()
	teacherID := principal.UserID

	details, _ := json.Marshal(map[string]interface{}{
		"question_id": response.QuestionID,
		"max_marks":   response.Question.Marks,
	})

	ok, err := s.repo.Response().SetMarks(ctx, tx, response.ID, marks, &teacherID, &now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAlreadyGraded
	}
	if err := s.repo.GradeAudit().Create(ctx, tx, &models.GradeAudit{
		ResponseID:    response.ID,
		AttemptID:     response.AttemptID,
		TeacherID:     teacherID,
		Source:        source,
		PreviousMarks: response.MarksObtained,
		RawInput:      raw,
		RequestedMark: sanitizeMark(requested),
		Marks:         marks,
		Clamped:       clamped,
		Details:       datatypes.JSON(details),
	}); err != nil {
		return nil, err
	}

	if clamped {
		s.logger.For(ctx).InfoContext(ctx, "Manual grade clamped",
			"response_id", response.ID,
			"requested", raw,
			"stored", marks)
	}

	response.MarksObtained = marks
	response.Evaluated = true
	response.GradedBy = &teacherID
	response.GradedAt = &now
	response.Attempt = nil
	return response, nil
}

// sanitizeMark keeps NaN and infinities out of the audit table
func sanitizeMark(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
