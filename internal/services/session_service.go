package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/SAP-F-2025/exam-service/internal/cache"
	apperrors "github.com/SAP-F-2025/exam-service/internal/errors"
	"github.com/SAP-F-2025/exam-service/internal/events"
	"github.com/SAP-F-2025/exam-service/internal/grading"
	"github.com/SAP-F-2025/exam-service/internal/models"
	"github.com/SAP-F-2025/exam-service/internal/repositories"
	"github.com/SAP-F-2025/exam-service/internal/storage"
	"github.com/SAP-F-2025/exam-service/internal/validator"
	"gorm.io/gorm"
)

type sessionService struct {
	repo      repositories.Repository
	cache     cache.CacheService
	publisher events.EventPublisher
	storage   storage.FileStore
	validator *validator.Validator
	logger    *ServiceLogger
	opts      options
}

func NewSessionService(deps Dependencies, opts ...Option) SessionService {
	return &sessionService{
		repo:      deps.Repo,
		cache:     deps.Cache,
		publisher: deps.Publisher,
		storage:   deps.Storage,
		validator: deps.Validator,
		logger:    NewServiceLogger(deps.Logger, "session"),
		opts:      buildOptions(opts),
	}
}

// ===== ENROLLMENT =====

func (s *sessionService) Enroll(ctx context.Context, principal models.Principal, examID uint) (*models.Attempt, error) {
	op := s.logger.WithOperation(ctx, "enroll", principal.UserID)

	attempt, err := s.enroll(ctx, principal, examID)
	op.LogResult(examID, "exam", err)
	return attempt, err
}

func (s *sessionService) enroll(ctx context.Context, principal models.Principal, examID uint) (*models.Attempt, error) {
	if !principal.IsStudent() {
		return nil, NewPermissionError(principal.UserID, examID, "exam", "enroll", "only students can enroll")
	}

	// Get exam
	if _, err := s.repo.Exam().GetByID(ctx, nil, examID); err != nil {
		return nil, notFound(err, ErrExamNotFound, "exam")
	}

	// Get or create attempt
	attempt, created, err := s.repo.Attempt().GetOrCreate(ctx, nil, principal.UserID, examID, s.opts.now())
	if err != nil {
		return nil, fmt.Errorf("failed to enroll: %w", err)
	}

	if created {
		publish(ctx, s.publisher, s.logger, events.EventAttemptEnrolled, events.AttemptEnrolledEvent{
			AttemptID: attempt.ID,
			ExamID:    examID,
			StudentID: principal.UserID,
			JoinedAt:  attempt.JoinedAt,
		})
	}

	return attempt, nil
}

// ===== TAKING THE EXAM =====

func (s *sessionService) AccessAttempt(ctx context.Context, principal models.Principal, attemptID uint) (*AccessResult, error) {
	attempt, err := s.loadOwnedAttempt(ctx, principal, attemptID)
	if err != nil {
		return nil, err
	}
	if attempt.IsFinished {
		return nil, NewPermissionError(principal.UserID, attemptID, "attempt", "access", "attempt is already finished")
	}

	now := s.opts.now()
	if err := s.ensureStarted(ctx, attempt, now); err != nil {
		return nil, err
	}

	duration := attempt.Exam.Duration()
	if grading.TimeUp(*attempt.StartedAt, duration, now) {
		s.logger.For(ctx).InfoContext(ctx, "Attempt deadline passed on access, finalizing",
			"attempt_id", attempt.ID,
			"started_at", attempt.StartedAt)

		finalized, err := s.finalize(ctx, attempt.ID, now, models.FinishDeadline)
		if err != nil {
			return nil, err
		}
		return &AccessResult{Attempt: finalized, IsTimeUp: true, RemainingSeconds: 0}, nil
	}

	// Get paper and prior responses
	paper, err := s.paper(ctx, attempt.ExamID)
	if err != nil {
		return nil, err
	}
	responses, err := s.repo.Response().ListByAttempt(ctx, nil, attempt.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list responses: %w", err)
	}

	byQuestion := make(map[uint]*models.Response, len(responses))
	for _, r := range responses {
		r.Question = nil
		r.SelectedChoice = nil
		byQuestion[r.QuestionID] = r
	}
	for i := range paper.Questions {
		paper.Questions[i].Response = byQuestion[paper.Questions[i].ID]
	}

	deadline := grading.Deadline(*attempt.StartedAt, duration)
	attempt.Exam = nil
	return &AccessResult{
		Attempt:          attempt,
		Paper:            paper,
		RemainingSeconds: grading.RemainingSeconds(*attempt.StartedAt, duration, now),
		Deadline:         &deadline,
	}, nil
}

func (s *sessionService) RecordResponse(ctx context.Context, principal models.Principal, attemptID uint, payload ResponsePayload) (*models.Response, error) {
	attempt, err := s.openAttempt(ctx, principal, attemptID)
	if err != nil {
		return nil, err
	}
	return s.recordResponse(ctx, attempt, payload)
}

func (s *sessionService) RecordResponses(ctx context.Context, principal models.Principal, attemptID uint, payloads []ResponsePayload) ([]*models.Response, error) {
	attempt, err := s.openAttempt(ctx, principal, attemptID)
	if err != nil {
		return nil, err
	}

	saved := make([]*models.Response, 0, len(payloads))
	for _, payload := range payloads {
		resp, err := s.recordResponse(ctx, attempt, payload)
		if err != nil {
			return saved, err
		}
		saved = append(saved, resp)
	}
	return saved, nil
}

func (s *sessionService) UploadResponseFile(ctx context.Context, principal models.Principal, attemptID, questionID uint, filename string, r io.Reader) (*models.Response, error) {
	if s.storage == nil {
		return nil, fmt.Errorf("file uploads are not configured")
	}

	attempt, err := s.openAttempt(ctx, principal, attemptID)
	if err != nil {
		return nil, err
	}

	question, err := s.examQuestion(ctx, attempt, questionID)
	if err != nil {
		return nil, err
	}
	if question.Type != models.QuestionFile {
		return nil, ValidationErrors{*apperrors.NewValidationErrorWithRule("file", "question does not accept file uploads", "question_type", question.Type)}
	}

	var previous string
	existing, err := s.repo.Response().GetByAttemptAndQuestion(ctx, nil, attempt.ID, questionID)
	if err != nil && !repositories.IsNotFoundError(err) {
		return nil, fmt.Errorf("failed to get response: %w", err)
	}
	if existing != nil && existing.UploadedFile != nil {
		previous = *existing.UploadedFile
	}

	key, err := s.storage.Save(ctx, filename, r)
	if err != nil {
		if errors.Is(err, storage.ErrFileTooLarge) {
			return nil, ValidationErrors{*apperrors.NewValidationErrorWithRule("file", err.Error(), "max", filename)}
		}
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	resp, err := s.recordResponse(ctx, attempt, ResponsePayload{QuestionID: questionID, UploadedFile: &key})
	if err != nil {
		if delErr := s.storage.Delete(ctx, key); delErr != nil {
			s.logger.For(ctx).WarnContext(ctx, "Failed to remove orphaned upload", "key", key, "error", delErr)
		}
		return nil, err
	}

	// Drop the replaced upload
	if previous != "" && previous != key {
		if delErr := s.storage.Delete(ctx, previous); delErr != nil {
			s.logger.For(ctx).WarnContext(ctx, "Failed to remove replaced upload", "key", previous, "error", delErr)
		}
	}
	return resp, nil
}

func (s *sessionService) recordResponse(ctx context.Context, attempt *models.Attempt, payload ResponsePayload) (*models.Response, error) {
	if err := s.validator.Validate(payload); err != nil {
		return nil, err
	}

	question, err := s.examQuestion(ctx, attempt, payload.QuestionID)
	if err != nil {
		return nil, err
	}

	response := &models.Response{AttemptID: attempt.ID, QuestionID: question.ID}
	err = s.repo.WithTransaction(ctx, func(tx *gorm.DB) error {
		// Row lock: a concurrent finalize waits until this write commits
		current, err := s.repo.Attempt().GetForUpdate(ctx, tx, attempt.ID)
		if err != nil {
			return notFound(err, ErrAttemptNotFound, "attempt")
		}
		if current.IsFinished {
			return ErrAttemptFinished
		}

		switch question.Type {
		case models.QuestionMCQ:
			if payload.SelectedChoiceID != nil {
				if question.ChoiceByID(*payload.SelectedChoiceID) == nil {
					return ValidationErrors{*apperrors.NewValidationErrorWithRule("selected_choice_id",
						"must be one of the question's choices", "choice", *payload.SelectedChoiceID)}
				}
				response.SelectedChoiceID = payload.SelectedChoiceID
			}
		case models.QuestionShort, models.QuestionLong:
			text := ""
			if payload.AnswerText != nil {
				text = strings.TrimSpace(*payload.AnswerText)
			}
			response.AnswerText = &text
		case models.QuestionFile:
			if payload.UploadedFile != nil && *payload.UploadedFile != "" {
				response.UploadedFile = payload.UploadedFile
			} else {
				// Carry the previous upload forward
				existing, err := s.repo.Response().GetByAttemptAndQuestion(ctx, tx, attempt.ID, question.ID)
				if err != nil && !repositories.IsNotFoundError(err) {
					return fmt.Errorf("failed to get response: %w", err)
				}
				if existing != nil {
					response.UploadedFile = existing.UploadedFile
				}
			}
		}

		return s.repo.Response().Upsert(ctx, tx, response)
	})
	if err != nil {
		return nil, err
	}

	return response, nil
}

// ===== FINALIZATION =====

func (s *sessionService) Submit(ctx context.Context, principal models.Principal, attemptID uint, reason models.FinishReason) (*models.Attempt, error) {
	op := s.logger.WithOperation(ctx, "submit", principal.UserID)

	attempt, err := s.submit(ctx, principal, attemptID, reason)
	op.LogResult(attemptID, "attempt", err)
	return attempt, err
}

func (s *sessionService) submit(ctx context.Context, principal models.Principal, attemptID uint, reason models.FinishReason) (*models.Attempt, error) {
	if reason == "" {
		reason = models.FinishManual
	}
	if err := s.validator.Validate(struct {
		Reason string `json:"finish_reason" validate:"finish_reason"`
	}{string(reason)}); err != nil {
		return nil, err
	}

	attempt, err := s.loadOwnedAttempt(ctx, principal, attemptID)
	if err != nil {
		return nil, err
	}
	if attempt.IsFinished {
		attempt.Exam = nil
		return attempt, nil
	}

	return s.finalize(ctx, attempt.ID, s.opts.now(), reason)
}

// finalize is the single path to the finished state. Missing responses are
// created, auto-gradable ones graded and the score aggregated before the
// finished flag flips. Only the caller that wins the compare-and-set commits.
func (s *sessionService) finalize(ctx context.Context, attemptID uint, now time.Time, reason models.FinishReason) (*models.Attempt, error) {
	var won bool
	var breakdown grading.Breakdown

	err := s.repo.WithTransaction(ctx, func(tx *gorm.DB) error {
		attempt, err := s.repo.Attempt().GetForUpdate(ctx, tx, attemptID)
		if err != nil {
			return notFound(err, ErrAttemptNotFound, "attempt")
		}
		if attempt.IsFinished {
			return nil
		}

		// Ensure a response per question
		questions, err := s.repo.Question().ListByExam(ctx, tx, attempt.ExamID)
		if err != nil {
			return fmt.Errorf("failed to list questions: %w", err)
		}
		ids := make([]uint, 0, len(questions))
		for _, q := range questions {
			ids = append(ids, q.ID)
		}
		if err := s.repo.Response().CreateMissing(ctx, tx, attemptID, ids); err != nil {
			return err
		}

		// Auto-grade
		if err := s.autoGrade(ctx, tx, attemptID); err != nil {
			return err
		}

		// Aggregate before the finished flag
		breakdown, err = aggregateScore(ctx, s.repo, tx, attemptID)
		if err != nil {
			return err
		}

		ok, err := s.repo.Attempt().Finish(ctx, tx, attemptID, now, reason)
		if err != nil {
			return err
		}
		if !ok {
			return errFinalizeLost
		}
		won = true
		return nil
	})
	if err != nil && !errors.Is(err, errFinalizeLost) {
		return nil, err
	}

	attempt, err := s.repo.Attempt().GetByIDWithExam(ctx, nil, attemptID)
	if err != nil {
		return nil, notFound(err, ErrAttemptNotFound, "attempt")
	}

	if won {
		s.logger.For(ctx).InfoContext(ctx, "Attempt finalized",
			"attempt_id", attemptID,
			"reason", reason,
			"score", breakdown.Total,
			"pending", breakdown.Pending)

		publish(ctx, s.publisher, s.logger, events.EventAttemptSubmitted, events.AttemptSubmittedEvent{
			AttemptID:    attemptID,
			ExamID:       attempt.ExamID,
			StudentID:    attempt.StudentID,
			SubmittedAt:  now,
			FinishReason: string(reason),
			Score:        breakdown.Total,
			Pending:      breakdown.Pending,
		})
		if breakdown.Pending > 0 && attempt.Exam != nil {
			publish(ctx, s.publisher, s.logger, events.EventManualGradingRequired, events.ManualGradingRequiredEvent{
				AttemptID: attemptID,
				ExamID:    attempt.ExamID,
				ExamTitle: attempt.Exam.Title,
				TeacherID: attempt.Exam.TeacherID,
				StudentID: attempt.StudentID,
				Pending:   breakdown.Pending,
			})
		}
	}

	attempt.Exam = nil
	return attempt, nil
}

func (s *sessionService) autoGrade(ctx context.Context, tx *gorm.DB, attemptID uint) error {
	responses, err := s.repo.Response().ListByAttempt(ctx, tx, attemptID)
	if err != nil {
		return fmt.Errorf("failed to list responses: %w", err)
	}

	for _, r := range responses {
		if r.Evaluated || r.Question == nil {
			continue
		}
		if !grading.Apply(r, grading.Grade(r.Question, r, r.SelectedChoice)) {
			continue
		}
		if _, err := s.repo.Response().SetMarks(ctx, tx, r.ID, r.MarksObtained, nil, nil); err != nil {
			return err
		}
	}
	return nil
}

func (s *sessionService) AggregateScore(ctx context.Context, tx *gorm.DB, attemptID uint) (grading.Breakdown, error) {
	return aggregateScore(ctx, s.repo, tx, attemptID)
}

// ExpireOverdue is the sweeper entry point.
func (s *sessionService) ExpireOverdue(ctx context.Context) (int, error) {
	attempts, err := s.repo.Attempt().ListExpirable(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to list attempts: %w", err)
	}

	now := s.opts.now()
	expired := 0
	for _, a := range attempts {
		if a.Exam == nil || a.StartedAt == nil {
			continue
		}
		if !grading.TimeUp(*a.StartedAt, a.Exam.Duration(), now) {
			continue
		}
		if _, err := s.finalize(ctx, a.ID, now, models.FinishDeadline); err != nil {
			s.logger.For(ctx).ErrorContext(ctx, "Failed to expire attempt", "attempt_id", a.ID, "error", err)
			continue
		}
		expired++
	}
	return expired, nil
}

// ===== READ VIEWS =====

func (s *sessionService) Result(ctx context.Context, principal models.Principal, attemptID uint) (*AttemptResult, error) {
	attempt, err := s.repo.Attempt().GetByIDWithExam(ctx, nil, attemptID)
	if err != nil {
		return nil, notFound(err, ErrAttemptNotFound, "attempt")
	}

	switch {
	case principal.IsStudent() && attempt.StudentID == principal.UserID:
	case principal.IsTeacher() && attempt.Exam != nil && attempt.Exam.TeacherID == principal.UserID:
	default:
		return nil, ErrAttemptNotFound
	}
	if !attempt.IsFinished {
		return nil, ErrAttemptNotFinished
	}

	responses, err := s.repo.Response().ListByAttempt(ctx, nil, attemptID)
	if err != nil {
		return nil, fmt.Errorf("failed to list responses: %w", err)
	}

	values := make([]models.Response, 0, len(responses))
	types := make(map[uint]models.QuestionType, len(responses))
	for _, r := range responses {
		values = append(values, *r)
		if r.Question != nil {
			types[r.QuestionID] = r.Question.Type
		}
	}

	return &AttemptResult{
		Attempt:   attempt,
		Breakdown: grading.Aggregate(values, types),
		Responses: responses,
	}, nil
}

func (s *sessionService) Dashboard(ctx context.Context, principal models.Principal, subjectQuery string) (*Dashboard, error) {
	dashboard := &Dashboard{Role: principal.Role}

	switch principal.Role {
	case models.RoleTeacher:
		exams, _, err := s.repo.Exam().List(ctx, nil, repositories.ExamFilters{TeacherID: &principal.UserID})
		if err != nil {
			return nil, fmt.Errorf("failed to list exams: %w", err)
		}
		dashboard.Exams = exams
	case models.RoleStudent:
		attempts, err := s.repo.Attempt().List(ctx, nil, repositories.AttemptFilters{StudentID: &principal.UserID})
		if err != nil {
			return nil, fmt.Errorf("failed to list attempts: %w", err)
		}
		available, _, err := s.repo.Exam().List(ctx, nil, repositories.ExamFilters{
			NotEnrolledBy: &principal.UserID,
			SubjectQuery:  subjectQuery,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list exams: %w", err)
		}
		subjects, err := s.repo.Subject().List(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to list subjects: %w", err)
		}
		for _, a := range attempts {
			a.Student = nil
		}
		dashboard.Attempts = attempts
		dashboard.Available = available
		dashboard.Subjects = subjects
	default:
		return nil, ErrInvalidRole
	}

	return dashboard, nil
}

// ===== HELPERS =====

// loadOwnedAttempt hides other students' attempts behind NotFound.
func (s *sessionService) loadOwnedAttempt(ctx context.Context, principal models.Principal, attemptID uint) (*models.Attempt, error) {
	attempt, err := s.repo.Attempt().GetByIDWithExam(ctx, nil, attemptID)
	if err != nil {
		return nil, notFound(err, ErrAttemptNotFound, "attempt")
	}
	if !principal.IsStudent() || attempt.StudentID != principal.UserID {
		return nil, ErrAttemptNotFound
	}
	if attempt.Exam == nil {
		return nil, ErrExamNotFound
	}
	return attempt, nil
}

// openAttempt loads an attempt that can still take answers. An attempt found
// past its deadline is finalized and reported as finished.
func (s *sessionService) openAttempt(ctx context.Context, principal models.Principal, attemptID uint) (*models.Attempt, error) {
	attempt, err := s.loadOwnedAttempt(ctx, principal, attemptID)
	if err != nil {
		return nil, err
	}
	if attempt.IsFinished {
		return nil, ErrAttemptFinished
	}

	now := s.opts.now()
	if err := s.ensureStarted(ctx, attempt, now); err != nil {
		return nil, err
	}
	if grading.TimeUp(*attempt.StartedAt, attempt.Exam.Duration(), now) {
		if _, err := s.finalize(ctx, attempt.ID, now, models.FinishDeadline); err != nil {
			return nil, err
		}
		return nil, ErrAttemptFinished
	}
	return attempt, nil
}

// ensureStarted sets started_at on first access. A concurrent first access
// keeps whichever timestamp landed first.
func (s *sessionService) ensureStarted(ctx context.Context, attempt *models.Attempt, now time.Time) error {
	if attempt.StartedAt != nil {
		return nil
	}

	started, err := s.repo.Attempt().MarkStarted(ctx, nil, attempt.ID, now)
	if err != nil {
		return err
	}
	if !started {
		stored, err := s.repo.Attempt().GetByID(ctx, nil, attempt.ID)
		if err != nil {
			return notFound(err, ErrAttemptNotFound, "attempt")
		}
		attempt.StartedAt = stored.StartedAt
		if attempt.StartedAt == nil {
			return fmt.Errorf("attempt %d has no start time", attempt.ID)
		}
		return nil
	}

	attempt.StartedAt = &now
	publish(ctx, s.publisher, s.logger, events.EventAttemptStarted, events.AttemptStartedEvent{
		AttemptID:       attempt.ID,
		ExamID:          attempt.ExamID,
		ExamTitle:       attempt.Exam.Title,
		StudentID:       attempt.StudentID,
		StartedAt:       now,
		DurationMinutes: attempt.Exam.DurationMinutes,
	})
	return nil
}

func (s *sessionService) examQuestion(ctx context.Context, attempt *models.Attempt, questionID uint) (*models.Question, error) {
	question, err := s.repo.Question().GetByID(ctx, nil, questionID)
	if err != nil {
		return nil, notFound(err, ErrQuestionNotFound, "question")
	}
	if question.ExamID != attempt.ExamID {
		return nil, ErrQuestionNotFound
	}
	return question, nil
}

// paper returns the student-safe exam paper, served from cache when possible.
func (s *sessionService) paper(ctx context.Context, examID uint) (*ExamPaper, error) {
	var paper ExamPaper
	err := cache.CacheOrExecute(ctx, s.cache, cache.ExamPaperKey(examID), &paper, s.opts.cacheTTL, func() (interface{}, error) {
		exam, err := s.repo.Exam().GetByIDWithQuestions(ctx, nil, examID)
		if err != nil {
			return nil, notFound(err, ErrExamNotFound, "exam")
		}
		return buildPaper(exam), nil
	})
	if err != nil {
		return nil, err
	}
	return &paper, nil
}

func buildPaper(exam *models.Exam) ExamPaper {
	paper := ExamPaper{
		ExamID:          exam.ID,
		Title:           exam.Title,
		DurationMinutes: exam.DurationMinutes,
		Questions:       make([]PaperQuestion, 0, len(exam.Questions)),
	}
	if exam.Subject != nil {
		paper.Subject = exam.Subject.Name
	}

	for _, q := range exam.Questions {
		pq := PaperQuestion{ID: q.ID, Type: q.Type, Text: q.Text, Marks: q.Marks}
		if q.Type == models.QuestionMCQ {
			for _, c := range q.Choices {
				pq.Choices = append(pq.Choices, PaperChoice{ID: c.ID, Text: c.Text})
			}
		}
		paper.Questions = append(paper.Questions, pq)
	}
	return paper
}
