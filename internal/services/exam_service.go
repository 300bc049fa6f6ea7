package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/SAP-F-2025/exam-service/internal/cache"
	"github.com/SAP-F-2025/exam-service/internal/models"
	"github.com/SAP-F-2025/exam-service/internal/repositories"
	"github.com/SAP-F-2025/exam-service/internal/validator"
	"gorm.io/gorm"
)

type examService struct {
	repo      repositories.Repository
	cache     cache.CacheService
	validator *validator.Validator
	logger    *ServiceLogger
}

func NewExamService(deps Dependencies) ExamService {
	return &examService{
		repo:      deps.Repo,
		cache:     deps.Cache,
		validator: deps.Validator,
		logger:    NewServiceLogger(deps.Logger, "exam"),
	}
}

// ===== SUBJECTS =====

func (s *examService) CreateSubject(ctx context.Context, principal models.Principal, req *CreateSubjectRequest) (*models.Subject, error) {
	if !principal.IsTeacher() {
		return nil, NewPermissionError(principal.UserID, 0, "subject", "create", "teacher role required")
	}
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	subject := &models.Subject{
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
	}
	if err := s.repo.Subject().Create(ctx, nil, subject); err != nil {
		return nil, fmt.Errorf("failed to create subject: %w", err)
	}

	s.logger.For(ctx).InfoContext(ctx, "Subject created", "subject_id", subject.ID, "name", subject.Name)
	return subject, nil
}

func (s *examService) ListSubjects(ctx context.Context) ([]*models.Subject, error) {
	return s.repo.Subject().List(ctx, nil)
}

// ===== EXAMS =====

func (s *examService) CreateExam(ctx context.Context, principal models.Principal, req *ExamRequest) (*models.Exam, error) {
	op := s.logger.WithOperation(ctx, "create_exam", principal.UserID)

	exam, err := s.createExam(ctx, principal, req)
	var id uint
	if exam != nil {
		id = exam.ID
	}
	op.LogResult(id, "exam", err)
	return exam, err
}

func (s *examService) createExam(ctx context.Context, principal models.Principal, req *ExamRequest) (*models.Exam, error) {
	if !principal.IsTeacher() {
		return nil, NewPermissionError(principal.UserID, 0, "exam", "create", "teacher role required")
	}

	exam := &models.Exam{TeacherID: principal.UserID}
	if err := s.applyExamRequest(ctx, exam, req); err != nil {
		return nil, err
	}

	if err := s.repo.Exam().Create(ctx, nil, exam); err != nil {
		return nil, err
	}
	return exam, nil
}

func (s *examService) UpdateExam(ctx context.Context, principal models.Principal, examID uint, req *ExamRequest) (*models.Exam, error) {
	exam, err := loadTeacherExam(ctx, s.repo, nil, principal, examID, "update")
	if err != nil {
		return nil, err
	}

	if err := s.applyExamRequest(ctx, exam, req); err != nil {
		return nil, err
	}
	exam.Subject = nil

	if err := s.repo.Exam().Update(ctx, nil, exam); err != nil {
		return nil, err
	}
	cache.SafeDelete(ctx, s.cache, cache.ExamPaperKey(examID))

	return exam, nil
}

func (s *examService) DeleteExam(ctx context.Context, principal models.Principal, examID uint) error {
	if _, err := loadTeacherExam(ctx, s.repo, nil, principal, examID, "delete"); err != nil {
		return err
	}

	if err := s.repo.Exam().Delete(ctx, nil, examID); err != nil {
		return notFound(err, ErrExamNotFound, "exam")
	}
	cache.SafeDelete(ctx, s.cache, cache.ExamPaperKey(examID))

	s.logger.For(ctx).InfoContext(ctx, "Exam deleted", "exam_id", examID, "teacher_id", principal.UserID)
	return nil
}

// GetExam returns the full exam, correct answers included, to its owner.
func (s *examService) GetExam(ctx context.Context, principal models.Principal, examID uint) (*models.Exam, error) {
	if _, err := loadTeacherExam(ctx, s.repo, nil, principal, examID, "view"); err != nil {
		return nil, err
	}

	exam, err := s.repo.Exam().GetByIDWithQuestions(ctx, nil, examID)
	if err != nil {
		return nil, notFound(err, ErrExamNotFound, "exam")
	}
	return exam, nil
}

func (s *examService) ListExams(ctx context.Context, principal models.Principal) ([]*models.Exam, error) {
	if !principal.IsTeacher() {
		return nil, NewPermissionError(principal.UserID, 0, "exam", "list", "teacher role required")
	}

	exams, _, err := s.repo.Exam().List(ctx, nil, repositories.ExamFilters{TeacherID: &principal.UserID})
	if err != nil {
		return nil, fmt.Errorf("failed to list exams: %w", err)
	}
	return exams, nil
}

// ===== QUESTIONS =====

func (s *examService) AddQuestion(ctx context.Context, principal models.Principal, examID uint, req *QuestionRequest) (*models.Question, error) {
	if _, err := loadTeacherExam(ctx, s.repo, nil, principal, examID, "add question to"); err != nil {
		return nil, err
	}

	question := &models.Question{ExamID: examID}
	if err := s.applyQuestionRequest(question, req); err != nil {
		return nil, err
	}

	if err := s.repo.Question().Create(ctx, nil, question); err != nil {
		return nil, err
	}
	cache.SafeDelete(ctx, s.cache, cache.ExamPaperKey(examID))

	return question, nil
}

func (s *examService) UpdateQuestion(ctx context.Context, principal models.Principal, questionID uint, req *QuestionRequest) (*models.Question, error) {
	question, err := s.ownedQuestion(ctx, principal, questionID, "update")
	if err != nil {
		return nil, err
	}

	if err := s.applyQuestionRequest(question, req); err != nil {
		return nil, err
	}

	choices := question.Choices
	err = s.repo.WithTransaction(ctx, func(tx *gorm.DB) error {
		question.Choices = nil
		if err := s.repo.Question().Update(ctx, tx, question); err != nil {
			return err
		}
		return s.repo.Question().ReplaceChoices(ctx, tx, question.ID, choices)
	})
	if err != nil {
		return nil, err
	}
	cache.SafeDelete(ctx, s.cache, cache.ExamPaperKey(question.ExamID))

	return s.repo.Question().GetByID(ctx, nil, question.ID)
}

func (s *examService) DeleteQuestion(ctx context.Context, principal models.Principal, questionID uint) error {
	question, err := s.ownedQuestion(ctx, principal, questionID, "delete")
	if err != nil {
		return err
	}

	if err := s.repo.Question().Delete(ctx, nil, questionID); err != nil {
		return notFound(err, ErrQuestionNotFound, "question")
	}
	cache.SafeDelete(ctx, s.cache, cache.ExamPaperKey(question.ExamID))
	return nil
}

// ===== HELPERS =====

func (s *examService) ownedQuestion(ctx context.Context, principal models.Principal, questionID uint, action string) (*models.Question, error) {
	if !principal.IsTeacher() {
		return nil, NewPermissionError(principal.UserID, questionID, "question", action, "teacher role required")
	}

	question, err := s.repo.Question().GetByID(ctx, nil, questionID)
	if err != nil {
		return nil, notFound(err, ErrQuestionNotFound, "question")
	}
	if _, err := loadTeacherExam(ctx, s.repo, nil, principal, question.ExamID, action); err != nil {
		if IsNotFound(err) {
			return nil, ErrQuestionNotFound
		}
		return nil, err
	}
	return question, nil
}

func (s *examService) applyExamRequest(ctx context.Context, exam *models.Exam, req *ExamRequest) error {
	if err := s.validator.Validate(req); err != nil {
		return err
	}

	if _, err := s.repo.Subject().GetByID(ctx, nil, req.SubjectID); err != nil {
		return notFound(err, ErrSubjectNotFound, "subject")
	}

	exam.SubjectID = req.SubjectID
	exam.Title = strings.TrimSpace(req.Title)
	exam.Description = req.Description
	exam.StartTime = req.StartTime
	exam.DurationMinutes = req.DurationMinutes
	exam.TotalScore = req.TotalScore

	if errs := s.validator.Exam().ValidateExam(exam); len(errs) > 0 {
		return errs
	}
	return nil
}

func (s *examService) applyQuestionRequest(question *models.Question, req *QuestionRequest) error {
	if err := s.validator.Validate(req); err != nil {
		return err
	}

	question.Type = req.Type
	question.Text = strings.TrimSpace(req.Text)
	question.Marks = req.Marks
	question.ModelAnswer = req.ModelAnswer
	question.Choices = nil
	for _, c := range req.Choices {
		question.Choices = append(question.Choices, models.Choice{Text: strings.TrimSpace(c.Text), IsCorrect: c.IsCorrect})
	}

	if errs := s.validator.Question().ValidateQuestion(question); len(errs) > 0 {
		return errs
	}
	return nil
}
