package services

import (
	"context"
	"io"
	"time"

	"github.com/SAP-F-2025/exam-service/internal/cache"
	"github.com/SAP-F-2025/exam-service/internal/events"
	"github.com/SAP-F-2025/exam-service/internal/grading"
	"github.com/SAP-F-2025/exam-service/internal/models"
	"github.com/SAP-F-2025/exam-service/internal/repositories"
	"github.com/SAP-F-2025/exam-service/internal/storage"
	"github.com/SAP-F-2025/exam-service/internal/utils"
	"github.com/SAP-F-2025/exam-service/internal/validator"
	"gorm.io/gorm"
)

// ===== SERVICE INTERFACES =====

type SessionService interface {
	Enroll(ctx context.Context, principal models.Principal, examID uint) (*models.Attempt, error)
	AccessAttempt(ctx context.Context, principal models.Principal, attemptID uint) (*AccessResult, error)
	RecordResponse(ctx context.Context, principal models.Principal, attemptID uint, payload ResponsePayload) (*models.Response, error)
	RecordResponses(ctx context.Context, principal models.Principal, attemptID uint, payloads []ResponsePayload) ([]*models.Response, error)
	UploadResponseFile(ctx context.Context, principal models.Principal, attemptID, questionID uint, filename string, r io.Reader) (*models.Response, error)
	Submit(ctx context.Context, principal models.Principal, attemptID uint, reason models.FinishReason) (*models.Attempt, error)
	AggregateScore(ctx context.Context, tx *gorm.DB, attemptID uint) (grading.Breakdown, error)
	Result(ctx context.Context, principal models.Principal, attemptID uint) (*AttemptResult, error)
	Dashboard(ctx context.Context, principal models.Principal, subjectQuery string) (*Dashboard, error)

	// ExpireOverdue finalizes every started attempt whose deadline has passed
	ExpireOverdue(ctx context.Context) (int, error)
}

type GradingService interface {
	ListPending(ctx context.Context, principal models.Principal, examID uint) ([]PendingResponse, error)
	RecordManualGrade(ctx context.Context, principal models.Principal, responseID uint, marks float64) (*models.Response, error)
	RecordManualGrades(ctx context.Context, principal models.Principal, attemptID uint, entries []GradeEntry) (*BatchGradeResult, error)
	RefreshScore(ctx context.Context, principal models.Principal, attemptID uint) (*models.Attempt, error)
	OpenResponseFile(ctx context.Context, principal models.Principal, responseID uint) (*ResponseFile, error)
}

type ExamService interface {
	CreateSubject(ctx context.Context, principal models.Principal, req *CreateSubjectRequest) (*models.Subject, error)
	ListSubjects(ctx context.Context) ([]*models.Subject, error)

	CreateExam(ctx context.Context, principal models.Principal, req *ExamRequest) (*models.Exam, error)
	UpdateExam(ctx context.Context, principal models.Principal, examID uint, req *ExamRequest) (*models.Exam, error)
	DeleteExam(ctx context.Context, principal models.Principal, examID uint) error
	GetExam(ctx context.Context, principal models.Principal, examID uint) (*models.Exam, error)
	ListExams(ctx context.Context, principal models.Principal) ([]*models.Exam, error)

	AddQuestion(ctx context.Context, principal models.Principal, examID uint, req *QuestionRequest) (*models.Question, error)
	UpdateQuestion(ctx context.Context, principal models.Principal, questionID uint, req *QuestionRequest) (*models.Question, error)
	DeleteQuestion(ctx context.Context, principal models.Principal, questionID uint) error
}

type ExportService interface {
	// ExportResults writes the exam's attempts as an xlsx workbook
	ExportResults(ctx context.Context, principal models.Principal, examID uint, w io.Writer) error
}

type UserService interface {
	Create(ctx context.Context, req *CreateUserRequest) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	List(ctx context.Context, role models.UserRole) ([]*models.User, error)
}

// ===== OPTIONS =====

type options struct {
	now      func() time.Time
	cacheTTL time.Duration
}

type Option func(*options)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithCacheTTL(ttl time.Duration) Option {
	return func(o *options) { o.cacheTTL = ttl }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now, cacheTTL: 10 * time.Minute}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ===== SERVICE MANAGER =====

// Dependencies groups the infrastructure every service is built from.
type Dependencies struct {
	Repo      repositories.Repository
	Cache     cache.CacheService
	Publisher events.EventPublisher
	Storage   storage.FileStore
	Validator *validator.Validator
	Logger    utils.Logger
}

type ServiceManager struct {
	Session SessionService
	Grading GradingService
	Exam    ExamService
	Export  ExportService
	User    UserService
}

func NewServiceManager(deps Dependencies, opts ...Option) *ServiceManager {
	if deps.Cache == nil {
		deps.Cache = cache.NewNoopCache()
	}
	if deps.Validator == nil {
		deps.Validator = validator.New()
	}

	session := NewSessionService(deps, opts...)
	return &ServiceManager{
		Session: session,
		Grading: NewGradingService(deps, session, opts...),
		Exam:    NewExamService(deps),
		Export:  NewExportService(deps),
		User:    NewUserService(deps),
	}
}
