package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/SAP-F-2025/exam-service/internal/models"
	"gorm.io/gorm"
)

// ===== SHARED FILTER STRUCTS =====

type ExamFilters struct {
	TeacherID    *uint  `json:"teacher_id"`
	SubjectID    *uint  `json:"subject_id"`
	SubjectQuery string `json:"subject_query"` // case-insensitive substring of the subject name
	// NotEnrolledBy excludes exams the student already has an attempt for
	NotEnrolledBy *uint `json:"not_enrolled_by"`
	Limit         int   `json:"limit"`
	Offset        int   `json:"offset"`
}

type AttemptFilters struct {
	ExamID    *uint `json:"exam_id"`
	StudentID *uint `json:"student_id"`
	Finished  *bool `json:"finished"`
}

// ===== AGGREGATE =====

// Repository bundles every repository over one database handle.
// Each method takes an optional tx; nil means the root connection.
type Repository interface {
	User() UserRepository
	Subject() SubjectRepository
	Exam() ExamRepository
	Question() QuestionRepository
	Attempt() AttemptRepository
	Response() ResponseRepository
	GradeAudit() GradeAuditRepository

	DB() *gorm.DB
	WithTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error
	Ping(ctx context.Context) error
	Close() error
}

// IsNotFoundError reports whether err is a missing-row error from gorm.
func IsNotFoundError(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// IsDuplicateKeyError reports whether err is a unique constraint violation.
func IsDuplicateKeyError(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

// ===== REPOSITORIES =====

type UserRepository interface {
	Create(ctx context.Context, tx *gorm.DB, user *models.User) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.User, error)
	GetByUsername(ctx context.Context, tx *gorm.DB, username string) (*models.User, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uint) ([]*models.User, error)
	ListByRole(ctx context.Context, tx *gorm.DB, role models.UserRole) ([]*models.User, error)
}

type SubjectRepository interface {
	Create(ctx context.Context, tx *gorm.DB, subject *models.Subject) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Subject, error)
	List(ctx context.Context, tx *gorm.DB) ([]*models.Subject, error)
}

type ExamRepository interface {
	Create(ctx context.Context, tx *gorm.DB, exam *models.Exam) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Exam, error)
	// GetByIDWithQuestions preloads subject, questions and their choices in id order
	GetByIDWithQuestions(ctx context.Context, tx *gorm.DB, id uint) (*models.Exam, error)
	Update(ctx context.Context, tx *gorm.DB, exam *models.Exam) error
	Delete(ctx context.Context, tx *gorm.DB, id uint) error
	List(ctx context.Context, tx *gorm.DB, filters ExamFilters) ([]*models.Exam, int64, error)
}

type QuestionRepository interface {
	// Create stores the question together with its choices
	Create(ctx context.Context, tx *gorm.DB, question *models.Question) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Question, error)
	Update(ctx context.Context, tx *gorm.DB, question *models.Question) error
	// ReplaceChoices deletes the question's choices and stores the given ones
	ReplaceChoices(ctx context.Context, tx *gorm.DB, questionID uint, choices []models.Choice) error
	Delete(ctx context.Context, tx *gorm.DB, id uint) error
	ListByExam(ctx context.Context, tx *gorm.DB, examID uint) ([]*models.Question, error)
	GetChoice(ctx context.Context, tx *gorm.DB, id uint) (*models.Choice, error)
}

type AttemptRepository interface {
	// GetOrCreate returns the single attempt of (student, exam), creating it when absent.
	// created is true only for the call that inserted the row.
	GetOrCreate(ctx context.Context, tx *gorm.DB, studentID, examID uint, joinedAt time.Time) (attempt *models.Attempt, created bool, err error)
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Attempt, error)
	GetByIDWithExam(ctx context.Context, tx *gorm.DB, id uint) (*models.Attempt, error)
	// GetForUpdate reads the attempt and locks its row until tx ends
	GetForUpdate(ctx context.Context, tx *gorm.DB, id uint) (*models.Attempt, error)
	List(ctx context.Context, tx *gorm.DB, filters AttemptFilters) ([]*models.Attempt, error)
	// ListExpirable returns unfinished attempts that have a start time, with their exam
	ListExpirable(ctx context.Context, tx *gorm.DB) ([]*models.Attempt, error)

	// MarkStarted sets started_at only if it is still null
	MarkStarted(ctx context.Context, tx *gorm.DB, id uint, at time.Time) (bool, error)
	// Finish flips is_finished only if it is still false
	Finish(ctx context.Context, tx *gorm.DB, id uint, at time.Time, reason models.FinishReason) (bool, error)
	UpdateScore(ctx context.Context, tx *gorm.DB, id uint, score float64) error
}

type ResponseRepository interface {
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Response, error)
	GetByAttemptAndQuestion(ctx context.Context, tx *gorm.DB, attemptID, questionID uint) (*models.Response, error)
	ListByAttempt(ctx context.Context, tx *gorm.DB, attemptID uint) ([]*models.Response, error)
	// ListPendingByExam returns unevaluated non-objective responses of finished attempts
	ListPendingByExam(ctx context.Context, tx *gorm.DB, examID uint) ([]*models.Response, error)
	CountPending(ctx context.Context, tx *gorm.DB, attemptID uint) (int64, error)

	// Upsert writes the answer fields keyed by (attempt, question) and reloads the row
	Upsert(ctx context.Context, tx *gorm.DB, response *models.Response) error
	// CreateMissing inserts empty responses for questions that have none yet
	CreateMissing(ctx context.Context, tx *gorm.DB, attemptID uint, questionIDs []uint) error
	// SetMarks writes marks and flips evaluated, only while evaluated is still false.
	// It reports whether this call did the write.
	SetMarks(ctx context.Context, tx *gorm.DB, id uint, marks float64, gradedBy *uint, gradedAt *time.Time) (bool, error)
}

type GradeAuditRepository interface {
	Create(ctx context.Context, tx *gorm.DB, audit *models.GradeAudit) error
	ListByResponse(ctx context.Context, tx *gorm.DB, responseID uint) ([]*models.GradeAudit, error)
}
