package services

import (
	"io"
	"time"

	"github.com/SAP-F-2025/exam-service/internal/grading"
	"github.com/SAP-F-2025/exam-service/internal/models"
)

// ===== SESSION DTOs =====

// ResponsePayload carries one answer. Only the field matching the question type is read.
type ResponsePayload struct {
	QuestionID       uint    `json:"question_id" validate:"required"`
	SelectedChoiceID *uint   `json:"selected_choice_id,omitempty"`
	AnswerText       *string `json:"answer_text,omitempty"`
	UploadedFile     *string `json:"-"`
}

// PaperChoice is a choice as shown to a student, without its correctness flag.
type PaperChoice struct {
	ID   uint   `json:"id"`
	Text string `json:"text"`
}

// PaperQuestion is a question as shown to a student, without its model answer.
type PaperQuestion struct {
	ID       uint                `json:"id"`
	Type     models.QuestionType `json:"type"`
	Text     string              `json:"text"`
	Marks    int                 `json:"marks"`
	Choices  []PaperChoice       `json:"choices,omitempty"`
	Response *models.Response    `json:"response,omitempty"`
}

// ExamPaper is the cacheable, student-safe view of an exam.
type ExamPaper struct {
	ExamID          uint            `json:"exam_id"`
	Title           string          `json:"title"`
	Subject         string          `json:"subject"`
	DurationMinutes int             `json:"duration_minutes"`
	Questions       []PaperQuestion `json:"questions"`
}

type AccessResult struct {
	Attempt          *models.Attempt `json:"attempt"`
	Paper            *ExamPaper      `json:"paper,omitempty"`
	RemainingSeconds int             `json:"remaining_seconds"`
	IsTimeUp         bool            `json:"is_time_up"`
	Deadline         *time.Time      `json:"deadline,omitempty"`
}

type AttemptResult struct {
	Attempt   *models.Attempt    `json:"attempt"`
	Breakdown grading.Breakdown  `json:"breakdown"`
	Responses []*models.Response `json:"responses"`
}

type Dashboard struct {
	Role      models.UserRole   `json:"role"`
	Attempts  []*models.Attempt `json:"attempts,omitempty"`
	Available []*models.Exam    `json:"available,omitempty"`
	Exams     []*models.Exam    `json:"exams,omitempty"`
	Subjects  []*models.Subject `json:"subjects,omitempty"`
}

// ===== GRADING DTOs =====

type PendingResponse struct {
	AttemptID    uint                `json:"attempt_id"`
	ResponseID   uint                `json:"response_id"`
	StudentID    uint                `json:"student_id"`
	StudentName  string              `json:"student_name"`
	QuestionID   uint                `json:"question_id"`
	QuestionType models.QuestionType `json:"question_type"`
	QuestionText string              `json:"question_text"`
	MaxMarks     int                 `json:"max_marks"`
	AnswerText   *string             `json:"answer_text,omitempty"`
	UploadedFile *string             `json:"uploaded_file,omitempty"`
}

// GradeEntry is one raw mark from the batch grading form.
type GradeEntry struct {
	ResponseID uint   `json:"response_id"`
	Marks      string `json:"marks"`
}

type BatchGradeResult struct {
	Accepted  []*models.Response `json:"accepted"`
	Errors    ValidationErrors   `json:"errors,omitempty"`
	Breakdown grading.Breakdown  `json:"breakdown"`
	Score     float64            `json:"score"`
}

// ResponseFile is an uploaded answer opened for download. Callers close Body.
type ResponseFile struct {
	Name string
	Body io.ReadCloser
}

// ===== AUTHORING DTOs =====

type CreateSubjectRequest struct {
	Name        string  `json:"name" validate:"required,max=100"`
	Description *string `json:"description,omitempty"`
}

type ExamRequest struct {
	SubjectID       uint      `json:"subject_id" validate:"required"`
	Title           string    `json:"title" validate:"required,max=255"`
	Description     *string   `json:"description,omitempty"`
	StartTime       time.Time `json:"start_time" validate:"required"`
	DurationMinutes int       `json:"duration_minutes" validate:"required,min=1"`
	TotalScore      int       `json:"total_score" validate:"min=0"`
}

type ChoiceRequest struct {
	Text      string `json:"text" validate:"required"`
	IsCorrect bool   `json:"is_correct"`
}

type QuestionRequest struct {
	Type        models.QuestionType `json:"type" validate:"required,question_type"`
	Text        string              `json:"text" validate:"required"`
	Marks       int                 `json:"marks" validate:"required,min=1"`
	ModelAnswer *string             `json:"model_answer,omitempty"`
	Choices     []ChoiceRequest     `json:"choices,omitempty" validate:"dive"`
}

// ===== USER DTOs =====

type CreateUserRequest struct {
	Username string          `json:"username" validate:"required,max=100"`
	FullName string          `json:"full_name" validate:"max=255"`
	Email    string          `json:"email" validate:"omitempty,email"`
	Role     models.UserRole `json:"role" validate:"required,user_role"`
}
