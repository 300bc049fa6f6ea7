package models

import (
	"time"
)

type AttemptState string

const (
	AttemptNotStarted AttemptState = "not_started"
	AttemptInProgress AttemptState = "in_progress"
	AttemptFinished   AttemptState = "finished"
)

type FinishReason string

const (
	FinishManual   FinishReason = "manual"
	FinishDeadline FinishReason = "deadline"
)

// Attempt is one student's session against one exam.
type Attempt struct {
	ID           uint          `json:"id" gorm:"primaryKey"`
	StudentID    uint          `json:"student_id" gorm:"not null;uniqueIndex:idx_attempt_student_exam"`
	ExamID       uint          `json:"exam_id" gorm:"not null;uniqueIndex:idx_attempt_student_exam;index"`
	JoinedAt     time.Time     `json:"joined_at" gorm:"not null"`
	StartedAt    *time.Time    `json:"started_at"`
	FinishedAt   *time.Time    `json:"finished_at"`
	Score        float64       `json:"score" gorm:"not null;default:0"`
	IsFinished   bool          `json:"is_finished" gorm:"not null;default:false;index"`
	FinishReason *FinishReason `json:"finish_reason,omitempty" gorm:"size:10"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Student   *User      `json:"student,omitempty" gorm:"foreignKey:StudentID;constraint:OnDelete:CASCADE"`
	Exam      *Exam      `json:"exam,omitempty" gorm:"foreignKey:ExamID;constraint:OnDelete:CASCADE"`
	Responses []Response `json:"responses,omitempty" gorm:"foreignKey:AttemptID;constraint:OnDelete:CASCADE"`
}

func (Attempt) TableName() string {
	return "attempts"
}

func (a *Attempt) State() AttemptState {
	switch {
	case a.IsFinished:
		return AttemptFinished
	case a.StartedAt != nil:
		return AttemptInProgress
	default:
		return AttemptNotStarted
	}
}

// Response is an attempt's answer to one question.
type Response struct {
	ID               uint       `json:"id" gorm:"primaryKey"`
	AttemptID        uint       `json:"attempt_id" gorm:"not null;uniqueIndex:idx_response_attempt_question"`
	QuestionID       uint       `json:"question_id" gorm:"not null;uniqueIndex:idx_response_attempt_question;index"`
	AnswerText       *string    `json:"answer_text" gorm:"type:text"`
	SelectedChoiceID *uint      `json:"selected_choice_id" gorm:"index"`
	UploadedFile     *string    `json:"uploaded_file" gorm:"size:500"`
	MarksObtained    float64    `json:"marks_obtained" gorm:"not null;default:0"`
	Evaluated        bool       `json:"evaluated" gorm:"not null;default:false;index"`
	GradedBy         *uint      `json:"graded_by,omitempty"`
	GradedAt         *time.Time `json:"graded_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Attempt        *Attempt  `json:"attempt,omitempty" gorm:"foreignKey:AttemptID"`
	Question       *Question `json:"question,omitempty" gorm:"foreignKey:QuestionID;constraint:OnDelete:CASCADE"`
	SelectedChoice *Choice   `json:"selected_choice,omitempty" gorm:"foreignKey:SelectedChoiceID;constraint:OnDelete:SET NULL"`
}

func (Response) TableName() string {
	return "responses"
}
