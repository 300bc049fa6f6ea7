package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the lifecycle events emitted by the exam service
type EventType string

const (
	EventAttemptEnrolled       EventType = "attempt.enrolled"
	EventAttemptStarted        EventType = "attempt.started"
	EventAttemptSubmitted      EventType = "attempt.submitted"
	EventAttemptGraded         EventType = "attempt.graded"
	EventManualGradingRequired EventType = "grading.manual_required"
)

const (
	eventSource  = "exam-service"
	eventVersion = "1.0"
)

// Event is the envelope published for every lifecycle event
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Source    string                 `json:"source"`
	Version   string                 `json:"version"`
	Data      interface{}            `json:"data"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// NewEvent wraps a payload in an envelope with a fresh id.
func NewEvent(eventType EventType, data interface{}) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Source:    eventSource,
		Version:   eventVersion,
		Data:      data,
	}
}

// ===== PAYLOADS =====

type AttemptEnrolledEvent struct {
	AttemptID uint      `json:"attempt_id"`
	ExamID    uint      `json:"exam_id"`
	StudentID uint      `json:"student_id"`
	JoinedAt  time.Time `json:"joined_at"`
}

type AttemptStartedEvent struct {
	AttemptID       uint      `json:"attempt_id"`
	ExamID          uint      `json:"exam_id"`
	ExamTitle       string    `json:"exam_title"`
	StudentID       uint      `json:"student_id"`
	StartedAt       time.Time `json:"started_at"`
	DurationMinutes int       `json:"duration_minutes"`
}

type AttemptSubmittedEvent struct {
	AttemptID    uint      `json:"attempt_id"`
	ExamID       uint      `json:"exam_id"`
	StudentID    uint      `json:"student_id"`
	SubmittedAt  time.Time `json:"submitted_at"`
	FinishReason string    `json:"finish_reason"`
	Score        float64   `json:"score"`
	Pending      int       `json:"pending"`
}

type AttemptGradedEvent struct {
	AttemptID uint      `json:"attempt_id"`
	ExamID    uint      `json:"exam_id"`
	StudentID uint      `json:"student_id"`
	TeacherID uint      `json:"teacher_id"`
	Score     float64   `json:"score"`
	GradedAt  time.Time `json:"graded_at"`
}

type ManualGradingRequiredEvent struct {
	AttemptID uint   `json:"attempt_id"`
	ExamID    uint   `json:"exam_id"`
	ExamTitle string `json:"exam_title"`
	TeacherID uint   `json:"teacher_id"`
	StudentID uint   `json:"student_id"`
	Pending   int    `json:"pending"`
}
