package models

import (
	"time"

	"gorm.io/datatypes"
)

type GradeSource string

const (
	GradeSourceSingle GradeSource = "single"
	GradeSourceBatch  GradeSource = "batch"
)

// GradeAudit records every manual grade written by a teacher.
type GradeAudit struct {
	ID         uint        `json:"id" gorm:"primaryKey"`
	ResponseID uint        `json:"response_id" gorm:"not null;index"`
	AttemptID  uint        `json:"attempt_id" gorm:"not null;index"`
	TeacherID  uint        `json:"teacher_id" gorm:"not null;index"`
	Source     GradeSource `json:"source" gorm:"not null;size:10"`

	// Grade details
	PreviousMarks float64        `json:"previous_marks"`
	RawInput      string         `json:"raw_input" gorm:"size:50"`
	RequestedMark float64        `json:"requested_mark"`
	Marks         float64        `json:"marks"`
	Clamped       bool           `json:"clamped"`
	Details       datatypes.JSON `json:"details"`

	CreatedAt time.Time `json:"created_at" gorm:"index"`
}

func (GradeAudit) TableName() string {
	return "grade_audits"
}

// AllModels returns every persisted model in migration order.
func AllModels() []interface{} {
	return []interface{}{
		&User{},
		&Subject{},
		&Exam{},
		&Question{},
		&Choice{},
		&Attempt{},
		&Response{},
		&GradeAudit{},
	}
}
