package models

import (
	"time"
)

type Subject struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	Name        string    `json:"name" gorm:"not null;size:100;index"`
	Description *string   `json:"description" gorm:"type:text"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Subject) TableName() string {
	return "subjects"
}

type Exam struct {
	ID              uint      `json:"id" gorm:"primaryKey"`
	TeacherID       uint      `json:"teacher_id" gorm:"not null;index"`
	SubjectID       uint      `json:"subject_id" gorm:"not null;index"`
	Title           string    `json:"title" gorm:"not null;size:255"`
	Description     *string   `json:"description" gorm:"type:text"`
	StartTime       time.Time `json:"start_time" gorm:"not null"`
	DurationMinutes int       `json:"duration_minutes" gorm:"not null"`
	TotalScore      int       `json:"total_score" gorm:"not null;default:0"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Teacher   *User      `json:"teacher,omitempty" gorm:"foreignKey:TeacherID;constraint:OnDelete:CASCADE"`
	Subject   *Subject   `json:"subject,omitempty" gorm:"foreignKey:SubjectID;constraint:OnDelete:CASCADE"`
	Questions []Question `json:"questions,omitempty" gorm:"foreignKey:ExamID;constraint:OnDelete:CASCADE"`
}

func (Exam) TableName() string {
	return "exams"
}

// EndTime is the nominal end of the exam window.
func (e *Exam) EndTime() time.Time {
	return e.StartTime.Add(e.Duration())
}

func (e *Exam) Duration() time.Duration {
	return time.Duration(e.DurationMinutes) * time.Minute
}
