package models

import (
	"time"
)

type QuestionType string

const (
	QuestionShort QuestionType = "short"
	QuestionLong  QuestionType = "long"
	QuestionMCQ   QuestionType = "mcq"
	QuestionFile  QuestionType = "file"
)

// QuestionTypes lists every supported question type.
var QuestionTypes = []QuestionType{QuestionShort, QuestionLong, QuestionMCQ, QuestionFile}

func (t QuestionType) Valid() bool {
	switch t {
	case QuestionShort, QuestionLong, QuestionMCQ, QuestionFile:
		return true
	}
	return false
}

// IsObjective reports whether answers of this type are graded by rule alone.
func (t QuestionType) IsObjective() bool {
	return t == QuestionMCQ
}

type Question struct {
	ID          uint         `json:"id" gorm:"primaryKey"`
	ExamID      uint         `json:"exam_id" gorm:"not null;index"`
	Type        QuestionType `json:"type" gorm:"column:question_type;not null;size:10"`
	Text        string       `json:"text" gorm:"not null;type:text"`
	Marks       int          `json:"marks" gorm:"not null;default:1"`
	ModelAnswer *string      `json:"model_answer,omitempty" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Choices []Choice `json:"choices,omitempty" gorm:"foreignKey:QuestionID;constraint:OnDelete:CASCADE"`
}

func (Question) TableName() string {
	return "questions"
}

// ChoiceByID returns the choice with the given id or nil.
func (q *Question) ChoiceByID(id uint) *Choice {
	for i := range q.Choices {
		if q.Choices[i].ID == id {
			return &q.Choices[i]
		}
	}
	return nil
}

type Choice struct {
	ID         uint   `json:"id" gorm:"primaryKey"`
	QuestionID uint   `json:"question_id" gorm:"not null;index"`
	Text       string `json:"text" gorm:"not null;size:255"`
	IsCorrect  bool   `json:"is_correct" gorm:"not null;default:false"`
}

func (Choice) TableName() string {
	return "choices"
}
