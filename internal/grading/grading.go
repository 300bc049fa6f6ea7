// Package grading holds the deterministic scoring rules for exam responses.
// Nothing here touches storage; callers persist the results.
package grading

import (
	"math"
	"strings"
	"time"

	"github.com/SAP-F-2025/exam-service/internal/models"
)

// Result is the outcome of auto-grading a single response.
type Result struct {
	Marks     float64
	Evaluated bool
	// Ran is false when no rule applies to the response and it must be left untouched.
	Ran bool
}

// Grade applies the auto-grading rule for the question type. choice is the
// response's selected choice, already loaded, or nil.
func Grade(question *models.Question, response *models.Response, choice *models.Choice) Result {
	switch question.Type {
	case models.QuestionMCQ:
		if choice != nil && choice.QuestionID == question.ID && choice.IsCorrect {
			return Result{Marks: float64(question.Marks), Evaluated: true, Ran: true}
		}
		return Result{Marks: 0, Evaluated: true, Ran: true}
	case models.QuestionShort, models.QuestionLong:
		model := ""
		if question.ModelAnswer != nil {
			model = strings.ToLower(strings.TrimSpace(*question.ModelAnswer))
		}
		if model == "" {
			return Result{}
		}
		answer := ""
		if response.AnswerText != nil {
			answer = strings.ToLower(*response.AnswerText)
		}
		if strings.Contains(answer, model) {
			return Result{Marks: float64(question.Marks), Evaluated: true, Ran: true}
		}
		return Result{Marks: 0, Evaluated: true, Ran: true}
	case models.QuestionFile:
		return Result{}
	default:
		return Result{}
	}
}

// Apply writes a ran result onto the response. It never clears Evaluated.
func Apply(response *models.Response, result Result) bool {
	if !result.Ran {
		return false
	}
	response.MarksObtained = result.Marks
	response.Evaluated = response.Evaluated || result.Evaluated
	return true
}

// Breakdown splits an attempt score into its automatic and manual parts.
type Breakdown struct {
	Automatic float64 `json:"automatic"`
	Manual    float64 `json:"manual"`
	Total     float64 `json:"total"`
	Pending   int     `json:"pending"`
}

// Aggregate sums marks over evaluated responses. Question types are looked up
// through types, keyed by question id; unknown questions count as manual.
func Aggregate(responses []models.Response, types map[uint]models.QuestionType) Breakdown {
	var b Breakdown
	for _, r := range responses {
		if !r.Evaluated {
			b.Pending++
			continue
		}
		if types[r.QuestionID].IsObjective() {
			b.Automatic += r.MarksObtained
		} else {
			b.Manual += r.MarksObtained
		}
	}
	b.Total = b.Automatic + b.Manual
	return b
}

// ClampMarks bounds a manual grade to [0, max]. NaN maps to 0.
func ClampMarks(marks float64, max int) (float64, bool) {
	upper := float64(max)
	switch {
	case math.IsNaN(marks):
		return 0, true
	case marks < 0:
		return 0, true
	case marks > upper:
		return upper, true
	}
	return marks, false
}

// Deadline is the instant an attempt started at startedAt runs out of time.
func Deadline(startedAt time.Time, duration time.Duration) time.Time {
	return startedAt.Add(duration)
}

// RemainingSeconds is the time left rounded up to whole seconds, floored at
// zero. It is zero exactly when TimeUp reports true.
func RemainingSeconds(startedAt time.Time, duration time.Duration, now time.Time) int {
	remaining := duration - now.Sub(startedAt)
	if remaining <= 0 {
		return 0
	}
	return int(math.Ceil(remaining.Seconds()))
}

// TimeUp reports whether now is at or past the deadline.
func TimeUp(startedAt time.Time, duration time.Duration, now time.Time) bool {
	return !now.Before(Deadline(startedAt, duration))
}
