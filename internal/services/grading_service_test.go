package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"testing"

	"github.com/SAP-F-2025/exam-service/internal/events"
	"github.com/SAP-F-2025/exam-service/internal/models"
	"github.com/SAP-F-2025/exam-service/internal/repositories"
	"github.com/SAP-F-2025/exam-service/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type gradedAttempt struct {
	physicsExam
	long    *models.Question
	attempt *models.Attempt
	byQ     map[uint]*models.Response
}

// finishedAttempt submits an attempt with a correct mcq, a wrong short answer
// and a long answer that needs a teacher.
func (e *testEnv) finishedAttempt(t *testing.T) gradedAttempt {
	t.Helper()
	p := e.createPhysicsExam(t)
	long := e.addQuestion(t, p.exam.ID, models.QuestionLong, 10)

	attempt, err := e.svc.Session.Enroll(e.ctx, e.student, p.exam.ID)
	require.NoError(t, err)
	_, err = e.svc.Session.RecordResponses(e.ctx, e.student, attempt.ID, []ResponsePayload{
		{QuestionID: p.mcq.ID, SelectedChoiceID: uintPtr(p.correctID)},
		{QuestionID: p.short.ID, AnswerText: strPtr("galileo")},
		{QuestionID: long.ID, AnswerText: strPtr("force equals mass times acceleration")},
	})
	require.NoError(t, err)
	attempt, err = e.svc.Session.Submit(e.ctx, e.student, attempt.ID, models.FinishManual)
	require.NoError(t, err)

	responses, err := e.repo.Response().ListByAttempt(e.ctx, nil, attempt.ID)
	require.NoError(t, err)
	byQ := make(map[uint]*models.Response, len(responses))
	for _, r := range responses {
		byQ[r.QuestionID] = r
	}

	return gradedAttempt{physicsExam: p, long: long, attempt: attempt, byQ: byQ}
}

func TestGradingService_ListPending(t *testing.T) {
	env := newTestEnv(t)
	g := env.finishedAttempt(t)

	pending, err := env.svc.Grading.ListPending(env.ctx, env.teacher, g.exam.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, g.long.ID, pending[0].QuestionID)
	assert.Equal(t, 10, pending[0].MaxMarks)
	assert.Equal(t, "student name", pending[0].StudentName)
	assert.Equal(t, models.QuestionLong, pending[0].QuestionType)

	_, err = env.svc.Grading.ListPending(env.ctx, env.other, g.exam.ID)
	assert.ErrorIs(t, err, ErrExamNotFound)

	_, err = env.svc.Grading.ListPending(env.ctx, env.student, g.exam.ID)
	assert.True(t, IsUnauthorized(err))
}

func TestGradingService_RecordManualGrade(t *testing.T) {
	env := newTestEnv(t)
	g := env.finishedAttempt(t)
	assert.Equal(t, 2.0, g.attempt.Score)

	resp, err := env.svc.Grading.RecordManualGrade(env.ctx, env.teacher, g.byQ[g.long.ID].ID, 7.5)
	require.NoError(t, err)
	assert.Equal(t, 7.5, resp.MarksObtained)
	assert.True(t, resp.Evaluated)
	require.NotNil(t, resp.GradedBy)
	assert.Equal(t, env.teacher.UserID, *resp.GradedBy)

	// Score moves only on refresh
	stored, err := env.repo.Attempt().GetByID(env.ctx, nil, g.attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, 2.0, stored.Score)

	refreshed, err := env.svc.Grading.RefreshScore(env.ctx, env.teacher, g.attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, 9.5, refreshed.Score)

	audits, err := env.repo.GradeAudit().ListByResponse(env.ctx, nil, resp.ID)
	require.NoError(t, err)
	require.Len(t, audits, 1)
	assert.Equal(t, models.GradeSourceSingle, audits[0].Source)
	assert.False(t, audits[0].Clamped)
}

func TestGradingService_RecordManualGradeClamps(t *testing.T) {
	tests := []struct {
		name    string
		marks   float64
		want    float64
		clamped bool
	}{
		{"above max", 14, 10, true},
		{"negative", -3, 0, true},
		{"not a number", math.NaN(), 0, true},
		{"in range", 4, 4, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			g := env.finishedAttempt(t)
			id := g.byQ[g.long.ID].ID

			resp, err := env.svc.Grading.RecordManualGrade(env.ctx, env.teacher, id, tt.marks)
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.MarksObtained)

			audits, err := env.repo.GradeAudit().ListByResponse(env.ctx, nil, id)
			require.NoError(t, err)
			require.Len(t, audits, 1)
			assert.Equal(t, tt.clamped, audits[0].Clamped)
		})
	}
}

func TestGradingService_RecordManualGradeRejections(t *testing.T) {
	env := newTestEnv(t)
	g := env.finishedAttempt(t)

	_, err := env.svc.Grading.RecordManualGrade(env.ctx, env.teacher, g.byQ[g.mcq.ID].ID, 1)
	assert.ErrorIs(t, err, ErrGradingNotAllowed)

	_, err = env.svc.Grading.RecordManualGrade(env.ctx, env.other, g.byQ[g.long.ID].ID, 1)
	assert.ErrorIs(t, err, ErrResponseNotFound)

	_, err = env.svc.Grading.RecordManualGrade(env.ctx, env.student, g.byQ[g.long.ID].ID, 1)
	assert.True(t, IsUnauthorized(err))

	_, err = env.svc.Grading.RecordManualGrade(env.ctx, env.teacher, 9999, 1)
	assert.ErrorIs(t, err, ErrResponseNotFound)
}

func TestGradingService_RejectsUnfinishedAttempt(t *testing.T) {
	env := newTestEnv(t)
	p := env.createPhysicsExam(t)

	attempt, err := env.svc.Session.Enroll(env.ctx, env.student, p.exam.ID)
	require.NoError(t, err)
	resp, err := env.svc.Session.RecordResponse(env.ctx, env.student, attempt.ID, ResponsePayload{QuestionID: p.short.ID, AnswerText: strPtr("hooke")})
	require.NoError(t, err)

	_, err = env.svc.Grading.RecordManualGrade(env.ctx, env.teacher, resp.ID, 2)
	assert.ErrorIs(t, err, ErrAttemptNotFinished)

	_, err = env.svc.Grading.RecordManualGrades(env.ctx, env.teacher, attempt.ID, []GradeEntry{{ResponseID: resp.ID, Marks: "2"}})
	assert.ErrorIs(t, err, ErrAttemptNotFinished)
}

func TestGradingService_RecordManualGradesBatch(t *testing.T) {
	env := newTestEnv(t)
	g := env.finishedAttempt(t)

	result, err := env.svc.Grading.RecordManualGrades(env.ctx, env.teacher, g.attempt.ID, []GradeEntry{
		{ResponseID: g.byQ[g.long.ID].ID, Marks: "8"},
		{ResponseID: g.byQ[g.short.ID].ID, Marks: "abc"},
		{ResponseID: g.byQ[g.mcq.ID].ID, Marks: "1"},
		{ResponseID: 9999, Marks: "1"},
		{ResponseID: g.byQ[g.short.ID].ID, Marks: "  "},
	})
	require.NoError(t, err)

	require.Len(t, result.Accepted, 1)
	assert.Equal(t, 8.0, result.Accepted[0].MarksObtained)
	require.Len(t, result.Errors, 3)
	assert.Equal(t, fmt.Sprintf("marks_%d", g.byQ[g.short.ID].ID), result.Errors[0].Field)

	// mcq 2 + short 0 + long 8
	assert.Equal(t, 10.0, result.Score)
	assert.Equal(t, 0, result.Breakdown.Pending)
	assert.Equal(t, 2.0, result.Breakdown.Automatic)
	assert.Equal(t, 8.0, result.Breakdown.Manual)

	stored, err := env.repo.Attempt().GetByID(env.ctx, nil, g.attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, 10.0, stored.Score)

	assert.Equal(t, 1, env.publisher.CountByType(events.EventAttemptGraded))
}

func TestGradingService_EvaluatedResponsesAreFinal(t *testing.T) {
	env := newTestEnv(t)
	g := env.finishedAttempt(t)
	short := g.byQ[g.short.ID]
	long := g.byQ[g.long.ID]
	require.True(t, short.Evaluated, "short answer was scored by its model answer")

	_, err := env.svc.Grading.RecordManualGrade(env.ctx, env.teacher, short.ID, 3)
	assert.ErrorIs(t, err, ErrAlreadyGraded)
	assert.True(t, IsConflict(err))

	_, err = env.svc.Grading.RecordManualGrade(env.ctx, env.teacher, long.ID, 10)
	require.NoError(t, err)
	_, err = env.svc.Grading.RecordManualGrade(env.ctx, env.teacher, long.ID, 0)
	assert.ErrorIs(t, err, ErrAlreadyGraded)

	result, err := env.svc.Grading.RecordManualGrades(env.ctx, env.teacher, g.attempt.ID, []GradeEntry{
		{ResponseID: long.ID, Marks: "0"},
		{ResponseID: short.ID, Marks: "3"},
	})
	require.NoError(t, err)
	assert.Empty(t, result.Accepted)
	require.Len(t, result.Errors, 2)
	for _, e := range result.Errors {
		assert.Equal(t, "graded", e.Rule)
	}
	assert.Equal(t, 12.0, result.Score)

	stored, err := env.repo.Response().GetByID(env.ctx, nil, long.ID)
	require.NoError(t, err)
	assert.Equal(t, 10.0, stored.MarksObtained)

	audits, err := env.repo.GradeAudit().ListByResponse(env.ctx, nil, long.ID)
	require.NoError(t, err)
	assert.Len(t, audits, 1)
}

func TestGradingService_ScoreNeverDecreases(t *testing.T) {
	env := newTestEnv(t)
	p := env.createPhysicsExam(t)
	essays := []*models.Question{
		env.addQuestion(t, p.exam.ID, models.QuestionLong, 10),
		env.addQuestion(t, p.exam.ID, models.QuestionLong, 10),
		env.addQuestion(t, p.exam.ID, models.QuestionLong, 10),
	}

	attempt, err := env.svc.Session.Enroll(env.ctx, env.student, p.exam.ID)
	require.NoError(t, err)
	_, err = env.svc.Session.RecordResponse(env.ctx, env.student, attempt.ID, ResponsePayload{QuestionID: p.mcq.ID, SelectedChoiceID: uintPtr(p.correctID)})
	require.NoError(t, err)
	attempt, err = env.svc.Session.Submit(env.ctx, env.student, attempt.ID, models.FinishManual)
	require.NoError(t, err)

	responses, err := env.repo.Response().ListByAttempt(env.ctx, nil, attempt.ID)
	require.NoError(t, err)
	byQ := make(map[uint]uint, len(responses))
	for _, r := range responses {
		byQ[r.QuestionID] = r.ID
	}

	// Falling marks, then attempts to lower an already graded essay
	steps := []GradeEntry{
		{ResponseID: byQ[essays[0].ID], Marks: "9"},
		{ResponseID: byQ[essays[1].ID], Marks: "2"},
		{ResponseID: byQ[essays[0].ID], Marks: "0"},
		{ResponseID: byQ[essays[2].ID], Marks: "-4"},
		{ResponseID: byQ[essays[1].ID], Marks: "0"},
	}
	previous := attempt.Score
	for _, step := range steps {
		result, err := env.svc.Grading.RecordManualGrades(env.ctx, env.teacher, attempt.ID, []GradeEntry{step})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, result.Score, previous)
		previous = result.Score
	}
	// mcq 2 + 9 + 2 + 0
	assert.Equal(t, 13.0, previous)
}

func TestGradingService_RefreshScoreOwnership(t *testing.T) {
	env := newTestEnv(t)
	g := env.finishedAttempt(t)

	_, err := env.svc.Grading.RefreshScore(env.ctx, env.other, g.attempt.ID)
	assert.ErrorIs(t, err, ErrAttemptNotFound)

	_, err = env.svc.Grading.RefreshScore(env.ctx, env.student, g.attempt.ID)
	assert.True(t, IsUnauthorized(err))
}

// auditFailingRepo fails the nth grade audit write.
type auditFailingRepo struct {
	repositories.Repository
	failOn int
	calls  int
}

func (r *auditFailingRepo) GradeAudit() repositories.GradeAuditRepository {
	return &failingAuditRepo{GradeAuditRepository: r.Repository.GradeAudit(), parent: r}
}

type failingAuditRepo struct {
	repositories.GradeAuditRepository
	parent *auditFailingRepo
}

func (r *failingAuditRepo) Create(ctx context.Context, tx *gorm.DB, audit *models.GradeAudit) error {
	r.parent.calls++
	if r.parent.calls == r.parent.failOn {
		return errors.New("disk full")
	}
	return r.GradeAuditRepository.Create(ctx, tx, audit)
}

func TestGradingService_BatchIsAllOrNothing(t *testing.T) {
	env := newTestEnv(t)
	p := env.createPhysicsExam(t)
	first := env.addQuestion(t, p.exam.ID, models.QuestionLong, 10)
	second := env.addQuestion(t, p.exam.ID, models.QuestionLong, 10)

	attempt, err := env.svc.Session.Enroll(env.ctx, env.student, p.exam.ID)
	require.NoError(t, err)
	_, err = env.svc.Session.AccessAttempt(env.ctx, env.student, attempt.ID)
	require.NoError(t, err)
	attempt, err = env.svc.Session.Submit(env.ctx, env.student, attempt.ID, models.FinishManual)
	require.NoError(t, err)

	responses, err := env.repo.Response().ListByAttempt(env.ctx, nil, attempt.ID)
	require.NoError(t, err)
	byQ := make(map[uint]uint, len(responses))
	for _, r := range responses {
		byQ[r.QuestionID] = r.ID
	}

	grader := NewGradingService(Dependencies{
		Repo:      &auditFailingRepo{Repository: env.repo, failOn: 2},
		Publisher: env.publisher,
		Logger:    utils.NewNopLogger(),
	}, env.svc.Session, WithClock(env.clock.Now))

	_, err = grader.RecordManualGrades(env.ctx, env.teacher, attempt.ID, []GradeEntry{
		{ResponseID: byQ[first.ID], Marks: "6"},
		{ResponseID: byQ[second.ID], Marks: "7"},
	})
	require.Error(t, err)

	// The first entry was rolled back with the failing one
	stored, err := env.repo.Response().GetByID(env.ctx, nil, byQ[first.ID])
	require.NoError(t, err)
	assert.False(t, stored.Evaluated)
	audits, err := env.repo.GradeAudit().ListByResponse(env.ctx, nil, byQ[first.ID])
	require.NoError(t, err)
	assert.Empty(t, audits)

	// A retry grades both
	result, err := env.svc.Grading.RecordManualGrades(env.ctx, env.teacher, attempt.ID, []GradeEntry{
		{ResponseID: byQ[first.ID], Marks: "6"},
		{ResponseID: byQ[second.ID], Marks: "7"},
	})
	require.NoError(t, err)
	assert.Len(t, result.Accepted, 2)
}

func TestGradingService_OpenResponseFile(t *testing.T) {
	env := newTestEnv(t)
	p := env.createPhysicsExam(t)
	file := env.addQuestion(t, p.exam.ID, models.QuestionFile, 5)

	attempt, err := env.svc.Session.Enroll(env.ctx, env.student, p.exam.ID)
	require.NoError(t, err)
	uploaded, err := env.svc.Session.UploadResponseFile(env.ctx, env.student, attempt.ID, file.ID, "essay.pdf", strings.NewReader("%PDF-1.4 essay"))
	require.NoError(t, err)

	f, err := env.svc.Grading.OpenResponseFile(env.ctx, env.teacher, uploaded.ID)
	require.NoError(t, err)
	content, err := io.ReadAll(f.Body)
	f.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 essay", string(content))
	assert.Equal(t, fmt.Sprintf("attempt_%d_question_%d.pdf", attempt.ID, file.ID), f.Name)

	_, err = env.svc.Grading.OpenResponseFile(env.ctx, env.other, uploaded.ID)
	assert.ErrorIs(t, err, ErrResponseNotFound)

	_, err = env.svc.Grading.OpenResponseFile(env.ctx, env.student, uploaded.ID)
	assert.True(t, IsUnauthorized(err))

	text, err := env.svc.Session.RecordResponse(env.ctx, env.student, attempt.ID, ResponsePayload{QuestionID: p.short.ID, AnswerText: strPtr("hooke")})
	require.NoError(t, err)
	_, err = env.svc.Grading.OpenResponseFile(env.ctx, env.teacher, text.ID)
	assert.ErrorIs(t, err, ErrUploadNotFound)
	assert.True(t, IsNotFound(err))
}
