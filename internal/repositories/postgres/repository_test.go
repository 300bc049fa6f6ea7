package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/SAP-F-2025/exam-service/internal/models"
	"github.com/SAP-F-2025/exam-service/internal/repositories"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestRepo(t *testing.T) repositories.Repository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?_pragma=foreign_keys(1)"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(models.AllModels()...))
	t.Cleanup(func() { sqlDB.Close() })
	return NewRepository(db)
}

type fixture struct {
	teacher *models.User
	student *models.User
	exam    *models.Exam
	mcq     *models.Question
	long    *models.Question
	rightID uint
	wrongID uint
}

func seed(t *testing.T, repo repositories.Repository) fixture {
	t.Helper()
	ctx := context.Background()

	teacher := &models.User{Username: "t1", FullName: "Teacher One", Role: models.RoleTeacher}
	student := &models.User{Username: "s1", FullName: "Student One", Role: models.RoleStudent}
	require.NoError(t, repo.User().Create(ctx, nil, teacher))
	require.NoError(t, repo.User().Create(ctx, nil, student))

	subject := &models.Subject{Name: "Mathematics"}
	require.NoError(t, repo.Subject().Create(ctx, nil, subject))

	exam := &models.Exam{TeacherID: teacher.ID, SubjectID: subject.ID, Title: "Algebra", StartTime: time.Now(), DurationMinutes: 30}
	require.NoError(t, repo.Exam().Create(ctx, nil, exam))

	mcq := &models.Question{ExamID: exam.ID, Type: models.QuestionMCQ, Text: "2+2", Marks: 2, Choices: []models.Choice{
		{Text: "3"}, {Text: "4", IsCorrect: true},
	}}
	require.NoError(t, repo.Question().Create(ctx, nil, mcq))
	long := &models.Question{ExamID: exam.ID, Type: models.QuestionLong, Text: "Explain", Marks: 5}
	require.NoError(t, repo.Question().Create(ctx, nil, long))

	return fixture{
		teacher: teacher, student: student, exam: exam, mcq: mcq, long: long,
		wrongID: mcq.Choices[0].ID, rightID: mcq.Choices[1].ID,
	}
}

func TestAttemptRepository_GetOrCreateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	f := seed(t, repo)

	first, created, err := repo.Attempt().GetOrCreate(ctx, nil, f.student.ID, f.exam.ID, time.Now())
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := repo.Attempt().GetOrCreate(ctx, nil, f.student.ID, f.exam.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
}

func TestAttemptRepository_ConditionalTransitions(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	f := seed(t, repo)

	attempt, _, err := repo.Attempt().GetOrCreate(ctx, nil, f.student.ID, f.exam.ID, time.Now())
	require.NoError(t, err)

	start := time.Now().Add(-time.Minute).Truncate(time.Second)
	ok, err := repo.Attempt().MarkStarted(ctx, nil, attempt.ID, start)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Attempt().MarkStarted(ctx, nil, attempt.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	expirable, err := repo.Attempt().ListExpirable(ctx, nil)
	require.NoError(t, err)
	require.Len(t, expirable, 1)
	require.NotNil(t, expirable[0].Exam)

	ok, err = repo.Attempt().Finish(ctx, nil, attempt.ID, time.Now(), models.FinishManual)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Attempt().Finish(ctx, nil, attempt.ID, time.Now(), models.FinishDeadline)
	require.NoError(t, err)
	assert.False(t, ok)

	stored, err := repo.Attempt().GetByID(ctx, nil, attempt.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsFinished)
	require.NotNil(t, stored.FinishReason)
	assert.Equal(t, models.FinishManual, *stored.FinishReason)
	assert.True(t, stored.StartedAt.Equal(start))

	err = repo.WithTransaction(ctx, func(tx *gorm.DB) error {
		locked, err := repo.Attempt().GetForUpdate(ctx, tx, attempt.ID)
		if err != nil {
			return err
		}
		assert.True(t, locked.IsFinished)
		return nil
	})
	require.NoError(t, err)
}

func TestResponseRepository_UpsertAndPending(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	f := seed(t, repo)

	attempt, _, err := repo.Attempt().GetOrCreate(ctx, nil, f.student.ID, f.exam.ID, time.Now())
	require.NoError(t, err)

	text := "first"
	resp := &models.Response{AttemptID: attempt.ID, QuestionID: f.long.ID, AnswerText: &text}
	require.NoError(t, repo.Response().Upsert(ctx, nil, resp))
	firstID := resp.ID

	text2 := "second"
	resp = &models.Response{AttemptID: attempt.ID, QuestionID: f.long.ID, AnswerText: &text2}
	require.NoError(t, repo.Response().Upsert(ctx, nil, resp))
	assert.Equal(t, firstID, resp.ID)
	require.NotNil(t, resp.AnswerText)
	assert.Equal(t, "second", *resp.AnswerText)

	require.NoError(t, repo.Response().CreateMissing(ctx, nil, attempt.ID, []uint{f.mcq.ID, f.long.ID}))
	all, err := repo.Response().ListByAttempt(ctx, nil, attempt.ID)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	// pending only counts finished attempts
	pending, err := repo.Response().ListPendingByExam(ctx, nil, f.exam.ID)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = repo.Attempt().Finish(ctx, nil, attempt.ID, time.Now(), models.FinishManual)
	require.NoError(t, err)

	pending, err = repo.Response().ListPendingByExam(ctx, nil, f.exam.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, f.long.ID, pending[0].QuestionID)
	require.NotNil(t, pending[0].Attempt)
	require.NotNil(t, pending[0].Attempt.Student)

	count, err := repo.Response().CountPending(ctx, nil, attempt.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	now := time.Now()
	ok, err := repo.Response().SetMarks(ctx, nil, pending[0].ID, 4, &f.teacher.ID, &now)
	require.NoError(t, err)
	assert.True(t, ok)
	count, err = repo.Response().CountPending(ctx, nil, attempt.ID)
	require.NoError(t, err)
	assert.Zero(t, count)

	// Evaluated responses are never rewritten
	ok, err = repo.Response().SetMarks(ctx, nil, pending[0].ID, 0, &f.teacher.ID, &now)
	require.NoError(t, err)
	assert.False(t, ok)
	stored, err := repo.Response().GetByID(ctx, nil, pending[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 4.0, stored.MarksObtained)
}

func TestExamRepository_ListFilters(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	f := seed(t, repo)

	history := &models.Subject{Name: "History"}
	require.NoError(t, repo.Subject().Create(ctx, nil, history))
	other := &models.Exam{TeacherID: f.teacher.ID, SubjectID: history.ID, Title: "Rome", StartTime: time.Now(), DurationMinutes: 10}
	require.NoError(t, repo.Exam().Create(ctx, nil, other))

	exams, total, err := repo.Exam().List(ctx, nil, repositories.ExamFilters{SubjectQuery: "MATH"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Equal(t, f.exam.ID, exams[0].ID)

	_, _, err = repo.Attempt().GetOrCreate(ctx, nil, f.student.ID, f.exam.ID, time.Now())
	require.NoError(t, err)

	exams, _, err = repo.Exam().List(ctx, nil, repositories.ExamFilters{NotEnrolledBy: &f.student.ID})
	require.NoError(t, err)
	require.Len(t, exams, 1)
	assert.Equal(t, other.ID, exams[0].ID)
}

func TestQuestionRepository_ReplaceChoicesAndCascade(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	f := seed(t, repo)

	require.NoError(t, repo.Question().ReplaceChoices(ctx, nil, f.mcq.ID, []models.Choice{
		{Text: "five"}, {Text: "four", IsCorrect: true}, {Text: "six"},
	}))
	q, err := repo.Question().GetByID(ctx, nil, f.mcq.ID)
	require.NoError(t, err)
	assert.Len(t, q.Choices, 3)

	_, err = repo.Question().GetChoice(ctx, nil, f.rightID)
	assert.True(t, repositories.IsNotFoundError(err))

	require.NoError(t, repo.Exam().Delete(ctx, nil, f.exam.ID))
	questions, err := repo.Question().ListByExam(ctx, nil, f.exam.ID)
	require.NoError(t, err)
	assert.Empty(t, questions)

	assert.True(t, repositories.IsNotFoundError(repo.Exam().Delete(ctx, nil, f.exam.ID)))
}
