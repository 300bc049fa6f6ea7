package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/SAP-F-2025/exam-service/internal/events"
	"github.com/SAP-F-2025/exam-service/internal/models"
	"github.com/SAP-F-2025/exam-service/internal/repositories"
	"github.com/SAP-F-2025/exam-service/internal/repositories/postgres"
	"github.com/SAP-F-2025/exam-service/internal/storage"
	"github.com/SAP-F-2025/exam-service/internal/utils"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	ctx       context.Context
	repo      repositories.Repository
	svc       *ServiceManager
	publisher *events.MockEventPublisher
	store     *storage.LocalStore
	clock     *testClock

	teacher models.Principal
	other   models.Principal
	student models.Principal
	second  models.Principal

	subject *models.Subject
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?_pragma=foreign_keys(1)"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(models.AllModels()...))
	t.Cleanup(func() { sqlDB.Close() })

	store, err := storage.NewLocalStore(t.TempDir(), 1024)
	require.NoError(t, err)

	env := &testEnv{
		ctx:       context.Background(),
		repo:      postgres.NewRepository(db),
		publisher: events.NewMockEventPublisher(slog.New(slog.NewTextHandler(io.Discard, nil))),
		store:     store,
		clock:     &testClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)},
	}
	env.svc = NewServiceManager(Dependencies{
		Repo:      env.repo,
		Publisher: env.publisher,
		Storage:   store,
		Logger:    utils.NewNopLogger(),
	}, WithClock(env.clock.Now))

	env.teacher = env.addUser(t, "teacher", models.RoleTeacher)
	env.other = env.addUser(t, "teacher2", models.RoleTeacher)
	env.student = env.addUser(t, "student", models.RoleStudent)
	env.second = env.addUser(t, "student2", models.RoleStudent)

	env.subject, err = env.svc.Exam.CreateSubject(env.ctx, env.teacher, &CreateSubjectRequest{Name: "Physics"})
	require.NoError(t, err)

	return env
}

func (e *testEnv) addUser(t *testing.T, username string, role models.UserRole) models.Principal {
	t.Helper()
	user, err := e.svc.User.Create(e.ctx, &CreateUserRequest{Username: username, FullName: username + " name", Role: role})
	require.NoError(t, err)
	return models.Principal{UserID: user.ID, Role: role}
}

// physicsExam is a 60 minute exam with a 2 mark mcq and a 3 mark short
// question whose model answer is "newton".
type physicsExam struct {
	exam      *models.Exam
	mcq       *models.Question
	short     *models.Question
	correctID uint
	wrongID   uint
}

func (e *testEnv) createPhysicsExam(t *testing.T) physicsExam {
	t.Helper()

	exam, err := e.svc.Exam.CreateExam(e.ctx, e.teacher, &ExamRequest{
		SubjectID:       e.subject.ID,
		Title:           "Mechanics",
		StartTime:       e.clock.Now(),
		DurationMinutes: 60,
		TotalScore:      5,
	})
	require.NoError(t, err)

	mcq, err := e.svc.Exam.AddQuestion(e.ctx, e.teacher, exam.ID, &QuestionRequest{
		Type:  models.QuestionMCQ,
		Text:  "Unit of force?",
		Marks: 2,
		Choices: []ChoiceRequest{
			{Text: "Newton", IsCorrect: true},
			{Text: "Joule"},
		},
	})
	require.NoError(t, err)

	model := "newton"
	short, err := e.svc.Exam.AddQuestion(e.ctx, e.teacher, exam.ID, &QuestionRequest{
		Type:        models.QuestionShort,
		Text:        "Whose laws of motion?",
		Marks:       3,
		ModelAnswer: &model,
	})
	require.NoError(t, err)

	return physicsExam{
		exam:      exam,
		mcq:       mcq,
		short:     short,
		correctID: mcq.Choices[0].ID,
		wrongID:   mcq.Choices[1].ID,
	}
}

func (e *testEnv) addQuestion(t *testing.T, examID uint, qtype models.QuestionType, marks int) *models.Question {
	t.Helper()
	q, err := e.svc.Exam.AddQuestion(e.ctx, e.teacher, examID, &QuestionRequest{Type: qtype, Text: string(qtype) + " question", Marks: marks})
	require.NoError(t, err)
	return q
}

func strPtr(s string) *string { return &s }

func uintPtr(v uint) *uint { return &v }
