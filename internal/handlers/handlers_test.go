package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/SAP-F-2025/exam-service/internal/auth"
	"github.com/SAP-F-2025/exam-service/internal/models"
	"github.com/SAP-F-2025/exam-service/internal/repositories/postgres"
	"github.com/SAP-F-2025/exam-service/internal/services"
	"github.com/SAP-F-2025/exam-service/internal/storage"
	"github.com/SAP-F-2025/exam-service/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type apiTest struct {
	t       *testing.T
	router  *gin.Engine
	tokens  *auth.TokenManager
	users   map[string]*models.User
	svc     *services.ServiceManager
	subject uint
}

func newAPITest(t *testing.T) *apiTest {
	t.Helper()
	gin.SetMode(gin.TestMode)

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

	store, err := storage.NewLocalStore(t.TempDir(), 1<<20)
	require.NoError(t, err)

	repo := postgres.NewRepository(db)
	log := utils.NewNopLogger()
	svc := services.NewServiceManager(services.Dependencies{Repo: repo, Storage: store, Logger: log})

	tokens, err := auth.NewTokenManager("test-secret", time.Hour)
	require.NoError(t, err)

	hm := NewHandlerManager(svc, tokens, func() error { return repo.Ping(context.Background()) }, log)
	api := &apiTest{
		t:      t,
		router: NewRouter(hm, log, 1<<20),
		tokens: tokens,
		users:  map[string]*models.User{},
		svc:    svc,
	}

	for name, role := range map[string]models.UserRole{
		"teacher": models.RoleTeacher, "teacher2": models.RoleTeacher,
		"student": models.RoleStudent, "student2": models.RoleStudent,
	} {
		user, err := svc.User.Create(context.Background(), &services.CreateUserRequest{Username: name, Role: role})
		require.NoError(t, err)
		api.users[name] = user
	}

	var subject models.Subject
	api.doJSON("teacher", http.MethodPost, "/api/v1/subjects", map[string]string{"name": "History"}, http.StatusCreated, &subject)
	api.subject = subject.ID
	return api
}

func (a *apiTest) request(user string, req *http.Request) *httptest.ResponseRecorder {
	if user != "" {
		token, err := a.tokens.Issue(a.users[user])
		require.NoError(a.t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

// doJSON sends body as JSON, asserts the status and decodes the reply into out.
func (a *apiTest) doJSON(user, method, path string, body interface{}, status int, out interface{}) *httptest.ResponseRecorder {
	a.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(a.t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := a.request(user, req)
	require.Equal(a.t, status, w.Code, w.Body.String())
	if out != nil {
		require.NoError(a.t, json.Unmarshal(w.Body.Bytes(), out))
	}
	return w
}

type apiExam struct {
	id      uint
	mcq     models.Question
	essay   models.Question
	file    models.Question
	correct uint
}

func (a *apiTest) createExam() apiExam {
	a.t.Helper()
	var exam models.Exam
	a.doJSON("teacher", http.MethodPost, "/api/v1/exams", map[string]interface{}{
		"subject_id":       a.subject,
		"title":            "Revolutions",
		"start_time":       time.Now().UTC().Format(time.RFC3339),
		"duration_minutes": 45,
	}, http.StatusCreated, &exam)

	e := apiExam{id: exam.ID}
	path := fmt.Sprintf("/api/v1/exams/%d/questions", exam.ID)
	a.doJSON("teacher", http.MethodPost, path, map[string]interface{}{
		"type": "mcq", "text": "Year of the storming of the Bastille?", "marks": 2,
		"choices": []map[string]interface{}{{"text": "1789", "is_correct": true}, {"text": "1815"}},
	}, http.StatusCreated, &e.mcq)
	a.doJSON("teacher", http.MethodPost, path, map[string]interface{}{
		"type": "long", "text": "Discuss the causes", "marks": 10,
	}, http.StatusCreated, &e.essay)
	a.doJSON("teacher", http.MethodPost, path, map[string]interface{}{
		"type": "file", "text": "Upload your map", "marks": 5,
	}, http.StatusCreated, &e.file)
	e.correct = e.mcq.Choices[0].ID
	return e
}

func TestRouter_HealthAndAuth(t *testing.T) {
	api := newAPITest(t)

	w := api.request("", httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(utils.RequestIDHeader))

	w = api.request("", httptest.NewRequest(http.MethodGet, "/api/v1/dashboard", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/dashboard", nil)
	req.Header.Set("Authorization", "Bearer nope")
	w = api.request("", req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRouter_RoleChecksRedirectToDashboard(t *testing.T) {
	api := newAPITest(t)
	exam := api.createExam()

	var errResp ErrorResponse
	api.doJSON("student", http.MethodPost, "/api/v1/exams", map[string]interface{}{"title": "x"}, http.StatusForbidden, &errResp)
	assert.Equal(t, DashboardPath, errResp.Redirect)

	api.doJSON("teacher", http.MethodPost, fmt.Sprintf("/api/v1/exams/%d/enroll", exam.id), nil, http.StatusForbidden, &errResp)
	assert.Equal(t, DashboardPath, errResp.Redirect)

	// Another teacher cannot see the exam at all
	api.doJSON("teacher2", http.MethodGet, fmt.Sprintf("/api/v1/exams/%d", exam.id), nil, http.StatusNotFound, nil)
}

func TestRouter_ExamLifecycle(t *testing.T) {
	api := newAPITest(t)
	exam := api.createExam()

	var attempt models.Attempt
	api.doJSON("student", http.MethodPost, fmt.Sprintf("/api/v1/exams/%d/enroll", exam.id), nil, http.StatusOK, &attempt)
	base := fmt.Sprintf("/api/v1/attempts/%d", attempt.ID)

	var access services.AccessResult
	api.doJSON("student", http.MethodGet, base+"/take", nil, http.StatusOK, &access)
	require.NotNil(t, access.Paper)
	assert.Len(t, access.Paper.Questions, 3)
	assert.Equal(t, 45*60, access.RemainingSeconds)

	// Another student sees nothing
	api.doJSON("student2", http.MethodGet, base+"/take", nil, http.StatusNotFound, nil)

	var saved []models.Response
	api.doJSON("student", http.MethodPost, base+"/responses", map[string]interface{}{
		"responses": []map[string]interface{}{
			{"question_id": exam.mcq.ID, "selected_choice_id": exam.correct},
		},
	}, http.StatusOK, &saved)
	require.Len(t, saved, 1)

	// File upload
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "map.png")
	require.NoError(t, err)
	_, err = part.Write([]byte("png-bytes"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("%s/responses/%d/file", base, exam.file.ID), &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := api.request("student", req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Result is not available before submission
	api.doJSON("student", http.MethodGet, base+"/result", nil, http.StatusConflict, nil)

	var finished models.Attempt
	api.doJSON("student", http.MethodPost, base+"/submit", map[string]interface{}{
		"responses": []map[string]interface{}{
			{"question_id": exam.essay.ID, "answer_text": "Debt and bread prices"},
		},
	}, http.StatusOK, &finished)
	assert.True(t, finished.IsFinished)
	assert.Equal(t, 2.0, finished.Score)

	// Taking a finished attempt sends the student back to the dashboard
	var refused ErrorResponse
	api.doJSON("student", http.MethodGet, base+"/take", nil, http.StatusForbidden, &refused)
	assert.Equal(t, DashboardPath, refused.Redirect)

	// Answers after submission are rejected
	api.doJSON("student", http.MethodPost, base+"/responses", map[string]interface{}{
		"responses": []map[string]interface{}{{"question_id": exam.mcq.ID}},
	}, http.StatusConflict, nil)

	// Grading
	var pending []services.PendingResponse
	api.doJSON("teacher", http.MethodGet, fmt.Sprintf("/api/v1/grading/exams/%d/pending", exam.id), nil, http.StatusOK, &pending)
	require.Len(t, pending, 2)
	byQuestion := map[uint]uint{}
	for _, p := range pending {
		byQuestion[p.QuestionID] = p.ResponseID
	}

	// The teacher can read the uploaded answer before grading it
	filePath := fmt.Sprintf("/api/v1/grading/responses/%d/file", byQuestion[exam.file.ID])
	w = api.request("teacher", httptest.NewRequest(http.MethodGet, filePath, nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "png-bytes", w.Body.String())
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), ".png")
	assert.Equal(t, http.StatusNotFound, api.request("teacher2", httptest.NewRequest(http.MethodGet, filePath, nil)).Code)
	assert.Equal(t, http.StatusForbidden, api.request("student", httptest.NewRequest(http.MethodGet, filePath, nil)).Code)
	api.doJSON("teacher", http.MethodGet, fmt.Sprintf("/api/v1/grading/responses/%d/file", byQuestion[exam.essay.ID]), nil, http.StatusNotFound, nil)

	var graded models.Response
	api.doJSON("teacher", http.MethodPost, fmt.Sprintf("/api/v1/grading/responses/%d", byQuestion[exam.essay.ID]),
		map[string]interface{}{"marks": 12}, http.StatusOK, &graded)
	assert.Equal(t, 10.0, graded.MarksObtained)

	// A graded response is final
	api.doJSON("teacher", http.MethodPost, fmt.Sprintf("/api/v1/grading/responses/%d", byQuestion[exam.essay.ID]),
		map[string]interface{}{"marks": 1}, http.StatusConflict, nil)

	form := url.Values{}
	form.Set(fmt.Sprintf("marks_%d", byQuestion[exam.file.ID]), "4")
	req = httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/v1/grading/attempts/%d", attempt.ID), strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w = api.request("teacher", req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var batch services.BatchGradeResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &batch))
	assert.Equal(t, 16.0, batch.Score)
	assert.Equal(t, 0, batch.Breakdown.Pending)

	var result services.AttemptResult
	api.doJSON("student", http.MethodGet, base+"/result", nil, http.StatusOK, &result)
	assert.Equal(t, 16.0, result.Attempt.Score)
	assert.Equal(t, 2.0, result.Breakdown.Automatic)
	assert.Equal(t, 14.0, result.Breakdown.Manual)

	// Export
	w = api.request("teacher", httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/exams/%d/results.xlsx", exam.id), nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, xlsxContentType, w.Header().Get("Content-Type"))
	assert.NotZero(t, w.Body.Len())
}

func TestGradingHandler_BatchReportsBadEntries(t *testing.T) {
	api := newAPITest(t)
	exam := api.createExam()

	var attempt models.Attempt
	api.doJSON("student", http.MethodPost, fmt.Sprintf("/api/v1/exams/%d/enroll", exam.id), nil, http.StatusOK, &attempt)
	api.doJSON("student", http.MethodPost, fmt.Sprintf("/api/v1/attempts/%d/submit", attempt.ID), nil, http.StatusOK, nil)

	var pending []services.PendingResponse
	api.doJSON("teacher", http.MethodGet, fmt.Sprintf("/api/v1/grading/exams/%d/pending", exam.id), nil, http.StatusOK, &pending)
	require.Len(t, pending, 2)

	var batch services.BatchGradeResult
	api.doJSON("teacher", http.MethodPost, fmt.Sprintf("/api/v1/grading/attempts/%d", attempt.ID), map[string]interface{}{
		"grades": []map[string]interface{}{
			{"response_id": pending[0].ResponseID, "marks": 3},
			{"response_id": pending[1].ResponseID, "marks": "lots"},
		},
	}, http.StatusOK, &batch)

	assert.Len(t, batch.Accepted, 1)
	require.Len(t, batch.Errors, 1)
	assert.Equal(t, fmt.Sprintf("marks_%d", pending[1].ResponseID), batch.Errors[0].Field)
	assert.Equal(t, 3.0, batch.Score)
}

func TestFormGradeEntries(t *testing.T) {
	entries := formGradeEntries(map[string][]string{
		"marks_7":   {"2"},
		"marks_3":   {""},
		"csrf":      {"x"},
		"marks_abc": {"1"},
	})
	require.Len(t, entries, 2)
	assert.Equal(t, uint(3), entries[0].ResponseID)
	assert.Equal(t, uint(7), entries[1].ResponseID)
	assert.Equal(t, "2", entries[1].Marks)
}

func TestRawMark(t *testing.T) {
	assert.Equal(t, "3.5", rawMark(json.RawMessage(`3.5`)))
	assert.Equal(t, "abc", rawMark(json.RawMessage(`"abc"`)))
	assert.Equal(t, "", rawMark(json.RawMessage(`null`)))
	assert.Equal(t, "", rawMark(nil))
}
