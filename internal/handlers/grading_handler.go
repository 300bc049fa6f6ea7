package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/SAP-F-2025/exam-service/internal/services"
	"github.com/SAP-F-2025/exam-service/internal/utils"
	"github.com/gin-gonic/gin"
)

const marksFieldPrefix = "marks_"

type GradingHandler struct {
	BaseHandler
	gradingService services.GradingService
}

type GradeResponseRequest struct {
	Marks *float64 `json:"marks"`
}

// GradeAttemptRequest carries raw marks so malformed entries are reported per field.
// Marks may be sent as JSON numbers or strings.
type GradeAttemptRequest struct {
	Grades []struct {
		ResponseID uint            `json:"response_id"`
		Marks      json.RawMessage `json:"marks"`
	} `json:"grades"`
}

func NewGradingHandler(
	gradingService services.GradingService,
	logger utils.Logger,
) *GradingHandler {
	return &GradingHandler{
		BaseHandler:    NewBaseHandler(logger),
		gradingService: gradingService,
	}
}

// ListPending lists responses waiting for a teacher
// @Summary Pending responses
// @Tags grading
// @Produce json
// @Param id path uint true "Exam ID"
// @Success 200 {array} services.PendingResponse
// @Failure 404 {object} ErrorResponse
// @Router /grading/exams/{id}/pending [get]
func (h *GradingHandler) ListPending(c *gin.Context) {
	examID := parseIDParam(c, "id")
	if examID == 0 {
		return
	}
	principal, ok := h.principal(c)
	if !ok {
		return
	}

	pending, err := h.gradingService.ListPending(c.Request.Context(), principal, examID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, pending)
}

// GradeResponse grades a single response manually
// @Summary Grade response
// @Description Stores a manual mark, clamped to the question's marks
// @Tags grading
// @Accept json
// @Produce json
// @Param id path uint true "Response ID"
// @Param grade body GradeResponseRequest true "Mark"
// @Success 200 {object} models.Response
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /grading/responses/{id} [post]
func (h *GradingHandler) GradeResponse(c *gin.Context) {
	responseID := parseIDParam(c, "id")
	if responseID == 0 {
		return
	}
	principal, ok := h.principal(c)
	if !ok {
		return
	}

	var req GradeResponseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}
	if req.Marks == nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Validation failed",
			Details: "marks is required",
		})
		return
	}

	h.LogRequest(c, "Grading response", "response_id", responseID)

	response, err := h.gradingService.RecordManualGrade(c.Request.Context(), principal, responseID, *req.Marks)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, response)
}

// GradeAttempt grades several responses of one attempt and re-aggregates the score.
// Accepts JSON or a form with marks_<response_id> fields.
// @Summary Grade attempt
// @Tags grading
// @Accept json
// @Accept x-www-form-urlencoded
// @Produce json
// @Param id path uint true "Attempt ID"
// @Param grades body GradeAttemptRequest false "Marks"
// @Success 200 {object} services.BatchGradeResult
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /grading/attempts/{id} [post]
func (h *GradingHandler) GradeAttempt(c *gin.Context) {
	attemptID := parseIDParam(c, "id")
	if attemptID == 0 {
		return
	}
	principal, ok := h.principal(c)
	if !ok {
		return
	}

	entries, err := h.gradeEntries(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	h.LogRequest(c, "Grading attempt", "attempt_id", attemptID, "entries", len(entries))

	result, err := h.gradingService.RecordManualGrades(c.Request.Context(), principal, attemptID, entries)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// RefreshScore re-aggregates an attempt's score
// @Summary Refresh score
// @Tags grading
// @Produce json
// @Param id path uint true "Attempt ID"
// @Success 200 {object} models.Attempt
// @Failure 404 {object} ErrorResponse
// @Router /grading/attempts/{id}/refresh [post]
func (h *GradingHandler) RefreshScore(c *gin.Context) {
	attemptID := parseIDParam(c, "id")
	if attemptID == 0 {
		return
	}
	principal, ok := h.principal(c)
	if !ok {
		return
	}

	attempt, err := h.gradingService.RefreshScore(c.Request.Context(), principal, attemptID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, attempt)
}

// gradeEntries reads marks from a JSON body or from marks_<id> form fields
func (h *GradingHandler) gradeEntries(c *gin.Context) ([]services.GradeEntry, error) {
	if c.ContentType() == gin.MIMEPOSTForm || c.ContentType() == gin.MIMEMultipartPOSTForm {
		if c.ContentType() == gin.MIMEMultipartPOSTForm {
			if err := c.Request.ParseMultipartForm(1 << 20); err != nil {
				return nil, err
			}
		} else if err := c.Request.ParseForm(); err != nil {
			return nil, err
		}
		return formGradeEntries(c.Request.PostForm), nil
	}

	var req GradeAttemptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return nil, err
	}

	entries := make([]services.GradeEntry, 0, len(req.Grades))
	for _, g := range req.Grades {
		entries = append(entries, services.GradeEntry{ResponseID: g.ResponseID, Marks: rawMark(g.Marks)})
	}
	return entries, nil
}

func formGradeEntries(form map[string][]string) []services.GradeEntry {
	var entries []services.GradeEntry
	for key, values := range form {
		idStr, found := strings.CutPrefix(key, marksFieldPrefix)
		if !found || len(values) == 0 {
			continue
		}
		id, err := strconv.ParseUint(idStr, 10, 32)
		if err != nil {
			continue
		}
		entries = append(entries, services.GradeEntry{ResponseID: uint(id), Marks: values[0]})
	}

	// Stable order keeps error lists predictable
	sort.Slice(entries, func(i, j int) bool { return entries[i].ResponseID < entries[j].ResponseID })
	return entries
}

// rawMark unwraps a JSON string and passes numbers through as written
func rawMark(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// DownloadResponseFile streams a student's uploaded answer to the exam's teacher
// @Summary Download uploaded answer
// @Tags grading
// @Produce octet-stream
// @Param id path uint true "Response ID"
// @Success 200 {file} file
// @Failure 404 {object} ErrorResponse
// @Router /grading/responses/{id}/file [get]
func (h *GradingHandler) DownloadResponseFile(c *gin.Context) {
	responseID := parseIDParam(c, "id")
	if responseID == 0 {
		return
	}
	principal, ok := h.principal(c)
	if !ok {
		return
	}

	file, err := h.gradingService.OpenResponseFile(c.Request.Context(), principal, responseID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	defer file.Body.Close()

	contentType := mime.TypeByExtension(filepath.Ext(file.Name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	c.DataFromReader(http.StatusOK, -1, contentType, file.Body, map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", file.Name),
	})
}
