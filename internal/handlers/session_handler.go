package handlers

import (
	"errors"
	"net/http"

	"github.com/SAP-F-2025/exam-service/internal/models"
	"github.com/SAP-F-2025/exam-service/internal/services"
	"github.com/SAP-F-2025/exam-service/internal/utils"
	"github.com/gin-gonic/gin"
)

type SessionHandler struct {
	BaseHandler
	sessionService services.SessionService
}

// RecordResponsesRequest saves one or more answers in a single call
type RecordResponsesRequest struct {
	Responses []services.ResponsePayload `json:"responses"`
}

func NewSessionHandler(
	sessionService services.SessionService,
	logger utils.Logger,
) *SessionHandler {
	return &SessionHandler{
		BaseHandler:    NewBaseHandler(logger),
		sessionService: sessionService,
	}
}

// Dashboard shows the caller's role-specific landing view
// @Summary Dashboard
// @Tags session
// @Produce json
// @Param subject query string false "Subject name filter"
// @Success 200 {object} services.Dashboard
// @Router /dashboard [get]
func (h *SessionHandler) Dashboard(c *gin.Context) {
	principal, ok := h.principal(c)
	if !ok {
		return
	}

	dashboard, err := h.sessionService.Dashboard(c.Request.Context(), principal, c.Query("subject"))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, dashboard)
}

// Enroll joins the caller to an exam. Repeated calls return the same attempt.
// @Summary Enroll in exam
// @Tags session
// @Produce json
// @Param id path uint true "Exam ID"
// @Success 200 {object} models.Attempt
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /exams/{id}/enroll [post]
func (h *SessionHandler) Enroll(c *gin.Context) {
	examID := parseIDParam(c, "id")
	if examID == 0 {
		return
	}
	principal, ok := h.principal(c)
	if !ok {
		return
	}

	attempt, err := h.sessionService.Enroll(c.Request.Context(), principal, examID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, attempt)
}

// TakeExam returns the exam paper and remaining time, starting the clock on first access
// @Summary Take exam
// @Tags session
// @Produce json
// @Param id path uint true "Attempt ID"
// @Success 200 {object} services.AccessResult
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /attempts/{id}/take [get]
func (h *SessionHandler) TakeExam(c *gin.Context) {
	attemptID := parseIDParam(c, "id")
	if attemptID == 0 {
		return
	}
	principal, ok := h.principal(c)
	if !ok {
		return
	}

	result, err := h.sessionService.AccessAttempt(c.Request.Context(), principal, attemptID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// RecordResponses saves answers without submitting
// @Summary Record responses
// @Tags session
// @Accept json
// @Produce json
// @Param id path uint true "Attempt ID"
// @Param responses body RecordResponsesRequest true "Answers"
// @Success 200 {array} models.Response
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /attempts/{id}/responses [post]
func (h *SessionHandler) RecordResponses(c *gin.Context) {
	attemptID := parseIDParam(c, "id")
	if attemptID == 0 {
		return
	}
	principal, ok := h.principal(c)
	if !ok {
		return
	}

	var req RecordResponsesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}
	if len(req.Responses) == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Validation failed",
			Details: "responses cannot be empty",
		})
		return
	}

	saved, err := h.sessionService.RecordResponses(c.Request.Context(), principal, attemptID, req.Responses)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, saved)
}

// UploadFile stores the answer file for a file question
// @Summary Upload answer file
// @Tags session
// @Accept multipart/form-data
// @Produce json
// @Param id path uint true "Attempt ID"
// @Param question_id path uint true "Question ID"
// @Param file formData file true "Answer file"
// @Success 200 {object} models.Response
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /attempts/{id}/responses/{question_id}/file [post]
func (h *SessionHandler) UploadFile(c *gin.Context) {
	attemptID := parseIDParam(c, "id")
	if attemptID == 0 {
		return
	}
	questionID := parseIDParam(c, "question_id")
	if questionID == 0 {
		return
	}
	principal, ok := h.principal(c)
	if !ok {
		return
	}

	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "File is required",
			Details: err.Error(),
		})
		return
	}
	file, err := header.Open()
	if err != nil {
		h.LogError(c, err, "Failed to open upload")
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Unable to read file",
		})
		return
	}
	defer file.Close()

	h.LogRequest(c, "Uploading answer file", "attempt_id", attemptID, "question_id", questionID, "size", header.Size)

	response, err := h.sessionService.UploadResponseFile(c.Request.Context(), principal, attemptID, questionID, header.Filename, file)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, response)
}

// Submit saves any final answers and finishes the attempt
// @Summary Submit attempt
// @Tags session
// @Accept json
// @Produce json
// @Param id path uint true "Attempt ID"
// @Param responses body RecordResponsesRequest false "Final answers"
// @Success 200 {object} models.Attempt
// @Failure 404 {object} ErrorResponse
// @Router /attempts/{id}/submit [post]
func (h *SessionHandler) Submit(c *gin.Context) {
	attemptID := parseIDParam(c, "id")
	if attemptID == 0 {
		return
	}
	principal, ok := h.principal(c)
	if !ok {
		return
	}

	var req RecordResponsesRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Message: "Invalid request payload",
				Details: err.Error(),
			})
			return
		}
	}

	h.LogRequest(c, "Submitting attempt", "attempt_id", attemptID, "answers", len(req.Responses))

	if len(req.Responses) > 0 {
		// A deadline passing here still lets the submit below report the result
		_, err := h.sessionService.RecordResponses(c.Request.Context(), principal, attemptID, req.Responses)
		if err != nil && !errors.Is(err, services.ErrAttemptFinished) {
			h.handleServiceError(c, err)
			return
		}
	}

	attempt, err := h.sessionService.Submit(c.Request.Context(), principal, attemptID, models.FinishManual)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, attempt)
}

// Result shows a finished attempt with its score breakdown
// @Summary Attempt result
// @Tags session
// @Produce json
// @Param id path uint true "Attempt ID"
// @Success 200 {object} services.AttemptResult
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /attempts/{id}/result [get]
func (h *SessionHandler) Result(c *gin.Context) {
	attemptID := parseIDParam(c, "id")
	if attemptID == 0 {
		return
	}
	principal, ok := h.principal(c)
	if !ok {
		return
	}

	result, err := h.sessionService.Result(c.Request.Context(), principal, attemptID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
