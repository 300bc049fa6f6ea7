package handlers

import (
	"net/http"

	"github.com/SAP-F-2025/exam-service/internal/auth"
	"github.com/SAP-F-2025/exam-service/internal/models"
	"github.com/SAP-F-2025/exam-service/internal/services"
	"github.com/SAP-F-2025/exam-service/internal/utils"
	"github.com/gin-gonic/gin"
)

type HandlerManager struct {
	examHandler     *ExamHandler
	questionHandler *QuestionHandler
	sessionHandler  *SessionHandler
	gradingHandler  *GradingHandler
	tokens          *auth.TokenManager
	health          func() error
}

func NewHandlerManager(
	serviceManager *services.ServiceManager,
	tokens *auth.TokenManager,
	health func() error,
	logger utils.Logger,
) *HandlerManager {
	return &HandlerManager{
		examHandler:     NewExamHandler(serviceManager.Exam, serviceManager.Export, logger),
		questionHandler: NewQuestionHandler(serviceManager.Exam, logger),
		sessionHandler:  NewSessionHandler(serviceManager.Session, logger),
		gradingHandler:  NewGradingHandler(serviceManager.Grading, logger),
		tokens:          tokens,
		health:          health,
	}
}

// NewRouter builds the gin engine with request logging and all routes.
func NewRouter(hm *HandlerManager, logger utils.Logger, maxUploadSize int64) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(utils.ContextLogger(logger))
	router.Use(utils.LoggerMiddleware(logger))
	if maxUploadSize > 0 {
		router.MaxMultipartMemory = maxUploadSize
	}

	hm.SetupRoutes(router)
	return router
}

// SetupRoutes sets up all API routes
func (hm *HandlerManager) SetupRoutes(router *gin.Engine) {
	// Health check endpoint
	router.GET("/health", hm.HealthCheck)

	// API v1 routes
	v1 := router.Group("/api/v1")
	v1.Use(AuthMiddleware(hm.tokens))
	{
		v1.GET("/dashboard", hm.sessionHandler.Dashboard)

		subjects := v1.Group("/subjects")
		{
			subjects.GET("", hm.examHandler.ListSubjects)
			subjects.POST("", RequireRole(models.RoleTeacher), hm.examHandler.CreateSubject)
		}

		// Exam authoring
		exams := v1.Group("/exams")
		{
			exams.POST("/:id/enroll", RequireRole(models.RoleStudent), hm.sessionHandler.Enroll)

			teacher := exams.Group("", RequireRole(models.RoleTeacher))
			teacher.POST("", hm.examHandler.CreateExam)
			teacher.GET("", hm.examHandler.ListExams)
			teacher.GET("/:id", hm.examHandler.GetExam)
			teacher.PUT("/:id", hm.examHandler.UpdateExam)
			teacher.DELETE("/:id", hm.examHandler.DeleteExam)
			teacher.POST("/:id/questions", hm.questionHandler.AddQuestion)
			teacher.GET("/:id/results.xlsx", hm.examHandler.ExportResults)
		}

		questions := v1.Group("/questions", RequireRole(models.RoleTeacher))
		{
			questions.PUT("/:id", hm.questionHandler.UpdateQuestion)
			questions.DELETE("/:id", hm.questionHandler.DeleteQuestion)
		}

		// Taking an exam
		attempts := v1.Group("/attempts")
		{
			attempts.GET("/:id/take", hm.sessionHandler.TakeExam)
			attempts.POST("/:id/responses", hm.sessionHandler.RecordResponses)
			attempts.POST("/:id/responses/:question_id/file", hm.sessionHandler.UploadFile)
			attempts.POST("/:id/submit", hm.sessionHandler.Submit)
			attempts.GET("/:id/result", hm.sessionHandler.Result)
		}

		// Manual grading
		grading := v1.Group("/grading", RequireRole(models.RoleTeacher))
		{
			grading.GET("/exams/:id/pending", hm.gradingHandler.ListPending)
			grading.POST("/responses/:id", hm.gradingHandler.GradeResponse)
			grading.GET("/responses/:id/file", hm.gradingHandler.DownloadResponseFile)
			grading.POST("/attempts/:id", hm.gradingHandler.GradeAttempt)
			grading.POST("/attempts/:id/refresh", hm.gradingHandler.RefreshScore)
		}
	}
}

// HealthCheck reports service and database health
func (hm *HandlerManager) HealthCheck(c *gin.Context) {
	if hm.health != nil {
		if err := hm.health(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "unhealthy",
				"service": "exam-service",
				"error":   err.Error(),
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "exam-service",
	})
}
