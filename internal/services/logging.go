package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/SAP-F-2025/exam-service/internal/utils"
)

// ServiceLogger provides structured logging for service layer operations
type ServiceLogger struct {
	logger  utils.Logger
	service string
}

func NewServiceLogger(logger utils.Logger, service string) *ServiceLogger {
	return &ServiceLogger{
		logger:  logger.With("service", service),
		service: service,
	}
}

// For returns the request-scoped logger carried by ctx, tagged with the service name.
func (l *ServiceLogger) For(ctx context.Context) utils.Logger {
	if scoped := utils.LoggerFromContext(ctx, nil); scoped != nil {
		return scoped.With("service", l.service)
	}
	return l.logger
}

// ===== OPERATION LOGGING =====

func (l *ServiceLogger) LogOperation(ctx context.Context, operation string, userID uint, resourceID uint, resourceType string, duration time.Duration, err error) {
	level := slog.LevelInfo
	status := "success"

	if err != nil {
		level = slog.LevelError
		status = "error"

		switch {
		case IsValidation(err):
			level, status = slog.LevelWarn, "validation_error"
		case IsUnauthorized(err):
			level, status = slog.LevelWarn, "unauthorized"
		case IsNotFound(err):
			status = "not_found"
		case IsConflict(err):
			level, status = slog.LevelWarn, "conflict"
		}
	}

	args := []any{
		"operation", operation,
		"user_id", userID,
		"resource_id", resourceID,
		"resource_type", resourceType,
		"status", status,
		"duration", duration,
	}

	if err != nil {
		args = append(args, "error", err.Error())

		var validationErrs ValidationErrors
		var permErr *PermissionError
		if errors.As(err, &validationErrs) {
			args = append(args, "validation_errors_count", len(validationErrs))
		} else if errors.As(err, &permErr) {
			args = append(args, "permission_action", permErr.Action)
		}
	}

	message := fmt.Sprintf("%s operation %s", operation, status)
	logger := l.For(ctx)
	switch level {
	case slog.LevelError:
		logger.ErrorContext(ctx, message, args...)
	case slog.LevelWarn:
		logger.WarnContext(ctx, message, args...)
	default:
		logger.InfoContext(ctx, message, args...)
	}
}

// ===== HELPERS =====

// ContextualLogger wraps operations with automatic logging
type ContextualLogger struct {
	logger    *ServiceLogger
	operation string
	userID    uint
	startTime time.Time
	ctx       context.Context
}

func (l *ServiceLogger) WithOperation(ctx context.Context, operation string, userID uint) *ContextualLogger {
	return &ContextualLogger{
		logger:    l,
		operation: operation,
		userID:    userID,
		startTime: time.Now(),
		ctx:       ctx,
	}
}

func (cl *ContextualLogger) LogResult(resourceID uint, resourceType string, err error) {
	cl.logger.LogOperation(cl.ctx, cl.operation, cl.userID, resourceID, resourceType, time.Since(cl.startTime), err)
}
