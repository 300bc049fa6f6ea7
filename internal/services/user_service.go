package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/SAP-F-2025/exam-service/internal/models"
	"github.com/SAP-F-2025/exam-service/internal/repositories"
	"github.com/SAP-F-2025/exam-service/internal/validator"
)

// userService maintains the local mirror of identities issued elsewhere.
type userService struct {
	repo      repositories.Repository
	validator *validator.Validator
	logger    *ServiceLogger
}

func NewUserService(deps Dependencies) UserService {
	return &userService{
		repo:      deps.Repo,
		validator: deps.Validator,
		logger:    NewServiceLogger(deps.Logger, "user"),
	}
}

func (s *userService) Create(ctx context.Context, req *CreateUserRequest) (*models.User, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	username := strings.TrimSpace(req.Username)
	if _, err := s.repo.User().GetByUsername(ctx, nil, username); err == nil {
		return nil, ErrUserExists
	} else if !repositories.IsNotFoundError(err) {
		return nil, fmt.Errorf("failed to check username: %w", err)
	}

	user := &models.User{
		Username: username,
		FullName: strings.TrimSpace(req.FullName),
		Email:    strings.TrimSpace(req.Email),
		Role:     req.Role,
	}
	if err := s.repo.User().Create(ctx, nil, user); err != nil {
		if repositories.IsDuplicateKeyError(err) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.logger.For(ctx).InfoContext(ctx, "User created", "user_id", user.ID, "role", user.Role)
	return user, nil
}

func (s *userService) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	user, err := s.repo.User().GetByUsername(ctx, nil, username)
	if err != nil {
		return nil, notFound(err, ErrUserNotFound, "user")
	}
	return user, nil
}

func (s *userService) List(ctx context.Context, role models.UserRole) ([]*models.User, error) {
	return s.repo.User().ListByRole(ctx, nil, role)
}
