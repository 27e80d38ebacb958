package handlers

import (
	"errors"
	"net/http"

	"github.com/gfmateus5/Mateus2121/middleware"
	"github.com/gfmateus5/Mateus2121/models"
	"github.com/gfmateus5/Mateus2121/repositories"
	"github.com/gfmateus5/Mateus2121/services"
	"github.com/gfmateus5/Mateus2121/utils"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// UserHandler serves user summaries
type UserHandler struct {
	users   repositories.UserRepository
	courses repositories.CourseExecutionRepository
	logger  *zap.Logger
}

// NewUserHandler creates a new UserHandler
func NewUserHandler(users repositories.UserRepository, courses repositories.CourseExecutionRepository, logger *zap.Logger) *UserHandler {
	return &UserHandler{
		users:   users,
		courses: courses,
		logger:  logger,
	}
}

// HandleGetCurrentUser handles GET /api/v1/users/me
func (h *UserHandler) HandleGetCurrentUser(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserIDFromContext(r.Context())
	if userID == nil {
		_ = utils.WriteUnauthorized(w, "Authentication required")
		return
	}

	user, err := h.users.GetByID(r.Context(), *userID)
	h.writeUser(w, r, user, err)
}

// HandleGetUser handles GET /api/v1/users/{username}
func (h *UserHandler) HandleGetUser(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	if err := utils.ValidateRequired(username, "username"); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	user, err := h.users.GetByUsername(r.Context(), username)
	h.writeUser(w, r, user, err)
}

// writeUser attaches the course links to a loaded user and writes the summary
func (h *UserHandler) writeUser(w http.ResponseWriter, r *http.Request, user *models.User, err error) {
	if errors.Is(err, repositories.ErrNotFound) {
		HandleServiceError(w, services.ErrUserNotFound, h.logger)
		return
	}
	if err != nil {
		HandleServiceError(w, services.WrapInternal("failed to load user", err), h.logger)
		return
	}

	user.CourseExecutions, err = h.courses.GetByUserID(r.Context(), user.ID)
	if err != nil {
		HandleServiceError(w, services.WrapInternal("failed to load course links", err), h.logger)
		return
	}

	_ = utils.WriteOK(w, models.NewAuthUser(user))
}
