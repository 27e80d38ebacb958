package handlers

import (
	"errors"
	"net/http"

	"github.com/gfmateus5/Mateus2121/services"
	"github.com/gfmateus5/Mateus2121/utils"
	"go.uber.org/zap"
)

// HandleServiceError maps domain errors to HTTP responses.
// Clients only see the domain message; wrapped causes stay in the logs.
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	details := services.GetErrorDetails(err)
	message := publicMessage(err)

	var writeErr error
	switch {
	case services.IsNotFoundError(err):
		writeErr = utils.WriteNotFound(w, message)

	case services.IsValidationError(err):
		writeErr = utils.WriteBadRequest(w, message, details)

	case services.IsUnauthorizedError(err):
		logger.Info("request unauthorized", zap.Error(err))
		writeErr = utils.WriteUnauthorized(w, message)

	case services.IsForbiddenError(err):
		// Not-enrolled rejections carry the username so the client can show it
		writeErr = utils.WriteError(w, http.StatusForbidden, message, details)

	case services.IsConflictError(err):
		writeErr = utils.WriteConflict(w, message, details)

	case services.IsConfigurationError(err):
		logger.Error("service misconfigured", zap.Error(err))
		writeErr = utils.WriteInternalServerError(w, "Authentication is not available")

	case services.IsInternalError(err):
		// Log internal errors but return generic message
		logger.Error("internal server error", zap.Error(err), zap.Any("details", details))
		writeErr = utils.WriteInternalServerError(w, "An internal error occurred")

	default:
		logger.Error("unhandled error type", zap.Error(err))
		writeErr = utils.WriteInternalServerError(w, "An unexpected error occurred")
	}

	if writeErr != nil {
		logger.Error("failed to write error response", zap.Error(writeErr))
	}
}

// HandleValidationError handles validation errors from request parsing
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if utils.IsValidationError(err) {
		fields := utils.GetValidationFields(err)
		details := make(map[string]interface{})
		for k, v := range fields {
			details[k] = v
		}
		if err := utils.WriteBadRequest(w, "Validation failed", details); err != nil {
			logger.Error("failed to write validation error response", zap.Error(err))
		}
		return
	}

	if err := utils.WriteBadRequest(w, err.Error(), nil); err != nil {
		logger.Error("failed to write validation error response", zap.Error(err))
	}
}

func publicMessage(err error) string {
	var domainErr *services.DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Message
	}
	return err.Error()
}
