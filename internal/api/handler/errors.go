package handler

import (
	"errors"
	"net/http"

	"github.com/Rrens/ai-session-manager/internal/api/response"
	"github.com/Rrens/ai-session-manager/internal/domain"
	"github.com/Rrens/ai-session-manager/internal/service"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

var validate = validator.New()

// writeError maps service errors onto the response envelope
func writeError(w http.ResponseWriter, err error) {
	switch {
	case domain.IsConfigurationError(err):
		response.UnprocessableEntity(w, err.Error())
	case errors.Is(err, domain.ErrTurnInProgress),
		errors.Is(err, domain.ErrModelLocked),
		errors.Is(err, domain.ErrSessionFinalized),
		errors.Is(err, domain.ErrEmailTaken):
		response.Conflict(w, err.Error())
	case errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrNoActiveSession),
		errors.Is(err, domain.ErrMessageNotFound):
		response.NotFound(w, err.Error())
	case errors.Is(err, domain.ErrEmptyHistory),
		errors.Is(err, domain.ErrInvalidRole),
		errors.Is(err, domain.ErrNotUserMessage),
		errors.Is(err, domain.ErrNothingToRegenerate):
		response.BadRequest(w, err.Error())
	case errors.Is(err, domain.ErrInvalidCredentials):
		response.Unauthorized(w, err.Error())
	case errors.Is(err, service.ErrRateLimited):
		response.TooManyRequests(w, err.Error())
	default:
		log.Error().Err(err).Msg("Request failed")
		response.InternalError(w, "internal server error")
	}
}

// validationError renders validator failures as a field -> message map
func validationError(w http.ResponseWriter, err error) {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		response.BadRequest(w, err.Error())
		return
	}

	fields := make(map[string]string)
	for _, e := range validationErrors {
		switch e.Tag() {
		case "required":
			fields[e.Field()] = "field is required"
		case "email":
			fields[e.Field()] = "invalid email format"
		case "min", "gte":
			fields[e.Field()] = "must be at least " + e.Param()
		case "max", "lte":
			fields[e.Field()] = "must be at most " + e.Param()
		case "oneof":
			fields[e.Field()] = "must be one of " + e.Param()
		default:
			fields[e.Field()] = "validation failed on " + e.Tag()
		}
	}
	response.BadRequest(w, fields)
}
