package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/Rrens/ai-session-manager/internal/api/response"
	"github.com/Rrens/ai-session-manager/internal/service"
	"github.com/rs/zerolog/log"
)

// Pinger is a dependency probed by the readiness check
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthCheck returns a simple health check response
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	response.OK(w, map[string]string{
		"status": "ok",
	})
}

// ReadyCheck reports ready when every dependency answers a ping
func ReadyCheck(deps map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := make(map[string]string, len(deps))
		ready := true
		for name, dep := range deps {
			if err := dep.Ping(ctx); err != nil {
				log.Warn().Err(err).Str("dependency", name).Msg("Readiness check failed")
				status[name] = "unavailable"
				ready = false
				continue
			}
			status[name] = "ok"
		}

		if !ready {
			response.Error(w, http.StatusServiceUnavailable, status)
			return
		}
		response.OK(w, map[string]any{
			"status":       "ready",
			"dependencies": status,
		})
	}
}

// ListModels returns the model catalog offered by the configuration step
func ListModels(sessions *service.SessionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.OK(w, map[string]any{
			"models": sessions.Models(),
		})
	}
}
