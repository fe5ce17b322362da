package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Driserq/Convergence-sub001/internal/domain"
	"github.com/Driserq/Convergence-sub001/internal/generation"
	"github.com/Driserq/Convergence-sub001/internal/infra"
	"github.com/Driserq/Convergence-sub001/internal/middleware"
)

// BlueprintService is the slice of generation.Service the handlers use.
type BlueprintService interface {
	Create(ctx context.Context, in generation.CreateInput) (*domain.Blueprint, error)
	Retry(ctx context.Context, userID, id string) (*domain.Blueprint, error)
	Get(ctx context.Context, userID, id string) (*domain.Blueprint, error)
}

type App struct {
	Blueprints BlueprintService
	// Ping reports store health. Nil means the store has nothing to ping.
	Ping   func(ctx context.Context) error
	Logger infra.Logger
}

func NewApp(blueprints BlueprintService, ping func(ctx context.Context) error, logger infra.Logger) *App {
	return &App{Blueprints: blueprints, Ping: ping, Logger: logger}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]any{
		"error": map[string]string{"code": errCode, "message": message},
	})
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}

// domainError maps store and service errors onto the HTTP envelope.
func (a *App) domainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		a.error(w, http.StatusBadRequest, "invalid_request", "content or prompt is required")
	case errors.Is(err, domain.ErrUnauthorized):
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "blueprint not found")
	case errors.Is(err, domain.ErrAlreadyCompleted):
		a.error(w, http.StatusConflict, "already_completed", "blueprint already completed")
	default:
		a.Logger.Error().Err(err).
			Str("request_id", middleware.RequestIDFromContext(r.Context())).
			Msg("http: request failed")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
