package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Driserq/Convergence-sub001/internal/domain"
	"github.com/Driserq/Convergence-sub001/internal/generation"
)

const maxCreateBody = 1 << 20

type createBlueprintRequest struct {
	Title    string            `json:"title"`
	Content  string            `json:"content"`
	Prompt   string            `json:"prompt"`
	Provider string            `json:"provider"`
	Metadata map[string]string `json:"metadata"`
}

type blueprintResponse struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Status    string          `json:"status"`
	Provider  string          `json:"provider,omitempty"`
	Blueprint json.RawMessage `json:"blueprint,omitempty"`
	CreatedAt *time.Time      `json:"created_at,omitempty"`
	UpdatedAt *time.Time      `json:"updated_at,omitempty"`
}

func newBlueprintResponse(bp *domain.Blueprint) blueprintResponse {
	resp := blueprintResponse{
		ID:       bp.ID,
		Title:    bp.Title,
		Status:   string(bp.Status),
		Provider: bp.Provider,
	}
	if bp.Status == domain.BlueprintStatusCompleted && len(bp.Payload) > 0 {
		resp.Blueprint = bp.Payload
	}
	if !bp.CreatedAt.IsZero() {
		created := bp.CreatedAt
		resp.CreatedAt = &created
	}
	if !bp.UpdatedAt.IsZero() {
		updated := bp.UpdatedAt
		resp.UpdatedAt = &updated
	}
	return resp
}

// BlueprintsCreate stores a pending blueprint and answers 202 before the
// first generation attempt finishes.
func (a *App) BlueprintsCreate(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req createBlueprintRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCreateBody)).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	bp, err := a.Blueprints.Create(r.Context(), generation.CreateInput{
		UserID:   userID,
		Title:    req.Title,
		Content:  req.Content,
		Prompt:   req.Prompt,
		Provider: req.Provider,
		Metadata: req.Metadata,
	})
	if err != nil {
		a.domainError(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, newBlueprintResponse(bp))
}

func (a *App) BlueprintsGet(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	bp, err := a.Blueprints.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		a.domainError(w, r, err)
		return
	}
	a.json(w, http.StatusOK, newBlueprintResponse(bp))
}

func (a *App) BlueprintsRetry(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	bp, err := a.Blueprints.Retry(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		a.domainError(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, newBlueprintResponse(bp))
}
