package verification

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/traveldiary/traveldiary-go/internal/api"
)

// Handler exposes the email verification endpoints.
type Handler struct {
	svc *Service
}

// NewHandler creates a verification handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type requestBody struct {
	Email string `json:"email"`
}

// Request handles POST /api/verification/request.
func (h *Handler) Request(w http.ResponseWriter, r *http.Request) {
	var req requestBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteBadRequest(w, api.ReasonBadRequest, "invalid JSON body")
		return
	}
	if req.Email == "" {
		api.WriteBadRequest(w, api.ReasonMissingField, "email is required")
		return
	}

	if err := h.svc.Request(r.Context(), req.Email); err != nil {
		api.WriteInternalError(w, "failed to request verification")
		return
	}

	// 202: the token travels by mail, not in this response.
	w.WriteHeader(http.StatusAccepted)
}

type confirmResponse struct {
	Email    string `json:"email"`
	Verified bool   `json:"verified"`
}

// Confirm handles GET /verify-email/{token}.
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	t := chi.URLParam(r, "token")

	email, err := h.svc.Confirm(r.Context(), t)
	if err != nil {
		api.WriteGrantError(w, err)
		return
	}

	api.WriteJSON(w, http.StatusOK, confirmResponse{Email: email, Verified: true})
}
