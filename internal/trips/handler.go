package trips

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/traveldiary/traveldiary-go/internal/api"
	"github.com/traveldiary/traveldiary-go/internal/grants"
	"github.com/traveldiary/traveldiary-go/internal/identity"
	"github.com/traveldiary/traveldiary-go/internal/store"
)

// Handler exposes trip and collaborator endpoints.
type Handler struct {
	svc           *Service
	collaborators store.CollaboratorStore
}

// NewHandler creates a trip handler.
func NewHandler(svc *Service, collaborators store.CollaboratorStore) *Handler {
	return &Handler{svc: svc, collaborators: collaborators}
}

// Create handles POST /api/trips.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	u, ok := identity.UserFromContext(r.Context())
	if !ok {
		api.WriteUnauthorized(w, api.ReasonUnauthenticated, "authentication required")
		return
	}

	var p Params
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		api.WriteBadRequest(w, api.ReasonBadRequest, "invalid JSON body")
		return
	}

	t, err := h.svc.Create(r.Context(), u.ID, p)
	if err != nil {
		api.WriteBadRequest(w, api.ReasonInvalidField, err.Error())
		return
	}
	api.WriteJSON(w, http.StatusCreated, t)
}

// List handles GET /api/trips (trips owned by the caller).
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	u, ok := identity.UserFromContext(r.Context())
	if !ok {
		api.WriteUnauthorized(w, api.ReasonUnauthenticated, "authentication required")
		return
	}

	ts, err := h.svc.ListOwned(r.Context(), u.ID)
	if err != nil {
		api.WriteInternalError(w, "failed to list trips")
		return
	}
	if ts == nil {
		ts = []*store.Trip{}
	}
	api.WriteJSON(w, http.StatusOK, ts)
}

type tripResponse struct {
	*store.Trip
	Permission grants.EffectivePermission `json:"permission"`
}

// Get handles GET /api/trips/{tripID}. The access middleware has
// already established view permission.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	tripID := chi.URLParam(r, "tripID")

	t, err := h.svc.Get(r.Context(), tripID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			api.WriteNotFound(w, "trip not found")
			return
		}
		api.WriteInternalError(w, "failed to load trip")
		return
	}

	resp := tripResponse{Trip: t}
	if g, ok := grants.GrantFromContext(r.Context()); ok {
		resp.Permission = g.Permission
	}
	api.WriteJSON(w, http.StatusOK, resp)
}

// Update handles PATCH /api/trips/{tripID}. Requires edit permission
// (enforced by middleware).
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	tripID := chi.URLParam(r, "tripID")

	var p Params
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		api.WriteBadRequest(w, api.ReasonBadRequest, "invalid JSON body")
		return
	}

	t, err := h.svc.Update(r.Context(), tripID, p)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			api.WriteNotFound(w, "trip not found")
			return
		}
		api.WriteInternalError(w, "failed to update trip")
		return
	}
	api.WriteJSON(w, http.StatusOK, t)
}

// ListCollaborators handles GET /api/trips/{tripID}/collaborators.
func (h *Handler) ListCollaborators(w http.ResponseWriter, r *http.Request) {
	tripID := chi.URLParam(r, "tripID")

	cs, err := h.collaborators.ListCollaborators(r.Context(), tripID)
	if err != nil {
		api.WriteInternalError(w, "failed to list collaborators")
		return
	}
	if cs == nil {
		cs = []*store.Collaborator{}
	}
	api.WriteJSON(w, http.StatusOK, cs)
}

type roleChangeRequest struct {
	Role string `json:"role"`
}

// ChangeCollaboratorRole handles PATCH /api/trips/{tripID}/collaborators/{userID}.
// Requires manage permission (enforced by middleware); the new role must
// not exceed the actor's own.
func (h *Handler) ChangeCollaboratorRole(w http.ResponseWriter, r *http.Request) {
	tripID := chi.URLParam(r, "tripID")
	userID := chi.URLParam(r, "userID")

	var req roleChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteBadRequest(w, api.ReasonBadRequest, "invalid JSON body")
		return
	}

	role, err := grants.ParseRole(req.Role)
	if err != nil {
		api.WriteBadRequest(w, api.ReasonInvalidField, err.Error())
		return
	}

	if g, ok := grants.GrantFromContext(r.Context()); ok && !role.AtMost(g.Role) {
		api.WriteForbidden(w, api.ReasonRoleEscalation, "requested role exceeds your own")
		return
	}

	c, err := h.collaborators.GetCollaborator(r.Context(), tripID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			api.WriteNotFound(w, "collaborator not found")
			return
		}
		api.WriteInternalError(w, "failed to load collaborator")
		return
	}

	c.Role = string(role)
	if err := h.collaborators.UpsertCollaborator(r.Context(), c); err != nil {
		api.WriteInternalError(w, "failed to update collaborator")
		return
	}
	api.WriteJSON(w, http.StatusOK, c)
}

// RemoveCollaborator handles DELETE /api/trips/{tripID}/collaborators/{userID}.
func (h *Handler) RemoveCollaborator(w http.ResponseWriter, r *http.Request) {
	tripID := chi.URLParam(r, "tripID")
	userID := chi.URLParam(r, "userID")

	err := h.collaborators.DeleteCollaborator(r.Context(), tripID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			api.WriteNotFound(w, "collaborator not found")
			return
		}
		api.WriteInternalError(w, "failed to remove collaborator")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
