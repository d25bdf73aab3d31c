package sharelinks

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/traveldiary/traveldiary-go/internal/api"
	"github.com/traveldiary/traveldiary-go/internal/grants"
	"github.com/traveldiary/traveldiary-go/internal/identity"
	"github.com/traveldiary/traveldiary-go/internal/store"
	"github.com/traveldiary/traveldiary-go/internal/trips"
)

// SharePasswordHeader carries the password for protected links on the
// public resolution endpoint.
const SharePasswordHeader = "X-Share-Password"

// Handler exposes the share link endpoints.
type Handler struct {
	svc      *Service
	trips    *trips.Service
	shareURL string
}

// NewHandler creates a share link handler. externalOrigin is used to
// build shareable URLs.
func NewHandler(svc *Service, tripSvc *trips.Service, externalOrigin string) *Handler {
	return &Handler{svc: svc, trips: tripSvc, shareURL: externalOrigin + "/shared/"}
}

type settingsRequest struct {
	IsPublic     *bool   `json:"is_public"`
	AllowEditing *bool   `json:"allow_editing"`
	Password     *string `json:"password"`
	TTLDays      *int    `json:"ttl_days"`
}

func (r settingsRequest) toSettings() Settings {
	return Settings{
		IsPublic:     r.IsPublic,
		AllowEditing: r.AllowEditing,
		Password:     r.Password,
		TTLDays:      r.TTLDays,
	}
}

type linkResponse struct {
	Token        string `json:"token"`
	URL          string `json:"url"`
	TripID       string `json:"trip_id"`
	IsPublic     bool   `json:"is_public"`
	AllowEditing bool   `json:"allow_editing"`
	Protected    bool   `json:"protected"`
	AccessCount  int64  `json:"access_count"`
	CreatedAt    int64  `json:"created_at"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
}

func (h *Handler) toLinkResponse(link *store.ShareLink) linkResponse {
	return linkResponse{
		Token:        link.Token,
		URL:          h.shareURL + link.Token,
		TripID:       link.TripID,
		IsPublic:     link.IsPublic,
		AllowEditing: link.AllowEditing,
		Protected:    link.PasswordDigest != "",
		AccessCount:  link.AccessCount,
		CreatedAt:    link.CreatedAt,
		ExpiresAt:    link.ExpiresAt,
	}
}

// Create handles POST /api/trips/{tripID}/share. Requires the manage
// permission (enforced by middleware).
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	tripID := chi.URLParam(r, "tripID")

	u, ok := identity.UserFromContext(r.Context())
	if !ok {
		api.WriteUnauthorized(w, api.ReasonUnauthenticated, "authentication required")
		return
	}

	var req settingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteBadRequest(w, api.ReasonBadRequest, "invalid JSON body")
		return
	}

	link, err := h.svc.Create(r.Context(), tripID, u.ID, req.toSettings())
	if err != nil {
		if errors.Is(err, ErrActiveLinkExists) {
			api.WriteConflict(w, err.Error())
			return
		}
		api.WriteInternalError(w, "failed to create share link")
		return
	}
	api.WriteJSON(w, http.StatusCreated, h.toLinkResponse(link))
}

// Get handles GET /api/trips/{tripID}/share.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	tripID := chi.URLParam(r, "tripID")

	link, err := h.svc.Active(r.Context(), tripID)
	if err != nil {
		api.WriteGrantError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, h.toLinkResponse(link))
}

// Update handles PATCH /api/trips/{tripID}/share. The token is
// preserved; only settings change.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	tripID := chi.URLParam(r, "tripID")

	var req settingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteBadRequest(w, api.ReasonBadRequest, "invalid JSON body")
		return
	}

	link, err := h.svc.Update(r.Context(), tripID, req.toSettings())
	if err != nil {
		api.WriteGrantError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, h.toLinkResponse(link))
}

// Rotate handles POST /api/trips/{tripID}/share/rotate: mints a new
// token and invalidates the old one.
func (h *Handler) Rotate(w http.ResponseWriter, r *http.Request) {
	tripID := chi.URLParam(r, "tripID")

	u, ok := identity.UserFromContext(r.Context())
	if !ok {
		api.WriteUnauthorized(w, api.ReasonUnauthenticated, "authentication required")
		return
	}

	link, err := h.svc.Rotate(r.Context(), tripID, u.ID)
	if err != nil {
		api.WriteGrantError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, h.toLinkResponse(link))
}

// Revoke handles DELETE /api/trips/{tripID}/share. Idempotent.
func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	tripID := chi.URLParam(r, "tripID")

	if err := h.svc.Revoke(r.Context(), tripID); err != nil {
		api.WriteInternalError(w, "failed to revoke share link")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type sharedTripResponse struct {
	Trip         *store.Trip `json:"trip"`
	AllowEditing bool        `json:"allow_editing"`
}

// Resolve handles GET /shared/{token}, the public entry point for
// share links. The password, if required, arrives in a header so it
// never lands in server logs as part of the URL.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	t := chi.URLParam(r, "token")

	// The actor is optional here: anonymous requests resolve public
	// links, authenticated collaborators may also use private ones.
	actor, _ := identity.UserFromContext(r.Context())

	res, err := h.svc.Resolve(r.Context(), t, r.Header.Get(SharePasswordHeader), actor)
	if err != nil {
		switch {
		case errors.Is(err, ErrPasswordRequired):
			api.WriteUnauthorized(w, api.ReasonPasswordRequired, "this share link requires a password")
		case errors.Is(err, grants.ErrWrongPassword):
			api.WriteUnauthorized(w, api.ReasonInvalidPassword, "the provided password is incorrect")
		default:
			api.WriteGrantError(w, err)
		}
		return
	}

	trip, err := h.trips.Get(r.Context(), res.TripID)
	if err != nil {
		api.WriteInternalError(w, "failed to load shared trip")
		return
	}

	api.WriteJSON(w, http.StatusOK, sharedTripResponse{
		Trip:         trip,
		AllowEditing: res.AllowEditing,
	})
}
