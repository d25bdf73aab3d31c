package invites

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/traveldiary/traveldiary-go/internal/api"
	"github.com/traveldiary/traveldiary-go/internal/grants"
	"github.com/traveldiary/traveldiary-go/internal/identity"
	"github.com/traveldiary/traveldiary-go/internal/store"
)

// Handler exposes the invitation endpoints.
type Handler struct {
	svc *Service
}

// NewHandler creates an invitation handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type createRequest struct {
	InviteeEmail string `json:"invitee_email"`
	Role         string `json:"role"`
	Message      string `json:"message"`
	TTLDays      int    `json:"ttl_days"`
}

type invitationResponse struct {
	Token        string `json:"token"`
	TripID       string `json:"trip_id"`
	InviteeEmail string `json:"invitee_email"`
	Role         string `json:"role"`
	Message      string `json:"message,omitempty"`
	Status       string `json:"status"`
	CreatedAt    int64  `json:"created_at"`
	ExpiresAt    int64  `json:"expires_at"`
}

func toInvitationResponse(inv *store.Invitation) invitationResponse {
	return invitationResponse{
		Token:        inv.Token,
		TripID:       inv.TripID,
		InviteeEmail: inv.InviteeEmail,
		Role:         inv.Role,
		Message:      inv.Message,
		Status:       inv.Status,
		CreatedAt:    inv.CreatedAt,
		ExpiresAt:    inv.ExpiresAt,
	}
}

// Create handles POST /api/trips/{tripID}/invitations. Requires the
// invite permission (enforced by middleware).
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	tripID := chi.URLParam(r, "tripID")

	u, ok := identity.UserFromContext(r.Context())
	if !ok {
		api.WriteUnauthorized(w, api.ReasonUnauthenticated, "authentication required")
		return
	}

	grant, ok := grants.GrantFromContext(r.Context())
	if !ok {
		api.WriteForbidden(w, api.ReasonUnauthorized, "no grant resolved for this trip")
		return
	}

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteBadRequest(w, api.ReasonBadRequest, "invalid JSON body")
		return
	}
	if req.InviteeEmail == "" {
		api.WriteBadRequest(w, api.ReasonMissingField, "invitee_email is required")
		return
	}

	role, err := grants.ParseRole(req.Role)
	if err != nil {
		api.WriteBadRequest(w, api.ReasonInvalidField, err.Error())
		return
	}

	p := Params{
		InviteeEmail: req.InviteeEmail,
		Role:         role,
		Message:      req.Message,
	}
	if req.TTLDays > 0 {
		p.TTL = time.Duration(req.TTLDays) * 24 * time.Hour
	}

	inv, err := h.svc.Create(r.Context(), tripID, u, grant.Role, p)
	if err != nil {
		api.WriteGrantError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, toInvitationResponse(inv))
}

// List handles GET /api/trips/{tripID}/invitations.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	tripID := chi.URLParam(r, "tripID")

	invs, err := h.svc.ListByTrip(r.Context(), tripID)
	if err != nil {
		api.WriteInternalError(w, "failed to list invitations")
		return
	}

	resp := make([]invitationResponse, 0, len(invs))
	for _, inv := range invs {
		resp = append(resp, toInvitationResponse(inv))
	}
	api.WriteJSON(w, http.StatusOK, resp)
}

// Revoke handles DELETE /api/trips/{tripID}/invitations/{token}.
// Requires the manage permission (enforced by middleware).
func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	t := chi.URLParam(r, "token")

	if err := h.svc.Revoke(r.Context(), t); err != nil {
		api.WriteGrantError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type respondRequest struct {
	Token  string `json:"token"`
	Action string `json:"action"`
}

// Respond handles POST /api/invitations/respond, the redemption
// endpoint for invitees.
func (h *Handler) Respond(w http.ResponseWriter, r *http.Request) {
	u, ok := identity.UserFromContext(r.Context())
	if !ok {
		api.WriteUnauthorized(w, api.ReasonUnauthenticated, "authentication required")
		return
	}

	var req respondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteBadRequest(w, api.ReasonBadRequest, "invalid JSON body")
		return
	}
	if req.Token == "" {
		api.WriteBadRequest(w, api.ReasonMissingField, "token is required")
		return
	}

	action, err := ParseAction(req.Action)
	if err != nil {
		api.WriteBadRequest(w, api.ReasonInvalidField, err.Error())
		return
	}

	inv, err := h.svc.Resolve(r.Context(), req.Token, action, u)
	if err != nil {
		api.WriteGrantError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, toInvitationResponse(inv))
}

// ListMine handles GET /api/invitations, the invitee's view of
// invitations addressed to their email.
func (h *Handler) ListMine(w http.ResponseWriter, r *http.Request) {
	u, ok := identity.UserFromContext(r.Context())
	if !ok {
		api.WriteUnauthorized(w, api.ReasonUnauthenticated, "authentication required")
		return
	}

	invs, err := h.svc.ListByEmail(r.Context(), u.Email)
	if err != nil {
		api.WriteInternalError(w, "failed to list invitations")
		return
	}

	resp := make([]invitationResponse, 0, len(invs))
	for _, inv := range invs {
		resp = append(resp, toInvitationResponse(inv))
	}
	api.WriteJSON(w, http.StatusOK, resp)
}
