package identity

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/traveldiary/traveldiary-go/internal/api"
	"github.com/traveldiary/traveldiary-go/internal/store"
)

// SessionCookie is the cookie carrying the session token.
const SessionCookie = "session"

// Handler exposes the auth endpoints.
type Handler struct {
	svc    *Service
	secure bool
}

// NewHandler creates an auth handler. secure controls the session
// cookie's Secure flag.
func NewHandler(svc *Service, secure bool) *Handler {
	return &Handler{svc: svc, secure: secure}
}

type registerRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

func toUserResponse(u *store.User) userResponse {
	return userResponse{ID: u.ID, Email: u.Email, Name: u.Name}
}

// Register handles POST /api/auth/register.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteBadRequest(w, api.ReasonBadRequest, "invalid JSON body")
		return
	}
	if req.Email == "" {
		api.WriteBadRequest(w, api.ReasonMissingField, "email is required")
		return
	}
	if req.Password == "" {
		api.WriteBadRequest(w, api.ReasonMissingField, "password is required")
		return
	}

	u, err := h.svc.Register(r.Context(), req.Email, req.Name, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, ErrEmailTaken):
			api.WriteConflict(w, "this email is already registered")
		case errors.Is(err, ErrInvalidCredentials):
			api.WriteBadRequest(w, api.ReasonInvalidField, "invalid email or password")
		default:
			api.WriteInternalError(w, "registration failed")
		}
		return
	}

	api.WriteJSON(w, http.StatusCreated, toUserResponse(u))
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

// Login handles POST /api/auth/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteBadRequest(w, api.ReasonBadRequest, "invalid JSON body")
		return
	}

	sess, u, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			api.WriteUnauthorized(w, api.ReasonInvalidCredentials, "invalid email or password")
			return
		}
		api.WriteInternalError(w, "login failed")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    sess.Token,
		Path:     "/",
		Expires:  time.Unix(sess.ExpiresAt, 0),
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})

	api.WriteJSON(w, http.StatusOK, loginResponse{Token: sess.Token, User: toUserResponse(u)})
}

// Logout handles POST /api/auth/logout.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if t := ExtractSessionToken(r); t != "" {
		if err := h.svc.Logout(r.Context(), t); err != nil {
			api.WriteInternalError(w, "logout failed")
			return
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})

	w.WriteHeader(http.StatusNoContent)
}

// Me handles GET /api/auth/me.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	u, ok := UserFromContext(r.Context())
	if !ok {
		api.WriteUnauthorized(w, api.ReasonUnauthenticated, "authentication required")
		return
	}
	api.WriteJSON(w, http.StatusOK, toUserResponse(u))
}

// ExtractSessionToken gets the session token from cookie or
// Authorization header (Bearer).
func ExtractSessionToken(r *http.Request) string {
	cookie, err := r.Cookie(SessionCookie)
	if err == nil && cookie.Value != "" {
		return cookie.Value
	}

	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}

	return ""
}
