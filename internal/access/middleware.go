package access

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/traveldiary/traveldiary-go/internal/api"
	"github.com/traveldiary/traveldiary-go/internal/appctx"
	"github.com/traveldiary/traveldiary-go/internal/grants"
	"github.com/traveldiary/traveldiary-go/internal/identity"
	"github.com/traveldiary/traveldiary-go/internal/sharelinks"
)

// ShareTokenHeader carries a share token on trip-scoped requests.
const ShareTokenHeader = "X-Share-Token"

// SharePasswordHeader carries the password for protected links.
const SharePasswordHeader = "X-Share-Password"

// Check names one field of the effective permission.
type Check func(grants.EffectivePermission) bool

// CanView, CanEdit, CanInvite, and CanManage select the corresponding
// permission fields for Require.
var (
	CanView   Check = func(p grants.EffectivePermission) bool { return p.CanView }
	CanEdit   Check = func(p grants.EffectivePermission) bool { return p.CanEdit }
	CanInvite Check = func(p grants.EffectivePermission) bool { return p.CanInvite }
	CanManage Check = func(p grants.EffectivePermission) bool { return p.CanManageCollaborators }
)

// Require resolves the effective permission for the {tripID} route
// param and rejects the request unless check passes. The resolved
// grant is stored in the context for the handler.
//
// A caller with no grant gets 403, not 404: trip existence is not
// secret, only contents are.
func (r *Resolver) Require(check Check) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			tripID := chi.URLParam(req, "tripID")
			if tripID == "" {
				api.WriteBadRequest(w, api.ReasonMissingField, "trip id is required")
				return
			}

			actor, _ := identity.UserFromContext(req.Context())

			grant, err := r.EffectivePermission(req.Context(), tripID, actor,
				req.Header.Get(ShareTokenHeader),
				req.Header.Get(SharePasswordHeader))
			if err != nil {
				switch {
				case errors.Is(err, grants.ErrNotFound):
					api.WriteNotFound(w, "trip not found")
				case errors.Is(err, sharelinks.ErrPasswordRequired):
					api.WriteUnauthorized(w, api.ReasonPasswordRequired, "this share link requires a password")
				case errors.Is(err, grants.ErrWrongPassword):
					api.WriteUnauthorized(w, api.ReasonInvalidPassword, "the provided password is incorrect")
				default:
					appctx.GetLogger(req.Context()).Error("permission resolution failed",
						"trip_id", tripID, "error", err)
					api.WriteInternalError(w, "permission resolution failed")
				}
				return
			}

			if !check(grant.Permission) {
				api.WriteForbidden(w, api.ReasonUnauthorized, "you do not have access to this trip")
				return
			}

			ctx := grants.WithGrant(req.Context(), grant)
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	}
}
