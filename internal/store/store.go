// Package store provides persistence primitives and driver abstractions
// for the grant subsystem. Every state transition goes through a
// conditional write that reports whether the condition held, which is
// the only mutation discipline the services rely on.
package store

import (
	"context"
	"errors"
)

// Common errors for store operations.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrClosed        = errors.New("store closed")
)

// Invitation status values as stored. The domain layer owns the state
// machine; the store only compares and swaps these strings.
const (
	InvitationPending  = "pending"
	InvitationAccepted = "accepted"
	InvitationDeclined = "declined"
	InvitationExpired  = "expired"
	InvitationRevoked  = "revoked"
)

// Driver defines the interface for a persistence backend.
// Implementations must be safe for concurrent use.
type Driver interface {
	// Init initializes the driver (create tables, load data, etc).
	Init(ctx context.Context) error

	// Close releases resources held by the driver.
	Close() error

	// Name returns the driver name (json, sqlite).
	Name() string
}

// Trip is the minimal trip record the access subsystem operates on.
type Trip struct {
	ID          string `json:"id" gorm:"primaryKey"`
	OwnerID     string `json:"owner_id" gorm:"index"`
	Title       string `json:"title"`
	Destination string `json:"destination"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

// Collaborator is the derived fast-lookup index for accepted
// invitations. The Invitation record is the source of truth; a missing
// Collaborator row can always be re-materialized from it.
type Collaborator struct {
	TripID     string `json:"trip_id" gorm:"primaryKey"`
	UserID     string `json:"user_id" gorm:"primaryKey"`
	Email      string `json:"email"`
	Role       string `json:"role"`
	InvitedBy  string `json:"invited_by"`
	InvitedAt  int64  `json:"invited_at"`
	AcceptedAt int64  `json:"accepted_at"`
}

// Invitation is a named grant bound to an email and a role. Records
// are never deleted; terminal states stay as an audit trail.
type Invitation struct {
	Token         string `json:"token" gorm:"primaryKey"`
	TripID        string `json:"trip_id" gorm:"index"`
	InviterID     string `json:"inviter_id"`
	InviteeEmail  string `json:"invitee_email" gorm:"index"`
	Role          string `json:"role"`
	Message       string `json:"message"`
	Status        string `json:"status" gorm:"index"`
	EmailVerified bool   `json:"email_verified"`
	AcceptedBy    string `json:"accepted_by"` // user id that redeemed an accept
	CreatedAt     int64  `json:"created_at"`
	ExpiresAt     int64  `json:"expires_at"`
	ResolvedAt    int64  `json:"resolved_at"` // set on any terminal transition
}

// ShareLink is an anonymous capability grant. RevokedAt != 0 is
// terminal; expiry is lazy (no stored expired state).
type ShareLink struct {
	Token          string `json:"token" gorm:"primaryKey"`
	TripID         string `json:"trip_id" gorm:"index"`
	CreatedBy      string `json:"created_by"`
	IsPublic       bool   `json:"is_public"`
	AllowEditing   bool   `json:"allow_editing"`
	PasswordDigest string `json:"password_digest"`
	AccessCount    int64  `json:"access_count"`
	CreatedAt      int64  `json:"created_at"`
	UpdatedAt      int64  `json:"updated_at"`
	ExpiresAt      int64  `json:"expires_at"` // 0 = never
	RevokedAt      int64  `json:"revoked_at"` // 0 = active
	LastAccessedAt int64  `json:"last_accessed_at"`
}

// Expired reports whether the link's expiry has passed at now.
func (l *ShareLink) Expired(now int64) bool {
	return l.ExpiresAt != 0 && now > l.ExpiresAt
}

// Revoked reports whether the link has been revoked.
func (l *ShareLink) Revoked() bool { return l.RevokedAt != 0 }

// User is a registered account.
type User struct {
	ID           string `json:"id" gorm:"primaryKey"`
	Email        string `json:"email" gorm:"uniqueIndex"`
	Name         string `json:"name"`
	PasswordHash string `json:"password_hash"`
	CreatedAt    int64  `json:"created_at"`
}

// Session is an opaque login token.
type Session struct {
	Token     string `json:"token" gorm:"primaryKey"`
	UserID    string `json:"user_id" gorm:"index"`
	CreatedAt int64  `json:"created_at"`
	ExpiresAt int64  `json:"expires_at"`
}

// EmailVerification tracks the verification state of an email address,
// keyed by the address itself so repeated requests overwrite the
// outstanding token.
type EmailVerification struct {
	Email      string `json:"email" gorm:"primaryKey"`
	Token      string `json:"token" gorm:"index"`
	Verified   bool   `json:"verified"`
	CreatedAt  int64  `json:"created_at"`
	ExpiresAt  int64  `json:"expires_at"`
	VerifiedAt int64  `json:"verified_at"`
}

// InvitationPatch carries optional fields applied together with a
// status swap.
type InvitationPatch struct {
	AcceptedBy *string
	ResolvedAt *int64
}

// ShareLinkPatch carries settings-update fields. Nil fields are left
// untouched. UpdatedAt is always applied.
type ShareLinkPatch struct {
	IsPublic       *bool
	AllowEditing   *bool
	PasswordDigest *string
	ExpiresAt      *int64
	UpdatedAt      int64
}

// InvitationStore defines invitation persistence. SwapStatus is the
// single CAS primitive every transition uses.
type InvitationStore interface {
	CreateInvitation(ctx context.Context, inv *Invitation) error
	GetInvitation(ctx context.Context, token string) (*Invitation, error)
	ListInvitationsByTrip(ctx context.Context, tripID string) ([]*Invitation, error)
	ListInvitationsByEmail(ctx context.Context, email string) ([]*Invitation, error)

	// ListPendingExpiredBefore returns up to limit pending invitations
	// whose expiry is before cutoff (unix seconds).
	ListPendingExpiredBefore(ctx context.Context, cutoff int64, limit int) ([]*Invitation, error)

	// SwapInvitationStatus atomically transitions token from expect to
	// next, applying patch, and reports whether the stored status still
	// matched expect at write time. A false return with nil error means
	// the CAS lost; callers re-read and re-evaluate.
	SwapInvitationStatus(ctx context.Context, token, expect, next string, patch InvitationPatch) (bool, error)
}

// ShareLinkStore defines share link persistence.
type ShareLinkStore interface {
	CreateShareLink(ctx context.Context, link *ShareLink) error
	GetShareLink(ctx context.Context, token string) (*ShareLink, error)
	ListShareLinksByTrip(ctx context.Context, tripID string) ([]*ShareLink, error)

	// GetActiveShareLink returns the non-revoked, non-expired link for a
	// trip, or ErrNotFound.
	GetActiveShareLink(ctx context.Context, tripID string, now int64) (*ShareLink, error)

	// UpdateShareLink applies patch conditioned on the link not being
	// revoked; reports whether the condition held.
	UpdateShareLink(ctx context.Context, token string, patch ShareLinkPatch) (bool, error)

	// RevokeShareLink sets revoked_at conditioned on the link not
	// already being revoked; reports whether this call performed the
	// revocation.
	RevokeShareLink(ctx context.Context, token string, at int64) (bool, error)

	// TouchShareLink increments the access counter and records the
	// access time. Best effort; not part of any invariant.
	TouchShareLink(ctx context.Context, token string, at int64) error

	// CountActiveExpiredShareLinks reports how many non-revoked links
	// have passed their expiry at now. Used by the sweeper for
	// observability only.
	CountActiveExpiredShareLinks(ctx context.Context, now int64) (int, error)
}

// CollaboratorStore defines collaborator persistence. Upsert must be
// idempotent: it is retried after the invitation CAS succeeds.
type CollaboratorStore interface {
	UpsertCollaborator(ctx context.Context, c *Collaborator) error
	GetCollaborator(ctx context.Context, tripID, userID string) (*Collaborator, error)
	ListCollaborators(ctx context.Context, tripID string) ([]*Collaborator, error)
	DeleteCollaborator(ctx context.Context, tripID, userID string) error
}

// TripStore defines trip persistence.
type TripStore interface {
	CreateTrip(ctx context.Context, t *Trip) error
	GetTrip(ctx context.Context, id string) (*Trip, error)
	UpdateTrip(ctx context.Context, t *Trip) error
	ListTripsByOwner(ctx context.Context, ownerID string) ([]*Trip, error)
}

// UserStore defines account persistence.
type UserStore interface {
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
}

// SessionStore defines login session persistence.
type SessionStore interface {
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, token string) (*Session, error)
	DeleteSession(ctx context.Context, token string) error
	DeleteExpiredSessions(ctx context.Context, now int64) (int, error)
}

// VerificationStore defines email verification persistence.
type VerificationStore interface {
	// PutVerification upserts the record for its email.
	PutVerification(ctx context.Context, v *EmailVerification) error
	GetVerificationByEmail(ctx context.Context, email string) (*EmailVerification, error)
	GetVerificationByToken(ctx context.Context, token string) (*EmailVerification, error)

	// MarkVerified sets the verified flag for email. Idempotent.
	MarkVerified(ctx context.Context, email string, at int64) error
}

// GrantStore is the full persistence surface a driver implements.
type GrantStore interface {
	Driver
	InvitationStore
	ShareLinkStore
	CollaboratorStore
	TripStore
	UserStore
	SessionStore
	VerificationStore
}
