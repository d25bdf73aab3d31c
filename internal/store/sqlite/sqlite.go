// Package sqlite implements a SQLite persistence driver using GORM.
// Conditional writes are expressed as guarded UPDATEs; the RowsAffected
// count tells the caller whether the guard held.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/traveldiary/traveldiary-go/internal/store"
)

func init() {
	store.Register("sqlite", NewDriver)
}

// options are sqlite-driver specific settings from the config file.
type options struct {
	// File is the database file name inside data_dir.
	File string `mapstructure:"file"`

	// BusyTimeoutMS sets the sqlite busy_timeout pragma.
	BusyTimeoutMS int `mapstructure:"busy_timeout_ms"`
}

// Driver implements store.GrantStore backed by SQLite.
type Driver struct {
	dataDir string
	opts    options
	db      *gorm.DB
}

// NewDriver creates a new SQLite driver instance.
func NewDriver(cfg *store.DriverConfig) (store.GrantStore, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data_dir is required for sqlite driver")
	}

	opts := options{File: "traveldiary.db", BusyTimeoutMS: 5000}
	if cfg.Options != nil {
		if err := mapstructure.Decode(cfg.Options, &opts); err != nil {
			return nil, fmt.Errorf("invalid sqlite driver options: %w", err)
		}
	}

	return &Driver{dataDir: cfg.DataDir, opts: opts}, nil
}

// Name returns the driver name.
func (d *Driver) Name() string { return "sqlite" }

// Init opens the database and migrates the schema.
func (d *Driver) Init(ctx context.Context) error {
	if err := os.MkdirAll(d.dataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	dsn := filepath.Join(d.dataDir, d.opts.File)
	if d.opts.BusyTimeoutMS > 0 {
		dsn = fmt.Sprintf("%s?_busy_timeout=%d", dsn, d.opts.BusyTimeoutMS)
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}

	if err := db.WithContext(ctx).AutoMigrate(
		&store.Trip{},
		&store.Collaborator{},
		&store.Invitation{},
		&store.ShareLink{},
		&store.User{},
		&store.Session{},
		&store.EmailVerification{},
	); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	d.db = db
	return nil
}

// Close closes the underlying database connection.
func (d *Driver) Close() error {
	if d.db == nil {
		return nil
	}
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func mapErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.ErrNotFound
	}
	return err
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Invitations

func (d *Driver) CreateInvitation(ctx context.Context, inv *store.Invitation) error {
	err := d.db.WithContext(ctx).Create(inv).Error
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint") {
		return store.ErrAlreadyExists
	}
	return err
}

func (d *Driver) GetInvitation(ctx context.Context, token string) (*store.Invitation, error) {
	var inv store.Invitation
	if err := d.db.WithContext(ctx).First(&inv, "token = ?", token).Error; err != nil {
		return nil, mapErr(err)
	}
	return &inv, nil
}

func (d *Driver) ListInvitationsByTrip(ctx context.Context, tripID string) ([]*store.Invitation, error) {
	var invs []*store.Invitation
	err := d.db.WithContext(ctx).
		Where("trip_id = ?", tripID).
		Order("created_at ASC").
		Find(&invs).Error
	return invs, err
}

func (d *Driver) ListInvitationsByEmail(ctx context.Context, email string) ([]*store.Invitation, error) {
	var invs []*store.Invitation
	err := d.db.WithContext(ctx).
		Where("lower(invitee_email) = ?", normalizeEmail(email)).
		Order("created_at ASC").
		Find(&invs).Error
	return invs, err
}

func (d *Driver) ListPendingExpiredBefore(ctx context.Context, cutoff int64, limit int) ([]*store.Invitation, error) {
	var invs []*store.Invitation
	q := d.db.WithContext(ctx).
		Where("status = ? AND expires_at != 0 AND expires_at < ?", store.InvitationPending, cutoff)
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&invs).Error
	return invs, err
}

func (d *Driver) SwapInvitationStatus(ctx context.Context, token, expect, next string, patch store.InvitationPatch) (bool, error) {
	updates := map[string]any{"status": next}
	if patch.AcceptedBy != nil {
		updates["accepted_by"] = *patch.AcceptedBy
	}
	if patch.ResolvedAt != nil {
		updates["resolved_at"] = *patch.ResolvedAt
	}

	res := d.db.WithContext(ctx).
		Model(&store.Invitation{}).
		Where("token = ? AND status = ?", token, expect).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}

	// Distinguish a lost swap from a missing record.
	var count int64
	if err := d.db.WithContext(ctx).
		Model(&store.Invitation{}).
		Where("token = ?", token).
		Count(&count).Error; err != nil {
		return false, err
	}
	if count == 0 {
		return false, store.ErrNotFound
	}
	return false, nil
}

// Share links

func (d *Driver) CreateShareLink(ctx context.Context, link *store.ShareLink) error {
	err := d.db.WithContext(ctx).Create(link).Error
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint") {
		return store.ErrAlreadyExists
	}
	return err
}

func (d *Driver) GetShareLink(ctx context.Context, token string) (*store.ShareLink, error) {
	var link store.ShareLink
	if err := d.db.WithContext(ctx).First(&link, "token = ?", token).Error; err != nil {
		return nil, mapErr(err)
	}
	return &link, nil
}

func (d *Driver) ListShareLinksByTrip(ctx context.Context, tripID string) ([]*store.ShareLink, error) {
	var links []*store.ShareLink
	err := d.db.WithContext(ctx).
		Where("trip_id = ?", tripID).
		Order("created_at ASC").
		Find(&links).Error
	return links, err
}

func (d *Driver) GetActiveShareLink(ctx context.Context, tripID string, now int64) (*store.ShareLink, error) {
	var link store.ShareLink
	err := d.db.WithContext(ctx).
		Where("trip_id = ? AND revoked_at = 0 AND (expires_at = 0 OR expires_at >= ?)", tripID, now).
		First(&link).Error
	if err != nil {
		return nil, mapErr(err)
	}
	return &link, nil
}

func (d *Driver) UpdateShareLink(ctx context.Context, token string, patch store.ShareLinkPatch) (bool, error) {
	updates := map[string]any{"updated_at": patch.UpdatedAt}
	if patch.IsPublic != nil {
		updates["is_public"] = *patch.IsPublic
	}
	if patch.AllowEditing != nil {
		updates["allow_editing"] = *patch.AllowEditing
	}
	if patch.PasswordDigest != nil {
		updates["password_digest"] = *patch.PasswordDigest
	}
	if patch.ExpiresAt != nil {
		updates["expires_at"] = *patch.ExpiresAt
	}

	res := d.db.WithContext(ctx).
		Model(&store.ShareLink{}).
		Where("token = ? AND revoked_at = 0", token).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}
	return d.shareLinkGuardLost(ctx, token)
}

func (d *Driver) RevokeShareLink(ctx context.Context, token string, at int64) (bool, error) {
	res := d.db.WithContext(ctx).
		Model(&store.ShareLink{}).
		Where("token = ? AND revoked_at = 0", token).
		Update("revoked_at", at)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}
	return d.shareLinkGuardLost(ctx, token)
}

// shareLinkGuardLost classifies a zero-row conditional write: missing
// record vs guard failure.
func (d *Driver) shareLinkGuardLost(ctx context.Context, token string) (bool, error) {
	var count int64
	if err := d.db.WithContext(ctx).
		Model(&store.ShareLink{}).
		Where("token = ?", token).
		Count(&count).Error; err != nil {
		return false, err
	}
	if count == 0 {
		return false, store.ErrNotFound
	}
	return false, nil
}

func (d *Driver) TouchShareLink(ctx context.Context, token string, at int64) error {
	res := d.db.WithContext(ctx).
		Model(&store.ShareLink{}).
		Where("token = ?", token).
		Updates(map[string]any{
			"access_count":     gorm.Expr("access_count + 1"),
			"last_accessed_at": at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (d *Driver) CountActiveExpiredShareLinks(ctx context.Context, now int64) (int, error) {
	var count int64
	err := d.db.WithContext(ctx).
		Model(&store.ShareLink{}).
		Where("revoked_at = 0 AND expires_at != 0 AND expires_at < ?", now).
		Count(&count).Error
	return int(count), err
}

// Collaborators

func (d *Driver) UpsertCollaborator(ctx context.Context, c *store.Collaborator) error {
	return d.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "trip_id"}, {Name: "user_id"}},
			UpdateAll: true,
		}).
		Create(c).Error
}

func (d *Driver) GetCollaborator(ctx context.Context, tripID, userID string) (*store.Collaborator, error) {
	var c store.Collaborator
	err := d.db.WithContext(ctx).
		First(&c, "trip_id = ? AND user_id = ?", tripID, userID).Error
	if err != nil {
		return nil, mapErr(err)
	}
	return &c, nil
}

func (d *Driver) ListCollaborators(ctx context.Context, tripID string) ([]*store.Collaborator, error) {
	var cs []*store.Collaborator
	err := d.db.WithContext(ctx).
		Where("trip_id = ?", tripID).
		Order("invited_at ASC").
		Find(&cs).Error
	return cs, err
}

func (d *Driver) DeleteCollaborator(ctx context.Context, tripID, userID string) error {
	res := d.db.WithContext(ctx).
		Delete(&store.Collaborator{}, "trip_id = ? AND user_id = ?", tripID, userID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Trips

func (d *Driver) CreateTrip(ctx context.Context, t *store.Trip) error {
	err := d.db.WithContext(ctx).Create(t).Error
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint") {
		return store.ErrAlreadyExists
	}
	return err
}

func (d *Driver) GetTrip(ctx context.Context, id string) (*store.Trip, error) {
	var t store.Trip
	if err := d.db.WithContext(ctx).First(&t, "id = ?", id).Error; err != nil {
		return nil, mapErr(err)
	}
	return &t, nil
}

func (d *Driver) UpdateTrip(ctx context.Context, t *store.Trip) error {
	res := d.db.WithContext(ctx).
		Model(&store.Trip{}).
		Where("id = ?", t.ID).
		Updates(t)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (d *Driver) ListTripsByOwner(ctx context.Context, ownerID string) ([]*store.Trip, error) {
	var trips []*store.Trip
	err := d.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at ASC").
		Find(&trips).Error
	return trips, err
}

// Users

func (d *Driver) CreateUser(ctx context.Context, u *store.User) error {
	u.Email = normalizeEmail(u.Email)
	err := d.db.WithContext(ctx).Create(u).Error
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint") {
		return store.ErrAlreadyExists
	}
	return err
}

func (d *Driver) GetUser(ctx context.Context, id string) (*store.User, error) {
	var u store.User
	if err := d.db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		return nil, mapErr(err)
	}
	return &u, nil
}

func (d *Driver) GetUserByEmail(ctx context.Context, email string) (*store.User, error) {
	var u store.User
	err := d.db.WithContext(ctx).
		First(&u, "email = ?", normalizeEmail(email)).Error
	if err != nil {
		return nil, mapErr(err)
	}
	return &u, nil
}

// Sessions

func (d *Driver) CreateSession(ctx context.Context, s *store.Session) error {
	return d.db.WithContext(ctx).Create(s).Error
}

func (d *Driver) GetSession(ctx context.Context, token string) (*store.Session, error) {
	var s store.Session
	if err := d.db.WithContext(ctx).First(&s, "token = ?", token).Error; err != nil {
		return nil, mapErr(err)
	}
	return &s, nil
}

func (d *Driver) DeleteSession(ctx context.Context, token string) error {
	res := d.db.WithContext(ctx).Delete(&store.Session{}, "token = ?", token)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (d *Driver) DeleteExpiredSessions(ctx context.Context, now int64) (int, error) {
	res := d.db.WithContext(ctx).
		Delete(&store.Session{}, "expires_at != 0 AND expires_at < ?", now)
	return int(res.RowsAffected), res.Error
}

// Email verification

func (d *Driver) PutVerification(ctx context.Context, v *store.EmailVerification) error {
	v.Email = normalizeEmail(v.Email)
	return d.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "email"}},
			UpdateAll: true,
		}).
		Create(v).Error
}

func (d *Driver) GetVerificationByEmail(ctx context.Context, email string) (*store.EmailVerification, error) {
	var v store.EmailVerification
	err := d.db.WithContext(ctx).
		First(&v, "email = ?", normalizeEmail(email)).Error
	if err != nil {
		return nil, mapErr(err)
	}
	return &v, nil
}

func (d *Driver) GetVerificationByToken(ctx context.Context, token string) (*store.EmailVerification, error) {
	var v store.EmailVerification
	if err := d.db.WithContext(ctx).First(&v, "token = ?", token).Error; err != nil {
		return nil, mapErr(err)
	}
	return &v, nil
}

func (d *Driver) MarkVerified(ctx context.Context, email string, at int64) error {
	res := d.db.WithContext(ctx).
		Model(&store.EmailVerification{}).
		Where("email = ? AND verified = ?", normalizeEmail(email), false).
		Updates(map[string]any{"verified": true, "verified_at": at})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	var count int64
	if err := d.db.WithContext(ctx).
		Model(&store.EmailVerification{}).
		Where("email = ?", normalizeEmail(email)).
		Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Compile-time interface check
var _ store.GrantStore = (*Driver)(nil)
