// Package json implements a JSON file-based persistence driver.
// It uses atomic writes (temp file + rename) and in-process locking;
// conditional writes are evaluated under the same lock, which makes
// them trivially atomic within a single process.
package json

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/mitchellh/mapstructure"

	"github.com/traveldiary/traveldiary-go/internal/store"
)

func init() {
	store.Register("json", NewDriver)
}

// options are json-driver specific settings from the config file.
type options struct {
	// Fsync forces an fsync on every save. Slower, safer.
	Fsync bool `mapstructure:"fsync"`
}

// Driver implements store.GrantStore using JSON files.
type Driver struct {
	dataDir string
	opts    options

	mu     sync.RWMutex
	closed bool

	trips         map[string]*store.Trip              // by id
	collaborators map[string]*store.Collaborator      // by tripID\x00userID
	invitations   map[string]*store.Invitation        // by token
	shareLinks    map[string]*store.ShareLink         // by token
	users         map[string]*store.User              // by id
	sessions      map[string]*store.Session           // by token
	verifications map[string]*store.EmailVerification // by email

	// Secondary indexes, rebuilt on load.
	usersByEmail        map[string]string // normalized email -> user id
	verificationByToken map[string]string // token -> email
}

// NewDriver creates a new JSON driver instance.
func NewDriver(cfg *store.DriverConfig) (store.GrantStore, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data_dir is required for json driver")
	}

	var opts options
	if cfg.Options != nil {
		if err := mapstructure.Decode(cfg.Options, &opts); err != nil {
			return nil, fmt.Errorf("invalid json driver options: %w", err)
		}
	}

	return &Driver{
		dataDir:             cfg.DataDir,
		opts:                opts,
		trips:               make(map[string]*store.Trip),
		collaborators:       make(map[string]*store.Collaborator),
		invitations:         make(map[string]*store.Invitation),
		shareLinks:          make(map[string]*store.ShareLink),
		users:               make(map[string]*store.User),
		sessions:            make(map[string]*store.Session),
		verifications:       make(map[string]*store.EmailVerification),
		usersByEmail:        make(map[string]string),
		verificationByToken: make(map[string]string),
	}, nil
}

// Name returns the driver name.
func (d *Driver) Name() string { return "json" }

// Init loads data from JSON files.
func (d *Driver) Init(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := os.MkdirAll(d.dataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	load := func(name string, v any) error {
		err := d.loadFile(name, v)
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to load %s: %w", name, err)
		}
		return nil
	}

	if err := load("trips.json", &d.trips); err != nil {
		return err
	}
	if err := load("collaborators.json", &d.collaborators); err != nil {
		return err
	}
	if err := load("invitations.json", &d.invitations); err != nil {
		return err
	}
	if err := load("share_links.json", &d.shareLinks); err != nil {
		return err
	}
	if err := load("users.json", &d.users); err != nil {
		return err
	}
	if err := load("sessions.json", &d.sessions); err != nil {
		return err
	}
	if err := load("verifications.json", &d.verifications); err != nil {
		return err
	}

	d.rebuildIndexes()
	return nil
}

// Close releases resources.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *Driver) rebuildIndexes() {
	d.usersByEmail = make(map[string]string, len(d.users))
	for id, u := range d.users {
		d.usersByEmail[normalizeEmail(u.Email)] = id
	}
	d.verificationByToken = make(map[string]string, len(d.verifications))
	for email, v := range d.verifications {
		if v.Token != "" {
			d.verificationByToken[v.Token] = email
		}
	}
}

func (d *Driver) loadFile(name string, v any) error {
	data, err := os.ReadFile(filepath.Join(d.dataDir, name))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// saveLocked atomically persists one data file. Caller holds d.mu.
func (d *Driver) saveLocked(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	path := filepath.Join(d.dataDir, name)
	tmp := path + ".tmp"

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if d.opts.Fsync {
		if err := f.Sync(); err != nil {
			f.Close()
			os.Remove(tmp)
			return err
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func (d *Driver) checkOpen() error {
	if d.closed {
		return store.ErrClosed
	}
	return nil
}

func collabKey(tripID, userID string) string {
	return tripID + "\x00" + userID
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Invitations

func (d *Driver) CreateInvitation(ctx context.Context, inv *store.Invitation) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return err
	}
	if _, exists := d.invitations[inv.Token]; exists {
		return store.ErrAlreadyExists
	}
	cp := *inv
	d.invitations[inv.Token] = &cp
	return d.saveLocked("invitations.json", d.invitations)
}

func (d *Driver) GetInvitation(ctx context.Context, token string) (*store.Invitation, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	inv, ok := d.invitations[token]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

func (d *Driver) ListInvitationsByTrip(ctx context.Context, tripID string) ([]*store.Invitation, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var result []*store.Invitation
	for _, inv := range d.invitations {
		if inv.TripID == tripID {
			cp := *inv
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt < result[j].CreatedAt })
	return result, nil
}

func (d *Driver) ListInvitationsByEmail(ctx context.Context, email string) ([]*store.Invitation, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	norm := normalizeEmail(email)
	var result []*store.Invitation
	for _, inv := range d.invitations {
		if normalizeEmail(inv.InviteeEmail) == norm {
			cp := *inv
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt < result[j].CreatedAt })
	return result, nil
}

func (d *Driver) ListPendingExpiredBefore(ctx context.Context, cutoff int64, limit int) ([]*store.Invitation, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var result []*store.Invitation
	for _, inv := range d.invitations {
		if inv.Status == store.InvitationPending && inv.ExpiresAt != 0 && inv.ExpiresAt < cutoff {
			cp := *inv
			result = append(result, &cp)
			if limit > 0 && len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

func (d *Driver) SwapInvitationStatus(ctx context.Context, token, expect, next string, patch store.InvitationPatch) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return false, err
	}
	inv, ok := d.invitations[token]
	if !ok {
		return false, store.ErrNotFound
	}
	if inv.Status != expect {
		return false, nil
	}
	inv.Status = next
	if patch.AcceptedBy != nil {
		inv.AcceptedBy = *patch.AcceptedBy
	}
	if patch.ResolvedAt != nil {
		inv.ResolvedAt = *patch.ResolvedAt
	}
	if err := d.saveLocked("invitations.json", d.invitations); err != nil {
		return false, err
	}
	return true, nil
}

// Share links

func (d *Driver) CreateShareLink(ctx context.Context, link *store.ShareLink) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return err
	}
	if _, exists := d.shareLinks[link.Token]; exists {
		return store.ErrAlreadyExists
	}
	cp := *link
	d.shareLinks[link.Token] = &cp
	return d.saveLocked("share_links.json", d.shareLinks)
}

func (d *Driver) GetShareLink(ctx context.Context, token string) (*store.ShareLink, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	link, ok := d.shareLinks[token]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *link
	return &cp, nil
}

func (d *Driver) ListShareLinksByTrip(ctx context.Context, tripID string) ([]*store.ShareLink, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var result []*store.ShareLink
	for _, link := range d.shareLinks {
		if link.TripID == tripID {
			cp := *link
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt < result[j].CreatedAt })
	return result, nil
}

func (d *Driver) GetActiveShareLink(ctx context.Context, tripID string, now int64) (*store.ShareLink, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, link := range d.shareLinks {
		if link.TripID == tripID && !link.Revoked() && !link.Expired(now) {
			cp := *link
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (d *Driver) UpdateShareLink(ctx context.Context, token string, patch store.ShareLinkPatch) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return false, err
	}
	link, ok := d.shareLinks[token]
	if !ok {
		return false, store.ErrNotFound
	}
	if link.Revoked() {
		return false, nil
	}
	if patch.IsPublic != nil {
		link.IsPublic = *patch.IsPublic
	}
	if patch.AllowEditing != nil {
		link.AllowEditing = *patch.AllowEditing
	}
	if patch.PasswordDigest != nil {
		link.PasswordDigest = *patch.PasswordDigest
	}
	if patch.ExpiresAt != nil {
		link.ExpiresAt = *patch.ExpiresAt
	}
	link.UpdatedAt = patch.UpdatedAt
	if err := d.saveLocked("share_links.json", d.shareLinks); err != nil {
		return false, err
	}
	return true, nil
}

func (d *Driver) RevokeShareLink(ctx context.Context, token string, at int64) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return false, err
	}
	link, ok := d.shareLinks[token]
	if !ok {
		return false, store.ErrNotFound
	}
	if link.Revoked() {
		return false, nil
	}
	link.RevokedAt = at
	if err := d.saveLocked("share_links.json", d.shareLinks); err != nil {
		return false, err
	}
	return true, nil
}

func (d *Driver) TouchShareLink(ctx context.Context, token string, at int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return err
	}
	link, ok := d.shareLinks[token]
	if !ok {
		return store.ErrNotFound
	}
	link.AccessCount++
	link.LastAccessedAt = at
	return d.saveLocked("share_links.json", d.shareLinks)
}

func (d *Driver) CountActiveExpiredShareLinks(ctx context.Context, now int64) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	count := 0
	for _, link := range d.shareLinks {
		if !link.Revoked() && link.Expired(now) {
			count++
		}
	}
	return count, nil
}

// Collaborators

func (d *Driver) UpsertCollaborator(ctx context.Context, c *store.Collaborator) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return err
	}
	cp := *c
	d.collaborators[collabKey(c.TripID, c.UserID)] = &cp
	return d.saveLocked("collaborators.json", d.collaborators)
}

func (d *Driver) GetCollaborator(ctx context.Context, tripID, userID string) (*store.Collaborator, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.collaborators[collabKey(tripID, userID)]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (d *Driver) ListCollaborators(ctx context.Context, tripID string) ([]*store.Collaborator, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var result []*store.Collaborator
	for _, c := range d.collaborators {
		if c.TripID == tripID {
			cp := *c
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].InvitedAt < result[j].InvitedAt })
	return result, nil
}

func (d *Driver) DeleteCollaborator(ctx context.Context, tripID, userID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return err
	}
	key := collabKey(tripID, userID)
	if _, ok := d.collaborators[key]; !ok {
		return store.ErrNotFound
	}
	delete(d.collaborators, key)
	return d.saveLocked("collaborators.json", d.collaborators)
}

// Trips

func (d *Driver) CreateTrip(ctx context.Context, t *store.Trip) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return err
	}
	if _, exists := d.trips[t.ID]; exists {
		return store.ErrAlreadyExists
	}
	cp := *t
	d.trips[t.ID] = &cp
	return d.saveLocked("trips.json", d.trips)
}

func (d *Driver) GetTrip(ctx context.Context, id string) (*store.Trip, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.trips[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (d *Driver) UpdateTrip(ctx context.Context, t *store.Trip) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return err
	}
	if _, ok := d.trips[t.ID]; !ok {
		return store.ErrNotFound
	}
	cp := *t
	d.trips[t.ID] = &cp
	return d.saveLocked("trips.json", d.trips)
}

func (d *Driver) ListTripsByOwner(ctx context.Context, ownerID string) ([]*store.Trip, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var result []*store.Trip
	for _, t := range d.trips {
		if t.OwnerID == ownerID {
			cp := *t
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt < result[j].CreatedAt })
	return result, nil
}

// Users

func (d *Driver) CreateUser(ctx context.Context, u *store.User) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return err
	}
	norm := normalizeEmail(u.Email)
	if _, exists := d.usersByEmail[norm]; exists {
		return store.ErrAlreadyExists
	}
	cp := *u
	d.users[u.ID] = &cp
	d.usersByEmail[norm] = u.ID
	return d.saveLocked("users.json", d.users)
}

func (d *Driver) GetUser(ctx context.Context, id string) (*store.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (d *Driver) GetUserByEmail(ctx context.Context, email string) (*store.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.usersByEmail[normalizeEmail(email)]
	if !ok {
		return nil, store.ErrNotFound
	}
	u := d.users[id]
	cp := *u
	return &cp, nil
}

// Sessions

func (d *Driver) CreateSession(ctx context.Context, s *store.Session) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return err
	}
	cp := *s
	d.sessions[s.Token] = &cp
	return d.saveLocked("sessions.json", d.sessions)
}

func (d *Driver) GetSession(ctx context.Context, token string) (*store.Session, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.sessions[token]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (d *Driver) DeleteSession(ctx context.Context, token string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return err
	}
	if _, ok := d.sessions[token]; !ok {
		return store.ErrNotFound
	}
	delete(d.sessions, token)
	return d.saveLocked("sessions.json", d.sessions)
}

func (d *Driver) DeleteExpiredSessions(ctx context.Context, now int64) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return 0, err
	}
	count := 0
	for token, s := range d.sessions {
		if s.ExpiresAt != 0 && now > s.ExpiresAt {
			delete(d.sessions, token)
			count++
		}
	}
	if count == 0 {
		return 0, nil
	}
	return count, d.saveLocked("sessions.json", d.sessions)
}

// Email verification

func (d *Driver) PutVerification(ctx context.Context, v *store.EmailVerification) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return err
	}
	norm := normalizeEmail(v.Email)
	if old, ok := d.verifications[norm]; ok && old.Token != "" {
		delete(d.verificationByToken, old.Token)
	}
	cp := *v
	cp.Email = norm
	d.verifications[norm] = &cp
	if cp.Token != "" {
		d.verificationByToken[cp.Token] = norm
	}
	return d.saveLocked("verifications.json", d.verifications)
}

func (d *Driver) GetVerificationByEmail(ctx context.Context, email string) (*store.EmailVerification, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.verifications[normalizeEmail(email)]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (d *Driver) GetVerificationByToken(ctx context.Context, token string) (*store.EmailVerification, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	email, ok := d.verificationByToken[token]
	if !ok {
		return nil, store.ErrNotFound
	}
	v := d.verifications[email]
	cp := *v
	return &cp, nil
}

func (d *Driver) MarkVerified(ctx context.Context, email string, at int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return err
	}
	v, ok := d.verifications[normalizeEmail(email)]
	if !ok {
		return store.ErrNotFound
	}
	if !v.Verified {
		v.Verified = true
		v.VerifiedAt = at
	}
	return d.saveLocked("verifications.json", d.verifications)
}

// Compile-time interface check
var _ store.GrantStore = (*Driver)(nil)
