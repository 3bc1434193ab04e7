// Package memory implements the store interfaces in process memory. The
// server uses it when no DATABASE_URL is configured; tests use it as a fake.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"locshare/backend/internal/apperror"
	"locshare/backend/internal/models"
	"locshare/backend/internal/store"

	"github.com/google/uuid"
)

// DB is the shared state behind the memory stores.
type DB struct {
	mu        sync.RWMutex
	profiles  map[uuid.UUID]models.Profile
	edges     map[uuid.UUID]models.FriendshipEdge
	locations map[uuid.UUID]models.LocationRecord
	contacts  map[uuid.UUID]models.EmergencyContact
	now       func() time.Time
}

func New() *DB {
	return &DB{
		profiles:  make(map[uuid.UUID]models.Profile),
		edges:     make(map[uuid.UUID]models.FriendshipEdge),
		locations: make(map[uuid.UUID]models.LocationRecord),
		contacts:  make(map[uuid.UUID]models.EmergencyContact),
		now:       time.Now,
	}
}

func (db *DB) Profiles() *Profiles       { return &Profiles{db: db} }
func (db *DB) Friendships() *Friendships { return &Friendships{db: db} }
func (db *DB) Locations() *Locations     { return &Locations{db: db} }
func (db *DB) Contacts() *Contacts       { return &Contacts{db: db} }

// region --- Profiles ---

type Profiles struct{ db *DB }

func (s *Profiles) Get(_ context.Context, userID uuid.UUID) (models.Profile, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	p, ok := s.db.profiles[userID]
	if !ok {
		return models.Profile{}, apperror.NotFound(apperror.CodeProfileNotFound, "profile not found")
	}
	return p, nil
}

func (s *Profiles) GetByEmail(_ context.Context, email string) (models.Profile, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	for _, p := range s.db.profiles {
		if p.Email == email {
			return p, nil
		}
	}
	return models.Profile{}, apperror.NotFound(apperror.CodeUserNotFound, "no user with that email")
}

func (s *Profiles) ListByIDs(_ context.Context, ids []uuid.UUID) ([]models.Profile, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	var out []models.Profile
	for _, id := range ids {
		if p, ok := s.db.profiles[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Profiles) Upsert(_ context.Context, p *models.Profile) error {
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for id, other := range s.db.profiles {
		if id != p.UserID && other.Email == p.Email {
			return apperror.Conflict(apperror.CodeEmailTaken, "email already registered to another user")
		}
	}
	now := s.db.now()
	if existing, ok := s.db.profiles[p.UserID]; ok {
		existing.FullName = p.FullName
		existing.Email = p.Email
		existing.UpdatedAt = now
		s.db.profiles[p.UserID] = existing
		*p = existing
		return nil
	}
	p.CreatedAt, p.UpdatedAt = now, now
	s.db.profiles[p.UserID] = *p
	return nil
}

func (s *Profiles) Update(_ context.Context, userID uuid.UUID, u store.ProfileUpdate) (models.Profile, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	p, ok := s.db.profiles[userID]
	if !ok {
		return models.Profile{}, apperror.NotFound(apperror.CodeProfileNotFound, "profile not found")
	}
	if u.FullName != nil {
		p.FullName = *u.FullName
	}
	if u.AvatarURL != nil {
		if *u.AvatarURL == "" {
			p.AvatarURL = nil
		} else {
			v := *u.AvatarURL
			p.AvatarURL = &v
		}
	}
	if u.ShowEmergencyContacts != nil {
		p.ShowEmergencyContacts = *u.ShowEmergencyContacts
	}
	p.UpdatedAt = s.db.now()
	s.db.profiles[userID] = p
	return p, nil
}

func (s *Profiles) SetWatchState(_ context.Context, userID uuid.UUID, watching bool) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	p, ok := s.db.profiles[userID]
	if !ok || p.WatchState == watching {
		return false, nil
	}
	p.WatchState = watching
	s.db.profiles[userID] = p
	return true, nil
}

// endregion

// region --- Friendships ---

type Friendships struct{ db *DB }

func active(s models.FriendshipStatus) bool {
	return s == models.StatusPending || s == models.StatusAccepted
}

func (s *Friendships) FindActiveBetween(_ context.Context, a, b uuid.UUID) (*models.FriendshipEdge, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	for _, e := range s.db.edges {
		if e.Involves(a, b) && active(e.Status) {
			found := e
			return &found, nil
		}
	}
	return nil, nil
}

func (s *Friendships) Create(_ context.Context, edge *models.FriendshipEdge) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, e := range s.db.edges {
		if e.Involves(edge.UserID, edge.FriendID) && active(e.Status) {
			return apperror.InvalidOperation(apperror.CodeRequestPending, "a friend request is already pending with this user")
		}
	}
	if edge.ID == uuid.Nil {
		edge.ID = uuid.New()
	}
	now := s.db.now()
	edge.CreatedAt, edge.UpdatedAt = now, now
	s.db.edges[edge.ID] = *edge
	return nil
}

func (s *Friendships) Get(_ context.Context, id uuid.UUID) (models.FriendshipEdge, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	e, ok := s.db.edges[id]
	if !ok {
		return models.FriendshipEdge{}, apperror.NotFound(apperror.CodeEdgeNotFound, "friend request not found")
	}
	return e, nil
}

func (s *Friendships) CompareAndSetStatus(_ context.Context, id, recipient uuid.UUID, from, to models.FriendshipStatus) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	e, ok := s.db.edges[id]
	if !ok || e.FriendID != recipient || e.Status != from {
		return false, nil
	}
	e.Status = to
	e.UpdatedAt = s.db.now()
	s.db.edges[id] = e
	return true, nil
}

func (s *Friendships) DeletePending(_ context.Context, id, requester uuid.UUID) (int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	e, ok := s.db.edges[id]
	if !ok || e.UserID != requester || e.Status != models.StatusPending {
		return 0, nil
	}
	delete(s.db.edges, id)
	return 1, nil
}

func (s *Friendships) DeleteAccepted(_ context.Context, a, b uuid.UUID) (int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var n int64
	for id, e := range s.db.edges {
		if e.Involves(a, b) && e.Status == models.StatusAccepted {
			delete(s.db.edges, id)
			n++
		}
	}
	return n, nil
}

// withProfiles mirrors a gorm Preload: missing profiles stay zero-valued.
func (s *Friendships) withProfiles(e models.FriendshipEdge) models.FriendshipEdge {
	e.User = s.db.profiles[e.UserID]
	e.Friend = s.db.profiles[e.FriendID]
	return e
}

func (s *Friendships) list(match func(models.FriendshipEdge) bool) []models.FriendshipEdge {
	var out []models.FriendshipEdge
	for _, e := range s.db.edges {
		if match(e) {
			out = append(out, s.withProfiles(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s *Friendships) ListAccepted(_ context.Context, self uuid.UUID) ([]models.FriendshipEdge, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	return s.list(func(e models.FriendshipEdge) bool {
		return (e.UserID == self || e.FriendID == self) && e.Status == models.StatusAccepted
	}), nil
}

func (s *Friendships) ListIncomingPending(_ context.Context, self uuid.UUID) ([]models.FriendshipEdge, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	return s.list(func(e models.FriendshipEdge) bool {
		return e.FriendID == self && e.Status == models.StatusPending
	}), nil
}

func (s *Friendships) ListAcceptedEndpoints(ctx context.Context, self uuid.UUID) ([]models.FriendshipEdge, error) {
	return s.ListAccepted(ctx, self)
}

// endregion

// region --- Locations ---

type Locations struct{ db *DB }

func (s *Locations) Get(_ context.Context, userID uuid.UUID) (models.LocationRecord, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	rec, ok := s.db.locations[userID]
	if !ok {
		return models.LocationRecord{}, apperror.NotFound(apperror.CodeUserNotFound, "no location recorded")
	}
	return rec, nil
}

func (s *Locations) Upsert(_ context.Context, rec *models.LocationRecord) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	stored := *rec
	stored.Profile = models.Profile{}
	s.db.locations[rec.UserID] = stored
	return nil
}

func (s *Locations) ListByUserIDs(_ context.Context, ids []uuid.UUID) ([]models.LocationRecord, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	var out []models.LocationRecord
	for _, id := range ids {
		rec, ok := s.db.locations[id]
		if !ok {
			continue
		}
		rec.Profile = s.db.profiles[id]
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

// endregion

// region --- Contacts ---

type Contacts struct{ db *DB }

func (s *Contacts) List(_ context.Context, owner uuid.UUID) ([]models.EmergencyContact, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	var out []models.EmergencyContact
	for _, c := range s.db.contacts {
		if c.UserID == owner {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Contacts) Create(_ context.Context, c *models.EmergencyContact) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.CreatedAt = s.db.now()
	s.db.contacts[c.ID] = *c
	return nil
}

func (s *Contacts) Delete(_ context.Context, owner, id uuid.UUID) (int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	c, ok := s.db.contacts[id]
	if !ok || c.UserID != owner {
		return 0, nil
	}
	delete(s.db.contacts, id)
	return 1, nil
}

// endregion
