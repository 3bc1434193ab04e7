package fanout

import (
	"sort"
	"sync"
	"time"

	"locshare/backend/internal/models"

	"github.com/google/uuid"
)

// View is a consumer-side copy of the friends' records, merged by user. Push
// and pull may deliver the same record twice or out of order; the record with
// the newest timestamp always wins, so applying anything twice is harmless.
type View struct {
	mu       sync.RWMutex
	records  map[uuid.UUID]models.LocationRecord
	profiles map[uuid.UUID]models.Profile
}

func NewView() *View {
	return &View{
		records:  make(map[uuid.UUID]models.LocationRecord),
		profiles: make(map[uuid.UUID]models.Profile),
	}
}

// Apply merges one record and reports whether the view changed.
func (v *View) Apply(rec models.LocationRecord) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.applyLocked(rec)
}

func (v *View) applyLocked(rec models.LocationRecord) bool {
	cur, ok := v.records[rec.UserID]
	if ok && !rec.Timestamp.After(cur.Timestamp) {
		return false
	}
	if rec.Profile.UserID != uuid.Nil {
		v.profiles[rec.UserID] = rec.Profile
	}
	rec.Profile = models.Profile{}
	v.records[rec.UserID] = rec
	return true
}

// ApplyWatchState updates a friend's watch flag and reports whether it
// changed. Unknown users are ignored until a pull brings their profile.
func (v *View) ApplyWatchState(userID uuid.UUID, watching bool) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	p, ok := v.profiles[userID]
	if !ok || p.WatchState == watching {
		return false
	}
	p.WatchState = watching
	v.profiles[userID] = p
	return true
}

// Reset replaces the membership of the view with a pull result. Records the
// view already holds that are newer than the pulled ones are kept.
func (v *View) Reset(pulled []FriendLocation) {
	v.mu.Lock()
	defer v.mu.Unlock()

	records := make(map[uuid.UUID]models.LocationRecord, len(pulled))
	profiles := make(map[uuid.UUID]models.Profile, len(pulled))
	for _, fl := range pulled {
		rec := fl.LocationRecord
		if cur, ok := v.records[rec.UserID]; ok && cur.Timestamp.After(rec.Timestamp) {
			rec = cur
		}
		p := fl.Profile
		if p.UserID == uuid.Nil {
			p = models.Profile{UserID: rec.UserID, FullName: fl.FullName, AvatarURL: fl.AvatarURL, WatchState: fl.WatchState}
		}
		rec.Profile = models.Profile{}
		records[rec.UserID] = rec
		profiles[rec.UserID] = p
	}
	v.records = records
	v.profiles = profiles
}

// Get returns one merged record.
func (v *View) Get(userID uuid.UUID) (models.LocationRecord, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	rec, ok := v.records[userID]
	return rec, ok
}

// Snapshot renders the view at now, newest first. Users without a fix or a
// known profile are left out, as in GetFriendLocations.
func (v *View) Snapshot(now time.Time) []FriendLocation {
	v.mu.RLock()
	defer v.mu.RUnlock()

	out := make([]FriendLocation, 0, len(v.records))
	for id, rec := range v.records {
		p, ok := v.profiles[id]
		if !ok || !rec.HasFix() {
			continue
		}
		rec.Profile = p
		out = append(out, newFriendLocation(rec, now))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out
}
