package store

import (
	"context"
	"strings"

	"locshare/backend/internal/apperror"
	"locshare/backend/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProfileUpdate carries user-editable profile fields. Nil fields are left
// unchanged.
type ProfileUpdate struct {
	FullName              *string
	AvatarURL             *string
	ShowEmergencyContacts *bool
}

// Profiles is the Identity & Profile Store.
type Profiles struct {
	db *gorm.DB
}

func NewProfiles(db *gorm.DB) *Profiles {
	return &Profiles{db: db}
}

func (s *Profiles) Get(ctx context.Context, userID uuid.UUID) (models.Profile, error) {
	var p models.Profile
	err := s.db.WithContext(ctx).First(&p, "user_id = ?", userID).Error
	return p, translate(err, apperror.CodeProfileNotFound, "profile not found")
}

// GetByEmail resolves an email address case-insensitively.
func (s *Profiles) GetByEmail(ctx context.Context, email string) (models.Profile, error) {
	var p models.Profile
	err := s.db.WithContext(ctx).
		Where("email = ?", strings.ToLower(strings.TrimSpace(email))).
		First(&p).Error
	return p, translate(err, apperror.CodeUserNotFound, "no user with that email")
}

func (s *Profiles) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Profile, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var profiles []models.Profile
	err := s.db.WithContext(ctx).Where("user_id IN ?", ids).Find(&profiles).Error
	return profiles, translate(err, apperror.CodeProfileNotFound, "list profiles")
}

// Upsert creates the profile at registration, or refreshes name and email
// when it already exists. Watch state and visibility flags are preserved.
func (s *Profiles) Upsert(ctx context.Context, p *models.Profile) error {
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"full_name", "email", "updated_at"}),
	}).Create(p).Error
	if isUniqueViolation(err) {
		return apperror.Conflict(apperror.CodeEmailTaken, "email already registered to another user")
	}
	return translate(err, apperror.CodeProfileNotFound, "upsert profile")
}

func (s *Profiles) Update(ctx context.Context, userID uuid.UUID, u ProfileUpdate) (models.Profile, error) {
	updates := map[string]any{}
	if u.FullName != nil {
		updates["full_name"] = *u.FullName
	}
	if u.AvatarURL != nil {
		if *u.AvatarURL == "" {
			updates["avatar_url"] = nil
		} else {
			updates["avatar_url"] = *u.AvatarURL
		}
	}
	if u.ShowEmergencyContacts != nil {
		updates["show_emergency_contacts"] = *u.ShowEmergencyContacts
	}

	if len(updates) > 0 {
		res := s.db.WithContext(ctx).Model(&models.Profile{}).Where("user_id = ?", userID).Updates(updates)
		if res.Error != nil {
			return models.Profile{}, translate(res.Error, apperror.CodeProfileNotFound, "update profile")
		}
		if res.RowsAffected == 0 {
			return models.Profile{}, apperror.NotFound(apperror.CodeProfileNotFound, "profile not found")
		}
	}
	return s.Get(ctx, userID)
}

// SetWatchState writes the flag and reports whether it changed.
func (s *Profiles) SetWatchState(ctx context.Context, userID uuid.UUID, watching bool) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Profile{}).
		Where("user_id = ? AND watch_state <> ?", userID, watching).
		Update("watch_state", watching)
	if res.Error != nil {
		return false, translate(res.Error, apperror.CodeProfileNotFound, "set watch state")
	}
	return res.RowsAffected > 0, nil
}
