package models

import (
	"time"

	"github.com/google/uuid"
)

// Profile is a user's public identity record. UserID is the subject issued by
// the external auth provider.
type Profile struct {
	UserID                uuid.UUID `gorm:"type:uuid;primaryKey" json:"user_id"`
	FullName              string    `gorm:"size:255;not null" json:"full_name"`
	Email                 string    `gorm:"size:255;uniqueIndex;not null" json:"email"`
	AvatarURL             *string   `gorm:"size:1024" json:"avatar_url"`
	WatchState            bool      `gorm:"not null;default:false" json:"watch_state"`
	ShowEmergencyContacts bool      `gorm:"not null;default:false" json:"show_emergency_contacts"`
	CreatedAt             time.Time `json:"-"`
	UpdatedAt             time.Time `json:"-"`
}

func (Profile) TableName() string {
	return "profiles"
}
