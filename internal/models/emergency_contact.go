package models

import (
	"time"

	"github.com/google/uuid"
)

// EmergencyContact belongs to a user. Friends can read it only while the
// owner's Profile.ShowEmergencyContacts is set.
type EmergencyContact struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	Phone     string    `gorm:"size:64;not null" json:"phone"`
	Relation  string    `gorm:"size:64" json:"relation,omitempty"`
	CreatedAt time.Time `json:"-"`

	Owner Profile `gorm:"foreignKey:UserID;references:UserID;-:migration" json:"-"`
}

func (EmergencyContact) TableName() string {
	return "emergency_contacts"
}
