package models

import (
	"time"

	"github.com/google/uuid"
)

// LocationRecord is the single current location of a user. It is overwritten
// on every write, never appended.
type LocationRecord struct {
	UserID       uuid.UUID `gorm:"type:uuid;primaryKey" json:"user_id"`
	Latitude     *float64  `json:"latitude"`
	Longitude    *float64  `json:"longitude"`
	Timestamp    time.Time `gorm:"not null;index" json:"timestamp"`
	IsSharing    bool      `gorm:"not null;default:false" json:"is_sharing"`
	BatteryLevel int       `gorm:"not null;default:0;check:chk_user_locations_battery,battery_level BETWEEN 0 AND 100" json:"battery_level"`
	IsCharging   bool      `gorm:"not null;default:false" json:"is_charging"`
	// Duration is the number of seconds the user has stayed within a few
	// meters of the previous fix.
	Duration int `gorm:"not null;default:0" json:"duration"`

	// Read-only join. The user_id foreign key is added by database.Migrate.
	Profile Profile `gorm:"foreignKey:UserID;references:UserID;-:migration" json:"-"`
}

func (LocationRecord) TableName() string {
	return "user_locations"
}

// HasFix reports whether the record carries coordinates. A nil latitude or
// longitude means the user is not sharing, not that they are at (0,0).
func (r LocationRecord) HasFix() bool {
	return r.Latitude != nil && r.Longitude != nil
}
