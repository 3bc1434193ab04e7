package store

import (
	"context"

	"locshare/backend/internal/apperror"
	"locshare/backend/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Locations is the persistence side of the Location Ledger: one row per user,
// upserted on user_id.
type Locations struct {
	db *gorm.DB
}

func NewLocations(db *gorm.DB) *Locations {
	return &Locations{db: db}
}

func (s *Locations) Get(ctx context.Context, userID uuid.UUID) (models.LocationRecord, error) {
	var rec models.LocationRecord
	err := s.db.WithContext(ctx).First(&rec, "user_id = ?", userID).Error
	return rec, translate(err, apperror.CodeUserNotFound, "no location recorded")
}

// Upsert overwrites the user's record. Rows are keyed by user_id so writes from
// different users never contend.
func (s *Locations) Upsert(ctx context.Context, rec *models.LocationRecord) error {
	err := s.db.WithContext(ctx).Omit("Profile").Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"latitude", "longitude", "timestamp", "is_sharing",
			"battery_level", "is_charging", "duration",
		}),
	}).Create(rec).Error
	return translate(err, apperror.CodeUserNotFound, "upsert location")
}

// ListByUserIDs returns the records of the given users joined with their
// profiles, newest first.
func (s *Locations) ListByUserIDs(ctx context.Context, ids []uuid.UUID) ([]models.LocationRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var recs []models.LocationRecord
	err := s.db.WithContext(ctx).
		Preload("Profile").
		Where("user_id IN ?", ids).
		Order("timestamp DESC").
		Find(&recs).Error
	return recs, translate(err, apperror.CodeUserNotFound, "list locations")
}
