package store

import (
	"context"

	"locshare/backend/internal/apperror"
	"locshare/backend/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Contacts persists emergency contacts.
type Contacts struct {
	db *gorm.DB
}

func NewContacts(db *gorm.DB) *Contacts {
	return &Contacts{db: db}
}

func (s *Contacts) List(ctx context.Context, owner uuid.UUID) ([]models.EmergencyContact, error) {
	var contacts []models.EmergencyContact
	err := s.db.WithContext(ctx).Where("user_id = ?", owner).Order("created_at").Find(&contacts).Error
	return contacts, translate(err, apperror.CodeContactNotFound, "list contacts")
}

func (s *Contacts) Create(ctx context.Context, c *models.EmergencyContact) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	err := s.db.WithContext(ctx).Omit("Owner").Create(c).Error
	return translate(err, apperror.CodeContactNotFound, "create contact")
}

// Delete removes one of owner's contacts and reports how many rows went away.
func (s *Contacts) Delete(ctx context.Context, owner, id uuid.UUID) (int64, error) {
	res := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, owner).Delete(&models.EmergencyContact{})
	return res.RowsAffected, translate(res.Error, apperror.CodeContactNotFound, "delete contact")
}
