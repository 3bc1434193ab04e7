package store

import (
	"context"

	"locshare/backend/internal/apperror"
	"locshare/backend/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Friendships persists friendship edges.
type Friendships struct {
	db *gorm.DB
}

func NewFriendships(db *gorm.DB) *Friendships {
	return &Friendships{db: db}
}

// pair restricts a query to edges between a and b in either direction.
func pair(db *gorm.DB, a, b uuid.UUID) *gorm.DB {
	return db.Where("(user_id = ? AND friend_id = ?) OR (user_id = ? AND friend_id = ?)", a, b, b, a)
}

// FindActiveBetween returns the pending or accepted edge between a and b, or
// nil when there is none.
func (s *Friendships) FindActiveBetween(ctx context.Context, a, b uuid.UUID) (*models.FriendshipEdge, error) {
	var edges []models.FriendshipEdge
	err := pair(s.db.WithContext(ctx), a, b).
		Where("status IN ?", []models.FriendshipStatus{models.StatusPending, models.StatusAccepted}).
		Order("created_at").
		Limit(1).
		Find(&edges).Error
	if err != nil {
		return nil, translate(err, apperror.CodeEdgeNotFound, "find edge")
	}
	if len(edges) == 0 {
		return nil, nil
	}
	return &edges[0], nil
}

// Create inserts a new edge. A concurrent insert for the same pair trips the
// active pair index and is reported as a pending request.
func (s *Friendships) Create(ctx context.Context, edge *models.FriendshipEdge) error {
	if edge.ID == uuid.Nil {
		edge.ID = uuid.New()
	}
	err := s.db.WithContext(ctx).Omit("User", "Friend").Create(edge).Error
	if isUniqueViolation(err) {
		return apperror.InvalidOperation(apperror.CodeRequestPending, "a friend request is already pending with this user")
	}
	return translate(err, apperror.CodeEdgeNotFound, "create edge")
}

func (s *Friendships) Get(ctx context.Context, id uuid.UUID) (models.FriendshipEdge, error) {
	var edge models.FriendshipEdge
	err := s.db.WithContext(ctx).First(&edge, "id = ?", id).Error
	return edge, translate(err, apperror.CodeEdgeNotFound, "friend request not found")
}

// CompareAndSetStatus moves the edge addressed to recipient from one status to
// another in a single conditional update. It reports false when the edge was
// not in the expected state, leaving the caller to decide why.
func (s *Friendships) CompareAndSetStatus(ctx context.Context, id, recipient uuid.UUID, from, to models.FriendshipStatus) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.FriendshipEdge{}).
		Where("id = ? AND friend_id = ? AND status = ?", id, recipient, from).
		Update("status", to)
	if res.Error != nil {
		return false, translate(res.Error, apperror.CodeEdgeNotFound, "update edge status")
	}
	return res.RowsAffected == 1, nil
}

// DeletePending removes a pending edge sent by requester.
func (s *Friendships) DeletePending(ctx context.Context, id, requester uuid.UUID) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ? AND status = ?", id, requester, models.StatusPending).
		Delete(&models.FriendshipEdge{})
	return res.RowsAffected, translate(res.Error, apperror.CodeEdgeNotFound, "delete request")
}

// DeleteAccepted removes the accepted edge between a and b regardless of the
// direction it was stored in.
func (s *Friendships) DeleteAccepted(ctx context.Context, a, b uuid.UUID) (int64, error) {
	res := pair(s.db.WithContext(ctx), a, b).
		Where("status = ?", models.StatusAccepted).
		Delete(&models.FriendshipEdge{})
	return res.RowsAffected, translate(res.Error, apperror.CodeEdgeNotFound, "delete friendship")
}

// ListAccepted returns every accepted edge touching self with both endpoint
// profiles loaded.
func (s *Friendships) ListAccepted(ctx context.Context, self uuid.UUID) ([]models.FriendshipEdge, error) {
	var edges []models.FriendshipEdge
	err := s.db.WithContext(ctx).
		Preload("User").Preload("Friend").
		Where("(user_id = ? OR friend_id = ?) AND status = ?", self, self, models.StatusAccepted).
		Find(&edges).Error
	return edges, translate(err, apperror.CodeEdgeNotFound, "list friends")
}

// ListIncomingPending returns pending edges addressed to self, newest first,
// with the requester's profile loaded.
func (s *Friendships) ListIncomingPending(ctx context.Context, self uuid.UUID) ([]models.FriendshipEdge, error) {
	var edges []models.FriendshipEdge
	err := s.db.WithContext(ctx).
		Preload("User").
		Where("friend_id = ? AND status = ?", self, models.StatusPending).
		Order("created_at DESC").
		Find(&edges).Error
	return edges, translate(err, apperror.CodeEdgeNotFound, "list pending requests")
}

// ListAcceptedEndpoints returns the endpoints of accepted edges touching self,
// without loading profiles.
func (s *Friendships) ListAcceptedEndpoints(ctx context.Context, self uuid.UUID) ([]models.FriendshipEdge, error) {
	var edges []models.FriendshipEdge
	err := s.db.WithContext(ctx).
		Select("id", "user_id", "friend_id", "status").
		Where("(user_id = ? OR friend_id = ?) AND status = ?", self, self, models.StatusAccepted).
		Find(&edges).Error
	return edges, translate(err, apperror.CodeEdgeNotFound, "list friend ids")
}
