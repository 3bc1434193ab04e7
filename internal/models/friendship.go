package models

import (
	"time"

	"github.com/google/uuid"
)

// FriendshipStatus defines the state of a friendship edge.
type FriendshipStatus string

const (
	// StatusPending means a friend request has been sent but not yet answered.
	StatusPending FriendshipStatus = "pending"

	// StatusAccepted means the recipient accepted; the edge is now symmetric.
	StatusAccepted FriendshipStatus = "accepted"

	// StatusRejected means the recipient declined. A rejected edge does not
	// block a fresh request between the same pair.
	StatusRejected FriendshipStatus = "rejected"
)

// FriendshipEdge is stored in the direction it was requested (UserID is the
// requester) but is read in both directions once accepted.
type FriendshipEdge struct {
	ID        uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID        `gorm:"type:uuid;not null;index;check:chk_friendships_not_self,user_id <> friend_id" json:"user_id"`
	FriendID  uuid.UUID        `gorm:"type:uuid;not null;index" json:"friend_id"`
	Status    FriendshipStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	CreatedAt time.Time        `json:"-"`
	UpdatedAt time.Time        `json:"-"`

	User   Profile `gorm:"foreignKey:UserID;references:UserID;-:migration" json:"-"`
	Friend Profile `gorm:"foreignKey:FriendID;references:UserID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
}

func (FriendshipEdge) TableName() string {
	return "friendships"
}

// Other returns the endpoint that is not self.
func (e FriendshipEdge) Other(self uuid.UUID) uuid.UUID {
	if e.UserID == self {
		return e.FriendID
	}
	return e.UserID
}

// Involves reports whether the edge connects a and b in either direction.
func (e FriendshipEdge) Involves(a, b uuid.UUID) bool {
	return (e.UserID == a && e.FriendID == b) || (e.UserID == b && e.FriendID == a)
}
