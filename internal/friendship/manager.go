// Package friendship owns the friendship graph: requests, acceptance,
// rejection and removal of edges, and the derived friend set.
package friendship

import (
	"context"

	"locshare/backend/internal/apperror"
	"locshare/backend/internal/hub"
	"locshare/backend/internal/logging"
	"locshare/backend/internal/models"

	"github.com/google/uuid"
)

// ProfileReader resolves users.
type ProfileReader interface {
	Get(ctx context.Context, userID uuid.UUID) (models.Profile, error)
	GetByEmail(ctx context.Context, email string) (models.Profile, error)
}

// EdgeStore persists friendship edges.
type EdgeStore interface {
	FindActiveBetween(ctx context.Context, a, b uuid.UUID) (*models.FriendshipEdge, error)
	Create(ctx context.Context, edge *models.FriendshipEdge) error
	Get(ctx context.Context, id uuid.UUID) (models.FriendshipEdge, error)
	CompareAndSetStatus(ctx context.Context, id, recipient uuid.UUID, from, to models.FriendshipStatus) (bool, error)
	DeletePending(ctx context.Context, id, requester uuid.UUID) (int64, error)
	DeleteAccepted(ctx context.Context, a, b uuid.UUID) (int64, error)
	ListAccepted(ctx context.Context, self uuid.UUID) ([]models.FriendshipEdge, error)
	ListIncomingPending(ctx context.Context, self uuid.UUID) ([]models.FriendshipEdge, error)
	ListAcceptedEndpoints(ctx context.Context, self uuid.UUID) ([]models.FriendshipEdge, error)
}

// Publisher receives friendship change notifications.
type Publisher interface {
	Publish(hub.Event)
}

// PendingRequest is an incoming request joined with the requester's profile.
type PendingRequest struct {
	models.FriendshipEdge
	Requester models.Profile `json:"requester"`
}

// Manager is the Friendship Graph Manager.
type Manager struct {
	profiles ProfileReader
	edges    EdgeStore
	events   Publisher
}

func NewManager(profiles ProfileReader, edges EdgeStore, events Publisher) *Manager {
	return &Manager{profiles: profiles, edges: edges, events: events}
}

func requireIdentity(id uuid.UUID) error {
	if id == uuid.Nil {
		return apperror.NotAuthenticated("not authenticated")
	}
	return nil
}

// SendRequest creates a pending edge from requester to the user registered
// under targetEmail.
func (m *Manager) SendRequest(ctx context.Context, requesterID uuid.UUID, targetEmail string) (uuid.UUID, error) {
	if err := requireIdentity(requesterID); err != nil {
		return uuid.Nil, err
	}
	if _, err := m.profiles.Get(ctx, requesterID); err != nil {
		return uuid.Nil, err
	}

	target, err := m.profiles.GetByEmail(ctx, targetEmail)
	if err != nil {
		return uuid.Nil, err
	}
	if target.UserID == requesterID {
		return uuid.Nil, apperror.InvalidOperation(apperror.CodeSelfRequest, "you cannot send a friend request to yourself")
	}

	existing, err := m.edges.FindActiveBetween(ctx, requesterID, target.UserID)
	if err != nil {
		return uuid.Nil, err
	}
	if existing != nil {
		if existing.Status == models.StatusAccepted {
			return uuid.Nil, apperror.InvalidOperation(apperror.CodeAlreadyFriends, "you are already friends with this user")
		}
		return uuid.Nil, apperror.InvalidOperation(apperror.CodeRequestPending, "a friend request is already pending with this user")
	}

	edge := models.FriendshipEdge{
		ID:       uuid.New(),
		UserID:   requesterID,
		FriendID: target.UserID,
		Status:   models.StatusPending,
	}
	if err := m.edges.Create(ctx, &edge); err != nil {
		return uuid.Nil, err
	}

	m.notify(edge, target.UserID)
	logging.Info().Str("edge_id", edge.ID.String()).Str("user_id", requesterID.String()).Msg("friend request sent")
	return edge.ID, nil
}

// AcceptRequest moves a pending edge to accepted. Only the recipient may
// accept, and the transition is a single compare-and-swap on status so a racing
// accept or reject cannot both win.
func (m *Manager) AcceptRequest(ctx context.Context, edgeID, accepterID uuid.UUID) error {
	if err := requireIdentity(accepterID); err != nil {
		return err
	}

	ok, err := m.edges.CompareAndSetStatus(ctx, edgeID, accepterID, models.StatusPending, models.StatusAccepted)
	if err != nil {
		return err
	}
	if !ok {
		return m.explainFailedTransition(ctx, edgeID, accepterID, models.StatusAccepted)
	}

	edge, err := m.edges.Get(ctx, edgeID)
	if err != nil {
		// The accept itself committed; a failed re-read only loses the notification.
		logging.Warn().Err(err).Str("edge_id", edgeID.String()).Msg("accepted edge could not be re-read")
		return nil
	}
	m.notify(edge, edge.UserID)
	m.notify(edge, edge.FriendID)
	logging.Info().Str("edge_id", edgeID.String()).Msg("friend request accepted")
	return nil
}

// RejectRequest marks a pending edge rejected. Re-rejecting is a no-op.
func (m *Manager) RejectRequest(ctx context.Context, edgeID, rejecterID uuid.UUID) error {
	if err := requireIdentity(rejecterID); err != nil {
		return err
	}

	ok, err := m.edges.CompareAndSetStatus(ctx, edgeID, rejecterID, models.StatusPending, models.StatusRejected)
	if err != nil {
		return err
	}
	if !ok {
		return m.explainFailedTransition(ctx, edgeID, rejecterID, models.StatusRejected)
	}

	edge, err := m.edges.Get(ctx, edgeID)
	if err == nil {
		m.notify(edge, edge.UserID)
	}
	return nil
}

// explainFailedTransition turns a compare-and-swap miss into the error the
// caller should see.
func (m *Manager) explainFailedTransition(ctx context.Context, edgeID, actor uuid.UUID, want models.FriendshipStatus) error {
	edge, err := m.edges.Get(ctx, edgeID)
	if err != nil {
		return err
	}
	switch {
	case edge.FriendID == actor:
		if edge.Status == want && want == models.StatusRejected {
			return nil
		}
		return apperror.Conflict(apperror.CodeAlreadyHandled, "this friend request was already "+string(edge.Status))
	case edge.UserID == actor:
		return apperror.InvalidOperation(apperror.CodeNotRecipient, "only the recipient can answer a friend request")
	default:
		// Do not reveal edges between other users.
		return apperror.NotFound(apperror.CodeEdgeNotFound, "friend request not found")
	}
}

// CancelRequest lets the requester withdraw a pending request.
func (m *Manager) CancelRequest(ctx context.Context, requesterID, edgeID uuid.UUID) error {
	if err := requireIdentity(requesterID); err != nil {
		return err
	}
	edge, err := m.edges.Get(ctx, edgeID)
	if err != nil {
		return err
	}
	n, err := m.edges.DeletePending(ctx, edgeID, requesterID)
	if err != nil {
		return err
	}
	if n == 0 {
		return apperror.NotFound(apperror.CodeEdgeNotFound, "no pending request to cancel")
	}
	edge.Status = models.StatusRejected
	m.notify(edge, edge.FriendID)
	return nil
}

// DeleteFriendship removes the accepted edge between self and other whichever
// way it was stored. Deleting a friendship that does not exist is not an error.
func (m *Manager) DeleteFriendship(ctx context.Context, selfID, otherID uuid.UUID) error {
	if err := requireIdentity(selfID); err != nil {
		return err
	}
	n, err := m.edges.DeleteAccepted(ctx, selfID, otherID)
	if err != nil {
		return err
	}
	if n > 0 {
		edge := models.FriendshipEdge{UserID: selfID, FriendID: otherID, Status: models.StatusRejected}
		m.notify(edge, selfID)
		m.notify(edge, otherID)
		logging.Info().Str("user_id", selfID.String()).Str("other_user_id", otherID.String()).Msg("friendship removed")
	}
	return nil
}

// ListFriends returns the profiles of all accepted counterparts, each once.
func (m *Manager) ListFriends(ctx context.Context, selfID uuid.UUID) ([]models.Profile, error) {
	edges, err := m.edges.ListAccepted(ctx, selfID)
	if err != nil {
		return nil, err
	}

	seen := make(map[uuid.UUID]struct{}, len(edges))
	friends := make([]models.Profile, 0, len(edges))
	for _, e := range edges {
		p := e.Friend
		if e.FriendID == selfID {
			p = e.User
		}
		if p.UserID == uuid.Nil || p.UserID == selfID {
			continue
		}
		if _, dup := seen[p.UserID]; dup {
			continue
		}
		seen[p.UserID] = struct{}{}
		friends = append(friends, p)
	}
	return friends, nil
}

// ListPendingIncoming returns requests addressed to self.
func (m *Manager) ListPendingIncoming(ctx context.Context, selfID uuid.UUID) ([]PendingRequest, error) {
	edges, err := m.edges.ListIncomingPending(ctx, selfID)
	if err != nil {
		return nil, err
	}
	out := make([]PendingRequest, 0, len(edges))
	for _, e := range edges {
		if e.User.UserID == uuid.Nil {
			continue
		}
		out = append(out, PendingRequest{FriendshipEdge: e, Requester: e.User})
	}
	return out, nil
}

// FriendIDs computes the friend set: counterparts of accepted edges stored in
// either direction. It is recomputed on every call.
func (m *Manager) FriendIDs(ctx context.Context, selfID uuid.UUID) ([]uuid.UUID, error) {
	edges, err := m.edges.ListAcceptedEndpoints(ctx, selfID)
	if err != nil {
		return nil, err
	}
	seen := make(map[uuid.UUID]struct{}, len(edges))
	ids := make([]uuid.UUID, 0, len(edges))
	for _, e := range edges {
		other := e.Other(selfID)
		if other == selfID {
			continue
		}
		if _, dup := seen[other]; dup {
			continue
		}
		seen[other] = struct{}{}
		ids = append(ids, other)
	}
	return ids, nil
}

// AreFriends reports whether an accepted edge connects a and b.
func (m *Manager) AreFriends(ctx context.Context, a, b uuid.UUID) (bool, error) {
	edge, err := m.edges.FindActiveBetween(ctx, a, b)
	if err != nil {
		return false, err
	}
	return edge != nil && edge.Status == models.StatusAccepted, nil
}

func (m *Manager) notify(edge models.FriendshipEdge, to uuid.UUID) {
	if m.events == nil {
		return
	}
	m.events.Publish(hub.Event{
		Type:   hub.EventFriendship,
		Source: edge.Other(to),
		Target: to,
		Friendship: &hub.FriendshipChange{
			EdgeID: edge.ID,
			Other:  edge.Other(to),
			Status: edge.Status,
		},
	})
}
