package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"locshare/backend/internal/apperror"
	"locshare/backend/internal/fanout"
	"locshare/backend/internal/friendship"
	"locshare/backend/internal/location"
	"locshare/backend/internal/logging"
	"locshare/backend/internal/models"
	"locshare/backend/internal/store"
	"locshare/backend/internal/watch"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ProfileStore is the Identity & Profile Store as the handlers use it.
type ProfileStore interface {
	Get(ctx context.Context, userID uuid.UUID) (models.Profile, error)
	Upsert(ctx context.Context, p *models.Profile) error
	Update(ctx context.Context, userID uuid.UUID, u store.ProfileUpdate) (models.Profile, error)
}

type ContactStore interface {
	List(ctx context.Context, owner uuid.UUID) ([]models.EmergencyContact, error)
	Create(ctx context.Context, c *models.EmergencyContact) error
	Delete(ctx context.Context, owner, id uuid.UUID) (int64, error)
}

// Deps wires the services behind the HTTP surface.
type Deps struct {
	Profiles ProfileStore
	Contacts ContactStore
	Friends  *friendship.Manager
	Ledger   *location.Ledger
	Router   *fanout.Router
	Tracker  *watch.Tracker

	ReconcileInterval      time.Duration
	WatchReconcileInterval time.Duration
	CheckOrigin            func(r *http.Request) bool
}

type Handler struct {
	profiles ProfileStore
	contacts ContactStore
	friends  *friendship.Manager
	ledger   *location.Ledger
	router   *fanout.Router
	tracker  *watch.Tracker

	reconcileInterval      time.Duration
	watchReconcileInterval time.Duration
	upgrader               websocket.Upgrader
}

func New(d Deps) *Handler {
	if d.ReconcileInterval <= 0 {
		d.ReconcileInterval = 30 * time.Second
	}
	if d.WatchReconcileInterval <= 0 {
		d.WatchReconcileInterval = 10 * time.Second
	}
	return &Handler{
		profiles:               d.Profiles,
		contacts:               d.Contacts,
		friends:                d.Friends,
		ledger:                 d.Ledger,
		router:                 d.Router,
		tracker:                d.Tracker,
		reconcileInterval:      d.ReconcileInterval,
		watchReconcileInterval: d.WatchReconcileInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			HandshakeTimeout: 10 * time.Second,
			CheckOrigin:      d.CheckOrigin,
		},
	}
}

// Register mounts every route on rg. The group is expected to carry the auth
// middleware.
func (h *Handler) Register(rg *gin.RouterGroup) {
	me := rg.Group("/me")
	{
		me.PUT("", h.UpsertMe)
		me.GET("", h.GetMe)
		me.PATCH("", h.UpdateMe)
		me.POST("/watch-state", h.SetWatchState)
		me.POST("/watch-state/hold", h.HoldWatchState)
		me.DELETE("/watch-state/hold", h.ReleaseWatchState)
		me.GET("/emergency-contacts", h.GetMyEmergencyContacts)
		me.POST("/emergency-contacts", h.CreateEmergencyContact)
		me.DELETE("/emergency-contacts/:id", h.DeleteEmergencyContact)
	}

	rg.GET("/users/:id/emergency-contacts", h.GetUserEmergencyContacts)

	friends := rg.Group("/friends")
	{
		friends.GET("", h.GetFriends)
		friends.GET("/locations", h.GetFriendLocations)
		friends.GET("/watch-states", h.GetFriendWatchStates)
		friends.DELETE("/:id", h.RemoveFriend)
	}

	requests := rg.Group("/friend-requests")
	{
		requests.POST("", h.SendRequest)
		requests.GET("/incoming", h.GetIncomingRequests)
		requests.POST("/:id/accept", h.AcceptRequest)
		requests.POST("/:id/reject", h.RejectRequest)
		requests.DELETE("/:id", h.CancelRequest)
	}

	loc := rg.Group("/location")
	{
		loc.PUT("", h.WriteLocation)
		loc.GET("", h.GetMyLocation)
		loc.DELETE("", h.StopSharing)
	}

	rg.GET("/stream", h.Stream)
}

// ErrorResponse defines the structure for an error response.
type ErrorResponse struct {
	Error string `json:"error" example:"An error message"`
	Code  string `json:"code,omitempty" example:"already_friends"`
}

// MessageResponse is returned by mutations that have nothing else to say.
type MessageResponse struct {
	Message string `json:"message" example:"Friend request accepted"`
}

// respondError maps the error taxonomy onto HTTP status codes.
func respondError(c *gin.Context, err error) {
	var appErr *apperror.Error
	if !errors.As(err, &appErr) {
		logging.Error().Err(err).Str("path", c.FullPath()).Msg("unhandled error")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Internal server error"})
		return
	}

	status := http.StatusInternalServerError
	switch appErr.Kind {
	case apperror.KindNotAuthenticated:
		status = http.StatusUnauthorized
	case apperror.KindNotFound:
		status = http.StatusNotFound
	case apperror.KindInvalidOperation:
		status = http.StatusBadRequest
		if appErr.Code == apperror.CodeAlreadyFriends || appErr.Code == apperror.CodeRequestPending {
			status = http.StatusConflict
		}
	case apperror.KindConflict:
		status = http.StatusConflict
	case apperror.KindTransientIO, apperror.KindWriteFailed:
		status = http.StatusServiceUnavailable
	}

	if status >= http.StatusInternalServerError {
		logging.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	c.JSON(status, ErrorResponse{Error: appErr.Message, Code: string(appErr.Code)})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}

func parseIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		badRequest(c, "Invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}
