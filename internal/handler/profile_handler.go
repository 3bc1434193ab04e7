package handler

import (
	"net/http"
	"strings"

	"locshare/backend/internal/auth"
	"locshare/backend/internal/models"
	"locshare/backend/internal/store"
	"locshare/backend/internal/watch"

	"github.com/gin-gonic/gin"
)

// UpsertProfileRequest defines the request body for registering a profile.
type UpsertProfileRequest struct {
	FullName string `json:"full_name" binding:"required,max=255" example:"Jane Doe"`
	// Email defaults to the address in the session token.
	Email string `json:"email" binding:"omitempty,email" example:"jane@example.com"`
}

// UpdateProfileRequest defines the request body for editing a profile.
// Omitted fields are left unchanged; an empty avatar_url clears the avatar.
type UpdateProfileRequest struct {
	FullName              *string `json:"full_name" binding:"omitempty,min=1,max=255"`
	AvatarURL             *string `json:"avatar_url" binding:"omitempty,max=1024"`
	ShowEmergencyContacts *bool   `json:"show_emergency_contacts"`
}

// WatchStateRequest defines the request body for an app lifecycle change.
type WatchStateRequest struct {
	State watch.AppState `json:"state" binding:"required" example:"active"`
}

// WatchStateResponse reports whether the stored flag changed.
type WatchStateResponse struct {
	Changed bool `json:"changed"`
}

// UpsertMe godoc
// @Summary      Register or refresh own profile
// @Description  Creates the caller's profile on first sign-in, or updates name and email.
// @Tags         profile
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        profile  body      UpsertProfileRequest  true  "Profile"
// @Success      200      {object}  models.Profile
// @Failure      400      {object}  ErrorResponse
// @Failure      401      {object}  ErrorResponse
// @Failure      409      {object}  ErrorResponse "Email belongs to another user"
// @Router       /me [put]
func (h *Handler) UpsertMe(c *gin.Context) {
	var req UpsertProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	email := req.Email
	if email == "" {
		email = auth.Session(c).Email
	}
	if strings.TrimSpace(email) == "" {
		badRequest(c, "An email is required")
		return
	}

	profile := models.Profile{UserID: auth.UserID(c), FullName: req.FullName, Email: email}
	if err := h.profiles.Upsert(c.Request.Context(), &profile); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

// GetMe godoc
// @Summary      Get own profile
// @Tags         profile
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  models.Profile
// @Failure      401  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse
// @Router       /me [get]
func (h *Handler) GetMe(c *gin.Context) {
	profile, err := h.profiles.Get(c.Request.Context(), auth.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

// UpdateMe godoc
// @Summary      Edit own profile
// @Description  Updates full name, avatar URL or the emergency contact visibility flag.
// @Tags         profile
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        profile  body      UpdateProfileRequest  true  "Fields to change"
// @Success      200      {object}  models.Profile
// @Failure      400      {object}  ErrorResponse
// @Failure      401      {object}  ErrorResponse
// @Failure      404      {object}  ErrorResponse
// @Router       /me [patch]
func (h *Handler) UpdateMe(c *gin.Context) {
	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.FullName != nil && strings.TrimSpace(*req.FullName) == "" {
		badRequest(c, "full_name cannot be empty")
		return
	}

	profile, err := h.profiles.Update(c.Request.Context(), auth.UserID(c), store.ProfileUpdate{
		FullName:              req.FullName,
		AvatarURL:             req.AvatarURL,
		ShowEmergencyContacts: req.ShowEmergencyContacts,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

// region --- Watch state ---

// SetWatchState godoc
// @Summary      Report app lifecycle state
// @Description  active sets watch_state, background clears it, inactive clears it unless held. Expired sessions are ignored.
// @Tags         profile
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        state  body      WatchStateRequest  true  "App state"
// @Success      200    {object}  WatchStateResponse
// @Failure      400    {object}  ErrorResponse
// @Failure      401    {object}  ErrorResponse
// @Router       /me/watch-state [post]
func (h *Handler) SetWatchState(c *gin.Context) {
	var req WatchStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	changed, err := h.tracker.Transition(c.Request.Context(), watchSession(c), req.State)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, WatchStateResponse{Changed: changed})
}

// HoldWatchState godoc
// @Summary      Hold watch state
// @Description  Keeps watch_state set while an overlay makes the OS report inactive.
// @Tags         profile
// @Security     BearerAuth
// @Success      204
// @Failure      401  {object}  ErrorResponse
// @Router       /me/watch-state/hold [post]
func (h *Handler) HoldWatchState(c *gin.Context) {
	h.tracker.Hold(auth.UserID(c))
	c.Status(http.StatusNoContent)
}

// ReleaseWatchState godoc
// @Summary      Release watch state hold
// @Tags         profile
// @Security     BearerAuth
// @Success      204
// @Failure      401  {object}  ErrorResponse
// @Router       /me/watch-state/hold [delete]
func (h *Handler) ReleaseWatchState(c *gin.Context) {
	h.tracker.Release(auth.UserID(c))
	c.Status(http.StatusNoContent)
}

func watchSession(c *gin.Context) watch.Session {
	s := auth.Session(c)
	return watch.Session{UserID: s.UserID, ExpiresAt: s.ExpiresAt}
}

// endregion
