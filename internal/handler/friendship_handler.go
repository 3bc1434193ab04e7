package handler

import (
	"net/http"

	"locshare/backend/internal/auth"
	"locshare/backend/internal/friendship"
	"locshare/backend/internal/models"

	"github.com/gin-gonic/gin"
)

// SendRequestBody defines the request body for a friend request.
type SendRequestBody struct {
	Email string `json:"email" binding:"required,email" example:"friend@example.com"`
}

// SendRequestResponse carries the id of the new pending edge.
type SendRequestResponse struct {
	ID string `json:"id" example:"6f1c2a8e-4d0b-4c57-9e35-2b8f0c1d9a11"`
}

// GetFriends godoc
// @Summary      List friends
// @Description  Returns the profiles of all accepted friends, each once.
// @Tags         friendship
// @Produce      json
// @Security     BearerAuth
// @Param        page   query     int  false  "Page number"  default(1)
// @Param        limit  query     int  false  "Page size"    default(50)
// @Success      200    {object}  PaginatedResponse[models.Profile]
// @Failure      401    {object}  ErrorResponse
// @Router       /friends [get]
func (h *Handler) GetFriends(c *gin.Context) {
	friends, err := h.friends.ListFriends(c.Request.Context(), auth.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	page, limit := pageParams(c)
	c.JSON(http.StatusOK, Paginate[models.Profile](friends, page, limit))
}

// RemoveFriend godoc
// @Summary      Unfriend
// @Description  Deletes the accepted friendship with the user. Succeeds even if there is none.
// @Tags         friendship
// @Security     BearerAuth
// @Param        id   path      string  true  "Friend's user ID"
// @Success      204
// @Failure      400  {object}  ErrorResponse
// @Failure      401  {object}  ErrorResponse
// @Router       /friends/{id} [delete]
func (h *Handler) RemoveFriend(c *gin.Context) {
	otherID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	if err := h.friends.DeleteFriendship(c.Request.Context(), auth.UserID(c), otherID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SendRequest godoc
// @Summary      Send friend request
// @Description  Sends a friend request to the user registered under the given email.
// @Tags         friendship
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request  body      SendRequestBody  true  "Target email"
// @Success      201      {object}  SendRequestResponse
// @Failure      400      {object}  ErrorResponse "Invalid email or self request"
// @Failure      401      {object}  ErrorResponse
// @Failure      404      {object}  ErrorResponse "No user with that email"
// @Failure      409      {object}  ErrorResponse "Already friends or request pending"
// @Router       /friend-requests [post]
func (h *Handler) SendRequest(c *gin.Context) {
	var req SendRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	id, err := h.friends.SendRequest(c.Request.Context(), auth.UserID(c), req.Email)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, SendRequestResponse{ID: id.String()})
}

// GetIncomingRequests godoc
// @Summary      List incoming friend requests
// @Tags         friendship
// @Produce      json
// @Security     BearerAuth
// @Param        page   query     int  false  "Page number"  default(1)
// @Param        limit  query     int  false  "Page size"    default(50)
// @Success      200    {object}  PaginatedResponse[friendship.PendingRequest]
// @Failure      401    {object}  ErrorResponse
// @Router       /friend-requests/incoming [get]
func (h *Handler) GetIncomingRequests(c *gin.Context) {
	pending, err := h.friends.ListPendingIncoming(c.Request.Context(), auth.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	page, limit := pageParams(c)
	c.JSON(http.StatusOK, Paginate[friendship.PendingRequest](pending, page, limit))
}

// AcceptRequest godoc
// @Summary      Accept friend request
// @Tags         friendship
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Request ID"
// @Success      200  {object}  MessageResponse
// @Failure      400  {object}  ErrorResponse "Caller is not the recipient"
// @Failure      401  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse
// @Failure      409  {object}  ErrorResponse "Request already handled"
// @Router       /friend-requests/{id}/accept [post]
func (h *Handler) AcceptRequest(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	if err := h.friends.AcceptRequest(c.Request.Context(), id, auth.UserID(c)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, MessageResponse{Message: "Friend request accepted"})
}

// RejectRequest godoc
// @Summary      Reject friend request
// @Description  Rejecting an already rejected request succeeds.
// @Tags         friendship
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Request ID"
// @Success      200  {object}  MessageResponse
// @Failure      400  {object}  ErrorResponse
// @Failure      401  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse
// @Failure      409  {object}  ErrorResponse "Request already accepted"
// @Router       /friend-requests/{id}/reject [post]
func (h *Handler) RejectRequest(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	if err := h.friends.RejectRequest(c.Request.Context(), id, auth.UserID(c)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, MessageResponse{Message: "Friend request rejected"})
}

// CancelRequest godoc
// @Summary      Withdraw friend request
// @Tags         friendship
// @Security     BearerAuth
// @Param        id   path      string  true  "Request ID"
// @Success      204
// @Failure      400  {object}  ErrorResponse
// @Failure      401  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse
// @Router       /friend-requests/{id} [delete]
func (h *Handler) CancelRequest(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	if err := h.friends.CancelRequest(c.Request.Context(), auth.UserID(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetFriendLocations godoc
// @Summary      Friends' current locations
// @Description  Records of friends who are sharing, with name, avatar and derived presence.
// @Tags         location
// @Produce      json
// @Security     BearerAuth
// @Success      200  {array}   fanout.FriendLocation
// @Failure      401  {object}  ErrorResponse
// @Router       /friends/locations [get]
func (h *Handler) GetFriendLocations(c *gin.Context) {
	list, err := h.router.GetFriendLocations(c.Request.Context(), auth.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// GetFriendWatchStates godoc
// @Summary      Friends' watch states
// @Tags         profile
// @Produce      json
// @Security     BearerAuth
// @Success      200  {array}   hub.WatchState
// @Failure      401  {object}  ErrorResponse
// @Router       /friends/watch-states [get]
func (h *Handler) GetFriendWatchStates(c *gin.Context) {
	states, err := h.tracker.FriendWatchStates(c.Request.Context(), auth.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, states)
}
