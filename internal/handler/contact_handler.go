package handler

import (
	"net/http"

	"locshare/backend/internal/apperror"
	"locshare/backend/internal/auth"
	"locshare/backend/internal/models"

	"github.com/gin-gonic/gin"
)

// CreateContactRequest defines the request body for adding an emergency contact.
type CreateContactRequest struct {
	Name     string `json:"name" binding:"required,max=255" example:"Mom"`
	Phone    string `json:"phone" binding:"required,max=64" example:"+31 6 12345678"`
	Relation string `json:"relation" binding:"max=64" example:"parent"`
}

// GetMyEmergencyContacts godoc
// @Summary      List own emergency contacts
// @Tags         contacts
// @Produce      json
// @Security     BearerAuth
// @Success      200  {array}   models.EmergencyContact
// @Failure      401  {object}  ErrorResponse
// @Router       /me/emergency-contacts [get]
func (h *Handler) GetMyEmergencyContacts(c *gin.Context) {
	contacts, err := h.contacts.List(c.Request.Context(), auth.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(contacts))
}

// CreateEmergencyContact godoc
// @Summary      Add an emergency contact
// @Tags         contacts
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        contact  body      CreateContactRequest  true  "Contact"
// @Success      201      {object}  models.EmergencyContact
// @Failure      400      {object}  ErrorResponse
// @Failure      401      {object}  ErrorResponse
// @Router       /me/emergency-contacts [post]
func (h *Handler) CreateEmergencyContact(c *gin.Context) {
	var req CreateContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	contact := models.EmergencyContact{
		UserID:   auth.UserID(c),
		Name:     req.Name,
		Phone:    req.Phone,
		Relation: req.Relation,
	}
	if err := h.contacts.Create(c.Request.Context(), &contact); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, contact)
}

// DeleteEmergencyContact godoc
// @Summary      Remove an emergency contact
// @Tags         contacts
// @Security     BearerAuth
// @Param        id   path      string  true  "Contact ID"
// @Success      204
// @Failure      400  {object}  ErrorResponse
// @Failure      401  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse
// @Router       /me/emergency-contacts/{id} [delete]
func (h *Handler) DeleteEmergencyContact(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	n, err := h.contacts.Delete(c.Request.Context(), auth.UserID(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if n == 0 {
		respondError(c, apperror.NotFound(apperror.CodeContactNotFound, "emergency contact not found"))
		return
	}
	c.Status(http.StatusNoContent)
}

// GetUserEmergencyContacts godoc
// @Summary      List a friend's emergency contacts
// @Description  Returns the contacts only if the caller is a friend and the owner has made them visible; otherwise an empty list.
// @Tags         contacts
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "User ID"
// @Success      200  {array}   models.EmergencyContact
// @Failure      400  {object}  ErrorResponse
// @Failure      401  {object}  ErrorResponse
// @Router       /users/{id}/emergency-contacts [get]
func (h *Handler) GetUserEmergencyContacts(c *gin.Context) {
	ownerID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	viewerID := auth.UserID(c)

	if ownerID != viewerID {
		friends, err := h.friends.AreFriends(ctx, viewerID, ownerID)
		if err != nil {
			respondError(c, err)
			return
		}
		if !friends {
			c.JSON(http.StatusOK, []models.EmergencyContact{})
			return
		}
		owner, err := h.profiles.Get(ctx, ownerID)
		if err != nil && apperror.KindOf(err) != apperror.KindNotFound {
			respondError(c, err)
			return
		}
		if err != nil || !owner.ShowEmergencyContacts {
			c.JSON(http.StatusOK, []models.EmergencyContact{})
			return
		}
	}

	contacts, err := h.contacts.List(ctx, ownerID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(contacts))
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
