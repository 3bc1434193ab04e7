package handler

import (
	"net/http"

	"locshare/backend/internal/auth"
	"locshare/backend/internal/location"

	"github.com/gin-gonic/gin"
)

// WriteLocation godoc
// @Summary      Report own location
// @Description  Writes a fix. The first fix in a throttle window is stored at once (200); later ones are held and the latest is stored when the window closes (202).
// @Tags         location
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        fix  body      location.Fix  true  "Sensor sample"
// @Success      200  {object}  location.WriteResult
// @Success      202  {object}  location.WriteResult
// @Failure      400  {object}  ErrorResponse
// @Failure      401  {object}  ErrorResponse
// @Failure      503  {object}  ErrorResponse "Store unreachable or retries exhausted"
// @Router       /location [put]
func (h *Handler) WriteLocation(c *gin.Context) {
	var fix location.Fix
	if err := c.ShouldBindJSON(&fix); err != nil {
		badRequest(c, err.Error())
		return
	}

	res, err := h.ledger.Write(c.Request.Context(), auth.UserID(c), fix)
	if err != nil {
		respondError(c, err)
		return
	}
	status := http.StatusOK
	if res.Outcome == location.OutcomeCoalesced {
		status = http.StatusAccepted
	}
	c.JSON(status, res)
}

// GetMyLocation godoc
// @Summary      Get own location record
// @Tags         location
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  models.LocationRecord
// @Failure      401  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse
// @Router       /location [get]
func (h *Handler) GetMyLocation(c *gin.Context) {
	rec, err := h.ledger.ReadOwn(c.Request.Context(), auth.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// StopSharing godoc
// @Summary      Stop sharing location
// @Description  Clears the stored coordinates; friends see the user as not locatable.
// @Tags         location
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  models.LocationRecord
// @Failure      401  {object}  ErrorResponse
// @Failure      503  {object}  ErrorResponse
// @Router       /location [delete]
func (h *Handler) StopSharing(c *gin.Context) {
	rec, err := h.ledger.SetSharing(c.Request.Context(), auth.UserID(c), false)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}
