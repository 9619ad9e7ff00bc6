// README: Operator endpoints.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"carpool/internal/http/middleware"
	"carpool/internal/modules/booking"
)

const roleAdmin = "admin"

type AdminHandler struct {
	booking *booking.Service
}

func NewAdminHandler(b *booking.Service) *AdminHandler {
	return &AdminHandler{booking: b}
}

// Sweep runs the expire sweep on demand. Requires the "admin" role claim.
func (h *AdminHandler) Sweep(c *gin.Context) {
	if middleware.CallerRole(c) != roleAdmin {
		writeError(c, http.StatusForbidden, "admin role required")
		return
	}
	report, err := h.booking.ExpireSweep(c.Request.Context())
	if err != nil {
		writeBookingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, report)
}
