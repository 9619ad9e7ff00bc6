// README: Join-request handlers: send, list, approve, decline, cancel.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"carpool/internal/http/middleware"
	"carpool/internal/modules/booking"
	"carpool/internal/modules/ride"
	"carpool/internal/types"
)

type RequestHandler struct {
	booking *booking.Service
}

func NewRequestHandler(b *booking.Service) *RequestHandler {
	return &RequestHandler{booking: b}
}

type joinReq struct {
	Pickup types.Location `json:"pickup"`
	Notes  string         `json:"notes"`
}

func (h *RequestHandler) Create(c *gin.Context) {
	rideID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req joinReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	out, err := h.booking.RequestJoin(c.Request.Context(), booking.RequestJoinCommand{
		RideID:      types.ID(rideID),
		PassengerID: types.ID(middleware.CallerUID(c)),
		Pickup:      req.Pickup,
		Notes:       req.Notes,
	})
	if err != nil {
		writeBookingError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, out)
}

// List returns the ride's requests, optionally filtered by ?status=.
func (h *RequestHandler) List(c *gin.Context) {
	rideID, ok := pathID(c, "id")
	if !ok {
		return
	}
	status := ride.RequestStatus(c.Query("status"))
	switch status {
	case ride.StatusNone, ride.StatusPending, ride.StatusAccepted, ride.StatusDeclined, ride.StatusCancelled:
	default:
		writeError(c, http.StatusBadRequest, "invalid status")
		return
	}
	reqs, err := h.booking.ListRequests(c.Request.Context(), types.ID(rideID), types.ID(middleware.CallerUID(c)), status)
	if err != nil {
		writeBookingError(c, err)
		return
	}
	if reqs == nil {
		reqs = []*ride.Request{}
	}
	writeJSON(c, http.StatusOK, gin.H{"requests": reqs})
}

func (h *RequestHandler) Approve(c *gin.Context) {
	rideID, requestID, ok := requestPath(c)
	if !ok {
		return
	}
	r, err := h.booking.Approve(c.Request.Context(), booking.ApproveCommand{
		RideID:    rideID,
		RequestID: requestID,
		DriverID:  types.ID(middleware.CallerUID(c)),
	})
	if err != nil {
		writeBookingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}

func (h *RequestHandler) Decline(c *gin.Context) {
	rideID, requestID, ok := requestPath(c)
	if !ok {
		return
	}
	err := h.booking.Decline(c.Request.Context(), booking.DeclineCommand{
		RideID:    rideID,
		RequestID: requestID,
		DriverID:  types.ID(middleware.CallerUID(c)),
	})
	if err != nil {
		writeBookingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"request_id": requestID, "status": ride.StatusDeclined})
}

func (h *RequestHandler) Cancel(c *gin.Context) {
	rideID, requestID, ok := requestPath(c)
	if !ok {
		return
	}
	err := h.booking.Cancel(c.Request.Context(), booking.CancelCommand{
		RideID:      rideID,
		RequestID:   requestID,
		PassengerID: types.ID(middleware.CallerUID(c)),
	})
	if err != nil {
		writeBookingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"request_id": requestID, "status": ride.StatusCancelled})
}

func requestPath(c *gin.Context) (types.ID, types.ID, bool) {
	rideID, ok := pathID(c, "id")
	if !ok {
		return "", "", false
	}
	requestID, ok := pathID(c, "requestId")
	if !ok {
		return "", "", false
	}
	return types.ID(rideID), types.ID(requestID), true
}
