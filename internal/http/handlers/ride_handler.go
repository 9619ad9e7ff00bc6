// README: Ride handlers: publish, get, search, reschedule, delete, audit events.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"carpool/internal/http/middleware"
	"carpool/internal/modules/booking"
	"carpool/internal/modules/matching"
	"carpool/internal/types"
)

type RideHandler struct {
	booking  *booking.Service
	matching *matching.Service
}

func NewRideHandler(b *booking.Service, m *matching.Service) *RideHandler {
	return &RideHandler{booking: b, matching: m}
}

type createRideReq struct {
	Company          string          `json:"company"`
	Start            types.Location  `json:"start"`
	Destination      types.Location  `json:"destination"`
	Direction        types.Direction `json:"direction"`
	Date             string          `json:"date"`
	AnchorTime       string          `json:"anchor_time"`
	AvailableSeats   int             `json:"available_seats"`
	MaxDetourMinutes int             `json:"max_detour_minutes"`
}

// Create publishes a ride driven by the caller.
func (h *RideHandler) Create(c *gin.Context) {
	var req createRideReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	r, err := h.booking.CreateRide(c.Request.Context(), booking.CreateRideCommand{
		DriverID:         types.ID(middleware.CallerUID(c)),
		Company:          req.Company,
		Start:            req.Start,
		Destination:      req.Destination,
		Direction:        req.Direction,
		Date:             req.Date,
		AnchorTime:       req.AnchorTime,
		AvailableSeats:   req.AvailableSeats,
		MaxDetourMinutes: req.MaxDetourMinutes,
	})
	if err != nil {
		writeBookingError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, r)
}

func (h *RideHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	r, err := h.booking.GetRide(c.Request.Context(), types.ID(id))
	if err != nil {
		writeBookingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}

type searchReq struct {
	Pickup    types.Location  `json:"pickup"`
	Company   string          `json:"company"`
	Direction types.Direction `json:"direction"`
	Date      string          `json:"date"`
	Time      string          `json:"time"`
	Sort      string          `json:"sort"`
}

// Search lists rides that can absorb the caller's pickup within their detour budget.
func (h *RideHandler) Search(c *gin.Context) {
	var req searchReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	order := matching.SortOrder(req.Sort)
	if !order.Valid() {
		writeError(c, http.StatusBadRequest, "sort must be detour or distance")
		return
	}
	candidates, err := h.matching.Find(c.Request.Context(), matching.Query{
		PassengerID: types.ID(middleware.CallerUID(c)),
		Pickup:      req.Pickup,
		Company:     req.Company,
		Direction:   req.Direction,
		Date:        req.Date,
		Time:        req.Time,
	})
	if err != nil {
		writeBookingError(c, err)
		return
	}
	if candidates == nil {
		candidates = []matching.Candidate{}
	}
	matching.Sort(candidates, order, req.Pickup)
	writeJSON(c, http.StatusOK, gin.H{"rides": candidates})
}

type rescheduleReq struct {
	AnchorTime string `json:"anchor_time"`
}

func (h *RideHandler) Reschedule(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req rescheduleReq
	if err := c.ShouldBindJSON(&req); err != nil || req.AnchorTime == "" {
		writeError(c, http.StatusBadRequest, "anchor_time required")
		return
	}
	r, err := h.booking.Reschedule(c.Request.Context(), booking.RescheduleCommand{
		RideID:     types.ID(id),
		DriverID:   types.ID(middleware.CallerUID(c)),
		AnchorTime: req.AnchorTime,
	})
	if err != nil {
		writeBookingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}

func (h *RideHandler) Delete(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	err := h.booking.DeleteRide(c.Request.Context(), booking.DeleteRideCommand{
		RideID:   types.ID(id),
		DriverID: types.ID(middleware.CallerUID(c)),
	})
	if err != nil {
		writeBookingError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Events returns the request audit trail; driver only.
func (h *RideHandler) Events(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	events, err := h.booking.RideEvents(c.Request.Context(), types.ID(id), types.ID(middleware.CallerUID(c)))
	if err != nil {
		writeBookingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"events": events})
}

// RemovePassenger drops a passenger; callable by the driver or the passenger.
func (h *RideHandler) RemovePassenger(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	passengerID, ok := pathID(c, "passengerId")
	if !ok {
		return
	}
	r, err := h.booking.RemovePassenger(c.Request.Context(), booking.RemovePassengerCommand{
		RideID:        types.ID(id),
		PassengerID:   types.ID(passengerID),
		ActorID:       types.ID(middleware.CallerUID(c)),
		CascadeNotify: true,
	})
	if err != nil {
		writeBookingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}
