// README: Ride aggregate, join requests, detour evaluation results and the request status machine.
package ride

import (
	"time"

	"carpool/internal/clock"
	"carpool/internal/types"
)

type RequestStatus string

const (
	StatusNone      RequestStatus = ""
	StatusPending   RequestStatus = "PENDING"
	StatusAccepted  RequestStatus = "ACCEPTED"
	StatusDeclined  RequestStatus = "DECLINED"
	StatusCancelled RequestStatus = "CANCELLED"
)

// AllowedTransitions represents the request state flow as code. Every state
// other than PENDING is terminal; re-requesting needs a new Request.
var AllowedTransitions = map[RequestStatus][]RequestStatus{
	StatusNone:    {StatusPending},
	StatusPending: {StatusAccepted, StatusDeclined, StatusCancelled},
}

func CanTransition(from, to RequestStatus) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

// OriginalRoute is the zero-passenger route computed at creation. It is the
// baseline every detour is measured against and never changes afterwards.
type OriginalRoute struct {
	DepartureTime   string `json:"departure_time" firestore:"departureTime"`
	ArrivalTime     string `json:"arrival_time" firestore:"arrivalTime"`
	EncodedPolyline string `json:"encoded_polyline" firestore:"encodedPolyline"`
}

type Ride struct {
	ID                   types.ID        `json:"id" firestore:"id"`
	DriverID             types.ID        `json:"driver_id" firestore:"driverId"`
	Company              string          `json:"company" firestore:"company"`
	Start                types.Location  `json:"start" firestore:"start"`
	Destination          types.Location  `json:"destination" firestore:"destination"`
	Direction            types.Direction `json:"direction" firestore:"direction"`
	Date                 string          `json:"date" firestore:"date"`
	ArrivalTime          string          `json:"arrival_time" firestore:"arrivalTime"`
	DepartureTime        string          `json:"departure_time" firestore:"departureTime"`
	AvailableSeats       int             `json:"available_seats" firestore:"availableSeats"`
	OccupiedSeats        int             `json:"occupied_seats" firestore:"occupiedSeats"`
	Passengers           []types.ID      `json:"passengers" firestore:"passengers"`
	PickupStops          []types.Stop    `json:"pickup_stops" firestore:"pickupStops"`
	MaxDetourMinutes     int             `json:"max_detour_minutes" firestore:"maxDetourMinutes"`
	CurrentDetourMinutes int             `json:"current_detour_minutes" firestore:"currentDetourMinutes"`
	EncodedPolyline      string          `json:"encoded_polyline" firestore:"encodedPolyline"`
	Original             OriginalRoute   `json:"original_route" firestore:"originalRoute"`
	Active               bool            `json:"active" firestore:"active"`
	CreatedAt            time.Time       `json:"created_at" firestore:"createdAt"`
	UpdatedAt            time.Time       `json:"updated_at" firestore:"updatedAt"`
}

// AnchorTime is the fixed clock time the schedule is computed from: arrival
// for to-work rides, departure for to-home rides.
func (r *Ride) AnchorTime() string {
	if r.Direction == types.DirectionToWork {
		return r.ArrivalTime
	}
	return r.DepartureTime
}

// SetAnchorTime replaces the fixed clock time.
func (r *Ride) SetAnchorTime(t string) {
	if r.Direction == types.DirectionToWork {
		r.ArrivalTime = t
		return
	}
	r.DepartureTime = t
}

// SetReferenceTime stores the derived end of the schedule: departure for
// to-work rides, arrival for to-home rides.
func (r *Ride) SetReferenceTime(t string) {
	if r.Direction == types.DirectionToWork {
		r.DepartureTime = t
		return
	}
	r.ArrivalTime = t
}

// RouteDurationMinutes is the drive time of the current route.
func (r *Ride) RouteDurationMinutes() (int, error) {
	return clock.DifferenceMinutes(r.DepartureTime, r.ArrivalTime)
}

// OriginalDurationMinutes is the drive time of the zero-passenger route.
func (r *Ride) OriginalDurationMinutes() (int, error) {
	return clock.DifferenceMinutes(r.Original.DepartureTime, r.Original.ArrivalTime)
}

// WithinDay reports whether the ride departs and arrives on its calendar
// date. Durations and the sweep's departure instant rely on it.
func (r *Ride) WithinDay() bool {
	dep, err := clock.ParseClock(r.DepartureTime)
	if err != nil {
		return false
	}
	arr, err := clock.ParseClock(r.ArrivalTime)
	if err != nil {
		return false
	}
	return dep <= arr
}

func (r *Ride) HasPassenger(id types.ID) bool {
	return indexOf(r.Passengers, id) >= 0
}

func (r *Ride) FreeSeats() int {
	return r.AvailableSeats - r.OccupiedSeats
}

// Members is the driver followed by the current passengers.
func (r *Ride) Members() []types.ID {
	out := make([]types.ID, 0, len(r.Passengers)+1)
	out = append(out, r.DriverID)
	return append(out, r.Passengers...)
}

// RemovePassenger drops the passenger and their stop. It reports false when
// the passenger is not on the ride.
func (r *Ride) RemovePassenger(id types.ID) bool {
	i := indexOf(r.Passengers, id)
	if i < 0 {
		return false
	}
	r.Passengers = append(r.Passengers[:i:i], r.Passengers[i+1:]...)
	stops := make([]types.Stop, 0, len(r.PickupStops))
	for _, s := range r.PickupStops {
		if s.PassengerID != id {
			stops = append(stops, s)
		}
	}
	r.PickupStops = stops
	if r.OccupiedSeats > 0 {
		r.OccupiedSeats--
	}
	return true
}

// Clone returns a deep copy safe to mutate.
func (r *Ride) Clone() *Ride {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Passengers = append([]types.ID(nil), r.Passengers...)
	cp.PickupStops = append([]types.Stop(nil), r.PickupStops...)
	return &cp
}

func indexOf(ids []types.ID, id types.ID) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}

// EvaluationResult is the verdict of one detour evaluation. It is replaced
// wholesale on every re-evaluation.
type EvaluationResult struct {
	Allowed            bool       `json:"allowed" firestore:"allowed"`
	AddedDetourMinutes int        `json:"added_detour_minutes" firestore:"addedDetourMinutes"`
	Stop               types.Stop `json:"stop" firestore:"stop"`
	ReferenceTime      string     `json:"reference_time" firestore:"referenceTime"`
	EncodedPolyline    string     `json:"encoded_polyline" firestore:"encodedPolyline"`
	EvaluatedAt        time.Time  `json:"evaluated_at" firestore:"evaluatedAt"`
}

// Request is a passenger's ask to join a ride, stored under the ride.
type Request struct {
	ID          types.ID         `json:"id" firestore:"id"`
	RideID      types.ID         `json:"ride_id" firestore:"rideId"`
	PassengerID types.ID         `json:"passenger_id" firestore:"passengerId"`
	Status      RequestStatus    `json:"status" firestore:"status"`
	Pickup      types.Location   `json:"pickup" firestore:"pickup"`
	Notes       string           `json:"notes,omitempty" firestore:"notes"`
	Evaluation  EvaluationResult `json:"evaluation" firestore:"evaluation"`
	CreatedAt   time.Time        `json:"created_at" firestore:"createdAt"`
	UpdatedAt   time.Time        `json:"updated_at" firestore:"updatedAt"`
}

// Event is one request status transition, kept as an audit trail.
type Event struct {
	ID         int64         `json:"id"`
	RideID     types.ID      `json:"ride_id"`
	RequestID  types.ID      `json:"request_id"`
	FromStatus RequestStatus `json:"from_status"`
	ToStatus   RequestStatus `json:"to_status"`
	ActorType  string        `json:"actor_type"`
	ActorID    *types.ID     `json:"actor_id,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

const (
	ActorDriver    = "driver"
	ActorPassenger = "passenger"
	ActorSystem    = "system"
)
