// README: Common value objects shared across modules (ids, coordinates, ride stops).
package types

type ID string

type Point struct {
	Lat float64 `json:"lat" firestore:"lat"`
	Lng float64 `json:"lng" firestore:"lng"`
}

// Location is a named point as stored on rides and requests.
type Location struct {
	Name    string `json:"name" firestore:"name"`
	Point   Point  `json:"point" firestore:"point"`
	PlaceID string `json:"place_id,omitempty" firestore:"placeId,omitempty"`
}

// HasCoordinates reports whether the location carries a usable geocoordinate.
func (l Location) HasCoordinates() bool {
	return l.Point.Lat != 0 || l.Point.Lng != 0
}

type Direction string

const (
	// DirectionToWork rides are arrival-anchored: times are computed backward from the office arrival.
	DirectionToWork Direction = "TO_WORK"
	// DirectionToHome rides are departure-anchored: times are computed forward from the departure.
	DirectionToHome Direction = "TO_HOME"
)

func (d Direction) Valid() bool {
	return d == DirectionToWork || d == DirectionToHome
}

// Stop is one passenger waypoint on a ride. Exactly one of PickupTime and
// DropoffTime is set once the stop has been routed: pickup for to-work rides,
// dropoff for to-home rides.
type Stop struct {
	Location    Location `json:"location" firestore:"location"`
	PassengerID ID       `json:"passenger_id" firestore:"passengerId"`
	PickupTime  string   `json:"pickup_time,omitempty" firestore:"pickupTime,omitempty"`
	DropoffTime string   `json:"dropoff_time,omitempty" firestore:"dropoffTime,omitempty"`
}

// StopTime returns whichever of the pickup or dropoff time the direction uses.
func (s Stop) StopTime(d Direction) string {
	if d == DirectionToHome {
		return s.DropoffTime
	}
	return s.PickupTime
}
