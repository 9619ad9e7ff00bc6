// README: Routing provider backed by the Google Maps Directions API.
package maps

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"googlemaps.github.io/maps"

	"carpool/internal/clock"
	"carpool/internal/types"
)

// ErrNoRoute is wrapped in a RoutingError when the provider answers without a usable route.
var ErrNoRoute = errors.New("no route found")

// RoutingError is returned for every provider failure: transport, quota, or no route.
type RoutingError struct {
	Op  string
	Err error
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("routing %s: %v", e.Op, e.Err)
}

func (e *RoutingError) Unwrap() error { return e.Err }

// RouteQuery describes one provider call. AnchorTime is the ride's fixed clock
// time: arrival for to-work rides, departure for to-home rides.
type RouteQuery struct {
	Origin      types.Location
	Destination types.Location
	Waypoints   []types.Stop
	AnchorTime  string
	Date        string
	Direction   types.Direction
}

type RouteEstimate struct {
	DurationMinutes int
	EncodedPolyline string
}

// WaypointRoute is a route through all waypoints in the provider's best order.
// PickupTimes is filled for to-work rides and DropoffTimes for to-home rides,
// both keyed by passenger id.
type WaypointRoute struct {
	RouteEstimate
	OrderedStops []types.Stop
	PickupTimes  map[types.ID]string
	DropoffTimes map[types.ID]string
}

type Options struct {
	Language string
	Region   string
	Location *time.Location
}

// directionsClient is the subset of *maps.Client the route service calls.
type directionsClient interface {
	Directions(ctx context.Context, r *maps.DirectionsRequest) ([]maps.Route, []maps.GeocodedWaypoint, error)
}

// RouteService handles interactions with Google Maps API.
type RouteService struct {
	client directionsClient
	opts   Options
	now    func() time.Time
}

// NewRouteService creates a new RouteService with the given API Key.
func NewRouteService(apiKey string, opts Options) (*RouteService, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return newRouteService(client, opts), nil
}

func newRouteService(client directionsClient, opts Options) *RouteService {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &RouteService{client: client, opts: opts, now: time.Now}
}

// RouteDuration returns the drive time and geometry of the direct origin to destination route.
func (s *RouteService) RouteDuration(ctx context.Context, q RouteQuery) (RouteEstimate, error) {
	q.Waypoints = nil
	route, err := s.directions(ctx, "duration", q)
	if err != nil {
		return RouteEstimate{}, err
	}
	return RouteEstimate{
		DurationMinutes: minutesOf(totalDuration(route)),
		EncodedPolyline: route.OverviewPolyline.Points,
	}, nil
}

// RouteWithWaypoints asks the provider to optimize the waypoint order and
// returns the ordered stops with their per-stop times.
func (s *RouteService) RouteWithWaypoints(ctx context.Context, q RouteQuery) (WaypointRoute, error) {
	route, err := s.directions(ctx, "waypoints", q)
	if err != nil {
		return WaypointRoute{}, err
	}
	wr, err := assembleWaypointRoute(route, q)
	if err != nil {
		return WaypointRoute{}, &RoutingError{Op: "waypoints", Err: err}
	}
	return wr, nil
}

func (s *RouteService) directions(ctx context.Context, op string, q RouteQuery) (maps.Route, error) {
	r := &maps.DirectionsRequest{
		Origin:      placeRef(q.Origin),
		Destination: placeRef(q.Destination),
		Mode:        maps.TravelModeDriving,
		Language:    s.opts.Language,
		Region:      s.opts.Region,
	}
	if len(q.Waypoints) > 0 {
		r.Optimize = true
		r.Waypoints = make([]string, len(q.Waypoints))
		for i, w := range q.Waypoints {
			r.Waypoints[i] = placeRef(w.Location)
		}
	}
	// Traffic-aware durations need a future departure; to-work rides only know
	// their arrival, which driving directions do not accept.
	if q.Direction == types.DirectionToHome {
		if dep, err := clock.At(q.Date, q.AnchorTime, s.opts.Location); err == nil && dep.After(s.now()) {
			r.DepartureTime = strconv.FormatInt(dep.Unix(), 10)
		}
	}

	routes, _, err := s.client.Directions(ctx, r)
	if err != nil {
		return maps.Route{}, &RoutingError{Op: op, Err: fmt.Errorf("maps api error: %w", err)}
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return maps.Route{}, &RoutingError{Op: op, Err: ErrNoRoute}
	}
	return routes[0], nil
}

// assembleWaypointRoute maps the provider's optimized order and leg durations
// back onto the query's stops.
func assembleWaypointRoute(route maps.Route, q RouteQuery) (WaypointRoute, error) {
	n := len(q.Waypoints)
	if len(route.Legs) != n+1 {
		return WaypointRoute{}, fmt.Errorf("expected %d legs, got %d", n+1, len(route.Legs))
	}
	order := route.WaypointOrder
	if len(order) == 0 && n > 0 {
		order = make([]int, n)
		for i := range order {
			order[i] = i
		}
	}
	if len(order) != n {
		return WaypointRoute{}, fmt.Errorf("expected %d waypoint indexes, got %d", n, len(order))
	}

	total := minutesOf(totalDuration(route))
	wr := WaypointRoute{
		RouteEstimate: RouteEstimate{
			DurationMinutes: total,
			EncodedPolyline: route.OverviewPolyline.Points,
		},
		OrderedStops: make([]types.Stop, 0, n),
		PickupTimes:  make(map[types.ID]string, n),
		DropoffTimes: make(map[types.ID]string, n),
	}

	var elapsed time.Duration
	for i, idx := range order {
		if idx < 0 || idx >= n {
			return WaypointRoute{}, fmt.Errorf("waypoint index %d out of range", idx)
		}
		elapsed += route.Legs[i].Duration
		stop := q.Waypoints[idx]
		stop.PickupTime, stop.DropoffTime = "", ""
		offset := minutesOf(elapsed)

		if q.Direction == types.DirectionToWork {
			t, err := clock.AddMinutes(q.AnchorTime, -(total - offset))
			if err != nil {
				return WaypointRoute{}, err
			}
			stop.PickupTime = t
			wr.PickupTimes[stop.PassengerID] = t
		} else {
			t, err := clock.AddMinutes(q.AnchorTime, offset)
			if err != nil {
				return WaypointRoute{}, err
			}
			stop.DropoffTime = t
			wr.DropoffTimes[stop.PassengerID] = t
		}
		wr.OrderedStops = append(wr.OrderedStops, stop)
	}
	return wr, nil
}

func totalDuration(route maps.Route) time.Duration {
	var d time.Duration
	for _, leg := range route.Legs {
		d += leg.Duration
	}
	return d
}

func minutesOf(d time.Duration) int {
	return int(math.Round(d.Minutes()))
}

// placeRef prefers coordinates and falls back to the place id, then the name.
func placeRef(l types.Location) string {
	switch {
	case l.HasCoordinates():
		return strconv.FormatFloat(l.Point.Lat, 'f', 6, 64) + "," + strconv.FormatFloat(l.Point.Lng, 'f', 6, 64)
	case l.PlaceID != "":
		return "place_id:" + l.PlaceID
	default:
		return l.Name
	}
}
