// README: Detour evaluator: decides whether one more pickup fits a ride's detour budget.
package detour

import (
	"context"
	"errors"
	"time"

	"carpool/internal/clock"
	"carpool/internal/maps"
	"carpool/internal/modules/ride"
	"carpool/internal/types"
)

// Router is the routing call the evaluator needs; *maps.RouteService satisfies it.
type Router interface {
	RouteWithWaypoints(ctx context.Context, q maps.RouteQuery) (maps.WaypointRoute, error)
}

// Input is the time and duration context of one evaluation.
type Input struct {
	Start                       types.Location
	Destination                 types.Location
	Pickup                      types.Stop
	MaxDetourMinutes            int
	CurrentDetourMinutes        int
	CurrentRouteDurationMinutes int
	AnchorTime                  string
	Date                        string
	CurrentStops                []types.Stop
	Direction                   types.Direction
}

// InputForRide fills an Input from the ride's current persisted route.
func InputForRide(r *ride.Ride, pickup types.Stop) (Input, error) {
	duration, err := r.RouteDurationMinutes()
	if err != nil {
		return Input{}, err
	}
	return Input{
		Start:                       r.Start,
		Destination:                 r.Destination,
		Pickup:                      pickup,
		MaxDetourMinutes:            r.MaxDetourMinutes,
		CurrentDetourMinutes:        r.CurrentDetourMinutes,
		CurrentRouteDurationMinutes: duration,
		AnchorTime:                  r.AnchorTime(),
		Date:                        r.Date,
		CurrentStops:                r.PickupStops,
		Direction:                   r.Direction,
	}, nil
}

type Evaluator struct {
	router Router
	now    func() time.Time
}

func NewEvaluator(router Router) *Evaluator {
	return &Evaluator{router: router, now: time.Now}
}

// Evaluate routes the current stops plus the prospective pickup and reports
// whether the added detour stays within budget. The result is returned even
// when the pickup is not allowed. Only the upper bound is checked: an
// insertion that shortens the route is allowed.
func (e *Evaluator) Evaluate(ctx context.Context, in Input) (ride.EvaluationResult, error) {
	stops := make([]types.Stop, 0, len(in.CurrentStops)+1)
	stops = append(stops, in.CurrentStops...)
	stops = append(stops, in.Pickup)

	route, err := e.router.RouteWithWaypoints(ctx, maps.RouteQuery{
		Origin:      in.Start,
		Destination: in.Destination,
		Waypoints:   stops,
		AnchorTime:  in.AnchorTime,
		Date:        in.Date,
		Direction:   in.Direction,
	})
	if err != nil {
		var re *maps.RoutingError
		if !errors.As(err, &re) {
			err = &maps.RoutingError{Op: "evaluate", Err: err}
		}
		return ride.EvaluationResult{}, err
	}

	added := route.DurationMinutes - in.CurrentRouteDurationMinutes
	reference, err := clock.ShiftByDirection(in.AnchorTime, route.DurationMinutes, in.Direction)
	if err != nil {
		return ride.EvaluationResult{}, err
	}

	return ride.EvaluationResult{
		Allowed:            in.CurrentDetourMinutes+added <= in.MaxDetourMinutes,
		AddedDetourMinutes: added,
		Stop:               timedStop(in.Pickup, route, in.Direction),
		ReferenceTime:      reference,
		EncodedPolyline:    route.EncodedPolyline,
		EvaluatedAt:        e.now(),
	}, nil
}

// timedStop picks the prospective passenger's stop out of the routed order
// with its pickup (to-work) or dropoff (to-home) time.
func timedStop(pickup types.Stop, route maps.WaypointRoute, d types.Direction) types.Stop {
	stop := pickup
	for _, s := range route.OrderedStops {
		if s.PassengerID == pickup.PassengerID {
			stop = s
			break
		}
	}
	stop.PickupTime, stop.DropoffTime = "", ""
	if d == types.DirectionToWork {
		stop.PickupTime = route.PickupTimes[pickup.PassengerID]
	} else {
		stop.DropoffTime = route.DropoffTimes[pickup.PassengerID]
	}
	return stop
}
