// README: Route rebuilder: re-routes a ride after its stop set changes and recomputes derived fields.
package route

import (
	"context"

	"carpool/internal/clock"
	"carpool/internal/maps"
	"carpool/internal/modules/ride"
	"carpool/internal/types"
)

// Router is the routing provider surface; *maps.RouteService satisfies it.
type Router interface {
	RouteDuration(ctx context.Context, q maps.RouteQuery) (maps.RouteEstimate, error)
	RouteWithWaypoints(ctx context.Context, q maps.RouteQuery) (maps.WaypointRoute, error)
}

type Rebuilder struct {
	router Router
}

func NewRebuilder(router Router) *Rebuilder {
	return &Rebuilder{router: router}
}

// Rebuild routes the ride through stops and returns a copy of the ride with
// stops, passenger order, detour, polyline and the derived end time updated.
// The input ride is not modified, and nothing is returned on routing failure.
//
// Detour on insertion is measured against referenceDuration taken as the
// original zero-stop route duration. On removal referenceDuration is the route
// duration before the removal and the detour shrinks by the time saved:
// priorDetour - (referenceDuration - newDuration).
func (b *Rebuilder) Rebuild(ctx context.Context, r *ride.Ride, stops []types.Stop, isInsertion bool, referenceDuration, priorDetour int) (*ride.Ride, error) {
	q := maps.RouteQuery{
		Origin:      r.Start,
		Destination: r.Destination,
		AnchorTime:  r.AnchorTime(),
		Date:        r.Date,
		Direction:   r.Direction,
	}
	out := r.Clone()

	if len(stops) == 0 {
		est, err := b.router.RouteDuration(ctx, q)
		if err != nil {
			return nil, err
		}
		reference, err := clock.ShiftByDirection(q.AnchorTime, est.DurationMinutes, r.Direction)
		if err != nil {
			return nil, err
		}
		out.PickupStops = nil
		out.Passengers = nil
		out.CurrentDetourMinutes = 0
		out.EncodedPolyline = est.EncodedPolyline
		out.SetReferenceTime(reference)
		return out, nil
	}

	q.Waypoints = stops
	wr, err := b.router.RouteWithWaypoints(ctx, q)
	if err != nil {
		return nil, err
	}
	reference, err := clock.ShiftByDirection(q.AnchorTime, wr.DurationMinutes, r.Direction)
	if err != nil {
		return nil, err
	}

	ordered := make([]types.Stop, 0, len(wr.OrderedStops))
	passengers := make([]types.ID, 0, len(wr.OrderedStops))
	for _, s := range wr.OrderedStops {
		s.PickupTime, s.DropoffTime = "", ""
		if r.Direction == types.DirectionToWork {
			s.PickupTime = wr.PickupTimes[s.PassengerID]
		} else {
			s.DropoffTime = wr.DropoffTimes[s.PassengerID]
		}
		ordered = append(ordered, s)
		passengers = append(passengers, s.PassengerID)
	}

	out.PickupStops = ordered
	out.Passengers = passengers
	out.EncodedPolyline = wr.EncodedPolyline
	out.SetReferenceTime(reference)
	if isInsertion {
		out.CurrentDetourMinutes = wr.DurationMinutes - referenceDuration
	} else {
		out.CurrentDetourMinutes = priorDetour - (referenceDuration - wr.DurationMinutes)
	}
	return out, nil
}
