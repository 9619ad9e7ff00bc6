package booking

import (
	"context"
	"errors"
	"fmt"

	"carpool/internal/modules/detour"
	"carpool/internal/modules/notification"
	"carpool/internal/modules/ride"
	"carpool/internal/observability"
	"carpool/internal/types"
)

// RequestJoin evaluates the passenger's pickup against the ride's current
// route and files a PENDING request when it fits.
func (s *Service) RequestJoin(ctx context.Context, cmd RequestJoinCommand) (req *ride.Request, err error) {
	defer func() { observability.RideMutations.WithLabelValues("request", observability.Result(err)).Inc() }()
	if cmd.PassengerID == "" {
		return nil, fmt.Errorf("%w: passenger is required", ErrBadRequest)
	}
	pickup, err := s.resolve(ctx, cmd.Pickup)
	if err != nil {
		return nil, err
	}
	r, err := s.store.GetRide(ctx, cmd.RideID)
	if err != nil {
		return nil, err
	}
	pending, err := s.store.ListRequests(ctx, r.ID, ride.StatusPending)
	if err != nil {
		return nil, err
	}
	if err := joinable(r, pending, cmd.PassengerID); err != nil {
		return nil, err
	}

	in, err := detour.InputForRide(r, types.Stop{Location: pickup, PassengerID: cmd.PassengerID})
	if err != nil {
		return nil, err
	}
	eval, err := s.evaluator.Evaluate(ctx, in)
	if err != nil {
		return nil, err
	}
	if !eval.Allowed {
		return nil, ErrDetourExceeded
	}

	// Re-checked in the transaction against requests filed concurrently.
	err = s.store.InRideTx(ctx, r.ID, func(ctx context.Context, tx ride.Tx) error {
		pending, err := tx.Requests(ctx, ride.StatusPending)
		if err != nil {
			return err
		}
		if err := joinable(tx.Ride(), pending, cmd.PassengerID); err != nil {
			return err
		}
		now := s.now()
		req = &ride.Request{
			ID:          s.newID(),
			RideID:      r.ID,
			PassengerID: cmd.PassengerID,
			Status:      ride.StatusPending,
			Pickup:      pickup,
			Notes:       cmd.Notes,
			Evaluation:  eval,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		tx.PutRequest(req)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.recordEvent(ctx, r.ID, req.ID, ride.StatusNone, ride.StatusPending, ride.ActorPassenger, &req.PassengerID)
	s.notifier.Notify(ctx, notification.Intent{
		Recipients: []types.ID{r.DriverID},
		RideID:     r.ID,
		Title:      "New ride request",
		Body:       fmt.Sprintf("A passenger asked to join your %s ride on %s (+%d min).", r.Direction, r.Date, eval.AddedDetourMinutes),
		Screen:     notification.ScreenRequestList,
	})
	return req, nil
}

// joinable reports why passengerID cannot ask to join r, given the ride's
// pending requests.
func joinable(r *ride.Ride, pending []*ride.Request, passengerID types.ID) error {
	switch {
	case !r.Active:
		return ride.ErrInvalidState
	case r.DriverID == passengerID:
		return fmt.Errorf("%w: drivers cannot join their own ride", ErrForbidden)
	case r.HasPassenger(passengerID):
		return fmt.Errorf("%w: already a passenger", ErrBadRequest)
	case r.FreeSeats() <= 0:
		return ErrRideFull
	}
	for _, p := range pending {
		if p.PassengerID == passengerID {
			return fmt.Errorf("%w: a pending request already exists", ErrBadRequest)
		}
	}
	return nil
}

// Approve inserts the requesting passenger into the ride inside one ride
// transaction. A routing failure or a rebuilt route over the detour budget
// aborts with nothing written and the request still PENDING.
func (s *Service) Approve(ctx context.Context, cmd ApproveCommand) (out *ride.Ride, err error) {
	defer func() { observability.RideMutations.WithLabelValues("approve", observability.Result(err)).Inc() }()
	var approved *ride.Request
	err = s.store.InRideTx(ctx, cmd.RideID, func(ctx context.Context, tx ride.Tx) error {
		r := tx.Ride()
		if r.DriverID != cmd.DriverID {
			return ErrForbidden
		}
		if !r.Active {
			return ride.ErrInvalidState
		}
		req, err := tx.Request(ctx, cmd.RequestID)
		if err != nil {
			return err
		}
		if !ride.CanTransition(req.Status, ride.StatusAccepted) {
			return ride.ErrInvalidState
		}
		if r.HasPassenger(req.PassengerID) {
			return ride.ErrInvalidState
		}
		if r.FreeSeats() <= 0 {
			return ErrRideFull
		}

		stop := req.Evaluation.Stop
		stop.PassengerID = req.PassengerID
		if stop.Location == (types.Location{}) {
			stop.Location = req.Pickup
		}
		stops := make([]types.Stop, 0, len(r.PickupStops)+1)
		stops = append(stops, r.PickupStops...)
		stops = append(stops, stop)

		original, err := r.OriginalDurationMinutes()
		if err != nil {
			return err
		}
		rebuilt, err := s.rebuilder.Rebuild(ctx, r, stops, true, original, r.CurrentDetourMinutes)
		if err != nil {
			return err
		}
		if rebuilt.CurrentDetourMinutes > rebuilt.MaxDetourMinutes {
			return ErrDetourExceeded
		}
		if !rebuilt.WithinDay() {
			return errCrossesMidnight
		}
		rebuilt.OccupiedSeats++
		rebuilt.UpdatedAt = s.now()

		req.Status = ride.StatusAccepted
		req.UpdatedAt = rebuilt.UpdatedAt
		tx.PutRide(rebuilt)
		tx.PutRequest(req)
		out, approved = rebuilt, req
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordEvent(ctx, out.ID, approved.ID, ride.StatusPending, ride.StatusAccepted, ride.ActorDriver, &cmd.DriverID)
	if err := s.store.AttachRide(ctx, out.ID, approved.PassengerID); err != nil {
		s.log.Warn("attach ride to passenger failed", "ride_id", out.ID, "passenger_id", approved.PassengerID, "error", err)
	}
	s.log.Info("request approved", "ride_id", out.ID, "request_id", approved.ID, "detour", out.CurrentDetourMinutes)

	intents := s.reevaluatePending(ctx, out)
	intents = append(intents, notification.Intent{
		Recipients: []types.ID{approved.PassengerID},
		RideID:     out.ID,
		Title:      "Request approved",
		Body:       fmt.Sprintf("You joined the %s ride on %s.", out.Direction, out.Date),
		Screen:     notification.ScreenRideDetail,
	})
	if others := without(out.Passengers, approved.PassengerID); len(others) > 0 {
		intents = append(intents, notification.Intent{
			Recipients: others,
			RideID:     out.ID,
			Title:      "Ride updated",
			Body:       fmt.Sprintf("A new passenger joined. The ride now runs %s to %s.", out.DepartureTime, out.ArrivalTime),
			Screen:     notification.ScreenRideDetail,
		})
	}
	s.notifier.Notify(ctx, intents...)
	return out, nil
}

func (s *Service) Decline(ctx context.Context, cmd DeclineCommand) (err error) {
	defer func() { observability.RideMutations.WithLabelValues("decline", observability.Result(err)).Inc() }()
	r, err := s.store.GetRide(ctx, cmd.RideID)
	if err != nil {
		return err
	}
	if r.DriverID != cmd.DriverID {
		return ErrForbidden
	}
	req, err := s.transition(ctx, cmd.RideID, cmd.RequestID, ride.StatusDeclined, ride.ActorDriver, &cmd.DriverID)
	if err != nil {
		return err
	}
	s.notifier.Notify(ctx, notification.Intent{
		Recipients: []types.ID{req.PassengerID},
		RideID:     r.ID,
		Title:      "Request declined",
		Body:       fmt.Sprintf("The driver declined your request for the %s ride on %s.", r.Direction, r.Date),
		Screen:     notification.ScreenMyRides,
	})
	return nil
}

func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) (err error) {
	defer func() { observability.RideMutations.WithLabelValues("cancel", observability.Result(err)).Inc() }()
	r, err := s.store.GetRide(ctx, cmd.RideID)
	if err != nil {
		return err
	}
	req, err := s.store.GetRequest(ctx, cmd.RideID, cmd.RequestID)
	if err != nil {
		return err
	}
	if req.PassengerID != cmd.PassengerID {
		return ErrForbidden
	}
	if _, err := s.transition(ctx, cmd.RideID, cmd.RequestID, ride.StatusCancelled, ride.ActorPassenger, &cmd.PassengerID); err != nil {
		return err
	}
	s.notifier.Notify(ctx, notification.Intent{
		Recipients: []types.ID{r.DriverID},
		RideID:     r.ID,
		Title:      "Request withdrawn",
		Body:       "A passenger withdrew their request.",
		Screen:     notification.ScreenRequestList,
	})
	return nil
}

// transition moves a PENDING request to a terminal status and records it.
func (s *Service) transition(ctx context.Context, rideID, requestID types.ID, to ride.RequestStatus, actorType string, actorID *types.ID) (*ride.Request, error) {
	req, err := s.store.GetRequest(ctx, rideID, requestID)
	if err != nil {
		return nil, err
	}
	if !ride.CanTransition(req.Status, to) {
		return nil, ride.ErrInvalidState
	}
	if err := s.store.UpdateRequestStatus(ctx, rideID, requestID, req.Status, to); err != nil {
		return nil, err
	}
	s.recordEvent(ctx, rideID, requestID, req.Status, to, actorType, actorID)
	req.Status = to
	return req, nil
}

// RemovePassenger takes a passenger off the ride and re-routes the remaining
// stops inside one ride transaction.
func (s *Service) RemovePassenger(ctx context.Context, cmd RemovePassengerCommand) (out *ride.Ride, err error) {
	defer func() { observability.RideMutations.WithLabelValues("remove", observability.Result(err)).Inc() }()
	var driverID types.ID
	err = s.store.InRideTx(ctx, cmd.RideID, func(ctx context.Context, tx ride.Tx) error {
		r := tx.Ride()
		if cmd.ActorID != r.DriverID && cmd.ActorID != cmd.PassengerID {
			return ErrForbidden
		}
		if !r.HasPassenger(cmd.PassengerID) {
			return ErrPassengerNotFound
		}
		before, err := r.RouteDurationMinutes()
		if err != nil {
			return err
		}
		removed := r.Clone()
		removed.RemovePassenger(cmd.PassengerID)
		rebuilt, err := s.rebuilder.Rebuild(ctx, removed, removed.PickupStops, false, before, r.CurrentDetourMinutes)
		if err != nil {
			return err
		}
		rebuilt.UpdatedAt = s.now()
		tx.PutRide(rebuilt)
		out, driverID = rebuilt, r.DriverID
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.store.DetachRide(ctx, out.ID, cmd.PassengerID); err != nil {
		s.log.Warn("detach ride from passenger failed", "ride_id", out.ID, "passenger_id", cmd.PassengerID, "error", err)
	}
	s.log.Info("passenger removed", "ride_id", out.ID, "passenger_id", cmd.PassengerID, "detour", out.CurrentDetourMinutes)

	intents := s.reevaluatePending(ctx, out)
	if cmd.CascadeNotify {
		if cmd.ActorID == driverID {
			intents = append(intents, notification.Intent{
				Recipients: []types.ID{cmd.PassengerID},
				RideID:     out.ID,
				Title:      "Removed from ride",
				Body:       fmt.Sprintf("The driver removed you from the %s ride on %s.", out.Direction, out.Date),
				Screen:     notification.ScreenMyRides,
			})
		} else {
			intents = append(intents, notification.Intent{
				Recipients: []types.ID{driverID},
				RideID:     out.ID,
				Title:      "Passenger left",
				Body:       fmt.Sprintf("A passenger left your %s ride on %s.", out.Direction, out.Date),
				Screen:     notification.ScreenRideDetail,
			})
		}
		if len(out.Passengers) > 0 {
			intents = append(intents, notification.Intent{
				Recipients: out.Passengers,
				RideID:     out.ID,
				Title:      "Ride updated",
				Body:       fmt.Sprintf("A passenger left. The ride now runs %s to %s.", out.DepartureTime, out.ArrivalTime),
				Screen:     notification.ScreenRideDetail,
			})
		}
	}
	s.notifier.Notify(ctx, intents...)
	return out, nil
}

// reevaluatePending re-runs the detour check for every PENDING request
// against the just-committed route. Requests that no longer fit are declined;
// the rest get the fresh evaluation. Errors are logged and skipped.
func (s *Service) reevaluatePending(ctx context.Context, r *ride.Ride) []notification.Intent {
	pending, err := s.store.ListRequests(ctx, r.ID, ride.StatusPending)
	if err != nil {
		s.log.Warn("list pending requests failed", "ride_id", r.ID, "error", err)
		return nil
	}
	var declined []types.ID
	for _, req := range pending {
		in, err := detour.InputForRide(r, types.Stop{Location: req.Pickup, PassengerID: req.PassengerID})
		if err != nil {
			s.log.Warn("re-evaluation input failed", "ride_id", r.ID, "request_id", req.ID, "error", err)
			continue
		}
		eval, err := s.evaluator.Evaluate(ctx, in)
		if err != nil {
			s.log.Warn("re-evaluation failed", "ride_id", r.ID, "request_id", req.ID, "error", err)
			continue
		}
		if eval.Allowed {
			if err := s.store.UpdateRequestEvaluation(ctx, r.ID, req.ID, eval); err != nil && !errors.Is(err, ride.ErrInvalidState) {
				s.log.Warn("store re-evaluation failed", "ride_id", r.ID, "request_id", req.ID, "error", err)
			}
			continue
		}
		if err := s.store.UpdateRequestStatus(ctx, r.ID, req.ID, ride.StatusPending, ride.StatusDeclined); err != nil {
			if !errors.Is(err, ride.ErrInvalidState) {
				s.log.Warn("auto-decline failed", "ride_id", r.ID, "request_id", req.ID, "error", err)
			}
			continue
		}
		observability.AutoDeclines.WithLabelValues("detour").Inc()
		s.recordEvent(ctx, r.ID, req.ID, ride.StatusPending, ride.StatusDeclined, ride.ActorSystem, nil)
		declined = append(declined, req.PassengerID)
	}
	if len(declined) == 0 {
		return nil
	}
	return []notification.Intent{{
		Recipients: declined,
		RideID:     r.ID,
		Title:      "Request declined",
		Body:       "The ride's route changed and can no longer fit your pickup.",
		Screen:     notification.ScreenMyRides,
	}}
}

// declineAllPending declines every PENDING request on the ride and returns
// the affected passengers. Only the listing error is returned.
func (s *Service) declineAllPending(ctx context.Context, r *ride.Ride, actorType string, actorID *types.ID, reason string) ([]types.ID, error) {
	pending, err := s.store.ListRequests(ctx, r.ID, ride.StatusPending)
	if err != nil {
		return nil, err
	}
	var declined []types.ID
	for _, req := range pending {
		if err := s.store.UpdateRequestStatus(ctx, r.ID, req.ID, ride.StatusPending, ride.StatusDeclined); err != nil {
			if !errors.Is(err, ride.ErrInvalidState) {
				s.log.Warn("decline pending request failed", "ride_id", r.ID, "request_id", req.ID, "reason", reason, "error", err)
			}
			continue
		}
		observability.AutoDeclines.WithLabelValues(reason).Inc()
		s.recordEvent(ctx, r.ID, req.ID, ride.StatusPending, ride.StatusDeclined, actorType, actorID)
		declined = append(declined, req.PassengerID)
	}
	return declined, nil
}

func without(ids []types.ID, drop types.ID) []types.ID {
	out := make([]types.ID, 0, len(ids))
	for _, id := range ids {
		if id != drop {
			out = append(out, id)
		}
	}
	return out
}
