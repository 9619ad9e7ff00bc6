// README: Ride mutation orchestrator: ride creation, join requests, approvals, removals, rescheduling and deletion.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"carpool/internal/clock"
	"carpool/internal/config"
	"carpool/internal/maps"
	"carpool/internal/modules/detour"
	"carpool/internal/modules/notification"
	"carpool/internal/modules/ride"
	"carpool/internal/observability"
	"carpool/internal/types"
)

var (
	ErrBadRequest        = errors.New("bad request")
	ErrForbidden         = errors.New("forbidden")
	ErrRideFull          = errors.New("ride has no free seats")
	ErrDetourExceeded    = errors.New("detour exceeds the ride's maximum")
	ErrPassengerNotFound = fmt.Errorf("passenger %w", ride.ErrNotFound)

	errCrossesMidnight = fmt.Errorf("%w: route crosses midnight", ErrBadRequest)
)

type Router interface {
	RouteDuration(ctx context.Context, q maps.RouteQuery) (maps.RouteEstimate, error)
}

type Evaluator interface {
	Evaluate(ctx context.Context, in detour.Input) (ride.EvaluationResult, error)
}

type Rebuilder interface {
	Rebuild(ctx context.Context, r *ride.Ride, stops []types.Stop, isInsertion bool, referenceDuration, priorDetour int) (*ride.Ride, error)
}

type Notifier interface {
	Notify(ctx context.Context, intents ...notification.Intent)
}

type PlaceResolver interface {
	ResolvePlace(ctx context.Context, placeID string) (types.Location, error)
}

// Deps are the collaborators of the orchestrator. Events, Places and Lock are optional.
type Deps struct {
	Store     ride.Store
	Events    ride.EventLog
	Router    Router
	Evaluator Evaluator
	Rebuilder Rebuilder
	Notifier  Notifier
	Places    PlaceResolver
	Lock      Locker
	Location  *time.Location
}

type Service struct {
	store     ride.Store
	events    ride.EventLog
	router    Router
	evaluator Evaluator
	rebuilder Rebuilder
	notifier  Notifier
	places    PlaceResolver
	lock      Locker
	loc       *time.Location
	cfg       config.BookingConfig
	log       *slog.Logger
	now       func() time.Time
	newID     func() types.ID
}

func NewService(deps Deps, cfg config.BookingConfig, log *slog.Logger) *Service {
	s := &Service{
		store:     deps.Store,
		events:    deps.Events,
		router:    deps.Router,
		evaluator: deps.Evaluator,
		rebuilder: deps.Rebuilder,
		notifier:  deps.Notifier,
		places:    deps.Places,
		lock:      deps.Lock,
		loc:       deps.Location,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
		newID:     func() types.ID { return types.ID(uuid.NewString()) },
	}
	if s.events == nil {
		s.events = ride.NewMemoryEventLog()
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.notifier == nil {
		s.notifier = notification.NewDispatcher(notification.NewLogSink(log), log)
	}
	return s
}

// ---------------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------------

// CreateRideCommand publishes a ride. AnchorTime is the arrival time for
// to-work rides and the departure time for to-home rides.
type CreateRideCommand struct {
	DriverID         types.ID
	Company          string
	Start            types.Location
	Destination      types.Location
	Direction        types.Direction
	Date             string
	AnchorTime       string
	AvailableSeats   int
	MaxDetourMinutes int
}

type RequestJoinCommand struct {
	RideID      types.ID
	PassengerID types.ID
	Pickup      types.Location
	Notes       string
}

type ApproveCommand struct {
	RideID    types.ID
	RequestID types.ID
	DriverID  types.ID
}

type DeclineCommand struct {
	RideID    types.ID
	RequestID types.ID
	DriverID  types.ID
}

type CancelCommand struct {
	RideID      types.ID
	RequestID   types.ID
	PassengerID types.ID
}

// RemovePassengerCommand takes a passenger off a ride. ActorID must be the
// driver or the passenger.
type RemovePassengerCommand struct {
	RideID        types.ID
	PassengerID   types.ID
	ActorID       types.ID
	CascadeNotify bool
}

type RescheduleCommand struct {
	RideID     types.ID
	DriverID   types.ID
	AnchorTime string
}

type DeleteRideCommand struct {
	RideID   types.ID
	DriverID types.ID
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

func (s *Service) GetRide(ctx context.Context, id types.ID) (*ride.Ride, error) {
	return s.store.GetRide(ctx, id)
}

// ListRequests returns the ride's requests; only the driver may list them.
func (s *Service) ListRequests(ctx context.Context, rideID, callerID types.ID, status ride.RequestStatus) ([]*ride.Request, error) {
	r, err := s.store.GetRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if r.DriverID != callerID {
		return nil, ErrForbidden
	}
	return s.store.ListRequests(ctx, rideID, status)
}

func (s *Service) RideEvents(ctx context.Context, rideID, callerID types.ID) ([]*ride.Event, error) {
	r, err := s.store.GetRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if r.DriverID != callerID {
		return nil, ErrForbidden
	}
	return s.events.ListByRide(ctx, rideID)
}

// ---------------------------------------------------------------------------
// Ride lifecycle
// ---------------------------------------------------------------------------

func (cmd CreateRideCommand) validate() error {
	if cmd.DriverID == "" || cmd.Company == "" {
		return fmt.Errorf("%w: driver and company are required", ErrBadRequest)
	}
	if !cmd.Direction.Valid() {
		return fmt.Errorf("%w: unknown direction %q", ErrBadRequest, cmd.Direction)
	}
	if cmd.AvailableSeats < 1 {
		return fmt.Errorf("%w: at least one seat is required", ErrBadRequest)
	}
	if cmd.MaxDetourMinutes < 0 {
		return fmt.Errorf("%w: max detour must not be negative", ErrBadRequest)
	}
	if _, err := clock.ParseDate(cmd.Date); err != nil {
		return err
	}
	_, err := clock.ParseClock(cmd.AnchorTime)
	return err
}

// CreateRide routes the zero-passenger trip and stores it as the ride's
// original route, the baseline every later detour is measured against.
func (s *Service) CreateRide(ctx context.Context, cmd CreateRideCommand) (r *ride.Ride, err error) {
	defer func() { observability.RideMutations.WithLabelValues("create", observability.Result(err)).Inc() }()
	if err := cmd.validate(); err != nil {
		return nil, err
	}
	start, err := s.resolve(ctx, cmd.Start)
	if err != nil {
		return nil, err
	}
	dest, err := s.resolve(ctx, cmd.Destination)
	if err != nil {
		return nil, err
	}

	est, err := s.router.RouteDuration(ctx, maps.RouteQuery{
		Origin:      start,
		Destination: dest,
		AnchorTime:  cmd.AnchorTime,
		Date:        cmd.Date,
		Direction:   cmd.Direction,
	})
	if err != nil {
		return nil, err
	}
	derived, err := clock.ShiftByDirection(cmd.AnchorTime, est.DurationMinutes, cmd.Direction)
	if err != nil {
		return nil, err
	}

	now := s.now()
	r = &ride.Ride{
		ID:               s.newID(),
		DriverID:         cmd.DriverID,
		Company:          cmd.Company,
		Start:            start,
		Destination:      dest,
		Direction:        cmd.Direction,
		Date:             cmd.Date,
		AvailableSeats:   cmd.AvailableSeats,
		MaxDetourMinutes: cmd.MaxDetourMinutes,
		EncodedPolyline:  est.EncodedPolyline,
		Active:           true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	r.SetAnchorTime(cmd.AnchorTime)
	r.SetReferenceTime(derived)
	if !r.WithinDay() {
		return nil, errCrossesMidnight
	}
	r.Original = ride.OriginalRoute{
		DepartureTime:   r.DepartureTime,
		ArrivalTime:     r.ArrivalTime,
		EncodedPolyline: est.EncodedPolyline,
	}

	if err := s.store.CreateRide(ctx, r); err != nil {
		return nil, err
	}
	if err := s.store.AttachRide(ctx, r.ID, r.DriverID); err != nil {
		s.log.Warn("attach ride to driver failed", "ride_id", r.ID, "driver_id", r.DriverID, "error", err)
	}
	s.log.Info("ride created", "ride_id", r.ID, "driver_id", r.DriverID, "direction", r.Direction, "date", r.Date)
	return r, nil
}

// resolve fills in coordinates from the place id when they are missing.
func (s *Service) resolve(ctx context.Context, l types.Location) (types.Location, error) {
	if l.HasCoordinates() || l.PlaceID == "" || s.places == nil {
		if !l.HasCoordinates() && l.PlaceID == "" && l.Name == "" {
			return l, fmt.Errorf("%w: location is empty", ErrBadRequest)
		}
		return l, nil
	}
	resolved, err := s.places.ResolvePlace(ctx, l.PlaceID)
	if err != nil {
		return l, err
	}
	if l.Name != "" {
		resolved.Name = l.Name
	}
	return resolved, nil
}

// Reschedule moves the ride's anchor time and re-routes the current stops.
// The original route snapshot is kept as the detour baseline.
func (s *Service) Reschedule(ctx context.Context, cmd RescheduleCommand) (out *ride.Ride, err error) {
	defer func() { observability.RideMutations.WithLabelValues("reschedule", observability.Result(err)).Inc() }()
	if _, err := clock.ParseClock(cmd.AnchorTime); err != nil {
		return nil, err
	}
	err = s.store.InRideTx(ctx, cmd.RideID, func(ctx context.Context, tx ride.Tx) error {
		r := tx.Ride()
		if r.DriverID != cmd.DriverID {
			return ErrForbidden
		}
		if !r.Active {
			return ride.ErrInvalidState
		}
		original, err := r.OriginalDurationMinutes()
		if err != nil {
			return err
		}
		shifted := r.Clone()
		shifted.SetAnchorTime(cmd.AnchorTime)
		rebuilt, err := s.rebuilder.Rebuild(ctx, shifted, shifted.PickupStops, true, original, r.CurrentDetourMinutes)
		if err != nil {
			return err
		}
		if !rebuilt.WithinDay() {
			return errCrossesMidnight
		}
		rebuilt.UpdatedAt = s.now()
		tx.PutRide(rebuilt)
		out = rebuilt
		return nil
	})
	if err != nil {
		return nil, err
	}

	intents := s.reevaluatePending(ctx, out)
	if len(out.Passengers) > 0 {
		intents = append(intents, notification.Intent{
			Recipients: out.Passengers,
			RideID:     out.ID,
			Title:      "Ride rescheduled",
			Body:       fmt.Sprintf("Your %s ride on %s now runs %s to %s.", out.Direction, out.Date, out.DepartureTime, out.ArrivalTime),
			Screen:     notification.ScreenRideDetail,
		})
	}
	s.notifier.Notify(ctx, intents...)
	return out, nil
}

// DeleteRide declines every pending request, detaches the ride from all
// members and removes it.
func (s *Service) DeleteRide(ctx context.Context, cmd DeleteRideCommand) (err error) {
	defer func() { observability.RideMutations.WithLabelValues("delete", observability.Result(err)).Inc() }()
	r, err := s.store.GetRide(ctx, cmd.RideID)
	if err != nil {
		return err
	}
	if r.DriverID != cmd.DriverID {
		return ErrForbidden
	}
	declined, err := s.declineAllPending(ctx, r, ride.ActorDriver, &cmd.DriverID, "ride_deleted")
	if err != nil {
		return err
	}
	if err := s.store.DetachRide(ctx, r.ID, r.Members()...); err != nil {
		s.log.Warn("detach deleted ride failed", "ride_id", r.ID, "error", err)
	}
	if err := s.store.DeleteRide(ctx, r.ID); err != nil {
		return err
	}
	s.log.Info("ride deleted", "ride_id", r.ID, "passengers", len(r.Passengers), "declined_requests", len(declined))

	intents := []notification.Intent{{
		Recipients: r.Passengers,
		RideID:     r.ID,
		Title:      "Ride cancelled",
		Body:       fmt.Sprintf("The driver cancelled the %s ride on %s.", r.Direction, r.Date),
		Screen:     notification.ScreenMyRides,
	}}
	if len(declined) > 0 {
		intents = append(intents, notification.Intent{
			Recipients: declined,
			RideID:     r.ID,
			Title:      "Request declined",
			Body:       "The ride you asked to join was cancelled.",
			Screen:     notification.ScreenMyRides,
		})
	}
	s.notifier.Notify(ctx, intents...)
	return nil
}

// recordEvent appends to the audit trail; failures are logged only.
func (s *Service) recordEvent(ctx context.Context, rideID, requestID types.ID, from, to ride.RequestStatus, actorType string, actorID *types.ID) {
	err := s.events.Append(ctx, &ride.Event{
		RideID:     rideID,
		RequestID:  requestID,
		FromStatus: from,
		ToStatus:   to,
		ActorType:  actorType,
		ActorID:    actorID,
		CreatedAt:  s.now(),
	})
	if err != nil {
		s.log.Warn("append request event failed", "ride_id", rideID, "request_id", requestID, "to", to, "error", err)
	}
}
