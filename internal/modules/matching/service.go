// README: Ride search: filters the active pool and evaluates each candidate's detour concurrently.
package matching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"carpool/internal/clock"
	"carpool/internal/modules/detour"
	"carpool/internal/modules/ride"
	"carpool/internal/observability"
	"carpool/internal/types"
)

var ErrBadQuery = errors.New("invalid search query")

type RideLister interface {
	ListActiveRides(ctx context.Context, f ride.RideFilter) ([]*ride.Ride, error)
}

type Evaluator interface {
	Evaluate(ctx context.Context, in detour.Input) (ride.EvaluationResult, error)
}

// Query is a passenger's search. Time is the desired anchor (arrival for
// to-work, departure for to-home); empty disables the time window.
type Query struct {
	PassengerID types.ID
	Pickup      types.Location
	Company     string
	Direction   types.Direction
	Date        string
	Time        string
}

// Candidate pairs a ride with the evaluation that admitted the passenger.
type Candidate struct {
	Ride       *ride.Ride            `json:"ride"`
	Evaluation ride.EvaluationResult `json:"evaluation"`
}

type Config struct {
	WindowMinutes int
	Concurrency   int
}

type Service struct {
	rides     RideLister
	evaluator Evaluator
	cfg       Config
	log       *slog.Logger
}

func NewService(rides RideLister, evaluator Evaluator, cfg Config, log *slog.Logger) *Service {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Service{rides: rides, evaluator: evaluator, cfg: cfg, log: log}
}

func (q Query) validate() error {
	if q.PassengerID == "" || q.Company == "" || !q.Direction.Valid() {
		return ErrBadQuery
	}
	if !q.Pickup.HasCoordinates() && q.Pickup.PlaceID == "" && q.Pickup.Name == "" {
		return fmt.Errorf("%w: pickup location is empty", ErrBadQuery)
	}
	if _, err := clock.ParseDate(q.Date); err != nil {
		return err
	}
	if q.Time != "" {
		if _, err := clock.ParseClock(q.Time); err != nil {
			return err
		}
	}
	return nil
}

// Find loads the active rides for the query's company and direction and
// returns those that accept the passenger's pickup.
func (s *Service) Find(ctx context.Context, q Query) ([]Candidate, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() { observability.SearchLatency.Observe(time.Since(start).Seconds()) }()

	pool, err := s.rides.ListActiveRides(ctx, ride.RideFilter{Company: q.Company, Direction: q.Direction, Date: q.Date})
	if err != nil {
		return nil, err
	}
	return s.FindCandidates(ctx, q, pool)
}

// FindCandidates evaluates every eligible ride in pool. Rides whose
// evaluation fails are skipped and logged; an error is returned only when
// every eligible ride failed. Results keep the pool order.
func (s *Service) FindCandidates(ctx context.Context, q Query, pool []*ride.Ride) ([]Candidate, error) {
	eligible := make([]*ride.Ride, 0, len(pool))
	for _, r := range pool {
		if s.eligible(q, r) {
			eligible = append(eligible, r)
		}
	}
	if len(eligible) == 0 {
		return nil, nil
	}

	pickup := types.Stop{Location: q.Pickup, PassengerID: q.PassengerID}
	results := make([]*ride.EvaluationResult, len(eligible))
	errs := make([]error, len(eligible))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, r := range eligible {
		g.Go(func() error {
			in, err := detour.InputForRide(r, pickup)
			if err == nil {
				var res ride.EvaluationResult
				res, err = s.evaluator.Evaluate(gctx, in)
				if err == nil {
					results[i] = &res
				}
			}
			if err != nil {
				errs[i] = err
				observability.DetourEvaluations.WithLabelValues("error").Inc()
				s.log.Warn("candidate evaluation failed", "ride_id", r.ID, "passenger_id", q.PassengerID, "error", err)
			}
			// per-ride failures never cancel the rest of the search
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []Candidate
	failed := 0
	for i, res := range results {
		if res == nil {
			failed++
			continue
		}
		if !res.Allowed {
			observability.DetourEvaluations.WithLabelValues("rejected").Inc()
			continue
		}
		observability.DetourEvaluations.WithLabelValues("allowed").Inc()
		out = append(out, Candidate{Ride: eligible[i], Evaluation: *res})
	}
	if failed == len(eligible) {
		return nil, fmt.Errorf("all %d candidate evaluations failed: %w", failed, errors.Join(errs...))
	}
	return out, nil
}

func (s *Service) eligible(q Query, r *ride.Ride) bool {
	if !r.Active || r.FreeSeats() <= 0 {
		return false
	}
	if r.DriverID == q.PassengerID || r.HasPassenger(q.PassengerID) {
		return false
	}
	if r.Company != q.Company || r.Direction != q.Direction || (q.Date != "" && r.Date != q.Date) {
		return false
	}
	if q.Time == "" || s.cfg.WindowMinutes <= 0 {
		return true
	}
	diff, err := clock.DifferenceMinutes(r.AnchorTime(), q.Time)
	if err != nil {
		s.log.Warn("ride has malformed anchor time", "ride_id", r.ID, "error", err)
		return false
	}
	return diff <= s.cfg.WindowMinutes
}
