package booking

import (
	"context"
	"fmt"
	"time"

	"carpool/internal/clock"
	"carpool/internal/modules/notification"
	"carpool/internal/modules/ride"
	"carpool/internal/observability"
	"carpool/internal/types"
)

const sweepLockKey = "carpool:sweep:lock"

// SweepReport summarizes one expire sweep.
type SweepReport struct {
	Scanned  int  `json:"scanned"`
	Expired  int  `json:"expired"`
	Declined int  `json:"declined"`
	Failed   int  `json:"failed"`
	Skipped  bool `json:"skipped"`
}

// AutoDeclineThreshold is how close to departure pending requests are still accepted.
func (s *Service) AutoDeclineThreshold(d types.Direction) time.Duration {
	if d == types.DirectionToWork {
		return time.Duration(s.cfg.AutoDeclineToWorkMinutes) * time.Minute
	}
	return time.Duration(s.cfg.AutoDeclineToHomeMinutes) * time.Minute
}

// ExpireSweep deactivates rides whose anchor time plus the expiry margin has
// passed and declines pending requests on rides close to departure. A failing
// ride is logged and the sweep moves on. When a lock is configured and another
// instance holds it, the sweep is skipped.
func (s *Service) ExpireSweep(ctx context.Context) (SweepReport, error) {
	var rep SweepReport
	if s.lock != nil {
		ok, err := s.lock.Acquire(ctx, sweepLockKey, sweepLockTTL)
		if err != nil {
			return rep, fmt.Errorf("acquire sweep lock: %w", err)
		}
		if !ok {
			rep.Skipped = true
			return rep, nil
		}
		defer func() {
			if err := s.lock.Release(context.WithoutCancel(ctx), sweepLockKey); err != nil {
				s.log.Warn("release sweep lock failed", "error", err)
			}
		}()
	}

	rides, err := s.store.ListActiveRides(ctx, ride.RideFilter{})
	if err != nil {
		return rep, err
	}
	now := s.now()
	for _, r := range rides {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		rep.Scanned++
		expired, declined, err := s.sweepRide(ctx, r, now)
		if err != nil {
			rep.Failed++
			observability.SweepErrors.Inc()
			s.log.Error("sweep ride failed", "ride_id", r.ID, "error", err)
			continue
		}
		if expired {
			rep.Expired++
		}
		rep.Declined += declined
	}
	if rep.Expired > 0 || rep.Declined > 0 || rep.Failed > 0 {
		s.log.Info("expire sweep finished", "scanned", rep.Scanned, "expired", rep.Expired, "declined", rep.Declined, "failed", rep.Failed)
	}
	return rep, nil
}

func (s *Service) sweepRide(ctx context.Context, r *ride.Ride, now time.Time) (bool, int, error) {
	anchor, err := clock.At(r.Date, r.AnchorTime(), s.loc)
	if err != nil {
		return false, 0, err
	}
	if now.After(anchor.Add(time.Duration(s.cfg.ExpiryMarginMinutes) * time.Minute)) {
		if err := s.store.SetActive(ctx, r.ID, false); err != nil {
			return false, 0, err
		}
		if err := s.store.DetachRide(ctx, r.ID, r.Members()...); err != nil {
			s.log.Warn("detach expired ride failed", "ride_id", r.ID, "error", err)
		}
		observability.RidesExpired.Inc()
		return true, 0, nil
	}

	departure, err := clock.At(r.Date, r.DepartureTime, s.loc)
	if err != nil {
		return false, 0, err
	}
	if departure.Sub(now) > s.AutoDeclineThreshold(r.Direction) {
		return false, 0, nil
	}
	declined, err := s.declineAllPending(ctx, r, ride.ActorSystem, nil, "departure_soon")
	if err != nil {
		return false, 0, err
	}
	if len(declined) > 0 {
		s.notifier.Notify(ctx, notification.Intent{
			Recipients: declined,
			RideID:     r.ID,
			Title:      "Request declined",
			Body:       "The ride departs too soon to add another passenger.",
			Screen:     notification.ScreenMyRides,
		})
	}
	return false, len(declined), nil
}

// RunExpireTicker runs ExpireSweep every interval until ctx is cancelled.
func (s *Service) RunExpireTicker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.ExpireSweep(ctx); err != nil {
				s.log.Error("expire sweep failed", "error", err)
			}
		}
	}
}
