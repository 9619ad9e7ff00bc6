// README: Ride model and in-memory store tests.
package ride

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"carpool/internal/types"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to RequestStatus
		want     bool
	}{
		{StatusNone, StatusPending, true},
		{StatusPending, StatusAccepted, true},
		{StatusPending, StatusDeclined, true},
		{StatusPending, StatusCancelled, true},
		// terminal states
		{StatusAccepted, StatusDeclined, false},
		{StatusAccepted, StatusPending, false},
		{StatusDeclined, StatusAccepted, false},
		{StatusCancelled, StatusPending, false},
		// skipping PENDING
		{StatusNone, StatusAccepted, false},
		{StatusPending, StatusPending, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%q, %q) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestAnchorAndReferenceByDirection(t *testing.T) {
	work := &Ride{Direction: types.DirectionToWork, ArrivalTime: "09:00", DepartureTime: "08:30"}
	if got := work.AnchorTime(); got != "09:00" {
		t.Fatalf("to-work anchor = %s, want 09:00", got)
	}
	work.SetReferenceTime("08:20")
	if work.DepartureTime != "08:20" || work.ArrivalTime != "09:00" {
		t.Fatalf("to-work reference set wrong field: %+v", work)
	}

	home := &Ride{Direction: types.DirectionToHome, ArrivalTime: "18:40", DepartureTime: "18:00"}
	if got := home.AnchorTime(); got != "18:00" {
		t.Fatalf("to-home anchor = %s, want 18:00", got)
	}
	home.SetAnchorTime("18:15")
	home.SetReferenceTime("18:55")
	if home.DepartureTime != "18:15" || home.ArrivalTime != "18:55" {
		t.Fatalf("to-home times = %s/%s", home.DepartureTime, home.ArrivalTime)
	}
	d, err := home.RouteDurationMinutes()
	if err != nil || d != 40 {
		t.Fatalf("duration = %d, %v; want 40", d, err)
	}
}

func TestWithinDay(t *testing.T) {
	cases := []struct {
		dep, arr string
		want     bool
	}{
		{"08:30", "09:00", true},
		{"00:00", "23:59", true},
		{"23:40", "00:20", false},
		{"bad", "09:00", false},
	}
	for _, tc := range cases {
		r := &Ride{DepartureTime: tc.dep, ArrivalTime: tc.arr}
		if got := r.WithinDay(); got != tc.want {
			t.Errorf("WithinDay(%s-%s) = %v, want %v", tc.dep, tc.arr, got, tc.want)
		}
	}
}

func TestRemovePassenger(t *testing.T) {
	r := &Ride{
		Passengers:    []types.ID{"p1", "p2", "p3"},
		PickupStops:   []types.Stop{{PassengerID: "p1"}, {PassengerID: "p2"}, {PassengerID: "p3"}},
		OccupiedSeats: 3,
	}
	orig := r.Clone()
	if !r.RemovePassenger("p2") {
		t.Fatal("expected p2 to be removed")
	}
	if len(r.Passengers) != 2 || r.Passengers[0] != "p1" || r.Passengers[1] != "p3" {
		t.Fatalf("passengers = %v", r.Passengers)
	}
	if len(r.PickupStops) != 2 || r.PickupStops[1].PassengerID != "p3" {
		t.Fatalf("stops = %+v", r.PickupStops)
	}
	if r.OccupiedSeats != 2 {
		t.Fatalf("occupied = %d, want 2", r.OccupiedSeats)
	}
	if len(orig.Passengers) != 3 || orig.Passengers[1] != "p2" {
		t.Fatalf("clone was mutated: %v", orig.Passengers)
	}
	if r.RemovePassenger("nobody") {
		t.Fatal("removing unknown passenger should report false")
	}

	empty := &Ride{Passengers: []types.ID{"p1"}}
	empty.RemovePassenger("p1")
	if empty.OccupiedSeats != 0 {
		t.Fatalf("occupied seats went below zero: %d", empty.OccupiedSeats)
	}
}

// ---------------------------------------------------------------------------
// memory store
// ---------------------------------------------------------------------------

func newTestRide(id types.ID) *Ride {
	return &Ride{
		ID:             id,
		DriverID:       "d1",
		Company:        "acme",
		Direction:      types.DirectionToWork,
		Date:           "2026-10-19",
		ArrivalTime:    "09:00",
		DepartureTime:  "08:30",
		AvailableSeats: 3,
		Active:         true,
	}
}

func TestMemoryStoreListActiveRides(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	a := newTestRide("a")
	b := newTestRide("b")
	b.Direction = types.DirectionToHome
	c := newTestRide("c")
	c.Active = false
	for _, r := range []*Ride{c, b, a} {
		if err := s.CreateRide(ctx, r); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	got, err := s.ListActiveRides(ctx, RideFilter{Company: "acme"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Fatalf("list = %v", rideIDs(got))
	}
	got, _ = s.ListActiveRides(ctx, RideFilter{Company: "acme", Direction: types.DirectionToWork})
	if len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("direction filter = %v", rideIDs(got))
	}
	got, _ = s.ListActiveRides(ctx, RideFilter{Company: "other"})
	if len(got) != 0 {
		t.Fatalf("company filter = %v", rideIDs(got))
	}
}

func rideIDs(rs []*Ride) []types.ID {
	out := make([]types.ID, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.ID)
	}
	return out
}

func TestMemoryStoreTxDiscardsWritesOnError(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.CreateRide(ctx, newTestRide("r1"))

	boom := errors.New("boom")
	err := s.InRideTx(ctx, "r1", func(ctx context.Context, tx Tx) error {
		r := tx.Ride()
		r.OccupiedSeats = 3
		tx.PutRide(r)
		tx.PutRequest(&Request{ID: "q1", RideID: "r1", Status: StatusAccepted})
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	got, _ := s.GetRide(ctx, "r1")
	if got.OccupiedSeats != 0 {
		t.Fatalf("ride was written despite error: %+v", got)
	}
	if _, err := s.GetRequest(ctx, "r1", "q1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("request was written despite error: %v", err)
	}
}

func TestMemoryStoreTxMissingRide(t *testing.T) {
	s := NewMemoryStore()
	err := s.InRideTx(context.Background(), "missing", func(context.Context, Tx) error { return nil })
	if !errors.Is(err, ErrRideNotFound) {
		t.Fatalf("err = %v, want ErrRideNotFound", err)
	}
}

// Concurrent transactions on one ride must serialize: every increment survives.
func TestMemoryStoreTxSerializesPerRide(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.CreateRide(ctx, newTestRide("r1"))

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.InRideTx(ctx, "r1", func(ctx context.Context, tx Tx) error {
				r := tx.Ride()
				r.CurrentDetourMinutes++
				tx.PutRide(r)
				return nil
			})
		}()
	}
	wg.Wait()
	got, _ := s.GetRide(ctx, "r1")
	if got.CurrentDetourMinutes != n {
		t.Fatalf("detour = %d, want %d", got.CurrentDetourMinutes, n)
	}
}

func TestMemoryStoreRequestStatusCAS(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.CreateRide(ctx, newTestRide("r1"))
	_ = s.CreateRequest(ctx, &Request{ID: "q1", RideID: "r1", Status: StatusPending})

	if err := s.UpdateRequestStatus(ctx, "r1", "q1", StatusPending, StatusDeclined); err != nil {
		t.Fatalf("first transition: %v", err)
	}
	if err := s.UpdateRequestStatus(ctx, "r1", "q1", StatusPending, StatusAccepted); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second transition err = %v, want ErrInvalidState", err)
	}
	if err := s.UpdateRequestEvaluation(ctx, "r1", "q1", EvaluationResult{Allowed: true}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("evaluation on declined request err = %v, want ErrInvalidState", err)
	}
	if err := s.UpdateRequestStatus(ctx, "r1", "nope", StatusPending, StatusDeclined); !errors.Is(err, ErrRequestNotFound) {
		t.Fatalf("missing request err = %v", err)
	}
}

func TestMemoryStoreTxRetriesAfterConcurrentStatusChange(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.CreateRide(ctx, newTestRide("r1"))
	_ = s.CreateRequest(ctx, &Request{ID: "q1", RideID: "r1", Status: StatusPending})

	attempts := 0
	err := s.InRideTx(ctx, "r1", func(ctx context.Context, tx Tx) error {
		attempts++
		req, err := tx.Request(ctx, "q1")
		if err != nil {
			return err
		}
		if attempts == 1 {
			if err := s.UpdateRequestStatus(ctx, "r1", "q1", StatusPending, StatusCancelled); err != nil {
				t.Fatalf("cancel: %v", err)
			}
		}
		if req.Status != StatusPending {
			return ErrInvalidState
		}
		req.Status = StatusAccepted
		tx.PutRequest(req)
		r := tx.Ride()
		r.OccupiedSeats++
		tx.PutRide(r)
		return nil
	})
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}
	req, _ := s.GetRequest(ctx, "r1", "q1")
	if req.Status != StatusCancelled {
		t.Fatalf("status = %s, want CANCELLED", req.Status)
	}
	if got, _ := s.GetRide(ctx, "r1"); got.OccupiedSeats != 0 {
		t.Fatalf("seats = %d, want 0", got.OccupiedSeats)
	}
}

func TestMemoryStoreTxKeepsConcurrentDeactivation(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.CreateRide(ctx, newTestRide("r1"))

	attempts := 0
	err := s.InRideTx(ctx, "r1", func(_ context.Context, tx Tx) error {
		attempts++
		if attempts == 1 {
			if err := s.SetActive(ctx, "r1", false); err != nil {
				t.Fatalf("deactivate: %v", err)
			}
		}
		r := tx.Ride()
		r.CurrentDetourMinutes = 7
		tx.PutRide(r)
		return nil
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
	got, _ := s.GetRide(ctx, "r1")
	if got.Active {
		t.Fatal("deactivation overwritten by ride transaction")
	}
	if got.CurrentDetourMinutes != 7 || attempts != 2 {
		t.Fatalf("detour = %d attempts = %d", got.CurrentDetourMinutes, attempts)
	}
}

func TestMemoryStoreTxSeesRequestCreatedMidTransaction(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.CreateRide(ctx, newTestRide("r1"))

	attempts := 0
	err := s.InRideTx(ctx, "r1", func(ctx context.Context, tx Tx) error {
		attempts++
		pending, err := tx.Requests(ctx, StatusPending)
		if err != nil {
			return err
		}
		if attempts == 1 {
			_ = s.CreateRequest(ctx, &Request{ID: "q1", RideID: "r1", PassengerID: "p1", Status: StatusPending})
		}
		for _, p := range pending {
			if p.PassengerID == "p1" {
				return ErrInvalidState
			}
		}
		tx.PutRequest(&Request{ID: "q2", RideID: "r1", PassengerID: "p1", Status: StatusPending})
		return nil
	})
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
	if reqs, _ := s.ListRequests(ctx, "r1", StatusPending); len(reqs) != 1 {
		t.Fatalf("pending = %d, want 1", len(reqs))
	}
}

func TestMemoryStoreTxGivesUpUnderContention(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.CreateRide(ctx, newTestRide("r1"))

	err := s.InRideTx(ctx, "r1", func(_ context.Context, tx Tx) error {
		_ = s.SetActive(ctx, "r1", true)
		tx.PutRide(tx.Ride())
		return nil
	})
	var perr *PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want PersistenceError", err)
	}
}

func TestMemoryStoreUserRides(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.AttachRide(ctx, "r1", "d1", "p1")
	_ = s.AttachRide(ctx, "r2", "p1")
	_ = s.DetachRide(ctx, "r1", "p1")

	if got := s.UserRides("p1"); len(got) != 1 || got[0] != "r2" {
		t.Fatalf("p1 rides = %v", got)
	}
	if got := s.UserRides("d1"); len(got) != 1 || got[0] != "r1" {
		t.Fatalf("d1 rides = %v", got)
	}
}

// ---------------------------------------------------------------------------
// Postgres event log (skipped without CARPOOL_DB_DSN)
// ---------------------------------------------------------------------------

func TestPGEventLogAppendAndList(t *testing.T) {
	dsn := os.Getenv("CARPOOL_DB_DSN")
	if dsn == "" {
		t.Skip("CARPOOL_DB_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer pool.Close()

	log := NewPGEventLog(pool)
	if err := log.EnsureSchema(ctx); err != nil {
		t.Fatalf("schema: %v", err)
	}
	rideID := types.ID("ride-" + time.Now().Format("150405.000000000"))
	driver := types.ID("d1")
	e := &Event{
		RideID: rideID, RequestID: "q1",
		FromStatus: StatusPending, ToStatus: StatusAccepted,
		ActorType: ActorDriver, ActorID: &driver, CreatedAt: time.Now(),
	}
	if err := log.Append(ctx, e); err != nil {
		t.Fatalf("append: %v", err)
	}
	if e.ID == 0 {
		t.Fatal("expected id to be assigned")
	}
	events, err := log.ListByRide(ctx, rideID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 1 || events[0].ToStatus != StatusAccepted || events[0].ActorID == nil || *events[0].ActorID != driver {
		t.Fatalf("events = %+v", events)
	}
	_, _ = pool.Exec(ctx, "DELETE FROM ride_request_events WHERE ride_id = $1", string(rideID))
}
