// README: Request status audit trail backed by PostgreSQL (ride_request_events).
package ride

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"carpool/internal/types"
)

// EventLog records request status transitions.
type EventLog interface {
	Append(ctx context.Context, e *Event) error
	ListByRide(ctx context.Context, rideID types.ID) ([]*Event, error)
}

const eventsSchema = `
CREATE TABLE IF NOT EXISTS ride_request_events (
    id          BIGSERIAL PRIMARY KEY,
    ride_id     TEXT NOT NULL,
    request_id  TEXT NOT NULL,
    from_status TEXT NOT NULL,
    to_status   TEXT NOT NULL,
    actor_type  TEXT NOT NULL,
    actor_id    TEXT,
    created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS ride_request_events_ride_idx ON ride_request_events (ride_id, id);`

type PGEventLog struct {
	db *pgxpool.Pool
}

func NewPGEventLog(db *pgxpool.Pool) *PGEventLog {
	return &PGEventLog{db: db}
}

// EnsureSchema creates the events table when missing.
func (l *PGEventLog) EnsureSchema(ctx context.Context) error {
	_, err := l.db.Exec(ctx, eventsSchema)
	return err
}

func (l *PGEventLog) Append(ctx context.Context, e *Event) error {
	row := l.db.QueryRow(ctx, `
		INSERT INTO ride_request_events (
			ride_id, request_id, from_status, to_status, actor_type, actor_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		string(e.RideID),
		string(e.RequestID),
		string(e.FromStatus),
		string(e.ToStatus),
		e.ActorType,
		toStringPtr(e.ActorID),
		e.CreatedAt,
	)
	return row.Scan(&e.ID)
}

func (l *PGEventLog) ListByRide(ctx context.Context, rideID types.ID) ([]*Event, error) {
	rows, err := l.db.Query(ctx, `
		SELECT id, ride_id, request_id, from_status, to_status, actor_type, actor_id, created_at
		FROM ride_request_events
		WHERE ride_id = $1
		ORDER BY id`, string(rideID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		var e Event
		var actorID *string
		if err := rows.Scan(&e.ID, &e.RideID, &e.RequestID, &e.FromStatus, &e.ToStatus, &e.ActorType, &actorID, &e.CreatedAt); err != nil {
			return nil, err
		}
		if actorID != nil {
			id := types.ID(*actorID)
			e.ActorID = &id
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func toStringPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

// MemoryEventLog keeps events in process; used when no database is configured.
type MemoryEventLog struct {
	mu     sync.Mutex
	nextID int64
	events []*Event
}

func NewMemoryEventLog() *MemoryEventLog {
	return &MemoryEventLog{}
}

func (l *MemoryEventLog) Append(_ context.Context, e *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	e.ID = l.nextID
	cp := *e
	l.events = append(l.events, &cp)
	return nil
}

func (l *MemoryEventLog) ListByRide(_ context.Context, rideID types.ID) ([]*Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*Event
	for _, e := range l.events {
		if e.RideID == rideID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}
