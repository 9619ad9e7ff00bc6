// README: Persistence contract for rides and their request sub-collection.
package ride

import (
	"context"
	"errors"
	"fmt"

	"carpool/internal/types"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrRideNotFound    = fmt.Errorf("ride %w", ErrNotFound)
	ErrRequestNotFound = fmt.Errorf("ride request %w", ErrNotFound)
	ErrInvalidState    = errors.New("invalid state transition")
)

// PersistenceError wraps a failure of the underlying document store.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Tx is a read-modify-write unit scoped to one ride document. Writes are
// buffered and applied only when the transaction function returns nil.
type Tx interface {
	// Ride is the ride as read when the transaction started; mutate it and call PutRide.
	Ride() *Ride
	Request(ctx context.Context, id types.ID) (*Request, error)
	// Requests lists the ride's requests with the given status, or all of
	// them for StatusNone, as part of the transaction's read set.
	Requests(ctx context.Context, status RequestStatus) ([]*Request, error)
	PutRide(r *Ride)
	PutRequest(req *Request)
}

// RideFilter narrows ListActiveRides. Zero fields do not filter.
type RideFilter struct {
	Company   string
	Direction types.Direction
	Date      string
}

func (f RideFilter) matches(r *Ride) bool {
	return r.Active &&
		(f.Company == "" || r.Company == f.Company) &&
		(f.Direction == "" || r.Direction == f.Direction) &&
		(f.Date == "" || r.Date == f.Date)
}

type Store interface {
	CreateRide(ctx context.Context, r *Ride) error
	GetRide(ctx context.Context, id types.ID) (*Ride, error)
	DeleteRide(ctx context.Context, id types.ID) error
	ListActiveRides(ctx context.Context, f RideFilter) ([]*Ride, error)
	// SetActive is a field-level update that bypasses the full-document rewrite.
	SetActive(ctx context.Context, id types.ID, active bool) error
	// InRideTx runs fn inside a single atomic transaction on the ride document.
	// fn may be retried and must not have side effects beyond the Tx.
	InRideTx(ctx context.Context, rideID types.ID, fn func(ctx context.Context, tx Tx) error) error

	CreateRequest(ctx context.Context, req *Request) error
	GetRequest(ctx context.Context, rideID, requestID types.ID) (*Request, error)
	ListRequests(ctx context.Context, rideID types.ID, status RequestStatus) ([]*Request, error)
	// UpdateRequestStatus moves a request from -> to atomically and returns
	// ErrInvalidState when the stored status is no longer from.
	UpdateRequestStatus(ctx context.Context, rideID, requestID types.ID, from, to RequestStatus) error
	// UpdateRequestEvaluation overwrites the evaluation of a still-pending request.
	UpdateRequestEvaluation(ctx context.Context, rideID, requestID types.ID, eval EvaluationResult) error

	AttachRide(ctx context.Context, rideID types.ID, userIDs ...types.ID) error
	DetachRide(ctx context.Context, rideID types.ID, userIDs ...types.ID) error
}
