// README: Ride store backed by Cloud Firestore (rides, rides/{id}/requests, users).
package ride

import (
	"context"
	"errors"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"carpool/internal/types"
)

const (
	ridesCollection    = "rides"
	requestsCollection = "requests"
	usersCollection    = "users"
)

type FirestoreStore struct {
	client *firestore.Client
}

func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client}
}

func (s *FirestoreStore) rideDoc(id types.ID) *firestore.DocumentRef {
	return s.client.Collection(ridesCollection).Doc(string(id))
}

func (s *FirestoreStore) requestDoc(rideID, requestID types.ID) *firestore.DocumentRef {
	return s.rideDoc(rideID).Collection(requestsCollection).Doc(string(requestID))
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

func (s *FirestoreStore) CreateRide(ctx context.Context, r *Ride) error {
	if _, err := s.rideDoc(r.ID).Create(ctx, r); err != nil {
		return &PersistenceError{Op: "create ride", Err: err}
	}
	return nil
}

func (s *FirestoreStore) GetRide(ctx context.Context, id types.ID) (*Ride, error) {
	snap, err := s.rideDoc(id).Get(ctx)
	if isNotFound(err) {
		return nil, ErrRideNotFound
	}
	if err != nil {
		return nil, &PersistenceError{Op: "get ride", Err: err}
	}
	return decodeRide(snap)
}

func decodeRide(snap *firestore.DocumentSnapshot) (*Ride, error) {
	var r Ride
	if err := snap.DataTo(&r); err != nil {
		return nil, &PersistenceError{Op: "decode ride", Err: err}
	}
	r.ID = types.ID(snap.Ref.ID)
	return &r, nil
}

func decodeRequest(snap *firestore.DocumentSnapshot) (*Request, error) {
	var req Request
	if err := snap.DataTo(&req); err != nil {
		return nil, &PersistenceError{Op: "decode request", Err: err}
	}
	req.ID = types.ID(snap.Ref.ID)
	return &req, nil
}

// DeleteRide removes the ride and its request sub-collection.
func (s *FirestoreStore) DeleteRide(ctx context.Context, id types.ID) error {
	if _, err := s.GetRide(ctx, id); err != nil {
		return err
	}
	snaps, err := s.rideDoc(id).Collection(requestsCollection).Documents(ctx).GetAll()
	if err != nil {
		return &PersistenceError{Op: "list requests", Err: err}
	}
	bw := s.client.BulkWriter(ctx)
	refs := make([]*firestore.DocumentRef, 0, len(snaps)+1)
	for _, snap := range snaps {
		refs = append(refs, snap.Ref)
	}
	refs = append(refs, s.rideDoc(id))
	jobs := make([]*firestore.BulkWriterJob, 0, len(refs))
	for _, ref := range refs {
		job, err := bw.Delete(ref)
		if err != nil {
			bw.End()
			return &PersistenceError{Op: "delete ride", Err: err}
		}
		jobs = append(jobs, job)
	}
	bw.End()
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			return &PersistenceError{Op: "delete ride", Err: err}
		}
	}
	return nil
}

func (s *FirestoreStore) ListActiveRides(ctx context.Context, f RideFilter) ([]*Ride, error) {
	q := s.client.Collection(ridesCollection).Where("active", "==", true)
	if f.Company != "" {
		q = q.Where("company", "==", f.Company)
	}
	if f.Direction != "" {
		q = q.Where("direction", "==", string(f.Direction))
	}
	if f.Date != "" {
		q = q.Where("date", "==", f.Date)
	}
	snaps, err := q.Documents(ctx).GetAll()
	if err != nil {
		return nil, &PersistenceError{Op: "list rides", Err: err}
	}
	out := make([]*Ride, 0, len(snaps))
	for _, snap := range snaps {
		r, err := decodeRide(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *FirestoreStore) SetActive(ctx context.Context, id types.ID, active bool) error {
	_, err := s.rideDoc(id).Update(ctx, []firestore.Update{
		{Path: "active", Value: active},
		{Path: "updatedAt", Value: time.Now()},
	})
	if isNotFound(err) {
		return ErrRideNotFound
	}
	if err != nil {
		return &PersistenceError{Op: "set active", Err: err}
	}
	return nil
}

// InRideTx reads the ride inside a Firestore transaction and applies the
// buffered writes after fn returns. Errors from fn pass through unwrapped.
func (s *FirestoreStore) InRideTx(ctx context.Context, rideID types.ID, fn func(ctx context.Context, tx Tx) error) error {
	var fnErr error
	err := s.client.RunTransaction(ctx, func(ctx context.Context, ftx *firestore.Transaction) error {
		fnErr = nil
		snap, err := ftx.Get(s.rideDoc(rideID))
		if isNotFound(err) {
			fnErr = ErrRideNotFound
			return fnErr
		}
		if err != nil {
			return err
		}
		r, err := decodeRide(snap)
		if err != nil {
			fnErr = err
			return err
		}
		tx := &firestoreTx{store: s, ftx: ftx, rideID: rideID, ride: r}
		if err := fn(ctx, tx); err != nil {
			fnErr = err
			return err
		}
		if tx.putRide != nil {
			if err := ftx.Set(s.rideDoc(rideID), tx.putRide); err != nil {
				return err
			}
		}
		for _, req := range tx.putRequests {
			if err := ftx.Set(s.requestDoc(rideID, req.ID), req); err != nil {
				return err
			}
		}
		return nil
	})
	if fnErr != nil {
		return fnErr
	}
	if err != nil {
		return &PersistenceError{Op: "ride transaction", Err: err}
	}
	return nil
}

type firestoreTx struct {
	store       *FirestoreStore
	ftx         *firestore.Transaction
	rideID      types.ID
	ride        *Ride
	putRide     *Ride
	putRequests []*Request
}

func (t *firestoreTx) Ride() *Ride { return t.ride }

func (t *firestoreTx) Request(_ context.Context, id types.ID) (*Request, error) {
	snap, err := t.ftx.Get(t.store.requestDoc(t.rideID, id))
	if isNotFound(err) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, &PersistenceError{Op: "get request", Err: err}
	}
	return decodeRequest(snap)
}

func (t *firestoreTx) Requests(_ context.Context, st RequestStatus) ([]*Request, error) {
	snaps, err := t.ftx.Documents(t.store.requestsQuery(t.rideID, st)).GetAll()
	if err != nil {
		return nil, &PersistenceError{Op: "list requests", Err: err}
	}
	return decodeRequests(snaps)
}

func (t *firestoreTx) PutRide(r *Ride) { t.putRide = r }

func (t *firestoreTx) PutRequest(req *Request) { t.putRequests = append(t.putRequests, req) }

func (s *FirestoreStore) CreateRequest(ctx context.Context, req *Request) error {
	if _, err := s.requestDoc(req.RideID, req.ID).Create(ctx, req); err != nil {
		return &PersistenceError{Op: "create request", Err: err}
	}
	return nil
}

func (s *FirestoreStore) GetRequest(ctx context.Context, rideID, requestID types.ID) (*Request, error) {
	snap, err := s.requestDoc(rideID, requestID).Get(ctx)
	if isNotFound(err) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, &PersistenceError{Op: "get request", Err: err}
	}
	return decodeRequest(snap)
}

func (s *FirestoreStore) ListRequests(ctx context.Context, rideID types.ID, st RequestStatus) ([]*Request, error) {
	snaps, err := s.requestsQuery(rideID, st).Documents(ctx).GetAll()
	if err != nil {
		return nil, &PersistenceError{Op: "list requests", Err: err}
	}
	return decodeRequests(snaps)
}

func (s *FirestoreStore) requestsQuery(rideID types.ID, st RequestStatus) firestore.Query {
	q := s.rideDoc(rideID).Collection(requestsCollection).Query
	if st != StatusNone {
		q = q.Where("status", "==", string(st))
	}
	return q
}

func decodeRequests(snaps []*firestore.DocumentSnapshot) ([]*Request, error) {
	out := make([]*Request, 0, len(snaps))
	for _, snap := range snaps {
		req, err := decodeRequest(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// UpdateRequestStatus is a compare-and-set on the status field.
func (s *FirestoreStore) UpdateRequestStatus(ctx context.Context, rideID, requestID types.ID, from, to RequestStatus) error {
	ref := s.requestDoc(rideID, requestID)
	var stateErr error
	err := s.client.RunTransaction(ctx, func(ctx context.Context, ftx *firestore.Transaction) error {
		stateErr = nil
		snap, err := ftx.Get(ref)
		if isNotFound(err) {
			stateErr = ErrRequestNotFound
			return stateErr
		}
		if err != nil {
			return err
		}
		current, err := snap.DataAt("status")
		if err != nil {
			return err
		}
		if current != string(from) {
			stateErr = ErrInvalidState
			return stateErr
		}
		return ftx.Update(ref, []firestore.Update{
			{Path: "status", Value: string(to)},
			{Path: "updatedAt", Value: time.Now()},
		})
	})
	if stateErr != nil {
		return stateErr
	}
	if err != nil {
		return &PersistenceError{Op: "update request status", Err: err}
	}
	return nil
}

func (s *FirestoreStore) UpdateRequestEvaluation(ctx context.Context, rideID, requestID types.ID, eval EvaluationResult) error {
	ref := s.requestDoc(rideID, requestID)
	var stateErr error
	err := s.client.RunTransaction(ctx, func(ctx context.Context, ftx *firestore.Transaction) error {
		stateErr = nil
		snap, err := ftx.Get(ref)
		if isNotFound(err) {
			stateErr = ErrRequestNotFound
			return stateErr
		}
		if err != nil {
			return err
		}
		current, err := snap.DataAt("status")
		if err != nil {
			return err
		}
		if current != string(StatusPending) {
			stateErr = ErrInvalidState
			return stateErr
		}
		return ftx.Update(ref, []firestore.Update{
			{Path: "evaluation", Value: eval},
			{Path: "updatedAt", Value: time.Now()},
		})
	})
	if stateErr != nil {
		return stateErr
	}
	if err != nil {
		return &PersistenceError{Op: "update request evaluation", Err: err}
	}
	return nil
}

func (s *FirestoreStore) AttachRide(ctx context.Context, rideID types.ID, userIDs ...types.ID) error {
	return s.updateUserRides(ctx, "attach ride", firestore.ArrayUnion(string(rideID)), userIDs)
}

func (s *FirestoreStore) DetachRide(ctx context.Context, rideID types.ID, userIDs ...types.ID) error {
	return s.updateUserRides(ctx, "detach ride", firestore.ArrayRemove(string(rideID)), userIDs)
}

func (s *FirestoreStore) updateUserRides(ctx context.Context, op string, transform interface{}, userIDs []types.ID) error {
	var errs []error
	for _, u := range userIDs {
		_, err := s.client.Collection(usersCollection).Doc(string(u)).Set(ctx,
			map[string]interface{}{"rides": transform}, firestore.MergeAll)
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return &PersistenceError{Op: op, Err: errors.Join(errs...)}
	}
	return nil
}
