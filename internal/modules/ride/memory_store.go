package ride

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"carpool/internal/types"
)

const memoryTxAttempts = 5

var errTxContention = errors.New("ride transaction retried too many times")

// MemoryStore is an in-process Store used for local runs and tests. Ride
// transactions serialize per ride id and commit only if every document they
// read is unchanged, so field-level writes landing mid-transaction force a
// retry the way Firestore does.
type MemoryStore struct {
	mu        sync.Mutex
	rides     map[types.ID]*Ride
	requests  map[types.ID]map[types.ID]*Request
	userRides map[types.ID]map[types.ID]bool
	locks     map[types.ID]*sync.Mutex
	versions  map[string]uint64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rides:     make(map[types.ID]*Ride),
		requests:  make(map[types.ID]map[types.ID]*Request),
		userRides: make(map[types.ID]map[types.ID]bool),
		locks:     make(map[types.ID]*sync.Mutex),
		versions:  make(map[string]uint64),
	}
}

func rideKey(id types.ID) string { return "rides/" + string(id) }

func requestKey(rideID, requestID types.ID) string {
	return "rides/" + string(rideID) + "/requests/" + string(requestID)
}

// requestSetKey changes whenever any request of the ride is written.
func requestSetKey(rideID types.ID) string { return "rides/" + string(rideID) + "/requests" }

// touch must be called with m.mu held.
func (m *MemoryStore) touch(keys ...string) {
	for _, k := range keys {
		m.versions[k]++
	}
}

// touchRequest must be called with m.mu held.
func (m *MemoryStore) touchRequest(rideID, requestID types.ID) {
	m.touch(requestKey(rideID, requestID), requestSetKey(rideID))
}

func (m *MemoryStore) CreateRide(_ context.Context, r *Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rides[r.ID] = r.Clone()
	m.touch(rideKey(r.ID))
	return nil
}

func (m *MemoryStore) GetRide(_ context.Context, id types.ID) (*Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ErrRideNotFound
	}
	return r.Clone(), nil
}

func (m *MemoryStore) DeleteRide(_ context.Context, id types.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rides[id]; !ok {
		return ErrRideNotFound
	}
	delete(m.rides, id)
	delete(m.requests, id)
	m.touch(rideKey(id), requestSetKey(id))
	return nil
}

func (m *MemoryStore) ListActiveRides(_ context.Context, f RideFilter) ([]*Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Ride
	for _, r := range m.rides {
		if f.matches(r) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) SetActive(_ context.Context, id types.ID, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[id]
	if !ok {
		return ErrRideNotFound
	}
	r.Active = active
	r.UpdatedAt = time.Now()
	m.touch(rideKey(id))
	return nil
}

func (m *MemoryStore) rideLock(id types.ID) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

func (m *MemoryStore) InRideTx(ctx context.Context, rideID types.ID, fn func(ctx context.Context, tx Tx) error) error {
	l := m.rideLock(rideID)
	l.Lock()
	defer l.Unlock()

	for attempt := 0; attempt < memoryTxAttempts; attempt++ {
		tx := &memoryTx{store: m, rideID: rideID, reads: make(map[string]uint64)}
		m.mu.Lock()
		r, ok := m.rides[rideID]
		if ok {
			tx.ride = r.Clone()
			tx.reads[rideKey(rideID)] = m.versions[rideKey(rideID)]
		}
		m.mu.Unlock()
		if !ok {
			return ErrRideNotFound
		}

		if err := fn(ctx, tx); err != nil {
			return err
		}
		committed, err := m.commit(tx)
		if err != nil {
			return err
		}
		if committed {
			return nil
		}
	}
	return &PersistenceError{Op: "ride transaction", Err: errTxContention}
}

// commit applies the buffered writes of tx and reports false without writing
// anything when a document read by tx has changed since.
func (m *MemoryStore) commit(tx *memoryTx) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range tx.reads {
		if m.versions[k] != v {
			return false, nil
		}
	}
	if _, ok := m.rides[tx.rideID]; !ok {
		return false, ErrRideNotFound
	}
	if tx.putRide != nil {
		m.rides[tx.rideID] = tx.putRide.Clone()
		m.touch(rideKey(tx.rideID))
	}
	for _, req := range tx.putRequests {
		m.requestsFor(tx.rideID)[req.ID] = cloneRequest(req)
		m.touchRequest(tx.rideID, req.ID)
	}
	return true, nil
}

type memoryTx struct {
	store       *MemoryStore
	rideID      types.ID
	ride        *Ride
	reads       map[string]uint64
	putRide     *Ride
	putRequests []*Request
}

func (t *memoryTx) Ride() *Ride { return t.ride }

func (t *memoryTx) Request(_ context.Context, id types.ID) (*Request, error) {
	m := t.store
	m.mu.Lock()
	defer m.mu.Unlock()
	key := requestKey(t.rideID, id)
	t.reads[key] = m.versions[key]
	req, ok := m.requests[t.rideID][id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	return cloneRequest(req), nil
}

func (t *memoryTx) Requests(_ context.Context, status RequestStatus) ([]*Request, error) {
	m := t.store
	m.mu.Lock()
	defer m.mu.Unlock()
	key := requestSetKey(t.rideID)
	t.reads[key] = m.versions[key]
	return m.listRequests(t.rideID, status), nil
}

func (t *memoryTx) PutRide(r *Ride) { t.putRide = r }

func (t *memoryTx) PutRequest(req *Request) { t.putRequests = append(t.putRequests, req) }

// requestsFor must be called with m.mu held.
func (m *MemoryStore) requestsFor(rideID types.ID) map[types.ID]*Request {
	reqs, ok := m.requests[rideID]
	if !ok {
		reqs = make(map[types.ID]*Request)
		m.requests[rideID] = reqs
	}
	return reqs
}

func (m *MemoryStore) CreateRequest(_ context.Context, req *Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rides[req.RideID]; !ok {
		return ErrRideNotFound
	}
	m.requestsFor(req.RideID)[req.ID] = cloneRequest(req)
	m.touchRequest(req.RideID, req.ID)
	return nil
}

func (m *MemoryStore) GetRequest(_ context.Context, rideID, requestID types.ID) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[rideID][requestID]
	if !ok {
		return nil, ErrRequestNotFound
	}
	return cloneRequest(req), nil
}

func (m *MemoryStore) ListRequests(_ context.Context, rideID types.ID, status RequestStatus) ([]*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listRequests(rideID, status), nil
}

// listRequests must be called with m.mu held.
func (m *MemoryStore) listRequests(rideID types.ID, status RequestStatus) []*Request {
	var out []*Request
	for _, req := range m.requests[rideID] {
		if status == StatusNone || req.Status == status {
			out = append(out, cloneRequest(req))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *MemoryStore) UpdateRequestStatus(_ context.Context, rideID, requestID types.ID, from, to RequestStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[rideID][requestID]
	if !ok {
		return ErrRequestNotFound
	}
	if req.Status != from {
		return ErrInvalidState
	}
	req.Status = to
	req.UpdatedAt = time.Now()
	m.touchRequest(rideID, requestID)
	return nil
}

func (m *MemoryStore) UpdateRequestEvaluation(_ context.Context, rideID, requestID types.ID, eval EvaluationResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[rideID][requestID]
	if !ok {
		return ErrRequestNotFound
	}
	if req.Status != StatusPending {
		return ErrInvalidState
	}
	req.Evaluation = eval
	req.UpdatedAt = time.Now()
	m.touchRequest(rideID, requestID)
	return nil
}

func (m *MemoryStore) AttachRide(_ context.Context, rideID types.ID, userIDs ...types.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range userIDs {
		rides, ok := m.userRides[u]
		if !ok {
			rides = make(map[types.ID]bool)
			m.userRides[u] = rides
		}
		rides[rideID] = true
	}
	return nil
}

func (m *MemoryStore) DetachRide(_ context.Context, rideID types.ID, userIDs ...types.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range userIDs {
		delete(m.userRides[u], rideID)
	}
	return nil
}

// UserRides lists the rides attached to a user, sorted by id.
func (m *MemoryStore) UserRides(userID types.ID) []types.ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.ID, 0, len(m.userRides[userID]))
	for id := range m.userRides[userID] {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func cloneRequest(req *Request) *Request {
	cp := *req
	return &cp
}
