package tracker

import (
	"context"
	"sort"
	"sync"
	"time"

	"fleet-tracker/internal/model"
)

// fakeClock is a manually advanced clock shared by a test's tracker.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// fakeStore is an in-memory TripStore.
type fakeStore struct {
	mu            sync.Mutex
	trips         map[int64]*model.TripRecord
	routeNames    map[int64]string
	details       map[int64]*model.TripDetails
	nextID        int64
	failUpdateFor map[model.TripStatus]error
	runningCalls  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		trips:         make(map[int64]*model.TripRecord),
		routeNames:    make(map[int64]string),
		details:       make(map[int64]*model.TripDetails),
		nextID:        1000,
		failUpdateFor: make(map[model.TripStatus]error),
	}
}

func (s *fakeStore) put(rec model.TripRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trips[rec.TripID] = &rec
}

func (s *fakeStore) get(tripID int64) (model.TripRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.trips[tripID]
	if !ok {
		return model.TripRecord{}, false
	}
	return *rec, true
}

func (s *fakeStore) failStatus(status model.TripStatus, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failUpdateFor, status)
	} else {
		s.failUpdateFor[status] = err
	}
}

func (s *fakeStore) DueScheduledTrips(ctx context.Context, now time.Time, limit int) ([]model.DueTrip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []model.DueTrip
	for _, rec := range s.trips {
		if rec.Status != model.TripScheduled || rec.DepartureTime == nil || rec.DepartureTime.After(now) {
			continue
		}
		due = append(due, model.DueTrip{
			TripID:        rec.TripID,
			RouteID:       rec.RouteID,
			Direction:     rec.Direction,
			DepartureTime: *rec.DepartureTime,
			RouteName:     s.routeNames[rec.RouteID],
		})
	}
	sort.Slice(due, func(i, j int) bool { return due[i].DepartureTime.Before(due[j].DepartureTime) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *fakeStore) UpdateTripStatus(ctx context.Context, tripID int64, status model.TripStatus, departure, arrival *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failUpdateFor[status]; err != nil {
		return err
	}
	rec, ok := s.trips[tripID]
	if !ok {
		rec = &model.TripRecord{TripID: tripID}
		s.trips[tripID] = rec
	}
	rec.Status = status
	if departure != nil {
		d := *departure
		rec.DepartureTime = &d
	}
	if arrival != nil {
		a := *arrival
		rec.ArrivalTime = &a
	}
	return nil
}

func (s *fakeStore) Trip(ctx context.Context, tripID int64) (*model.TripRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.trips[tripID]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (s *fakeStore) RunningTrips(ctx context.Context) ([]model.RunningTrip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runningCalls++
	var running []model.RunningTrip
	for _, rec := range s.trips {
		if rec.Status != model.TripRunning {
			continue
		}
		running = append(running, model.RunningTrip{
			TripID:    rec.TripID,
			RouteID:   rec.RouteID,
			Direction: rec.Direction,
			RouteName: s.routeNames[rec.RouteID],
		})
	}
	sort.Slice(running, func(i, j int) bool { return running[i].TripID < running[j].TripID })
	return running, nil
}

func (s *fakeStore) InsertScheduledTrip(ctx context.Context, busID, routeID int64, direction model.Direction, departure time.Time, originTripID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	d := departure
	origin := originTripID
	s.trips[id] = &model.TripRecord{
		TripID:        id,
		BusID:         busID,
		RouteID:       routeID,
		Direction:     direction,
		DepartureTime: &d,
		Status:        model.TripScheduled,
		OriginTripID:  &origin,
	}
	return id, nil
}

func (s *fakeStore) CancelTripsWithOrigin(ctx context.Context, originTripID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.trips {
		if rec.Status == model.TripScheduled && rec.OriginTripID != nil && *rec.OriginTripID == originTripID {
			rec.Status = model.TripCancelled
		}
	}
	return nil
}

func (s *fakeStore) EarliestOpenTrip(ctx context.Context, busID, routeID int64, direction model.Direction) (*model.TripRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *model.TripRecord
	for _, rec := range s.trips {
		if rec.BusID != busID || rec.RouteID != routeID || rec.Direction != direction {
			continue
		}
		if rec.Status != model.TripScheduled && rec.Status != model.TripRunning {
			continue
		}
		if best == nil {
			best = rec
			continue
		}
		if rec.DepartureTime != nil && best.DepartureTime != nil && rec.DepartureTime.Before(*best.DepartureTime) {
			best = rec
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (s *fakeStore) SetTripDeparture(ctx context.Context, tripID int64, departure time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.trips[tripID]; ok {
		d := departure
		rec.DepartureTime = &d
	}
	return nil
}

func (s *fakeStore) SetTripOrigin(ctx context.Context, tripID, originTripID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.trips[tripID]; ok {
		origin := originTripID
		rec.OriginTripID = &origin
	}
	return nil
}

func (s *fakeStore) TripDetails(ctx context.Context, tripID int64) (*model.TripDetails, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.details[tripID]; ok {
		cp := *d
		return &cp, nil
	}
	return nil, nil
}

// fakeTopo is an in-memory Topology.
type fakeTopo struct {
	mu    sync.Mutex
	stops map[int64][]model.RouteStop
	err   error
}

func newFakeTopo() *fakeTopo {
	return &fakeTopo{stops: make(map[int64][]model.RouteStop)}
}

func (f *fakeTopo) StopsForRoute(ctx context.Context, routeID int64) ([]model.RouteStop, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	stops := f.stops[routeID]
	out := make([]model.RouteStop, len(stops))
	copy(out, stops)
	return out, nil
}

// fakePublisher records published events.
type fakePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

type publishedEvent struct {
	name    string
	payload any
}

func (p *fakePublisher) Publish(name string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{name: name, payload: payload})
	return nil
}

func (p *fakePublisher) count(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, ev := range p.events {
		if ev.name == name {
			n++
		}
	}
	return n
}

func (p *fakePublisher) last(name string) (any, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.events) - 1; i >= 0; i-- {
		if p.events[i].name == name {
			return p.events[i].payload, true
		}
	}
	return nil, false
}

func stopsABC() []model.RouteStop {
	return []model.RouteStop{
		{StopID: 1, StopName: "A", StopOrder: 1},
		{StopID: 2, StopName: "B", StopOrder: 2},
		{StopID: 3, StopName: "C", StopOrder: 3},
	}
}

func newTestTracker(opts Options) (*Tracker, *fakeStore, *fakeTopo, *fakePublisher, *fakeClock) {
	store := newFakeStore()
	topo := newFakeTopo()
	pub := &fakePublisher{}
	clk := newFakeClock()
	if opts.Now == nil {
		opts.Now = clk.Now
	}
	tr := New(store, topo, pub, opts)
	return tr, store, topo, pub, clk
}
