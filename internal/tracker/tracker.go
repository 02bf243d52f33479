// Package tracker implements the live trip tracking core: an in-memory
// registry of running trips advanced one stop per tick, a scheduler that
// promotes due trips, automatic return-trip planning, and reconciliation
// of the registry against the database, which is the source of truth.
package tracker

import (
	"context"
	"sync"
	"time"

	"fleet-tracker/internal/metrics"
	"fleet-tracker/internal/model"
)

// TripStore is the persistent trip store consumed by the tracker. All
// implementations must be safe for concurrent use.
type TripStore interface {
	DueScheduledTrips(ctx context.Context, now time.Time, limit int) ([]model.DueTrip, error)
	UpdateTripStatus(ctx context.Context, tripID int64, status model.TripStatus, departure, arrival *time.Time) error
	Trip(ctx context.Context, tripID int64) (*model.TripRecord, error)
	RunningTrips(ctx context.Context) ([]model.RunningTrip, error)
	InsertScheduledTrip(ctx context.Context, busID, routeID int64, direction model.Direction, departure time.Time, originTripID int64) (int64, error)
	CancelTripsWithOrigin(ctx context.Context, originTripID int64) error
	EarliestOpenTrip(ctx context.Context, busID, routeID int64, direction model.Direction) (*model.TripRecord, error)
	SetTripDeparture(ctx context.Context, tripID int64, departure time.Time) error
	SetTripOrigin(ctx context.Context, tripID, originTripID int64) error
	TripDetails(ctx context.Context, tripID int64) (*model.TripDetails, error)
}

// Topology provides the ordered stop sequence of a route.
type Topology interface {
	StopsForRoute(ctx context.Context, routeID int64) ([]model.RouteStop, error)
}

// Publisher pushes one named event to connected clients. The core never
// depends on the transport behind it.
type Publisher interface {
	Publish(event string, payload any) error
}

type Options struct {
	AdvanceInterval   time.Duration // default 15s
	SchedulerInterval time.Duration // default 10s
	SyncInterval      time.Duration // default 10s
	DueTripBatch      int           // default 10

	AutoReturn      bool
	AutoStartReturn bool
	ReturnBuffer    time.Duration // default 30s

	Metrics *metrics.Collector
	Now     func() time.Time
}

// Tracker is the single authority for what is currently happening on the
// road. It owns every LiveTrip; all access goes through one mutex.
type Tracker struct {
	store   TripStore
	topo    Topology
	pub     Publisher
	metrics *metrics.Collector

	advanceInterval   time.Duration
	schedulerInterval time.Duration
	syncInterval      time.Duration
	dueTripBatch      int

	now func() time.Time

	mu         sync.Mutex
	trips      map[int64]*model.LiveTrip
	advancerOn bool

	cfgMu           sync.Mutex
	autoReturn      bool
	autoStartReturn bool
	returnBuffer    time.Duration

	runOnce     sync.Once
	runCtx      context.Context
	wg          sync.WaitGroup
	plannerWG   sync.WaitGroup
	recoverOnce sync.Once

	syncMu   sync.Mutex
	lastSync time.Time
}

func New(store TripStore, topo Topology, pub Publisher, opts Options) *Tracker {
	if opts.AdvanceInterval <= 0 {
		opts.AdvanceInterval = 15 * time.Second
	}
	if opts.SchedulerInterval <= 0 {
		opts.SchedulerInterval = 10 * time.Second
	}
	if opts.SyncInterval <= 0 {
		opts.SyncInterval = 10 * time.Second
	}
	if opts.DueTripBatch <= 0 {
		opts.DueTripBatch = 10
	}
	if opts.ReturnBuffer <= 0 {
		opts.ReturnBuffer = 30 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Tracker{
		store:             store,
		topo:              topo,
		pub:               pub,
		metrics:           opts.Metrics,
		advanceInterval:   opts.AdvanceInterval,
		schedulerInterval: opts.SchedulerInterval,
		syncInterval:      opts.SyncInterval,
		dueTripBatch:      opts.DueTripBatch,
		now:               opts.Now,
		trips:             make(map[int64]*model.LiveTrip),
		autoReturn:        opts.AutoReturn,
		autoStartReturn:   opts.AutoStartReturn,
		returnBuffer:      opts.ReturnBuffer,
	}
}

// Run starts the scheduler loop and the delayed boot recovery. It is
// idempotent; only the first call takes effect.
func (t *Tracker) Run(ctx context.Context) {
	t.runOnce.Do(func() {
		t.runCtx = ctx
		t.wg.Add(1)
		go t.scheduleLoop(ctx)
		t.wg.Add(1)
		go t.recoverOnBoot(ctx)
	})
}

// Wait blocks until all background loops and planner tasks have drained.
// Call after cancelling the context passed to Run.
func (t *Tracker) Wait() {
	t.wg.Wait()
	t.plannerWG.Wait()
}

// taskCtx is the context background goroutines run under. Admin calls may
// arrive with request-scoped contexts; goroutines they spawn must outlive
// the request.
func (t *Tracker) taskCtx() context.Context {
	if t.runCtx != nil {
		return t.runCtx
	}
	return context.Background()
}

// AutoReturnEnabled reports whether return trips are planned automatically.
func (t *Tracker) AutoReturnEnabled() bool {
	t.cfgMu.Lock()
	defer t.cfgMu.Unlock()
	return t.autoReturn
}

func (t *Tracker) SetAutoReturn(enabled bool) {
	t.cfgMu.Lock()
	defer t.cfgMu.Unlock()
	t.autoReturn = enabled
}

// AutoStartReturnEnabled reports whether planned return trips are started
// directly at their departure time instead of waiting for a scheduler pass.
func (t *Tracker) AutoStartReturnEnabled() bool {
	t.cfgMu.Lock()
	defer t.cfgMu.Unlock()
	return t.autoStartReturn
}

func (t *Tracker) SetAutoStartReturn(enabled bool) {
	t.cfgMu.Lock()
	defer t.cfgMu.Unlock()
	t.autoStartReturn = enabled
}

// ReturnBuffer is the delay between a trip's arrival and its return trip's
// departure.
func (t *Tracker) ReturnBuffer() time.Duration {
	t.cfgMu.Lock()
	defer t.cfgMu.Unlock()
	return t.returnBuffer
}

// SetReturnBufferSeconds updates the return buffer. Values outside 0-3600
// seconds are rejected.
func (t *Tracker) SetReturnBufferSeconds(sec int) error {
	if sec < 0 || sec > 3600 {
		return errBufferOutOfRange
	}
	t.cfgMu.Lock()
	defer t.cfgMu.Unlock()
	t.returnBuffer = time.Duration(sec) * time.Second
	if t.metrics != nil {
		t.metrics.ReturnBuffer.Set(float64(sec))
	}
	return nil
}
