package tracker

import (
	"context"
	"log"
	"time"

	"fleet-tracker/internal/model"
)

// Sync reconciles the registry against the database. Trips running in the
// database but missing from the registry are rebuilt (at the first stop -
// true position is not persisted anywhere); registry entries no longer
// running in the database are removed. Throttled to the sync interval unless
// force is set.
func (t *Tracker) Sync(ctx context.Context, force bool) error {
	t.syncMu.Lock()
	now := t.now()
	if !force && !t.lastSync.IsZero() && now.Sub(t.lastSync) < t.syncInterval {
		t.syncMu.Unlock()
		return nil
	}
	t.lastSync = now
	t.syncMu.Unlock()

	running, err := t.store.RunningTrips(ctx)
	if err != nil {
		return err
	}
	if t.metrics != nil {
		t.metrics.SyncRuns.Inc()
	}

	dbRunning := make(map[int64]model.RunningTrip, len(running))
	for _, rt := range running {
		dbRunning[rt.TripID] = rt
	}

	t.mu.Lock()
	var stale []int64
	for id := range t.trips {
		if _, ok := dbRunning[id]; !ok {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		delete(t.trips, id)
	}
	if len(stale) > 0 && t.metrics != nil {
		t.metrics.TripsRemoved.Add(float64(len(stale)))
		t.metrics.ActiveTrips.Set(float64(len(t.trips)))
	}
	tracked := make(map[int64]bool, len(t.trips))
	for id := range t.trips {
		tracked[id] = true
	}
	t.mu.Unlock()

	// The database is authoritative: whatever it no longer calls running is
	// gone from the registry too.
	for _, id := range stale {
		log.Printf("sync: removed stale trip %d", id)
		t.emit(EventTripRemoved, TripRemovedEvent{TripID: id})
	}

	for _, rt := range running {
		if tracked[rt.TripID] {
			continue
		}
		t.recoverTrip(ctx, rt)
	}
	return nil
}

// recoverTrip rebuilds the live state of a trip that the database says is
// running. Position resumes at the first stop; the status is already running
// in the store, so it is not rewritten.
func (t *Tracker) recoverTrip(ctx context.Context, rt model.RunningTrip) {
	stops, err := t.topo.StopsForRoute(ctx, rt.RouteID)
	if err != nil {
		log.Printf("recover trip %d: stops for route %d: %v", rt.TripID, rt.RouteID, err)
		return
	}
	if len(stops) == 0 {
		log.Printf("recover trip %d: no stops for route %d", rt.TripID, rt.RouteID)
		return
	}
	ordered := orderStops(stops, rt.Direction)

	t.mu.Lock()
	if _, exists := t.trips[rt.TripID]; exists {
		t.mu.Unlock()
		return
	}
	recoveredAt := t.now()
	t.trips[rt.TripID] = &model.LiveTrip{
		TripID:           rt.TripID,
		RouteID:          rt.RouteID,
		RouteName:        rt.RouteName,
		Direction:        rt.Direction,
		Stops:            ordered,
		CurrentStopIndex: 0,
		CurrentStopID:    ordered[0].StopID,
		CurrentStopName:  ordered[0].StopName,
		StartedAt:        recoveredAt,
		LastUpdate:       recoveredAt,
		Status:           model.LiveRunning,
		TotalStops:       len(ordered),
	}
	if t.metrics != nil {
		t.metrics.TripsRecovered.Inc()
		t.metrics.ActiveTrips.Set(float64(len(t.trips)))
	}
	t.ensureAdvancerLocked()
	t.mu.Unlock()

	log.Printf("recovered trip %d (route %d, %s) from first stop", rt.TripID, rt.RouteID, rt.Direction)
	t.emit(EventTripStarted, TripStartedEvent{
		TripID:           rt.TripID,
		RouteID:          rt.RouteID,
		RouteName:        rt.RouteName,
		CurrentStopIndex: 0,
		CurrentStopName:  ordered[0].StopName,
		TotalStops:       len(ordered),
	})
}

// recoverOnBoot runs the one-shot startup recovery pass after a short delay,
// rebuilding every trip the database still considers running.
func (t *Tracker) recoverOnBoot(ctx context.Context) {
	defer t.wg.Done()
	select {
	case <-ctx.Done():
		return
	case <-time.After(2 * time.Second):
	}
	t.recoverOnce.Do(func() {
		if err := t.Sync(ctx, true); err != nil {
			log.Printf("boot recovery: %v", err)
			return
		}
		log.Printf("boot recovery completed")
	})
}
