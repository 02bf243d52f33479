package tracker

import (
	"context"
	"log"
	"time"
)

func (t *Tracker) scheduleLoop(ctx context.Context) {
	defer t.wg.Done()
	// immediate pass on start
	t.schedulerTick(ctx)
	ticker := time.NewTicker(t.schedulerInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.schedulerTick(ctx)
		}
	}
}

// schedulerTick self-heals the registry and promotes due scheduled trips.
// Store errors are logged and retried on the next tick.
func (t *Tracker) schedulerTick(ctx context.Context) {
	if err := t.Sync(ctx, false); err != nil {
		log.Printf("scheduler sync: %v", err)
	}

	due, err := t.store.DueScheduledTrips(ctx, t.now(), t.dueTripBatch)
	if err != nil {
		log.Printf("scheduler query due trips: %v", err)
		return
	}

	for _, d := range due {
		if t.isTracked(d.TripID) {
			// Already started by another path; not an error.
			continue
		}
		stops, err := t.topo.StopsForRoute(ctx, d.RouteID)
		if err != nil {
			log.Printf("scheduler: stops for route %d (trip %d): %v", d.RouteID, d.TripID, err)
			continue
		}
		if len(stops) == 0 {
			log.Printf("scheduler: no stops for route %d, trip %d not started", d.RouteID, d.TripID)
			continue
		}
		if t.Start(ctx, d.TripID, orderStops(stops, d.Direction), d.Direction, d.RouteID, d.RouteName) {
			log.Printf("auto-started trip %d (route %d, %s)", d.TripID, d.RouteID, d.Direction)
		}
	}
}
