package tracker

import (
	"context"
	"log"
	"sort"
	"time"

	"fleet-tracker/internal/model"
)

// ensureAdvancerLocked starts the advance loop if it is dormant. Callers must
// hold t.mu. The loop terminates itself once the registry empties and is
// restarted lazily by the next start or recovery.
func (t *Tracker) ensureAdvancerLocked() {
	if t.advancerOn {
		return
	}
	t.advancerOn = true
	ctx := t.taskCtx()
	t.wg.Add(1)
	go t.advanceLoop(ctx)
}

func (t *Tracker) advanceLoop(ctx context.Context) {
	defer t.wg.Done()
	ticker := time.NewTicker(t.advanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			t.mu.Lock()
			t.advancerOn = false
			t.mu.Unlock()
			return
		case <-ticker.C:
			tickStart := time.Now()
			t.advanceAll(ctx)
			if t.metrics != nil {
				t.metrics.TickDuration.Observe(time.Since(tickStart).Seconds())
			}
			// No trips, no polling.
			t.mu.Lock()
			if len(t.trips) == 0 {
				t.advancerOn = false
				t.mu.Unlock()
				return
			}
			t.mu.Unlock()
		}
	}
}

// advanceAll moves every running trip one stop forward. Each trip is handled
// in isolation so one failure never stalls the rest of the batch.
func (t *Tracker) advanceAll(ctx context.Context) {
	t.mu.Lock()
	ids := make([]int64, 0, len(t.trips))
	for id := range t.trips {
		ids = append(ids, id)
	}
	t.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		t.advanceOne(ctx, id)
	}
}

func (t *Tracker) advanceOne(ctx context.Context, tripID int64) {
	t.mu.Lock()
	lt, ok := t.trips[tripID]
	if !ok || lt.Status != model.LiveRunning {
		t.mu.Unlock()
		return
	}

	next := lt.CurrentStopIndex + 1
	if next < lt.TotalStops {
		lt.CurrentStopIndex = next
		stop := lt.Stops[next]
		lt.CurrentStopID = stop.StopID
		lt.CurrentStopName = stop.StopName
		lt.LastUpdate = t.now()
		ev := TripPositionEvent{
			TripID:           tripID,
			CurrentStopIndex: next,
			CurrentStopID:    stop.StopID,
			CurrentStopName:  stop.StopName,
			TotalStops:       lt.TotalStops,
		}
		t.mu.Unlock()
		t.emit(EventTripPositionUpdate, ev)
		return
	}
	t.mu.Unlock()

	// Final stop reached. The database is updated first; the in-memory entry
	// only changes once the write sticks, so a transient store failure means
	// the trip stays at its current index and retries next tick.
	arrivedAt := t.now()
	if err := t.store.UpdateTripStatus(ctx, tripID, model.TripCompleted, nil, &arrivedAt); err != nil {
		log.Printf("trip %d: completion not persisted, retrying next tick: %v", tripID, err)
		return
	}

	t.mu.Lock()
	lt, ok = t.trips[tripID]
	if !ok {
		// Stopped concurrently; the cancellation already won in the store
		// read path and reconciliation converges the rest.
		t.mu.Unlock()
		return
	}
	lt.Status = model.LiveCompleted
	delete(t.trips, tripID)
	if t.metrics != nil {
		t.metrics.TripsCompleted.Inc()
		t.metrics.ActiveTrips.Set(float64(len(t.trips)))
	}
	t.mu.Unlock()

	log.Printf("trip %d completed", tripID)
	details, err := t.store.TripDetails(ctx, tripID)
	if err != nil {
		log.Printf("trip %d: load completion details: %v", tripID, err)
	}
	t.emit(EventTripCompleted, TripCompletedEvent{TripID: tripID, Trip: details})

	t.plannerWG.Add(1)
	go func() {
		defer t.plannerWG.Done()
		t.planReturnTrip(t.taskCtx(), tripID)
	}()
}
