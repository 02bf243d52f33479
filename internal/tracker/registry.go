package tracker

import (
	"context"
	"log"

	"fleet-tracker/internal/model"
)

// Start begins tracking a trip. stops must already be ordered for the trip's
// direction. It returns false when the trip is already tracked, when stops is
// empty, or when the running status cannot be persisted; a duplicate start is
// an expected race, not an error.
func (t *Tracker) Start(ctx context.Context, tripID int64, stops []model.RouteStop, direction model.Direction, routeID int64, routeName string) bool {
	if len(stops) == 0 {
		return false
	}

	t.mu.Lock()
	if _, exists := t.trips[tripID]; exists {
		t.mu.Unlock()
		return false
	}

	startedAt := t.now()
	// Persist running status and the actual departure time before exposing
	// the trip; a failed write fails the whole start.
	if err := t.store.UpdateTripStatus(ctx, tripID, model.TripRunning, &startedAt, nil); err != nil {
		t.mu.Unlock()
		log.Printf("start trip %d: persist running status: %v", tripID, err)
		return false
	}

	t.trips[tripID] = &model.LiveTrip{
		TripID:           tripID,
		RouteID:          routeID,
		RouteName:        routeName,
		Direction:        direction,
		Stops:            stops,
		CurrentStopIndex: 0,
		CurrentStopID:    stops[0].StopID,
		CurrentStopName:  stops[0].StopName,
		StartedAt:        startedAt,
		LastUpdate:       startedAt,
		Status:           model.LiveRunning,
		TotalStops:       len(stops),
	}
	if t.metrics != nil {
		t.metrics.TripsStarted.Inc()
		t.metrics.ActiveTrips.Set(float64(len(t.trips)))
	}
	t.ensureAdvancerLocked()
	active := len(t.trips)
	t.mu.Unlock()

	log.Printf("trip %d started (route %d, %s) - active=%d", tripID, routeID, direction, active)
	t.emit(EventTripStarted, TripStartedEvent{
		TripID:           tripID,
		RouteID:          routeID,
		RouteName:        routeName,
		CurrentStopIndex: 0,
		CurrentStopName:  stops[0].StopName,
		TotalStops:       len(stops),
	})
	return true
}

// Stop cancels a tracked trip and any scheduled return trip it spawned.
// Returns false when the trip is not tracked or cancellation cannot be
// persisted.
func (t *Tracker) Stop(ctx context.Context, tripID int64) bool {
	t.mu.Lock()
	lt, ok := t.trips[tripID]
	if !ok {
		t.mu.Unlock()
		return false
	}

	if err := t.store.UpdateTripStatus(ctx, tripID, model.TripCancelled, nil, nil); err != nil {
		t.mu.Unlock()
		log.Printf("stop trip %d: persist cancelled status: %v", tripID, err)
		return false
	}
	// Cascade is best-effort: the scheduled return leg also dies with its
	// origin, but a failure here must not undo the cancellation.
	if err := t.store.CancelTripsWithOrigin(ctx, tripID); err != nil {
		log.Printf("stop trip %d: cancel spawned trips: %v", tripID, err)
	}

	lt.Status = model.LiveStopped
	delete(t.trips, tripID)
	if t.metrics != nil {
		t.metrics.TripsCancelled.Inc()
		t.metrics.ActiveTrips.Set(float64(len(t.trips)))
	}
	t.mu.Unlock()

	log.Printf("trip %d stopped", tripID)
	t.emit(EventTripStopped, TripStoppedEvent{TripID: tripID})
	return true
}

// Status returns a snapshot of a tracked trip's live state.
func (t *Tracker) Status(tripID int64) (model.LiveTrip, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	lt, ok := t.trips[tripID]
	if !ok {
		return model.LiveTrip{}, false
	}
	return *lt, true
}

// ActiveTrips returns a snapshot of all tracked trips.
func (t *Tracker) ActiveTrips() []model.LiveTrip {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]model.LiveTrip, 0, len(t.trips))
	for _, lt := range t.trips {
		out = append(out, *lt)
	}
	return out
}

// IsBoardable reports whether a passenger can still board the trip at the
// given stop. A trip that has not started yet is always boardable; a stop
// not on the route never is.
func (t *Tracker) IsBoardable(tripID, stopID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	lt, ok := t.trips[tripID]
	if !ok {
		return true
	}
	for idx, stop := range lt.Stops {
		if stop.StopID == stopID {
			return lt.CurrentStopIndex <= idx
		}
	}
	return false
}

// isTracked reports registry membership without copying state.
func (t *Tracker) isTracked(tripID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.trips[tripID]
	return ok
}

// orderStops returns the snapshot for one traversal of the route: the
// canonical order for forward trips, reversed for backward trips.
func orderStops(stops []model.RouteStop, direction model.Direction) []model.RouteStop {
	ordered := make([]model.RouteStop, len(stops))
	if direction == model.DirectionBackward {
		for i, s := range stops {
			ordered[len(stops)-1-i] = s
		}
	} else {
		copy(ordered, stops)
	}
	return ordered
}
