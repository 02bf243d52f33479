package tracker

import (
	"context"
	"log"
	"time"

	"fleet-tracker/internal/model"
)

// planReturnTrip schedules the reverse-direction trip for a just-completed
// trip. It runs in its own goroutine; any store error aborts this attempt
// silently - the still-scheduled trip is picked up by the scheduler's normal
// due-trip path, so nothing is lost.
func (t *Tracker) planReturnTrip(ctx context.Context, completedTripID int64) {
	if !t.AutoReturnEnabled() {
		return
	}

	rec, err := t.store.Trip(ctx, completedTripID)
	if err != nil {
		log.Printf("return planner: read trip %d: %v", completedTripID, err)
		return
	}
	// Lost the completion race, or the trip is itself a return leg: return
	// legs never spawn further returns automatically.
	if rec == nil || rec.Status != model.TripCompleted || rec.OriginTripID != nil {
		return
	}

	buffer := t.ReturnBuffer()
	var departure time.Time
	if rec.ArrivalTime != nil {
		departure = rec.ArrivalTime.Add(buffer)
	} else {
		departure = t.now().Add(buffer)
	}
	returnDirection := rec.Direction.Reverse()

	existing, err := t.store.EarliestOpenTrip(ctx, rec.BusID, rec.RouteID, returnDirection)
	if err != nil {
		log.Printf("return planner: find existing return for trip %d: %v", completedTripID, err)
		return
	}
	if existing != nil {
		// A reverse trip is already on the books; pull it earlier when it is
		// later than arrival+buffer, tie it to its origin, and create nothing.
		if existing.DepartureTime != nil && existing.DepartureTime.After(departure) {
			if err := t.store.SetTripDeparture(ctx, existing.TripID, departure); err != nil {
				log.Printf("return planner: pull trip %d departure earlier: %v", existing.TripID, err)
				return
			}
			log.Printf("return planner: pulled trip %d departure to %s", existing.TripID, departure.Format(time.RFC3339))
		}
		if existing.OriginTripID == nil {
			if err := t.store.SetTripOrigin(ctx, existing.TripID, completedTripID); err != nil {
				log.Printf("return planner: set origin on trip %d: %v", existing.TripID, err)
			}
		}
		return
	}

	newTripID, err := t.store.InsertScheduledTrip(ctx, rec.BusID, rec.RouteID, returnDirection, departure, completedTripID)
	if err != nil {
		log.Printf("return planner: insert return trip for %d: %v", completedTripID, err)
		return
	}
	if t.metrics != nil {
		t.metrics.ReturnTripsCreated.Inc()
	}
	log.Printf("return trip %d scheduled for trip %d (route %d, %s, departs %s)",
		newTripID, completedTripID, rec.RouteID, returnDirection, departure.Format(time.RFC3339))

	details, err := t.store.TripDetails(ctx, newTripID)
	if err != nil {
		log.Printf("return planner: load trip %d details: %v", newTripID, err)
	}
	t.emit(EventReturnTripCreated, ReturnTripCreatedEvent{
		OriginalTripID: completedTripID,
		NewTripID:      newTripID,
		BusID:          rec.BusID,
		RouteID:        rec.RouteID,
		Direction:      returnDirection,
		DepartureTime:  departure,
		Trip:           details,
	})

	if !t.AutoStartReturnEnabled() {
		return
	}
	t.startReturnAtDeparture(ctx, newTripID, rec.RouteID, returnDirection, departure)
}

// startReturnAtDeparture waits until the planned departure and starts the return
// trip directly, skipping the scheduler's polling latency. The wait never
// holds the registry mutex.
func (t *Tracker) startReturnAtDeparture(ctx context.Context, tripID, routeID int64, direction model.Direction, departure time.Time) {
	if wait := departure.Sub(t.now()); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}

	// Re-verify: an admin may have cancelled, started or rescheduled the
	// trip while we slept.
	created, err := t.store.Trip(ctx, tripID)
	if err != nil {
		log.Printf("return auto-start: re-read trip %d: %v", tripID, err)
		return
	}
	if created == nil || created.Status != model.TripScheduled {
		return
	}
	if created.DepartureTime != nil && !created.DepartureTime.Equal(departure) {
		// Rescheduled while sleeping; leave it to the scheduler.
		return
	}

	stops, err := t.topo.StopsForRoute(ctx, routeID)
	if err != nil {
		log.Printf("return auto-start: stops for route %d: %v", routeID, err)
		return
	}
	if len(stops) == 0 {
		log.Printf("return auto-start: no stops for route %d, trip %d not started", routeID, tripID)
		return
	}

	routeName := ""
	if details, err := t.store.TripDetails(ctx, tripID); err == nil && details != nil {
		routeName = details.RouteName
	}
	if t.Start(ctx, tripID, orderStops(stops, direction), direction, routeID, routeName) {
		log.Printf("return trip %d auto-started (%s)", tripID, direction)
	}
}
