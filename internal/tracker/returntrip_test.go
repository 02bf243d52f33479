package tracker

import (
	"context"
	"testing"
	"time"

	"fleet-tracker/internal/model"
)

func completedTrip(clk *fakeClock, tripID int64) model.TripRecord {
	arrival := clk.Now().Add(-time.Minute)
	dep := arrival.Add(-30 * time.Minute)
	return model.TripRecord{
		TripID:        tripID,
		BusID:         5,
		RouteID:       9,
		Direction:     model.DirectionForward,
		DepartureTime: &dep,
		ArrivalTime:   &arrival,
		Status:        model.TripCompleted,
	}
}

func TestReturnTripCreated(t *testing.T) {
	tr, store, _, pub, clk := newTestTracker(Options{AutoReturn: true})
	ctx := context.Background()

	rec := completedTrip(clk, 101)
	store.put(rec)

	tr.planReturnTrip(ctx, 101)

	payload, ok := pub.last(EventReturnTripCreated)
	if !ok {
		t.Fatal("expected a return_trip_created event")
	}
	ev := payload.(ReturnTripCreatedEvent)
	if ev.OriginalTripID != 101 || ev.BusID != 5 || ev.RouteID != 9 {
		t.Errorf("unexpected event: %+v", ev)
	}
	if ev.Direction != model.DirectionBackward {
		t.Errorf("return leg must reverse direction, got %s", ev.Direction)
	}

	created, _ := store.get(ev.NewTripID)
	if created.Status != model.TripScheduled {
		t.Errorf("return leg should be scheduled, got %s", created.Status)
	}
	if created.OriginTripID == nil || *created.OriginTripID != 101 {
		t.Error("return leg must carry its origin trip id")
	}
	want := rec.ArrivalTime.Add(30 * time.Second)
	if created.DepartureTime == nil || !created.DepartureTime.Equal(want) {
		t.Errorf("departure should be arrival+buffer (%s), got %v", want, created.DepartureTime)
	}
}

func TestReturnSkippedWhenDisabled(t *testing.T) {
	tr, store, _, pub, clk := newTestTracker(Options{AutoReturn: false})
	store.put(completedTrip(clk, 101))

	tr.planReturnTrip(context.Background(), 101)

	if pub.count(EventReturnTripCreated) != 0 {
		t.Error("planner disabled, no return trip expected")
	}
	if len(store.trips) != 1 {
		t.Error("no trip should be inserted while the planner is disabled")
	}
}

// A completed return leg (origin set) never spawns another return; otherwise
// every round trip would ping-pong forever.
func TestReturnSkippedForReturnLeg(t *testing.T) {
	tr, store, _, pub, clk := newTestTracker(Options{AutoReturn: true})
	rec := completedTrip(clk, 202)
	origin := int64(101)
	rec.Direction = model.DirectionBackward
	rec.OriginTripID = &origin
	store.put(rec)

	tr.planReturnTrip(context.Background(), 202)

	if pub.count(EventReturnTripCreated) != 0 {
		t.Error("return legs must not spawn further returns")
	}
	if len(store.trips) != 1 {
		t.Error("no trip should be inserted for a return leg")
	}
}

func TestReturnSkippedWhenNotCompleted(t *testing.T) {
	tr, store, _, pub, clk := newTestTracker(Options{AutoReturn: true})
	rec := completedTrip(clk, 101)
	rec.Status = model.TripRunning
	store.put(rec)

	tr.planReturnTrip(context.Background(), 101)

	if pub.count(EventReturnTripCreated) != 0 || len(store.trips) != 1 {
		t.Error("only completed trips get a return leg")
	}
}

// If a reverse trip already exists but departs later than arrival+buffer,
// it is pulled earlier instead of duplicated.
func TestReturnExistingPulledEarlier(t *testing.T) {
	tr, store, _, pub, clk := newTestTracker(Options{AutoReturn: true})
	rec := completedTrip(clk, 101)
	store.put(rec)

	lateDep := rec.ArrivalTime.Add(2 * time.Hour)
	store.put(model.TripRecord{TripID: 555, BusID: 5, RouteID: 9, Direction: model.DirectionBackward,
		DepartureTime: &lateDep, Status: model.TripScheduled})

	tr.planReturnTrip(context.Background(), 101)

	if len(store.trips) != 2 {
		t.Fatal("existing reverse trip must be reused, not duplicated")
	}
	if pub.count(EventReturnTripCreated) != 0 {
		t.Error("reusing an existing trip emits no creation event")
	}
	existing, _ := store.get(555)
	want := rec.ArrivalTime.Add(30 * time.Second)
	if existing.DepartureTime == nil || !existing.DepartureTime.Equal(want) {
		t.Errorf("departure should be pulled to %s, got %v", want, existing.DepartureTime)
	}
	if existing.OriginTripID == nil || *existing.OriginTripID != 101 {
		t.Error("reused trip should be tied to its origin")
	}
}

// An existing reverse trip that already departs early enough keeps its
// schedule; only the origin link is backfilled.
func TestReturnExistingEarlierLeftAlone(t *testing.T) {
	tr, store, _, _, clk := newTestTracker(Options{AutoReturn: true})
	rec := completedTrip(clk, 101)
	store.put(rec)

	earlyDep := rec.ArrivalTime.Add(10 * time.Second)
	store.put(model.TripRecord{TripID: 555, BusID: 5, RouteID: 9, Direction: model.DirectionBackward,
		DepartureTime: &earlyDep, Status: model.TripScheduled})

	tr.planReturnTrip(context.Background(), 101)

	existing, _ := store.get(555)
	if !existing.DepartureTime.Equal(earlyDep) {
		t.Errorf("an already-early departure must not move, got %v", existing.DepartureTime)
	}
	if existing.OriginTripID == nil || *existing.OriginTripID != 101 {
		t.Error("origin should be backfilled on the existing trip")
	}
}

// With auto-start on and the planned departure already in the past, the
// return leg goes straight into the registry.
func TestReturnAutoStart(t *testing.T) {
	tr, store, topo, pub, clk := newTestTracker(Options{AutoReturn: true, AutoStartReturn: true})
	topo.stops[9] = stopsABC()

	rec := completedTrip(clk, 101)
	past := clk.Now().Add(-2 * time.Minute)
	rec.ArrivalTime = &past
	store.put(rec)

	tr.planReturnTrip(context.Background(), 101)

	ev, ok := pub.last(EventReturnTripCreated)
	if !ok {
		t.Fatal("expected a return_trip_created event")
	}
	newID := ev.(ReturnTripCreatedEvent).NewTripID

	lt, ok := tr.Status(newID)
	if !ok {
		t.Fatal("overdue return leg should be auto-started")
	}
	if lt.Direction != model.DirectionBackward {
		t.Errorf("expected backward direction, got %s", lt.Direction)
	}
	if lt.CurrentStopName != "C" {
		t.Errorf("backward trip starts at the far end, got %s", lt.CurrentStopName)
	}
	if created, _ := store.get(newID); created.Status != model.TripRunning {
		t.Errorf("auto-started trip should be running in the store, got %s", created.Status)
	}
}

// Auto-start backs off if the trip was rescheduled while waiting.
func TestReturnAutoStartSkipsRescheduled(t *testing.T) {
	tr, store, topo, _, clk := newTestTracker(Options{AutoReturn: true})
	topo.stops[9] = stopsABC()

	dep := clk.Now().Add(-time.Minute)
	store.put(model.TripRecord{TripID: 555, BusID: 5, RouteID: 9, Direction: model.DirectionBackward,
		DepartureTime: &dep, Status: model.TripScheduled})

	moved := dep.Add(time.Hour)
	store.put(model.TripRecord{TripID: 555, BusID: 5, RouteID: 9, Direction: model.DirectionBackward,
		DepartureTime: &moved, Status: model.TripScheduled})

	tr.startReturnAtDeparture(context.Background(), 555, 9, model.DirectionBackward, dep)

	if _, ok := tr.Status(555); ok {
		t.Error("rescheduled trip must be left to the scheduler")
	}
	if rec, _ := store.get(555); rec.Status != model.TripScheduled {
		t.Errorf("trip must stay scheduled, got %s", rec.Status)
	}
}

// The full chain: a forward trip runs to completion and its return leg
// appears scheduled with the origin link in place.
func TestCompletionTriggersPlanner(t *testing.T) {
	tr, store, topo, pub, clk := newTestTracker(Options{AutoReturn: true})
	topo.stops[9] = stopsABC()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr.runCtx = ctx

	dep := clk.Now()
	store.put(model.TripRecord{TripID: 101, BusID: 5, RouteID: 9, Direction: model.DirectionForward,
		DepartureTime: &dep, Status: model.TripScheduled})

	tr.Start(ctx, 101, stopsABC(), model.DirectionForward, 9, "")
	for i := 0; i < 3; i++ {
		clk.Advance(15 * time.Second)
		tr.advanceAll(ctx)
	}
	tr.plannerWG.Wait()

	if pub.count(EventTripCompleted) != 1 {
		t.Fatal("trip should have completed")
	}
	if pub.count(EventReturnTripCreated) != 1 {
		t.Fatal("completion should have scheduled a return leg")
	}
	ev, _ := pub.last(EventReturnTripCreated)
	newID := ev.(ReturnTripCreatedEvent).NewTripID
	created, _ := store.get(newID)
	if created.Status != model.TripScheduled || created.Direction != model.DirectionBackward {
		t.Errorf("unexpected return leg: %+v", created)
	}
	if created.OriginTripID == nil || *created.OriginTripID != 101 {
		t.Error("return leg must point at the completed trip")
	}
}
