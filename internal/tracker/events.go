package tracker

import (
	"errors"
	"log"
	"time"

	"fleet-tracker/internal/model"
)

// Event names pushed to subscribers. Delivery is at-least-once for connected
// clients; there is no replay or cross-reconnect ordering guarantee.
const (
	EventTripStarted        = "trip_started"
	EventTripPositionUpdate = "trip_position_update"
	EventTripCompleted      = "trip_completed"
	EventTripStopped        = "trip_stopped"
	EventTripRemoved        = "trip_removed"
	EventReturnTripCreated  = "return_trip_created"
)

var errBufferOutOfRange = errors.New("return buffer out of range (0-3600s)")

type TripStartedEvent struct {
	TripID           int64  `json:"trip_id"`
	RouteID          int64  `json:"route_id,omitempty"`
	RouteName        string `json:"route_name,omitempty"`
	CurrentStopIndex int    `json:"current_stop_index"`
	CurrentStopName  string `json:"current_stop_name"`
	TotalStops       int    `json:"total_stops"`
}

type TripPositionEvent struct {
	TripID           int64  `json:"trip_id"`
	CurrentStopIndex int    `json:"current_stop_index"`
	CurrentStopID    int64  `json:"current_stop_id"`
	CurrentStopName  string `json:"current_stop_name"`
	TotalStops       int    `json:"total_stops"`
}

type TripCompletedEvent struct {
	TripID int64              `json:"trip_id"`
	Trip   *model.TripDetails `json:"trip,omitempty"`
}

type TripStoppedEvent struct {
	TripID int64 `json:"trip_id"`
}

type TripRemovedEvent struct {
	TripID int64 `json:"trip_id"`
}

type ReturnTripCreatedEvent struct {
	OriginalTripID int64              `json:"original_trip_id"`
	NewTripID      int64              `json:"new_trip_id"`
	BusID          int64              `json:"bus_id"`
	RouteID        int64              `json:"route_id"`
	Direction      model.Direction    `json:"direction"`
	DepartureTime  time.Time          `json:"departure_time"`
	Trip           *model.TripDetails `json:"trip,omitempty"`
}

func (t *Tracker) emit(event string, payload any) {
	if t.pub == nil {
		return
	}
	if err := t.pub.Publish(event, payload); err != nil {
		log.Printf("publish %s error: %v", event, err)
	}
}
