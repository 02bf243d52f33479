package model

import "time"

// Direction is the traversal direction of a trip along its route.
type Direction string

const (
	DirectionForward  Direction = "forward"
	DirectionBackward Direction = "backward"
)

// Reverse returns the opposite traversal direction.
func (d Direction) Reverse() Direction {
	if d == DirectionBackward {
		return DirectionForward
	}
	return DirectionBackward
}

// TripStatus is the persisted lifecycle status of a trip.
type TripStatus string

const (
	TripScheduled TripStatus = "scheduled"
	TripRunning   TripStatus = "running"
	TripCompleted TripStatus = "completed"
	TripCancelled TripStatus = "cancelled"
)

// LiveStatus is the in-memory status of a tracked trip.
type LiveStatus string

const (
	LiveRunning   LiveStatus = "running"
	LiveStopped   LiveStatus = "stopped"
	LiveCompleted LiveStatus = "completed"
)

// RouteStop is one stop in a route's ordered stop sequence.
type RouteStop struct {
	StopID    int64  `json:"stop_id"`
	StopName  string `json:"stop_name"`
	StopOrder int    `json:"stop_order"`
}

// TripRecord is a row of the trips table. DepartureTime, ArrivalTime and
// OriginTripID are nil when the corresponding column is NULL.
type TripRecord struct {
	TripID        int64
	BusID         int64
	RouteID       int64
	Direction     Direction
	DepartureTime *time.Time
	ArrivalTime   *time.Time
	Status        TripStatus
	OriginTripID  *int64
}

// DueTrip is a scheduled trip whose departure time has arrived.
type DueTrip struct {
	TripID        int64
	RouteID       int64
	Direction     Direction
	DepartureTime time.Time
	RouteName     string
}

// RunningTrip is a trip marked running in the database, with the route
// metadata needed to rebuild its live state.
type RunningTrip struct {
	TripID    int64
	RouteID   int64
	Direction Direction
	RouteName string
}

// TripDetails is the enriched read model from trip_details_view, used for
// event payloads pushed to clients.
type TripDetails struct {
	TripID            int64      `json:"trip_id"`
	BusID             int64      `json:"bus_id"`
	NumberPlate       string     `json:"number_plate"`
	RouteID           int64      `json:"route_id"`
	RouteName         string     `json:"route_name"`
	Direction         Direction  `json:"direction"`
	DepartureTime     *time.Time `json:"departure_time"`
	ArrivalTime       *time.Time `json:"arrival_time"`
	Status            TripStatus `json:"status"`
	ConfirmedBookings int        `json:"confirmed_bookings"`
	AvailableSeats    int        `json:"available_seats"`
}

// LiveTrip is the in-memory state of one tracked trip. The registry owns all
// instances; callers receive copies. Stops is an immutable snapshot, already
// ordered for the trip's direction.
type LiveTrip struct {
	TripID           int64       `json:"trip_id"`
	RouteID          int64       `json:"route_id"`
	RouteName        string      `json:"route_name,omitempty"`
	Direction        Direction   `json:"direction"`
	Stops            []RouteStop `json:"route_stops"`
	CurrentStopIndex int         `json:"current_stop_index"`
	CurrentStopID    int64       `json:"current_stop_id"`
	CurrentStopName  string      `json:"current_stop_name"`
	StartedAt        time.Time   `json:"started_at"`
	LastUpdate       time.Time   `json:"last_update"`
	Status           LiveStatus  `json:"status"`
	TotalStops       int         `json:"total_stops"`
}
