package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fleet-tracker/internal/model"
)

// DueScheduledTrips returns scheduled trips whose departure time has passed,
// oldest first, joined with routes for the display name.
func (s *Store) DueScheduledTrips(ctx context.Context, now time.Time, limit int) ([]model.DueTrip, error) {
	q := `
SELECT t.trip_id, t.route_id, COALESCE(t.direction, 'forward'), t.departure_time, COALESCE(r.route_name, '')
FROM trips t
JOIN routes r ON r.route_id = t.route_id
WHERE t.status = 'scheduled' AND t.departure_time <= $1
ORDER BY t.departure_time ASC
LIMIT $2`
	rows, err := s.db.QueryContext(ctx, q, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query due trips: %w", err)
	}
	defer rows.Close()

	var due []model.DueTrip
	for rows.Next() {
		var d model.DueTrip
		var dir string
		if err := rows.Scan(&d.TripID, &d.RouteID, &dir, &d.DepartureTime, &d.RouteName); err != nil {
			return nil, err
		}
		d.Direction = model.Direction(dir)
		due = append(due, d)
	}
	return due, rows.Err()
}

// UpdateTripStatus sets a trip's status, optionally stamping departure and/or
// arrival time in the same statement.
func (s *Store) UpdateTripStatus(ctx context.Context, tripID int64, status model.TripStatus, departure, arrival *time.Time) error {
	q := `UPDATE trips SET status = $1`
	args := []any{string(status)}
	if departure != nil {
		args = append(args, *departure)
		q += fmt.Sprintf(", departure_time = $%d", len(args))
	}
	if arrival != nil {
		args = append(args, *arrival)
		q += fmt.Sprintf(", arrival_time = $%d", len(args))
	}
	args = append(args, tripID)
	q += fmt.Sprintf(" WHERE trip_id = $%d", len(args))

	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("update trip %d status: %w", tripID, err)
	}
	return nil
}

const tripColumns = `trip_id, bus_id, route_id, COALESCE(direction, 'forward'), departure_time, arrival_time, status, origin_trip_id`

// Trip returns the trip row by id, or (nil, nil) when it does not exist.
func (s *Store) Trip(ctx context.Context, tripID int64) (*model.TripRecord, error) {
	q := `SELECT ` + tripColumns + ` FROM trips WHERE trip_id = $1`
	rec, err := scanTrip(s.db.QueryRowContext(ctx, q, tripID))
	if err != nil {
		return nil, fmt.Errorf("select trip %d: %w", tripID, err)
	}
	return rec, nil
}

// EarliestOpenTrip returns the earliest scheduled or running trip for the
// given bus, route and direction, or (nil, nil) when there is none.
func (s *Store) EarliestOpenTrip(ctx context.Context, busID, routeID int64, direction model.Direction) (*model.TripRecord, error) {
	q := `
SELECT ` + tripColumns + `
FROM trips
WHERE bus_id = $1 AND route_id = $2 AND direction = $3 AND status IN ('scheduled', 'running')
ORDER BY departure_time ASC
LIMIT 1`
	rec, err := scanTrip(s.db.QueryRowContext(ctx, q, busID, routeID, string(direction)))
	if err != nil {
		return nil, fmt.Errorf("select open trip (bus %d route %d %s): %w", busID, routeID, direction, err)
	}
	return rec, nil
}

func scanTrip(row *sql.Row) (*model.TripRecord, error) {
	var rec model.TripRecord
	var dir string
	var departure, arrival sql.NullTime
	var origin sql.NullInt64
	err := row.Scan(&rec.TripID, &rec.BusID, &rec.RouteID, &dir, &departure, &arrival, &rec.Status, &origin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.Direction = model.Direction(dir)
	if departure.Valid {
		t := departure.Time
		rec.DepartureTime = &t
	}
	if arrival.Valid {
		t := arrival.Time
		rec.ArrivalTime = &t
	}
	if origin.Valid {
		v := origin.Int64
		rec.OriginTripID = &v
	}
	return &rec, nil
}

// RunningTrips returns all trips marked running in the database, with the
// route metadata needed to rebuild live state.
func (s *Store) RunningTrips(ctx context.Context) ([]model.RunningTrip, error) {
	q := `
SELECT t.trip_id, t.route_id, COALESCE(t.direction, 'forward'), COALESCE(r.route_name, '')
FROM trips t
JOIN routes r ON r.route_id = t.route_id
WHERE t.status = 'running'
ORDER BY t.departure_time ASC`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query running trips: %w", err)
	}
	defer rows.Close()

	var running []model.RunningTrip
	for rows.Next() {
		var rt model.RunningTrip
		var dir string
		if err := rows.Scan(&rt.TripID, &rt.RouteID, &dir, &rt.RouteName); err != nil {
			return nil, err
		}
		rt.Direction = model.Direction(dir)
		running = append(running, rt)
	}
	return running, rows.Err()
}

// InsertScheduledTrip creates a new scheduled trip spawned by originTripID
// and returns the new trip id.
func (s *Store) InsertScheduledTrip(ctx context.Context, busID, routeID int64, direction model.Direction, departure time.Time, originTripID int64) (int64, error) {
	q := `
INSERT INTO trips (bus_id, route_id, direction, departure_time, status, origin_trip_id)
VALUES ($1, $2, $3, $4, 'scheduled', $5)
RETURNING trip_id`
	var id int64
	if err := s.db.QueryRowContext(ctx, q, busID, routeID, string(direction), departure, originTripID).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert return trip for %d: %w", originTripID, err)
	}
	return id, nil
}

// CancelTripsWithOrigin cancels scheduled trips spawned by the given trip.
func (s *Store) CancelTripsWithOrigin(ctx context.Context, originTripID int64) error {
	q := `UPDATE trips SET status = 'cancelled' WHERE origin_trip_id = $1 AND status = 'scheduled'`
	if _, err := s.db.ExecContext(ctx, q, originTripID); err != nil {
		return fmt.Errorf("cancel trips with origin %d: %w", originTripID, err)
	}
	return nil
}

// SetTripDeparture moves a trip's departure time.
func (s *Store) SetTripDeparture(ctx context.Context, tripID int64, departure time.Time) error {
	q := `UPDATE trips SET departure_time = $1 WHERE trip_id = $2`
	if _, err := s.db.ExecContext(ctx, q, departure, tripID); err != nil {
		return fmt.Errorf("set trip %d departure: %w", tripID, err)
	}
	return nil
}

// SetTripOrigin backfills origin_trip_id on a trip.
func (s *Store) SetTripOrigin(ctx context.Context, tripID, originTripID int64) error {
	q := `UPDATE trips SET origin_trip_id = $1 WHERE trip_id = $2`
	if _, err := s.db.ExecContext(ctx, q, originTripID, tripID); err != nil {
		return fmt.Errorf("set trip %d origin: %w", tripID, err)
	}
	return nil
}

// TripDetails returns the enriched view row for a trip, or (nil, nil) when
// the trip is not in the view.
func (s *Store) TripDetails(ctx context.Context, tripID int64) (*model.TripDetails, error) {
	q := `
SELECT v.trip_id, v.bus_id, COALESCE(v.number_plate, ''), v.route_id, COALESCE(v.route_name, ''),
       COALESCE(v.direction, 'forward'), v.departure_time, v.arrival_time, v.trip_status,
       COALESCE(v.confirmed_bookings, 0), COALESCE(v.available_seats, 0)
FROM trip_details_view v
WHERE v.trip_id = $1`
	var d model.TripDetails
	var dir string
	var departure, arrival sql.NullTime
	err := s.db.QueryRowContext(ctx, q, tripID).Scan(
		&d.TripID, &d.BusID, &d.NumberPlate, &d.RouteID, &d.RouteName,
		&dir, &departure, &arrival, &d.Status,
		&d.ConfirmedBookings, &d.AvailableSeats,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select trip %d details: %w", tripID, err)
	}
	d.Direction = model.Direction(dir)
	if departure.Valid {
		t := departure.Time
		d.DepartureTime = &t
	}
	if arrival.Valid {
		t := arrival.Time
		d.ArrivalTime = &t
	}
	return &d, nil
}
