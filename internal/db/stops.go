package db

import (
	"context"
	"fmt"

	"fleet-tracker/internal/model"
)

// StopsForRoute returns the route's stop sequence in canonical (forward)
// order. Callers reverse the slice for backward trips.
func (s *Store) StopsForRoute(ctx context.Context, routeID int64) ([]model.RouteStop, error) {
	q := `
SELECT rs.stop_id, s.stop_name, rs.stop_order
FROM routes_stops rs
JOIN stops s ON s.stop_id = rs.stop_id
WHERE rs.route_id = $1
ORDER BY rs.stop_order`
	rows, err := s.db.QueryContext(ctx, q, routeID)
	if err != nil {
		return nil, fmt.Errorf("query route %d stops: %w", routeID, err)
	}
	defer rows.Close()

	var stops []model.RouteStop
	for rows.Next() {
		var st model.RouteStop
		if err := rows.Scan(&st.StopID, &st.StopName, &st.StopOrder); err != nil {
			return nil, err
		}
		stops = append(stops, st)
	}
	return stops, rows.Err()
}
