package postgresql

import (
	"context"
	"fmt"

	"github.com/Frank-III/f1-swifty-sub002/cmd/livetiming/shared"
)

// GetLaptimes returns the recorded lap times of a driver in chronological order.
// Samples without a lap time are skipped.
func (c *Connection) GetLaptimes(ctx context.Context, driverNumber string) ([]shared.LaptimePoint, error) {
	if c == nil || c.db == nil {
		return nil, ErrNotAvailable
	}

	rows, err := c.db.Query(ctx, `SELECT time, lap, laptime FROM timing_driver WHERE nr = $1 AND laptime > 0 ORDER BY time ASC`, driverNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to query lap times of driver %s: %w", driverNumber, err)
	}
	defer rows.Close()

	points := make([]shared.LaptimePoint, 0)
	for rows.Next() {
		var p shared.LaptimePoint
		if err = rows.Scan(&p.Time, &p.Lap, &p.Laptime); err != nil {
			return nil, fmt.Errorf("failed to scan lap time row: %w", err)
		}
		points = append(points, p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read lap times of driver %s: %w", driverNumber, err)
	}
	return points, nil
}

// GetGaps returns the recorded gaps to the car ahead of a driver in chronological order
func (c *Connection) GetGaps(ctx context.Context, driverNumber string) ([]shared.GapPoint, error) {
	if c == nil || c.db == nil {
		return nil, ErrNotAvailable
	}

	rows, err := c.db.Query(ctx, `SELECT time, gap FROM timing_driver WHERE nr = $1 ORDER BY time ASC`, driverNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to query gaps of driver %s: %w", driverNumber, err)
	}
	defer rows.Close()

	points := make([]shared.GapPoint, 0)
	for rows.Next() {
		var p shared.GapPoint
		if err = rows.Scan(&p.Time, &p.Gap); err != nil {
			return nil, fmt.Errorf("failed to scan gap row: %w", err)
		}
		points = append(points, p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read gaps of driver %s: %w", driverNumber, err)
	}
	return points, nil
}
