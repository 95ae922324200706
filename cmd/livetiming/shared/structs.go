package shared

import "time"

// TimingSample is one timing_driver row
type TimingSample struct {
	DriverNumber string
	Lap          *int64
	GapMs        int64
	LeaderGapMs  int64
	LapTimeMs    int64
	Sector1Ms    int64
	Sector2Ms    int64
	Sector3Ms    int64
	CapturedAt   time.Time
}

// TireRecord is one tire_driver row
type TireRecord struct {
	DriverNumber string
	Lap          *int64
	Compound     string
	LapsOnTire   int64
	CapturedAt   time.Time
}

// LaptimePoint is one entry of the lap time series of a driver
type LaptimePoint struct {
	Time    time.Time `json:"time"`
	Lap     *int64    `json:"lap"`
	Laptime int64     `json:"laptime"`
}

// GapPoint is one entry of the gap series of a driver
type GapPoint struct {
	Time time.Time `json:"time"`
	Gap  int64     `json:"gap"`
}
