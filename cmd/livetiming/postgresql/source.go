package postgresql

import (
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rowsInserted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livetiming_db_rows_inserted_total",
		Help: "The total number of rows copied into the database",
	}, []string{"table"})
	rowsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livetiming_db_rows_dropped_total",
		Help: "The total number of rows dropped because the queue was full or the copy failed",
	}, []string{"table"})
	writeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "livetiming_db_copy_duration_seconds",
		Help:    "Duration of a single COPY batch",
		Buckets: prometheus.DefBuckets,
	}, []string{"table"})
	queueFill = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "livetiming_db_queue_fill",
		Help: "Number of rows waiting to be written",
	}, []string{"table"})
)

// Source is a bounded write queue for a single table.
// Insert never blocks, Drain empties whatever is queued at the time of the call.
type Source struct {
	table string
	rows  chan []any
	// max must be > 0, otherwise nothing can be queued
	max int64
}

func NewSource(table string, maxLength int64) *Source {
	return &Source{
		table: table,
		rows:  make(chan []any, maxLength),
		max:   maxLength,
	}
}

// Insert queues a row and reports false if the queue is full
func (s *Source) Insert(row []any) bool {
	select {
	case s.rows <- row:
		queueFill.WithLabelValues(s.table).Set(float64(len(s.rows)))
		return true
	default:
		rowsDropped.WithLabelValues(s.table).Inc()
		return false
	}
}

// Drain removes and returns every queued row
func (s *Source) Drain() [][]any {
	n := len(s.rows)
	if n == 0 {
		return nil
	}
	rows := make([][]any, 0, n)
	for i := 0; i < n; i++ {
		select {
		case row := <-s.rows:
			rows = append(rows, row)
		default:
			i = n
		}
	}
	queueFill.WithLabelValues(s.table).Set(float64(len(s.rows)))
	return rows
}

func (s *Source) Available() uint64 {
	return uint64(len(s.rows))
}

func (s *Source) Capacity() uint64 {
	return uint64(s.max)
}

// calculateSleepTime calculates the sleep time based on the number of rows inserted (exponential backoff)
// The minimum sleep time is 0 milliseconds, and the maximum sleep time is 5 second
func calculateSleepTime(rowsInserted int64, capacity uint64) time.Duration {
	const maxSleepTime = 5 * time.Second
	const minSleepTime = 0 * time.Millisecond

	if rowsInserted <= 0 {
		return maxSleepTime
	}
	// Shortcut if rowsInserted is >= 50% of the capacity, since math.Log is expensive
	if float64(rowsInserted) >= float64(capacity)*0.5 {
		return minSleepTime
	}

	// log(1) is 0, a single row still waits the full interval
	factor := math.Log(float64(rowsInserted))
	if factor <= 0 {
		return maxSleepTime
	}
	sleepTime := time.Duration(float64(maxSleepTime) / factor)

	if sleepTime < minSleepTime {
		sleepTime = minSleepTime
	} else if sleepTime > maxSleepTime {
		sleepTime = maxSleepTime
	}
	return sleepTime
}
