package postgresql

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Frank-III/f1-swifty-sub002/cmd/livetiming/shared"
	"github.com/heptiolabs/healthcheck"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// ErrNotAvailable is returned by queries when no database is configured or reachable
var ErrNotAvailable = errors.New("database is not available")

// PgxIface is the subset of pgxpool.Pool used here, it is also satisfied by pgxmock
type PgxIface interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	Ping(ctx context.Context) error
	Close()
}

// Config holds the connection parameters
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	// ChannelSize is the capacity of each write queue
	ChannelSize int
}

func (c Config) connString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s", c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// DSN is the lib/pq form of the connection parameters, used by the migration runner
func (c Config) DSN() string {
	return c.connString()
}

var (
	timingColumns = []string{"time", "nr", "lap", "gap", "leader_gap", "laptime", "sector_1", "sector_2", "sector_3"}
	tireColumns   = []string{"time", "nr", "lap", "compound", "laps"}
)

type Connection struct {
	db PgxIface

	timingSource *Source
	tireSource   *Source

	databaseInserted atomic.Uint64
	stop             chan struct{}
	stopOnce         sync.Once
	workers          sync.WaitGroup
}

// Open connects to postgres and verifies that the database answers
func Open(ctx context.Context, cfg Config) (*Connection, error) {
	zap.S().Infof("Connecting to %s@%s:%d/%s [%s]", cfg.User, cfg.Host, cfg.Port, cfg.Database, cfg.SSLMode)

	establishCtx, establishCncl := context.WithTimeout(ctx, 5*time.Second)
	defer establishCncl()
	db, err := pgxpool.New(establishCtx, cfg.connString())
	if err != nil {
		return nil, fmt.Errorf("failed to open connection to postgres database: %w", err)
	}

	c := NewConnection(db, cfg.ChannelSize)
	if !c.IsAvailable() {
		db.Close()
		return nil, ErrNotAvailable
	}
	return c, nil
}

// NewConnection wraps an existing pool. channelSize <= 0 selects 10000.
func NewConnection(db PgxIface, channelSize int) *Connection {
	if channelSize <= 0 {
		channelSize = 10000
	}
	return &Connection{
		db:           db,
		timingSource: NewSource("timing_driver", int64(channelSize)),
		tireSource:   NewSource("tire_driver", int64(channelSize)),
		stop:         make(chan struct{}),
	}
}

// StartWriters launches one background writer per table
func (c *Connection) StartWriters() {
	c.workers.Add(2)
	go c.tableWorker(c.timingSource, timingColumns)
	go c.tableWorker(c.tireSource, tireColumns)
}

// Close stops the writers, flushing what is still queued, and closes the pool
func (c *Connection) Close() {
	c.stopOnce.Do(func() {
		close(c.stop)
		c.workers.Wait()
		if c.db != nil {
			c.db.Close()
		}
		zap.S().Infof("Closed database connection [inserted: %d]", c.databaseInserted.Load())
	})
}

func (c *Connection) IsAvailable() bool {
	if c == nil || c.db == nil {
		return false
	}
	ctx, cncl := get5SecondContext()
	defer cncl()
	err := c.db.Ping(ctx)
	if err != nil {
		zap.S().Debugf("Failed to ping database: %s", err)
		return false
	}
	return true
}

// EnqueueTimingSample queues a row for timing_driver, dropping it if the queue is full
func (c *Connection) EnqueueTimingSample(sample shared.TimingSample) {
	row := []any{
		sample.CapturedAt,
		sample.DriverNumber,
		sample.Lap,
		sample.GapMs,
		sample.LeaderGapMs,
		sample.LapTimeMs,
		sample.Sector1Ms,
		sample.Sector2Ms,
		sample.Sector3Ms,
	}
	if !c.timingSource.Insert(row) {
		zap.S().Warnf("Write queue of %s is full, dropping sample of driver %s", c.timingSource.table, sample.DriverNumber)
	}
}

// EnqueueTireRecord queues a row for tire_driver, dropping it if the queue is full
func (c *Connection) EnqueueTireRecord(record shared.TireRecord) {
	row := []any{
		record.CapturedAt,
		record.DriverNumber,
		record.Lap,
		record.Compound,
		record.LapsOnTire,
	}
	if !c.tireSource.Insert(row) {
		zap.S().Warnf("Write queue of %s is full, dropping tire record of driver %s", c.tireSource.table, record.DriverNumber)
	}
}

func (c *Connection) tableWorker(source *Source, columns []string) {
	defer c.workers.Done()
	zap.S().Debugf("Starting tableWorker for %s", source.table)

	var copiedIn int64
	for {
		sleepTime := calculateSleepTime(copiedIn, source.Capacity())
		select {
		case <-c.stop:
			// Flush whatever is left before shutting down
			for source.Available() > 0 {
				if n, _ := c.writeBatch(source, columns); n == 0 {
					break
				}
			}
			zap.S().Debugf("Stopped tableWorker for %s", source.table)
			return
		case <-time.After(sleepTime):
		}

		copiedIn, _ = c.writeBatch(source, columns)
	}
}

// writeBatch copies everything currently queued in source into its table.
// A failed batch is logged and dropped.
func (c *Connection) writeBatch(source *Source, columns []string) (int64, error) {
	rows := source.Drain()
	if len(rows) == 0 {
		return 0, nil
	}

	ctx, cncl := get1MinuteContext()
	defer cncl()

	now := time.Now()
	copiedIn, err := c.db.CopyFrom(ctx, pgx.Identifier{source.table}, columns, pgx.CopyFromRows(rows))
	writeDuration.WithLabelValues(source.table).Observe(time.Since(now).Seconds())
	if err != nil {
		zap.S().Warnf("Failed to copy %d rows into %s, dropping them: %s", len(rows), source.table, err)
		rowsDropped.WithLabelValues(source.table).Add(float64(len(rows)))
		return 0, err
	}

	zap.S().Debugf("Inserted %d values inside the %s table", copiedIn, source.table)
	c.databaseInserted.Add(uint64(copiedIn))
	rowsInserted.WithLabelValues(source.table).Add(float64(copiedIn))
	return copiedIn, nil
}

// GetHealthCheck reports whether the database answers pings
func (c *Connection) GetHealthCheck() healthcheck.Check {
	return func() error {
		if c.IsAvailable() {
			return nil
		}
		return errors.New("healthcheck failed to reach database")
	}
}

func get5SecondContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func get1MinuteContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 1*time.Minute)
}
