package postgresql

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Frank-III/f1-swifty-sub002/cmd/livetiming/helper"
	"github.com/Frank-III/f1-swifty-sub002/cmd/livetiming/shared"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func CreateMockConnection(t *testing.T, channelSize int) (*Connection, pgxmock.PgxPoolIface) {
	helper.InitTestLogging()
	mocked, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("Failed to create mock connection: %v", err)
	}
	return NewConnection(mocked, channelSize), mocked
}

func sample(nr string, lap int64) shared.TimingSample {
	return shared.TimingSample{
		DriverNumber: nr,
		Lap:          helper.Int64ToPtr(lap),
		GapMs:        273,
		LapTimeMs:    81306,
		CapturedAt:   time.Date(2024, 3, 2, 15, 0, 0, 0, time.UTC),
	}
}

func TestCreateMockConnection(t *testing.T) {
	c, _ := CreateMockConnection(t, 0)
	assert.NotNil(t, c)
	assert.NotNil(t, c.db)
	assert.Equal(t, uint64(10000), c.timingSource.Capacity())
	assert.Equal(t, uint64(10000), c.tireSource.Capacity())
}

func TestIsAvailable(t *testing.T) {
	c, mock := CreateMockConnection(t, 1)

	mock.ExpectPing()
	assert.True(t, c.IsAvailable())

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	assert.Error(t, c.GetHealthCheck()())

	var missing *Connection
	assert.False(t, missing.IsAvailable())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	c, _ := CreateMockConnection(t, 2)

	c.EnqueueTimingSample(sample("1", 1))
	c.EnqueueTimingSample(sample("1", 2))
	c.EnqueueTimingSample(sample("1", 3))

	assert.Equal(t, uint64(2), c.timingSource.Available())
	rows := c.timingSource.Drain()
	require.Len(t, rows, 2)
	assert.Equal(t, "1", rows[0][1])
	assert.Equal(t, uint64(0), c.timingSource.Available())
}

func TestWriteBatch(t *testing.T) {
	t.Run("copies-queued-rows", func(t *testing.T) {
		c, mock := CreateMockConnection(t, 10)
		c.EnqueueTimingSample(sample("44", 1))
		c.EnqueueTimingSample(sample("44", 2))

		mock.ExpectCopyFrom(pgx.Identifier{"timing_driver"}, timingColumns).WillReturnResult(2)

		n, err := c.writeBatch(c.timingSource, timingColumns)
		assert.NoError(t, err)
		assert.Equal(t, int64(2), n)
		assert.Equal(t, uint64(2), c.databaseInserted.Load())
		assert.NoError(t, mock.ExpectationsWereMet())
	})
	t.Run("empty-queue", func(t *testing.T) {
		c, mock := CreateMockConnection(t, 10)
		n, err := c.writeBatch(c.tireSource, tireColumns)
		assert.NoError(t, err)
		assert.Zero(t, n)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
	t.Run("failed-batch-is-dropped", func(t *testing.T) {
		c, mock := CreateMockConnection(t, 10)
		c.EnqueueTireRecord(shared.TireRecord{DriverNumber: "16", Compound: "SOFT", LapsOnTire: 3})

		mock.ExpectCopyFrom(pgx.Identifier{"tire_driver"}, tireColumns).WillReturnError(errors.New("relation does not exist"))

		n, err := c.writeBatch(c.tireSource, tireColumns)
		assert.Error(t, err)
		assert.Zero(t, n)
		assert.Equal(t, uint64(0), c.tireSource.Available())
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCloseFlushesQueues(t *testing.T) {
	c, mock := CreateMockConnection(t, 10)
	mock.MatchExpectationsInOrder(false)

	c.EnqueueTimingSample(sample("1", 5))
	c.EnqueueTireRecord(shared.TireRecord{DriverNumber: "1", Compound: "HARD", LapsOnTire: 5})

	mock.ExpectCopyFrom(pgx.Identifier{"timing_driver"}, timingColumns).WillReturnResult(1)
	mock.ExpectCopyFrom(pgx.Identifier{"tire_driver"}, tireColumns).WillReturnResult(1)
	mock.ExpectClose()

	c.StartWriters()
	c.Close()
	c.Close()

	assert.Equal(t, uint64(2), c.databaseInserted.Load())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAnalytics(t *testing.T) {
	c, mock := CreateMockConnection(t, 1)
	ts := time.Date(2024, 3, 2, 15, 0, 0, 0, time.UTC)
	lap := int64(12)

	t.Run("laptimes", func(t *testing.T) {
		mock.ExpectQuery(`SELECT time, lap, laptime FROM timing_driver WHERE nr = \$1 AND laptime > 0 ORDER BY time ASC`).
			WithArgs("44").
			WillReturnRows(mock.NewRows([]string{"time", "lap", "laptime"}).
				AddRow(ts, &lap, int64(81306)).
				AddRow(ts.Add(time.Minute), &lap, int64(80999)))

		points, err := c.GetLaptimes(context.Background(), "44")
		require.NoError(t, err)
		require.Len(t, points, 2)
		assert.Equal(t, int64(81306), points[0].Laptime)
		require.NotNil(t, points[0].Lap)
		assert.Equal(t, int64(12), *points[0].Lap)
	})
	t.Run("gaps", func(t *testing.T) {
		mock.ExpectQuery(`SELECT time, gap FROM timing_driver WHERE nr = \$1 ORDER BY time ASC`).
			WithArgs("1").
			WillReturnRows(mock.NewRows([]string{"time", "gap"}))

		points, err := c.GetGaps(context.Background(), "1")
		require.NoError(t, err)
		assert.NotNil(t, points)
		assert.Empty(t, points)
	})
	t.Run("query-error", func(t *testing.T) {
		mock.ExpectQuery(`SELECT time, gap FROM timing_driver`).
			WithArgs("1").
			WillReturnError(errors.New("boom"))

		_, err := c.GetGaps(context.Background(), "1")
		assert.Error(t, err)
	})
	t.Run("no-database", func(t *testing.T) {
		var missing *Connection
		_, err := missing.GetLaptimes(context.Background(), "1")
		assert.ErrorIs(t, err, ErrNotAvailable)
	})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCalculateSleepTime(t *testing.T) {
	assert.Equal(t, 5*time.Second, calculateSleepTime(0, 100))
	assert.Equal(t, 5*time.Second, calculateSleepTime(1, 100))
	assert.Equal(t, time.Duration(0), calculateSleepTime(50, 100))
	mid := calculateSleepTime(10, 100)
	assert.Greater(t, mid, time.Duration(0))
	assert.Less(t, mid, 5*time.Second)
}
