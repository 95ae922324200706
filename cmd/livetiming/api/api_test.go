package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Frank-III/f1-swifty-sub002/cmd/livetiming/external"
	"github.com/Frank-III/f1-swifty-sub002/cmd/livetiming/helper"
	"github.com/Frank-III/f1-swifty-sub002/cmd/livetiming/postgresql"
	"github.com/Frank-III/f1-swifty-sub002/cmd/livetiming/shared"
	"github.com/Frank-III/f1-swifty-sub002/cmd/livetiming/statecache"
	"github.com/Frank-III/f1-swifty-sub002/pkg/datamodel"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAnalytics struct {
	available bool
	err       error
	requested string
}

func (f *fakeAnalytics) GetLaptimes(_ context.Context, driverNumber string) ([]shared.LaptimePoint, error) {
	f.requested = driverNumber
	if f.err != nil {
		return nil, f.err
	}
	return []shared.LaptimePoint{
		{Time: time.Date(2024, 9, 1, 13, 5, 0, 0, time.UTC), Lap: helper.Int64ToPtr(2), Laptime: 85123},
	}, nil
}

func (f *fakeAnalytics) GetGaps(_ context.Context, driverNumber string) ([]shared.GapPoint, error) {
	f.requested = driverNumber
	if f.err != nil {
		return nil, f.err
	}
	return []shared.GapPoint{}, nil
}

func (f *fakeAnalytics) IsAvailable() bool { return f.available }

type fakeSchedule struct {
	err error
}

func (f fakeSchedule) Events(context.Context) ([]external.RaceEvent, error) {
	return nil, f.err
}

type fakeStandings struct {
	year int
}

func (f *fakeStandings) Season(_ context.Context, year int) ([]external.DriverStanding, []external.TeamStanding, error) {
	f.year = year
	return []external.DriverStanding{{Position: "1", Driver: "Lando Norris", Points: 25}}, nil, nil
}

func newTestRouter(t *testing.T) (*statecache.Cache, *fakeAnalytics, *Server, *gin.Engine) {
	helper.InitTestLogging()
	gin.SetMode(gin.TestMode)

	cache := statecache.New(4)
	cache.ReplaceFullState(datamodel.MustParseJSON(`{"driverList":{"4":{"tla":"NOR","line":2},"1":{"tla":"VER","line":1}}}`))
	analytics := &fakeAnalytics{available: true}
	s := &Server{
		State:     cache,
		Analytics: analytics,
		Schedule:  fakeSchedule{},
		Standings: &fakeStandings{},
	}
	return cache, analytics, s, s.Router()
}

func get(router *gin.Engine, path string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRoot(t *testing.T) {
	_, _, s, router := newTestRouter(t)

	w := get(router, "/")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "online", w.Body.String())

	w = get(router, "/health")
	assert.Equal(t, http.StatusOK, w.Code)

	s.ShuttingDown = func() bool { return true }
	w = get(router, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestState(t *testing.T) {
	cache, _, _, router := newTestRouter(t)

	w := get(router, "/state")
	require.Equal(t, http.StatusOK, w.Code)
	etag := w.Header().Get("ETag")
	assert.Len(t, etag, 34)
	assert.JSONEq(t, `{"driverList":{"1":{"tla":"VER","line":1},"4":{"tla":"NOR","line":2}}}`, w.Body.String())

	t.Run("not-modified", func(t *testing.T) {
		w := get(router, "/state", "If-None-Match", etag)
		assert.Equal(t, http.StatusNotModified, w.Code)
		assert.Empty(t, w.Body.String())
	})
	t.Run("changed", func(t *testing.T) {
		cache.ApplyUpdate(datamodel.MustParseJSON(`{"lapCount":{"currentLap":1}}`))
		w := get(router, "/state", "If-None-Match", etag)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.NotEqual(t, etag, w.Header().Get("ETag"))
	})
}

func TestStatsAndDrivers(t *testing.T) {
	_, _, _, router := newTestRouter(t)

	w := get(router, "/stats")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"fullStateReplacements":1`)

	w = get(router, "/drivers")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[{"racingNumber":"1","tla":"VER","line":1},{"racingNumber":"4","tla":"NOR","line":2}]`, w.Body.String())
}

func TestAnalytics(t *testing.T) {
	_, analytics, _, router := newTestRouter(t)

	t.Run("laptime", func(t *testing.T) {
		w := get(router, "/analytics/laptime/44")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "44", analytics.requested)
		assert.JSONEq(t, `[{"time":"2024-09-01T13:05:00Z","lap":2,"laptime":85123}]`, w.Body.String())
	})
	t.Run("gap-empty", func(t *testing.T) {
		w := get(router, "/analytics/gap/44")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "[]", w.Body.String())
	})
	t.Run("invalid-driver", func(t *testing.T) {
		w := get(router, "/analytics/gap/44;drop")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
	t.Run("database-not-configured", func(t *testing.T) {
		analytics.err = postgresql.ErrNotAvailable
		defer func() { analytics.err = nil }()
		w := get(router, "/analytics/laptime/1")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
	t.Run("query-failure", func(t *testing.T) {
		analytics.err = errors.New("connection reset")
		defer func() { analytics.err = nil }()
		w := get(router, "/analytics/laptime/1")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "connection reset")
	})
	t.Run("health", func(t *testing.T) {
		w := get(router, "/analytics/health")
		assert.Equal(t, http.StatusOK, w.Code)
		analytics.available = false
		w = get(router, "/analytics/health")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestExternalSources(t *testing.T) {
	_, _, s, router := newTestRouter(t)

	t.Run("empty-schedule", func(t *testing.T) {
		w := get(router, "/schedule")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "[]", w.Body.String())
	})
	t.Run("schedule-upstream-failure", func(t *testing.T) {
		s.Schedule = fakeSchedule{err: &external.SourceError{Source: "schedule", URL: "http://calendar", Status: 500}}
		w := get(s.Router(), "/schedule")
		assert.Equal(t, http.StatusBadGateway, w.Code)
		assert.NotContains(t, w.Body.String(), "http://calendar")
	})
	t.Run("standings", func(t *testing.T) {
		w := get(router, "/standings/2024")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 2024, s.Standings.(*fakeStandings).year)
		assert.JSONEq(t, `{"drivers":[{"position":"1","driver":"Lando Norris","nationality":"","team":"","points":25}],"teams":[]}`, w.Body.String())
	})
	t.Run("standings-invalid-year", func(t *testing.T) {
		for _, year := range []string{"abc", "1900", "99999"} {
			w := get(router, "/standings/"+year)
			assert.Equal(t, http.StatusBadRequest, w.Code, year)
		}
	})
}
