// Copyright 2023 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package api serves the read-only REST endpoints and mounts the streaming transports
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/Frank-III/f1-swifty-sub002/cmd/livetiming/external"
	"github.com/Frank-III/f1-swifty-sub002/cmd/livetiming/shared"
	"github.com/Frank-III/f1-swifty-sub002/cmd/livetiming/statecache"
	"github.com/Frank-III/f1-swifty-sub002/pkg/datamodel"
	"github.com/gin-contrib/gzip"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// StateReader is the read side of the state cache
type StateReader interface {
	Snapshot() datamodel.Value
	Statistics() statecache.Statistics
}

type AnalyticsStore interface {
	GetLaptimes(ctx context.Context, driverNumber string) ([]shared.LaptimePoint, error)
	GetGaps(ctx context.Context, driverNumber string) ([]shared.GapPoint, error)
	IsAvailable() bool
}

type ScheduleSource interface {
	Events(ctx context.Context) ([]external.RaceEvent, error)
}

type StandingsSource interface {
	Season(ctx context.Context, year int) ([]external.DriverStanding, []external.TeamStanding, error)
}

// Streams are the long-lived transports
type Streams interface {
	HandleWebSocket(c *gin.Context)
	HandleEvents(c *gin.Context)
}

type Server struct {
	State     StateReader
	Analytics AnalyticsStore
	Schedule  ScheduleSource
	Standings StandingsSource
	Streams   Streams
	// ShuttingDown reports whether the service is draining, may be nil
	ShuttingDown func() bool
}

// Router builds the gin engine. Streams are mounted without gzip, since compressed
// writers buffer and would hold back frames.
func (s *Server) Router() *gin.Engine {
	router := gin.New()

	// Add a ginzap middleware, which:
	//   - Logs all requests, like a combined access and error log.
	//   - Logs to stdout.
	//   - RFC3339 with UTC time format.
	router.Use(ginzap.Ginzap(zap.L(), time.RFC3339, true))

	// Logs all panic to error log
	//   - stack means whether output the stack info.
	router.Use(ginzap.RecoveryWithZap(zap.L(), true))

	if s.Streams != nil {
		router.GET("/ws", s.Streams.HandleWebSocket)
		router.GET("/events", s.Streams.HandleEvents)
	}

	rest := router.Group("/", gzip.Gzip(gzip.DefaultCompression))
	{
		rest.GET("/", func(c *gin.Context) {
			c.String(http.StatusOK, "online")
		})
		rest.GET("/health", s.getHealthHandler)
		rest.GET("/state", s.getStateHandler)
		rest.GET("/stats", s.getStatsHandler)
		rest.GET("/drivers", s.getDriversHandler)
		rest.GET("/schedule", s.getScheduleHandler)
		rest.GET("/standings/:year", s.getStandingsHandler)

		analytics := rest.Group("/analytics")
		analytics.GET("/laptime/:driverNumber", s.getLaptimeHandler)
		analytics.GET("/gap/:driverNumber", s.getGapHandler)
		analytics.GET("/health", s.getAnalyticsHealthHandler)
	}
	return router
}
