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

package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Frank-III/f1-swifty-sub002/cmd/livetiming/api"
	"github.com/Frank-III/f1-swifty-sub002/cmd/livetiming/distribution"
	"github.com/Frank-III/f1-swifty-sub002/cmd/livetiming/external"
	"github.com/Frank-III/f1-swifty-sub002/cmd/livetiming/helper"
	"github.com/Frank-III/f1-swifty-sub002/cmd/livetiming/ingest"
	"github.com/Frank-III/f1-swifty-sub002/cmd/livetiming/postgresql"
	"github.com/Frank-III/f1-swifty-sub002/cmd/livetiming/statecache"
	"github.com/Frank-III/f1-swifty-sub002/cmd/livetiming/worker"
	"github.com/Frank-III/f1-swifty-sub002/internal"
	"github.com/gin-gonic/gin"
	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var buildtime string

func main() {
	helper.InitLogging()
	zap.S().Infof("This is livetiming build date: %s", buildtime)

	cfg := LoadConfig()
	InitPrometheus(cfg.MetricsAddr)

	var db *postgresql.Connection
	if cfg.PersistenceEnabled {
		db = setupPostgres(cfg.Postgres)
		db.StartWriters()
	} else {
		zap.S().Warnf("Persistence is disabled, analytics endpoints will answer 503")
	}

	cache := statecache.New(cfg.SubscriberBufferSize)

	var pipeline *worker.Pipeline
	if db != nil {
		pipeline = worker.NewPipeline(cache, db)
		pipeline.Start()
	}

	feedCtx, feedCncl := context.WithCancel(context.Background())
	var feed *ingest.Client
	if cfg.MQTTBrokerURL != "" {
		feed = ingest.New(ingest.Config{
			BrokerURL:   cfg.MQTTBrokerURL,
			ClientID:    cfg.MQTTClientID,
			TopicPrefix: cfg.FeedTopicPrefix,
		}, cache)
		go func() {
			if err := feed.Connect(feedCtx); err != nil {
				zap.S().Warnf("Upstream feed not connected: %s", err)
			}
		}()
	} else {
		zap.S().Warnf("MQTT_BROKER_URL is not set, no upstream feed is ingested")
	}

	tiered := internal.NewTieredCache(internal.OneHour, internal.NewRedisClient(cfg.RedisURI, cfg.RedisPassword))
	if cfg.RedisURI != "" && !tiered.IsRedisAvailable(context.Background()) {
		zap.S().Warnf("Redis at %s is not reachable, external sources are cached in memory only", cfg.RedisURI)
	}
	client := &http.Client{Timeout: 15 * time.Second}

	hub := distribution.NewHub(cache)
	server := &api.Server{
		State:     cache,
		Analytics: db,
		Schedule:  external.NewSchedule(cfg.ScheduleICSURL, tiered, client),
		Standings: external.NewStandings(cfg.StandingsBaseURL, tiered, client),
		Streams:   hub,
	}

	gin.SetMode(gin.ReleaseMode)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdown := internal.NewGracefulShutdown(internal.ThirtySeconds, func(ctx context.Context) error {
		// Streams first, otherwise the server waits for open event streams
		hub.Close()
		err := httpServer.Shutdown(ctx)

		feedCncl()
		if feed != nil {
			feed.Close()
		}
		if pipeline != nil {
			pipeline.Stop()
		}
		if db != nil {
			db.Close()
		}
		cache.Close()
		if err != nil {
			return fmt.Errorf("failed to stop http server: %w", err)
		}
		return nil
	})
	server.ShuttingDown = shutdown.ShuttingDown
	InitHealthCheck(cfg.HealthcheckAddr, db, feed, shutdown)

	go func() {
		zap.S().Infof("Listening on %s", cfg.HTTPAddr)
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.S().Errorf("Error starting http server: %s", err)
			shutdown.Shutdown()
		}
	}()

	shutdown.Wait()
}

// setupPostgres runs the migrations and opens the pool used by the writers and analytics.
// Both are fatal on failure.
func setupPostgres(cfg postgresql.Config) *postgresql.Connection {
	migrationDB := waitForPostgres(cfg)
	ctx, cncl := context.WithTimeout(context.Background(), internal.OneMinute)
	err := postgresql.Migrate(ctx, migrationDB, postgresql.Migrations)
	cncl()
	if err != nil {
		zap.S().Fatalf("Failed to migrate database: %s", err)
	}
	if err = migrationDB.Close(); err != nil {
		zap.S().Warnf("Failed to close migration connection: %s", err)
	}

	conn, err := postgresql.Open(context.Background(), cfg)
	if err != nil {
		zap.S().Fatalf("Failed to connect to postgres: %s", err)
	}
	return conn
}

func waitForPostgres(cfg postgresql.Config) *sql.DB {
	var retries int64
	for {
		db, err := postgresql.OpenMigrationDB(cfg)
		if err == nil {
			return db
		}
		retries++
		if retries > 10 {
			zap.S().Fatalf("Postgres is not available: %s", err)
		}
		zap.S().Warnf("Postgres is not available yet (attempt %d): %s", retries, err)
		_ = internal.SleepBackedOff(context.Background(), retries, internal.OneSecond, internal.ThirtySeconds)
	}
}

func InitPrometheus(addr string) {
	// Prometheus
	metricsPath := "/metrics"
	zap.S().Debugf("Setting up metrics %s %v", metricsPath, addr)

	mux := http.NewServeMux()
	mux.Handle(metricsPath, promhttp.Handler())
	go func() {
		/* #nosec G114 */
		err := http.ListenAndServe(addr, mux)
		if err != nil {
			zap.S().Errorf("Error starting metrics: %s", err)
		}
	}()
}

func InitHealthCheck(addr string, db *postgresql.Connection, feed *ingest.Client, shutdown internal.GracefulShutdownHandler) {
	zap.S().Debugf("Setting up healthcheck")

	health := healthcheck.NewHandler()
	health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(1000000))
	health.AddReadinessCheck("shutdown", func() error {
		if shutdown.ShuttingDown() {
			return errors.New("shutting down")
		}
		return nil
	})
	if db != nil {
		health.AddReadinessCheck("database", db.GetHealthCheck())
	}
	if feed != nil {
		health.AddReadinessCheck("mqtt", feed.GetHealthCheck())
	}
	go func() {
		/* #nosec G114 */
		err := http.ListenAndServe(addr, health)
		if err != nil {
			zap.S().Errorf("Error starting healthcheck: %s", err)
		}
	}()
}
