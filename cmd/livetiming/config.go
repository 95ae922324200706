package main

import (
	"github.com/Frank-III/f1-swifty-sub002/cmd/livetiming/postgresql"
	"github.com/united-manufacturing-hub/umh-utils/env"
	"go.uber.org/zap"
)

type Config struct {
	HTTPAddr        string
	MetricsAddr     string
	HealthcheckAddr string

	SubscriberBufferSize int

	PersistenceEnabled bool
	Postgres           postgresql.Config

	MQTTBrokerURL   string
	MQTTClientID    string
	FeedTopicPrefix string

	ScheduleICSURL   string
	StandingsBaseURL string
	RedisURI         string
	RedisPassword    string
}

// LoadConfig reads the configuration from the environment. Invalid values are fatal.
func LoadConfig() Config {
	var cfg Config
	var err error

	cfg.HTTPAddr = getString("HTTP_ADDR", ":8080")
	cfg.MetricsAddr = getString("METRICS_ADDR", ":2112")
	cfg.HealthcheckAddr = getString("HEALTHCHECK_ADDR", "0.0.0.0:8086")

	cfg.SubscriberBufferSize, err = env.GetAsInt("SUBSCRIBER_BUFFER_SIZE", false, 512)
	if err != nil {
		zap.S().Fatalf("Failed to get SUBSCRIBER_BUFFER_SIZE from env: %s", err)
	}

	cfg.PersistenceEnabled, err = env.GetAsBool("PERSISTENCE_ENABLED", false, true)
	if err != nil {
		zap.S().Fatalf("Failed to get PERSISTENCE_ENABLED from env: %s", err)
	}
	cfg.Postgres = postgresql.Config{
		Host:     getString("POSTGRES_HOST", "localhost"),
		User:     getString("POSTGRES_USER", "postgres"),
		Password: getString("POSTGRES_PASSWORD", "postgres"),
		Database: getString("POSTGRES_DATABASE", "livetiming"),
		SSLMode:  getString("POSTGRES_SSL_MODE", "disable"),
	}
	cfg.Postgres.Port, err = env.GetAsInt("POSTGRES_PORT", false, 5432)
	if err != nil {
		zap.S().Fatalf("Failed to get POSTGRES_PORT from env: %s", err)
	}
	cfg.Postgres.ChannelSize, err = env.GetAsInt("VALUE_CHANNEL_SIZE", false, 10000)
	if err != nil {
		zap.S().Fatalf("Failed to get VALUE_CHANNEL_SIZE from env: %s", err)
	}

	cfg.MQTTBrokerURL = getString("MQTT_BROKER_URL", "")
	cfg.MQTTClientID = getString("MQTT_CLIENT_ID", "livetiming")
	cfg.FeedTopicPrefix = getString("FEED_TOPIC_PREFIX", "livetiming")

	cfg.ScheduleICSURL = getString("SCHEDULE_ICS_URL", "https://ics.ecal.com/ecal-sub/660897ca63f9ca0008bcbea6/Formula%201.ics")
	cfg.StandingsBaseURL = getString("STANDINGS_BASE_URL", "https://www.formula1.com/en/results")
	cfg.RedisURI = getString("REDIS_URI", "")
	cfg.RedisPassword = getString("REDIS_PASSWORD", "")
	return cfg
}

func getString(key string, fallback string) string {
	value, err := env.GetAsString(key, false, fallback)
	if err != nil {
		zap.S().Fatalf("Failed to get %s from env: %s", key, err)
	}
	return value
}
