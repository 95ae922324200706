package main

import (
	"testing"

	"github.com/Frank-III/f1-swifty-sub002/cmd/livetiming/helper"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfig(t *testing.T) {
	helper.InitTestLogging()

	t.Run("defaults", func(t *testing.T) {
		cfg := LoadConfig()
		assert.Equal(t, ":8080", cfg.HTTPAddr)
		assert.Equal(t, 512, cfg.SubscriberBufferSize)
		assert.True(t, cfg.PersistenceEnabled)
		assert.Equal(t, 5432, cfg.Postgres.Port)
		assert.Equal(t, "livetiming", cfg.Postgres.Database)
		assert.Equal(t, 10000, cfg.Postgres.ChannelSize)
		assert.Empty(t, cfg.MQTTBrokerURL)
	})

	t.Run("from-env", func(t *testing.T) {
		t.Setenv("HTTP_ADDR", ":9000")
		t.Setenv("SUBSCRIBER_BUFFER_SIZE", "64")
		t.Setenv("PERSISTENCE_ENABLED", "false")
		t.Setenv("POSTGRES_HOST", "db")
		t.Setenv("POSTGRES_PORT", "5433")
		t.Setenv("MQTT_BROKER_URL", "tcp://broker:1883")
		t.Setenv("FEED_TOPIC_PREFIX", "f1/live")

		cfg := LoadConfig()
		assert.Equal(t, ":9000", cfg.HTTPAddr)
		assert.Equal(t, 64, cfg.SubscriberBufferSize)
		assert.False(t, cfg.PersistenceEnabled)
		assert.Equal(t, "db", cfg.Postgres.Host)
		assert.Equal(t, 5433, cfg.Postgres.Port)
		assert.Equal(t, "tcp://broker:1883", cfg.MQTTBrokerURL)
		assert.Equal(t, "f1/live", cfg.FeedTopicPrefix)
	})
}
