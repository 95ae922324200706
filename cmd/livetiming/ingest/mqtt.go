// Package ingest feeds upstream timing messages received over MQTT into the state cache
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Frank-III/f1-swifty-sub002/internal"
	"github.com/Frank-III/f1-swifty-sub002/pkg/datamodel"
	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Prometheus metrics
var (
	mqttTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livetiming_mqtt_messages_total",
			Help: "The total number of incoming MQTT messages",
		},
		[]string{"kind"},
	)
	mqttInvalid = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "livetiming_mqtt_invalid_messages_total",
			Help: "The total number of MQTT messages that could not be parsed",
		},
	)
	mqttConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "livetiming_mqtt_up",
			Help: "Connection with MQTT broker",
		},
	)
)

var ErrInvalidPayload = errors.New("payload is not a JSON object")

// Applier is the part of the state cache the feed writes to
type Applier interface {
	ApplyUpdate(update datamodel.Value)
	ReplaceFullState(state datamodel.Value)
}

type Config struct {
	BrokerURL   string
	ClientID    string
	TopicPrefix string
}

func (c Config) updateTopic() string {
	return strings.TrimSuffix(c.TopicPrefix, "/") + "/update"
}

func (c Config) fullTopic() string {
	return strings.TrimSuffix(c.TopicPrefix, "/") + "/full"
}

type Client struct {
	cfg    Config
	target Applier
	client MQTT.Client
}

func New(cfg Config, target Applier) *Client {
	c := &Client{cfg: cfg, target: target}

	opts := MQTT.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetOrderMatters(true)
	opts.SetCleanSession(true)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(onConnectionLost)
	c.client = MQTT.NewClient(opts)
	return c
}

// Connect retries until the broker accepts the connection or ctx is done.
// Subscriptions are (re)established by the connect handler.
func (c *Client) Connect(ctx context.Context) error {
	var retries int64
	for {
		token := c.client.Connect()
		if token.WaitTimeout(30*time.Second) && token.Error() == nil {
			return nil
		}
		retries++
		zap.S().Warnf("Failed to connect to MQTT broker %s (attempt %d): %v", c.cfg.BrokerURL, retries, token.Error())
		if err := internal.SleepBackedOff(ctx, retries, 100*time.Millisecond, 10*time.Second); err != nil {
			return fmt.Errorf("giving up connecting to %s: %w", c.cfg.BrokerURL, err)
		}
	}
}

// Close unsubscribes and closes the MQTT connection
func (c *Client) Close() {
	if c.client.IsConnected() {
		c.client.Unsubscribe(c.cfg.updateTopic(), c.cfg.fullTopic()).WaitTimeout(time.Second)
	}
	c.client.Disconnect(1000)
	mqttConnected.Set(0)
}

func (c *Client) GetHealthCheck() healthcheck.Check {
	return func() error {
		if c.client.IsConnected() {
			return nil
		}
		return fmt.Errorf("not connected")
	}
}

// onConnect subscribes once the connection is established. Required to re-subscribe since cleansession is true
func (c *Client) onConnect(client MQTT.Client) {
	zap.S().Infof("Connected to MQTT broker %s as %s", c.cfg.BrokerURL, c.cfg.ClientID)
	mqttConnected.Set(1)

	filters := map[string]byte{
		c.cfg.updateTopic(): 1,
		c.cfg.fullTopic():   1,
	}
	token := client.SubscribeMultiple(filters, c.onMessage)
	if token.WaitTimeout(10*time.Second) && token.Error() != nil {
		zap.S().Errorf("Failed to subscribe to %s: %s", c.cfg.TopicPrefix, token.Error())
		return
	}
	zap.S().Infof("MQTT subscribed to %s and %s", c.cfg.updateTopic(), c.cfg.fullTopic())
}

func onConnectionLost(_ MQTT.Client, err error) {
	zap.S().Warnf("Connection to MQTT broker lost, reconnecting: %s", err)
	mqttConnected.Set(0)
}

func (c *Client) onMessage(_ MQTT.Client, message MQTT.Message) {
	if err := c.HandleMessage(message.Topic(), message.Payload()); err != nil {
		zap.S().Warnf("Dropping message on %s: %s", message.Topic(), err)
	}
}

// HandleMessage routes a payload received on topic into the cache
func (c *Client) HandleMessage(topic string, payload []byte) error {
	var kind string
	switch topic {
	case c.cfg.updateTopic():
		kind = "update"
	case c.cfg.fullTopic():
		kind = "full"
	default:
		return fmt.Errorf("unexpected topic %s", topic)
	}
	mqttTotal.WithLabelValues(kind).Inc()

	value, err := datamodel.ParseJSON(payload)
	if err != nil {
		mqttInvalid.Inc()
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if !value.IsObject() {
		mqttInvalid.Inc()
		return ErrInvalidPayload
	}

	if kind == "full" {
		zap.S().Infof("Replacing state from %s", topic)
		c.target.ReplaceFullState(value)
		return nil
	}
	c.target.ApplyUpdate(value)
	return nil
}
