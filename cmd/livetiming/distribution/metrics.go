package distribution

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "livetiming_stream_connections",
		Help: "Number of open streaming connections",
	}, []string{"transport"})
	messagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livetiming_stream_messages_sent_total",
		Help: "The total number of diffs pushed to streaming clients",
	}, []string{"transport"})
	connectionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livetiming_stream_connection_errors_total",
		Help: "The total number of streaming connections that failed to open",
	}, []string{"transport"})
)
