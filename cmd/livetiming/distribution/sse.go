package distribution

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Frank-III/f1-swifty-sub002/cmd/livetiming/statecache"
	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// Event names of the event-stream protocol
const (
	EventInitial = "initial"
	EventUpdate  = "update"
	EventError   = "error"
)

// RetryMillis is the reconnect delay suggested to event-stream clients
const RetryMillis = 3000

// HandleEvents streams the snapshot followed by every diff as server-sent events
func (h *Hub) HandleEvents(c *gin.Context) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	if !h.register(nil) {
		c.AbortWithStatus(http.StatusServiceUnavailable)
		return
	}
	defer h.wg.Done()

	snapshot, sub := h.cache.SubscribeWithSnapshot(statecache.WithName("events " + c.ClientIP()))
	defer h.cache.Unsubscribe(sub.ID)
	activeConnections.WithLabelValues("events").Inc()
	defer activeConnections.WithLabelValues("events").Dec()

	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	w := c.Writer
	if _, err := fmt.Fprintf(w, "retry: %d\n\n", RetryMillis); err != nil {
		return
	}
	if err := writeJSONEvent(w, EventInitial, snapshot); err != nil {
		zap.S().Debugf("Failed to send snapshot to %s: %s", c.ClientIP(), err)
		return
	}
	flusher.Flush()

	keepAlive := time.NewTicker(h.KeepAliveInterval)
	defer keepAlive.Stop()
	ctx := c.Request.Context()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.shutdown:
			return
		case diff, ok := <-sub.C:
			if !ok {
				if sub.Reason() == statecache.ReasonSlowConsumer {
					_ = WriteEvent(w, EventError, []byte(`"client too slow"`))
					flusher.Flush()
				}
				return
			}
			if err := writeJSONEvent(w, EventUpdate, diff.Updates); err != nil {
				zap.S().Debugf("Event stream to %s failed: %s", c.ClientIP(), err)
				return
			}
			flusher.Flush()
			messagesSent.WithLabelValues("events").Inc()
		case <-keepAlive.C:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeJSONEvent(w io.Writer, event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return WriteEvent(w, event, data)
}

// WriteEvent writes one event. Every line of data becomes its own "data:" field so
// payloads containing newlines survive the framing.
func WriteEvent(w io.Writer, event string, data []byte) error {
	var buf bytes.Buffer
	if event != "" {
		buf.WriteString("event: ")
		buf.WriteString(event)
		buf.WriteByte('\n')
	}
	data = bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
	for _, line := range bytes.Split(data, []byte("\n")) {
		buf.WriteString("data: ")
		buf.Write(line)
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	_, err := w.Write(buf.Bytes())
	return err
}
