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

// Package distribution pushes the canonical state and its diffs to remote clients over
// websockets and server-sent events.
package distribution

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/Frank-III/f1-swifty-sub002/cmd/livetiming/statecache"
	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Message types of the socket protocol
const (
	TypeFullState        = "full_state"
	TypeStateUpdate      = "state_update"
	TypeConnectionStatus = "connection_status"
)

// Values of a connection_status message
const (
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
	StatusReconnecting = "reconnecting"
	StatusError        = "error"
)

// Message is a single frame of the socket protocol
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

var errSubscriptionEnded = errors.New("subscription ended")

// Hub serves websocket and event-stream clients from a single cache
type Hub struct {
	cache    *statecache.Cache
	upgrader websocket.Upgrader

	PingInterval      time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	KeepAliveInterval time.Duration

	clientsMu sync.Mutex
	clients   map[uuid.UUID]*clientInfo
	wg        sync.WaitGroup
	shutdown  chan struct{}
	closeOnce sync.Once
}

type clientInfo struct {
	id          uuid.UUID
	conn        *websocket.Conn
	connectedAt time.Time
	closeOnce   sync.Once
	writeMutex  sync.Mutex
}

func NewHub(cache *statecache.Cache) *Hub {
	return &Hub{
		cache: cache,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Dashboards are served from other origins
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		KeepAliveInterval: 15 * time.Second,
		clients:           make(map[uuid.UUID]*clientInfo),
		shutdown:          make(chan struct{}),
	}
}

// ClientCount returns the number of connected websocket clients
func (h *Hub) ClientCount() int {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	return len(h.clients)
}

// Close tells every connected client that the server goes away and waits for the
// connection handlers to return
func (h *Hub) Close() {
	h.clientsMu.Lock()
	h.closeOnce.Do(func() {
		close(h.shutdown)
	})
	h.clientsMu.Unlock()
	h.wg.Wait()
}

// HandleWebSocket upgrades the request and streams the state until either side closes
func (h *Hub) HandleWebSocket(c *gin.Context) {
	select {
	case <-h.shutdown:
		c.AbortWithStatus(http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		zap.S().Warnf("Failed to upgrade websocket connection from %s: %s", c.ClientIP(), err)
		connectionErrors.WithLabelValues("websocket").Inc()
		return
	}

	info := &clientInfo{
		id:          uuid.New(),
		conn:        conn,
		connectedAt: time.Now(),
	}
	if !h.register(info) {
		_ = conn.Close()
		return
	}
	defer h.wg.Done()
	activeConnections.WithLabelValues("websocket").Inc()
	h.handleClient(c.Request.Context(), info)
}

// register adds the client unless the hub is shutting down. The shutdown check and
// wg.Add share the lock with Close so Close never waits on a half registered client.
func (h *Hub) register(info *clientInfo) bool {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	select {
	case <-h.shutdown:
		return false
	default:
	}
	h.wg.Add(1)
	if info != nil {
		h.clients[info.id] = info
	}
	return true
}

func (h *Hub) handleClient(ctx context.Context, info *clientInfo) {
	snapshot, sub := h.cache.SubscribeWithSnapshot(statecache.WithName("websocket " + info.conn.RemoteAddr().String()))
	defer h.cache.Unsubscribe(sub.ID)
	defer h.removeClient(info)

	zap.S().Infof("Websocket client %s connected from %s", info.id, info.conn.RemoteAddr())

	if err := h.send(info, Message{Type: TypeFullState, Data: snapshot}); err != nil {
		zap.S().Debugf("Failed to send snapshot to %s: %s", info.id, err)
		return
	}
	if err := h.send(info, Message{Type: TypeConnectionStatus, Data: StatusConnected}); err != nil {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return h.readLoop(info)
	})
	g.Go(func() error {
		// the reader is blocked in ReadMessage until the connection is closed
		defer h.removeClient(info)
		return h.writeLoop(gctx, info, sub)
	})

	err := g.Wait()
	zap.S().Infof("Websocket client %s disconnected after %s: %v", info.id, time.Since(info.connectedAt).Round(time.Second), err)
}

// readLoop only detects closure, client frames carry no commands besides a text "ping"
func (h *Hub) readLoop(info *clientInfo) error {
	conn := info.conn
	_ = conn.SetReadDeadline(time.Now().Add(h.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.ReadTimeout))
	})

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(h.ReadTimeout))
		if messageType == websocket.TextMessage && string(data) == "ping" {
			if err = h.write(info, websocket.TextMessage, []byte("pong")); err != nil {
				return err
			}
		}
	}
}

func (h *Hub) writeLoop(ctx context.Context, info *clientInfo, sub *statecache.Subscription) error {
	ticker := time.NewTicker(h.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-h.shutdown:
			_ = h.send(info, Message{Type: TypeConnectionStatus, Data: StatusDisconnected})
			h.writeClose(info, websocket.CloseGoingAway, "server shutting down")
			return nil
		case diff, ok := <-sub.C:
			if !ok {
				if sub.Reason() == statecache.ReasonSlowConsumer {
					_ = h.send(info, Message{Type: TypeConnectionStatus, Data: StatusError})
					h.writeClose(info, websocket.CloseTryAgainLater, "client too slow")
				}
				return errSubscriptionEnded
			}
			if err := h.send(info, Message{Type: TypeStateUpdate, Data: diff.Updates}); err != nil {
				return err
			}
			messagesSent.WithLabelValues("websocket").Inc()
		case <-ticker.C:
			if err := h.write(info, websocket.PingMessage, nil); err != nil {
				return err
			}
		}
	}
}

func (h *Hub) send(info *clientInfo, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return h.write(info, websocket.TextMessage, data)
}

// write serializes writes, gorilla/websocket panics on concurrent writers
func (h *Hub) write(info *clientInfo, messageType int, data []byte) error {
	info.writeMutex.Lock()
	defer info.writeMutex.Unlock()
	_ = info.conn.SetWriteDeadline(time.Now().Add(h.WriteTimeout))
	return info.conn.WriteMessage(messageType, data)
}

func (h *Hub) writeClose(info *clientInfo, code int, text string) {
	info.writeMutex.Lock()
	defer info.writeMutex.Unlock()
	_ = info.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(h.WriteTimeout))
}

func (h *Hub) removeClient(info *clientInfo) {
	info.closeOnce.Do(func() {
		h.clientsMu.Lock()
		delete(h.clients, info.id)
		h.clientsMu.Unlock()
		activeConnections.WithLabelValues("websocket").Dec()

		_ = info.conn.Close()
	})
}
