// Package live serves the organizer live feed: a WebSocket per organizer
// browser that receives the outcome of the event's draw as soon as the
// matcher publishes it on draw.result.<event_id>.
//
// Feed protocol. On connect the server sends {"type":"watching"}. A draw
// outcome arrives as {"type":"draw_result",...}. Clients may send
// {"type":"ping"} and get {"type":"pong"}; anything else gets
// {"type":"error"}. The server sends a protocol ping frame every heartbeat
// interval. Any frame from the client, including the pong browsers send
// automatically, keeps the connection alive; a client silent for longer
// than interval plus timeout is disconnected.
package live

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/whisper/santa/internal/metrics"
	"github.com/whisper/santa/internal/protocol"
)

// ResultSubscriber delivers draw results for one event. The hub holds one
// subscription per watched event, keyed by key.
type ResultSubscriber interface {
	SubscribeDrawResult(eventID, key string, handler func(data []byte)) error
	UnsubscribeDrawResult(key string) error
}

// Config holds live feed limits.
type Config struct {
	MaxConnections int
	Heartbeat      HeartbeatConfig
}

// DefaultConfig returns the default live feed configuration.
func DefaultConfig() Config {
	return Config{
		MaxConnections: 10000,
		Heartbeat:      DefaultHeartbeatConfig(),
	}
}

// Hub tracks feed connections grouped by event.
type Hub struct {
	sub    ResultSubscriber
	config Config

	mu       sync.RWMutex
	watchers map[string]map[string]*Connection // event_id -> conn_id -> conn
	count    int

	done      chan struct{}
	closeOnce sync.Once
}

// NewHub creates a hub. Call Start to run the heartbeat.
func NewHub(sub ResultSubscriber, config Config) *Hub {
	return &Hub{
		sub:      sub,
		config:   config,
		watchers: make(map[string]map[string]*Connection),
		done:     make(chan struct{}),
	}
}

// Start runs the heartbeat monitor until Close.
func (h *Hub) Start() {
	h.startHeartbeat()
}

// Close stops the heartbeat and drops every connection.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
		for _, c := range h.Connections() {
			h.remove(c)
		}
		log.Println("[live] hub closed")
	})
}

// Serve upgrades the request to a WebSocket watching eventID and blocks
// until the connection ends. The caller is responsible for checking that
// the event exists.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, eventID string) {
	if h.Count() >= h.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("[live] upgrade failed: %v", err)
		return
	}

	c := newConnection(uuid.New().String(), eventID, conn)
	if err := h.add(c); err != nil {
		log.Printf("[live] watch event=%s: %v", eventID, err)
		h.send(c, protocol.TypeError, protocol.ErrorMsg{Code: "unavailable", Message: "live feed unavailable"})
		_ = c.Close()
		return
	}
	defer h.remove(c)

	h.send(c, protocol.TypeWatching, protocol.WatchingMsg{EventID: eventID})
	log.Printf("[live] conn=%s watching event=%s (total=%d)", c.ID, eventID, h.Count())

	h.readLoop(c)
}

func (h *Hub) readLoop(c *Connection) {
	onControl := func(hdr ws.Header, r io.Reader) error {
		c.touch()
		return c.handleControl(hdr, r)
	}
	rd := &wsutil.Reader{
		Source:         c.Conn,
		State:          ws.StateServerSide,
		CheckUTF8:      true,
		OnIntermediate: onControl,
	}

	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			return
		}
		if hdr.OpCode.IsControl() {
			if err := onControl(hdr, rd); err != nil {
				return
			}
			continue
		}
		c.touch()
		if hdr.OpCode != ws.OpText {
			if err := rd.Discard(); err != nil {
				return
			}
			continue
		}
		data, err := io.ReadAll(rd)
		if err != nil {
			return
		}

		msgType, _, err := protocol.ParseClientMessage(data)
		if err != nil {
			h.send(c, protocol.TypeError, protocol.ErrorMsg{Code: "parse_error", Message: "invalid message format"})
			continue
		}
		if msgType == protocol.TypePing {
			h.send(c, protocol.TypePong, protocol.PongMsg{})
		}
	}
}

// Broadcast sends msg to every connection watching eventID and returns how
// many writes succeeded. Failed connections are dropped.
func (h *Hub) Broadcast(eventID string, msg []byte) int {
	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.watchers[eventID]))
	for _, c := range h.watchers[eventID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	sent := 0
	for _, c := range conns {
		if err := c.WriteMessage(msg); err != nil {
			log.Printf("[live] write conn=%s: %v", c.ID, err)
			h.remove(c)
			continue
		}
		sent++
	}
	return sent
}

// Count returns the number of open connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Watchers returns the number of connections watching eventID.
func (h *Hub) Watchers(eventID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.watchers[eventID])
}

// Connections returns a snapshot of all open connections.
func (h *Hub) Connections() []*Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Connection, 0, h.count)
	for _, conns := range h.watchers {
		for _, c := range conns {
			out = append(out, c)
		}
	}
	return out
}

// add registers c, subscribing to the event's results for its first watcher.
func (h *Hub) add(c *Connection) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.watchers[c.EventID]
	if !ok {
		if err := h.sub.SubscribeDrawResult(c.EventID, subscriptionKey(c.EventID), h.onResult(c.EventID)); err != nil {
			return fmt.Errorf("live: subscribe draw results: %w", err)
		}
		conns = make(map[string]*Connection)
		h.watchers[c.EventID] = conns
	}
	conns[c.ID] = c
	h.count++
	metrics.LiveConnections.Inc()
	return nil
}

// remove drops c and closes it, unsubscribing when the event has no
// watchers left. It reports whether c was registered.
func (h *Hub) remove(c *Connection) bool {
	h.mu.Lock()
	conns := h.watchers[c.EventID]
	_, ok := conns[c.ID]
	if ok {
		delete(conns, c.ID)
		h.count--
		metrics.LiveConnections.Dec()
		if len(conns) == 0 {
			delete(h.watchers, c.EventID)
			if err := h.sub.UnsubscribeDrawResult(subscriptionKey(c.EventID)); err != nil {
				log.Printf("[live] unsubscribe event=%s: %v", c.EventID, err)
			}
		}
	}
	h.mu.Unlock()

	if ok {
		_ = c.Close()
	}
	return ok
}

func (h *Hub) onResult(eventID string) func(data []byte) {
	return func(data []byte) {
		var result protocol.DrawResult
		if err := json.Unmarshal(data, &result); err != nil {
			log.Printf("[live] invalid draw result for event=%s: %v", eventID, err)
			return
		}
		msg, err := protocol.NewServerMessage(protocol.TypeDrawResult, result)
		if err != nil {
			log.Printf("[live] build draw_result: %v", err)
			return
		}
		n := h.Broadcast(eventID, msg)
		log.Printf("[live] draw result event=%s status=%s delivered=%d", eventID, result.Status, n)
	}
}

func (h *Hub) send(c *Connection, msgType string, payload interface{}) {
	msg, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Printf("[live] build %s: %v", msgType, err)
		return
	}
	if err := c.WriteMessage(msg); err != nil {
		log.Printf("[live] send %s conn=%s: %v", msgType, c.ID, err)
	}
}

func subscriptionKey(eventID string) string {
	return "live:" + eventID
}
