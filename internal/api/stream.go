package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lucylow/quaternion/internal/engine"
)

const (
	maxStreamConns = 16
	streamBuffer   = 8
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingEvery      = 25 * time.Second
)

// Hub fans tick snapshots out to websocket subscribers. Slow
// subscribers miss snapshots rather than stall the tick loop.
type Hub struct {
	mu     sync.Mutex
	subs   map[chan []byte]struct{}
	closed chan struct{}
	once   sync.Once
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan []byte]struct{}), closed: make(chan struct{})}
}

// Close ends every stream with a going-away frame and refuses new ones.
// http.Server.Shutdown does not wait on hijacked connections.
func (h *Hub) Close() {
	h.once.Do(func() { close(h.closed) })
}

// Publish sends out to every subscriber without blocking.
func (h *Hub) Publish(out engine.TickOutput) {
	data, err := json.Marshal(out)
	if err != nil {
		slog.Warn("stream encode failed", "tick", out.Tick, "error", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- data:
		default:
		}
	}
}

// subscribe returns nil when the hub is full.
func (h *Hub) subscribe() chan []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.closed:
		return nil
	default:
	}
	if len(h.subs) >= maxStreamConns {
		return nil
	}
	ch := make(chan []byte, streamBuffer)
	h.subs[ch] = struct{}{}
	return ch
}

func (h *Hub) unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
}

// Subscribers returns the number of connected clients.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleStream upgrades to a websocket and pushes the latest snapshot,
// then every published tick, until the client goes away.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	ch := s.hub.subscribe()
	if ch == nil {
		http.Error(w, "stream unavailable", http.StatusServiceUnavailable)
		return
	}
	defer s.hub.unsubscribe(ch)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	slog.Info("stream client connected", "remote", r.RemoteAddr)
	defer slog.Info("stream client disconnected", "remote", r.RemoteAddr)

	// The reader only services control frames and notices the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	first, err := json.Marshal(s.Econ.Latest())
	if err != nil || !writeFrame(conn, websocket.TextMessage, first) {
		return
	}

	ping := time.NewTicker(pingEvery)
	defer ping.Stop()
	for {
		select {
		case data := <-ch:
			if !writeFrame(conn, websocket.TextMessage, data) {
				return
			}
		case <-ping.C:
			if !writeFrame(conn, websocket.PingMessage, nil) {
				return
			}
		case <-closed:
			return
		case <-s.hub.closed:
			goingAway(conn)
			return
		case <-r.Context().Done():
			goingAway(conn)
			return
		}
	}
}

func goingAway(conn *websocket.Conn) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(time.Second))
}

func writeFrame(conn *websocket.Conn, kind int, data []byte) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(kind, data) == nil
}
