package events

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"transcript-channel-worker/internal/models"
	"transcript-channel-worker/internal/observability/logging"
	"transcript-channel-worker/internal/observability/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Hub streams every event to live websocket subscribers. A subscriber whose
// queue is full misses events instead of stalling the channels.
type Hub struct {
	mu       sync.RWMutex
	subs     map[*subscriber]struct{}
	queue    int
	upgrader websocket.Upgrader
	logger   zerolog.Logger
	metrics  *metrics.Metrics
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.send) })
}

// NewHub creates a hub with a per-subscriber queue of the given depth.
func NewHub(queue int) *Hub {
	if queue <= 0 {
		queue = 256
	}
	return &Hub{
		subs:  make(map[*subscriber]struct{}),
		queue: queue,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger:  logging.WithComponent("event-hub"),
		metrics: metrics.DefaultMetrics,
	}
}

// ServeHTTP upgrades the request and streams events until the peer leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	sub := &subscriber{conn: conn, send: make(chan []byte, h.queue)}
	h.add(sub)
	h.logger.Info().Str("remote", r.RemoteAddr).Int("subscribers", h.Subscribers()).Msg("Subscriber connected")

	go h.writePump(sub)
	h.readPump(sub)

	h.remove(sub)
	h.logger.Info().Str("remote", r.RemoteAddr).Int("subscribers", h.Subscribers()).Msg("Subscriber disconnected")
}

func (h *Hub) add(sub *subscriber) {
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	h.metrics.SubscribersActive.Inc()
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	_, ok := h.subs[sub]
	delete(h.subs, sub)
	h.mu.Unlock()
	if ok {
		sub.close()
		h.metrics.SubscribersActive.Dec()
	}
}

// readPump discards inbound frames; it exists to notice the peer leaving.
func (h *Hub) readPump(sub *subscriber) {
	defer sub.conn.Close()
	sub.conn.SetReadLimit(4096)
	_ = sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	sub.conn.SetPongHandler(func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug().Err(err).Msg("Subscriber read error")
			}
			return
		}
	}
}

func (h *Hub) writePump(sub *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sub.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-sub.send:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = sub.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := sub.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) broadcast(event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		select {
		case sub.send <- payload:
		default:
			h.metrics.SubscriberDropped.Inc()
		}
	}
	return nil
}

func (h *Hub) PublishTranscript(_ context.Context, ev models.TranscriptEvent) error {
	return h.broadcast(ev)
}

func (h *Hub) PublishChannelState(_ context.Context, ev models.ChannelStateEvent) error {
	return h.broadcast(ev)
}

func (h *Hub) PublishAudio(_ context.Context, ev models.AudioExtractionEvent) error {
	return h.broadcast(ev)
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[*subscriber]struct{})
	h.mu.Unlock()
	for sub := range subs {
		sub.close()
		h.metrics.SubscribersActive.Dec()
	}
}
