package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mbd888/agentregistry/internal/metrics"
)

// DefaultMaxSubscribers caps concurrent WebSocket connections.
const DefaultMaxSubscribers = 10000

const (
	queueSize   = 256
	sendBuffer  = 64
	maxFrame    = 64 << 10
	pongWait    = 60 * time.Second
	pingEvery   = 25 * time.Second
	writeWait   = 10 * time.Second
	closeReason = "stream closed"
)

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithAllowedOrigins restricts browser upgrades to the given origins. With no
// origins only same-host browser connections are accepted. Clients that send
// no Origin header are always accepted.
func WithAllowedOrigins(origins []string) HubOption {
	return func(h *Hub) { h.origins = origins }
}

// WithMaxSubscribers overrides DefaultMaxSubscribers.
func WithMaxSubscribers(n int) HubOption {
	return func(h *Hub) { h.maxSubs = n }
}

// Stats is a point-in-time view of the hub.
type Stats struct {
	Subscribers int   `json:"subscribers"`
	Peak        int64 `json:"peakSubscribers"`
	Published   int64 `json:"published"`
	Delivered   int64 `json:"delivered"`
	Dropped     int64 `json:"dropped"`
	Evicted     int64 `json:"evicted"`
}

// Hub fans committed events out to subscribers. Publish never blocks the
// caller; when the queue is full the event is dropped and counted.
type Hub struct {
	logger   *slog.Logger
	origins  []string
	maxSubs  int
	upgrader websocket.Upgrader

	queue chan *Event

	mu      sync.RWMutex
	subs    map[*subscriber]struct{}
	stopped bool

	peak, published, delivered, dropped, evicted atomic.Int64
}

// NewHub returns a hub. Call Run to start delivery.
func NewHub(logger *slog.Logger, opts ...HubOption) *Hub {
	h := &Hub{
		logger:  logger,
		maxSubs: DefaultMaxSubscribers,
		queue:   make(chan *Event, queueSize),
		subs:    make(map[*subscriber]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Publish stamps and queues an event.
func (h *Hub) Publish(t EventType, data map[string]any) {
	h.published.Add(1)
	select {
	case h.queue <- &Event{Type: t, Timestamp: time.Now().UTC(), Data: data}:
	default:
		h.dropped.Add(1)
		h.logger.Warn("event queue full, dropping", "type", t)
	}
}

// Run delivers queued events until ctx is done, then disconnects every
// subscriber and refuses new ones.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("event stream started")
	for {
		select {
		case <-ctx.Done():
			h.stop()
			h.logger.Info("event stream stopped")
			return
		case e := <-h.queue:
			h.deliver(e)
		}
	}
}

func (h *Hub) deliver(e *Event) {
	frame, err := json.Marshal(e)
	if err != nil {
		h.logger.Error("event not serializable", "type", e.Type, "error", err)
		return
	}

	var slow []*subscriber
	h.mu.RLock()
	for s := range h.subs {
		if !s.filter().Match(e) {
			continue
		}
		select {
		case s.send <- frame:
			h.delivered.Add(1)
		default:
			slow = append(slow, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range slow {
		h.logger.Warn("evicting slow subscriber", "remote", s.remote)
		h.evicted.Add(1)
		h.remove(s)
	}
}

func (h *Hub) add(s *subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped || len(h.subs) >= h.maxSubs {
		return false
	}
	h.subs[s] = struct{}{}
	n := int64(len(h.subs))
	if n > h.peak.Load() {
		h.peak.Store(n)
	}
	metrics.ActiveWebSocketClients.Set(float64(n))
	return true
}

// remove closes s.send exactly once.
func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; !ok {
		return
	}
	delete(h.subs, s)
	close(s.send)
	metrics.ActiveWebSocketClients.Set(float64(len(h.subs)))
}

func (h *Hub) stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped = true
	for s := range h.subs {
		delete(h.subs, s)
		close(s.send)
	}
	metrics.ActiveWebSocketClients.Set(0)
}

// Ready fails once the hub has stopped or while the publish queue is nearly
// full.
func (h *Hub) Ready(context.Context) error {
	h.mu.RLock()
	stopped := h.stopped
	h.mu.RUnlock()
	switch {
	case stopped:
		return errors.New("event stream stopped")
	case len(h.queue) >= queueSize*9/10:
		return fmt.Errorf("event queue backlog %d/%d", len(h.queue), queueSize)
	}
	return nil
}

// Stats returns current counters.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	n := len(h.subs)
	h.mu.RUnlock()
	return Stats{
		Subscribers: n,
		Peak:        h.peak.Load(),
		Published:   h.published.Load(),
		Delivered:   h.delivered.Load(),
		Dropped:     h.dropped.Load(),
		Evicted:     h.evicted.Load(),
	}
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if len(h.origins) > 0 {
		return slices.Contains(h.origins, origin)
	}
	return origin == "http://"+r.Host || origin == "https://"+r.Host
}
