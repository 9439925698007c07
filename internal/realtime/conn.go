package realtime

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sourcegraph/conc"
)

type subscriber struct {
	hub    *Hub
	conn   *websocket.Conn
	remote string
	send   chan []byte

	mu sync.RWMutex
	f  Filter
}

func (s *subscriber) filter() Filter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.f
}

func (s *subscriber) setFilter(f Filter) {
	s.mu.Lock()
	s.f = f
	s.mu.Unlock()
}

// ServeHTTP upgrades the request and streams events until either side
// disconnects or the hub stops.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	refuse := h.stopped || len(h.subs) >= h.maxSubs
	h.mu.RUnlock()
	if refuse {
		http.Error(w, "event stream unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade rejected", "remote", r.RemoteAddr, "error", err)
		return
	}

	s := &subscriber{hub: h, conn: conn, remote: r.RemoteAddr, send: make(chan []byte, sendBuffer)}
	if !h.add(s) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "event stream unavailable"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}
	h.logger.Debug("subscriber connected", "remote", s.remote)

	var wg conc.WaitGroup
	wg.Go(s.readLoop)
	wg.Go(s.writeLoop)
	wg.Wait()
	h.logger.Debug("subscriber disconnected", "remote", s.remote)
}

// readLoop applies filter updates and keeps the read deadline fresh.
func (s *subscriber) readLoop() {
	defer s.hub.remove(s)

	s.conn.SetReadLimit(maxFrame)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				s.hub.logger.Debug("subscriber read failed", "remote", s.remote, "error", err)
			}
			return
		}
		var f Filter
		if err := json.Unmarshal(frame, &f); err != nil {
			s.hub.logger.Debug("ignoring malformed filter", "remote", s.remote, "error", err)
			continue
		}
		s.setFilter(f)
	}
}

// writeLoop is the only writer on conn.
func (s *subscriber) writeLoop() {
	ping := time.NewTicker(pingEvery)
	defer func() {
		ping.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case frame, open := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !open {
				_ = s.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, closeReason))
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ping.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
