package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// eventBufferSize is the per-subscriber channel buffer. A client
	// that falls this far behind starts missing events.
	eventBufferSize = 64

	// pingInterval keeps idle connections alive through proxies.
	pingInterval = 30 * time.Second

	// writeWait bounds a single WebSocket write.
	writeWait = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The API listens on a trusted LAN interface; browser clients on
	// other origins (HA dashboards) are expected.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleEvents upgrades the connection to a WebSocket and streams bus
// events as JSON messages until the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "event stream not configured")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote an HTTP error response.
		s.logger.Debug("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}
	defer conn.Close()

	sub := s.bus.Subscribe(eventBufferSize)
	defer s.bus.Unsubscribe(sub)

	s.logger.Info("event stream client connected", "remote", r.RemoteAddr)
	defer s.logger.Info("event stream client disconnected", "remote", r.RemoteAddr)

	// Reader goroutine: we never expect client messages, but reading is
	// required to process control frames and notice closes.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				s.logger.Debug("event stream write failed", "error", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
