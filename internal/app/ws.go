package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"compass/api/internal/presence"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 50 * time.Second
	wsReadLimit  = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CORS for the API is enforced by middleware; the websocket handshake
	// accepts any origin the deployment's proxy lets through.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handlePresence upgrades the connection into a report presence session.
// The client publishes its state as JSON messages; the server pushes the
// aggregated roster whenever it changes, starting with an immediate replay.
func (s *HTTPServer) handlePresence(w http.ResponseWriter, r *http.Request, reportID string) {
	coordinator := s.service.Presence()
	if coordinator == nil {
		writeError(w, http.StatusServiceUnavailable, "PRESENCE_DISABLED", "presence is not configured", nil)
		return
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		token = bearerToken(r)
	}
	authUserID := ""
	if token != "" {
		if session, err := s.service.SessionFromToken(r.Context(), token); err == nil {
			authUserID = session.UserID
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("presence upgrade failed", "reportID", reportID, "error", err)
		return
	}

	connID := presence.NewConnectionID()
	outbound := make(chan []presence.Participant, 8)
	done := make(chan struct{})

	go func() {
		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case roster, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteJSON(map[string]any{"type": "roster", "participants": roster}); err != nil {
					return
				}
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	deliver := func(roster []presence.Participant) {
		select {
		case outbound <- roster:
		default:
			// A backed-up client sees a stale roster until the next push.
		}
	}

	coordinator.Connect(reportID, connID, authUserID, deliver)
	defer func() {
		// The request context dies with the socket; the shrunk-roster
		// broadcast still has to go out.
		coordinator.Disconnect(context.Background(), reportID, connID)
		// Disconnect removes the session under the room lock, so nothing
		// delivers into outbound after this point.
		close(outbound)
		close(done)
		_ = conn.Close()
	}()

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		var state presence.State
		if err := conn.ReadJSON(&state); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("presence read failed", "reportID", reportID, "connID", connID, "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		coordinator.Publish(r.Context(), reportID, connID, state)
	}
}
