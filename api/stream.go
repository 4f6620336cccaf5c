// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bureau-foundation/librachat/accounts"
	"github.com/bureau-foundation/librachat/delivery"
	"github.com/bureau-foundation/librachat/lib/metrics"
	"github.com/bureau-foundation/librachat/lib/ref"
)

const (
	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second

	// pongWait is how long the peer may stay silent. Pings go out at
	// nine tenths of it.
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10

	// maxClientFrame bounds frames read from the client. The stream
	// is push-only; clients send nothing but control frames.
	maxClientFrame = 512
)

// HandleStream serves GET /api/rooms/{room_id}/stream. After the
// membership check the connection is upgraded to a websocket and
// every event appended to the room by another user is pushed as a
// PushedEvent; the caller's own sends are skipped, as in poll. A
// subscriber that falls behind is closed with 1013 (try again later)
// and is expected to catch up with poll.
func (s *Server) HandleStream(w http.ResponseWriter, r *http.Request, caller *accounts.Caller) {
	roomID, ok := s.roomPath(w, r)
	if !ok {
		return
	}
	subscription, err := s.rooms.Subscribe(r.Context(), caller.UserID(), roomID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		subscription.Close()
		s.logger.Debug("websocket upgrade failed", "room_id", roomID.String(), "error", err)
		return
	}

	s.streamsMu.Lock()
	s.streams[conn] = struct{}{}
	s.streamsMu.Unlock()
	metrics.ActiveStreams.Inc()
	s.logger.Debug("stream opened", "room_id", roomID.String(), "user_id", caller.UserID().String())

	done := make(chan struct{})
	go readPump(conn, done)
	s.writePump(conn, subscription, caller.UserID(), done)
}

// readPump consumes client frames so that pongs and close frames are
// processed. It closes done when the connection ends.
func readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(maxClientFrame)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump is the connection's only writer of data frames. Events
// sent by viewer are not written.
func (s *Server) writePump(conn *websocket.Conn, subscription *delivery.Subscription, viewer ref.UserID, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		subscription.Close()
		s.streamsMu.Lock()
		delete(s.streams, conn)
		s.streamsMu.Unlock()
		conn.Close()
		metrics.ActiveStreams.Dec()
	}()

	for {
		select {
		case event, ok := <-subscription.Events():
			if !ok {
				code, reason := websocket.CloseNormalClosure, ""
				if subscription.Overflowed() {
					code, reason = websocket.CloseTryAgainLater, "subscriber fell behind"
				}
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
				return
			}
			if event.Sender == viewer {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(PushedEvent{Type: event.Type, Data: event}); err != nil {
				s.logger.Debug("stream write failed", "error", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
