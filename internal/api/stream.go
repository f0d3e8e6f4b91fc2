package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	streamBuffer    = 64
	streamWriteWait = 10 * time.Second
	streamPongWait  = 60 * time.Second
	streamPingEvery = streamPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// handleThreadStream upgrades to a WebSocket and sends every event for
// the thread as a JSON text frame until the client disconnects. The
// thread need not exist yet.
func (s *Server) handleThreadStream(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	if s.bus == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "event stream not configured")
		return
	}

	// Subscribe before the handshake completes so no commit made after
	// the client sees the upgrade is missed.
	ch := s.bus.SubscribeThread(threadID, streamBuffer)
	defer s.bus.Unsubscribe(ch)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an error response.
		s.logger.Debug("websocket upgrade failed", "thread", threadID, "error", err)
		return
	}
	defer conn.Close()

	logger := s.logger.With("thread", threadID)
	logger.Debug("stream opened")

	// Reads only serve to notice the client going away and to process
	// control frames.
	closed := make(chan struct{})
	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingEvery)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(streamWriteWait))
			return
		case <-closed:
			logger.Debug("stream closed by client")
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		case e, ok := <-ch:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(e); err != nil {
				logger.Debug("stream write failed", "error", err)
				return
			}
		}
	}
}
