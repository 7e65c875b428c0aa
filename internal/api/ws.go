package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsBuffer       = 64
	wsWriteTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Events streams every published event to a websocket client as JSON.
// Clients that fall behind miss events.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	// Subscribe before the handshake completes so no event published after
	// the client connects is lost.
	sub, cancel := h.Bus.Subscribe(wsBuffer)
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Warn("failed to upgrade connection", zap.Error(err))
		return
	}
	defer conn.Close()

	// The read loop only notices disconnects.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

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
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				h.Logger.Debug("websocket client gone", zap.Error(err))
				return
			}
		}
	}
}
