package httpx

import (
	"io"
	"log/slog"
	"net/http"

	"golang.org/x/net/websocket"

	"github.com/jobsift/pipeline-api/internal/hub"
)

// WSHandler upgrades GET /ws connections and pumps hub frames to the client.
type WSHandler struct {
	Hub    *hub.Hub
	Logger *slog.Logger
}

// ServeHTTP implements http.Handler via the websocket handshake.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	websocket.Handler(h.serve).ServeHTTP(w, r)
}

// serve attaches the connection to the hub and forwards frames until the hub
// closes the subscription or the client goes away. The first frame is always
// the initial_state snapshot, queued atomically at attach time.
func (h *WSHandler) serve(ws *websocket.Conn) {
	defer ws.Close()

	sub, err := h.Hub.Attach()
	if err != nil {
		h.Logger.Error("websocket attach failed", "error", err)
		return
	}
	defer h.Hub.Detach(sub)

	// Drain client frames so a closed peer surfaces as a read error. The
	// protocol is server to client only; inbound payloads are discarded.
	done := make(chan struct{})
	go func() {
		defer close(done)
		var discard string
		for {
			if err := websocket.Message.Receive(ws, &discard); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case frame, ok := <-sub.Frames():
			if !ok {
				// Hub shut down or evicted this subscriber.
				return
			}
			if err := websocket.Message.Send(ws, string(frame)); err != nil {
				if err != io.EOF {
					h.Logger.Debug("websocket send failed", "error", err)
				}
				return
			}
		case <-done:
			return
		}
	}
}
