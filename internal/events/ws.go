package events

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// writeTimeout bounds how long a single UI frame write may take before the
// connection is considered dead, rather than letting a stalled browser tab
// pin a goroutine indefinitely.
const writeTimeout = 5 * time.Second

// WebSocketHandler streams every event on topic to a connecting browser
// client as JSON frames, for a live UI alongside the durable audit trail.
// One handler per topic; mount under the operational HTTP surface.
type WebSocketHandler struct {
	bus   *Bus
	topic string
	log   zerolog.Logger
}

// NewWebSocketHandler builds a UI transport for topic.
func NewWebSocketHandler(bus *Bus, topic string, log zerolog.Logger) *WebSocketHandler {
	return &WebSocketHandler{bus: bus, topic: topic, log: log.With().Str("component", "event_ws").Logger()}
}

// ServeHTTP upgrades the connection and relays events until the client
// disconnects or its subscription channel is closed. Events published
// while its buffer is full are skipped, not queued.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closing")

	ch, cancel := h.bus.Subscribe(h.topic)
	defer cancel()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "client gone")
			return
		case event, ok := <-ch:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "subscription dropped")
				return
			}
			writeCtx, cancelWrite := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(writeCtx, conn, event)
			cancelWrite()
			if err != nil {
				h.log.Debug().Err(err).Msg("websocket write failed, closing")
				return
			}
		}
	}
}
