package events

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

func TestWebSocketHandler_StreamsPublishedEvents(t *testing.T) {
	bus := New(zerolog.Nop(), nil)
	handler := NewWebSocketHandler(bus, "orders", zerolog.Nop())

	server := httptest.NewServer(handler)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + server.URL[len("http"):]
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "test done")

	// Give the handler a moment to subscribe before publishing.
	time.Sleep(50 * time.Millisecond)
	bus.Publish("orders", EventWithData{
		Type: MasterOrderAccepted,
		Data: &MasterOrderAcceptedData{MasterOrderID: "o1"},
	})

	var got EventWithData
	require.NoError(t, wsjson.Read(ctx, conn, &got))
	assert.Equal(t, MasterOrderAccepted, got.Type)
}
