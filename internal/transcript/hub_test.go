package transcript

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/loqalabs/jarvis/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubSendsBacklogThenLiveRows(t *testing.T) {
	hub := NewHub(10, slog.New(slog.NewTextHandler(io.Discard, nil)))
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	hub.Append(Exchange{Text: "Listening...", Align: Left})

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var first protocol.Exchange
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "Listening...", first.Text)
	assert.Equal(t, "left", first.Align)

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 10*time.Millisecond)
	hub.Append(Exchange{Text: "turn on the lights", Align: Right})

	var second protocol.Exchange
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, "turn on the lights", second.Text)
	assert.Equal(t, "right", second.Align)
}

func TestHubBacklogIsBounded(t *testing.T) {
	hub := NewHub(2, slog.New(slog.NewTextHandler(io.Discard, nil)))
	for _, text := range []string{"a", "b", "c"} {
		hub.Append(Exchange{Text: text})
	}
	hub.mu.Lock()
	defer hub.mu.Unlock()
	require.Len(t, hub.backlog, 2)
	assert.Equal(t, "b", hub.backlog[0].Text)
}
