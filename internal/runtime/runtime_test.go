package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/jarvis/internal/assistant"
	"github.com/loqalabs/jarvis/internal/config"
	"github.com/loqalabs/jarvis/internal/eventstore"
	"github.com/loqalabs/jarvis/internal/presence"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testConfig(t *testing.T) config.Config {
	cfg := config.Default()
	dir := t.TempDir()
	cfg.HTTP.Port = 0
	cfg.Bus.Port = -1
	cfg.Bus.StoreDir = filepath.Join(dir, "nats")
	cfg.Telemetry.PrometheusBind = ""
	cfg.EventStore.Path = filepath.Join(dir, "transcripts.db")
	cfg.Device.ID = "kitchen"
	cfg.Device.HeartbeatInterval = 50
	cfg.Device.HeartbeatTimeout = 500
	return cfg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRuntimeServesConversation(t *testing.T) {
	cfg := testConfig(t)
	out := &syncBuffer{}
	engine := assistant.NewMockEngine()
	engine.Utterance = "turn on the kitchen lights"
	rt := New(cfg, discardLogger(), Options{Version: "test", Stdout: out, Engine: engine})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- rt.Start(ctx) }()

	addrCtx, addrCancel := context.WithTimeout(ctx, 10*time.Second)
	defer addrCancel()
	addr, err := rt.Addr(addrCtx)
	require.NoError(t, err)
	base := "http://" + addr

	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/readyz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		resp, err := http.Post(base+"/conversation", "", nil)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusAccepted
	}, 5*time.Second, 20*time.Millisecond)

	var convs []eventstore.Conversation
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/conversations")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		convs = nil
		if err := json.NewDecoder(resp.Body).Decode(&convs); err != nil {
			return false
		}
		for _, c := range convs {
			if c.Exchanges == 4 {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)

	resp, err := http.Get(base + "/devices")
	require.NoError(t, err)
	var devices []presence.DeviceInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&devices))
	resp.Body.Close()
	require.NotEmpty(t, devices)
	assert.Equal(t, "kitchen", devices[0].ID)

	for query, want := range map[string]int{
		"?role=assistant":              1,
		"?role=gpio":                   0,
		"?role=assistant&healthy=true": 1,
	} {
		resp, err := http.Get(base + "/devices" + query)
		require.NoError(t, err)
		var filtered []presence.DeviceInfo
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&filtered))
		resp.Body.Close()
		assert.Len(t, filtered, want, query)
	}

	resp, err = http.Post(base+"/publish", "application/json",
		strings.NewReader(`{"topic":"rpi","message":"GPIO","attributes":{"pin":"17"}}`))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Message published.", string(body))

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("runtime did not stop")
	}

	console := out.String()
	assert.Contains(t, console, "Jarvis")
	assert.Contains(t, console, "turn on the kitchen lights")
	assert.Contains(t, console, "GoodBye")
}

func TestRuntimeStopsWhenEngineStops(t *testing.T) {
	cfg := testConfig(t)
	cfg.Console.Enabled = false
	cfg.EventStore.RetentionMode = "ephemeral"
	engine := assistant.NewMockEngine()
	rt := New(cfg, discardLogger(), Options{Engine: engine})

	done := make(chan error, 1)
	go func() { done <- rt.Start(context.Background()) }()

	addrCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := rt.Addr(addrCtx)
	require.NoError(t, err)
	require.Eventually(t, rt.assistant.CanStartConversation, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, engine.Close())
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("runtime did not stop after the engine closed")
	}
}

func TestRegistrationRequiresCredentials(t *testing.T) {
	cfg := testConfig(t)
	cfg.Device.ProjectID = "ok-jarvis"
	cfg.Device.ModelID = "jarvis-model"
	rt := New(cfg, discardLogger(), Options{Engine: assistant.NewMockEngine()})
	err := rt.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "credentials")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel(" warn "))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestNewLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&buf, "json", "info").Info("hello", slog.String("component", "test"))
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "hello", line["msg"])

	buf.Reset()
	NewLogger(&buf, "console", "error").Info("hidden")
	assert.Empty(t, buf.String())
}
