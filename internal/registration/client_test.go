package registration

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRegistry struct {
	mu           sync.Mutex
	lookupStatus int
	createStatus int
	createBody   string
	lookups      int
	creates      []Device
}

func (f *fakeRegistry) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/projects/ok-jarvis/devices/kitchen":
		f.lookups++
		w.WriteHeader(f.lookupStatus)
	case r.Method == http.MethodPost && r.URL.Path == "/projects/ok-jarvis/devices":
		var dev Device
		_ = json.NewDecoder(r.Body).Decode(&dev)
		f.creates = append(f.creates, dev)
		w.WriteHeader(f.createStatus)
		_, _ = io.WriteString(w, f.createBody)
	default:
		w.WriteHeader(http.StatusTeapot)
	}
}

func newClient(t *testing.T, reg *fakeRegistry) *Client {
	t.Helper()
	srv := httptest.NewServer(reg)
	t.Cleanup(srv.Close)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(BaseURL(srv.URL, "ok-jarvis"), srv.Client(), log)
}

func TestEnsureCreatesMissingDevice(t *testing.T) {
	reg := &fakeRegistry{lookupStatus: http.StatusNotFound, createStatus: http.StatusOK}
	c := newClient(t, reg)

	created, err := c.Ensure(context.Background(), Device{ID: "kitchen", ModelID: "jarvis-model"})
	require.NoError(t, err)
	assert.True(t, created)
	require.Len(t, reg.creates, 1)
	assert.Equal(t, Device{ID: "kitchen", ModelID: "jarvis-model"}, reg.creates[0])
}

func TestEnsureSkipsCreateWhenPresent(t *testing.T) {
	for _, status := range []int{http.StatusOK, http.StatusNoContent} {
		reg := &fakeRegistry{lookupStatus: status, createStatus: http.StatusOK}
		c := newClient(t, reg)

		created, err := c.Ensure(context.Background(), Device{ID: "kitchen", ModelID: "jarvis-model"})
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, 1, reg.lookups)
		assert.Empty(t, reg.creates)
	}
}

func TestEnsureCreateFailureCarriesBody(t *testing.T) {
	reg := &fakeRegistry{
		lookupStatus: http.StatusNotFound,
		createStatus: http.StatusBadRequest,
		createBody:   `{"error":"model not found"}`,
	}
	c := newClient(t, reg)

	_, err := c.Ensure(context.Background(), Device{ID: "kitchen", ModelID: "bogus"})
	require.Error(t, err)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, "create", statusErr.Op)
	assert.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
	assert.Contains(t, err.Error(), "model not found")
	assert.Len(t, reg.creates, 1)
}

func TestEnsureCreateRequiresExactly200(t *testing.T) {
	reg := &fakeRegistry{lookupStatus: http.StatusNotFound, createStatus: http.StatusCreated}
	c := newClient(t, reg)

	_, err := c.Ensure(context.Background(), Device{ID: "kitchen", ModelID: "jarvis-model"})
	assert.Error(t, err)
}

func TestEnsureLookupFailure(t *testing.T) {
	reg := &fakeRegistry{lookupStatus: http.StatusForbidden}
	c := newClient(t, reg)

	_, err := c.Ensure(context.Background(), Device{ID: "kitchen", ModelID: "jarvis-model"})
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, "lookup", statusErr.Op)
	assert.Empty(t, reg.creates)
}

func TestBaseURL(t *testing.T) {
	assert.Equal(t,
		"https://embeddedassistant.googleapis.com/v1alpha2/projects/ok-jarvis",
		BaseURL("https://embeddedassistant.googleapis.com/v1alpha2/", "ok-jarvis"))
}
