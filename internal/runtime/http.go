package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/loqalabs/jarvis/internal/assistant"
	"github.com/loqalabs/jarvis/internal/presence"
	"github.com/loqalabs/jarvis/internal/pubsub"
)

func (r *Runtime) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if r.telemetry != nil && r.telemetry.metrics != nil {
		mux.Handle("/metrics", r.telemetry.metrics)
	}
	mux.HandleFunc("POST /conversation", r.handleStartConversation)
	mux.HandleFunc("DELETE /conversation", r.handleStopConversation)
	mux.Handle("/transcript", r.hub)
	mux.Handle("/publish", pubsub.NewPublishHandler(r.publisher, r.logger))
	mux.HandleFunc("GET /devices", r.handleDevices)
	mux.HandleFunc("GET /conversations", r.handleConversations)
	mux.HandleFunc("GET /conversations/{id}", r.handleConversation)
	return mux
}

func (r *Runtime) startHTTP() (string, error) {
	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("listen on %s: %w", addr, err)
	}
	r.httpServer = &http.Server{
		Handler:           r.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.serve(r.httpServer, ln, "http")

	if bind := r.cfg.Telemetry.PrometheusBind; bind != "" && r.telemetry != nil && r.telemetry.metrics != nil {
		mln, err := net.Listen("tcp", bind)
		if err != nil {
			r.logger.Warn("metrics listener unavailable", slog.String("bind", bind), slog.String("error", err.Error()))
		} else {
			mux := http.NewServeMux()
			mux.Handle("/metrics", r.telemetry.metrics)
			r.metricsServer = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
			r.serve(r.metricsServer, mln, "metrics")
		}
	}

	bound := ln.Addr().String()
	r.addr <- bound
	return bound, nil
}

func (r *Runtime) serve(srv *http.Server, ln net.Listener, name string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error(name+" server failed", slog.String("error", err.Error()))
		}
	}()
}

func (r *Runtime) stopHTTP(ctx context.Context) {
	for _, srv := range []*http.Server{r.httpServer, r.metricsServer} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(ctx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.bus.Healthy() && r.presence.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) handleStartConversation(w http.ResponseWriter, req *http.Request) {
	err := r.assistant.StartConversation(req.Context())
	switch {
	case err == nil:
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("conversation started"))
	case errors.Is(err, assistant.ErrConversationUnavailable):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		r.logger.Error("start conversation failed", slog.String("error", err.Error()))
		http.Error(w, err.Error(), http.StatusBadGateway)
	}
}

func (r *Runtime) handleStopConversation(w http.ResponseWriter, req *http.Request) {
	if err := r.assistant.StopConversation(req.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusAccepted)
	_, _ = w.Write([]byte("conversation stopped"))
}

// handleDevices lists known devices. ?role= narrows by role and
// ?healthy=true drops devices that missed their heartbeats.
func (r *Runtime) handleDevices(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	var filters []func(presence.DeviceInfo) bool
	if role := q.Get("role"); role != "" {
		filters = append(filters, presence.WithRoleFilter(role))
	}
	if healthy, _ := strconv.ParseBool(q.Get("healthy")); healthy {
		filters = append(filters, presence.HealthyOnly)
	}
	writeJSON(w, r.presence.Query(func(d presence.DeviceInfo) bool {
		for _, keep := range filters {
			if !keep(d) {
				return false
			}
		}
		return true
	}))
}

func (r *Runtime) handleConversations(w http.ResponseWriter, req *http.Request) {
	convs, err := r.store.ListConversations(req.Context(), queryLimit(req))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, convs)
}

func (r *Runtime) handleConversation(w http.ResponseWriter, req *http.Request) {
	rows, err := r.store.ListConversation(req.Context(), req.PathValue("id"), queryLimit(req))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if len(rows) == 0 {
		http.NotFound(w, req)
		return
	}
	writeJSON(w, rows)
}

func queryLimit(req *http.Request) int {
	n, err := strconv.Atoi(req.URL.Query().Get("limit"))
	if err != nil {
		return 0
	}
	return n
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
