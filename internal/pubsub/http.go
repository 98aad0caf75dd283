package pubsub

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
)

// TopicPublisher is the part of Publisher the HTTP function needs.
type TopicPublisher interface {
	Publish(ctx context.Context, topic string, msg Message) (uint64, error)
}

type publishRequest struct {
	Topic      string            `json:"topic"`
	Message    string            `json:"message"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// PublishHandler is the HTTP publish function: it accepts
// {"topic": ..., "message": ..., "attributes": {...}} and publishes it.
type PublishHandler struct {
	publisher TopicPublisher
	log       *slog.Logger
}

func NewPublishHandler(publisher TopicPublisher, log *slog.Logger) *PublishHandler {
	return &PublishHandler{publisher: publisher, log: log.With(slog.String("component", "publish-function"))}
}

func (h *PublishHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req publishRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, "invalid JSON body: "+err.Error(), http.StatusBadRequest)
			return
		}
	}

	switch {
	case req.Topic == "":
		http.Error(w, `Topic not provided. Make sure you have a "topic" property in your request`, http.StatusInternalServerError)
		return
	case req.Message == "":
		http.Error(w, `Message not provided. Make sure you have a "message" property in your request`, http.StatusInternalServerError)
		return
	}

	h.log.Info("publishing message", slog.String("topic", req.Topic))
	if _, err := h.publisher.Publish(r.Context(), req.Topic, Message{
		Data:       []byte(req.Message),
		Attributes: req.Attributes,
	}); err != nil {
		h.log.Error("publish failed", slog.String("topic", req.Topic), slog.String("error", err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "Message published.")
}
