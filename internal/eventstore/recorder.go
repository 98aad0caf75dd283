package eventstore

import (
	"context"
	"log/slog"
	"time"

	"github.com/loqalabs/jarvis/internal/transcript"
)

// Recorder writes transcript rows to the store. Rows that belong to no
// conversation turn are filed under the session id.
type Recorder struct {
	store     *Store
	deviceID  string
	sessionID string
	timeout   time.Duration
	log       *slog.Logger
}

func NewRecorder(store *Store, deviceID, sessionID string, log *slog.Logger) *Recorder {
	return &Recorder{
		store:     store,
		deviceID:  deviceID,
		sessionID: sessionID,
		timeout:   5 * time.Second,
		log:       log.With(slog.String("component", "recorder")),
	}
}

func (r *Recorder) Append(ex transcript.Exchange) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	conversationID := ex.ConversationID
	if conversationID == "" {
		conversationID = r.sessionID
	}
	if err := r.store.AppendConversation(ctx, conversationID, r.deviceID); err != nil {
		r.log.Warn("failed to record conversation", slog.String("error", err.Error()))
		return
	}
	if _, err := r.store.AppendExchange(ctx, Exchange{
		ConversationID: conversationID,
		Text:           ex.Text,
		Align:          ex.Align.String(),
		CreatedAt:      ex.At,
	}); err != nil {
		r.log.Warn("failed to record exchange", slog.String("error", err.Error()))
	}
}
