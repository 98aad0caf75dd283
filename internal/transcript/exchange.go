// Package transcript holds the rows shown to the user and the views that
// render them. Rows cross goroutines only through Queue; whoever drains the
// queue is the single writer for every view.
package transcript

import (
	"time"

	"github.com/loqalabs/jarvis/internal/protocol"
)

// Align tells views which side of the list a row belongs to.
type Align int

const (
	// Left rows are assistant output and status lines.
	Left Align = iota
	// Right rows are recognized user speech.
	Right
)

func (a Align) String() string {
	if a == Right {
		return "right"
	}
	return "left"
}

// Exchange is one displayed line of transcript.
type Exchange struct {
	ConversationID string
	Text           string
	Align          Align
	At             time.Time
}

// Wire converts the row to its feed representation.
func (e Exchange) Wire() protocol.Exchange {
	return protocol.Exchange{
		ConversationID: e.ConversationID,
		Text:           e.Text,
		Align:          e.Align.String(),
		Timestamp:      e.At,
	}
}

// Sink receives rows.
type Sink interface {
	Append(Exchange)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Exchange)

func (f SinkFunc) Append(ex Exchange) { f(ex) }

// Fanout delivers each row to every sink in order.
type Fanout []Sink

func (f Fanout) Append(ex Exchange) {
	for _, s := range f {
		if s != nil {
			s.Append(ex)
		}
	}
}
