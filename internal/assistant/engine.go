package assistant

import (
	"context"
	"errors"
	"sync"
)

// Engine is the external conversation backend. Start returns the event
// stream; the stream closes when the engine stops on its own.
type Engine interface {
	Start(ctx context.Context) (<-chan Event, error)
	StartConversation(ctx context.Context) error
	StopConversation(ctx context.Context) error
	Close() error
}

var errEngineClosed = errors.New("engine closed")

// MockEngine plays a canned conversation turn for every StartConversation.
type MockEngine struct {
	Utterance string

	mu     sync.Mutex
	events chan Event
	closed bool
}

func NewMockEngine() *MockEngine {
	return &MockEngine{
		Utterance: "[mock utterance]",
		events:    make(chan Event, 32),
	}
}

func (m *MockEngine) Start(ctx context.Context) (<-chan Event, error) {
	if err := m.emit(ctx, StartFinished{}); err != nil {
		return nil, err
	}
	return m.events, nil
}

func (m *MockEngine) StartConversation(ctx context.Context) error {
	return m.emit(ctx,
		TurnStarted{},
		EndOfUtterance{},
		SpeechRecognized{Text: m.Utterance},
		RespondingStarted{},
		RespondingFinished{},
		TurnFinished{},
	)
}

func (m *MockEngine) StopConversation(ctx context.Context) error {
	return m.emit(ctx, TurnFinished{})
}

// Emit pushes arbitrary events, for scripted sessions.
func (m *MockEngine) Emit(ctx context.Context, events ...Event) error {
	return m.emit(ctx, events...)
}

func (m *MockEngine) emit(ctx context.Context, events ...Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errEngineClosed
	}
	for _, ev := range events {
		select {
		case m.events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (m *MockEngine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.events)
	}
	return nil
}
