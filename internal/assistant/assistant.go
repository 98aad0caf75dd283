// Package assistant adapts an external conversation engine to the
// transcript: typed lifecycle events, their dispatch, device-action
// unpacking, and the engines that produce them.
package assistant

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
)

// ErrConversationUnavailable is returned when the start button is pressed
// before the engine is ready, during a turn, or while muted.
var ErrConversationUnavailable = errors.New("conversation cannot be started now")

// Assistant owns the current engine session and relays its events to the
// dispatcher.
type Assistant struct {
	engine     Engine
	dispatcher *Dispatcher
	log        *slog.Logger

	ready  atomic.Bool
	inTurn atomic.Bool
	muted  atomic.Bool
}

func New(engine Engine, dispatcher *Dispatcher, log *slog.Logger) *Assistant {
	return &Assistant{
		engine:     engine,
		dispatcher: dispatcher,
		log:        log.With(slog.String("component", "assistant")),
	}
}

// Run starts the engine and consumes its events until ctx is done or the
// engine stops. The closing row is appended on the way out.
func (a *Assistant) Run(ctx context.Context) error {
	events, err := a.engine.Start(ctx)
	if err != nil {
		return err
	}
	defer a.dispatcher.Goodbye()
	defer a.ready.Store(false)

	a.log.Info("assistant started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				a.log.Info("assistant engine stopped")
				return nil
			}
			a.observe(ev)
			a.dispatcher.Dispatch(ctx, ev)
		}
	}
}

// CanStartConversation reports whether a press of the start button would
// reach the engine.
func (a *Assistant) CanStartConversation() bool {
	return a.ready.Load() && !a.inTurn.Load() && !a.muted.Load()
}

// StartConversation is the start button.
func (a *Assistant) StartConversation(ctx context.Context) error {
	if !a.CanStartConversation() {
		return ErrConversationUnavailable
	}
	return a.engine.StartConversation(ctx)
}

func (a *Assistant) StopConversation(ctx context.Context) error {
	return a.engine.StopConversation(ctx)
}

// Close stops the engine.
func (a *Assistant) Close() error {
	return a.engine.Close()
}

func (a *Assistant) observe(ev Event) {
	switch e := ev.(type) {
	case StartFinished:
		a.ready.Store(true)
	case TurnStarted:
		a.inTurn.Store(true)
	case TurnFinished, TurnTimeout:
		a.inTurn.Store(false)
	case MutedChanged:
		a.muted.Store(e.IsMuted)
	case AssistantError:
		if e.IsFatal {
			a.ready.Store(false)
		}
	}
}
