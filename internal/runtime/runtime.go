// Package runtime wires the assistant daemon together and serves its HTTP
// surface.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/loqalabs/jarvis/internal/actions"
	"github.com/loqalabs/jarvis/internal/assistant"
	"github.com/loqalabs/jarvis/internal/bus"
	"github.com/loqalabs/jarvis/internal/config"
	"github.com/loqalabs/jarvis/internal/credentials"
	"github.com/loqalabs/jarvis/internal/eventstore"
	"github.com/loqalabs/jarvis/internal/natsserver"
	"github.com/loqalabs/jarvis/internal/presence"
	"github.com/loqalabs/jarvis/internal/pubsub"
	"github.com/loqalabs/jarvis/internal/registration"
	"github.com/loqalabs/jarvis/internal/transcript"
)

// Options carries what the daemon hands the runtime besides config.
type Options struct {
	Version string
	// Credentials authorize device registration. Nil disables it.
	Credentials *credentials.Credentials
	// Console input and output. Nil Stdin disables the start button reader.
	Stdin  io.Reader
	Stdout io.Writer
	// TraceOut receives spans when no OTLP endpoint is configured.
	TraceOut io.Writer
	// Engine overrides the engine selected by assistant.mode.
	Engine assistant.Engine
}

type Runtime struct {
	cfg    config.Config
	opts   Options
	logger *slog.Logger

	httpServer    *http.Server
	metricsServer *http.Server
	telemetry     *telemetry
	ready         atomic.Bool
	wg            sync.WaitGroup

	nats      *natsserver.EmbeddedServer
	bus       *bus.Client
	store     *eventstore.Store
	publisher *pubsub.Publisher
	forwarder actions.Forwarder
	presence  *presence.Registry
	queue     *transcript.Queue
	hub       *transcript.Hub
	console   *transcript.Console
	assistant *assistant.Assistant
	addr      chan string
}

func New(cfg config.Config, logger *slog.Logger, opts Options) *Runtime {
	if opts.Stdout == nil {
		opts.Stdout = io.Discard
	}
	return &Runtime{
		cfg:    cfg,
		opts:   opts,
		logger: logger,
		addr:   make(chan string, 1),
	}
}

// Addr blocks until the HTTP server is listening and returns its address.
func (r *Runtime) Addr(ctx context.Context) (string, error) {
	select {
	case addr := <-r.addr:
		r.addr <- addr
		return addr, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Start brings every service up, serves until ctx is done or the assistant
// engine stops, then tears everything down in reverse order.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tel, err := setupTelemetry(r.cfg, r.opts.Version, r.opts.TraceOut, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.telemetry = tel
	defer r.shutdownTelemetry()

	if err := r.registerDevice(ctx); err != nil {
		return err
	}

	if err := r.startServices(ctx); err != nil {
		r.stopServices()
		return err
	}
	defer r.stopServices()

	listener, err := r.startHTTP()
	if err != nil {
		return err
	}

	assistantDone := make(chan error, 1)
	go func() { assistantDone <- r.assistant.Run(ctx) }()

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		sinks := transcript.Fanout{r.hub, eventstore.NewRecorder(r.store, r.cfg.Device.ID, uuid.NewString(), r.logger)}
		if r.console != nil {
			sinks = append(sinks, r.console)
		}
		_ = r.queue.Drain(context.Background(), sinks.Append)
	}()

	if r.console != nil {
		r.console.Open()
		if r.opts.Stdin != nil {
			go func() {
				if err := r.console.Listen(ctx, r.opts.Stdin, r.press); err != nil {
					r.logger.Warn("console input failed", slog.String("error", err.Error()))
				}
			}()
		}
	}

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", listener))

	var runErr error
	select {
	case <-ctx.Done():
		_ = r.assistant.Close()
		runErr = <-assistantDone
	case runErr = <-assistantDone:
		r.logger.Info("assistant stopped")
	}
	r.ready.Store(false)
	r.logger.Info("runtime stopping", slog.Int("pending_rows", r.queue.Len()))

	r.queue.Close()
	<-drained

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	r.stopHTTP(shutdownCtx)

	if runErr != nil {
		return fmt.Errorf("assistant: %w", runErr)
	}
	return nil
}

func (r *Runtime) registerDevice(ctx context.Context) error {
	dev := r.cfg.Device
	if dev.ProjectID == "" {
		return nil
	}
	if r.opts.Credentials == nil {
		return errors.New("device registration requires credentials")
	}
	client := registration.New(
		registration.BaseURL(dev.RegistryEndpoint, dev.ProjectID),
		r.opts.Credentials.HTTPClient(ctx),
		r.logger,
	)
	if _, err := client.Ensure(ctx, registration.Device{ID: dev.ID, ModelID: dev.ModelID}); err != nil {
		return fmt.Errorf("register device %s: %w", dev.ID, err)
	}
	return nil
}

func (r *Runtime) startServices(ctx context.Context) error {
	ns, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return err
	}
	r.nats = ns

	busCfg := r.cfg.Bus
	if ns != nil {
		busCfg.Servers = []string{ns.ClientURL()}
	}
	r.bus, err = bus.Connect(ctx, busCfg, r.cfg.RuntimeName, r.logger)
	if err != nil {
		return err
	}

	r.store, err = eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}

	r.publisher = pubsub.NewPublisher(r.bus.JetStream(), r.cfg.PubSub.Project, r.logger)
	r.forwarder, err = actions.New(r.cfg.Forwarder, r.publisher, r.logger)
	if err != nil {
		return fmt.Errorf("create forwarder: %w", err)
	}

	r.presence, err = presence.NewRegistry(ctx, r.cfg.Device, r.bus, r.logger)
	if err != nil {
		return fmt.Errorf("start presence: %w", err)
	}

	r.queue = transcript.NewQueue()
	r.hub = transcript.NewHub(256, r.logger)
	if r.cfg.Console.Enabled {
		r.console = transcript.NewConsole(r.opts.Stdout, r.cfg.Console.Title, r.cfg.Console.Width)
	}

	engine, err := r.newEngine()
	if err != nil {
		return err
	}
	dispatcher := assistant.NewDispatcher(r.queue, r.forwarder, r.cfg.Device.ID, r.logger)
	r.assistant = assistant.New(engine, dispatcher, r.logger)
	return nil
}

func (r *Runtime) newEngine() (assistant.Engine, error) {
	if r.opts.Engine != nil {
		return r.opts.Engine, nil
	}
	switch r.cfg.Assistant.Mode {
	case "exec":
		return assistant.NewExecEngine(r.cfg.Assistant.Command, assistant.ExecOptions{
			CredentialsPath: r.cfg.Assistant.CredentialsPath,
			DeviceModelID:   r.cfg.Device.ModelID,
			DeviceID:        r.cfg.Device.ID,
			ProjectID:       r.cfg.Device.ProjectID,
		}, r.logger)
	case "bus":
		return assistant.NewBusEngine(r.bus.Conn(), r.cfg.Device.ID, r.logger), nil
	default:
		return assistant.NewMockEngine(), nil
	}
}

func (r *Runtime) stopServices() {
	if r.hub != nil {
		r.hub.Close()
	}
	if r.presence != nil {
		r.presence.Close()
	}
	if r.forwarder != nil {
		if err := r.forwarder.Close(); err != nil {
			r.logger.Warn("forwarder close error", slog.String("error", err.Error()))
		}
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Warn("event store close error", slog.String("error", err.Error()))
		}
	}
	r.bus.Close()
	r.nats.Shutdown()
}

func (r *Runtime) shutdownTelemetry() {
	if r.telemetry == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.telemetry.shutdown(ctx); err != nil {
		r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
	}
}

// press is the console start button.
func (r *Runtime) press(ctx context.Context) {
	if err := r.assistant.StartConversation(ctx); err != nil {
		r.logger.Info("start button ignored", slog.String("reason", err.Error()))
	}
}
