package assistant

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/loqalabs/jarvis/internal/protocol"
	"github.com/mattn/go-shellwords"
)

// ExecOptions are handed to the bridge process as flags.
type ExecOptions struct {
	CredentialsPath string
	DeviceModelID   string
	DeviceID        string
	ProjectID       string
}

// ExecEngine runs a bridge process that owns the vendor SDK. The bridge
// writes one JSON event per line on stdout and reads one JSON command per
// line on stdin.
type ExecEngine struct {
	argv []string
	log  *slog.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	closed bool
}

func NewExecEngine(command string, opts ExecOptions, log *slog.Logger) (*ExecEngine, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse assistant command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("assistant command is empty")
	}
	if opts.CredentialsPath != "" {
		args = append(args, "--credentials", opts.CredentialsPath)
	}
	if opts.DeviceModelID != "" {
		args = append(args, "--device_model_id", opts.DeviceModelID)
	}
	if opts.DeviceID != "" {
		args = append(args, "--device_id", opts.DeviceID)
	}
	if opts.ProjectID != "" {
		args = append(args, "--project_id", opts.ProjectID)
	}
	return &ExecEngine{argv: args, log: log.With(slog.String("component", "exec-engine"))}, nil
}

// Argv returns the command line the bridge is started with.
func (e *ExecEngine) Argv() []string {
	return append([]string(nil), e.argv...)
}

func (e *ExecEngine) Start(ctx context.Context) (<-chan Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, errEngineClosed
	}
	if e.cmd != nil {
		return nil, errors.New("assistant bridge already started")
	}

	cmd := exec.CommandContext(ctx, e.argv[0], e.argv[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr = &logWriter{log: e.log}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start assistant bridge: %w", err)
	}
	e.cmd = cmd
	e.stdin = stdin
	e.log.Info("assistant bridge started", slog.String("command", e.argv[0]), slog.Int("pid", cmd.Process.Pid))

	events := make(chan Event, 16)
	go func() {
		defer close(events)
		if err := readEvents(ctx, stdout, events, e.log); err != nil {
			e.log.Warn("assistant bridge stream failed", slog.String("error", err.Error()))
		}
		err := cmd.Wait()
		// Wait has closed the stdin pipe.
		e.mu.Lock()
		e.stdin = nil
		e.mu.Unlock()
		if err != nil && ctx.Err() == nil {
			e.log.Warn("assistant bridge exited", slog.String("error", err.Error()))
		}
	}()
	return events, nil
}

func (e *ExecEngine) StartConversation(context.Context) error {
	return e.send(protocol.CommandStartConversation)
}

func (e *ExecEngine) StopConversation(context.Context) error {
	return e.send(protocol.CommandStopConversation)
}

func (e *ExecEngine) send(command string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.stdin == nil {
		return errEngineClosed
	}
	data, err := json.Marshal(protocol.AssistantCommand{Command: command, Timestamp: time.Now().UTC()})
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if _, err := e.stdin.Write(data); err != nil {
		if errors.Is(err, os.ErrClosed) {
			return errEngineClosed
		}
		return fmt.Errorf("write to assistant bridge: %w", err)
	}
	return nil
}

// Close closes the bridge's stdin, which a well-behaved bridge treats as a
// request to exit. Cancelling the Start context kills it outright.
func (e *ExecEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if e.stdin == nil {
		return nil
	}
	if err := e.stdin.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return err
	}
	return nil
}

// readEvents decodes JSON lines from r until EOF. Lines that fail to decode
// are logged and skipped.
func readEvents(ctx context.Context, r io.Reader, out chan<- Event, log *slog.Logger) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var wire protocol.AssistantEvent
		if err := json.Unmarshal(line, &wire); err != nil {
			log.Warn("invalid event line from assistant bridge", slog.String("error", err.Error()))
			continue
		}
		ev, err := Decode(wire)
		if err != nil {
			log.Warn("undecodable event from assistant bridge", slog.String("error", err.Error()))
			continue
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return scanner.Err()
}

type logWriter struct {
	log *slog.Logger
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.log.Info("assistant bridge", slog.String("stderr", string(p)))
	return len(p), nil
}
