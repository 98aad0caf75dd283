// Package registration makes sure the assistant device exists in the cloud
// device registry before a conversation starts.
package registration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Device is the body of a create request.
type Device struct {
	ID      string `json:"id"`
	ModelID string `json:"model_id"`
}

// StatusError is returned when the registry answers with an unexpected status.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s device: unexpected status %d: %s", e.Op, e.StatusCode, e.Body)
}

// Client talks to the device registry of one project.
type Client struct {
	Base   string
	HTTP   *http.Client
	log    *slog.Logger
	tracer trace.Tracer
}

// BaseURL builds the per-project registry root from the API endpoint.
func BaseURL(endpoint, projectID string) string {
	return strings.TrimRight(endpoint, "/") + "/projects/" + url.PathEscape(projectID)
}

func New(base string, httpClient *http.Client, log *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		Base:   strings.TrimRight(base, "/"),
		HTTP:   httpClient,
		log:    log.With(slog.String("component", "registration")),
		tracer: otel.Tracer("github.com/loqalabs/jarvis/registration"),
	}
}

// Ensure looks the device up and creates it when the registry reports it
// missing. It reports whether a create request was issued. There is no retry.
func (c *Client) Ensure(ctx context.Context, dev Device) (created bool, err error) {
	ctx, span := c.tracer.Start(ctx, "registration.ensure",
		trace.WithAttributes(attribute.String("device.id", dev.ID), attribute.String("device.model_id", dev.ModelID)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	exists, err := c.exists(ctx, dev.ID)
	if err != nil {
		return false, err
	}
	if exists {
		c.log.Info("device already registered", slog.String("device_id", dev.ID))
		return false, nil
	}

	c.log.Info("registering device", slog.String("device_id", dev.ID), slog.String("model_id", dev.ModelID))
	if err := c.create(ctx, dev); err != nil {
		return false, err
	}
	c.log.Info("device registered", slog.String("device_id", dev.ID))
	return true, nil
}

func (c *Client) exists(ctx context.Context, deviceID string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Base+"/devices/"+url.PathEscape(deviceID), nil)
	if err != nil {
		return false, fmt.Errorf("build lookup request: %w", err)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return false, fmt.Errorf("lookup device: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return true, nil
	default:
		return false, &StatusError{Op: "lookup", StatusCode: resp.StatusCode, Body: readBody(resp.Body)}
	}
}

func (c *Client) create(ctx context.Context, dev Device) error {
	payload, err := json.Marshal(dev)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Base+"/devices", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("create device: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &StatusError{Op: "create", StatusCode: resp.StatusCode, Body: readBody(resp.Body)}
	}
	return nil
}

func readBody(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, 64<<10))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}
