// Package forwarder delivers telemetry events to a downstream processing
// service over HTTP. It is the default handler implementation wired into the
// registry: one forwarder serves every handler name by posting to a
// per-handler path under its base URL.
package forwarder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fleetgrid/telemetry-deadletter/pkg/observability/logger"
	"github.com/fleetgrid/telemetry-deadletter/pkg/telemetry"
)

const (
	defaultOperationTimeout = 10 * time.Second

	headerCorrelationID = "X-Correlation-ID"
	headerContentType   = "Content-Type"
	contentTypeJSON     = "application/json"
)

// Config configures the downstream connection.
type Config struct {
	// BaseURL is the downstream service root; handler name is appended as
	// the final path segment.
	BaseURL string
	// PathPrefix sits between the base URL and the handler name, defaults
	// to "/ingest".
	PathPrefix string
	// Token, when set, is sent as a bearer token.
	Token string
	// OperationTimeout bounds one delivery.
	OperationTimeout time.Duration
	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
}

// Forwarder posts event envelopes downstream.
type Forwarder struct {
	cfg        Config
	httpClient *http.Client
	log        logger.Logger
}

// New creates a forwarder.
func New(cfg Config, log logger.Logger) (*Forwarder, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("forwarder base url is required")
	}
	if strings.TrimSpace(cfg.PathPrefix) == "" {
		cfg.PathPrefix = "/ingest"
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = defaultOperationTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.OperationTimeout}
	}

	return &Forwarder{cfg: cfg, httpClient: httpClient, log: log}, nil
}

// Handler adapts the forwarder to one handler name for registry wiring.
func (f *Forwarder) Handler(name string) telemetry.Handler {
	return telemetry.HandlerFunc{
		HandlerName: name,
		Fn: func(ctx context.Context, event *telemetry.Event) error {
			return f.Forward(ctx, event)
		},
	}
}

// Handlers returns one handler per known telemetry event name.
func (f *Forwarder) Handlers() []telemetry.Handler {
	names := []string{
		telemetry.HandlerSpeed,
		telemetry.HandlerDriverCard,
		telemetry.HandlerDriveState,
		telemetry.HandlerOdometer,
		telemetry.HandlerTemperature,
	}
	handlers := make([]telemetry.Handler, 0, len(names))
	for _, name := range names {
		handlers = append(handlers, f.Handler(name))
	}
	return handlers
}

// Forward posts one event envelope to the downstream path for its name. Any
// non-2xx response is a delivery failure.
func (f *Forwarder) Forward(ctx context.Context, event *telemetry.Event) error {
	if event == nil {
		return fmt.Errorf("event is required")
	}
	if err := event.Validate(); err != nil {
		return err
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	cctx, cancel := context.WithTimeout(ctx, f.cfg.OperationTimeout)
	defer cancel()

	endpoint := strings.TrimRight(f.cfg.BaseURL, "/") + f.cfg.PathPrefix + "/" + event.Name
	req, err := http.NewRequestWithContext(cctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set(headerContentType, contentTypeJSON)
	if correlationID, ok := logger.CorrelationIDFromContext(ctx); ok {
		req.Header.Set(headerCorrelationID, correlationID)
	}
	if f.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+f.cfg.Token)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("forward %s event for %s: %w", event.Name, event.IMEI, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("downstream rejected %s event with status %d: %s",
			event.Name, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}

// Close releases resources.
func (f *Forwarder) Close() error {
	return nil
}
