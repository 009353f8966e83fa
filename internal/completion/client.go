// Package completion talks to OpenAI-compatible chat-completion endpoints.
//
// Connect checks a platform by listing its models. StreamChat opens a
// streaming completion and hands back tokens already split into the content
// and reasoning channels.
package completion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"MultiChat/internal/config"
)

// ErrCompletion marks any provider failure: network, authentication, protocol
// or a malformed response.
var ErrCompletion = errors.New("completion request failed")

const instrumentationName = "MultiChat/internal/completion"

// PlatformResolver looks up platform configurations.
type PlatformResolver interface {
	PlatformConfig(platform string) (*config.PlatformConfig, error)
}

// ConnectionResult is the outcome of a connection test. It is always
// returned, never an error.
type ConnectionResult struct {
	Success  bool
	Platform string
	Message  string
	Models   []string
}

// Client issues requests to the platforms known to its resolver.
type Client struct {
	resolver   PlatformResolver
	httpClient *http.Client
	logger     *slog.Logger
	tracer     trace.Tracer

	requestDuration metric.Float64Histogram
	streamEvents    metric.Int64Counter
	usageTokens     metric.Int64Counter
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the HTTP client used for provider requests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the client's logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithTracer sets the tracer used for request spans.
func WithTracer(tracer trace.Tracer) ClientOption {
	return func(c *Client) {
		c.tracer = tracer
	}
}

// WithMeter sets the meter the client's instruments are created from.
func WithMeter(meter metric.Meter) ClientOption {
	return func(c *Client) {
		c.initInstruments(meter)
	}
}

// NewClient creates a client. Without options it logs to slog.Default and
// reports to the global OpenTelemetry providers.
func NewClient(resolver PlatformResolver, opts ...ClientOption) *Client {
	c := &Client{
		resolver: resolver,
		// No Timeout: a stream lasts as long as the provider keeps it open.
		httpClient: &http.Client{},
		logger:     slog.Default(),
		tracer:     otel.Tracer(instrumentationName),
	}
	c.initInstruments(otel.Meter(instrumentationName))

	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) initInstruments(meter metric.Meter) {
	var err error
	c.requestDuration, err = meter.Float64Histogram(
		"llm.request.duration",
		metric.WithDescription("Provider request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		c.requestDuration = nil
	}
	c.streamEvents, err = meter.Int64Counter(
		"llm.stream.events",
		metric.WithDescription("Streamed tokens by channel"),
	)
	if err != nil {
		c.streamEvents = nil
	}
	c.usageTokens, err = meter.Int64Counter(
		"llm.usage.tokens",
		metric.WithDescription("Token usage reported by the provider"),
	)
	if err != nil {
		c.usageTokens = nil
	}
}

func (c *Client) newProvider(cfg *config.PlatformConfig, extra ...option.RequestOption) openai.Client {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIToken),
		option.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/") + "/"),
		option.WithHTTPClient(c.httpClient),
		option.WithMaxRetries(0),
	}
	return openai.NewClient(append(opts, extra...)...)
}

func (c *Client) recordDuration(ctx context.Context, start time.Time, attrs ...attribute.KeyValue) {
	if c.requestDuration == nil {
		return
	}
	c.requestDuration.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(attrs...))
}

// ListModels returns the ids of the models the platform offers.
func (c *Client) ListModels(ctx context.Context, platform string) ([]string, error) {
	cfg, err := c.resolver.PlatformConfig(platform)
	if err != nil {
		return nil, err
	}

	ctx, span := c.tracer.Start(ctx, "list_models", trace.WithAttributes(
		attribute.String("llm.platform", platform),
	))
	defer span.End()

	start := time.Now()
	provider := c.newProvider(cfg)
	page, err := provider.Models.List(ctx)
	c.recordDuration(ctx, start, attribute.String("llm.platform", platform), attribute.String("llm.operation", "list_models"))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %w", ErrCompletion, err)
	}

	models := make([]string, 0, len(page.Data))
	for _, m := range page.Data {
		models = append(models, m.ID)
	}
	span.SetAttributes(attribute.Int("llm.models", len(models)))
	return models, nil
}

// Connect tests the platform by listing its models.
func (c *Client) Connect(ctx context.Context, platform string) ConnectionResult {
	models, err := c.ListModels(ctx, platform)
	switch {
	case errors.Is(err, config.ErrConfig):
		c.logger.Warn("connection test failed", "platform", platform, "error", err)
		return ConnectionResult{Platform: platform, Message: err.Error()}
	case err != nil:
		c.logger.Warn("connection test failed", "platform", platform, "error", err)
		return ConnectionResult{Platform: platform, Message: fmt.Sprintf("connection failed: %v", err)}
	}

	c.logger.Info("connection test succeeded", "platform", platform, "models", len(models))
	return ConnectionResult{
		Success:  true,
		Platform: platform,
		Message:  fmt.Sprintf("connected to %s, %d models available", platform, len(models)),
		Models:   models,
	}
}
