package completion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"MultiChat/internal/config"
)

// Overrides replaces platform defaults for one request. A nil field keeps the
// default, so an explicit zero (temperature 0, empty system prompt) is honored.
type Overrides struct {
	Model            *string
	SystemPrompt     *string
	MaxTokens        *int64
	Temperature      *float64
	TopP             *float64
	FrequencyPenalty *float64
}

// Ptr returns a pointer to v, for filling Overrides.
func Ptr[T any](v T) *T {
	return &v
}

// request is a platform config with overrides applied.
type request struct {
	Model            string
	SystemPrompt     string
	MaxTokens        int64
	Temperature      float64
	TopP             float64
	FrequencyPenalty float64
	ExtraBody        map[string]any
}

func resolveRequest(cfg *config.PlatformConfig, ov Overrides) request {
	req := request{
		Model:            cfg.Model,
		SystemPrompt:     cfg.SystemPrompt,
		MaxTokens:        cfg.MaxTokens,
		Temperature:      cfg.Temperature,
		TopP:             cfg.TopP,
		FrequencyPenalty: cfg.FrequencyPenalty,
		ExtraBody:        cfg.ExtraBody,
	}
	// An empty model name is never valid, so it falls back like nil.
	if ov.Model != nil && *ov.Model != "" {
		req.Model = *ov.Model
	}
	if ov.SystemPrompt != nil {
		req.SystemPrompt = *ov.SystemPrompt
	}
	if ov.MaxTokens != nil {
		req.MaxTokens = *ov.MaxTokens
	}
	if ov.Temperature != nil {
		req.Temperature = *ov.Temperature
	}
	if ov.TopP != nil {
		req.TopP = *ov.TopP
	}
	if ov.FrequencyPenalty != nil {
		req.FrequencyPenalty = *ov.FrequencyPenalty
	}
	return req
}

func (r request) params(prompt string) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if r.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(r.SystemPrompt))
	}
	messages = append(messages, openai.UserMessage(prompt))

	params := openai.ChatCompletionNewParams{
		Model:            openai.ChatModel(r.Model),
		Messages:         messages,
		Temperature:      openai.Float(r.Temperature),
		TopP:             openai.Float(r.TopP),
		FrequencyPenalty: openai.Float(r.FrequencyPenalty),
	}
	if r.MaxTokens > 0 {
		params.MaxTokens = openai.Int(r.MaxTokens)
	}
	return params
}

// extraOptions sets each extra_body entry as a top-level body field. Keys are
// escaped so a name like "thinking.budget" stays one field.
func (r request) extraOptions() []option.RequestOption {
	opts := make([]option.RequestOption, 0, len(r.ExtraBody))
	for key, value := range r.ExtraBody {
		opts = append(opts, option.WithJSONSet(bodyPathKey.Replace(key), value))
	}
	return opts
}

// bodyPathKey escapes the path syntax WithJSONSet interprets in a key.
var bodyPathKey = strings.NewReplacer(
	`\`, `\\`,
	`.`, `\.`,
	`*`, `\*`,
	`?`, `\?`,
)

// chunkSource is the provider's raw chunk stream.
type chunkSource interface {
	Next() bool
	Current() openai.ChatCompletionChunk
	Err() error
	Close() error
}

// Stream yields the classified tokens of one chat completion in arrival
// order. It is finite, single-use and not safe for concurrent use.
type Stream struct {
	ctx     context.Context
	source  chunkSource
	client  *Client
	span    trace.Span
	start   time.Time
	attrs   []attribute.KeyValue
	pending []Event
	current Event
	err     error
	done    bool
}

// StreamChat opens a streaming completion for a single user prompt on the
// platform. Configuration failures come back as config errors; provider
// failures wrap ErrCompletion, here or later from Stream.Err.
func (c *Client) StreamChat(ctx context.Context, platform, prompt string, ov Overrides) (*Stream, error) {
	cfg, err := c.resolver.PlatformConfig(platform)
	if err != nil {
		return nil, err
	}
	req := resolveRequest(cfg, ov)

	attrs := []attribute.KeyValue{
		attribute.String("llm.platform", platform),
		attribute.String("llm.model", req.Model),
	}
	ctx, span := c.tracer.Start(ctx, "chat_stream", trace.WithAttributes(attrs...))

	c.logger.Info("opening chat stream", "platform", platform, "model", req.Model,
		"system_prompt", req.SystemPrompt != "", "extra_body_keys", len(req.ExtraBody))

	start := time.Now()
	provider := c.newProvider(cfg)
	raw := provider.Chat.Completions.NewStreaming(ctx, req.params(prompt), req.extraOptions()...)
	if err := raw.Err(); err != nil {
		_ = raw.Close()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		c.logger.Error("failed to open chat stream", "platform", platform, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrCompletion, err)
	}

	return &Stream{
		ctx:    ctx,
		source: raw,
		client: c,
		span:   span,
		start:  start,
		attrs:  attrs,
	}, nil
}

// Next advances to the next token. It returns false when the provider closes
// the stream or an error occurs; check Err afterwards.
func (s *Stream) Next() bool {
	for len(s.pending) == 0 {
		if s.done {
			return false
		}
		if !s.source.Next() {
			if err := s.source.Err(); err != nil {
				s.err = fmt.Errorf("%w: %w", ErrCompletion, err)
			}
			s.finish()
			return false
		}
		chunk := s.source.Current()
		s.recordUsage(chunk)
		s.pending = chunkEvents(chunk)
	}

	s.current, s.pending = s.pending[0], s.pending[1:]
	if s.client.streamEvents != nil {
		s.client.streamEvents.Add(s.ctx, 1, metric.WithAttributes(
			append(s.attrs, attribute.String("channel", s.current.Kind.String()))...,
		))
	}
	return true
}

// Current returns the token Next advanced to.
func (s *Stream) Current() Event {
	return s.current
}

// Err returns the error that ended the stream, if any.
func (s *Stream) Err() error {
	return s.err
}

// Close releases the connection. Closing an exhausted stream is a no-op.
func (s *Stream) Close() error {
	if s.done {
		return nil
	}
	return s.finish()
}

func (s *Stream) finish() error {
	s.done = true
	s.pending = nil
	err := s.source.Close()

	s.client.recordDuration(s.ctx, s.start, append(s.attrs, attribute.String("llm.operation", "chat_stream"))...)
	if s.err != nil {
		s.span.RecordError(s.err)
		s.span.SetStatus(codes.Error, s.err.Error())
		s.client.logger.Error("chat stream failed", "error", s.err)
	}
	s.span.End()
	return err
}

func (s *Stream) recordUsage(chunk openai.ChatCompletionChunk) {
	usage := chunk.Usage
	if usage.TotalTokens == 0 || s.client.usageTokens == nil {
		return
	}
	s.client.usageTokens.Add(s.ctx, usage.PromptTokens, metric.WithAttributes(append(s.attrs, attribute.String("kind", "prompt"))...))
	s.client.usageTokens.Add(s.ctx, usage.CompletionTokens, metric.WithAttributes(append(s.attrs, attribute.String("kind", "completion"))...))
}
