// Package chatbot drives conversations: one streamed turn at a time, and the
// numbered menu shell around it.
package chatbot

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"MultiChat/internal/cache"
	"MultiChat/internal/completion"
	"MultiChat/internal/config"
	"MultiChat/internal/session"
)

// ErrEmptyPrompt is returned by RunTurn when the operator enters nothing.
// Nothing is persisted in that case.
var ErrEmptyPrompt = errors.New("empty prompt")

// EventStream is a finite sequence of classified tokens.
type EventStream interface {
	Next() bool
	Current() completion.Event
	Err() error
	Close() error
}

// Completer opens chat streams and tests platform connections.
type Completer interface {
	StreamChat(ctx context.Context, platform, prompt string, ov completion.Overrides) (EventStream, error)
	Connect(ctx context.Context, platform string) completion.ConnectionResult
}

// History persists sessions and their messages.
type History interface {
	AddMessage(ctx context.Context, sessionID string, role session.Role, content, platform, model string) (int64, error)
	LoadChat(ctx context.Context, sessionID string, limit int) ([]session.Message, error)
	Sessions(ctx context.Context) ([]session.Summary, error)
	Session(ctx context.Context, sessionID string) (*session.Summary, error)
	DeleteSession(ctx context.Context, sessionID string) bool
	UpdateSessionTitle(ctx context.Context, sessionID, title string) bool
}

// Platforms lists and resolves the configured platforms.
type Platforms interface {
	Platforms() ([]string, error)
	PlatformConfig(platform string) (*config.PlatformConfig, error)
}

type clientCompleter struct {
	client *completion.Client
}

// FromClient adapts a completion client to the Completer interface.
func FromClient(client *completion.Client) Completer {
	return clientCompleter{client: client}
}

func (c clientCompleter) StreamChat(ctx context.Context, platform, prompt string, ov completion.Overrides) (EventStream, error) {
	stream, err := c.client.StreamChat(ctx, platform, prompt, ov)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

func (c clientCompleter) Connect(ctx context.Context, platform string) completion.ConnectionResult {
	return c.client.Connect(ctx, platform)
}

// ChatBot represents the interactive application
type ChatBot struct {
	completer Completer
	history   History
	platforms Platforms
	models    *cache.ModelCache
	logger    *slog.Logger

	in  *bufio.Scanner
	out io.Writer

	styles        styles
	markdownStyle string
	markdown      *glamour.TermRenderer

	state session.State
}

// Option configures a ChatBot.
type Option func(*ChatBot)

// WithIO sets where operator input is read from and output written to.
func WithIO(in io.Reader, out io.Writer) Option {
	return func(cb *ChatBot) {
		cb.in = bufio.NewScanner(in)
		cb.out = out
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(cb *ChatBot) {
		cb.logger = logger
	}
}

// WithModelCache sets the cache for listed models.
func WithModelCache(models *cache.ModelCache) Option {
	return func(cb *ChatBot) {
		cb.models = models
	}
}

// WithMarkdownStyle selects a glamour standard style ("dark", "light",
// "notty", ...) for replayed assistant messages. The default detects the
// terminal background.
func WithMarkdownStyle(style string) Option {
	return func(cb *ChatBot) {
		cb.markdownStyle = style
	}
}

// WithState sets the initial selection.
func WithState(state session.State) Option {
	return func(cb *ChatBot) {
		cb.state = state
	}
}

// NewChatBot creates a new ChatBot instance
func NewChatBot(completer Completer, history History, platforms Platforms, opts ...Option) *ChatBot {
	cb := &ChatBot{
		completer: completer,
		history:   history,
		platforms: platforms,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(cb)
	}
	if cb.in == nil || cb.out == nil {
		WithIO(strings.NewReader(""), io.Discard)(cb)
	}
	if cb.models == nil {
		cb.models = cache.NewModelCache(cache.DefaultTTL)
	}
	cb.styles = newStyles(lipgloss.NewRenderer(cb.out))
	return cb
}

// State returns the current selection.
func (cb *ChatBot) State() session.State {
	return cb.state
}

// printf writes to the operator. Output errors are not actionable mid-session.
func (cb *ChatBot) printf(format string, args ...any) {
	fmt.Fprintf(cb.out, format, args...)
}

func (cb *ChatBot) println(args ...any) {
	fmt.Fprintln(cb.out, args...)
}

// prompt asks for one line. ok is false once input is exhausted.
func (cb *ChatBot) prompt(label string) (line string, ok bool) {
	cb.printf("%s", cb.styles.prompt.Render(label))
	if !cb.in.Scan() {
		return "", false
	}
	return strings.TrimSpace(cb.in.Text()), true
}
