package chatbot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"MultiChat/internal/cache"
	"MultiChat/internal/export"
)

var errInvalidChoice = errors.New("invalid selection")

// Run starts the menu loop. It returns when the operator quits or input
// runs out.
func (cb *ChatBot) Run(ctx context.Context) error {
	cb.println(cb.styles.title.Render("=== MultiChat ==="))
	cb.ensurePlatform()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		cb.printMenu()
		choice, ok := cb.prompt("Choice: ")
		if !ok {
			cb.println()
			break
		}

		switch choice {
		case "1":
			cb.selectPlatform()
		case "2":
			cb.selectModel(ctx)
		case "3":
			cb.testConnection(ctx)
		case "4":
			cb.browseSessions(ctx)
		case "5":
			cb.newSession(ctx)
		case "q", "Q":
			cb.println("Goodbye!")
			return nil
		case "":
		default:
			cb.errorf("unknown option %q", choice)
		}
	}

	cb.println("Goodbye!")
	return nil
}

func (cb *ChatBot) printMenu() {
	cb.println()
	cb.println(cb.styles.dim.Render(fmt.Sprintf("platform: %s | model: %s | session: %s",
		orUnknown(cb.state.Platform, "none"), orUnknown(cb.state.Model, "default"), shortID(cb.state.SessionID))))
	cb.println("1. Select platform")
	cb.println("2. Select model")
	cb.println("3. Test connection")
	cb.println("4. Browse sessions")
	cb.println("5. New session")
	cb.println("q. Quit")
}

// ensurePlatform falls back to the first configured platform when none is
// selected.
func (cb *ChatBot) ensurePlatform() {
	if cb.state.Platform != "" {
		if cb.state.Model == "" {
			cb.state.Model = cb.defaultModel(cb.state.Platform)
		}
		return
	}
	names, err := cb.platforms.Platforms()
	if err != nil {
		cb.errorf("%v", err)
		return
	}
	if len(names) == 0 {
		cb.errorf("no platforms configured")
		return
	}
	cb.state.Platform = names[0]
	cb.state.Model = cb.defaultModel(names[0])
}

// defaultModel returns the platform's configured model, or "" when the
// platform cannot be resolved yet.
func (cb *ChatBot) defaultModel(platform string) string {
	cfg, err := cb.platforms.PlatformConfig(platform)
	if err != nil {
		cb.errorf("%v", err)
		return ""
	}
	return cfg.Model
}

func (cb *ChatBot) selectPlatform() {
	names, err := cb.platforms.Platforms()
	if err != nil {
		cb.errorf("%v", err)
		return
	}
	cb.println("Available platforms:")
	for i, name := range names {
		cb.printf("  %d. %s\n", i+1, name)
	}
	input, ok := cb.prompt("Platform name or number: ")
	if !ok || input == "" {
		return
	}

	name := input
	if i, err := parseChoice(input, len(names)); err == nil {
		name = names[i]
	}
	found := false
	for _, n := range names {
		if n == name {
			found = true
			break
		}
	}
	if !found {
		cb.errorf("platform %q does not exist", input)
		return
	}

	cb.state.Platform = name
	cb.state.Model = cb.defaultModel(name)
	cb.printf("Switched to platform %s (model %s)\n", name, orUnknown(cb.state.Model, "default"))
}

// listModels returns the platform's models, from the cache when fresh.
func (cb *ChatBot) listModels(ctx context.Context, platform string) ([]string, error) {
	cfg, err := cb.platforms.PlatformConfig(platform)
	if err != nil {
		return nil, err
	}
	key := cache.GenerateCacheKey(platform, cfg.BaseURL)
	if models, ok := cb.models.Get(key); ok {
		cb.logger.Debug("model list cache hit", "platform", platform)
		return models, nil
	}

	result := cb.completer.Connect(ctx, platform)
	if !result.Success {
		return nil, errors.New(result.Message)
	}
	cb.models.Store(key, result.Models)
	return result.Models, nil
}

func (cb *ChatBot) selectModel(ctx context.Context) {
	if cb.state.Platform == "" {
		cb.errorf("select a platform first")
		return
	}
	cb.printf("Models available on %s:\n", cb.state.Platform)
	models, err := cb.listModels(ctx, cb.state.Platform)
	if err != nil {
		cb.errorf("%v", err)
		return
	}
	if len(models) == 0 {
		cb.println("no models listed")
		return
	}
	for i, m := range models {
		cb.printf("  %d. %s\n", i+1, m)
	}
	input, ok := cb.prompt("Model number: ")
	if !ok || input == "" {
		return
	}
	i, err := parseChoice(input, len(models))
	if err != nil {
		cb.errorf("%v", err)
		return
	}
	cb.state.Model = models[i]
	cb.printf("Using model %s\n", cb.state.Model)
}

func (cb *ChatBot) testConnection(ctx context.Context) {
	if cb.state.Platform == "" {
		cb.errorf("select a platform first")
		return
	}
	result := cb.completer.Connect(ctx, cb.state.Platform)
	cfg, cfgErr := cb.platforms.PlatformConfig(cb.state.Platform)
	if !result.Success {
		// Drop any listing cached before the failure.
		if cfgErr == nil {
			cb.models.Invalidate(cache.GenerateCacheKey(cb.state.Platform, cfg.BaseURL))
		}
		cb.errorf("%s", result.Message)
		return
	}
	if cfgErr == nil {
		cb.models.Store(cache.GenerateCacheKey(cb.state.Platform, cfg.BaseURL), result.Models)
	}
	cb.println(result.Message)
}

func (cb *ChatBot) browseSessions(ctx context.Context) {
	summaries, err := cb.history.Sessions(ctx)
	if err != nil {
		cb.errorf("failed to list sessions: %v", err)
		return
	}
	if len(summaries) == 0 {
		cb.println("No saved sessions.")
		return
	}

	cb.println("Saved sessions:")
	cb.println(cb.styles.dim.Render("#\tid\ttitle\tcreated\tupdated\tmessages"))
	for i, s := range summaries {
		cb.printf("%d.\t[%s] %s\t%s\t%s\t%d\n", i+1, shortID(s.ID), s.Title,
			s.CreatedAt.Local().Format("2006-01-02 15:04"), s.UpdatedAt.Local().Format("2006-01-02 15:04"), s.MessageCount)
	}

	input, ok := cb.prompt("Session number: ")
	if !ok || input == "" {
		return
	}
	i, err := parseChoice(input, len(summaries))
	if err != nil {
		cb.errorf("%v", err)
		return
	}
	selected := summaries[i]
	cb.printf("Selected %q\n", selected.Title)

	cb.println("1. Continue conversation")
	cb.println("2. Delete session")
	cb.println("3. Rename session")
	cb.println("4. Export session")
	action, ok := cb.prompt("Choice: ")
	if !ok {
		return
	}
	switch action {
	case "1":
		cb.continueSession(ctx, selected.ID)
	case "2":
		if !cb.history.DeleteSession(ctx, selected.ID) {
			cb.errorf("failed to delete session")
			return
		}
		if cb.state.SessionID == selected.ID {
			cb.state.SessionID = ""
		}
		cb.println("Session deleted.")
	case "3":
		title, ok := cb.prompt("New title: ")
		if !ok || title == "" {
			return
		}
		if !cb.history.UpdateSessionTitle(ctx, selected.ID, title) {
			cb.errorf("failed to rename session")
			return
		}
		cb.printf("Renamed to %q\n", title)
	case "4":
		cb.exportSession(ctx, selected.ID)
	case "":
	default:
		cb.errorf("unknown option %q", action)
	}
}

func (cb *ChatBot) continueSession(ctx context.Context, sessionID string) {
	messages, err := cb.history.LoadChat(ctx, sessionID, 0)
	if err != nil {
		cb.errorf("failed to load session: %v", err)
		return
	}
	cb.state.SessionID = sessionID
	cb.replay(messages)
	cb.chat(ctx)
}

func (cb *ChatBot) newSession(ctx context.Context) {
	cb.state.SessionID = uuid.NewString()
	cb.logger.Info("created new session", "session_id", cb.state.SessionID, "platform", cb.state.Platform)
	cb.printf("%s platform, %s model\n", orUnknown(cb.state.Platform, "no"), orUnknown(cb.state.Model, "default"))
	cb.chat(ctx)
}

// chat runs turns on the selected session until the operator submits an
// empty prompt or a turn fails.
func (cb *ChatBot) chat(ctx context.Context) {
	cb.println(cb.styles.dim.Render("(submit an empty line to return to the menu)"))
	for {
		_, err := cb.RunTurn(ctx, cb.state)
		switch {
		case err == nil:
			continue
		case errors.Is(err, ErrEmptyPrompt):
			return
		default:
			cb.errorf("%v", err)
			return
		}
	}
}

func (cb *ChatBot) exportSession(ctx context.Context, sessionID string) {
	format, ok := cb.prompt("Format (md/yaml/json) [md]: ")
	if !ok {
		return
	}
	if format == "" {
		format = "md"
	}
	exporter, err := export.NewExporter(strings.ToLower(format))
	if err != nil {
		cb.errorf("%v", err)
		return
	}

	defaultPath := fmt.Sprintf("session_%s.%s", shortID(sessionID), exporter.Extension())
	path, ok := cb.prompt(fmt.Sprintf("File [%s]: ", defaultPath))
	if !ok {
		return
	}
	if path == "" {
		path = defaultPath
	}

	if err := cb.writeTranscript(ctx, sessionID, exporter, path); err != nil {
		cb.errorf("%v", err)
		return
	}
	cb.printf("Exported to %s\n", path)
}

func (cb *ChatBot) writeTranscript(ctx context.Context, sessionID string, exporter export.Exporter, path string) error {
	summary, err := cb.history.Session(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	messages, err := cb.history.LoadChat(ctx, sessionID, 0)
	if err != nil {
		return fmt.Errorf("failed to load messages: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	if err := exporter.Export(&export.Transcript{Session: *summary, Messages: messages}, f); err != nil {
		f.Close()
		return fmt.Errorf("failed to export session: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close export file: %w", err)
	}
	cb.logger.Info("session exported", "session_id", sessionID, "path", path, "messages", len(messages))
	return nil
}

// parseChoice turns a 1-based menu number into an index below n.
func parseChoice(input string, n int) (int, error) {
	i, err := strconv.Atoi(strings.TrimSpace(input))
	if err != nil || i < 1 || i > n {
		return 0, fmt.Errorf("%w: %q", errInvalidChoice, input)
	}
	return i - 1, nil
}

func shortID(id string) string {
	if id == "" {
		return "none"
	}
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
