package chatbot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"MultiChat/internal/completion"
	"MultiChat/internal/session"
)

// TurnResult is what one completed turn produced.
type TurnResult struct {
	Prompt    string
	Reasoning string
	Content   string
}

// Reply is the text persisted for the assistant: reasoning then content,
// with no separator.
func (r TurnResult) Reply() string {
	return r.Reasoning + r.Content
}

// RunTurn reads one prompt from the operator, stores it, streams the reply
// while echoing it, and stores the reply tagged with the state's platform
// and model (the platform default when none is selected). If the stream
// fails the user message stays stored and the error is returned.
func (cb *ChatBot) RunTurn(ctx context.Context, state session.State) (*TurnResult, error) {
	if !state.HasSession() {
		return nil, fmt.Errorf("no session selected")
	}

	prompt, ok := cb.prompt("Your question: ")
	if !ok || prompt == "" {
		return nil, ErrEmptyPrompt
	}

	if _, err := cb.history.AddMessage(ctx, state.SessionID, session.RoleUser, prompt, "", ""); err != nil {
		return nil, fmt.Errorf("failed to save user message: %w", err)
	}

	var ov completion.Overrides
	model := state.Model
	if model != "" {
		ov.Model = completion.Ptr(model)
	} else if cfg, err := cb.platforms.PlatformConfig(state.Platform); err == nil {
		model = cfg.Model
	}

	start := time.Now()
	stream, err := cb.completer.StreamChat(ctx, state.Platform, prompt, ov)
	if err != nil {
		cb.logger.Error("failed to start turn", "session_id", state.SessionID, "platform", state.Platform, "error", err)
		return nil, err
	}
	defer stream.Close()

	var reasoning, content strings.Builder
	for stream.Next() {
		ev := stream.Current()
		switch ev.Kind {
		case completion.EventReasoning:
			if reasoning.Len() == 0 {
				cb.println(cb.styles.marker.Render(thinkingMarker))
			}
			reasoning.WriteString(ev.Text)
			cb.printf("%s", cb.styles.reasoning.Render(ev.Text))
		case completion.EventContent:
			if content.Len() == 0 {
				if reasoning.Len() > 0 {
					cb.println()
				}
				cb.println(cb.styles.marker.Render(thinkingDoneMarker))
			}
			content.WriteString(ev.Text)
			cb.printf("%s", ev.Text)
		}
	}
	cb.println()
	if err := stream.Err(); err != nil {
		cb.logger.Error("turn stream failed", "session_id", state.SessionID, "platform", state.Platform, "error", err)
		return nil, err
	}

	result := &TurnResult{
		Prompt:    prompt,
		Reasoning: reasoning.String(),
		Content:   content.String(),
	}
	if _, err := cb.history.AddMessage(ctx, state.SessionID, session.RoleAssistant, result.Reply(), state.Platform, model); err != nil {
		return nil, fmt.Errorf("failed to save assistant message: %w", err)
	}

	cb.logger.Info("turn completed",
		"session_id", state.SessionID,
		"platform", state.Platform,
		"model", model,
		"reasoning_chars", reasoning.Len(),
		"content_chars", content.Len(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}
