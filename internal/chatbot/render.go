package chatbot

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"MultiChat/internal/session"
)

const (
	thinkingMarker     = "[thinking...]"
	thinkingDoneMarker = "[thinking done]"
)

type styles struct {
	title     lipgloss.Style
	prompt    lipgloss.Style
	marker    lipgloss.Style
	reasoning lipgloss.Style
	user      lipgloss.Style
	assistant lipgloss.Style
	errorText lipgloss.Style
	dim       lipgloss.Style
}

// newStyles binds styles to the renderer of the output they are printed on,
// so a non-terminal writer gets plain text.
func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		title:     r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		prompt:    r.NewStyle().Foreground(lipgloss.Color("14")),
		marker:    r.NewStyle().Italic(true).Foreground(lipgloss.Color("13")),
		reasoning: r.NewStyle().Foreground(lipgloss.Color("8")),
		user:      r.NewStyle().Bold(true).Foreground(lipgloss.Color("10")),
		assistant: r.NewStyle().Bold(true).Foreground(lipgloss.Color("11")),
		errorText: r.NewStyle().Foreground(lipgloss.Color("9")),
		dim:       r.NewStyle().Foreground(lipgloss.Color("8")),
	}
}

func (cb *ChatBot) markdownRenderer() *glamour.TermRenderer {
	if cb.markdown != nil {
		return cb.markdown
	}
	style := glamour.WithAutoStyle()
	if cb.markdownStyle != "" {
		style = glamour.WithStylePath(cb.markdownStyle)
	}
	renderer, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(80))
	if err != nil {
		cb.logger.Warn("failed to create markdown renderer", "error", err)
		return nil
	}
	cb.markdown = renderer
	return renderer
}

func (cb *ChatBot) renderMarkdown(content string) string {
	if r := cb.markdownRenderer(); r != nil {
		if out, err := r.Render(content); err == nil {
			return out
		}
	}
	return content + "\n"
}

// replay prints a stored conversation, oldest first.
func (cb *ChatBot) replay(messages []session.Message) {
	for _, msg := range messages {
		switch msg.Role {
		case session.RoleUser:
			cb.printf("%s %s\n", cb.styles.user.Render("[user]:"), msg.Content)
		case session.RoleAssistant:
			label := "[assistant] (" + orUnknown(msg.Platform, "unknown platform") + " - " +
				orUnknown(msg.Model, "unknown model") + "):"
			cb.println(cb.styles.assistant.Render(label))
			cb.printf("%s", cb.renderMarkdown(msg.Content))
		default:
			cb.printf("%s %s\n", cb.styles.dim.Render("["+string(msg.Role)+"]:"), msg.Content)
		}
	}
}

func orUnknown(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

func (cb *ChatBot) errorf(format string, args ...any) {
	cb.println(cb.styles.errorText.Render(strings.TrimRight(fmt.Sprintf(format, args...), "\n")))
}
