package export

import (
	"fmt"
	"io"
	"strings"

	"MultiChat/internal/session"
)

const timeLayout = "2006-01-02 15:04:05"

// MarkdownExporter exports transcripts as a readable Markdown document
type MarkdownExporter struct{}

// Export exports a transcript to Markdown format
func (e *MarkdownExporter) Export(transcript *Transcript, w io.Writer) error {
	var b strings.Builder

	title := transcript.Session.Title
	if title == "" {
		title = transcript.Session.ID
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "- Session: `%s`\n", transcript.Session.ID)
	fmt.Fprintf(&b, "- Created: %s\n", transcript.Session.CreatedAt.Format(timeLayout))
	fmt.Fprintf(&b, "- Updated: %s\n", transcript.Session.UpdatedAt.Format(timeLayout))
	fmt.Fprintf(&b, "- Messages: %d\n", len(transcript.Messages))

	for _, msg := range transcript.Messages {
		b.WriteString("\n---\n\n")
		b.WriteString(heading(msg))
		b.WriteString("\n\n")
		b.WriteString(msg.Content)
		b.WriteString("\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func heading(msg session.Message) string {
	switch msg.Role {
	case session.RoleUser:
		return "## User"
	case session.RoleAssistant:
		if msg.Platform != "" || msg.Model != "" {
			return fmt.Sprintf("## Assistant (%s / %s)", orUnknown(msg.Platform), orUnknown(msg.Model))
		}
		return "## Assistant"
	case "":
		return "## Message"
	default:
		return "## " + strings.ToUpper(string(msg.Role[:1])) + string(msg.Role[1:])
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// Extension returns the file extension for this format
func (e *MarkdownExporter) Extension() string {
	return "md"
}
