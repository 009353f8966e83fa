package export

import (
	"fmt"
	"io"

	"MultiChat/internal/session"
)

// Transcript is a stored session with its messages in order.
type Transcript struct {
	Session  session.Summary   `json:"session" yaml:"session"`
	Messages []session.Message `json:"messages" yaml:"messages"`
}

// Exporter defines the interface for all export formats
type Exporter interface {
	Export(transcript *Transcript, w io.Writer) error
	Extension() string
}

// NewExporter creates a new exporter based on format
func NewExporter(format string) (Exporter, error) {
	switch format {
	case "md", "markdown":
		return &MarkdownExporter{}, nil
	case "yaml", "yml":
		return &YAMLExporter{}, nil
	case "json":
		return &JSONExporter{}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s (supported: md, yaml, json)", format)
	}
}
