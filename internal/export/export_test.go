package export

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"MultiChat/internal/session"
)

func sampleTranscript() *Transcript {
	created := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	return &Transcript{
		Session: session.Summary{
			ID:           "3f2a",
			Title:        "What is 2+2?",
			CreatedAt:    created,
			UpdatedAt:    created.Add(time.Minute),
			MessageCount: 2,
		},
		Messages: []session.Message{
			{Role: session.RoleUser, Content: "What is 2+2?", Timestamp: created},
			{
				Role:      session.RoleAssistant,
				Content:   "LetmethinkTheansweris4",
				Platform:  "siliconflow",
				Model:     "glm",
				Timestamp: created.Add(time.Minute),
			},
		},
	}
}

func TestNewExporter(t *testing.T) {
	tests := []struct {
		format  string
		ext     string
		wantErr bool
	}{
		{format: "md", ext: "md"},
		{format: "markdown", ext: "md"},
		{format: "yaml", ext: "yaml"},
		{format: "yml", ext: "yaml"},
		{format: "json", ext: "json"},
		{format: "csv", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			exp, err := NewExporter(tt.format)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.ext, exp.Extension())
		})
	}
}

func TestYAMLExporterPreservesTranscript(t *testing.T) {
	var buf bytes.Buffer
	want := sampleTranscript()
	require.NoError(t, (&YAMLExporter{}).Export(want, &buf))

	assert.Contains(t, buf.String(), "session_id: 3f2a")
	assert.Contains(t, buf.String(), "platform: siliconflow")

	var got Transcript
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &got))
	if diff := cmp.Diff(*want, got); diff != "" {
		t.Errorf("YAML transcript mismatch (-want +got):\n%s", diff)
	}
}

func TestJSONExporterOmitsEmptyLabels(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&JSONExporter{}).Export(sampleTranscript(), &buf))

	var raw struct {
		Messages []map[string]any `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &raw))
	require.Len(t, raw.Messages, 2)
	assert.NotContains(t, raw.Messages[0], "platform")
	assert.Equal(t, "glm", raw.Messages[1]["model"])
}

func TestMarkdownExporter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&MarkdownExporter{}).Export(sampleTranscript(), &buf))
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, "# What is 2+2?\n"))
	assert.Contains(t, out, "- Messages: 2")
	assert.Contains(t, out, "## User\n\nWhat is 2+2?")
	assert.Contains(t, out, "## Assistant (siliconflow / glm)\n\nLetmethinkTheansweris4")
	assert.Less(t, strings.Index(out, "## User"), strings.Index(out, "## Assistant"))
}

func TestMarkdownExporterSystemAndUntitled(t *testing.T) {
	tr := &Transcript{
		Session:  session.Summary{ID: "abc"},
		Messages: []session.Message{{Role: session.RoleSystem, Content: "rules"}},
	}
	var buf bytes.Buffer
	require.NoError(t, (&MarkdownExporter{}).Export(tr, &buf))

	assert.Contains(t, buf.String(), "# abc\n")
	assert.Contains(t, buf.String(), "## System\n\nrules")
}
