package completion

import (
	"encoding/json"

	"github.com/openai/openai-go"
)

// EventKind tells which channel a streamed token belongs to.
type EventKind int

const (
	// EventIgnored is the zero kind. Frames that carry neither channel map to
	// it and are never handed to stream consumers.
	EventIgnored EventKind = iota
	EventContent
	EventReasoning
)

func (k EventKind) String() string {
	switch k {
	case EventContent:
		return "content"
	case EventReasoning:
		return "reasoning"
	default:
		return "ignored"
	}
}

// Event is one classified token from a chat stream.
type Event struct {
	Kind EventKind
	Text string
}

// ContentEvent returns an answer token.
func ContentEvent(text string) Event {
	return Event{Kind: EventContent, Text: text}
}

// ReasoningEvent returns a reasoning token.
func ReasoningEvent(text string) Event {
	return Event{Kind: EventReasoning, Text: text}
}

// Delta is the part of a streamed choice delta that gets classified.
// Reasoning-capable providers send their thinking in reasoning_content; some
// gateways use reasoning instead.
type Delta struct {
	Content          string `json:"content"`
	ReasoningContent string `json:"reasoning_content"`
	Reasoning        string `json:"reasoning"`
}

// ParseDelta decodes a raw delta object.
func ParseDelta(raw string) (Delta, error) {
	var d Delta
	if raw == "" {
		return d, nil
	}
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return Delta{}, err
	}
	return d, nil
}

// Events classifies the delta. Content comes before reasoning when a single
// delta carries both; a delta with neither yields nothing.
func (d Delta) Events() []Event {
	var events []Event
	if d.Content != "" {
		events = append(events, ContentEvent(d.Content))
	}
	reasoning := d.ReasoningContent
	if reasoning == "" {
		reasoning = d.Reasoning
	}
	if reasoning != "" {
		events = append(events, ReasoningEvent(reasoning))
	}
	return events
}

// chunkEvents adapts one provider chunk. Chunks without choices (keep-alive or
// usage-only frames) yield nothing.
func chunkEvents(chunk openai.ChatCompletionChunk) []Event {
	if len(chunk.Choices) == 0 {
		return nil
	}
	choice := chunk.Choices[0]

	delta, err := ParseDelta(choice.Delta.RawJSON())
	if err != nil {
		delta = Delta{Content: choice.Delta.Content}
	}
	return delta.Events()
}
