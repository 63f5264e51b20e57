package rag

import (
	"encoding/json"

	"github.com/markdave123-py/autophile/internal/models"
)

type EventType string

const (
	EventThinking  EventType = "thinking"
	EventCitations EventType = "citations"
	EventContent   EventType = "content"
	EventDone      EventType = "done"
	EventError     EventType = "error"
)

// Thinking stages, in emission order.
const (
	StageSearching  = "searching"
	StageComplete   = "complete"
	StageReading    = "reading"
	StageGenerating = "generating"
)

// ContextPreview is a short look at one retrieved chunk while reading.
type ContextPreview struct {
	Page    int    `json:"page"`
	Section string `json:"section,omitempty"`
	Preview string `json:"preview"`
}

// Event is one typed record of the streaming protocol.
type Event struct {
	Type      EventType         `json:"type"`
	Stage     string            `json:"stage,omitempty"`
	Content   string            `json:"content,omitempty"`
	Context   []ContextPreview  `json:"context,omitempty"`
	Citations []models.Citation `json:"citations,omitempty"`
}

// MarshalJSON always writes the citations list on citations events, empty or not.
func (e Event) MarshalJSON() ([]byte, error) {
	if e.Type == EventCitations {
		cites := e.Citations
		if cites == nil {
			cites = []models.Citation{}
		}
		return json.Marshal(struct {
			Type      EventType         `json:"type"`
			Citations []models.Citation `json:"citations"`
		}{e.Type, cites})
	}
	type plain Event
	return json.Marshal(plain(e))
}

func thinking(stage, content string) Event {
	return Event{Type: EventThinking, Stage: stage, Content: content}
}
