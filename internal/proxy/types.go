package proxy

import "encoding/json"

// DefaultMaxTokens caps every completion request.
const DefaultMaxTokens = 1024

// ChatRequest is the OpenAI-compatible chat completion request.
type ChatRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Messages  []Message `json:"messages"`
	Stream    bool      `json:"stream,omitempty"`
}

// Message is one chat message. System messages carry plain text; user
// messages carry an ordered list of content parts.
type Message struct {
	Role    string
	Text    string
	Content []ContentPart
}

func (m Message) MarshalJSON() ([]byte, error) {
	if m.Content != nil {
		return json.Marshal(struct {
			Role    string        `json:"role"`
			Content []ContentPart `json:"content"`
		}{m.Role, m.Content})
	}
	return json.Marshal(struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}{m.Role, m.Text})
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Role = raw.Role
	if len(raw.Content) > 0 && raw.Content[0] == '[' {
		return json.Unmarshal(raw.Content, &m.Content)
	}
	if len(raw.Content) > 0 {
		return json.Unmarshal(raw.Content, &m.Text)
	}
	return nil
}

// SystemMessage returns a system message with plain text content.
func SystemMessage(text string) Message {
	return Message{Role: "system", Text: text}
}

// UserMessage returns a user message made of content parts.
func UserMessage(parts []ContentPart) Message {
	return Message{Role: "user", Content: parts}
}

// ContentPart is either inline text or an image reference.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL references an image by URL or data URL.
type ImageURL struct {
	URL string `json:"url"`
}

// TextPart builds a text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: "text", Text: text}
}

// ImagePart builds an image content part.
func ImagePart(url string) ContentPart {
	return ContentPart{Type: "image_url", ImageURL: &ImageURL{URL: url}}
}

// Usage is the token accounting reported by the provider.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

// Completion is the final result of a request.
type Completion struct {
	Text  string
	Usage *Usage
}

// completionResponse mirrors the non-streaming response body.
type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
}

// streamFrame mirrors one SSE data frame.
type streamFrame struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
}

// EventKind tags a StreamEvent.
type EventKind int

const (
	EventChunk EventKind = iota
	EventCompleted
	EventFailed
)

func (k EventKind) String() string {
	switch k {
	case EventChunk:
		return "chunk"
	case EventCompleted:
		return "completed"
	case EventFailed:
		return "failed"
	}
	return "unknown"
}

// StreamEvent is delivered in order for one stream. Chunk events carry the
// full accumulated text so far. Exactly one Completed or Failed event ends
// the stream.
type StreamEvent struct {
	Kind  EventKind
	Text  string
	Usage *Usage
	Err   error
}

// Model represents a model entry returned by the /models endpoint.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created,omitempty"`
	OwnedBy string `json:"owned_by,omitempty"`
}

// ModelList is the response from /models.
type ModelList struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}
