package chatbot

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/korylprince/tevor-concierge/api"
)

// HistoryEntry is one prior transcript entry sent as conversation context
type HistoryEntry struct {
	Role     string        `json:"role"`
	Content  string        `json:"content"`
	Metadata *api.Metadata `json:"metadata,omitempty"`
}

// ChatRequest is the request body for both the message and stream endpoints
type ChatRequest struct {
	ProjectID           string         `json:"project_id"`
	Message             string         `json:"message"`
	ConversationHistory []HistoryEntry `json:"conversation_history,omitempty"`
}

// ModelInfo describes the model that answered
type ModelInfo struct {
	ModelName     string `json:"model_name"`
	Provider      string `json:"provider"`
	QuickResponse bool   `json:"quick_response,omitempty"`
}

// ChatResponse is the response from the message endpoint
type ChatResponse struct {
	ID         ID              `json:"id"`
	MessageID  string          `json:"message_id"`
	Response   string          `json:"response"`
	Confidence *float64        `json:"confidence,omitempty"`
	RAGContext json.RawMessage `json:"rag_context,omitempty"`
	CreatedAt  Timestamp       `json:"created_at"`
	ModelInfo  *ModelInfo      `json:"model_info,omitempty"`
}

// FrameType is the type of a streaming frame
type FrameType string

// Frame types. FrameStart is sent by some backends and carries nothing.
const (
	FrameStart   FrameType = "start"
	FrameContent FrameType = "content"
	FrameEnd     FrameType = "end"
	FrameError   FrameType = "error"
)

// StreamFrame is one decoded frame of a streaming response.
// A frame with a non-nil Err reports a transport failure and is always the last frame.
type StreamFrame struct {
	Type      FrameType `json:"type"`
	Text      string    `json:"text,omitempty"`
	MessageID string    `json:"message_id,omitempty"`
	Error     string    `json:"error,omitempty"`
	Err       error     `json:"-"`
}

// HistoryMessage is a stored message returned by the history endpoint
type HistoryMessage struct {
	ID         ID              `json:"id"`
	Type       string          `json:"type"`
	Content    string          `json:"content"`
	Timestamp  Timestamp       `json:"timestamp"`
	Confidence *float64        `json:"confidence,omitempty"`
	RAGContext json.RawMessage `json:"rag_context,omitempty"`
}

// Message converts h to a transcript Message
func (h *HistoryMessage) Message() *api.Message {
	role := api.Role(h.Type)
	origin := api.OriginAI
	switch role {
	case api.RoleUser:
		origin = api.OriginUser
	case api.RoleSystem:
		origin = api.OriginSystem
	case api.RoleAssistant:
	default:
		role = api.RoleAssistant
	}

	return &api.Message{
		ID:        string(h.ID),
		Role:      role,
		Text:      h.Content,
		CreatedAt: h.Timestamp.Time,
		Metadata: &api.Metadata{
			Origin:     origin,
			RemoteID:   string(h.ID),
			Confidence: h.Confidence,
		},
	}
}

// HistoryResponse is the response from the history endpoint
type HistoryResponse struct {
	Messages  []*HistoryMessage `json:"messages"`
	Total     int               `json:"total"`
	ProjectID string            `json:"project_id"`
}

// Project is a project as returned by the backend
type Project struct {
	ProjectID    string    `json:"project_id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	CreatedAt    Timestamp `json:"created_at"`
	UpdatedAt    Timestamp `json:"updated_at,omitempty"`
	Address      string    `json:"address,omitempty"`
	Source       string    `json:"source,omitempty"`
	FileCount    int       `json:"file_count,omitempty"`
	PhotoCount   int       `json:"photo_count,omitempty"`
	MessageCount int       `json:"message_count,omitempty"`
}

// ID is an identifier the backend sends as either a JSON number or a string
type ID string

// UnmarshalJSON implements json.Unmarshaler
func (i *ID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*i = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*i = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*i = ID(n.String())
	return nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// epochMillisThreshold separates epoch seconds from epoch milliseconds (2001-09-09 in milliseconds)
const epochMillisThreshold = 1e12

// Timestamp is a time the backend sends with or without a zone offset, or as epoch seconds or milliseconds.
// Times without an offset are UTC.
type Timestamp struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	if raw == "null" {
		t.Time = time.Time{}
		return nil
	}

	if !strings.HasPrefix(raw, `"`) {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("invalid timestamp %s: %w", raw, err)
		}
		if f >= epochMillisThreshold {
			t.Time = time.UnixMilli(int64(f)).UTC()
			return nil
		}
		sec, frac := math.Modf(f)
		t.Time = time.Unix(int64(sec), int64(frac*1e9)).UTC()
		return nil
	}

	s, err := strconv.Unquote(raw)
	if err != nil {
		return fmt.Errorf("invalid timestamp %s: %w", raw, err)
	}
	if strings.TrimSpace(s) == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return &time.ParseError{Layout: time.RFC3339, Value: s, Message: ": unrecognized timestamp"}
}

// MarshalJSON implements json.Marshaler
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}
