package voiceagent

import (
	"encoding/json"
	"fmt"
)

// Event types arriving on the agent socket as JSON text frames. Audio
// arrives as binary frames and never passes through ParseEvent.
const (
	EventFunctionCall        = "FunctionCallRequest"
	EventConversationText    = "ConversationText"
	EventUserStartedSpeaking = "UserStartedSpeaking"
	EventAgentAudioDone      = "AgentAudioDone"
	EventWelcome             = "Welcome"
	EventSettingsApplied     = "SettingsApplied"
	EventError               = "Error"
)

// Event is one decoded JSON message from the agent. Only the fields
// relevant to the event type are populated.
type Event struct {
	Type      string         `json:"type"`
	Functions []FunctionCall `json:"functions,omitempty"`

	// ConversationText
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`

	// Error
	Code        string `json:"code,omitempty"`
	Description string `json:"description,omitempty"`
}

// FunctionCall is one function invocation requested by the agent. The
// arguments arrive as a JSON object encoded into a string.
type FunctionCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Args decodes the argument string into a map. An empty argument string
// decodes to an empty map.
func (fc FunctionCall) Args() (map[string]any, error) {
	if fc.Arguments == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(fc.Arguments), &args); err != nil {
		return nil, fmt.Errorf("decode arguments for %s: %w", fc.Name, err)
	}
	return args, nil
}

// StringArg returns the named argument as a string, or "" when absent or
// not a string.
func StringArg(args map[string]any, name string) string {
	s, _ := args[name].(string)
	return s
}

// ParseEvent decodes a text frame. Frames without a type field are
// rejected.
func ParseEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("decode agent event: %w", err)
	}
	if ev.Type == "" {
		return Event{}, fmt.Errorf("agent event missing type")
	}
	return ev, nil
}

// FunctionCallResponse answers a FunctionCallRequest. Content is the
// result the agent reads back into its reasoning.
type FunctionCallResponse struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Name    string `json:"name"`
	Content string `json:"content"`
}

func NewFunctionCallResponse(id, name, content string) FunctionCallResponse {
	return FunctionCallResponse{Type: "FunctionCallResponse", ID: id, Name: name, Content: content}
}

// UpdatePrompt swaps the agent's instructions mid-session.
type UpdatePrompt struct {
	Type   string `json:"type"`
	Prompt string `json:"prompt"`
}

func NewUpdatePrompt(prompt string) UpdatePrompt {
	return UpdatePrompt{Type: "UpdatePrompt", Prompt: prompt}
}

// InjectAgentMessage makes the agent speak the given content next.
type InjectAgentMessage struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

func NewInjectAgentMessage(content string) InjectAgentMessage {
	return InjectAgentMessage{Type: "InjectAgentMessage", Content: content}
}

// KeepAlive holds the socket open during long silences.
type KeepAlive struct {
	Type string `json:"type"`
}

func NewKeepAlive() KeepAlive {
	return KeepAlive{Type: "KeepAlive"}
}
