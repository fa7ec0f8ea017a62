// Package telephony covers the media-stream boundary with the telephony
// provider: the websocket frame protocol, TwiML document generation, and
// the REST client for placing and redirecting calls.
package telephony

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Media stream event names.
const (
	EventStart = "start"
	EventMedia = "media"
	EventStop  = "stop"
	EventClear = "clear"
)

// StartPayload arrives once per stream and binds the stream to a call.
type StartPayload struct {
	StreamSID string `json:"streamSid"`
	CallSID   string `json:"callSid"`
}

// MediaPayload carries one frame of base64 mulaw 8kHz mono audio.
type MediaPayload struct {
	Payload string `json:"payload"`
}

// Frame is one inbound control message from the media stream.
type Frame struct {
	Event string        `json:"event"`
	Start *StartPayload `json:"start,omitempty"`
	Media *MediaPayload `json:"media,omitempty"`
}

// ParseFrame decodes one inbound text message.
func ParseFrame(raw []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("telephony: parse frame: %w", err)
	}
	if f.Event == "" {
		return nil, fmt.Errorf("telephony: frame missing event")
	}
	return &f, nil
}

// Audio returns the decoded audio bytes of a media frame.
func (f *Frame) Audio() ([]byte, error) {
	if f.Event != EventMedia || f.Media == nil {
		return nil, fmt.Errorf("telephony: not a media frame: %s", f.Event)
	}
	audio, err := base64.StdEncoding.DecodeString(f.Media.Payload)
	if err != nil {
		return nil, fmt.Errorf("telephony: decode payload: %w", err)
	}
	return audio, nil
}

// MediaMessage wraps synthesized audio for the stream.
func MediaMessage(streamSID string, audio []byte) []byte {
	msg := map[string]any{
		"event":     EventMedia,
		"streamSid": streamSID,
		"media": map[string]string{
			"payload": base64.StdEncoding.EncodeToString(audio),
		},
	}
	raw, _ := json.Marshal(msg)
	return raw
}

// ClearMessage tells the stream to drop queued playback, used on barge-in.
func ClearMessage(streamSID string) []byte {
	raw, _ := json.Marshal(map[string]string{
		"event":     EventClear,
		"streamSid": streamSID,
	})
	return raw
}
