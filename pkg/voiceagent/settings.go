// Package voiceagent speaks the realtime voice-agent protocol: the
// Settings handshake, the callable-function manifest, inbound events, and
// outbound control messages, over a websocket carrying interleaved JSON
// and raw audio.
package voiceagent

// Audio codec constants for the telephony leg. Both directions run
// companded 8kHz mono with no container.
const (
	audioEncoding   = "mulaw"
	audioSampleRate = 8000
)

// Settings is the handshake message that configures a new agent session.
type Settings struct {
	Type  string        `json:"type"`
	Audio AudioSettings `json:"audio"`
	Agent AgentSettings `json:"agent"`
}

type AudioSettings struct {
	Input  AudioFormat `json:"input"`
	Output AudioFormat `json:"output"`
}

type AudioFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
	Container  string `json:"container,omitempty"`
}

type AgentSettings struct {
	Language string       `json:"language"`
	Listen   ListenConfig `json:"listen"`
	Think    ThinkConfig  `json:"think"`
	Speak    SpeakConfig  `json:"speak"`
	Greeting string       `json:"greeting"`
}

type ListenConfig struct {
	Provider ListenProvider `json:"provider"`
}

type ListenProvider struct {
	Type     string   `json:"type"`
	Model    string   `json:"model"`
	Keyterms []string `json:"keyterms,omitempty"`
}

type ThinkConfig struct {
	Provider  ThinkProvider `json:"provider"`
	Prompt    string        `json:"prompt"`
	Functions []Function    `json:"functions"`
}

type ThinkProvider struct {
	Type        string  `json:"type"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
}

type SpeakConfig struct {
	Provider SpeakProvider `json:"provider"`
}

type SpeakProvider struct {
	Type  string `json:"type"`
	Model string `json:"model"`
}

// SessionConfig is what the bridge supplies to build Settings: the
// rendered prompts, the conversation language, and the synthesis voice.
type SessionConfig struct {
	Language     string
	MasterPrompt string
	Greeting     string
	Voice        string
	ListenModel  string
	ThinkModel   string
}

// keyterms biases recognition toward the handful of words that drive
// language switching and yes/no confirmations.
var keyterms = []string{
	"hello", "goodbye", "hola", "adiós",
	"español", "spanish", "english", "inglés",
	"yes", "no", "sí",
}

// NewSettings builds the handshake for one session.
func NewSettings(cfg SessionConfig) Settings {
	if cfg.ListenModel == "" {
		cfg.ListenModel = "nova-3"
	}
	if cfg.ThinkModel == "" {
		cfg.ThinkModel = "gpt-4o-mini"
	}
	if cfg.Voice == "" {
		cfg.Voice = "aura-asteria-en"
	}
	return Settings{
		Type: "Settings",
		Audio: AudioSettings{
			Input:  AudioFormat{Encoding: audioEncoding, SampleRate: audioSampleRate},
			Output: AudioFormat{Encoding: audioEncoding, SampleRate: audioSampleRate, Container: "none"},
		},
		Agent: AgentSettings{
			Language: cfg.Language,
			Listen: ListenConfig{Provider: ListenProvider{
				Type:     "deepgram",
				Model:    cfg.ListenModel,
				Keyterms: keyterms,
			}},
			Think: ThinkConfig{
				Provider:  ThinkProvider{Type: "open_ai", Model: cfg.ThinkModel, Temperature: 0.7},
				Prompt:    cfg.MasterPrompt,
				Functions: FunctionManifest(),
			},
			Speak:    SpeakConfig{Provider: SpeakProvider{Type: "deepgram", Model: cfg.Voice}},
			Greeting: cfg.Greeting,
		},
	}
}

// Function describes one callable function in the manifest. The vendor
// validates the schema, so shapes here must match exactly.
type Function struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Function names the agent can invoke.
const (
	FuncSwitchLanguage = "switch_language"
	FuncVerifyDOB      = "verify_dob"
	FuncProcessInput   = "process_input"
	FuncTransfer       = "transfer_to_level_2"
	FuncEndCall        = "end_call"
)

// FunctionManifest returns the five functions the session exposes.
func FunctionManifest() []Function {
	return []Function{
		{
			Name:        FuncSwitchLanguage,
			Description: "Switch conversation language when user requests Spanish or English",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"language": map[string]any{
						"type":        "string",
						"enum":        []string{"en", "es"},
						"description": "Target language: 'en' for English, 'es' for Spanish",
					},
				},
				"required": []string{"language"},
			},
		},
		{
			Name:        FuncVerifyDOB,
			Description: "Verify customer's date of birth. Parse spoken date to MM/DD/YYYY format.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"parsed_dob": map[string]any{
						"type":        "string",
						"description": "Customer's spoken DOB parsed to MM/DD/YYYY format",
					},
				},
				"required": []string{"parsed_dob"},
			},
		},
		{
			Name:        FuncProcessInput,
			Description: "Process customer's response to determine next action. Call this after each substantive customer response.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"user_input": map[string]any{
						"type":        "string",
						"description": "The customer's spoken response",
					},
					"current_topic": map[string]any{
						"type":        "string",
						"description": "What you're currently discussing (payment, verification, etc.)",
					},
				},
				"required": []string{"user_input"},
			},
		},
		{
			Name:        FuncTransfer,
			Description: "Transfer call to human agent when customer requests or issue is complex",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"reason": map[string]any{
						"type":        "string",
						"description": "Reason for transfer",
					},
				},
				"required": []string{"reason"},
			},
		},
		{
			Name:        FuncEndCall,
			Description: "End the call gracefully after business is complete",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"reason": map[string]any{
						"type":        "string",
						"description": "Reason for ending: completed, customer_request, no_answer",
					},
				},
				"required": []string{"reason"},
			},
		},
	}
}
