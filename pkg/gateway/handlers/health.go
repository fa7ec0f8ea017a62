package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/voxflow-ai/voxflow/pkg/gateway/config"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// ReadyHandler reports whether the gateway is configured well enough to
// place and bridge calls.
type ReadyHandler struct {
	Config config.Config
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK     bool     `json:"ok"`
		Issues []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)
	if h.Config.PublicHost == "" {
		issues = append(issues, "public host not set; webhook and stream URLs cannot be built")
	}
	if h.Config.DeepgramAPIKey == "" {
		issues = append(issues, "voice-agent API key not set")
	}
	if h.Config.TwilioAccountSID == "" || h.Config.TwilioAuthToken == "" {
		issues = append(issues, "telephony credentials not set")
	}
	if h.Config.TwilioFromNumber == "" {
		issues = append(issues, "outbound caller number not set")
	}
	if h.Config.TransferNumber == "" {
		issues = append(issues, "transfer number not set; level-2 transfers disabled")
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(readyResp{OK: len(issues) == 0, Issues: issues})
}
