// Package handlers implements the gateway's HTTP surface: the call
// placement API, the telephony provider's webhooks, and the media
// stream websocket.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/voxflow-ai/voxflow/pkg/gateway/config"
	"github.com/voxflow-ai/voxflow/pkg/gateway/ratelimit"
	"github.com/voxflow-ai/voxflow/pkg/telephony"
)

// CallPlacer places outbound calls.
type CallPlacer interface {
	Place(ctx context.Context, req telephony.CallRequest) (*telephony.Call, error)
}

// Redirector points a live call at new TwiML.
type Redirector interface {
	Redirect(ctx context.Context, callSID, twimlURL string) error
}

// MakeCallHandler starts an outbound call. The provider fetches stream
// TwiML when the callee answers, which routes audio back to this
// gateway's websocket.
type MakeCallHandler struct {
	Config  config.Config
	Calls   CallPlacer
	Limiter *ratelimit.Limiter
	Log     *slog.Logger
}

type makeCallRequest struct {
	PhoneNumber string `json:"phone_number"`
}

type makeCallResponse struct {
	Status  string `json:"status"`
	CallSID string `json:"call_sid"`
	To      string `json:"to"`
	From    string `json:"from"`
}

func (h MakeCallHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if d := h.Limiter.Allow(time.Now()); !d.OK {
		w.Header().Set("Retry-After", strconv.Itoa(int(d.RetryAfter.Seconds())))
		writeError(w, http.StatusTooManyRequests, d.Reason)
		return
	}

	var req makeCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	to := strings.TrimSpace(req.PhoneNumber)
	if !strings.HasPrefix(to, "+") {
		writeError(w, http.StatusBadRequest, "phone_number must be E.164 with country code")
		return
	}

	twimlURL := h.Config.WebhookURL("/outbound/twiml") +
		"?caller=" + url.QueryEscape(h.Config.TwilioFromNumber) +
		"&callee=" + url.QueryEscape(to)

	call, err := h.Calls.Place(r.Context(), telephony.CallRequest{
		To:                to,
		TwiMLURL:          twimlURL,
		AMDCallbackURL:    h.Config.WebhookURL("/outbound/amd_callback"),
		StatusCallbackURL: h.Config.WebhookURL("/outbound/call_status"),
	})
	if err != nil {
		h.Log.Error("call placement failed", "to", to, "error", err)
		writeError(w, http.StatusBadGateway, "call placement failed")
		return
	}

	writeJSON(w, http.StatusOK, makeCallResponse{
		Status:  "success",
		CallSID: call.SID,
		To:      call.To,
		From:    call.From,
	})
}

// TwiMLHandler serves the stream-connect document the provider fetches
// when the callee answers.
type TwiMLHandler struct {
	Config config.Config
}

func (h TwiMLHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	caller := r.URL.Query().Get("caller")
	callee := r.URL.Query().Get("callee")
	if caller == "" || callee == "" {
		writeError(w, http.StatusBadRequest, "caller and callee query parameters are required")
		return
	}

	wsURL := h.Config.StreamURL(url.PathEscape(caller), url.PathEscape(callee))
	writeXML(w, telephony.ConnectStreamTwiML(wsURL))
}

// TransferHandler redirects a live call to the transfer TwiML, which
// dials the level-2 number.
type TransferHandler struct {
	Config config.Config
	Calls  Redirector
	Log    *slog.Logger
}

func (h TransferHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form body")
		return
	}
	callSID := r.PostFormValue("call_sid")
	phone := r.PostFormValue("phone")
	if callSID == "" || phone == "" {
		writeError(w, http.StatusBadRequest, "call_sid and phone are required")
		return
	}

	target := h.Config.WebhookURL("/outbound/transfer_twiml") + "?phone=" + url.QueryEscape(phone)
	if err := h.Calls.Redirect(r.Context(), callSID, target); err != nil {
		h.Log.Error("transfer failed", "call_sid", callSID, "error", err)
		writeError(w, http.StatusBadGateway, "transfer failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "transferring", "to": phone})
}

// TransferTwiMLHandler serves the announce-and-dial document used by
// transfers.
type TransferTwiMLHandler struct {
	Config config.Config
}

func (h TransferTwiMLHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	phone := r.URL.Query().Get("phone")
	if phone == "" {
		phone = h.Config.TransferNumber
	}
	if phone == "" {
		writeError(w, http.StatusBadRequest, "no transfer number configured")
		return
	}
	writeXML(w, telephony.TransferTwiML("Please hold while I transfer you to a specialist.", phone))
}

// machineResults are the AMD outcomes that mean a machine, not a
// person, answered.
var machineResults = map[string]bool{
	"machine_start":       true,
	"machine_end_beep":    true,
	"machine_end_silence": true,
	"machine_end_other":   true,
}

// AMDCallbackHandler receives answering machine detection results.
type AMDCallbackHandler struct {
	Log *slog.Logger

	// OnMachine, when set, runs for calls answered by a machine.
	OnMachine func(callSID string)
}

func (h AMDCallbackHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form body")
		return
	}
	callSID := r.PostFormValue("CallSid")
	answeredBy := r.PostFormValue("AnsweredBy")
	h.Log.Info("amd result", "call_sid", callSID, "answered_by", answeredBy)

	if machineResults[answeredBy] && h.OnMachine != nil {
		h.OnMachine(callSID)
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}

// CallStatusHandler receives call lifecycle events.
type CallStatusHandler struct {
	Log *slog.Logger
}

func (h CallStatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form body")
		return
	}
	h.Log.Info("call status",
		"call_sid", r.PostFormValue("CallSid"),
		"status", r.PostFormValue("CallStatus"),
	)
	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeXML(w http.ResponseWriter, doc string) {
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(doc))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
