package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultAPIBase = "https://api.twilio.com/2010-04-01"

// Client talks to the telephony provider's REST API: placing outbound
// calls with answering-machine detection and redirecting live calls for
// transfers.
type Client struct {
	accountSID string
	authToken  string
	fromNumber string
	apiBase    string
	http       *http.Client
	log        *slog.Logger
}

// ClientConfig carries provider credentials and the caller id to place
// calls from.
type ClientConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	APIBase    string
}

// NewClient builds a REST client. An empty APIBase uses the provider
// default.
func NewClient(cfg ClientConfig, log *slog.Logger) *Client {
	if cfg.APIBase == "" {
		cfg.APIBase = defaultAPIBase
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		fromNumber: cfg.FromNumber,
		apiBase:    cfg.APIBase,
		http:       &http.Client{Timeout: 15 * time.Second},
		log:        log,
	}
}

// CallRequest describes one outbound call. TwiMLURL is fetched by the
// provider when the callee answers; the AMD and status callbacks are
// optional.
type CallRequest struct {
	To                string
	TwiMLURL          string
	AMDCallbackURL    string
	StatusCallbackURL string
}

// Call is the provider's record of a placed call.
type Call struct {
	SID    string `json:"sid"`
	To     string `json:"to"`
	From   string `json:"from"`
	Status string `json:"status"`
}

// Place creates an outbound call with message-end machine detection, so
// voicemail greetings are classified before the agent starts speaking.
func (c *Client) Place(ctx context.Context, req CallRequest) (*Call, error) {
	if !strings.HasPrefix(req.To, "+") {
		return nil, fmt.Errorf("telephony: number %q must be E.164 with country code", req.To)
	}

	form := url.Values{}
	form.Set("To", req.To)
	form.Set("From", c.fromNumber)
	form.Set("Url", req.TwiMLURL)

	form.Set("MachineDetection", "DetectMessageEnd")
	form.Set("MachineDetectionTimeout", "30")
	form.Set("MachineDetectionSpeechThreshold", "2400")
	form.Set("MachineDetectionSpeechEndThreshold", "1200")
	form.Set("MachineDetectionSilenceTimeout", "5000")

	if req.AMDCallbackURL != "" {
		form.Set("AsyncAmd", "true")
		form.Set("AsyncAmdStatusCallback", req.AMDCallbackURL)
		form.Set("AsyncAmdStatusCallbackMethod", "POST")
	}
	if req.StatusCallbackURL != "" {
		form.Set("StatusCallback", req.StatusCallbackURL)
		for _, ev := range []string{"initiated", "ringing", "answered", "completed"} {
			form.Add("StatusCallbackEvent", ev)
		}
	}

	var call Call
	if err := c.post(ctx, c.callsURL(), form, &call); err != nil {
		return nil, err
	}
	c.log.Info("outbound call placed", "call_sid", call.SID, "to", req.To)
	return &call, nil
}

// Redirect points a live call at new TwiML, used for mid-call transfer.
func (c *Client) Redirect(ctx context.Context, callSID, twimlURL string) error {
	form := url.Values{}
	form.Set("Url", twimlURL)
	form.Set("Method", "POST")

	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls/%s.json", c.apiBase, c.accountSID, callSID)
	if err := c.post(ctx, endpoint, form, nil); err != nil {
		return err
	}
	c.log.Info("call redirected", "call_sid", callSID)
	return nil
}

func (c *Client) callsURL() string {
	return fmt.Sprintf("%s/Accounts/%s/Calls.json", c.apiBase, c.accountSID)
}

func (c *Client) post(ctx context.Context, endpoint string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("telephony: build request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("telephony: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("telephony: api status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("telephony: decode response: %w", err)
	}
	return nil
}
