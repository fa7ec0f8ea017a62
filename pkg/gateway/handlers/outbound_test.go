package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/voxflow-ai/voxflow/pkg/gateway/config"
	"github.com/voxflow-ai/voxflow/pkg/gateway/ratelimit"
	"github.com/voxflow-ai/voxflow/pkg/telephony"
)

func testLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakePlacer struct {
	req  telephony.CallRequest
	call *telephony.Call
	err  error
}

func (f *fakePlacer) Place(ctx context.Context, req telephony.CallRequest) (*telephony.Call, error) {
	f.req = req
	if f.err != nil {
		return nil, f.err
	}
	return f.call, nil
}

type fakeRedirector struct {
	callSID  string
	twimlURL string
	err      error
}

func (f *fakeRedirector) Redirect(ctx context.Context, callSID, twimlURL string) error {
	f.callSID = callSID
	f.twimlURL = twimlURL
	return f.err
}

func testConfig() config.Config {
	return config.Config{
		PublicHost:       "voice.example.com",
		TwilioFromNumber: "+15550100",
		TransferNumber:   "+15559999",
	}
}

func TestMakeCall(t *testing.T) {
	placer := &fakePlacer{call: &telephony.Call{SID: "CA123", To: "+15550199", From: "+15550100", Status: "queued"}}
	h := MakeCallHandler{Config: testConfig(), Calls: placer, Log: testLog()}

	rec := httptest.NewRecorder()
	body := strings.NewReader(`{"phone_number": "+15550199"}`)
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/outbound/makecall", body))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp makeCallResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.CallSID != "CA123" || resp.Status != "success" {
		t.Fatalf("response = %+v", resp)
	}

	u, err := url.Parse(placer.req.TwiMLURL)
	if err != nil {
		t.Fatalf("parse twiml url: %v", err)
	}
	if u.Host != "voice.example.com" || u.Path != "/outbound/twiml" {
		t.Fatalf("twiml url = %q", placer.req.TwiMLURL)
	}
	if got := u.Query().Get("callee"); got != "+15550199" {
		t.Fatalf("callee = %q", got)
	}
	if got := u.Query().Get("caller"); got != "+15550100" {
		t.Fatalf("caller = %q", got)
	}
	if !strings.HasSuffix(placer.req.AMDCallbackURL, "/outbound/amd_callback") {
		t.Fatalf("amd callback = %q", placer.req.AMDCallbackURL)
	}
	if !strings.HasSuffix(placer.req.StatusCallbackURL, "/outbound/call_status") {
		t.Fatalf("status callback = %q", placer.req.StatusCallbackURL)
	}
}

func TestMakeCallRateLimited(t *testing.T) {
	limiter := ratelimit.New(ratelimit.Config{MaxConcurrentCalls: 1}, func() int { return 1 })
	h := MakeCallHandler{Config: testConfig(), Calls: &fakePlacer{}, Limiter: limiter, Log: testLog()}

	rec := httptest.NewRecorder()
	body := strings.NewReader(`{"phone_number": "+15550199"}`)
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/outbound/makecall", body))

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("missing Retry-After header")
	}
}

func TestMakeCallRejectsNonE164(t *testing.T) {
	h := MakeCallHandler{Config: testConfig(), Calls: &fakePlacer{}, Log: testLog()}

	rec := httptest.NewRecorder()
	body := strings.NewReader(`{"phone_number": "5550199"}`)
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/outbound/makecall", body))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestTwiMLConnectsStream(t *testing.T) {
	h := TwiMLHandler{Config: testConfig()}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/outbound/twiml?caller=%2B15550100&callee=%2B15550199", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/xml") {
		t.Fatalf("content type = %q", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "wss://voice.example.com/outbound/stream/") {
		t.Fatalf("twiml missing stream url: %s", body)
	}
	if !strings.Contains(body, "<Connect>") || !strings.Contains(body, "<Stream") {
		t.Fatalf("twiml missing connect/stream: %s", body)
	}
}

func TestTwiMLRequiresParticipants(t *testing.T) {
	h := TwiMLHandler{Config: testConfig()}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/outbound/twiml", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestTransferRedirectsCall(t *testing.T) {
	red := &fakeRedirector{}
	h := TransferHandler{Config: testConfig(), Calls: red, Log: testLog()}

	form := url.Values{"call_sid": {"CA123"}, "phone": {"+15559999"}}
	req := httptest.NewRequest(http.MethodPost, "/outbound/transfer", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if red.callSID != "CA123" {
		t.Fatalf("redirected call = %q", red.callSID)
	}
	if !strings.Contains(red.twimlURL, "/outbound/transfer_twiml?phone=%2B15559999") {
		t.Fatalf("redirect url = %q", red.twimlURL)
	}
}

func TestTransferTwiMLDefaultsToConfiguredNumber(t *testing.T) {
	h := TransferTwiMLHandler{Config: testConfig()}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/outbound/transfer_twiml", nil))

	body := rec.Body.String()
	if !strings.Contains(body, "+15559999") {
		t.Fatalf("twiml missing transfer number: %s", body)
	}
	if !strings.Contains(body, "<Dial>") {
		t.Fatalf("twiml missing dial: %s", body)
	}
}

func TestAMDCallbackDetectsMachine(t *testing.T) {
	var machineSID string
	h := AMDCallbackHandler{Log: testLog(), OnMachine: func(sid string) { machineSID = sid }}

	post := func(answeredBy string) {
		form := url.Values{"CallSid": {"CA123"}, "AnsweredBy": {answeredBy}}
		req := httptest.NewRequest(http.MethodPost, "/outbound/amd_callback", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
	}

	post("human")
	if machineSID != "" {
		t.Fatalf("human answer triggered machine hook")
	}
	post("machine_end_beep")
	if machineSID != "CA123" {
		t.Fatalf("machine hook saw %q", machineSID)
	}
}

func TestCallStatusAcknowledges(t *testing.T) {
	h := CallStatusHandler{Log: testLog()}

	form := url.Values{"CallSid": {"CA123"}, "CallStatus": {"completed"}}
	req := httptest.NewRequest(http.MethodPost, "/outbound/call_status", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestReadyReportsIssues(t *testing.T) {
	rec := httptest.NewRecorder()
	ReadyHandler{Config: config.Config{}}.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	var resp struct {
		OK     bool     `json:"ok"`
		Issues []string `json:"issues"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.OK || len(resp.Issues) == 0 {
		t.Fatalf("empty config should report issues, got %+v", resp)
	}
}
