package telephony

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestParseFrameStart(t *testing.T) {
	raw := []byte(`{"event":"start","start":{"streamSid":"MZ1","callSid":"CA1"}}`)
	f, err := ParseFrame(raw)
	if err != nil {
		t.Fatalf("ParseFrame: %v", err)
	}
	if f.Event != EventStart || f.Start.StreamSID != "MZ1" || f.Start.CallSID != "CA1" {
		t.Fatalf("frame = %+v", f)
	}
}

func TestParseFrameMediaAudio(t *testing.T) {
	audio := []byte{0x7f, 0x00, 0xff}
	payload := base64.StdEncoding.EncodeToString(audio)
	f, err := ParseFrame([]byte(`{"event":"media","media":{"payload":"` + payload + `"}}`))
	if err != nil {
		t.Fatalf("ParseFrame: %v", err)
	}
	got, err := f.Audio()
	if err != nil {
		t.Fatalf("Audio: %v", err)
	}
	if string(got) != string(audio) {
		t.Fatalf("audio = %v", got)
	}
}

func TestParseFrameRejects(t *testing.T) {
	if _, err := ParseFrame([]byte(`not json`)); err == nil {
		t.Fatalf("garbage should error")
	}
	if _, err := ParseFrame([]byte(`{}`)); err == nil {
		t.Fatalf("missing event should error")
	}
	f, _ := ParseFrame([]byte(`{"event":"start"}`))
	if _, err := f.Audio(); err == nil {
		t.Fatalf("Audio on non-media frame should error")
	}
}

func TestMediaAndClearMessages(t *testing.T) {
	msg := string(MediaMessage("MZ1", []byte{1, 2, 3}))
	if !strings.Contains(msg, `"event":"media"`) || !strings.Contains(msg, `"streamSid":"MZ1"`) {
		t.Fatalf("media message = %s", msg)
	}
	if !strings.Contains(msg, base64.StdEncoding.EncodeToString([]byte{1, 2, 3})) {
		t.Fatalf("payload not encoded: %s", msg)
	}

	clear := string(ClearMessage("MZ1"))
	if !strings.Contains(clear, `"event":"clear"`) || !strings.Contains(clear, `"streamSid":"MZ1"`) {
		t.Fatalf("clear message = %s", clear)
	}
}

func TestConnectStreamTwiML(t *testing.T) {
	got := ConnectStreamTwiML("wss://example.com/outbound/stream/a/b")
	for _, want := range []string{"<Response>", "<Connect>", `<Stream url="wss://example.com/outbound/stream/a/b">`} {
		if !strings.Contains(got, want) {
			t.Fatalf("twiml missing %q:\n%s", want, got)
		}
	}
}

func TestTransferTwiML(t *testing.T) {
	got := TransferTwiML("Please hold while I transfer you to a specialist.", "+15550100")
	if !strings.Contains(got, "<Say>Please hold while I transfer you to a specialist.</Say>") {
		t.Fatalf("missing say: %s", got)
	}
	if !strings.Contains(got, "<Dial>+15550100</Dial>") {
		t.Fatalf("missing dial: %s", got)
	}
}

func TestPlaceSendsAMDForm(t *testing.T) {
	var got map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user, pass, ok := r.BasicAuth(); !ok || user != "AC123" || pass != "secret" {
			t.Errorf("basic auth wrong: %s %s", user, pass)
		}
		r.ParseForm()
		got = r.PostForm
		w.Write([]byte(`{"sid":"CA9","to":"+15550123","from":"+15550100","status":"queued"}`))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{
		AccountSID: "AC123",
		AuthToken:  "secret",
		FromNumber: "+15550100",
		APIBase:    srv.URL,
	}, nil)

	call, err := c.Place(context.Background(), CallRequest{
		To:                "+15550123",
		TwiMLURL:          "https://svc.example.com/outbound/twiml",
		AMDCallbackURL:    "https://svc.example.com/outbound/amd_callback",
		StatusCallbackURL: "https://svc.example.com/outbound/call_status",
	})
	if err != nil {
		t.Fatalf("Place: %v", err)
	}
	if call.SID != "CA9" {
		t.Fatalf("sid = %q", call.SID)
	}
	checks := map[string]string{
		"To":               "+15550123",
		"From":             "+15550100",
		"MachineDetection": "DetectMessageEnd",
		"AsyncAmd":         "true",
	}
	for k, want := range checks {
		if len(got[k]) == 0 || got[k][0] != want {
			t.Fatalf("form %s = %v, want %s", k, got[k], want)
		}
	}
	if len(got["StatusCallbackEvent"]) != 4 {
		t.Fatalf("StatusCallbackEvent = %v", got["StatusCallbackEvent"])
	}
}

func TestPlaceRejectsNonE164(t *testing.T) {
	c := NewClient(ClientConfig{}, nil)
	if _, err := c.Place(context.Background(), CallRequest{To: "5550123"}); err == nil {
		t.Fatalf("missing + prefix should error")
	}
}

func TestRedirect(t *testing.T) {
	var path, urlForm string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		r.ParseForm()
		urlForm = r.PostForm.Get("Url")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{AccountSID: "AC123", APIBase: srv.URL}, nil)
	if err := c.Redirect(context.Background(), "CA9", "https://svc.example.com/outbound/transfer_twiml?phone=%2B15550199"); err != nil {
		t.Fatalf("Redirect: %v", err)
	}
	if path != "/Accounts/AC123/Calls/CA9.json" {
		t.Fatalf("path = %q", path)
	}
	if !strings.Contains(urlForm, "transfer_twiml") {
		t.Fatalf("Url form = %q", urlForm)
	}
}
