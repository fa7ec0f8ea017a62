package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/voxflow-ai/voxflow/pkg/directory"
	"github.com/voxflow-ai/voxflow/pkg/gateway/config"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	static := directory.NewStaticProvider()
	cfg := config.Config{
		Addr:                "127.0.0.1:0",
		PublicHost:          "voice.example.com",
		DefaultLanguage:     "en",
		ReadHeaderTimeout:   5 * time.Second,
		ShutdownGracePeriod: time.Second,
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(cfg, Deps{Directory: static, Teams: static}, log)
}

func TestHealthz(t *testing.T) {
	s := testServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("missing request id header")
	}
}

func TestReadyzReportsDraining(t *testing.T) {
	s := testServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	s.draining.Store(true)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("draining status = %d", rec.Code)
	}
}

func TestMakeCallRejectsBadBody(t *testing.T) {
	s := testServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/outbound/makecall", strings.NewReader("not json"))
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestTwiMLRoute(t *testing.T) {
	s := testServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/outbound/twiml?caller=%2B1555&callee=%2B1556", nil)
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "wss://voice.example.com/outbound/stream/") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestRunShutsDownOnCancel(t *testing.T) {
	s := testServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
