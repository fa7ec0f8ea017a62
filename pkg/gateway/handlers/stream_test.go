package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxflow-ai/voxflow/pkg/bridge"
	"github.com/voxflow-ai/voxflow/pkg/callctx"
	"github.com/voxflow-ai/voxflow/pkg/catalog"
	"github.com/voxflow-ai/voxflow/pkg/directory"
	"github.com/voxflow-ai/voxflow/pkg/extract"
	"github.com/voxflow-ai/voxflow/pkg/flow"
	"github.com/voxflow-ai/voxflow/pkg/gateway/config"
	"github.com/voxflow-ai/voxflow/pkg/orchestrator"
	"github.com/voxflow-ai/voxflow/pkg/template"
)

const streamCatalog = `
version: 1
greeting_node: n61
master_prompt: |
  You are {{AIAgentFullName}} calling about a loan account.
nodes:
  n61:
    prompt: |
      Confirm you are speaking with {{FirstName}} {{LastName}}.
`

type noopInvoker struct{}

func (noopInvoker) Invoke(ctx context.Context, system, user string) (string, error) {
	return `{}`, nil
}

func testOrchestrator(t *testing.T) *orchestrator.Orchestrator {
	t.Helper()
	log := testLog()
	cat, err := catalog.Parse([]byte(streamCatalog))
	if err != nil {
		t.Fatalf("parse catalog: %v", err)
	}
	renderer := template.NewRenderer(template.DefaultPredicates(), log)
	return orchestrator.New(
		callctx.NewStore(log),
		cat,
		renderer,
		flow.NewEngine(flow.GlobalRules(), flow.NodeRules(), log),
		extract.NewWithInvoker(noopInvoker{}, log),
		orchestrator.NewAPIRunner(nil, renderer, log),
		log,
	)
}

func TestSeedFromDirectory(t *testing.T) {
	c := directory.NewStaticProvider().Cust
	seed := seedFromDirectory(&c, "Lakeside Mortgage", "Sarah Mitchell", "team_001")

	if seed.LoanID != "LN123456" || seed.FirstName != "John" || seed.LastName != "Smith" {
		t.Fatalf("seed identity = %+v", seed)
	}
	if seed.TotalAmountDue != "2500.00" {
		t.Fatalf("TotalAmountDue = %q", seed.TotalAmountDue)
	}
	if seed.MonthlyPayment != "1200.00" {
		t.Fatalf("MonthlyPayment = %q", seed.MonthlyPayment)
	}
	if seed.AgentName != "Sarah Mitchell" || seed.CompanyName != "Lakeside Mortgage" {
		t.Fatalf("agent fields = %+v", seed)
	}
	if seed.DaysLate != 45 {
		t.Fatalf("DaysLate = %d", seed.DaysLate)
	}
}

func TestPickGreeting(t *testing.T) {
	persona := directory.Agent{
		Greetings: map[string][]string{
			"es": {"Hola, soy Sarah."},
		},
	}

	if got := pickGreeting(persona, "es", "John"); got != "Hola, soy Sarah." {
		t.Fatalf("es greeting = %q", got)
	}

	// Missing language borrows another before the generic fallback.
	if got := pickGreeting(persona, "en", "John"); got != "Hola, soy Sarah." {
		t.Fatalf("fallback greeting = %q", got)
	}

	empty := directory.Agent{}
	if got := pickGreeting(empty, "en", "John"); !strings.Contains(got, "John") {
		t.Fatalf("generic greeting = %q", got)
	}
}

func TestResolveBuildsSessionDeps(t *testing.T) {
	static := directory.NewStaticProvider()
	h := StreamHandler{
		Config: config.Config{
			PublicHost:      "voice.example.com",
			DefaultLanguage: "en",
			TransferNumber:  "+15559999",
			DeepgramAPIKey:  "dg_test",
		},
		Orchestrator: testOrchestrator(t),
		Directory:    static,
		Teams:        static,
		Log:          testLog(),
	}

	deps, err := h.resolve(context.Background(), "+15550100000", "+15550199")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if deps.Greeting == "" {
		t.Fatalf("no greeting chosen")
	}
	if deps.Voices["en"] == "" {
		t.Fatalf("no english voice: %v", deps.Voices)
	}
	if !strings.Contains(deps.TransferURL, "/outbound/transfer_twiml?phone=%2B15559999") {
		t.Fatalf("transfer url = %q", deps.TransferURL)
	}

	deps.InitCall("CA777")
	snap, ok := h.Orchestrator.Store().Get("CA777")
	if !ok {
		t.Fatalf("call context not initialized")
	}
	if snap.Seed.LoanID != "LN123456" || snap.Seed.CompanyName != "Lakeside Mortgage" {
		t.Fatalf("seed = %+v", snap.Seed)
	}
}

func TestStreamHandlerRunsSessionLifecycle(t *testing.T) {
	static := directory.NewStaticProvider()
	tracker := bridge.NewTracker()
	h := StreamHandler{
		Config: config.Config{
			PublicHost:      "voice.example.com",
			DefaultLanguage: "en",
		},
		Orchestrator: testOrchestrator(t),
		Directory:    static,
		Teams:        static,
		Tracker:      tracker,
		Log:          testLog(),
	}

	mux := http.NewServeMux()
	mux.Handle("GET /outbound/stream/{caller}/{callee}", h)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/outbound/stream/+15550100000/+15550199"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"event": "stop"}`)); err != nil {
		t.Fatalf("write stop: %v", err)
	}
	conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if !tracker.Wait(ctx) {
		t.Fatalf("session did not unregister after stop")
	}
}

func TestStreamHandlerRekeysTrackerToCallSID(t *testing.T) {
	static := directory.NewStaticProvider()
	tracker := bridge.NewTracker()
	h := StreamHandler{
		Config: config.Config{
			PublicHost:      "voice.example.com",
			DefaultLanguage: "en",
		},
		Orchestrator: testOrchestrator(t),
		Directory:    static,
		Teams:        static,
		Tracker:      tracker,
		Log:          testLog(),
	}

	// A stale registration from an earlier stream for the same call. It
	// is never unregistered here; only the re-keyed session can displace
	// it.
	tracker.Register("CA555", bridge.Handle{})

	mux := http.NewServeMux()
	mux.Handle("GET /outbound/stream/{caller}/{callee}", h)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/outbound/stream/+15550100000/+15550199"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	start := `{"event": "start", "start": {"streamSid": "MZ1", "callSid": "CA555"}}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(start)); err != nil {
		t.Fatalf("write start: %v", err)
	}
	conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if !tracker.Wait(ctx) {
		t.Fatalf("stale registration for the call SID was not displaced")
	}
}
