package callctx

import (
	"sync"
	"testing"
)

func newTestStore() *Store {
	return NewStore(nil)
}

func TestCreateAndGet(t *testing.T) {
	s := newTestStore()
	s.Create("CA1", "n61", "en", Seed{FirstName: "Ada", LoanID: "L-100"})

	got, ok := s.Get("CA1")
	if !ok {
		t.Fatalf("Get: context missing after Create")
	}
	if got.CurrentNode != "n61" {
		t.Fatalf("CurrentNode = %q, want n61", got.CurrentNode)
	}
	if got.Language != "en" {
		t.Fatalf("Language = %q, want en", got.Language)
	}
	if got.Seed.FirstName != "Ada" {
		t.Fatalf("Seed.FirstName = %q, want Ada", got.Seed.FirstName)
	}
	if got.CurrentDate == "" || got.CurrentDayOfWeek == "" {
		t.Fatalf("date fields not stamped: %+v", got)
	}
}

func TestCurrentNodeDefaultsForUnknownCall(t *testing.T) {
	s := newTestStore()
	s.SetDefaultNode("n61")

	if got := s.CurrentNode("no-such-call"); got != "n61" {
		t.Fatalf("CurrentNode for unknown call = %q, want n61", got)
	}

	s.Create("CA1", "n68", "en", Seed{})
	if got := s.CurrentNode("CA1"); got != "n68" {
		t.Fatalf("CurrentNode = %q, want n68", got)
	}
}

func TestUpdateNilLeavesValue(t *testing.T) {
	s := newTestStore()
	s.Create("CA1", "n61", "en", Seed{})

	s.Update("CA1", map[string]any{"user_provided_dob": "01/02/1990"})
	s.Update("CA1", map[string]any{"user_provided_dob": nil, "other": "x"})

	got, _ := s.Get("CA1")
	if v := got.String("user_provided_dob"); v != "01/02/1990" {
		t.Fatalf("nil update erased value, got %q", v)
	}
	if v := got.String("other"); v != "x" {
		t.Fatalf("other = %q, want x", v)
	}
}

func TestUpdateUnknownCall(t *testing.T) {
	s := newTestStore()
	if s.Update("missing", map[string]any{"a": 1}) {
		t.Fatalf("Update on unknown call should report false")
	}
}

func TestSnapshotIsolation(t *testing.T) {
	s := newTestStore()
	s.Create("CA1", "n61", "en", Seed{})
	snap, _ := s.Get("CA1")
	snap.Vars["injected"] = true

	got, _ := s.Get("CA1")
	if _, ok := got.Vars["injected"]; ok {
		t.Fatalf("mutating a snapshot leaked into the store")
	}
}

func TestTranscriptLimit(t *testing.T) {
	s := newTestStore()
	s.Create("CA1", "n61", "en", Seed{})
	s.AppendTranscript("CA1", RoleUser, "one")
	s.AppendTranscript("CA1", RoleAssistant, "two")
	s.AppendTranscript("CA1", RoleUser, "three")

	got := s.Transcript("CA1", 2)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Content != "two" || got[1].Content != "three" {
		t.Fatalf("wrong tail: %q, %q", got[0].Content, got[1].Content)
	}

	all := s.Transcript("CA1", 0)
	if len(all) != 3 {
		t.Fatalf("full transcript len = %d, want 3", len(all))
	}
}

func TestCountersAndLookup(t *testing.T) {
	s := newTestStore()
	s.Create("CA1", "n61", "en", Seed{})
	if n := s.IncrementCounter("CA1", "dob_attempts"); n != 1 {
		t.Fatalf("first increment = %d, want 1", n)
	}
	if n := s.IncrementCounter("CA1", "dob_attempts"); n != 2 {
		t.Fatalf("second increment = %d, want 2", n)
	}
	got, _ := s.Get("CA1")
	if got.Int("dob_attempts") != 2 {
		t.Fatalf("Lookup counter = %d, want 2", got.Int("dob_attempts"))
	}
	if got.Counter("never_touched") != 0 {
		t.Fatalf("missing counter should read 0")
	}
}

func TestDeleteReturnsFinalSnapshot(t *testing.T) {
	s := newTestStore()
	s.Create("CA1", "n61", "en", Seed{LoanID: "L-1"})
	s.AppendTranscript("CA1", RoleUser, "bye")

	final, ok := s.Delete("CA1")
	if !ok {
		t.Fatalf("Delete: missing context")
	}
	if final.Seed.LoanID != "L-1" || len(final.Transcript) != 1 {
		t.Fatalf("final snapshot incomplete: %+v", final)
	}
	if _, ok := s.Get("CA1"); ok {
		t.Fatalf("context still present after Delete")
	}
	if _, ok := s.Delete("CA1"); ok {
		t.Fatalf("second Delete should report false")
	}
}

func TestActiveCalls(t *testing.T) {
	s := newTestStore()
	s.Create("CA1", "n61", "en", Seed{})
	s.Create("CA2", "n61", "en", Seed{})
	if got := len(s.ActiveCalls()); got != 2 {
		t.Fatalf("ActiveCalls = %d, want 2", got)
	}
}

func TestConcurrentUpdates(t *testing.T) {
	s := newTestStore()
	s.Create("CA1", "n61", "en", Seed{})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.IncrementCounter("CA1", "hits")
			s.AppendTranscript("CA1", RoleUser, "hi")
		}()
	}
	wg.Wait()

	got, _ := s.Get("CA1")
	if got.Counter("hits") != 50 {
		t.Fatalf("hits = %d, want 50", got.Counter("hits"))
	}
	if len(got.Transcript) != 50 {
		t.Fatalf("transcript len = %d, want 50", len(got.Transcript))
	}
}

func TestLookupFixedSchema(t *testing.T) {
	s := newTestStore()
	s.Create("CA1", "n9", "es", Seed{DOB: "1990-01-02", AgentName: "Morgan Reed"})
	got, _ := s.Get("CA1")

	if v := got.String("language"); v != "es" {
		t.Fatalf("language = %q", v)
	}
	if v := got.String("DOB"); v != "1990-01-02" {
		t.Fatalf("DOB = %q", v)
	}
	if v := got.String("AIAgentFullName"); v != "Morgan Reed" {
		t.Fatalf("AIAgentFullName = %q", v)
	}
	if _, ok := got.Lookup("api_status_code"); ok {
		t.Fatalf("api_status_code should be absent before any API action")
	}
	s.Update("CA1", map[string]any{"api_status_code": 202, "api_error": "boom"})
	got, _ = s.Get("CA1")
	if got.APIStatusCode != 202 || got.String("api_error") != "boom" {
		t.Fatalf("api fields not routed: %+v", got)
	}
}

func TestTruthy(t *testing.T) {
	cases := []struct {
		in   any
		want bool
	}{
		{nil, false},
		{false, false},
		{true, true},
		{"", false},
		{"x", true},
		{0, false},
		{3, true},
		{0.0, false},
		{1.5, true},
		{[]string{}, true},
	}
	for _, c := range cases {
		if got := Truthy(c.in); got != c.want {
			t.Fatalf("Truthy(%#v) = %v, want %v", c.in, got, c.want)
		}
	}
}
