package directory

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPProviderCustomer(t *testing.T) {
	var gotPath, gotAuth, gotPhone string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotPhone = r.URL.Query().Get("PhoneNumber")
		w.Write([]byte(`{
			"FirstName": "Ada", "LastName": "Byron", "LoanID": "LN9",
			"DOB": "1990-01-02", "TotalAmountDue": 1800.50, "DaysLate": 31,
			"LenderID": "LENDER009", "RestrictAutoPayDraft": "N"
		}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider(HTTPConfig{BaseURL: srv.URL, UserID: "svc_user", APIKey: "tok"}, nil, nil)
	cust, err := p.Customer(context.Background(), "+15551234567")
	if err != nil {
		t.Fatalf("Customer: %v", err)
	}
	if gotPath != "/customerdaily/svc_user" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotAuth != "tok" || gotPhone != "+15551234567" {
		t.Fatalf("auth = %q phone = %q", gotAuth, gotPhone)
	}
	if cust.FirstName != "Ada" || cust.LoanID != "LN9" {
		t.Fatalf("customer = %+v", cust)
	}
	if cust.TotalAmountDue != 1800.50 || cust.DaysLate != 31 {
		t.Fatalf("numeric fields = %v %v", cust.TotalAmountDue, cust.DaysLate)
	}
}

func TestHTTPProviderClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/clientlookup/svc_user" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.URL.Query().Get("LenderID") != "LENDER009" {
			t.Errorf("LenderID = %q", r.URL.Query().Get("LenderID"))
		}
		w.Write([]byte(`{"CompanyName": "Lakeside Mortgage", "LenderID": "LENDER009"}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider(HTTPConfig{BaseURL: srv.URL, UserID: "svc_user", APIKey: "tok"}, nil, nil)
	cl, err := p.Client(context.Background(), "LENDER009")
	if err != nil {
		t.Fatalf("Client: %v", err)
	}
	if cl.CompanyName != "Lakeside Mortgage" {
		t.Fatalf("client = %+v", cl)
	}
}

func TestHTTPProviderErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewHTTPProvider(HTTPConfig{BaseURL: srv.URL, UserID: "u", APIKey: "k"}, nil, nil)
	if _, err := p.Customer(context.Background(), "+15550000000"); err == nil {
		t.Fatal("expected error on non-200")
	}
}

func TestStaticProvider(t *testing.T) {
	s := NewStaticProvider()
	ctx := context.Background()

	cust, err := s.Customer(ctx, "+15551234567")
	if err != nil || cust.LoanID == "" {
		t.Fatalf("static customer: %v %+v", err, cust)
	}
	team, err := s.Team(ctx, "+15550100000")
	if err != nil || team.TeamID == "" {
		t.Fatalf("static team: %v %+v", err, team)
	}
	agents, err := s.Agents(ctx, team.TeamID, team.ClientName)
	if err != nil || len(agents) == 0 {
		t.Fatalf("static agents: %v %+v", err, agents)
	}
	if agents[0].Voices["en"] == "" || len(agents[0].Greetings["en"]) == 0 {
		t.Fatalf("agent persona incomplete: %+v", agents[0])
	}

	// Mutating a returned record must not leak into the provider.
	cust.FirstName = "changed"
	again, _ := s.Customer(ctx, "+15551234567")
	if again.FirstName == "changed" {
		t.Fatal("returned customer aliases provider state")
	}
}

func TestParseGreetings(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		client string
		want   []string
	}{
		{
			name:   "json array",
			raw:    `["Hi, this is {client}.", "Hello from {client}!"]`,
			client: "Lakeside",
			want:   []string{"Hi, this is Lakeside.", "Hello from Lakeside!"},
		},
		{
			name:   "postgres array spelling",
			raw:    `{"Hi, this is {client}."}`,
			client: "Lakeside",
			want:   []string{"Hi, this is Lakeside."},
		},
		{
			name: "empty",
			raw:  "",
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseGreetings(tt.raw, tt.client)
			if err != nil {
				t.Fatalf("parseGreetings: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("got[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}

	if _, err := parseGreetings(`{not json`, "X"); err == nil {
		t.Fatal("expected error for malformed greetings")
	}
}
