// Package directory resolves who a call involves: the customer record
// behind the dialed number, the servicing client, and the agent team
// that owns the campaign line.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Customer is the loan-servicing record for a borrower.
type Customer struct {
	FirstName             string  `json:"FirstName"`
	LastName              string  `json:"LastName"`
	LoanID                string  `json:"LoanID"`
	BorrowerID            string  `json:"BorrowerID"`
	AccountNumberLastFour string  `json:"AccountNumberLastFour"`
	DOB                   string  `json:"DOB"`
	TotalAmountDue        float64 `json:"TotalAmountDue"`
	TotalPaymentDue       float64 `json:"TotalPaymentDue"`
	NextPaymentDueDate    string  `json:"NextPaymentDueDate"`
	PropertyAddress       string  `json:"PropertyAddress"`
	LenderID              string  `json:"LenderID"`
	FeesBalance           float64 `json:"FeesBalance"`
	AccountType           string  `json:"AccountType"`
	RestrictAutoPayDraft  string  `json:"RestrictAutoPayDraft"`
	LastPaymentDate       string  `json:"LastPaymentDate"`
	PaymentsOverdueCount  int     `json:"PaymentsOverdueCount"`
	DaysLate              int     `json:"DaysLate"`
	PrincipalBalance      float64 `json:"PrincipalBalance"`
	InterestRate          float64 `json:"InterestRate"`
	EscrowBalance         float64 `json:"EscrowBalance"`
	MonthlyPayment        float64 `json:"MonthlyPayment"`
}

// Client is the lender the call is placed on behalf of.
type Client struct {
	CompanyName string `json:"CompanyName"`
	LenderID    string `json:"LenderID"`
	Phone       string `json:"Phone"`
}

// Team owns one outbound campaign line.
type Team struct {
	TeamID      string
	ClientName  string
	PhoneNumber string
	TeamName    string
}

// Agent is one voice persona a team can place calls as.
type Agent struct {
	Name        string
	Personality string
	Language    string
	Voices      map[string]string
	Greetings   map[string][]string
}

// Provider resolves customer and client records.
type Provider interface {
	Customer(ctx context.Context, phone string) (*Customer, error)
	Client(ctx context.Context, lenderID string) (*Client, error)
}

// TeamProvider resolves teams and their agent personas.
type TeamProvider interface {
	Team(ctx context.Context, phone string) (*Team, error)
	Agents(ctx context.Context, teamID, clientName string) ([]Agent, error)
}

// HTTPConfig points the HTTP provider at the servicing API.
type HTTPConfig struct {
	BaseURL string
	UserID  string
	APIKey  string
}

// HTTPProvider fetches customer and client records from the servicing
// API with an Authorization header.
type HTTPProvider struct {
	cfg    HTTPConfig
	client *http.Client
	log    *slog.Logger
}

func NewHTTPProvider(cfg HTTPConfig, client *http.Client, log *slog.Logger) *HTTPProvider {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if log == nil {
		log = slog.Default()
	}
	return &HTTPProvider{cfg: cfg, client: client, log: log}
}

func (p *HTTPProvider) Customer(ctx context.Context, phone string) (*Customer, error) {
	var cust Customer
	if err := p.get(ctx, "customerdaily", url.Values{"PhoneNumber": {phone}}, &cust); err != nil {
		return nil, fmt.Errorf("customer lookup for %s: %w", phone, err)
	}
	return &cust, nil
}

func (p *HTTPProvider) Client(ctx context.Context, lenderID string) (*Client, error) {
	var cl Client
	if err := p.get(ctx, "clientlookup", url.Values{"LenderID": {lenderID}}, &cl); err != nil {
		return nil, fmt.Errorf("client lookup for %s: %w", lenderID, err)
	}
	return &cl, nil
}

func (p *HTTPProvider) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	u := fmt.Sprintf("%s/%s/%s?%s", p.cfg.BaseURL, endpoint, p.cfg.UserID, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", p.cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
