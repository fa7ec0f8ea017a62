package directory

import "context"

// StaticProvider serves fixed records for development and tests, the
// same shape the live API returns.
type StaticProvider struct {
	Cust     Customer
	Cl       Client
	Tm       Team
	Personas []Agent
}

// NewStaticProvider returns a provider preloaded with a representative
// delinquent account.
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{
		Cust: Customer{
			FirstName:             "John",
			LastName:              "Smith",
			LoanID:                "LN123456",
			AccountNumberLastFour: "7890",
			DOB:                   "1985-06-15",
			TotalAmountDue:        2500.00,
			TotalPaymentDue:       1200.00,
			NextPaymentDueDate:    "2025-01-15",
			PropertyAddress:       "123 Main St, Orlando, FL 32801",
			LenderID:              "LENDER001",
			FeesBalance:           150.00,
			AccountType:           "checking",
			RestrictAutoPayDraft:  "N",
			LastPaymentDate:       "2024-12-01",
			PaymentsOverdueCount:  2,
			DaysLate:              45,
			PrincipalBalance:      185000.00,
			InterestRate:          6.5,
			EscrowBalance:         3500.00,
			MonthlyPayment:        1200.00,
		},
		Cl: Client{
			CompanyName: "Lakeside Mortgage",
			LenderID:    "LENDER001",
			Phone:       "+15550100000",
		},
		Tm: Team{
			TeamID:      "team_001",
			ClientName:  "Lakeside Mortgage",
			PhoneNumber: "+15550100000",
			TeamName:    "Collections Team",
		},
		Personas: []Agent{{
			Name:        "Sarah Mitchell",
			Personality: "professional, friendly, empathetic",
			Language:    "en",
			Voices: map[string]string{
				"en": "aura-2-thalia-en",
				"es": "aura-2-celeste-es",
			},
			Greetings: map[string][]string{
				"en": {"Hi, this is Lakeside Mortgage, how can I help you today?"},
				"es": {"Hola, le llamamos de Lakeside Mortgage, ¿cómo puedo ayudarle hoy?"},
			},
		}},
	}
}

func (s *StaticProvider) Customer(ctx context.Context, phone string) (*Customer, error) {
	c := s.Cust
	return &c, nil
}

func (s *StaticProvider) Client(ctx context.Context, lenderID string) (*Client, error) {
	c := s.Cl
	return &c, nil
}

func (s *StaticProvider) Team(ctx context.Context, phone string) (*Team, error) {
	t := s.Tm
	return &t, nil
}

func (s *StaticProvider) Agents(ctx context.Context, teamID, clientName string) ([]Agent, error) {
	out := make([]Agent, len(s.Personas))
	copy(out, s.Personas)
	return out, nil
}
