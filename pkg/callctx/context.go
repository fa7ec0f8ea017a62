// Package callctx holds the per-call conversation context: the fact base
// seeded from customer/agent records at call start, mutated every turn by
// extraction and node transitions, and snapshotted for reporting when the
// call ends.
package callctx

import (
	"fmt"
	"time"
)

// Transcript roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// TranscriptEntry is one utterance (or internal marker) in append order.
type TranscriptEntry struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Seed carries the identity, loan, agent, and client data a context is
// created with. Fields are copied into the context once; they are not
// re-read afterwards.
type Seed struct {
	LoanID                string
	FirstName             string
	LastName              string
	DOB                   string
	TotalAmountDue        string
	MonthlyPayment        string
	AccountNumberLastFour string
	PropertyAddress       string
	RestrictAutoPayDraft  string
	DaysLate              int
	FeesBalance           float64
	NextPaymentDueDate    string
	EscrowBalance         string
	PrincipalBalance      string

	AgentName string
	AgentID   string

	CompanyName string
	LenderID    string
}

// Context is the mutable fact base for one call. Known fields have fixed
// slots; node-declared extraction variables live in Vars. All access goes
// through the Store, which serializes mutation per call SID.
type Context struct {
	CallSID     string
	CreatedAt   time.Time
	CurrentNode string
	Language    string

	Seed Seed

	// Stamped at creation so templates can speak about "today" without
	// consulting a clock mid-call.
	CurrentDate      string
	CurrentDayOfWeek string
	CurrentTime      string

	// Counters such as "dob_attempts". Missing counters read as zero.
	Counters map[string]int

	// Result of the most recent node API action.
	APIStatusCode int
	APIError      string

	Transcript []TranscriptEntry

	// Vars is the open extension map for node-declared variables that are
	// not part of the fixed schema (extraction flags, captured strings).
	Vars map[string]any
}

// Lookup resolves a context value by its template/rule name. Fixed-schema
// fields are addressed by their canonical names; anything else falls
// through to Vars.
func (c *Context) Lookup(name string) (any, bool) {
	switch name {
	case "call_sid":
		return c.CallSID, true
	case "current_node":
		return c.CurrentNode, true
	case "language":
		return c.Language, true
	case "current_date":
		return c.CurrentDate, true
	case "current_day_of_week":
		return c.CurrentDayOfWeek, true
	case "current_time":
		return c.CurrentTime, true
	case "LoanID":
		return c.Seed.LoanID, true
	case "FirstName":
		return c.Seed.FirstName, true
	case "LastName":
		return c.Seed.LastName, true
	case "DOB":
		return c.Seed.DOB, true
	case "TotalAmountDue":
		return c.Seed.TotalAmountDue, true
	case "MonthlyPayment":
		return c.Seed.MonthlyPayment, true
	case "AccountNumberLastFour":
		return c.Seed.AccountNumberLastFour, true
	case "PropertyAddress":
		return c.Seed.PropertyAddress, true
	case "RestrictAutoPayDraft":
		return c.Seed.RestrictAutoPayDraft, true
	case "DaysLate":
		return c.Seed.DaysLate, true
	case "FeesBalance":
		return c.Seed.FeesBalance, true
	case "NextPaymentDueDate":
		return c.Seed.NextPaymentDueDate, true
	case "EscrowBalance":
		return c.Seed.EscrowBalance, true
	case "PrincipalBalance":
		return c.Seed.PrincipalBalance, true
	case "AgentName", "AIAgentFullName":
		return c.Seed.AgentName, true
	case "agent_id":
		return c.Seed.AgentID, true
	case "CompanyName":
		return c.Seed.CompanyName, true
	case "LenderID":
		return c.Seed.LenderID, true
	case "api_status_code":
		if c.APIStatusCode == 0 {
			return nil, false
		}
		return c.APIStatusCode, true
	case "api_error":
		if c.APIError == "" {
			return nil, false
		}
		return c.APIError, true
	}
	if v, ok := c.Counters[name]; ok {
		return v, true
	}
	v, ok := c.Vars[name]
	return v, ok
}

// String returns the string form of a context value, or "" when absent.
func (c *Context) String(name string) string {
	v, ok := c.Lookup(name)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// Bool reports whether a context value is present and truthy.
func (c *Context) Bool(name string) bool {
	v, ok := c.Lookup(name)
	return ok && Truthy(v)
}

// Int returns a context value as an int, or 0 when absent or non-numeric.
func (c *Context) Int(name string) int {
	v, ok := c.Lookup(name)
	if !ok {
		return 0
	}
	return asInt(v)
}

// Counter returns the current value of a named counter.
func (c *Context) Counter(name string) int {
	return c.Counters[name]
}

// clone returns a deep copy safe to hand to callers outside the store lock.
func (c *Context) clone() *Context {
	cp := *c
	cp.Counters = make(map[string]int, len(c.Counters))
	for k, v := range c.Counters {
		cp.Counters[k] = v
	}
	cp.Vars = make(map[string]any, len(c.Vars))
	for k, v := range c.Vars {
		cp.Vars[k] = v
	}
	cp.Transcript = append([]TranscriptEntry(nil), c.Transcript...)
	return &cp
}

// Truthy mirrors the looseness of extraction output: false, nil, zero
// numbers, and empty strings are falsy; everything else is truthy.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	default:
		return true
	}
}

func asInt(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	case string:
		var n int
		_, err := fmt.Sscanf(t, "%d", &n)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}
