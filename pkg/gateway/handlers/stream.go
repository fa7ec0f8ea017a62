package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/voxflow-ai/voxflow/pkg/bridge"
	"github.com/voxflow-ai/voxflow/pkg/callctx"
	"github.com/voxflow-ai/voxflow/pkg/directory"
	"github.com/voxflow-ai/voxflow/pkg/gateway/config"
	"github.com/voxflow-ai/voxflow/pkg/orchestrator"
	"github.com/voxflow-ai/voxflow/pkg/telephony"
	"github.com/voxflow-ai/voxflow/pkg/voiceagent"
)

var streamUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The telephony provider connects server-to-server; there is no
	// browser origin to check.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StreamHandler accepts the provider's media stream websocket and runs
// a bridge session over it for the life of the call.
type StreamHandler struct {
	Config       config.Config
	Orchestrator *orchestrator.Orchestrator
	Directory    directory.Provider
	Teams        directory.TeamProvider
	Telephony    *telephony.Client
	Tracker      *bridge.Tracker
	FinishCall   func(ctx context.Context, final *callctx.Context)
	Log          *slog.Logger
}

func (h StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	caller := pathParam(r, "caller")
	callee := pathParam(r, "callee")
	if caller == "" || callee == "" {
		writeError(w, http.StatusBadRequest, "caller and callee path segments are required")
		return
	}

	deps, err := h.resolve(r.Context(), caller, callee)
	if err != nil {
		h.Log.Error("stream setup failed", "caller", caller, "callee", callee, "error", err)
		writeError(w, http.StatusBadGateway, "call data unavailable")
		return
	}

	conn, err := streamUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Log.Error("websocket upgrade failed", "error", err)
		return
	}

	var session *bridge.Session
	var unregister func()

	// The call SID arrives only in the stream's start frame, so the
	// session is tracked under a placeholder key until then. InitCall
	// fires on this goroutine inside Run, so the re-key cannot race the
	// deferred unregister. Registering under the real SID lets the
	// tracker drop a stale registration for a reused call SID.
	seedCall := deps.InitCall
	deps.InitCall = func(callSID string) {
		if seedCall != nil {
			seedCall(callSID)
		}
		old := unregister
		unregister = h.Tracker.Register(callSID, session.Handle())
		old()
	}

	session = bridge.NewSession(deps, "", conn)
	unregister = h.Tracker.Register("pending_"+uuid.NewString(), session.Handle())
	defer func() { unregister() }()

	session.Run(r.Context())
}

// resolve assembles everything the session needs before the first
// media frame: the agent persona for the calling team, the customer's
// account record, and the lender's identity.
func (h StreamHandler) resolve(ctx context.Context, caller, callee string) (bridge.Deps, error) {
	customer, err := h.Directory.Customer(ctx, callee)
	if err != nil {
		return bridge.Deps{}, fmt.Errorf("customer lookup for %s: %w", callee, err)
	}

	companyName := ""
	if client, err := h.Directory.Client(ctx, customer.LenderID); err != nil {
		h.Log.Warn("client lookup failed", "lender_id", customer.LenderID, "error", err)
	} else {
		companyName = client.CompanyName
	}

	persona, teamID := h.pickPersona(ctx, caller, companyName)
	if companyName == "" {
		companyName = "your mortgage servicer"
	}

	lang := h.Config.DefaultLanguage
	seed := seedFromDirectory(customer, companyName, persona.Name, teamID)

	deps := bridge.Deps{
		Orchestrator: h.Orchestrator,
		Telephony:    h.Telephony,
		AgentConfig:  h.agentConfig(),
		Voices:       persona.Voices,
		Greeting:     pickGreeting(persona, lang, customer.FirstName),
		InitCall: func(callSID string) {
			h.Orchestrator.InitializeCall(callSID, lang, seed)
			if h.Config.ServicingBaseURL != "" {
				h.Orchestrator.Store().Update(callSID, map[string]any{
					"servicing_api_url": h.Config.ServicingBaseURL,
				})
			}
		},
		FinishCall: h.FinishCall,
		Log:        h.Log,
	}
	if h.Config.TransferNumber != "" {
		deps.TransferURL = h.Config.WebhookURL("/outbound/transfer_twiml") +
			"?phone=" + url.QueryEscape(h.Config.TransferNumber)
	}
	return deps, nil
}

// pickPersona finds the team that owns the calling number and chooses
// one of its agent personas at random. Lookup failures fall back to a
// neutral persona so the call can still proceed.
func (h StreamHandler) pickPersona(ctx context.Context, caller, companyName string) (directory.Agent, string) {
	fallback := directory.Agent{Name: "Alex", Language: h.Config.DefaultLanguage}

	team, err := h.Teams.Team(ctx, caller)
	if err != nil {
		h.Log.Warn("team lookup failed", "caller", caller, "error", err)
		return fallback, ""
	}
	agents, err := h.Teams.Agents(ctx, team.TeamID, companyName)
	if err != nil || len(agents) == 0 {
		h.Log.Warn("no agents for team", "team_id", team.TeamID, "error", err)
		return fallback, team.TeamID
	}
	return agents[rand.Intn(len(agents))], team.TeamID
}

func (h StreamHandler) agentConfig() voiceagent.Config {
	return voiceagent.Config{
		Endpoint: h.Config.DeepgramEndpoint,
		APIKey:   h.Config.DeepgramAPIKey,
		Log:      h.Log,
	}
}

func pathParam(r *http.Request, name string) string {
	v := r.PathValue(name)
	if decoded, err := url.PathUnescape(v); err == nil {
		return decoded
	}
	return v
}

// pickGreeting chooses one of the persona's greetings for the call
// language, falling back across languages and then to a generic line.
func pickGreeting(persona directory.Agent, lang, firstName string) string {
	lines := persona.Greetings[lang]
	if len(lines) == 0 {
		for _, other := range persona.Greetings {
			if len(other) > 0 {
				lines = other
				break
			}
		}
	}
	if len(lines) > 0 {
		return lines[rand.Intn(len(lines))]
	}
	return fmt.Sprintf("Hello, may I please speak with %s?", firstName)
}

func seedFromDirectory(c *directory.Customer, companyName, agentName, teamID string) callctx.Seed {
	return callctx.Seed{
		LoanID:                c.LoanID,
		FirstName:             c.FirstName,
		LastName:              c.LastName,
		DOB:                   c.DOB,
		TotalAmountDue:        fmt.Sprintf("%.2f", c.TotalAmountDue),
		MonthlyPayment:        fmt.Sprintf("%.2f", c.MonthlyPayment),
		AccountNumberLastFour: c.AccountNumberLastFour,
		PropertyAddress:       c.PropertyAddress,
		RestrictAutoPayDraft:  c.RestrictAutoPayDraft,
		DaysLate:              c.DaysLate,
		FeesBalance:           c.FeesBalance,
		NextPaymentDueDate:    c.NextPaymentDueDate,
		EscrowBalance:         fmt.Sprintf("%.2f", c.EscrowBalance),
		PrincipalBalance:      fmt.Sprintf("%.2f", c.PrincipalBalance),
		AgentName:             agentName,
		AgentID:               teamID,
		CompanyName:           companyName,
		LenderID:              c.LenderID,
	}
}
