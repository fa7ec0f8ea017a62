// Package orchestrator drives one conversation turn: extract variables
// from the transcript, normalize them, merge them into the call context,
// run the transition engine, execute the target node's API actions, and
// render the next prompt.
package orchestrator

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/voxflow-ai/voxflow/pkg/callctx"
	"github.com/voxflow-ai/voxflow/pkg/catalog"
	"github.com/voxflow-ai/voxflow/pkg/extract"
	"github.com/voxflow-ai/voxflow/pkg/flow"
	"github.com/voxflow-ai/voxflow/pkg/template"
)

// transcriptWindow is how many recent entries extraction sees.
const transcriptWindow = 10

// globalVariables are extracted on every turn regardless of the current
// node. They feed the escalation rules that apply call-wide.
var globalVariables = []catalog.Variable{
	{Name: "user_requests_live_agent", Type: "boolean", Description: "true when the caller asks for a live agent, a supervisor, or a human"},
	{Name: "user_mentions_attorney", Type: "boolean", Description: "true when the caller says they are represented by or referring the matter to an attorney"},
	{Name: "user_requests_cease_communication", Type: "boolean", Description: "true when the caller asks to stop phone contact or to be contacted in writing only"},
	{Name: "user_says_wrong_number", Type: "boolean", Description: "true when the caller says this is the wrong number or they do not know the borrower"},
	{Name: "user_wants_to_end_call", Type: "boolean", Description: "true when the caller clearly wants to end the call"},
}

func extractionVariables(node []catalog.Variable) []catalog.Variable {
	out := make([]catalog.Variable, 0, len(globalVariables)+len(node))
	out = append(out, globalVariables...)
	return append(out, node...)
}

// Result is the outcome of one processed turn. Prompt is empty unless the
// node changed; ShouldUpdateAgent is true exactly when it did.
type Result struct {
	NextNode          string
	Prompt            string
	ShouldUpdateAgent bool
}

// Orchestrator owns the per-turn pipeline. One instance serves all
// concurrent calls; per-call isolation lives in the context store.
type Orchestrator struct {
	store     *callctx.Store
	cat       *catalog.Catalog
	renderer  *template.Renderer
	engine    *flow.Engine
	extractor *extract.Extractor
	apis      *APIRunner
	log       *slog.Logger
}

// New assembles an Orchestrator.
func New(store *callctx.Store, cat *catalog.Catalog, renderer *template.Renderer, engine *flow.Engine, extractor *extract.Extractor, apis *APIRunner, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	store.SetDefaultNode(cat.GreetingNode)
	return &Orchestrator{
		store:     store,
		cat:       cat,
		renderer:  renderer,
		engine:    engine,
		extractor: extractor,
		apis:      apis,
		log:       log,
	}
}

// InitializeCall creates the context for a new call at the catalog's
// greeting node.
func (o *Orchestrator) InitializeCall(callSID, language string, seed callctx.Seed) *callctx.Context {
	if language == "" {
		language = "en"
	}
	ctx := o.store.Create(callSID, o.cat.GreetingNode, language, seed)
	o.log.Info("call initialized",
		"call_sid", callSID,
		"borrower", seed.FirstName+" "+seed.LastName,
		"node", o.cat.GreetingNode)
	return ctx
}

// MasterPrompt renders the catalog's system prompt against the call's
// current context.
func (o *Orchestrator) MasterPrompt(callSID string) string {
	snap, ok := o.store.Get(callSID)
	if !ok {
		o.log.Warn("master prompt for unknown call", "call_sid", callSID)
		return ""
	}
	return o.renderer.Render(o.cat.MasterPrompt, snap)
}

// InitialPrompt renders the greeting node's prompt for call start.
func (o *Orchestrator) InitialPrompt(callSID string) string {
	return o.RenderedPrompt(callSID, o.cat.GreetingNode)
}

// RenderedPrompt renders a node's prompt against the call's context. An
// unknown node or empty template yields "" and a logged warning.
func (o *Orchestrator) RenderedPrompt(callSID, nodeID string) string {
	snap, ok := o.store.Get(callSID)
	if !ok {
		return ""
	}
	node, ok := o.cat.Node(nodeID)
	if !ok || node.Prompt == "" {
		o.log.Warn("no prompt for node", "call_sid", callSID, "node", nodeID)
		return ""
	}
	return o.renderer.Render(node.Prompt, snap)
}

// Process runs one turn for the call. Extraction failure degrades to an
// empty result; the turn still runs so transitions on counters and prior
// state can fire.
func (o *Orchestrator) Process(ctx context.Context, callSID, nodeID, userInput string) Result {
	o.log.Info("processing turn", "call_sid", callSID, "node", nodeID, "input", userInput)

	snap, ok := o.store.Get(callSID)
	if !ok {
		o.log.Warn("turn for unknown call", "call_sid", callSID)
		return Result{NextNode: nodeID}
	}

	transcript := o.store.Transcript(callSID, transcriptWindow)
	entries := make([]extract.Entry, len(transcript))
	for i, e := range transcript {
		entries[i] = extract.Entry{Role: e.Role, Content: e.Content}
	}

	extracted, err := o.extractor.Extract(ctx, extractionVariables(o.cat.Variables(nodeID)), extract.FormatTranscript(entries), extract.Reference{
		FirstName: snap.Seed.FirstName,
		LastName:  snap.Seed.LastName,
	})
	if err != nil {
		o.log.Error("extraction failed, continuing with empty result", "call_sid", callSID, "error", err)
		extracted = map[string]any{}
	}

	normalizeExtracted(nodeID, snap, extracted, o.log)

	o.store.Update(callSID, extracted)
	snap, _ = o.store.Get(callSID)

	next := o.engine.Next(nodeID, snap)
	o.log.Info("transition", "call_sid", callSID, "from", nodeID, "to", next, "target", flow.NodeDescription(next))

	if flow.Terminal(next) {
		return Result{NextNode: flow.End}
	}
	if next == nodeID {
		return Result{NextNode: nodeID}
	}

	if node, ok := o.cat.Node(next); ok && len(node.APIs) > 0 {
		updates := o.apis.Execute(ctx, node.APIs, snap)
		if len(updates) > 0 {
			o.store.Update(callSID, updates)
			snap, _ = o.store.Get(callSID)
		}
	}

	prompt := ""
	if node, ok := o.cat.Node(next); ok && node.Prompt != "" {
		prompt = o.renderer.Render(node.Prompt, snap)
	} else {
		o.log.Warn("no prompt for node", "call_sid", callSID, "node", next)
	}
	o.store.SetCurrentNode(callSID, next)
	if prompt != "" {
		o.store.AppendTranscript(callSID, callctx.RoleAssistant, "[Node: "+next+"]")
	}

	return Result{NextNode: next, Prompt: prompt, ShouldUpdateAgent: true}
}

// EndCall tears down the call's context and returns the final snapshot
// for reporting.
func (o *Orchestrator) EndCall(callSID string) (*callctx.Context, bool) {
	o.log.Info("ending call", "call_sid", callSID)
	return o.store.Delete(callSID)
}

// Store exposes the underlying context store to session-level handlers
// that maintain transcripts and counters directly.
func (o *Orchestrator) Store() *callctx.Store { return o.store }

// Catalog exposes the loaded node catalog.
func (o *Orchestrator) Catalog() *catalog.Catalog { return o.cat }

// normalizeExtracted applies node-specific post-extraction fixups before
// the merge: deriving the DOB match flags on the verification node and
// syncing the two accepted spellings of the captured payment date.
func normalizeExtracted(nodeID string, snap *callctx.Context, extracted map[string]any, log *slog.Logger) {
	if nodeID == flow.NodeDOBFirst {
		reconcileDOB(snap, extracted, log)
	}

	// Validation captures user_provided_payment_date; prompt templates
	// read upd_extracted_payment_date. Keep both spellings in sync.
	if date, _ := extracted["user_provided_payment_date"].(string); date != "" {
		switch date {
		case "NA", "N/A":
		default:
			extracted["upd_extracted_payment_date"] = date
		}
	}
}

func reconcileDOB(snap *callctx.Context, extracted map[string]any, log *slog.Logger) {
	stated, _ := extracted["extracted_dob"].(string)
	onFile := snap.Seed.DOB
	if stated == "" || onFile == "" {
		return
	}
	if NormalizeDOB(stated) == NormalizeDOB(onFile) {
		extracted["dob_verified"] = true
		extracted["dob_correct"] = true
		log.Info("dob verified", "call_sid", snap.CallSID)
	} else {
		extracted["dob_mismatch"] = true
		extracted["dob_incorrect"] = true
		log.Info("dob mismatch", "call_sid", snap.CallSID, "stated", stated)
	}
}

var nonDigits = regexp.MustCompile(`[^0-9]`)

// NormalizeDOB reduces a date-of-birth string to a comparable form:
// digits only when a full 8-digit date survives, otherwise the trimmed
// lowercase text.
func NormalizeDOB(dob string) string {
	if dob == "" {
		return ""
	}
	digits := nonDigits.ReplaceAllString(dob, "")
	if len(digits) == 8 {
		return digits
	}
	return strings.ToLower(strings.TrimSpace(dob))
}
