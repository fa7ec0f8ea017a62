package flow

import (
	"testing"

	"github.com/voxflow-ai/voxflow/pkg/template"
)

type mapValues map[string]any

func (m mapValues) Lookup(name string) (any, bool) {
	v, ok := m[name]
	return v, ok
}

func prodEngine() *Engine {
	return NewEngine(GlobalRules(), NodeRules(), nil)
}

func TestNextFirstMatchWins(t *testing.T) {
	e := NewEngine(nil, map[string][]Rule{
		"a": {
			{"first", True("x"), "b"},
			{"second", True("x"), "c"},
		},
	}, nil)
	if got := e.Next("a", mapValues{"x": true}); got != "b" {
		t.Fatalf("Next = %q, want b", got)
	}
}

func TestNextDefaultSelfLoop(t *testing.T) {
	e := prodEngine()
	if got := e.Next(NodeGreeting, mapValues{}); got != NodeGreeting {
		t.Fatalf("no-match turn should stay, got %q", got)
	}
}

func TestNextUnknownNodeStays(t *testing.T) {
	e := prodEngine()
	if got := e.Next("n999", mapValues{}); got != "n999" {
		t.Fatalf("unknown node should self-loop, got %q", got)
	}
}

func TestGlobalBeforeNodeRules(t *testing.T) {
	e := prodEngine()
	// Both a global escalation and a node rule match; global wins.
	got := e.Next(NodeGreeting, mapValues{
		"user_requests_live_agent": true,
		"is_borrower":              true,
	})
	if got != NodeTransferIntake {
		t.Fatalf("global rule should win, got %q", got)
	}
}

func TestTerminalStaysTerminal(t *testing.T) {
	e := prodEngine()
	if got := e.Next(End, mapValues{"is_borrower": true}); got != End {
		t.Fatalf("END must be absorbing, got %q", got)
	}
	if !Terminal(End) || Terminal(NodeGreeting) {
		t.Fatalf("Terminal misclassifies")
	}
}

func TestPanickingConditionSkipped(t *testing.T) {
	boom := func(template.Values) bool { panic("boom") }
	e := NewEngine(nil, map[string][]Rule{
		"a": {
			{"panics", boom, "x"},
			{"sound", Always(), "y"},
		},
	}, nil)
	if got := e.Next("a", mapValues{}); got != "y" {
		t.Fatalf("panicking rule should not match, got %q", got)
	}
}

func TestDOBFlow(t *testing.T) {
	e := prodEngine()

	if got := e.Next(NodeDOBFirst, mapValues{"dob_verified": true}); got != NodeMiniMiranda {
		t.Fatalf("verified dob: got %q", got)
	}
	if got := e.Next(NodeDOBFirst, mapValues{"dob_mismatch": true}); got != NodeDOBMismatch {
		t.Fatalf("mismatched dob: got %q", got)
	}
	if got := e.Next(NodeDOBMismatch, mapValues{}); got != NodeDOBSecond {
		t.Fatalf("mismatch notification should pass through, got %q", got)
	}
	if got := e.Next(NodeDOBSecond, mapValues{"dob_still_wrong": true}); got != NodeDOBFailed {
		t.Fatalf("second failure: got %q", got)
	}
	if got := e.Next(NodeDOBFailed, mapValues{}); got != End {
		t.Fatalf("failed verification should end, got %q", got)
	}
	if got := e.Next(NodeDOBFirst, mapValues{"dob_attempts": 5}); got != NodeTransferIntake {
		t.Fatalf("attempt cap should transfer, got %q", got)
	}
}

func TestAttemptCapOverridesOtherFlags(t *testing.T) {
	e := prodEngine()
	// Once the retry ceiling is hit, escalation wins even when the same
	// turn carries a success flag.
	got := e.Next(NodeDOBFirst, mapValues{"dob_verified": true, "dob_attempts": 5})
	if got != NodeTransferIntake {
		t.Fatalf("got %q, want the cap to force escalation", got)
	}
	got = e.Next(NodeDOBSecond, mapValues{"dob_reconfirmed": true, "dob_attempts": 6})
	if got != NodeTransferIntake {
		t.Fatalf("got %q, want the cap to force escalation on retry", got)
	}
}

func TestPaymentPath(t *testing.T) {
	e := prodEngine()

	got := e.Next(NodePaymentCollect, mapValues{
		"user_provided_payment_amount": "250.00",
		"upd_extracted_payment_date":   "2026-09-05",
	})
	if got != NodePaymentValidate {
		t.Fatalf("amount+date should validate, got %q", got)
	}

	got = e.Next(NodePaymentValidate, mapValues{
		"user_provided_payment_amount": "250.00",
		"user_provided_payment_date":   "2026-09-05",
	})
	if got != NodeAccountCollect {
		t.Fatalf("validated payment should collect account, got %q", got)
	}

	// NA sentinels do not count as provided.
	got = e.Next(NodePaymentValidate, mapValues{
		"user_provided_payment_amount": "NA",
		"user_provided_payment_date":   "2026-09-05",
	})
	if got != NodePaymentValidate {
		t.Fatalf("NA amount should stay, got %q", got)
	}

	if got := e.Next(NodeNACHA, mapValues{"nacha_permission_granted": true}); got != NodePaymentProcess {
		t.Fatalf("authorization should process, got %q", got)
	}
	if got := e.Next(NodePaymentProcess, mapValues{"api_status_code": 200}); got != NodeConfirmation {
		t.Fatalf("api 200 should confirm, got %q", got)
	}
	if got := e.Next(NodePaymentProcess, mapValues{"api_status_code": 500}); got != NodeTransferIntake {
		t.Fatalf("api failure should transfer, got %q", got)
	}
	if got := e.Next(NodePaymentProcess, mapValues{"api_error": "timeout"}); got != NodeTransferIntake {
		t.Fatalf("api error should transfer, got %q", got)
	}
}

func TestOptionsNeedQuestionAsked(t *testing.T) {
	e := prodEngine()
	if got := e.Next(NodePaymentCollect, mapValues{"borrower_wants_options": true}); got != NodePaymentCollect {
		t.Fatalf("options without the question asked should stay, got %q", got)
	}
	got := e.Next(NodePaymentCollect, mapValues{
		"borrower_wants_options": true,
		"options_question_asked": true,
	})
	if got != NodePaymentOptions {
		t.Fatalf("options after question should move, got %q", got)
	}
}

func TestDisasterFalseRequiresExplicit(t *testing.T) {
	e := prodEngine()
	if got := e.Next(NodeDisasterCheck, mapValues{}); got != NodeDisasterCheck {
		t.Fatalf("absent answer should stay, got %q", got)
	}
	if got := e.Next(NodeDisasterCheck, mapValues{"affected_by_disaster": false}); got != NodeContinue {
		t.Fatalf("explicit false should continue, got %q", got)
	}
	if got := e.Next(NodeDisasterCheck, mapValues{"affected_by_disaster": true}); got != NodeLossMitigation {
		t.Fatalf("affected should go to loss mitigation, got %q", got)
	}
}

func TestEveryTargetHasRulesOrEnds(t *testing.T) {
	rules := NodeRules()
	check := func(target, from string) {
		if target == End {
			return
		}
		if _, ok := rules[target]; !ok {
			t.Errorf("node %s routes to %s, which has no rules", from, target)
		}
	}
	for _, r := range GlobalRules() {
		check(r.Target, "global")
	}
	for node, nr := range rules {
		for _, r := range nr {
			check(r.Target, node)
		}
	}
}

func TestTargetsIncludesGlobals(t *testing.T) {
	ts := Targets(NodeDOBFailed)
	found := false
	for _, n := range ts {
		if n == NodeTransferIntake {
			found = true
		}
	}
	if !found {
		t.Fatalf("Targets should include global escalation targets, got %v", ts)
	}
}
