// Package flow decides which dialogue node a call moves to after each
// turn. Rules are ordered: global rules run before the current node's own
// rules, the first rule whose condition holds wins, and a turn with no
// matching rule stays on the current node.
package flow

import (
	"log/slog"

	"github.com/voxflow-ai/voxflow/pkg/template"
)

// End is the terminal target. Reaching it means the call should wrap up.
const End = "END"

// Condition examines the call context and reports whether its rule fires.
type Condition func(v template.Values) bool

// Rule maps a condition to a target node. Label names the rule in logs.
type Rule struct {
	Label  string
	When   Condition
	Target string
}

// Engine evaluates transition rules. Global rules apply on every turn
// regardless of the current node; node rules apply only on their node.
type Engine struct {
	global []Rule
	byNode map[string][]Rule
	log    *slog.Logger
}

// NewEngine builds an Engine. A nil logger defaults to slog.Default.
func NewEngine(global []Rule, byNode map[string][]Rule, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{global: global, byNode: byNode, log: log}
}

// Next returns the node the call moves to from current given the context
// in v. A condition that panics is treated as not matching; evaluation
// continues with the next rule.
func (e *Engine) Next(current string, v template.Values) string {
	if current == End {
		return End
	}
	for _, r := range e.global {
		if e.matches(r, v) {
			e.log.Debug("flow: global rule fired", "rule", r.Label, "from", current, "to", r.Target)
			return r.Target
		}
	}
	for _, r := range e.byNode[current] {
		if e.matches(r, v) {
			e.log.Debug("flow: node rule fired", "rule", r.Label, "from", current, "to", r.Target)
			return r.Target
		}
	}
	return current
}

// Terminal reports whether node ends the call.
func Terminal(node string) bool { return node == End }

func (e *Engine) matches(r Rule, v template.Values) (fired bool) {
	defer func() {
		if p := recover(); p != nil {
			e.log.Error("flow: rule condition panicked", "rule", r.Label, "panic", p)
			fired = false
		}
	}()
	if r.When == nil {
		return false
	}
	return r.When(v)
}

// Helper conditions used by the production rule table.

// True holds when the named context value is present and truthy.
func True(name string) Condition {
	return func(v template.Values) bool {
		val, ok := v.Lookup(name)
		if !ok || val == nil {
			return false
		}
		switch t := val.(type) {
		case bool:
			return t
		case string:
			return t != "" && t != "false" && t != "False" && t != "0"
		case int:
			return t != 0
		case float64:
			return t != 0
		default:
			return true
		}
	}
}

// Equals holds when the named value's string form equals want.
func Equals(name, want string) Condition {
	return func(v template.Values) bool {
		val, ok := v.Lookup(name)
		if !ok || val == nil {
			return false
		}
		if s, isStr := val.(string); isStr {
			return s == want
		}
		return false
	}
}

// AtLeast holds when the named numeric value is >= n.
func AtLeast(name string, n int) Condition {
	return func(v template.Values) bool {
		val, ok := v.Lookup(name)
		if !ok {
			return false
		}
		switch t := val.(type) {
		case int:
			return t >= n
		case int64:
			return int(t) >= n
		case float64:
			return int(t) >= n
		}
		return false
	}
}

// All holds when every condition holds.
func All(conds ...Condition) Condition {
	return func(v template.Values) bool {
		for _, c := range conds {
			if !c(v) {
				return false
			}
		}
		return true
	}
}

// Any holds when at least one condition holds.
func Any(conds ...Condition) Condition {
	return func(v template.Values) bool {
		for _, c := range conds {
			if c(v) {
				return true
			}
		}
		return false
	}
}

// IsFalse holds only when the named value is an explicit false, not when
// it is merely absent.
func IsFalse(name string) Condition {
	return func(v template.Values) bool {
		val, ok := v.Lookup(name)
		if !ok {
			return false
		}
		switch t := val.(type) {
		case bool:
			return !t
		case string:
			return t == "false" || t == "False"
		}
		return false
	}
}

// Not inverts a condition.
func Not(c Condition) Condition {
	return func(v template.Values) bool { return !c(v) }
}
