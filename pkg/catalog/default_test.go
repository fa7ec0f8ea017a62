package catalog

import (
	"testing"

	"github.com/voxflow-ai/voxflow/pkg/flow"
)

// The catalog shipped at the repo root has to stay in lockstep with the
// transition table: every node the table can land on needs a definition.
func TestDefaultCatalogCoversFlowTable(t *testing.T) {
	c, err := Load("../../catalog.yaml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.GreetingNode != flow.NodeGreeting {
		t.Fatalf("greeting_node = %q, want %q", c.GreetingNode, flow.NodeGreeting)
	}

	want := make(map[string]bool)
	for node, rules := range flow.NodeRules() {
		want[node] = true
		for _, r := range rules {
			if !flow.Terminal(r.Target) {
				want[r.Target] = true
			}
		}
	}
	for _, r := range flow.GlobalRules() {
		want[r.Target] = true
	}
	for node := range want {
		if _, ok := c.Node(node); !ok {
			t.Errorf("flow table references node %s but the catalog does not define it", node)
		}
	}
	for _, id := range c.NodeIDs() {
		if !want[id] {
			t.Errorf("catalog defines node %s which the flow table never reaches", id)
		}
	}
}

func TestDefaultCatalogDeclaresTransitionFlags(t *testing.T) {
	c, err := Load("../../catalog.yaml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	checks := map[string][]string{
		flow.NodeGreeting:       {"is_borrower", "user_not_available"},
		flow.NodeDOBFirst:       {"dob_verified", "dob_mismatch"},
		flow.NodeMiniMiranda:    {"mini_miranda_complete"},
		flow.NodeDisasterCheck:  {"affected_by_disaster"},
		flow.NodePaymentCollect: {"payment_amount_received", "payment_date_received"},
		flow.NodeNACHA:          {"nacha_permission_granted"},
		flow.NodeApptConfirm:    {"appointment_confirmed"},
	}
	for node, names := range checks {
		declared := make(map[string]bool)
		for _, v := range c.Variables(node) {
			declared[v.Name] = true
		}
		for _, name := range names {
			if !declared[name] {
				t.Errorf("node %s does not declare %s", node, name)
			}
		}
	}
}

func TestDefaultCatalogAPIActions(t *testing.T) {
	c, err := Load("../../catalog.yaml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	pay, _ := c.Node(flow.NodePaymentProcess)
	if len(pay.APIs) != 1 || pay.APIs[0].Post == "" {
		t.Fatalf("payment node apis = %+v", pay.APIs)
	}
	if pay.APIs[0].Response[0].Key != "confirmation_number" {
		t.Fatalf("payment response mapping = %+v", pay.APIs[0].Response)
	}
	slots, _ := c.Node(flow.NodeApptSlots)
	if len(slots.APIs) != 1 || slots.APIs[0].Get == "" {
		t.Fatalf("slots node apis = %+v", slots.APIs)
	}
}
