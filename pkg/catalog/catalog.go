// Package catalog loads the dialogue node catalog: the master prompt, the
// per-node prompt templates, the variables each node asks extraction to
// capture, and the API actions a node runs on entry.
package catalog

import (
	"fmt"
	"os"
	"sort"

	"github.com/goccy/go-yaml"

	"github.com/voxflow-ai/voxflow/pkg/template"
)

// Variable describes one value a node wants extracted from the
// conversation.
type Variable struct {
	Name        string `yaml:"name" json:"name"`
	Type        string `yaml:"type" json:"type"`
	Description string `yaml:"description" json:"description"`
}

// BodyField is one key in an API request body. Value is a template
// rendered against the call context.
type BodyField struct {
	Key   string `yaml:"key" json:"key"`
	Value string `yaml:"value" json:"value"`
}

// ResponseField maps a dotted path in an API response body to a context
// key. An empty Path defaults to the key itself.
type ResponseField struct {
	Key  string `yaml:"key" json:"key"`
	Path string `yaml:"path" json:"path"`
}

// API is one HTTP action a node runs when the call enters it. Exactly one
// of Post or Get is set; both are URL templates.
type API struct {
	Post     string          `yaml:"post,omitempty" json:"post,omitempty"`
	Get      string          `yaml:"get,omitempty" json:"get,omitempty"`
	Body     []BodyField     `yaml:"body,omitempty" json:"body,omitempty"`
	Response []ResponseField `yaml:"response,omitempty" json:"response,omitempty"`
}

// Node is one dialogue state.
type Node struct {
	Prompt    string     `yaml:"prompt" json:"prompt"`
	Variables []Variable `yaml:"variables,omitempty" json:"variables,omitempty"`
	APIs      []API      `yaml:"apis,omitempty" json:"apis,omitempty"`
}

// Catalog is the full loaded node configuration.
type Catalog struct {
	Version      string          `yaml:"version" json:"version"`
	MasterPrompt string          `yaml:"master_prompt" json:"master_prompt"`
	GreetingNode string          `yaml:"greeting_node" json:"greeting_node"`
	Nodes        map[string]Node `yaml:"nodes" json:"nodes"`
}

// Load reads and validates a catalog file. YAML and JSON both parse.
func Load(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes and validates catalog bytes.
func Parse(raw []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("catalog: parse: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks structural invariants the rest of the pipeline relies
// on.
func (c *Catalog) Validate() error {
	if len(c.Nodes) == 0 {
		return fmt.Errorf("catalog: no nodes defined")
	}
	if c.GreetingNode == "" {
		return fmt.Errorf("catalog: greeting_node not set")
	}
	if _, ok := c.Nodes[c.GreetingNode]; !ok {
		return fmt.Errorf("catalog: greeting_node %q has no definition", c.GreetingNode)
	}
	if bad := template.Validate(c.MasterPrompt); len(bad) > 0 {
		return fmt.Errorf("catalog: master_prompt has unterminated blocks: %v", bad)
	}
	for id, n := range c.Nodes {
		if bad := template.Validate(n.Prompt); len(bad) > 0 {
			return fmt.Errorf("catalog: node %s prompt has unterminated blocks: %v", id, bad)
		}
		for i, a := range n.APIs {
			if (a.Post == "") == (a.Get == "") {
				return fmt.Errorf("catalog: node %s api %d must set exactly one of post or get", id, i)
			}
			if a.Get != "" && len(a.Body) > 0 {
				return fmt.Errorf("catalog: node %s api %d sets a body on a get", id, i)
			}
		}
		for i, v := range n.Variables {
			if v.Name == "" {
				return fmt.Errorf("catalog: node %s variable %d has no name", id, i)
			}
		}
	}
	return nil
}

// Node returns a node definition.
func (c *Catalog) Node(id string) (Node, bool) {
	n, ok := c.Nodes[id]
	return n, ok
}

// Variables returns the extraction variables a node declares.
func (c *Catalog) Variables(id string) []Variable {
	return c.Nodes[id].Variables
}

// NodeIDs lists all node ids, sorted.
func (c *Catalog) NodeIDs() []string {
	ids := make([]string, 0, len(c.Nodes))
	for id := range c.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
