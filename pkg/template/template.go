// Package template renders node prompt templates. Templates carry two
// constructs: conditional blocks delimited by {% tag %} ... {% endtag %}
// whose inclusion is decided by a named predicate, and {{variable}}
// placeholders substituted from call context values.
package template

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Values resolves variable names during rendering. *callctx.Context
// satisfies it.
type Values interface {
	Lookup(name string) (any, bool)
}

// Predicate decides whether a conditional block's content is kept.
type Predicate func(v Values) bool

var (
	tagRe = regexp.MustCompile(`\{%\s*(\w+)\s*%\}`)
	varRe = regexp.MustCompile(`\{\{\s*([\w.]+)\s*\}\}`)
)

// Renderer holds the predicate registry. The zero value has no
// predicates; unknown tags fail open (content kept, markers stripped)
// with a warning.
type Renderer struct {
	predicates map[string]Predicate
	log        *slog.Logger
}

// NewRenderer returns a Renderer with the given predicates registered.
// A nil logger defaults to slog.Default.
func NewRenderer(predicates map[string]Predicate, log *slog.Logger) *Renderer {
	if log == nil {
		log = slog.Default()
	}
	r := &Renderer{predicates: make(map[string]Predicate, len(predicates)), log: log}
	for name, p := range predicates {
		r.predicates[name] = p
	}
	return r
}

// Register adds or replaces a predicate.
func (r *Renderer) Register(name string, p Predicate) {
	if r.predicates == nil {
		r.predicates = make(map[string]Predicate)
	}
	r.predicates[name] = p
}

// Render resolves conditionals against v, substitutes variables, and
// normalizes whitespace. Each predicate runs at most once per Render even
// when its tag appears in several blocks. Rendering is pure: v is never
// mutated, and rendering the output again returns it unchanged.
func (r *Renderer) Render(tmpl string, v Values) string {
	out := r.resolveConditionals(tmpl, v)
	out = substitute(out, v)
	return Normalize(out)
}

func (r *Renderer) logger() *slog.Logger {
	if r.log == nil {
		return slog.Default()
	}
	return r.log
}

func (r *Renderer) resolveConditionals(tmpl string, v Values) string {
	// One evaluation per tag name per render, so a predicate with side
	// observations (counters, time) cannot disagree with itself.
	decided := make(map[string]bool)
	decide := func(name string) bool {
		if d, ok := decided[name]; ok {
			return d
		}
		keep := true
		if p, ok := r.predicates[name]; ok {
			keep = safeCall(p, v)
		} else {
			r.logger().Warn("template: no predicate for conditional tag, keeping block", "tag", name)
		}
		decided[name] = keep
		return keep
	}

	var b strings.Builder
	rest := tmpl
	for {
		open := tagRe.FindStringSubmatchIndex(rest)
		if open == nil {
			b.WriteString(rest)
			break
		}
		name := rest[open[2]:open[3]]
		if strings.HasPrefix(name, "end") {
			// Stray end marker with no opener. Drop it.
			b.WriteString(rest[:open[0]])
			rest = rest[open[1]:]
			continue
		}
		b.WriteString(rest[:open[0]])
		body, tail, ok := splitBlock(rest[open[1]:], name)
		if !ok {
			// Unterminated block: fail open on the remainder.
			b.WriteString(rest[open[1]:])
			break
		}
		if decide(name) {
			b.WriteString(r.resolveConditionals(body, v))
		}
		rest = tail
	}
	return b.String()
}

// splitBlock finds the matching {% endname %} for an already-consumed
// opener, honoring nested blocks of the same name.
func splitBlock(s, name string) (body, tail string, ok bool) {
	depth := 1
	offset := 0
	for {
		m := tagRe.FindStringSubmatchIndex(s[offset:])
		if m == nil {
			return "", "", false
		}
		tag := s[offset+m[2] : offset+m[3]]
		switch tag {
		case name:
			depth++
		case "end" + name:
			depth--
			if depth == 0 {
				return s[:offset+m[0]], s[offset+m[1]:], true
			}
		}
		offset += m[1]
	}
}

func safeCall(p Predicate, v Values) (keep bool) {
	defer func() {
		if recover() != nil {
			keep = true
		}
	}()
	return p(v)
}

func substitute(tmpl string, v Values) string {
	return varRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := varRe.FindStringSubmatch(m)[1]
		val, ok := v.Lookup(name)
		if !ok || val == nil {
			return ""
		}
		return stringify(val)
	})
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case float64:
		// Extraction output arrives as float64; render whole numbers
		// without a fractional tail.
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Normalize folds three or more consecutive newlines to two, blanks
// lines that hold only whitespace, and drops leading and trailing blank
// lines. Content-bearing lines are left untouched. Applying it twice is a
// no-op.
func Normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = blankRunRe.ReplaceAllString(s, "\n\n")
	lines := strings.Split(s, "\n")
	for i, ln := range lines {
		if strings.TrimSpace(ln) == "" {
			lines[i] = ""
		}
	}
	start, end := 0, len(lines)
	for start < end && lines[start] == "" {
		start++
	}
	for end > start && lines[end-1] == "" {
		end--
	}
	return strings.Join(lines[start:end], "\n")
}

var blankRunRe = regexp.MustCompile(`\n{3,}`)

// Vars lists the distinct variable names referenced by tmpl, sorted.
func Vars(tmpl string) []string {
	seen := make(map[string]struct{})
	for _, m := range varRe.FindAllStringSubmatch(tmpl, -1) {
		seen[m[1]] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Tags lists the distinct conditional tag names opened in tmpl, sorted.
func Tags(tmpl string) []string {
	seen := make(map[string]struct{})
	for _, m := range tagRe.FindAllStringSubmatch(tmpl, -1) {
		if !strings.HasPrefix(m[1], "end") {
			seen[m[1]] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Validate reports tags that open without a matching end marker.
func Validate(tmpl string) []string {
	var bad []string
	rest := tmpl
	for {
		open := tagRe.FindStringSubmatchIndex(rest)
		if open == nil {
			return bad
		}
		name := rest[open[2]:open[3]]
		rest = rest[open[1]:]
		if strings.HasPrefix(name, "end") {
			continue
		}
		body, tail, ok := splitBlock(rest, name)
		if !ok {
			bad = append(bad, name)
			continue
		}
		bad = append(bad, Validate(body)...)
		rest = tail
	}
}
