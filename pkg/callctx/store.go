package callctx

import (
	"log/slog"
	"sync"
	"time"
)

// Store keeps one Context per active call SID. A global mutex guards the
// registry map; each entry carries its own mutex so two calls never
// contend with each other during mutation.
type Store struct {
	mu          sync.Mutex
	entries     map[string]*entry
	defaultNode string
	log         *slog.Logger
	now         func() time.Time
}

type entry struct {
	mu  sync.Mutex
	ctx *Context
}

// NewStore returns an empty Store. A nil logger defaults to slog.Default.
func NewStore(log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		entries: make(map[string]*entry),
		log:     log,
		now:     time.Now,
	}
}

// SetDefaultNode sets the node CurrentNode reports for calls the store
// does not know. The orchestrator wires the catalog's greeting node here
// so a lookup racing call setup lands on the opening step, never on an
// empty node id.
func (s *Store) SetDefaultNode(node string) {
	s.mu.Lock()
	s.defaultNode = node
	s.mu.Unlock()
}

// Create registers a fresh context for callSID seeded from seed, stamping
// the date/time fields and the call's starting language. An existing
// context under the same SID is replaced.
func (s *Store) Create(callSID, startNode, language string, seed Seed) *Context {
	now := s.now()
	ctx := &Context{
		CallSID:          callSID,
		CreatedAt:        now,
		CurrentNode:      startNode,
		Language:         language,
		Seed:             seed,
		CurrentDate:      now.Format("2006-01-02"),
		CurrentDayOfWeek: now.Weekday().String(),
		CurrentTime:      now.Format("15:04"),
		Counters:         make(map[string]int),
		Vars:             make(map[string]any),
	}

	s.mu.Lock()
	if _, ok := s.entries[callSID]; ok {
		s.log.Warn("callctx: replacing existing context", "call_sid", callSID)
	}
	s.entries[callSID] = &entry{ctx: ctx}
	s.mu.Unlock()

	s.log.Info("callctx: created", "call_sid", callSID, "node", startNode, "language", language)
	return ctx.clone()
}

func (s *Store) get(callSID string) (*entry, bool) {
	s.mu.Lock()
	e, ok := s.entries[callSID]
	s.mu.Unlock()
	return e, ok
}

// Get returns a snapshot of the context for callSID.
func (s *Store) Get(callSID string) (*Context, bool) {
	e, ok := s.get(callSID)
	if !ok {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ctx.clone(), true
}

// Update merges vars into the context. Nil values leave the current value
// unchanged, so extraction output with unanswered fields cannot erase
// facts captured on earlier turns. Keys matching fixed-schema fields are
// routed to their slots.
func (s *Store) Update(callSID string, vars map[string]any) bool {
	e, ok := s.get(callSID)
	if !ok {
		s.log.Warn("callctx: update on unknown call", "call_sid", callSID)
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for k, v := range vars {
		if v == nil {
			continue
		}
		e.ctx.set(k, v)
	}
	return true
}

func (c *Context) set(key string, v any) {
	switch key {
	case "language":
		if s, ok := v.(string); ok {
			c.Language = s
			return
		}
	case "current_node":
		if s, ok := v.(string); ok {
			c.CurrentNode = s
			return
		}
	case "api_status_code":
		c.APIStatusCode = asInt(v)
		return
	case "api_error":
		if s, ok := v.(string); ok {
			c.APIError = s
			return
		}
	}
	c.Vars[key] = v
}

// SetCurrentNode moves the call to node.
func (s *Store) SetCurrentNode(callSID, node string) bool {
	e, ok := s.get(callSID)
	if !ok {
		return false
	}
	e.mu.Lock()
	e.ctx.CurrentNode = node
	e.mu.Unlock()
	return true
}

// CurrentNode returns the call's active node id. Unknown calls report
// the configured default node.
func (s *Store) CurrentNode(callSID string) string {
	e, ok := s.get(callSID)
	if !ok {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.defaultNode
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ctx.CurrentNode
}

// SetLanguage records the call's active language.
func (s *Store) SetLanguage(callSID, language string) bool {
	return s.Update(callSID, map[string]any{"language": language})
}

// AppendTranscript appends one utterance to the call's transcript.
func (s *Store) AppendTranscript(callSID, role, content string) bool {
	e, ok := s.get(callSID)
	if !ok {
		return false
	}
	e.mu.Lock()
	e.ctx.Transcript = append(e.ctx.Transcript, TranscriptEntry{
		Role:      role,
		Content:   content,
		Timestamp: s.now(),
	})
	e.mu.Unlock()
	return true
}

// Transcript returns up to limit most recent entries in chronological
// order. limit <= 0 returns the full transcript.
func (s *Store) Transcript(callSID string, limit int) []TranscriptEntry {
	e, ok := s.get(callSID)
	if !ok {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	t := e.ctx.Transcript
	if limit > 0 && len(t) > limit {
		t = t[len(t)-limit:]
	}
	return append([]TranscriptEntry(nil), t...)
}

// IncrementCounter bumps a named counter and returns the new value.
func (s *Store) IncrementCounter(callSID, name string) int {
	e, ok := s.get(callSID)
	if !ok {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ctx.Counters[name]++
	return e.ctx.Counters[name]
}

// Delete drops the call's context and returns its final snapshot so the
// caller can report on it after teardown.
func (s *Store) Delete(callSID string) (*Context, bool) {
	s.mu.Lock()
	e, ok := s.entries[callSID]
	delete(s.entries, callSID)
	s.mu.Unlock()
	if !ok {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s.log.Info("callctx: deleted", "call_sid", callSID)
	return e.ctx.clone(), true
}

// ActiveCalls lists the SIDs of all live contexts.
func (s *Store) ActiveCalls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for sid := range s.entries {
		out = append(out, sid)
	}
	return out
}
