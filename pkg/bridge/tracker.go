// Package bridge joins a telephony media stream to a realtime voice-agent
// session and drives the dialogue engine from the conversation events.
package bridge

import (
	"context"
	"sync"
)

// Handle is what a registered call exposes to the tracker: a way to tear
// it down and a way to hang it up with a spoken reason.
type Handle struct {
	Cancel func()
	Hangup func(reason string) error
}

// Tracker keeps the set of live calls so shutdown can drain them.
type Tracker struct {
	mu    sync.Mutex
	calls map[string]*trackedCall
	wg    sync.WaitGroup
}

type trackedCall struct {
	handle Handle
	once   sync.Once
}

func NewTracker() *Tracker {
	return &Tracker{
		calls: make(map[string]*trackedCall),
	}
}

// Register adds a call. Registering the same call SID again tears down
// the previous registration first.
func (t *Tracker) Register(callSID string, h Handle) (unregister func()) {
	if t == nil {
		return func() {}
	}

	entry := &trackedCall{handle: h}

	t.mu.Lock()
	if t.calls == nil {
		t.calls = make(map[string]*trackedCall)
	}
	old := t.calls[callSID]
	t.calls[callSID] = entry
	t.wg.Add(1)
	t.mu.Unlock()

	if old != nil {
		t.unregister(callSID, old)
	}

	return func() { t.unregister(callSID, entry) }
}

func (t *Tracker) unregister(callSID string, entry *trackedCall) {
	if t == nil || entry == nil {
		return
	}
	entry.once.Do(func() {
		t.mu.Lock()
		if t.calls != nil && t.calls[callSID] == entry {
			delete(t.calls, callSID)
		}
		t.mu.Unlock()
		t.wg.Done()
	})
}

func (t *Tracker) Count() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

// HangupAll asks every live call to wind down with the given reason.
func (t *Tracker) HangupAll(reason string) (sent int) {
	if t == nil {
		return 0
	}

	var hangups []func(reason string) error
	t.mu.Lock()
	for _, entry := range t.calls {
		if entry == nil || entry.handle.Hangup == nil {
			continue
		}
		hangups = append(hangups, entry.handle.Hangup)
	}
	t.mu.Unlock()

	for _, hangup := range hangups {
		_ = hangup(reason)
		sent++
	}
	return sent
}

func (t *Tracker) CancelAll() (canceled int) {
	if t == nil {
		return 0
	}

	var cancels []func()
	t.mu.Lock()
	for _, entry := range t.calls {
		if entry == nil || entry.handle.Cancel == nil {
			continue
		}
		cancels = append(cancels, entry.handle.Cancel)
	}
	t.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
		canceled++
	}
	return canceled
}

// Wait blocks until every registered call has unregistered, or the
// context expires. Returns true when fully drained.
func (t *Tracker) Wait(ctx context.Context) bool {
	if t == nil {
		return true
	}
	if ctx == nil {
		t.wg.Wait()
		return true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		t.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
