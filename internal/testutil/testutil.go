// Package testutil holds fakes shared by service tests.
package testutil

import (
	"context"
	"sync"
	"time"
)

// ProcessCall is one StartProcess invocation seen by FakeEngine.
type ProcessCall struct {
	ProcessID string
	Vars      map[string]interface{}
}

// FakeEngine records started processes instead of running them.
type FakeEngine struct {
	mu    sync.Mutex
	Calls []ProcessCall
	Err   error
}

func (f *FakeEngine) StartProcess(_ context.Context, processID string, vars map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, ProcessCall{ProcessID: processID, Vars: vars})
	return f.Err
}

// Started returns the process ids in call order.
func (f *FakeEngine) Started() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.Calls))
	for _, c := range f.Calls {
		ids = append(ids, c.ProcessID)
	}
	return ids
}

// Event is one realtime event captured by FakePublisher.
type Event struct {
	Type           string
	ConversationID string
	Payload        interface{}
	Recipients     []string
}

// FakePublisher captures realtime events.
type FakePublisher struct {
	mu     sync.Mutex
	Events []Event
}

func (f *FakePublisher) Publish(_ context.Context, eventType, conversationID string, payload interface{}, recipients ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Events = append(f.Events, Event{Type: eventType, ConversationID: conversationID, Payload: payload, Recipients: recipients})
	return nil
}

// FixedClock returns a clock frozen at t.
func FixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
