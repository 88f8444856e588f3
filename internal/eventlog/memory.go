package eventlog

import "sync"

// Memory keeps events in a slice. Fail makes every following Append return
// err, which is how callers exercise the audit-failure path.
type Memory struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Append(ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if _, err := Encode(ev); err != nil {
		return err
	}
	m.events = append(m.events, ev)
	return nil
}

func (m *Memory) Fail(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// OfKind returns the recorded events whose type is kind.
func (m *Memory) OfKind(kind string) []Event {
	out := make([]Event, 0)
	for _, ev := range m.Events() {
		if ev.Kind() == kind {
			out = append(out, ev)
		}
	}
	return out
}

// Discard drops every event.
type Discard struct{}

func (Discard) Append(Event) error { return nil }
