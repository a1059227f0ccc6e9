package app

import (
	"sync"
	"time"
)

// Attempt event types published to monitor subscribers.
const (
	EventStarted   = "attempt_started"
	EventSubmitted = "attempt_submitted"
	EventExpired   = "attempt_expired"
)

// AttemptEvent is one entry in the live attempt feed for a definition.
type AttemptEvent struct {
	Type          string    `json:"type"`
	DefinitionID  string    `json:"definitionId"`
	ParticipantID string    `json:"participantId"`
	AttemptID     string    `json:"attemptId"`
	AttemptNumber int       `json:"attemptNumber"`
	ScorePercent  *int      `json:"scorePercent,omitempty"`
	At            time.Time `json:"at"`
}

// Monitor fans attempt events out to per-definition subscribers. It is
// in-process only; proctoring dashboards subscribe through the websocket
// transport.
type Monitor struct {
	mu   sync.Mutex
	subs map[string]map[chan AttemptEvent]struct{}
}

func NewMonitor() *Monitor {
	return &Monitor{subs: make(map[string]map[chan AttemptEvent]struct{})}
}

// Subscribe returns a channel receiving events for the definition. The
// caller must invoke the returned cancel function to avoid leaks.
func (m *Monitor) Subscribe(definitionID string) (<-chan AttemptEvent, func()) {
	ch := make(chan AttemptEvent, 16)

	m.mu.Lock()
	set, ok := m.subs[definitionID]
	if !ok {
		set = make(map[chan AttemptEvent]struct{})
		m.subs[definitionID] = set
	}
	set[ch] = struct{}{}
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		if set, ok := m.subs[definitionID]; ok {
			if _, ok := set[ch]; ok {
				delete(set, ch)
				close(ch)
			}
			if len(set) == 0 {
				delete(m.subs, definitionID)
			}
		}
		m.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber of its definition. Slow
// subscribers lose their oldest pending event rather than blocking the
// engine.
func (m *Monitor) Publish(evt AttemptEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for ch := range m.subs[evt.DefinitionID] {
		select {
		case ch <- evt:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- evt
		}
	}
}
