package app

import (
	"testing"
	"time"
)

func TestMonitorDeliversToSubscribers(t *testing.T) {
	m := NewMonitor()
	ch, cancel := m.Subscribe("exam-1")
	defer cancel()

	m.Publish(AttemptEvent{Type: EventStarted, DefinitionID: "exam-1", AttemptID: "a1"})
	evt := <-ch
	if evt.Type != EventStarted || evt.AttemptID != "a1" {
		t.Fatalf("unexpected event %+v", evt)
	}

	// Other definitions stay silent.
	m.Publish(AttemptEvent{Type: EventStarted, DefinitionID: "exam-2", AttemptID: "a2"})
	select {
	case evt := <-ch:
		t.Fatalf("received event for wrong definition: %+v", evt)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestMonitorDropsOldestWhenSlow(t *testing.T) {
	m := NewMonitor()
	ch, cancel := m.Subscribe("exam-1")
	defer cancel()

	// Overflow the buffer without reading; the oldest event gives way.
	for i := 0; i < 17; i++ {
		m.Publish(AttemptEvent{Type: EventStarted, DefinitionID: "exam-1", AttemptNumber: i + 1})
	}
	evt := <-ch
	if evt.AttemptNumber != 2 {
		t.Fatalf("expected oldest event dropped, first received %d", evt.AttemptNumber)
	}
}

func TestMonitorCancelClosesChannel(t *testing.T) {
	m := NewMonitor()
	ch, cancel := m.Subscribe("exam-1")
	cancel()
	cancel() // idempotent

	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel after cancel")
	}
	// Publishing after cancel must not panic.
	m.Publish(AttemptEvent{Type: EventSubmitted, DefinitionID: "exam-1"})
}
