package http

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"assessment-service/internal/app"
	"github.com/gorilla/websocket"
)

func TestWatchAttemptsStreamsEvents(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	u := "ws" + server.URL[len("http"):] + "/assessments/exam-1/watch"
	header := http.Header{}
	header.Set("X-Participant-Id", "i1")
	header.Set("X-Participant-Role", "instructor")
	conn, _, err := websocket.DefaultDialer.Dial(u, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// A student starting an attempt must show up on the feed. The dial
	// returning races the server-side subscribe, so retry with fresh
	// participants until an event lands.
	var msg struct {
		Type    string           `json:"type"`
		Payload app.AttemptEvent `json:"payload"`
	}
	deadline := time.Now().Add(5 * time.Second)
	for i := 1; ; i++ {
		res := doJSON(t, server, "POST", "/assessments/exam-1/attempts", fmt.Sprintf("u%d", i), "student", nil)
		res.Body.Close()
		if res.StatusCode != http.StatusOK {
			t.Fatalf("start status %d", res.StatusCode)
		}

		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		if err := conn.ReadJSON(&msg); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("no event received before deadline")
		}
	}
	if msg.Type != "attempt" {
		t.Fatalf("expected attempt message, got %s", msg.Type)
	}
	if msg.Payload.Type != app.EventStarted || msg.Payload.DefinitionID != "exam-1" {
		t.Fatalf("unexpected event %+v", msg.Payload)
	}
}

func TestWatchAttemptsRequiresViewAll(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	u := "ws" + server.URL[len("http"):] + "/assessments/exam-1/watch"
	header := http.Header{}
	header.Set("X-Participant-Id", "u1")
	header.Set("X-Participant-Role", "student")
	_, res, err := websocket.DefaultDialer.Dial(u, header)
	if err == nil {
		t.Fatalf("expected student dial to be rejected")
	}
	if res == nil || res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %+v", res)
	}
}
