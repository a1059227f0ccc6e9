package http

import (
	"log"
	"net/http"

	"assessment-service/internal/app"
	"assessment-service/internal/rbac"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

// watchAttempts upgrades to a websocket and streams attempt events for
// one definition to proctoring/monitoring dashboards. View-all only.
func (h *Handler) watchAttempts(w http.ResponseWriter, r *http.Request) {
	p, ok := participantFrom(r)
	if !ok {
		unauthorized(w)
		return
	}
	if !h.checker.Has(p.Role, rbac.PermViewAll) {
		writeJSON(w, http.StatusForbidden, errorResponse{
			Error: errorBody{Kind: "role_not_allowed", Message: "watching attempts requires the view-all capability"},
		})
		return
	}
	definitionID := r.PathValue("id")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	events, cancel := h.service.Monitor().Subscribe(definitionID)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Drain inbound frames so we notice when the peer goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(outboundMessage[app.AttemptEvent]{Type: "attempt", Payload: evt}); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		case <-done:
			return
		}
	}
}
