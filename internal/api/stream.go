package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const heartbeatInterval = 15 * time.Second

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

// snapshot returns the caller's unacknowledged finished jobs as stream events.
func (s *Server) snapshot(r *http.Request, requester string) []SSEEvent {
	events, err := s.Planning.ListEvents(r.Context(), requester)
	if err != nil {
		log.Warn().Err(err).Str("requester", requester).Msg("could not load planning events for stream")
		return nil
	}
	out := make([]SSEEvent, 0, len(events))
	for _, e := range events {
		out = append(out, jobEvent("planning.pending", e.PlanningID, e.PlanDate, string(e.Status), false))
	}
	return out
}

// StreamHandler handles GET /v1/auto-planning/stream (SSE)
func (s *Server) StreamHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := s.planner(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, 500, "Streaming unsupported", "", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := s.Broker.Subscribe(p.Requester)
	defer s.Broker.Unsubscribe(p.Requester, ch)

	send := func(evt SSEEvent) {
		b, _ := json.Marshal(evt.Data)
		fmt.Fprintf(w, "event: %s\n", evt.Type)
		fmt.Fprintf(w, "data: %s\n\n", b)
	}
	heartbeat := func() {
		fmt.Fprintf(w, "event: heartbeat\n")
		fmt.Fprintf(w, "data: {\"ts\":%q}\n\n", time.Now().UTC().Format(time.RFC3339))
	}
	heartbeat()
	for _, evt := range s.snapshot(r, p.Requester) {
		send(evt)
	}
	flusher.Flush()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case evt, open := <-ch:
			if !open {
				return
			}
			send(evt)
			flusher.Flush()
		case <-ticker.C:
			heartbeat()
			flusher.Flush()
		}
	}
}

// WSHandler handles GET /v1/auto-planning/ws. Each planning event is sent as a JSON
// text frame {"type": ..., "data": {...}}. Client frames are ignored.
func (s *Server) WSHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := s.planner(w, r)
	if !ok {
		return
	}
	// subscribe before the handshake completes so no event falls between the two
	ch := s.Broker.Subscribe(p.Requester)
	defer s.Broker.Unsubscribe(p.Requester, ch)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	// Read loop detects close frames and keeps pong deadlines moving.
	conn.SetReadLimit(1 << 16)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error { _ = conn.SetReadDeadline(time.Now().Add(60 * time.Second)); return nil })
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(v any) error {
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(v)
	}
	for _, evt := range s.snapshot(r, p.Requester) {
		if err := write(evt); err != nil {
			return
		}
	}

	ping := time.NewTicker(20 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case evt, open := <-ch:
			if !open {
				return
			}
			if err := write(evt); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}
