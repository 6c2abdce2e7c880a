// Package sse implements the user-facing Server-Sent Events stream: a
// fire-and-forget broadcast hub keyed by transmission id, grounded on the
// teacher's RouteModelStream/MCPSSEEndpoint flusher idiom.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/rs/zerolog/log"
)

// Event is one lifecycle event published on a transmission's stream.
type Event struct {
	Name string      `json:"event"`
	Data interface{} `json:"data"`
}

// terminalEvents close a subscriber's stream once delivered.
var terminalEvents = map[string]bool{
	"assistant_final_ready": true,
	"assistant_failed":      true,
}

// Hub fans out events to subscribers of a transmission id. Broadcasts are
// fire-and-forget: a slow or absent subscriber never blocks the pipeline.
type Hub struct {
	mu          sync.Mutex
	subscribers map[string][]chan Event
}

func NewHub() *Hub {
	return &Hub{subscribers: make(map[string][]chan Event)}
}

// Subscribe registers a new listener for transmissionID. Callers must
// invoke the returned cancel func once done reading.
func (h *Hub) Subscribe(transmissionID string) (<-chan Event, func()) {
	ch := make(chan Event, 8)
	h.mu.Lock()
	h.subscribers[transmissionID] = append(h.subscribers[transmissionID], ch)
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		subs := h.subscribers[transmissionID]
		for i, c := range subs {
			if c == ch {
				h.subscribers[transmissionID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(ch)
	}
	return ch, cancel
}

// Publish fans the event out to every current subscriber of transmissionID.
// A full subscriber channel is skipped rather than blocking the caller.
func (h *Hub) Publish(transmissionID string, ev Event) {
	h.mu.Lock()
	subs := append([]chan Event{}, h.subscribers[transmissionID]...)
	h.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
			log.Warn().Str("transmission_id", transmissionID).Str("event", ev.Name).Msg("sse subscriber channel full, dropping event")
		}
	}
}

// ServeStream writes SSE frames to w until the request context is done or a
// terminal event (assistant_final_ready / assistant_failed) is delivered.
func (h *Hub) ServeStream(w http.ResponseWriter, r *http.Request, transmissionID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events, cancel := h.Subscribe(transmissionID)
	defer cancel()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, _ := json.Marshal(ev.Data)
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name, data)
			flusher.Flush()
			if terminalEvents[ev.Name] {
				return
			}
		}
	}
}
