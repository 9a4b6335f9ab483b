package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kozaktomas/face-attendance/internal/events"
)

// sseKeepAlive is how often an idle stream gets a comment line so proxies keep it open.
const sseKeepAlive = 30 * time.Second

// EventsHandler streams domain events to browsers.
type EventsHandler struct {
	bus *events.Bus
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(bus *events.Bus) *EventsHandler {
	return &EventsHandler{bus: bus}
}

// setupSSEConnection sets the SSE headers. On failure it writes an error response and returns false.
func setupSSEConnection(w http.ResponseWriter) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return nil, false
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	return flusher, true
}

// sendSSEEvent writes one event and flushes it.
func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) {
	jsonData, _ := json.Marshal(data)
	_, _ = io.WriteString(w, "event: "+eventType+"\n")
	_, _ = io.WriteString(w, "data: ")
	_, _ = io.Copy(w, bytes.NewReader(jsonData))
	_, _ = io.WriteString(w, "\n\n")
	flusher.Flush()
}

// parseTypeFilter reads ?types=a,b. Nil means every type.
func parseTypeFilter(raw string) map[events.Type]struct{} {
	if raw == "" {
		return nil
	}
	filter := make(map[events.Type]struct{})
	for t := range strings.SplitSeq(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			filter[events.Type(t)] = struct{}{}
		}
	}
	return filter
}

// Stream sends every published event until the client disconnects.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := setupSSEConnection(w)
	if !ok {
		return
	}
	filter := parseTypeFilter(r.URL.Query().Get("types"))

	ch := h.bus.Subscribe()
	defer h.bus.Unsubscribe(ch)

	sendSSEEvent(w, flusher, "connected", map[string]any{"time": time.Now().UTC()})

	ticker := time.NewTicker(sseKeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			_, _ = io.WriteString(w, ": keep-alive\n\n")
			flusher.Flush()
		case event, ok := <-ch:
			if !ok {
				return
			}
			if filter != nil {
				if _, want := filter[event.Type]; !want {
					continue
				}
			}
			sendSSEEvent(w, flusher, string(event.Type), event)
		}
	}
}
