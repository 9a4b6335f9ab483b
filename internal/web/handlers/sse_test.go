package handlers

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kozaktomas/face-attendance/internal/events"
)

func TestEventsHandler_StreamsFilteredEvents(t *testing.T) {
	bus := events.NewBus()
	srv := httptest.NewServer(http.HandlerFunc(NewEventsHandler(bus).Stream))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"?types=person.deleted", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET events error: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	lines := bufio.NewScanner(resp.Body)
	next := func() string {
		for lines.Scan() {
			if l := lines.Text(); strings.HasPrefix(l, "event: ") {
				return strings.TrimPrefix(l, "event: ")
			}
		}
		return ""
	}

	if got := next(); got != "connected" {
		t.Fatalf("first event = %q, want connected", got)
	}

	bus.Publish(events.Event{Type: events.GroupChanged})
	bus.Publish(events.Event{Type: events.PersonDeleted, PersonID: "p1"})

	if got := next(); got != string(events.PersonDeleted) {
		t.Errorf("event = %q, want %s (filtered types must be skipped)", got, events.PersonDeleted)
	}
}

func TestParseTypeFilter(t *testing.T) {
	if parseTypeFilter("") != nil {
		t.Error("empty filter should allow everything")
	}
	f := parseTypeFilter("person.deleted, group.changed,,")
	if len(f) != 2 {
		t.Errorf("expected 2 types, got %v", f)
	}
}
