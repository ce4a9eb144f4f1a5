package secevent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"testing"

	"kenmesh.org/internal/obs"
)

func TestAppendMirrorsToLogger(t *testing.T) {
	logger := obs.Logger()
	original := logger.Writer()
	logger.SetFlags(0)
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(original)

	l := NewLog(10)
	l.Append("credential_issued", map[string]any{"owner_id": "user-42"})

	line := buf.String()
	if line == "" {
		t.Fatal("expected log output")
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["type"] != "security_event" {
		t.Fatalf("unexpected type: %v", entry["type"])
	}
	if entry["event"] != "credential_issued" {
		t.Fatalf("unexpected event: %v", entry["event"])
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["owner_id"] != "user-42" {
		t.Fatalf("fields missing or incorrect: %v", entry["fields"])
	}
}

func TestRingEvictsOldest(t *testing.T) {
	logger := obs.Logger()
	original := logger.Writer()
	logger.SetOutput(&bytes.Buffer{})
	defer logger.SetOutput(original)

	l := NewLog(3)
	for i := 0; i < 5; i++ {
		l.Append("e", map[string]any{"i": i})
	}
	if l.Len() != 3 {
		t.Fatalf("expected 3 retained events, got %d", l.Len())
	}
	events := l.Recent(0)
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for idx, want := range []int{2, 3, 4} {
		if got := events[idx].Fields["i"]; got != want {
			t.Fatalf("event %d: expected i=%d, got %v", idx, want, got)
		}
	}
}

func TestRecentLimitsAndOrders(t *testing.T) {
	logger := obs.Logger()
	original := logger.Writer()
	logger.SetOutput(&bytes.Buffer{})
	defer logger.SetOutput(original)

	l := NewLog(100)
	for i := 0; i < 10; i++ {
		l.Append(fmt.Sprintf("e%d", i), nil)
	}
	events := l.Recent(4)
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(events))
	}
	if events[0].Type != "e6" || events[3].Type != "e9" {
		t.Fatalf("unexpected window: first=%s last=%s", events[0].Type, events[3].Type)
	}
}

func TestSinkReceivesAppendedEvents(t *testing.T) {
	logger := obs.Logger()
	original := logger.Writer()
	logger.SetOutput(&bytes.Buffer{})
	defer logger.SetOutput(original)

	var got []Event
	l := NewLog(5, WithSink(func(ev Event) { got = append(got, ev) }))
	l.Append("rate_limit_exceeded", map[string]any{"identifier": "user-1"})
	l.Append("  ", nil) // ignored, must not reach the sink

	if len(got) != 1 {
		t.Fatalf("sink received %d events, want 1", len(got))
	}
	if got[0].Type != "rate_limit_exceeded" || got[0].ID == "" {
		t.Fatalf("unexpected sink event: %+v", got[0])
	}
}

func TestAppendIgnoresEmptyType(t *testing.T) {
	logger := obs.Logger()
	original := logger.Writer()
	logger.SetOutput(&bytes.Buffer{})
	defer logger.SetOutput(original)

	l := NewLog(5)
	l.Append("  ", nil)
	if l.Len() != 0 {
		t.Fatalf("expected empty log, got %d entries", l.Len())
	}
}
