package stream

import (
	"context"
	"testing"
	"time"

	"kenmesh.org/internal/secevent"
)

func TestSubscribersReceivePublishedEvents(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := s.Subscribe(ctx)
	b := s.Subscribe(ctx)
	if got := s.Subscribers(); got != 2 {
		t.Fatalf("Subscribers() = %d, want 2", got)
	}

	s.Publish(secevent.Event{ID: "ev-1", Type: "rate_limit_exceeded"})

	for name, ch := range map[string]<-chan secevent.Event{"a": a, "b": b} {
		select {
		case ev := <-ch:
			if ev.ID != "ev-1" {
				t.Fatalf("subscriber %s got event %q, want ev-1", name, ev.ID)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %s did not receive event", name)
		}
	}
}

func TestCancelledSubscriberIsRemoved(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	ch := s.Subscribe(ctx)
	cancel()

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				if got := s.Subscribers(); got != 0 {
					t.Fatalf("Subscribers() = %d after cancel, want 0", got)
				}
				return
			}
		case <-deadline:
			t.Fatal("channel not closed after context cancel")
		}
	}
}

func TestSlowSubscriberDoesNotBlockPublisher(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Never drained; buffer fills and further publishes must be dropped.
	s.Subscribe(ctx)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			s.Publish(secevent.Event{ID: "ev", Type: "credential_issued"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on slow subscriber")
	}
}
