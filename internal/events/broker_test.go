package events

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestPublishDelivery(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Publish(Event{Type: "notes.updated", Data: map[string]string{"chatId": "c1"}})

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "event: notes.updated") {
			t.Errorf("missing event type in %q", s)
		}
		if !strings.Contains(s, `"chatId":"c1"`) {
			t.Errorf("missing data in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestPublishArtifactEvent_SubjectThrottle(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// First event should trigger subject.updated.
	b.PublishArtifactEvent("flashcards", "s1", "c1")
	// Second event immediately should NOT trigger another subject.updated.
	b.PublishArtifactEvent("test", "s1", "c1")

	// Drain and count events.
	time.Sleep(50 * time.Millisecond)
	subjectCount := 0
	artifactCount := 0
loop:
	for {
		select {
		case msg := <-ch:
			s := string(msg)
			if strings.Contains(s, "subject.updated") {
				subjectCount++
			} else {
				artifactCount++
			}
		default:
			break loop
		}
	}

	if artifactCount != 2 {
		t.Errorf("artifact events = %d, want 2", artifactCount)
	}
	if subjectCount != 1 {
		t.Errorf("subject events = %d, want 1 (throttled)", subjectCount)
	}
}

func TestArtifactEventTypes(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	kinds := map[string]string{
		"message":    "message.created",
		"notes":      "notes.updated",
		"flashcards": "flashcards.updated",
		"test":       "test.updated",
	}
	for kind, wantType := range kinds {
		b.PublishArtifactEvent(kind, "s1", "c1")
		deadline := time.After(time.Second)
		found := false
		for !found {
			select {
			case msg := <-ch:
				if strings.Contains(string(msg), "event: "+wantType) {
					found = true
				}
			case <-deadline:
				t.Fatalf("kind %q: no %s event", kind, wantType)
			}
		}
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	// Give handler time to subscribe.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.Publish(Event{Type: "notes.updated", Data: map[string]string{"chatId": "c9"}})
	time.Sleep(50 * time.Millisecond)

	// Cancel context to disconnect.
	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: notes.updated") {
		t.Errorf("handler output missing event: %q", body)
	}

	// Client should be cleaned up.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// Fill buffer (capacity 64) and then some; must not block.
	for i := 0; i < 70; i++ {
		b.Publish(Event{Type: "test.updated", Data: map[string]string{"i": "x"}})
	}
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	// Safe no-ops after close.
	b.Publish(Event{Type: "notes.updated", Data: map[string]string{"chatId": "x"}})
	b.PublishArtifactEvent("notes", "s", "x")
}
