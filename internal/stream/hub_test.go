package stream

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/Priya8975/webhook-stream-engine/internal/domain"
	"github.com/Priya8975/webhook-stream-engine/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func setupTestHub(t *testing.T, cfg Config) (*Hub, *metrics.Metrics) {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	m := metrics.New(nil)
	return NewHub(cfg, m, logger), m
}

func event(id, eventType string) domain.Event {
	return domain.Event{
		ID:        id,
		Type:      eventType,
		Payload:   domain.Object{}.Set("n", domain.String(id)),
		Timestamp: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
	}
}

// receive reads one message or fails after a short wait.
func receive(t *testing.T, s *Subscriber) Message {
	t.Helper()
	select {
	case msg, ok := <-s.Events():
		if !ok {
			t.Fatal("subscriber channel closed")
		}
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
	return Message{}
}

func expectNothing(t *testing.T, s *Subscriber) {
	t.Helper()
	select {
	case msg, ok := <-s.Events():
		if ok {
			t.Fatalf("unexpected message %s", msg.EventID)
		}
	case <-time.After(20 * time.Millisecond):
	}
}

func TestHub_ClientCountStartsAtZero(t *testing.T) {
	hub, _ := setupTestHub(t, Config{QueueSize: 4})
	if count := hub.ClientCount(); count != 0 {
		t.Errorf("expected 0 clients, got %d", count)
	}
}

func TestHub_FiltersByEventType(t *testing.T) {
	hub, _ := setupTestHub(t, Config{QueueSize: 4})

	plans := hub.Subscribe([]string{domain.EventPlanCompleted})
	tasks := hub.Subscribe([]string{domain.EventTaskFailed})
	all := hub.Subscribe(nil)

	hub.Publish(event("evt-1", domain.EventPlanCompleted))

	msg := receive(t, plans)
	if msg.EventID != "evt-1" || msg.EventType != domain.EventPlanCompleted {
		t.Errorf("unexpected message %+v", msg)
	}
	want, _ := event("evt-1", domain.EventPlanCompleted).Body()
	if string(msg.Data) != string(want) {
		t.Errorf("data:\n  got:  %s\n  want: %s", msg.Data, want)
	}

	if receive(t, all).EventID != "evt-1" {
		t.Error("unfiltered subscriber should receive the event")
	}
	expectNothing(t, tasks)
}

func TestHub_WildcardFilter(t *testing.T) {
	hub, _ := setupTestHub(t, Config{QueueSize: 4})

	s := hub.Subscribe([]string{"task.*"})
	hub.Publish(event("evt-1", domain.EventPlanCreated))
	hub.Publish(event("evt-2", domain.EventTaskStarted))

	if got := receive(t, s).EventID; got != "evt-2" {
		t.Errorf("got %s, want evt-2", got)
	}
}

func TestHub_NoReplayBeforeSubscribe(t *testing.T) {
	hub, _ := setupTestHub(t, Config{QueueSize: 4, RecentSize: 10})

	hub.Publish(event("before", domain.EventPlanCreated))
	s := hub.Subscribe(nil)
	hub.Publish(event("after", domain.EventPlanCreated))

	if got := receive(t, s).EventID; got != "after" {
		t.Errorf("first message should be the one published after subscribing, got %s", got)
	}
	expectNothing(t, s)
}

func TestHub_PreservesOrder(t *testing.T) {
	hub, _ := setupTestHub(t, Config{QueueSize: 100})
	s := hub.Subscribe(nil)

	for i := 0; i < 50; i++ {
		hub.Publish(event(fmt.Sprintf("evt-%d", i), domain.EventTaskStarted))
	}
	for i := 0; i < 50; i++ {
		if got, want := receive(t, s).EventID, fmt.Sprintf("evt-%d", i); got != want {
			t.Fatalf("message %d: got %s, want %s", i, got, want)
		}
	}
}

func TestHub_SlowConsumerDisconnected(t *testing.T) {
	hub, m := setupTestHub(t, Config{QueueSize: 2})

	slow := hub.Subscribe(nil)
	fast := hub.Subscribe(nil)

	var wg sync.WaitGroup
	var got []string
	wg.Add(1)
	go func() {
		defer wg.Done()
		for msg := range fast.Events() {
			got = append(got, msg.EventID)
			if len(got) == 5 {
				return
			}
		}
	}()

	for i := 0; i < 5; i++ {
		hub.Publish(event(fmt.Sprintf("evt-%d", i), domain.EventTaskStarted))
		time.Sleep(5 * time.Millisecond)
	}
	wg.Wait()

	select {
	case <-slow.Done():
	case <-time.After(time.Second):
		t.Fatal("slow subscriber should have been disconnected")
	}
	if !errors.Is(slow.Err(), ErrSlowConsumer) {
		t.Errorf("expected ErrSlowConsumer, got %v", slow.Err())
	}
	if len(got) != 5 {
		t.Errorf("fast subscriber should receive all events, got %v", got)
	}
	if hub.ClientCount() != 1 {
		t.Errorf("expected 1 remaining client, got %d", hub.ClientCount())
	}
	if v := testutil.ToFloat64(m.StreamDisconnects.WithLabelValues("slow_consumer")); v != 1 {
		t.Errorf("slow consumer metric: got %v, want 1", v)
	}

	// the buffered messages are still readable, then the channel closes
	n := 0
	for range slow.Events() {
		n++
	}
	if n != 2 {
		t.Errorf("expected 2 buffered messages, got %d", n)
	}
}

func TestHub_Unsubscribe(t *testing.T) {
	hub, _ := setupTestHub(t, Config{QueueSize: 4})

	s := hub.Subscribe(nil)
	other := hub.Subscribe(nil)
	hub.Unsubscribe(s)
	hub.Unsubscribe(s)

	if s.Err() != nil {
		t.Errorf("normal unsubscribe should leave Err nil, got %v", s.Err())
	}
	if _, ok := <-s.Events(); ok {
		t.Error("events channel should be closed")
	}

	hub.Publish(event("evt-1", domain.EventPlanCreated))
	if receive(t, other).EventID != "evt-1" {
		t.Error("remaining subscriber should still receive events")
	}
	if hub.ClientCount() != 1 {
		t.Errorf("expected 1 client, got %d", hub.ClientCount())
	}
}

func TestHub_Close(t *testing.T) {
	hub, _ := setupTestHub(t, Config{QueueSize: 4})

	s := hub.Subscribe(nil)
	hub.Close()

	if !errors.Is(s.Err(), ErrHubClosed) {
		t.Errorf("expected ErrHubClosed, got %v", s.Err())
	}

	late := hub.Subscribe(nil)
	if !errors.Is(late.Err(), ErrHubClosed) {
		t.Error("subscribing after Close should fail")
	}
	hub.Publish(event("evt-1", domain.EventPlanCreated))
}

func TestHub_Recent(t *testing.T) {
	hub, _ := setupTestHub(t, Config{QueueSize: 4, RecentSize: 3})

	if got := hub.Recent(10); len(got) != 0 {
		t.Fatalf("expected empty buffer, got %d", len(got))
	}

	for i := 0; i < 5; i++ {
		hub.Publish(event(fmt.Sprintf("evt-%d", i), domain.EventPlanCreated))
	}

	got := hub.Recent(0)
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	for i, want := range []string{"evt-2", "evt-3", "evt-4"} {
		if got[i].ID != want {
			t.Errorf("recent[%d]: got %s, want %s", i, got[i].ID, want)
		}
	}

	if last := hub.Recent(1); len(last) != 1 || last[0].ID != "evt-4" {
		t.Errorf("Recent(1) = %+v", last)
	}
}

func TestParseFilter(t *testing.T) {
	got := ParseFilter(" plan.completed, ,task.* ")
	if len(got) != 2 || got[0] != "plan.completed" || got[1] != "task.*" {
		t.Errorf("ParseFilter = %v", got)
	}
	if ParseFilter("") != nil {
		t.Error("empty filter should be nil")
	}
}
