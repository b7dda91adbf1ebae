package ledger

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Priya8975/webhook-stream-engine/internal/domain"
)

func newAttempt(id, subID string, state domain.DeliveryState, updated time.Time) domain.DeliveryAttempt {
	return domain.DeliveryAttempt{
		ID:             id,
		SubscriptionID: subID,
		EventID:        "evt-" + id,
		EventType:      domain.EventTaskFailed,
		State:          state,
		MaxAttempts:    3,
		CreatedAt:      updated,
		UpdatedAt:      updated,
	}
}

func TestRecord_GetRoundTrip(t *testing.T) {
	l := New(Config{MaxEntries: 10, MaxAge: time.Hour}, nil)
	a := newAttempt("a1", "sub-1", domain.StatePending, time.Now())

	if err := l.Record(a); err != nil {
		t.Fatalf("Record: %v", err)
	}

	got, ok := l.Get("a1")
	if !ok {
		t.Fatal("expected attempt to be present")
	}
	if got.State != domain.StatePending {
		t.Errorf("state: got %s, want pending", got.State)
	}
	if !l.Exists("a1") || l.Exists("missing") {
		t.Error("Exists returned the wrong answer")
	}
}

func TestRecord_RejectsEmptyID(t *testing.T) {
	l := New(Config{MaxEntries: 10}, nil)
	if err := l.Record(domain.DeliveryAttempt{}); err == nil {
		t.Fatal("expected error for empty id")
	}
}

func TestRecord_TerminalIsFinal(t *testing.T) {
	l := New(Config{MaxEntries: 10, MaxAge: time.Hour}, nil)
	now := time.Now()

	if err := l.Record(newAttempt("a1", "sub-1", domain.StateDelivered, now)); err != nil {
		t.Fatalf("Record: %v", err)
	}

	err := l.Record(newAttempt("a1", "sub-1", domain.StatePending, now.Add(time.Second)))
	if !errors.Is(err, ErrTerminal) {
		t.Fatalf("expected ErrTerminal, got %v", err)
	}

	got, _ := l.Get("a1")
	if got.State != domain.StateDelivered {
		t.Errorf("terminal state was overwritten: %s", got.State)
	}
}

func TestStatusFor_Counts(t *testing.T) {
	l := New(Config{MaxEntries: 100, MaxAge: time.Hour}, nil)
	base := time.Now()

	delivered := newAttempt("d1", "sub-1", domain.StateDelivered, base.Add(3*time.Second))
	completed := base.Add(3 * time.Second)
	delivered.CompletedAt = &completed

	for _, a := range []domain.DeliveryAttempt{
		newAttempt("p1", "sub-1", domain.StatePending, base),
		newAttempt("f1", "sub-1", domain.StateInFlight, base.Add(time.Second)),
		newAttempt("x1", "sub-1", domain.StateFailed, base.Add(2*time.Second)),
		delivered,
		newAttempt("other", "sub-2", domain.StateFailed, base.Add(5*time.Second)),
	} {
		if err := l.Record(a); err != nil {
			t.Fatalf("Record(%s): %v", a.ID, err)
		}
	}

	status := l.StatusFor("sub-1")
	if status.Total != 4 {
		t.Errorf("total: got %d, want 4", status.Total)
	}
	if status.Pending != 2 {
		t.Errorf("pending: got %d, want 2", status.Pending)
	}
	if status.Delivered != 1 || status.Failed != 1 {
		t.Errorf("delivered/failed: got %d/%d, want 1/1", status.Delivered, status.Failed)
	}
	if status.MostRecentAttempt == nil || status.MostRecentAttempt.ID != "d1" {
		t.Errorf("most recent: got %+v, want d1", status.MostRecentAttempt)
	}
	if status.LastDeliveredAt == nil || !status.LastDeliveredAt.Equal(completed) {
		t.Errorf("last delivered at: got %v, want %v", status.LastDeliveredAt, completed)
	}
}

func TestStatusFor_UnknownSubscription(t *testing.T) {
	l := New(Config{MaxEntries: 10}, nil)

	status := l.StatusFor("nobody")
	if status.Total != 0 || status.Pending != 0 || status.Delivered != 0 || status.Failed != 0 {
		t.Errorf("expected zero status, got %+v", status)
	}
	if status.MostRecentAttempt != nil {
		t.Error("expected no most recent attempt")
	}
}

func TestHistory_MostRecentFirst(t *testing.T) {
	l := New(Config{MaxEntries: 100, MaxAge: time.Hour}, nil)
	now := time.Now()

	for i := 0; i < 5; i++ {
		a := newAttempt(fmt.Sprintf("a%d", i), "sub-1", domain.StatePending, now.Add(time.Duration(i)*time.Second))
		if err := l.Record(a); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	// updating an attempt does not change its position
	update := newAttempt("a1", "sub-1", domain.StateInFlight, now.Add(time.Minute))
	if err := l.Record(update); err != nil {
		t.Fatalf("Record update: %v", err)
	}

	history := l.History("sub-1", 3)
	if len(history) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(history))
	}
	for i, want := range []string{"a4", "a3", "a2"} {
		if history[i].ID != want {
			t.Errorf("history[%d]: got %s, want %s", i, history[i].ID, want)
		}
	}

	if all := l.History("sub-1", 0); len(all) != 5 {
		t.Errorf("unbounded history: got %d entries, want 5", len(all))
	}
}

func TestRetention_EvictsOldestByCount(t *testing.T) {
	l := New(Config{MaxEntries: 3, MaxAge: time.Hour}, nil)
	now := time.Now()

	for i := 0; i < 5; i++ {
		if err := l.Record(newAttempt(fmt.Sprintf("a%d", i), "sub-1", domain.StatePending, now)); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	if l.Len() != 3 {
		t.Fatalf("expected 3 retained, got %d", l.Len())
	}
	if l.Exists("a0") || l.Exists("a1") {
		t.Error("oldest entries should have been evicted")
	}

	status := l.StatusFor("sub-1")
	if status.Total != 3 {
		t.Errorf("status should only count retained attempts, got %d", status.Total)
	}
}

func TestRetention_EvictsByAge(t *testing.T) {
	l := New(Config{MaxEntries: 10, MaxAge: 20 * time.Millisecond}, nil)

	if err := l.Record(newAttempt("a1", "sub-1", domain.StatePending, time.Now())); err != nil {
		t.Fatalf("Record: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for l.Exists("a1") {
		if time.Now().After(deadline) {
			t.Fatal("attempt was not expired")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if history := l.History("sub-1", 10); len(history) != 0 {
		t.Errorf("expired attempt still in history: %+v", history)
	}
}

func TestRecord_ConcurrentWriters(t *testing.T) {
	l := New(Config{MaxEntries: 1000, MaxAge: time.Hour}, nil)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				a := newAttempt(fmt.Sprintf("w%d-%d", w, i), fmt.Sprintf("sub-%d", w%2), domain.StatePending, time.Now())
				if err := l.Record(a); err != nil {
					t.Errorf("Record: %v", err)
				}
				l.StatusFor(a.SubscriptionID)
			}
		}(w)
	}
	wg.Wait()

	if l.Len() != 400 {
		t.Errorf("expected 400 attempts, got %d", l.Len())
	}
	total := l.StatusFor("sub-0").Total + l.StatusFor("sub-1").Total
	if total != 400 {
		t.Errorf("index lost entries: %d", total)
	}
}

func TestCreate_RejectsExisting(t *testing.T) {
	l := New(Config{MaxEntries: 10, MaxAge: time.Hour}, nil)
	a := newAttempt("a1", "sub-1", domain.StatePending, time.Now())

	if err := l.Create(a); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := l.Create(a); !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}

	if err := l.Create(domain.DeliveryAttempt{}); err == nil {
		t.Error("expected error for empty id")
	}
}

func TestCreate_ConcurrentSingleWinner(t *testing.T) {
	l := New(Config{MaxEntries: 100, MaxAge: time.Hour}, nil)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.Create(newAttempt("a1", "sub-1", domain.StatePending, time.Now()))
			if err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			} else if !errors.Is(err, ErrExists) {
				t.Errorf("Create: %v", err)
			}
		}()
	}
	wg.Wait()

	if created != 1 {
		t.Errorf("expected exactly one Create to succeed, got %d", created)
	}
	if total := l.StatusFor("sub-1").Total; total != 1 {
		t.Errorf("expected one indexed attempt, got %d", total)
	}
}

func TestRetention_ExpiryLeavesNoIndexEntries(t *testing.T) {
	l := New(Config{MaxEntries: 1000, MaxAge: 5 * time.Millisecond}, nil)

	// writes straddle expiry so some entries expire while being indexed
	for i := 0; i < 200; i++ {
		a := newAttempt(fmt.Sprintf("a%d", i), fmt.Sprintf("sub-%d", i%4), domain.StatePending, time.Now())
		if err := l.Record(a); err != nil {
			t.Fatalf("Record: %v", err)
		}
		if i%20 == 0 {
			time.Sleep(time.Millisecond)
		}
	}

	indexed := func() int {
		l.idxMu.Lock()
		defer l.idxMu.Unlock()
		n := 0
		for _, ids := range l.bySub {
			n += len(ids)
		}
		return n
	}

	deadline := time.Now().Add(2 * time.Second)
	for l.Len() > 0 || indexed() > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("after expiry: %d cached, %d indexed", l.Len(), indexed())
		}
		time.Sleep(5 * time.Millisecond)
	}
}
