package stream

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Priya8975/webhook-stream-engine/internal/domain"
	"github.com/gorilla/websocket"
)

func connectWS(t *testing.T, hub *Hub, query string) (*websocket.Conn, func()) {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + query

	dialer := websocket.Dialer{}
	conn, _, err := dialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to connect WebSocket: %v", err)
	}

	cleanup := func() {
		conn.Close()
		server.Close()
	}

	return conn, cleanup
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for hub.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, got %d", n, hub.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWebSocket_ClientConnects(t *testing.T) {
	hub, _ := setupTestHub(t, Config{QueueSize: 8})

	conn, cleanup := connectWS(t, hub, "")
	defer cleanup()

	waitForClients(t, hub, 1)

	conn.Close()
	waitForClients(t, hub, 0)
}

func TestWebSocket_PublishReachesClient(t *testing.T) {
	hub, _ := setupTestHub(t, Config{QueueSize: 8})

	conn, cleanup := connectWS(t, hub, "")
	defer cleanup()
	waitForClients(t, hub, 1)

	hub.Publish(event("evt-123", domain.EventPlanCompleted))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, message, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read message: %v", err)
	}

	var received domain.Event
	if err := json.Unmarshal(message, &received); err != nil {
		t.Fatalf("failed to unmarshal event: %v", err)
	}
	if received.ID != "evt-123" || received.Type != domain.EventPlanCompleted {
		t.Errorf("unexpected event %+v", received)
	}
	if v, ok := received.Payload.Get("n"); !ok || v.Kind() != domain.KindString {
		t.Errorf("payload not carried: %+v", received.Payload)
	}
}

func TestWebSocket_TypeFilter(t *testing.T) {
	hub, _ := setupTestHub(t, Config{QueueSize: 8})

	plans, cleanupPlans := connectWS(t, hub, "?types=plan.completed")
	defer cleanupPlans()
	tasks, cleanupTasks := connectWS(t, hub, "?types=task.failed")
	defer cleanupTasks()
	waitForClients(t, hub, 2)

	hub.Publish(event("evt-1", domain.EventPlanCompleted))

	plans.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, msg, err := plans.ReadMessage(); err != nil || !strings.Contains(string(msg), `"evt-1"`) {
		t.Fatalf("plan subscriber: msg=%s err=%v", msg, err)
	}

	tasks.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, msg, err := tasks.ReadMessage(); err == nil {
		t.Errorf("task subscriber should not receive plan events, got %s", msg)
	}
}

func TestWebSocket_PingPong(t *testing.T) {
	hub, _ := setupTestHub(t, Config{QueueSize: 8})

	conn, cleanup := connectWS(t, hub, "")
	defer cleanup()
	waitForClients(t, hub, 1)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("write ping: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if string(msg) != `{"type":"pong"}` {
		t.Errorf("got %s, want pong", msg)
	}
}

func TestWebSocket_SlowConsumerClosed(t *testing.T) {
	hub, _ := setupTestHub(t, Config{QueueSize: 1})

	sub := hub.Subscribe(nil)
	hub.Publish(event("evt-1", domain.EventPlanCreated))
	hub.Publish(event("evt-2", domain.EventPlanCreated))

	if got := closeFrame(sub.Err()); len(got) < 2 || int(got[0])<<8|int(got[1]) != websocket.CloseTryAgainLater {
		t.Errorf("slow consumer should get a try-again-later close frame, got %v", got)
	}
}
