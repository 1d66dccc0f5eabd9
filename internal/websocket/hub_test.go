package websocket

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Priya8975/tenant-event-bus/internal/domain"
)

func setupTestHub(t *testing.T) *Hub {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	hub := NewHub(logger)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func connectWS(t *testing.T, hub *Hub, query string) (*websocket.Conn, func()) {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + query

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
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
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, got %d", n, hub.ClientCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHub_ClientConnects(t *testing.T) {
	hub := setupTestHub(t)

	conn, cleanup := connectWS(t, hub, "")
	defer cleanup()
	waitForClients(t, hub, 1)

	conn.Close()
	waitForClients(t, hub, 0)
}

func TestHub_NotifyReachesClient(t *testing.T) {
	hub := setupTestHub(t)

	conn, cleanup := connectWS(t, hub, "")
	defer cleanup()
	waitForClients(t, hub, 1)

	hub.Notify(domain.Activity{
		Type:      domain.ActivityDelivered,
		EventID:   "evt_123",
		TenantID:  "acme",
		EventType: "lead.qualified",
		Handler:   "crm",
		Timestamp: time.Now().UTC().Format(domain.TimestampLayout),
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, message, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read message: %v", err)
	}

	msg := string(message)
	if !strings.Contains(msg, domain.ActivityDelivered) {
		t.Errorf("expected message to contain %q, got: %s", domain.ActivityDelivered, msg)
	}
	if !strings.Contains(msg, "evt_123") {
		t.Errorf("expected message to contain event ID, got: %s", msg)
	}
}

func TestHub_MultipleClients(t *testing.T) {
	hub := setupTestHub(t)

	conn1, cleanup1 := connectWS(t, hub, "")
	defer cleanup1()
	conn2, cleanup2 := connectWS(t, hub, "")
	defer cleanup2()
	waitForClients(t, hub, 2)

	hub.Notify(domain.Activity{Type: domain.ActivityPublished, EventID: "evt_multi", TenantID: "acme"})

	for i, conn := range []*websocket.Conn{conn1, conn2} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, message, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("client %d failed to read: %v", i+1, err)
		}
		if !strings.Contains(string(message), "evt_multi") {
			t.Errorf("client %d didn't receive broadcast", i+1)
		}
	}
}

func TestHub_TenantFilter(t *testing.T) {
	hub := setupTestHub(t)

	conn, cleanup := connectWS(t, hub, "?tenant_id=acme")
	defer cleanup()
	waitForClients(t, hub, 1)

	hub.Notify(domain.Activity{Type: domain.ActivityPublished, EventID: "evt_globex", TenantID: "globex"})
	hub.Notify(domain.Activity{Type: domain.ActivityPublished, EventID: "evt_acme", TenantID: "acme"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, message, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read message: %v", err)
	}
	if !strings.Contains(string(message), "evt_acme") {
		t.Errorf("expected only acme activity, got: %s", message)
	}
}

func TestHub_StopsOnContextCancel(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	hub := NewHub(logger)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	_, cleanup := connectWS(t, hub, "")
	defer cleanup()
	waitForClients(t, hub, 1)

	cancel()
	waitForClients(t, hub, 0)
}

func TestHub_ClientCountStartsAtZero(t *testing.T) {
	hub := setupTestHub(t)

	if count := hub.ClientCount(); count != 0 {
		t.Errorf("expected 0 clients initially, got %d", count)
	}
}
