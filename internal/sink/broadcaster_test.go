package sink

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := NewBroadcaster()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.HandleWebSocket("tenant-a", w, r)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Give the hub goroutine a moment to register the subscriber.
	time.Sleep(50 * time.Millisecond)

	b.Publish("tenant-a", &LoggedEvent{ID: "evt-1", TenantID: "tenant-a", RiskScore: 72, Blocked: true})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if !strings.Contains(string(msg), `"type":"event"`) || !strings.Contains(string(msg), "evt-1") {
		t.Fatalf("unexpected frame: %s", msg)
	}
}

func TestPublishToTenantWithNoSubscribersIsNoop(t *testing.T) {
	b := NewBroadcaster()
	// No subscriber ever registered for this tenant; must not panic or block.
	b.Publish("tenant-nobody", &LoggedEvent{ID: "evt-1", TenantID: "tenant-nobody"})
}

func TestPublishIsolatedPerTenant(t *testing.T) {
	b := NewBroadcaster()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant := r.URL.Query().Get("tenant")
		b.HandleWebSocket(tenant, w, r)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	connA, _, err := websocket.DefaultDialer.Dial(wsURL+"?tenant=tenant-a", nil)
	if err != nil {
		t.Fatalf("dial A: %v", err)
	}
	defer connA.Close()
	connB, _, err := websocket.DefaultDialer.Dial(wsURL+"?tenant=tenant-b", nil)
	if err != nil {
		t.Fatalf("dial B: %v", err)
	}
	defer connB.Close()

	time.Sleep(50 * time.Millisecond)

	b.Publish("tenant-a", &LoggedEvent{ID: "evt-a", TenantID: "tenant-a"})

	connA.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := connA.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage A: %v", err)
	}
	if !strings.Contains(string(msg), "evt-a") {
		t.Fatalf("unexpected frame on A: %s", msg)
	}

	connB.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	if _, _, err := connB.ReadMessage(); err == nil {
		t.Fatalf("expected no message delivered to tenant-b's subscriber")
	}
}
