package websocket

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/marketplace/internal/auth"
	"github.com/dukerupert/marketplace/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockClient creates a Client with a send channel but no real connection.
func mockClient(hub *Hub, userID string) *Client {
	return &Client{
		hub:    hub,
		userID: userID,
		send:   make(chan []byte, sendBufferSize),
	}
}

func TestRegisterUnregister(t *testing.T) {
	hub := NewHub(testLogger())

	c1 := mockClient(hub, "a")
	c2 := mockClient(hub, "a")
	c3 := mockClient(hub, "b")
	hub.Register(c1)
	hub.Register(c2)
	hub.Register(c3)

	if got := hub.ClientCount(); got != 3 {
		t.Fatalf("expected 3 clients, got %d", got)
	}

	hub.Unregister(c1)
	hub.Unregister(c1)
	if got := hub.ClientCount(); got != 2 {
		t.Fatalf("expected 2 clients after unregister, got %d", got)
	}

	hub.Unregister(c2)
	hub.Unregister(c3)
	if got := hub.ClientCount(); got != 0 {
		t.Fatalf("expected 0 clients, got %d", got)
	}
	if len(hub.clients) != 0 {
		t.Errorf("empty user sets should be removed, got %d", len(hub.clients))
	}
}

func TestPublishOnlyToRecipient(t *testing.T) {
	hub := NewHub(testLogger())
	mine := mockClient(hub, "creator")
	other := mockClient(hub, "someone")
	hub.Register(mine)
	hub.Register(other)

	hub.Publish(model.Notification{ID: "n1", UserID: "creator", Kind: model.NotificationPurchase, Title: "New purchase!"})

	select {
	case data := <-mine.send:
		var got Message
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got.Type != "notification" || got.Notification == nil || got.Notification.ID != "n1" {
			t.Errorf("message = %+v", got)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for message")
	}

	select {
	case <-other.send:
		t.Error("other user should not receive the notification")
	default:
	}
}

func TestPublishFullBuffer(t *testing.T) {
	hub := NewHub(testLogger())
	c := mockClient(hub, "u")
	hub.Register(c)

	for i := 0; i < sendBufferSize+1; i++ {
		hub.Publish(model.Notification{UserID: "u", Title: "x"})
	}
	if got := len(c.send); got != sendBufferSize {
		t.Errorf("buffered = %d, want %d", got, sendBufferSize)
	}
}

func TestPublishNoListeners(t *testing.T) {
	hub := NewHub(testLogger())
	// Should not panic
	hub.Publish(model.Notification{UserID: "nobody"})
}

func TestHandleWebSocketDelivers(t *testing.T) {
	hub := NewHub(testLogger())
	h := HandleWebSocket(hub, nil, testLogger())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := auth.WithAuth(r.Context(), auth.AuthContext{UserID: "fan"})
		h(w, r.WithContext(ctx))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := ws.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	hub.Publish(model.Notification{ID: "n9", UserID: "fan", Kind: model.NotificationPayment, Title: "Payment failed"})

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got Message
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Notification == nil || got.Notification.ID != "n9" {
		t.Errorf("message = %+v, want notification n9", got)
	}
}

func TestHandleWebSocketRequiresAuth(t *testing.T) {
	h := HandleWebSocket(NewHub(testLogger()), nil, testLogger())
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest("GET", "/ws/notifications", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}
