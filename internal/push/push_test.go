package push

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dukerupert/marketplace/internal/model"
)

func TestGenerateVAPIDKeys(t *testing.T) {
	pub, priv, err := GenerateVAPIDKeys()
	if err != nil {
		t.Fatalf("generate VAPID keys: %v", err)
	}

	pubBytes, err := base64.RawURLEncoding.DecodeString(pub)
	if err != nil {
		t.Fatalf("decode public key: %v", err)
	}
	if len(pubBytes) != 65 {
		t.Errorf("public key length = %d, want 65", len(pubBytes))
	}

	privBytes, err := base64.RawURLEncoding.DecodeString(priv)
	if err != nil {
		t.Fatalf("decode private key: %v", err)
	}
	if len(privBytes) != 32 {
		t.Errorf("private key length = %d, want 32", len(privBytes))
	}

	pub2, _, _ := GenerateVAPIDKeys()
	if pub == pub2 {
		t.Error("expected different keys on second generation")
	}
}

func TestPayloadFor(t *testing.T) {
	p := PayloadFor(model.Notification{Kind: model.NotificationPurchase, Title: "New purchase!", Message: "sold", Link: "/creator/content/c1"})
	want := Payload{Title: "New purchase!", Body: "sold", URL: "/creator/content/c1", Tag: model.NotificationPurchase}
	if p != want {
		t.Errorf("PayloadFor = %+v, want %+v", p, want)
	}
}

// browserSubscription returns subscription keys the way a browser would.
func browserSubscription(t *testing.T, endpoint string) model.PushSubscription {
	t.Helper()
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	secret := make([]byte, 16)
	if _, err := rand.Read(secret); err != nil {
		t.Fatalf("generate auth secret: %v", err)
	}
	return model.PushSubscription{
		ID:        "sub-1",
		UserID:    "user-1",
		Endpoint:  endpoint,
		P256dhKey: base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()),
		AuthKey:   base64.RawURLEncoding.EncodeToString(secret),
	}
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	pub, priv, err := GenerateVAPIDKeys()
	if err != nil {
		t.Fatalf("generate VAPID keys: %v", err)
	}
	return NewService(Config{VAPIDPublicKey: pub, VAPIDPrivateKey: priv})
}

func TestSend(t *testing.T) {
	var gotAuth string
	var gotBody int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		gotBody = len(body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	s := newTestService(t)
	sub := browserSubscription(t, srv.URL)
	if err := s.Send(context.Background(), sub, Payload{Title: "New purchase!", Body: "sold"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !strings.HasPrefix(gotAuth, "vapid ") {
		t.Errorf("Authorization = %q, want vapid scheme", gotAuth)
	}
	if gotBody == 0 {
		t.Error("expected an encrypted body")
	}
}

func TestSendStatuses(t *testing.T) {
	tests := []struct {
		status  int
		expired bool
	}{
		{http.StatusGone, true},
		{http.StatusNotFound, true},
		{http.StatusTooManyRequests, false},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		s := newTestService(t)
		err := s.Send(context.Background(), browserSubscription(t, srv.URL), Payload{Title: "t"})
		srv.Close()

		if err == nil {
			t.Errorf("status %d: expected error", tt.status)
			continue
		}
		if errors.Is(err, ErrExpired) != tt.expired {
			t.Errorf("status %d: errors.Is(ErrExpired) = %v, want %v", tt.status, !tt.expired, tt.expired)
		}
	}
}
