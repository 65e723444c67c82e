package stripe

import (
	"testing"
	"time"

	"github.com/stripe/stripe-go/v82/webhook"
)

const testSecret = "whsec_test_secret"

func TestConstructWebhookEvent(t *testing.T) {
	c := NewClient(Config{WebhookSecret: testSecret})
	payload := []byte(`{"id":"evt_1","object":"event","type":"transfer.paid","api_version":"2020-08-27","created":1767225600,"data":{"object":{"id":"tr_1","metadata":{"payoutId":"p_1"}}}}`)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testSecret,
		Timestamp: time.Now(),
	})

	ev, err := c.ConstructWebhookEvent(signed.Payload, signed.Header)
	if err != nil {
		t.Fatalf("construct event: %v", err)
	}
	if ev.ID != "evt_1" {
		t.Errorf("id = %q, want %q", ev.ID, "evt_1")
	}
	if string(ev.Type) != "transfer.paid" {
		t.Errorf("type = %q, want %q", ev.Type, "transfer.paid")
	}
}

func TestConstructWebhookEventBadSignature(t *testing.T) {
	c := NewClient(Config{WebhookSecret: testSecret})
	payload := []byte(`{"id":"evt_1","object":"event","type":"transfer.paid"}`)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    "whsec_other",
		Timestamp: time.Now(),
	})

	if _, err := c.ConstructWebhookEvent(signed.Payload, signed.Header); err == nil {
		t.Fatal("expected signature error")
	}
	if _, err := c.ConstructWebhookEvent(payload, ""); err == nil {
		t.Fatal("expected error for missing header")
	}
}

func TestNewClientDefaults(t *testing.T) {
	c := NewClient(Config{})
	if c.cfg.Currency != "usd" {
		t.Errorf("currency = %q, want usd", c.cfg.Currency)
	}
	if c.cfg.Timeout != 10*time.Second {
		t.Errorf("timeout = %v, want 10s", c.cfg.Timeout)
	}
}
