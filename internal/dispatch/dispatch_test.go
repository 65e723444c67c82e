package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/dukerupert/marketplace/internal/apperr"
	"github.com/dukerupert/marketplace/internal/event"
	stripeclient "github.com/dukerupert/marketplace/internal/stripe"
)

const secret = "whsec_dispatch"

type fakeGuard struct {
	applied map[string]bool
	err     error
}

func (g *fakeGuard) AlreadyApplied(_ context.Context, key string) (bool, error) {
	return g.applied[key], g.err
}

type fakeHandlers struct {
	calls []string
	err   error
}

func (h *fakeHandlers) record(name string) error {
	h.calls = append(h.calls, name)
	return h.err
}

func (h *fakeHandlers) PaymentSucceeded(_ context.Context, _ event.PaymentSucceeded) error {
	return h.record("payment")
}
func (h *fakeHandlers) SubscriptionChanged(_ context.Context, _ event.SubscriptionChanged) error {
	return h.record("subscription_changed")
}
func (h *fakeHandlers) SubscriptionDeleted(_ context.Context, _ event.SubscriptionDeleted) error {
	return h.record("subscription_deleted")
}
func (h *fakeHandlers) InvoicePaid(_ context.Context, _ event.InvoicePaid) error {
	return h.record("invoice_paid")
}
func (h *fakeHandlers) InvoicePaymentFailed(_ context.Context, _ event.InvoicePaymentFailed) error {
	return h.record("invoice_failed")
}
func (h *fakeHandlers) TransferPaid(_ context.Context, _ event.TransferPaid) error {
	return h.record("transfer_paid")
}
func (h *fakeHandlers) TransferReversed(_ context.Context, _ event.TransferReversed) error {
	return h.record("transfer_reversed")
}

func setup(t *testing.T) (*Dispatcher, *fakeGuard, *fakeHandlers) {
	t.Helper()
	g := &fakeGuard{applied: map[string]bool{}}
	h := &fakeHandlers{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d := New(stripeclient.NewClient(stripeclient.Config{WebhookSecret: secret}), g, h, logger)
	return d, g, h
}

func sign(t *testing.T, id, typ, object string) ([]byte, string) {
	t.Helper()
	payload := fmt.Sprintf(`{"id":%q,"object":"event","type":%q,"created":1767225600,"data":{"object":%s}}`, id, typ, object)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    secret,
		Timestamp: time.Now(),
	})
	return signed.Payload, signed.Header
}

func TestDispatchRoutes(t *testing.T) {
	tests := []struct {
		typ    string
		object string
		want   string
	}{
		{event.TypePaymentSucceeded, `{"id":"pi_1","amount":1000,"metadata":{}}`, "payment"},
		{event.TypeSubscriptionCreated, `{"id":"sub_1","status":"active"}`, "subscription_changed"},
		{event.TypeSubscriptionUpdated, `{"id":"sub_1","status":"active"}`, "subscription_changed"},
		{event.TypeSubscriptionDeleted, `{"id":"sub_1"}`, "subscription_deleted"},
		{event.TypeInvoicePaid, `{"id":"in_1","subscription":"sub_1"}`, "invoice_paid"},
		{event.TypeInvoicePaymentFailed, `{"id":"in_1","subscription":"sub_1"}`, "invoice_failed"},
		{event.TypeTransferPaid, `{"id":"tr_1","metadata":{"payoutId":"p_1"}}`, "transfer_paid"},
		{event.TypeTransferReversed, `{"id":"tr_1","metadata":{"payoutId":"p_1"}}`, "transfer_reversed"},
	}

	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			d, _, h := setup(t)
			body, sig := sign(t, "evt_1", tt.typ, tt.object)

			meta, err := d.Dispatch(context.Background(), body, sig)
			if err != nil {
				t.Fatalf("dispatch: %v", err)
			}
			if meta.ID != "evt_1" {
				t.Errorf("meta.ID = %q, want evt_1", meta.ID)
			}
			if len(h.calls) != 1 || h.calls[0] != tt.want {
				t.Errorf("calls = %v, want [%s]", h.calls, tt.want)
			}
		})
	}
}

func TestDispatchUnknownTypeIsNoop(t *testing.T) {
	d, _, h := setup(t)
	body, sig := sign(t, "evt_1", "customer.created", `{"id":"cus_1"}`)

	if _, err := d.Dispatch(context.Background(), body, sig); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(h.calls) != 0 {
		t.Errorf("calls = %v, want none", h.calls)
	}
}

func TestDispatchInvalidSignature(t *testing.T) {
	d, _, h := setup(t)
	body, _ := sign(t, "evt_1", event.TypePaymentSucceeded, `{"id":"pi_1"}`)

	_, err := d.Dispatch(context.Background(), body, "t=1,v1=deadbeef")
	if apperr.KindOf(err) != apperr.Authentication {
		t.Fatalf("kind = %v, want authentication (err %v)", apperr.KindOf(err), err)
	}

	_, err = d.Dispatch(context.Background(), body, "")
	if apperr.KindOf(err) != apperr.Authentication {
		t.Fatalf("missing signature kind = %v, want authentication", apperr.KindOf(err))
	}
	if len(h.calls) != 0 {
		t.Errorf("calls = %v, want none", h.calls)
	}
}

func TestDispatchMalformedPayload(t *testing.T) {
	d, _, h := setup(t)
	body, sig := sign(t, "evt_1", event.TypePaymentSucceeded, `{"id":""}`)

	_, err := d.Dispatch(context.Background(), body, sig)
	if apperr.KindOf(err) != apperr.Validation {
		t.Fatalf("kind = %v, want validation (err %v)", apperr.KindOf(err), err)
	}
	if len(h.calls) != 0 {
		t.Errorf("calls = %v, want none", h.calls)
	}
}

func TestDispatchSkipsAppliedEvent(t *testing.T) {
	d, g, h := setup(t)
	g.applied["evt_1"] = true
	body, sig := sign(t, "evt_1", event.TypeSubscriptionDeleted, `{"id":"sub_1"}`)

	if _, err := d.Dispatch(context.Background(), body, sig); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(h.calls) != 0 {
		t.Errorf("calls = %v, want none", h.calls)
	}
}

func TestDispatchHandlerFailureIsTransient(t *testing.T) {
	d, _, h := setup(t)
	h.err = errors.New("database is locked")
	body, sig := sign(t, "evt_1", event.TypeSubscriptionDeleted, `{"id":"sub_1"}`)

	_, err := d.Dispatch(context.Background(), body, sig)
	if err == nil {
		t.Fatal("expected error")
	}
	if apperr.KindOf(err) != apperr.Transient {
		t.Errorf("kind = %v, want transient", apperr.KindOf(err))
	}
	if apperr.Permanent(err) {
		t.Error("handler failures must be retryable")
	}
}

func TestDispatchGuardFailureIsTransient(t *testing.T) {
	d, g, h := setup(t)
	g.err = errors.New("disk I/O error")
	body, sig := sign(t, "evt_1", event.TypeSubscriptionDeleted, `{"id":"sub_1"}`)

	_, err := d.Dispatch(context.Background(), body, sig)
	if apperr.KindOf(err) != apperr.Transient || err == nil {
		t.Fatalf("err = %v, want transient", err)
	}
	if len(h.calls) != 0 {
		t.Errorf("calls = %v, want none", h.calls)
	}
}
