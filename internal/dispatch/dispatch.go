// Package dispatch authenticates inbound processor events and routes each
// one to exactly one reconciler.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	stripe "github.com/stripe/stripe-go/v82"

	"github.com/dukerupert/marketplace/internal/apperr"
	"github.com/dukerupert/marketplace/internal/event"
)

// Verifier checks a signature over the raw body before anything parses it.
type Verifier interface {
	ConstructWebhookEvent(payload []byte, sigHeader string) (stripe.Event, error)
}

// Guard reports whether an event id was already applied.
type Guard interface {
	AlreadyApplied(ctx context.Context, key string) (bool, error)
}

// Handlers is implemented by *reconcile.Reconciler.
type Handlers interface {
	PaymentSucceeded(ctx context.Context, ev event.PaymentSucceeded) error
	SubscriptionChanged(ctx context.Context, ev event.SubscriptionChanged) error
	SubscriptionDeleted(ctx context.Context, ev event.SubscriptionDeleted) error
	InvoicePaid(ctx context.Context, ev event.InvoicePaid) error
	InvoicePaymentFailed(ctx context.Context, ev event.InvoicePaymentFailed) error
	TransferPaid(ctx context.Context, ev event.TransferPaid) error
	TransferReversed(ctx context.Context, ev event.TransferReversed) error
}

type Dispatcher struct {
	verifier Verifier
	guard    Guard
	handlers Handlers
	logger   *slog.Logger
}

func New(verifier Verifier, guard Guard, handlers Handlers, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		verifier: verifier,
		guard:    guard,
		handlers: handlers,
		logger:   logger.With("component", "dispatch"),
	}
}

// Dispatch verifies payload against signature, parses it and runs the
// matching handler. It returns nil only once the handler's changes are
// committed, or when the event needs no changes at all. Errors carry an
// apperr kind: Authentication for signature failures, Validation for
// undecodable payloads, and Transient for everything the processor should
// retry.
func (d *Dispatcher) Dispatch(ctx context.Context, payload []byte, signature string) (event.Meta, error) {
	if signature == "" {
		return event.Meta{}, apperr.New(apperr.Authentication, "missing_signature", "signature header is required")
	}
	raw, err := d.verifier.ConstructWebhookEvent(payload, signature)
	if err != nil {
		return event.Meta{}, apperr.Wrap(err, apperr.Authentication, "invalid_signature", "signature verification failed")
	}

	ev, err := event.Parse(raw)
	if err != nil {
		return event.Meta{ID: raw.ID, Type: string(raw.Type)}, err
	}
	meta := ev.EventMeta()
	logger := d.logger.With("event_id", meta.ID, "event_type", meta.Type)

	if _, ok := ev.(event.Unhandled); ok {
		logger.Debug("ignoring event type")
		return meta, nil
	}

	applied, err := d.guard.AlreadyApplied(ctx, meta.ID)
	if err != nil {
		return meta, apperr.Wrap(err, apperr.Transient, "storage_error", "check event idempotency")
	}
	if applied {
		logger.Info("duplicate event")
		return meta, nil
	}

	if err := d.route(ctx, ev); err != nil {
		logger.Error("event handler failed", "error", err)
		return meta, apperr.Wrap(err, apperr.Transient, "handler_failed", fmt.Sprintf("handle %s", meta.Type))
	}
	return meta, nil
}

func (d *Dispatcher) route(ctx context.Context, ev event.Event) error {
	switch e := ev.(type) {
	case event.PaymentSucceeded:
		return d.handlers.PaymentSucceeded(ctx, e)
	case event.SubscriptionChanged:
		return d.handlers.SubscriptionChanged(ctx, e)
	case event.SubscriptionDeleted:
		return d.handlers.SubscriptionDeleted(ctx, e)
	case event.InvoicePaid:
		return d.handlers.InvoicePaid(ctx, e)
	case event.InvoicePaymentFailed:
		return d.handlers.InvoicePaymentFailed(ctx, e)
	case event.TransferPaid:
		return d.handlers.TransferPaid(ctx, e)
	case event.TransferReversed:
		return d.handlers.TransferReversed(ctx, e)
	default:
		return fmt.Errorf("no handler for %T", ev)
	}
}
