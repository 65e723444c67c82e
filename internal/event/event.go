// Package event turns verified processor events into a closed set of typed
// variants, so downstream handlers never read from a loose metadata bag.
package event

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v82"

	"github.com/dukerupert/marketplace/internal/apperr"
)

const (
	TypePaymentSucceeded     = "payment_intent.succeeded"
	TypeSubscriptionCreated  = "customer.subscription.created"
	TypeSubscriptionUpdated  = "customer.subscription.updated"
	TypeSubscriptionDeleted  = "customer.subscription.deleted"
	TypeInvoicePaid          = "invoice.paid"
	TypeInvoicePaymentFailed = "invoice.payment_failed"
	TypeTransferPaid         = "transfer.paid"
	TypeTransferReversed     = "transfer.reversed"
)

// Metadata keys written by the checkout intent step and the subscription
// checkout. They are the only linkage back to domain records.
const (
	MetaUserID          = "userId"
	MetaContentID       = "contentId"
	MetaAffiliateLinkID = "affiliateLinkId"
	MetaTierID          = "tierId"
	MetaPayoutID        = "payoutId"
)

// Event is one of the variant types declared in this package.
type Event interface {
	EventMeta() Meta
	isEvent()
}

// Meta identifies the processor event a variant was parsed from.
type Meta struct {
	ID      string
	Type    string
	Created time.Time
}

func (m Meta) EventMeta() Meta { return m }
func (Meta) isEvent()          {}

type PaymentSucceeded struct {
	Meta
	PaymentIntentID string
	AmountMinor     int64
	Currency        string
	UserID          string
	ContentID       string
	AffiliateLinkID string
}

// SubscriptionChanged covers both created and updated events.
type SubscriptionChanged struct {
	Meta
	SubscriptionID    string
	Status            string
	PeriodStart       time.Time
	PeriodEnd         time.Time
	CancelAtPeriodEnd bool
	CanceledAt        *time.Time
	UserID            string
	TierID            string
}

// Active reports whether the processor considers the subscription active.
func (s SubscriptionChanged) Active() bool {
	return s.Status == string(stripe.SubscriptionStatusActive)
}

// SubscriptionDeleted carries the final subscription object, so a deletion
// that arrives before the subscription was ever seen can still be recorded.
type SubscriptionDeleted struct {
	Meta
	SubscriptionID string
	PeriodStart    time.Time
	PeriodEnd      time.Time
	UserID         string
	TierID         string
}

type InvoicePaid struct {
	Meta
	InvoiceID      string
	SubscriptionID string
}

// InvoicePaymentFailed carries the subscription metadata and the billed
// period when the processor includes them.
type InvoicePaymentFailed struct {
	Meta
	InvoiceID      string
	SubscriptionID string
	PeriodStart    time.Time
	PeriodEnd      time.Time
	UserID         string
	TierID         string
}

type TransferPaid struct {
	Meta
	TransferID string
	PayoutID   string
}

type TransferReversed struct {
	Meta
	TransferID string
	PayoutID   string
}

// Unhandled is any event type this service does not consume.
type Unhandled struct {
	Meta
}

// Parse converts a signature-verified processor event into its variant.
// A payload that cannot be decoded is a permanent validation failure.
func Parse(ev stripe.Event) (Event, error) {
	meta := Meta{
		ID:      ev.ID,
		Type:    string(ev.Type),
		Created: time.Unix(ev.Created, 0).UTC(),
	}
	if meta.ID == "" {
		return nil, apperr.New(apperr.Validation, "malformed_event", "event id is missing")
	}

	var raw json.RawMessage
	if ev.Data != nil {
		raw = ev.Data.Raw
	}

	switch meta.Type {
	case TypePaymentSucceeded:
		return parsePaymentIntent(meta, raw)
	case TypeSubscriptionCreated, TypeSubscriptionUpdated:
		return parseSubscriptionChanged(meta, raw)
	case TypeSubscriptionDeleted:
		return parseSubscriptionDeleted(meta, raw)
	case TypeInvoicePaid, TypeInvoicePaymentFailed:
		return parseInvoice(meta, raw)
	case TypeTransferPaid, TypeTransferReversed:
		var tr stripe.Transfer
		if err := decode(meta, raw, &tr); err != nil {
			return nil, err
		}
		if err := requireID(meta, tr.ID); err != nil {
			return nil, err
		}
		payoutID := strings.TrimSpace(tr.Metadata[MetaPayoutID])
		if meta.Type == TypeTransferPaid {
			return TransferPaid{Meta: meta, TransferID: tr.ID, PayoutID: payoutID}, nil
		}
		return TransferReversed{Meta: meta, TransferID: tr.ID, PayoutID: payoutID}, nil
	default:
		return Unhandled{Meta: meta}, nil
	}
}

func parsePaymentIntent(meta Meta, raw json.RawMessage) (Event, error) {
	var pi stripe.PaymentIntent
	if err := decode(meta, raw, &pi); err != nil {
		return nil, err
	}
	if err := requireID(meta, pi.ID); err != nil {
		return nil, err
	}
	amount := pi.AmountReceived
	if amount == 0 {
		amount = pi.Amount
	}
	return PaymentSucceeded{
		Meta:            meta,
		PaymentIntentID: pi.ID,
		AmountMinor:     amount,
		Currency:        string(pi.Currency),
		UserID:          strings.TrimSpace(pi.Metadata[MetaUserID]),
		ContentID:       strings.TrimSpace(pi.Metadata[MetaContentID]),
		AffiliateLinkID: strings.TrimSpace(pi.Metadata[MetaAffiliateLinkID]),
	}, nil
}

func decodeSubscription(meta Meta, raw json.RawMessage) (*stripe.Subscription, legacySubscription, error) {
	var sub stripe.Subscription
	var legacy legacySubscription
	if err := decode(meta, raw, &sub); err != nil {
		return nil, legacy, err
	}
	if err := requireID(meta, sub.ID); err != nil {
		return nil, legacy, err
	}
	if err := decode(meta, raw, &legacy); err != nil {
		return nil, legacy, err
	}
	return &sub, legacy, nil
}

func parseSubscriptionChanged(meta Meta, raw json.RawMessage) (Event, error) {
	sub, legacy, err := decodeSubscription(meta, raw)
	if err != nil {
		return nil, err
	}
	start, end := subscriptionPeriod(sub, legacy)

	out := SubscriptionChanged{
		Meta:              meta,
		SubscriptionID:    sub.ID,
		Status:            string(sub.Status),
		PeriodStart:       unix(start),
		PeriodEnd:         unix(end),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		UserID:            strings.TrimSpace(sub.Metadata[MetaUserID]),
		TierID:            strings.TrimSpace(sub.Metadata[MetaTierID]),
	}
	if sub.CanceledAt > 0 {
		t := unix(sub.CanceledAt)
		out.CanceledAt = &t
	}
	return out, nil
}

func parseSubscriptionDeleted(meta Meta, raw json.RawMessage) (Event, error) {
	sub, legacy, err := decodeSubscription(meta, raw)
	if err != nil {
		return nil, err
	}
	start, end := subscriptionPeriod(sub, legacy)
	return SubscriptionDeleted{
		Meta:           meta,
		SubscriptionID: sub.ID,
		PeriodStart:    unix(start),
		PeriodEnd:      unix(end),
		UserID:         strings.TrimSpace(sub.Metadata[MetaUserID]),
		TierID:         strings.TrimSpace(sub.Metadata[MetaTierID]),
	}, nil
}

func parseInvoice(meta Meta, raw json.RawMessage) (Event, error) {
	var inv stripe.Invoice
	var legacy legacyInvoice
	if err := decode(meta, raw, &inv); err != nil {
		return nil, err
	}
	if err := requireID(meta, inv.ID); err != nil {
		return nil, err
	}
	if err := decode(meta, raw, &legacy); err != nil {
		return nil, err
	}
	subID, metadata := invoiceSubscription(&inv, legacy)

	if meta.Type == TypeInvoicePaid {
		return InvoicePaid{Meta: meta, InvoiceID: inv.ID, SubscriptionID: subID}, nil
	}
	start, end := invoicePeriod(&inv)
	return InvoicePaymentFailed{
		Meta:           meta,
		InvoiceID:      inv.ID,
		SubscriptionID: subID,
		PeriodStart:    unix(start),
		PeriodEnd:      unix(end),
		UserID:         strings.TrimSpace(metadata[MetaUserID]),
		TierID:         strings.TrimSpace(metadata[MetaTierID]),
	}, nil
}

func decode(meta Meta, raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return apperr.New(apperr.Validation, "malformed_event", fmt.Sprintf("%s %s has no data object", meta.Type, meta.ID))
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return apperr.Wrap(err, apperr.Validation, "malformed_event", fmt.Sprintf("decode %s %s", meta.Type, meta.ID))
	}
	return nil
}

func requireID(meta Meta, id string) error {
	if id == "" {
		return apperr.New(apperr.Validation, "malformed_event", fmt.Sprintf("%s %s data object has no id", meta.Type, meta.ID))
	}
	return nil
}

func unix(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
