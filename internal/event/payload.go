package event

import (
	stripe "github.com/stripe/stripe-go/v82"
)

// The library types follow the API version it pins, which moved the billing
// period onto subscription items and the invoice's subscription under
// parent.subscription_details. Endpoints pinned to an older version still
// send the top-level fields, so these overlays read just those.

type legacySubscription struct {
	CurrentPeriodStart int64 `json:"current_period_start"`
	CurrentPeriodEnd   int64 `json:"current_period_end"`
}

type legacyInvoice struct {
	Subscription *stripe.Subscription `json:"subscription"`
}

// subscriptionPeriod prefers the first item's period and falls back to the
// top-level one.
func subscriptionPeriod(sub *stripe.Subscription, legacy legacySubscription) (int64, int64) {
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0] != nil {
		item := sub.Items.Data[0]
		if item.CurrentPeriodStart != 0 && item.CurrentPeriodEnd != 0 {
			return item.CurrentPeriodStart, item.CurrentPeriodEnd
		}
	}
	return legacy.CurrentPeriodStart, legacy.CurrentPeriodEnd
}

func invoiceSubscription(inv *stripe.Invoice, legacy legacyInvoice) (id string, metadata map[string]string) {
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		details := inv.Parent.SubscriptionDetails
		if details.Subscription != nil && details.Subscription.ID != "" {
			return details.Subscription.ID, details.Metadata
		}
	}
	if legacy.Subscription != nil {
		return legacy.Subscription.ID, legacy.Subscription.Metadata
	}
	return "", nil
}

// invoicePeriod is the service period of the invoice's first line item.
func invoicePeriod(inv *stripe.Invoice) (int64, int64) {
	if inv.Lines != nil && len(inv.Lines.Data) > 0 && inv.Lines.Data[0] != nil && inv.Lines.Data[0].Period != nil {
		return inv.Lines.Data[0].Period.Start, inv.Lines.Data[0].Period.End
	}
	return 0, 0
}
