// Package stripe wraps the processor calls the marketplace makes: verifying
// inbound webhook signatures and creating payment intents.
package stripe

import (
	"context"
	"fmt"
	"net/http"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/webhook"
)

type Config struct {
	SecretKey     string
	WebhookSecret string
	Currency      string
	// Timeout bounds every outbound API call.
	Timeout time.Duration
}

type Client struct {
	cfg Config
}

func NewClient(cfg Config) *Client {
	if cfg.Currency == "" {
		cfg.Currency = string(stripe.CurrencyUSD)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	stripe.Key = cfg.SecretKey
	stripe.SetHTTPClient(&http.Client{Timeout: cfg.Timeout})
	return &Client{cfg: cfg}
}

// Intent is the part of a created payment intent the checkout response needs.
type Intent struct {
	ID           string
	ClientSecret string
}

// CreatePaymentIntent creates an intent for amountMinor in the configured
// currency. metadata is copied onto the intent verbatim and comes back on
// the payment_intent.succeeded event.
func (c *Client) CreatePaymentIntent(ctx context.Context, amountMinor int64, metadata map[string]string) (*Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amountMinor),
		Currency: stripe.String(c.cfg.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}
	return &Intent{ID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

// ConstructWebhookEvent verifies the signature over the raw payload and
// returns the parsed event. Events sent with a different API version than
// the library pins are accepted; the event package reads the older field
// layouts alongside the library types.
func (c *Client) ConstructWebhookEvent(payload []byte, sigHeader string) (stripe.Event, error) {
	return webhook.ConstructEventWithOptions(payload, sigHeader, c.cfg.WebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
}
