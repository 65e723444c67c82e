package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/marketplace/internal/apperr"
	"github.com/dukerupert/marketplace/internal/event"
)

// maxWebhookBody caps the bytes read from a webhook request. Subscription
// events with many items can run past 64 KiB.
const maxWebhookBody = 1 << 20

// Dispatcher is implemented by *dispatch.Dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, payload []byte, signature string) (event.Meta, error)
}

type WebhookHandler struct {
	dispatcher Dispatcher
	timeout    time.Duration
	logger     *slog.Logger
}

func NewWebhookHandler(d Dispatcher, timeout time.Duration, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		dispatcher: d,
		timeout:    timeout,
		logger:     logger.With("component", "webhook"),
	}
}

// HandleStripeWebhook answers 200 {"received": true} once the event is
// applied or deliberately ignored, 400 when the signature or payload can
// never be accepted, and 500 when the processor should retry.
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_body", Message: "read body"})
		return
	}
	// A truncated body can never verify. Answer with a non-400 status so the
	// event is retried and shows up in the error logs instead of being dropped
	// as a bad signature.
	if len(body) > maxWebhookBody {
		h.logger.Error("webhook body too large", "limit", maxWebhookBody)
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "payload_too_large"})
		return
	}

	// Once verified, processing must not be cut short by the client hanging up.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.timeout)
	defer cancel()

	meta, err := h.dispatcher.Dispatch(ctx, body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		logger := h.logger.With("event_id", meta.ID, "event_type", meta.Type, "code", apperr.CodeOf(err))
		switch apperr.KindOf(err) {
		case apperr.Authentication:
			logger.Warn("webhook rejected", "error", err)
			writeJSON(w, http.StatusBadRequest, errorBody{Error: apperr.CodeOf(err)})
		case apperr.Validation:
			logger.Error("webhook payload rejected", "error", err)
			writeJSON(w, http.StatusBadRequest, errorBody{Error: apperr.CodeOf(err)})
		default:
			logger.Error("webhook processing failed", "error", err)
			writeJSON(w, http.StatusInternalServerError, errorBody{Error: "processing_failed"})
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
