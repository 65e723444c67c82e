package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dukerupert/marketplace/internal/apperr"
	"github.com/dukerupert/marketplace/internal/auth"
	"github.com/dukerupert/marketplace/internal/event"
	"github.com/dukerupert/marketplace/internal/ledger"
	"github.com/dukerupert/marketplace/internal/model"
	"github.com/dukerupert/marketplace/internal/store"
	stripeclient "github.com/dukerupert/marketplace/internal/stripe"
)

// PaymentIntents is implemented by *stripe.Client.
type PaymentIntents interface {
	CreatePaymentIntent(ctx context.Context, amountMinor int64, metadata map[string]string) (*stripeclient.Intent, error)
}

type CheckoutHandler struct {
	contents   *store.ContentStore
	creators   *store.CreatorStore
	purchases  *store.PurchaseStore
	affiliates *store.AffiliateStore
	intents    PaymentIntents
	timeout    time.Duration
	logger     *slog.Logger
}

func NewCheckoutHandler(
	cs *store.ContentStore,
	crs *store.CreatorStore,
	ps *store.PurchaseStore,
	as *store.AffiliateStore,
	intents PaymentIntents,
	timeout time.Duration,
	logger *slog.Logger,
) *CheckoutHandler {
	return &CheckoutHandler{
		contents:   cs,
		creators:   crs,
		purchases:  ps,
		affiliates: as,
		intents:    intents,
		timeout:    timeout,
		logger:     logger.With("component", "checkout"),
	}
}

type purchaseRequest struct {
	ContentID     string `json:"contentId"`
	AffiliateCode string `json:"affiliateCode"`
}

type purchaseResponse struct {
	ClientSecret string      `json:"clientSecret"`
	Amount       json.Number `json:"amount"`
	ContentID    string      `json:"contentId"`
}

// Purchase creates a payment intent for one content item. The intent's
// metadata is the only link the payment webhook has back to the buyer,
// the content and the referring affiliate.
func (h *CheckoutHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == "" {
		writeError(w, h.logger, apperr.New(apperr.Authentication, "unauthenticated", "sign in to purchase"))
		return
	}

	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, apperr.New(apperr.Validation, "invalid_request", "invalid JSON"))
		return
	}
	req.ContentID = strings.TrimSpace(req.ContentID)
	if req.ContentID == "" {
		writeError(w, h.logger, apperr.New(apperr.Validation, "invalid_request", "contentId is required"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	resp, err := h.purchase(ctx, userID, req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *CheckoutHandler) purchase(ctx context.Context, userID string, req purchaseRequest) (*purchaseResponse, error) {
	content, err := h.contents.GetByID(ctx, req.ContentID)
	if err != nil {
		return nil, err
	}
	if content == nil {
		return nil, apperr.New(apperr.NotFound, "content_not_found", "content not found")
	}
	if !content.AccessModel.Purchasable() {
		return nil, apperr.New(apperr.Validation, "not_purchasable", "content is not available for purchase")
	}
	if content.Price == nil || !content.Price.IsPositive() {
		return nil, apperr.New(apperr.Validation, "no_price", "content does not have a price")
	}

	existing, err := h.purchases.GetByUserContent(ctx, userID, content.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperr.New(apperr.Conflict, "already_purchased", "content already purchased")
	}

	creator, err := h.creators.GetByID(ctx, content.CreatorID)
	if err != nil {
		return nil, err
	}
	if creator == nil {
		return nil, apperr.New(apperr.NotFound, "content_not_found", "content has no creator")
	}

	link, err := h.resolveAffiliate(ctx, req.AffiliateCode, userID, creator.CommissionRate, *content.Price)
	if err != nil {
		return nil, err
	}

	metadata := map[string]string{
		event.MetaUserID:          userID,
		event.MetaContentID:       content.ID,
		event.MetaAffiliateLinkID: "",
	}
	if link != nil {
		metadata[event.MetaAffiliateLinkID] = link.ID
	}

	intent, err := h.intents.CreatePaymentIntent(ctx, ledger.ToMinorUnits(*content.Price), metadata)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.Transient, "payment_provider_error", "create payment intent")
	}

	h.logger.Info("payment intent created",
		"payment_intent", intent.ID,
		"user_id", userID,
		"content_id", content.ID,
		"affiliate", link != nil,
	)
	return &purchaseResponse{
		ClientSecret: intent.ClientSecret,
		Amount:       json.Number(content.Price.StringFixed(2)),
		ContentID:    content.ID,
	}, nil
}

// resolveAffiliate returns the active link for code, or nil when the code is
// empty, unknown, inactive, owned by the buyer, or would push the combined
// rates past the full amount. An unusable code never blocks a purchase.
func (h *CheckoutHandler) resolveAffiliate(ctx context.Context, code, buyerID string, commissionRate, price decimal.Decimal) (*model.AffiliateLink, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, nil
	}
	link, err := h.affiliates.GetActiveByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if link == nil {
		h.logger.Info("affiliate code not usable", "code", code)
		return nil, nil
	}
	if link.OwnerUserID == buyerID {
		h.logger.Info("ignoring self-referral", "code", code, "user_id", buyerID)
		return nil, nil
	}
	if _, err := ledger.Allocate(price, commissionRate, &link.CommissionRate); err != nil {
		h.logger.Warn("affiliate rate rejected", "code", code, "error", err)
		return nil, nil
	}
	return link, nil
}
