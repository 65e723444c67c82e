package handler

import (
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/dukerupert/marketplace/internal/apperr"
	"github.com/dukerupert/marketplace/internal/auth"
	"github.com/dukerupert/marketplace/internal/store"
)

type CreatorHandler struct {
	creators *store.CreatorStore
	logger   *slog.Logger
}

func NewCreatorHandler(cs *store.CreatorStore, logger *slog.Logger) *CreatorHandler {
	return &CreatorHandler{creators: cs, logger: logger.With("component", "creator")}
}

type balanceResponse struct {
	TotalEarned      string `json:"totalEarned"`
	TotalPaidOut     string `json:"totalPaidOut"`
	AvailableBalance string `json:"availableBalance"`
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// Balance reports the caller's earnings, completed payouts and what remains.
func (h *CreatorHandler) Balance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	creator, err := h.creators.GetByUserID(ctx, auth.UserID(ctx))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if creator == nil {
		writeError(w, h.logger, apperr.New(apperr.NotFound, "creator_not_found", "caller is not a creator"))
		return
	}

	bal, err := h.creators.Balance(ctx, creator.ID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{
		TotalEarned:      money(bal.TotalEarned),
		TotalPaidOut:     money(bal.TotalPaidOut),
		AvailableBalance: money(bal.AvailableBalance),
	})
}
