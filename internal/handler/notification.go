package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dukerupert/marketplace/internal/apperr"
	"github.com/dukerupert/marketplace/internal/auth"
	"github.com/dukerupert/marketplace/internal/store"
)

const maxNotificationLimit = 100

type NotificationHandler struct {
	notifications *store.NotificationStore
	logger        *slog.Logger
}

func NewNotificationHandler(ns *store.NotificationStore, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{notifications: ns, logger: logger.With("component", "notifications")}
}

func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, h.logger, apperr.New(apperr.Validation, "invalid_request", "limit must be a positive integer"))
			return
		}
		limit = min(n, maxNotificationLimit)
	}

	ctx := r.Context()
	list, err := h.notifications.ListByUser(ctx, auth.UserID(ctx), limit)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}
