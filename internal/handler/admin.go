package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/marketplace/internal/apperr"
	"github.com/dukerupert/marketplace/internal/snapshot"
)

// Recomputer is implemented by *store.CounterStore.
type Recomputer interface {
	Recompute(ctx context.Context) error
}

// Snapshotter is implemented by *snapshot.Archiver.
type Snapshotter interface {
	Snapshot(ctx context.Context) (string, error)
	Status() snapshot.Status
}

type AdminHandler struct {
	counters  Recomputer
	snapshots Snapshotter
	logger    *slog.Logger
}

func NewAdminHandler(counters Recomputer, snapshots Snapshotter, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{counters: counters, snapshots: snapshots, logger: logger.With("component", "admin")}
}

// RecomputeCounters rebuilds the denormalized counters from their source rows.
func (h *AdminHandler) RecomputeCounters(w http.ResponseWriter, r *http.Request) {
	if err := h.counters.Recompute(r.Context()); err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.logger.Info("counters recomputed")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *AdminHandler) CreateSnapshot(w http.ResponseWriter, r *http.Request) {
	key, err := h.snapshots.Snapshot(r.Context())
	if errors.Is(err, snapshot.ErrDisabled) {
		writeError(w, h.logger, apperr.New(apperr.Conflict, "snapshots_disabled", "snapshot storage is not configured"))
		return
	}
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"key": key})
}

func (h *AdminHandler) SnapshotStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.snapshots.Status())
}
