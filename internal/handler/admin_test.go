package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukerupert/marketplace/internal/snapshot"
	"github.com/dukerupert/marketplace/internal/store"
)

type fakeSnapshotter struct {
	key string
	err error
}

func (f fakeSnapshotter) Snapshot(context.Context) (string, error) { return f.key, f.err }

func (f fakeSnapshotter) Status() snapshot.Status {
	return snapshot.Status{State: snapshot.StateIdle, LastKey: f.key}
}

func TestRecomputeCounters(t *testing.T) {
	td := setupTestData(t)
	if _, err := td.db.Exec(`UPDATE content SET purchase_count = 42`); err != nil {
		t.Fatalf("corrupt counter: %v", err)
	}

	h := NewAdminHandler(store.NewCounterStore(td.db), fakeSnapshotter{}, testLogger())
	rec := httptest.NewRecorder()
	h.RecomputeCounters(rec, httptest.NewRequest("POST", "/api/admin/counters/recompute", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	c, err := store.NewContentStore(td.db).GetByID(context.Background(), td.content.ID)
	if err != nil {
		t.Fatalf("get content: %v", err)
	}
	if c.PurchaseCount != 0 {
		t.Errorf("purchase_count = %d, want 0", c.PurchaseCount)
	}
}

type failingRecomputer struct{}

func (failingRecomputer) Recompute(context.Context) error { return errors.New("disk I/O error") }

func TestRecomputeCountersFailure(t *testing.T) {
	h := NewAdminHandler(failingRecomputer{}, fakeSnapshotter{}, testLogger())
	rec := httptest.NewRecorder()
	h.RecomputeCounters(rec, httptest.NewRequest("POST", "/api/admin/counters/recompute", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestCreateSnapshot(t *testing.T) {
	h := NewAdminHandler(failingRecomputer{}, fakeSnapshotter{key: "ledger-1.db.enc"}, testLogger())
	rec := httptest.NewRecorder()
	h.CreateSnapshot(rec, httptest.NewRequest("POST", "/api/admin/snapshots", nil))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["key"] != "ledger-1.db.enc" {
		t.Errorf("key = %q, want ledger-1.db.enc", body["key"])
	}
}

func TestCreateSnapshotDisabled(t *testing.T) {
	h := NewAdminHandler(failingRecomputer{}, fakeSnapshotter{err: snapshot.ErrDisabled}, testLogger())
	rec := httptest.NewRecorder()
	h.CreateSnapshot(rec, httptest.NewRequest("POST", "/api/admin/snapshots", nil))

	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
	if got := errorCode(t, rec); got != "snapshots_disabled" {
		t.Errorf("error = %q, want snapshots_disabled", got)
	}
}
