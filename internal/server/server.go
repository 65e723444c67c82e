package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/marketplace/internal/dispatch"
	"github.com/dukerupert/marketplace/internal/handler"
	"github.com/dukerupert/marketplace/internal/middleware"
	"github.com/dukerupert/marketplace/internal/push"
	"github.com/dukerupert/marketplace/internal/reconcile"
	"github.com/dukerupert/marketplace/internal/snapshot"
	"github.com/dukerupert/marketplace/internal/store"
	stripeclient "github.com/dukerupert/marketplace/internal/stripe"
	ws "github.com/dukerupert/marketplace/internal/websocket"
)

// purchaseLimit is the number of checkout attempts allowed per caller per minute.
const purchaseLimit = 10

type Config struct {
	Stripe         *stripeclient.Client
	Tokens         *middleware.TokenVerifier
	WebhookTimeout time.Duration
	RequestTimeout time.Duration
	// OriginPatterns are the extra websocket origins accepted besides the host.
	OriginPatterns []string
	Snapshot       snapshot.Config
	Push           push.Config
}

type Server struct {
	db            *sql.DB
	hub           *ws.Hub
	webhookH      *handler.WebhookHandler
	checkoutH     *handler.CheckoutHandler
	creatorH      *handler.CreatorHandler
	notificationH *handler.NotificationHandler
	adminH        *handler.AdminHandler
	pushH         *handler.PushHandler
	notifier      *push.Notifier
	counterStore  *store.CounterStore
	keyStore      *store.IdempotencyStore
	archiver      *snapshot.Archiver
	tokens        *middleware.TokenVerifier
	rateLimiter   *middleware.RateLimiter
	origins       []string
	logger        *slog.Logger
}

func New(db *sql.DB, cfg Config, logger *slog.Logger) *Server {
	if cfg.WebhookTimeout <= 0 {
		cfg.WebhookTimeout = 10 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}

	hub := ws.NewHub(logger.With("component", "notifier"))

	contentStore := store.NewContentStore(db)
	creatorStore := store.NewCreatorStore(db)
	purchaseStore := store.NewPurchaseStore(db)
	affiliateStore := store.NewAffiliateStore(db)
	notificationStore := store.NewNotificationStore(db)
	keyStore := store.NewIdempotencyStore(db)
	counterStore := store.NewCounterStore(db)
	archiver := snapshot.New(cfg.Snapshot, db, logger)

	publishers := reconcile.Fanout{hub}
	var pushH *handler.PushHandler
	var notifier *push.Notifier
	if cfg.Push.Enabled() {
		pushStore := store.NewPushStore(db)
		notifier = push.NewNotifier(push.NewService(cfg.Push), pushStore, logger)
		publishers = append(publishers, notifier)
		pushH = handler.NewPushHandler(pushStore, cfg.Push.VAPIDPublicKey, logger)
	}

	reconciler := reconcile.New(db, publishers, logger)
	dispatcher := dispatch.New(cfg.Stripe, keyStore, reconciler, logger)

	return &Server{
		db:            db,
		hub:           hub,
		webhookH:      handler.NewWebhookHandler(dispatcher, cfg.WebhookTimeout, logger),
		checkoutH:     handler.NewCheckoutHandler(contentStore, creatorStore, purchaseStore, affiliateStore, cfg.Stripe, cfg.RequestTimeout, logger),
		creatorH:      handler.NewCreatorHandler(creatorStore, logger),
		notificationH: handler.NewNotificationHandler(notificationStore, logger),
		adminH:        handler.NewAdminHandler(counterStore, archiver, logger),
		pushH:         pushH,
		notifier:      notifier,
		counterStore:  counterStore,
		keyStore:      keyStore,
		archiver:      archiver,
		tokens:        cfg.Tokens,
		rateLimiter:   middleware.NewRateLimiter(),
		origins:       cfg.OriginPatterns,
		logger:        logger,
	}
}

// CounterStore returns the counter store for the reconciliation loop.
func (s *Server) CounterStore() *store.CounterStore {
	return s.counterStore
}

// IdempotencyStore returns the idempotency store for key retention.
func (s *Server) IdempotencyStore() *store.IdempotencyStore {
	return s.keyStore
}

// Archiver returns the snapshot archiver for the scheduled snapshot loop.
func (s *Server) Archiver() *snapshot.Archiver {
	return s.archiver
}

// Notifier returns the push notifier, or nil when push is not configured.
func (s *Server) Notifier() *push.Notifier {
	return s.notifier
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// The webhook authenticates by signature, not by bearer token.
	outerMux.HandleFunc("POST /webhooks/stripe", s.webhookH.HandleStripeWebhook)
	outerMux.HandleFunc("GET /health", s.healthHandler)

	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	authMiddleware := middleware.RequireAuth(s.tokens)
	outerMux.Handle("/", authMiddleware(protectedMux))

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if err := s.db.PingContext(r.Context()); err != nil {
		s.logger.Error("health check failed", "error", err)
		status, code = "unavailable", http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.HandlerFunc {
	rl := middleware.RateLimit(s.rateLimiter, middleware.ByUserOrIP, purchaseLimit, time.Minute)
	return func(w http.ResponseWriter, r *http.Request) {
		rl(http.HandlerFunc(h)).ServeHTTP(w, r)
	}
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	// Payments
	mux.HandleFunc("POST /api/payments/purchase", s.rateLimitedHandler(s.checkoutH.Purchase))

	// Creator
	mux.HandleFunc("GET /api/creator/balance", s.creatorH.Balance)

	// Notifications
	mux.HandleFunc("GET /api/notifications", s.notificationH.List)
	mux.HandleFunc("GET /ws/notifications", ws.HandleWebSocket(s.hub, s.origins, s.logger.With("component", "websocket")))

	// Push notifications
	if s.pushH != nil {
		mux.HandleFunc("GET /api/push/vapid-key", s.pushH.VAPIDKey)
		mux.HandleFunc("GET /api/push/subscriptions", s.pushH.List)
		mux.HandleFunc("POST /api/push/subscriptions", s.pushH.Subscribe)
		mux.HandleFunc("DELETE /api/push/subscriptions/{id}", s.pushH.Unsubscribe)
	}

	// Admin
	mux.Handle("POST /api/admin/counters/recompute", middleware.RequireAdmin(http.HandlerFunc(s.adminH.RecomputeCounters)))
	mux.Handle("POST /api/admin/snapshots", middleware.RequireAdmin(http.HandlerFunc(s.adminH.CreateSnapshot)))
	mux.Handle("GET /api/admin/snapshots/status", middleware.RequireAdmin(http.HandlerFunc(s.adminH.SnapshotStatus)))
}
