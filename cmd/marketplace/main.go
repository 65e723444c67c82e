package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dukerupert/marketplace/internal/database"
	"github.com/dukerupert/marketplace/internal/logging"
	"github.com/dukerupert/marketplace/internal/middleware"
	"github.com/dukerupert/marketplace/internal/push"
	"github.com/dukerupert/marketplace/internal/server"
	"github.com/dukerupert/marketplace/internal/snapshot"
	stripeclient "github.com/dukerupert/marketplace/internal/stripe"
)

func main() {
	logger := logging.Setup(os.Getenv("MARKETPLACE_LOG_LEVEL"), os.Getenv("MARKETPLACE_LOG_FORMAT"))

	port := os.Getenv("MARKETPLACE_PORT")
	if port == "" {
		port = "8080"
	}

	dbPath := os.Getenv("MARKETPLACE_DB_PATH")
	if dbPath == "" {
		dbPath = "marketplace.db"
	}

	snapshotCfg := snapshot.Config{
		S3: snapshot.S3Config{
			Endpoint:  os.Getenv("MARKETPLACE_SNAPSHOT_ENDPOINT"),
			Bucket:    os.Getenv("MARKETPLACE_SNAPSHOT_BUCKET"),
			Region:    os.Getenv("MARKETPLACE_SNAPSHOT_REGION"),
			AccessKey: os.Getenv("MARKETPLACE_SNAPSHOT_ACCESS_KEY"),
			SecretKey: os.Getenv("MARKETPLACE_SNAPSHOT_SECRET_KEY"),
		},
		Passphrase: os.Getenv("MARKETPLACE_SNAPSHOT_PASSPHRASE"),
		Prefix:     os.Getenv("MARKETPLACE_SNAPSHOT_PREFIX"),
		Retention:  envDuration("MARKETPLACE_SNAPSHOT_RETENTION", 30*24*time.Hour),
	}
	if snapshotCfg.S3.Region == "" {
		snapshotCfg.S3.Region = "us-east-1"
	}

	// marketplace restore <key> replaces the database file with a snapshot.
	if len(os.Args) == 3 && os.Args[1] == "restore" {
		a := snapshot.New(snapshotCfg, nil, logger)
		if err := a.Restore(context.Background(), os.Args[2], dbPath); err != nil {
			slog.Error("restore failed", "key", os.Args[2], "error", err)
			os.Exit(1)
		}
		return
	}

	webhookSecret := os.Getenv("STRIPE_WEBHOOK_SECRET")
	if webhookSecret == "" {
		slog.Error("STRIPE_WEBHOOK_SECRET is required")
		os.Exit(1)
	}
	authSecret := os.Getenv("MARKETPLACE_AUTH_SECRET")
	if authSecret == "" {
		slog.Error("MARKETPLACE_AUTH_SECRET is required")
		os.Exit(1)
	}

	db, err := database.Open(dbPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	requestTimeout := envDuration("MARKETPLACE_REQUEST_TIMEOUT", 10*time.Second)
	cfg := server.Config{
		Stripe: stripeclient.NewClient(stripeclient.Config{
			SecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
			WebhookSecret: webhookSecret,
			Currency:      os.Getenv("STRIPE_CURRENCY"),
			Timeout:       requestTimeout,
		}),
		Tokens:         middleware.NewTokenVerifier(authSecret, os.Getenv("MARKETPLACE_AUTH_ISSUER")),
		WebhookTimeout: envDuration("MARKETPLACE_WEBHOOK_TIMEOUT", 10*time.Second),
		RequestTimeout: requestTimeout,
		OriginPatterns: splitList(os.Getenv("MARKETPLACE_WS_ORIGINS")),
		Snapshot:       snapshotCfg,
		Push: push.Config{
			VAPIDPublicKey:  os.Getenv("MARKETPLACE_VAPID_PUBLIC_KEY"),
			VAPIDPrivateKey: os.Getenv("MARKETPLACE_VAPID_PRIVATE_KEY"),
			Subject:         os.Getenv("MARKETPLACE_VAPID_SUBJECT"),
		},
	}
	srv := server.New(db, cfg, logger)

	httpServer := &http.Server{
		Addr:              ":" + port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.WebhookTimeout + 5*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	counterInterval := envDuration("MARKETPLACE_COUNTER_INTERVAL", time.Hour)
	keyRetention := envDuration("MARKETPLACE_IDEMPOTENCY_RETENTION", 90*24*time.Hour)
	snapshotInterval := envDuration("MARKETPLACE_SNAPSHOT_INTERVAL", 24*time.Hour)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("marketplace starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		srv.RateLimiter().Run(gctx, time.Minute)
		return nil
	})

	g.Go(func() error {
		srv.Archiver().Run(gctx, snapshotInterval)
		return nil
	})

	g.Go(func() error {
		counterLogger := logger.With("component", "counters")
		ticker := time.NewTicker(counterInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := srv.CounterStore().Recompute(gctx); err != nil {
					counterLogger.Error("recompute counters", "error", err)
				} else {
					counterLogger.Debug("counters recomputed")
				}
				cutoff := time.Now().UTC().Add(-keyRetention)
				if n, err := srv.IdempotencyStore().PurgeBefore(gctx, cutoff); err != nil {
					counterLogger.Error("purge idempotency keys", "error", err)
				} else if n > 0 {
					counterLogger.Info("purged idempotency keys", "count", n)
				}
			case <-gctx.Done():
				return nil
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.WebhookTimeout+5*time.Second)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		if n := srv.Notifier(); n != nil {
			n.Wait()
		}
		return err
	})

	if err := g.Wait(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("invalid duration, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
