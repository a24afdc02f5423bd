// cmd/quotagate/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"quotagate/internal/bot"
	"quotagate/internal/catalog"
	"quotagate/internal/common/config"
	"quotagate/internal/common/database"
	"quotagate/internal/common/logger"
	"quotagate/internal/common/notify"
	"quotagate/internal/common/observability"
	"quotagate/internal/credentials"
	"quotagate/internal/ledger"
	"quotagate/internal/payments"
	"quotagate/internal/providers/chat"
	"quotagate/internal/providers/vision"
	"quotagate/internal/store"
)

func main() {
	zapLog := logger.New("info", "console")
	defer zapLog.Sync()

	zapLog.Info("Starting quotagate...")

	cfg, err := config.Load()
	if err != nil {
		zapLog.Fatal("config load failed", zap.Error(err))
	}

	// Re-create the logger with the configured level/format.
	zapLog = logger.New(cfg.Logging.Level, cfg.Logging.Format)
	log := logger.NewZapAdapter(zapLog)

	obs := observability.New(cfg.App.Name)
	defer obs.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Alerting ---
	var notifier notify.Notifier = notify.NopNotifier{}
	if cfg.Alerts.SNS.Enabled {
		snsNotifier, err := notify.NewSNSNotifier(ctx, cfg.Alerts.SNS.Region, cfg.Alerts.SNS.TopicARN, log)
		if err != nil {
			zapLog.Warn("SNS notifier unavailable, alerts disabled", zap.Error(err))
		} else {
			notifier = snsNotifier
		}
	}

	// --- Storage: postgres with one-time file failover ---
	st := store.Open(cfg, log)
	defer st.Close()
	if st.Backend() == store.BackendFile {
		notifier.Alert(ctx, "quotagate storage failover",
			"Postgres was unavailable at startup; running on the file backend until restart.")
	}

	cat := catalog.Load(ctx, st, log)

	// --- Optional shared entitlement cache ---
	var shared *ledger.SharedCache
	if cfg.Storage.SharedCache {
		redisClient, err := database.NewRedis(cfg.Database.Redis)
		if err == nil {
			err = redisClient.Ping(ctx)
		}
		if err != nil {
			zapLog.Warn("redis unavailable, shared cache disabled", zap.Error(err))
		} else {
			defer redisClient.Close()
			shared = ledger.NewSharedCache(redisClient.Client,
				time.Duration(cfg.Storage.SharedCacheTTLms)*time.Millisecond, log)
			zapLog.Info("shared entitlement cache enabled")
		}
	}

	cache := ledger.NewCache(st, shared, cfg.Providers.Chat.MaxHistory, log)
	policy := ledger.NewPolicy(cache, cat, cfg.Providers.Vision.ChargeFailedRequests, log)
	lifecycle := ledger.NewLifecycle(cache, st, cat, log)

	// --- Chat provider ---
	chatClient := chat.NewClient(cfg.Providers.Chat, log)
	probeCtx, probeCancel := context.WithTimeout(ctx, 10*time.Second)
	if chatClient.Available(probeCtx) {
		zapLog.Info("chat provider reachable")
	} else {
		zapLog.Warn("chat provider unreachable at startup, continuing anyway")
	}
	probeCancel()

	// --- Vision provider with credential rotation ---
	rotator := credentials.NewRotator()
	for _, acc := range cfg.Providers.Vision.Accounts {
		rotator.Add(credentials.Credential{
			Service:   vision.ServiceName,
			AccountID: acc.ServiceAccountID,
			KeyID:     acc.KeyID,
			Secret:    acc.SecretKey,
		})
	}
	tokens := credentials.NewTokenSource(cfg.Providers.Vision.TokenURL,
		time.Duration(cfg.Providers.Vision.Timeout)*time.Millisecond, log)
	visionClient := vision.NewClient(cfg.Providers.Vision, rotator, tokens, log)
	if !visionClient.Enabled() {
		zapLog.Warn("no vision accounts configured, image recognition disabled")
		notifier.Alert(ctx, "quotagate vision disabled",
			"No vision service accounts configured; image recognition is off for this process.")
	}

	// --- Payments ---
	var paymentsClient *payments.Client
	if cfg.Payments.ShopID != "" {
		paymentsClient = payments.NewClient(cfg.Payments, log)
	} else {
		zapLog.Warn("payments not configured, purchases disabled")
	}

	// --- Transport and handler ---
	transport := bot.NewVKClient(cfg.Transport, log)
	handler := bot.NewHandler(transport, transport, cache, policy, cat, st,
		chatClient, visionClient, paymentsClient, obs, cfg.Transport, log)

	// --- Health & Metrics Server ---
	go func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{
				"status":  "healthy",
				"backend": string(st.Backend()),
				"time":    time.Now().Format(time.RFC3339),
			})
		})
		mux.Handle("/metrics", promhttp.Handler())
		addr := fmt.Sprintf(":%d", cfg.App.MetricsPort)
		zapLog.Info("Health/Metrics server listening", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Payment webhook server ---
	webhookSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.App.WebhookPort),
		Handler: webhookMux(payments.NewWebhookHandler(lifecycle, obs, log)),
	}
	go func() {
		zapLog.Info("Payment webhook server listening", zap.String("addr", webhookSrv.Addr))
		if err := webhookSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Error("Payment webhook server failed", zap.Error(err))
		}
	}()

	// --- Long-poll loop ---
	pollDone := make(chan error, 1)
	go func() {
		pollDone <- transport.Poll(ctx, handler.HandleEvent)
	}()
	zapLog.Info("quotagate started")

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		zapLog.Info("Shutdown signal received")
	case err := <-pollDone:
		if err != nil && ctx.Err() == nil {
			zapLog.Error("long poll loop exited", zap.Error(err))
			notifier.Alert(ctx, "quotagate poll loop down", err.Error())
		}
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := webhookSrv.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("webhook server shutdown failed", zap.Error(err))
	}

	zapLog.Info("quotagate stopped gracefully")
}

func webhookMux(h http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/webhooks/payments", h)
	return mux
}
