// Package main runs the studio gateway: the metered HTTP front for the
// image-generation provider.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	"github.com/fotogem/studio-gateway/internal/config"
	"github.com/fotogem/studio-gateway/internal/database"
	"github.com/fotogem/studio-gateway/internal/gateway"
	"github.com/fotogem/studio-gateway/internal/idempotency"
	"github.com/fotogem/studio-gateway/internal/ledger"
	ledgersupabase "github.com/fotogem/studio-gateway/internal/ledger/supabase"
	"github.com/fotogem/studio-gateway/internal/logging"
	"github.com/fotogem/studio-gateway/internal/metrics"
	"github.com/fotogem/studio-gateway/internal/middleware"
	"github.com/fotogem/studio-gateway/internal/provider"
)

// authSkipPaths lists endpoints served without a bearer token. The webhook
// authenticates with its own MAC; the rest are public.
var authSkipPaths = []string{
	"/health",
	"/info",
	"/metrics",
	"/api/keys",
	"/api/webhooks/payment",
}

func main() {
	_ = godotenv.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	settings := config.LoadSettingsOrDefault()
	log := logging.NewDefault(gateway.ServiceID)

	secrets := config.SecretsFromEnv()
	if err := secrets.Validate(); err != nil {
		log.WithError(err).Fatal("configuration invalid")
	}

	publicKey, err := jwt.ParseRSAPublicKeyFromPEM([]byte(secrets.AuthPublicKeyPEM))
	if err != nil {
		log.WithError(err).Fatal("AUTH_PUBLIC_KEY is not a valid RSA public key")
	}

	dbClient, err := database.NewClient(database.Config{
		URL:        secrets.SupabaseURL,
		ServiceKey: secrets.SupabaseServiceKey,
	})
	if err != nil {
		log.WithError(err).Fatal("database client init failed")
	}

	repo := ledgersupabase.NewRepository(dbClient)
	creditLedger := ledger.NewManager(repo, log).WithDebitRetries(settings.Credits.DebitRetries)

	providerClient := provider.NewClient(secrets.ProviderAPIKey,
		provider.WithModel(settings.Provider.Model),
		provider.WithBaseURL(settings.Provider.BaseURL),
		provider.WithTimeout(settings.Provider.Timeout),
	)

	orders, err := newOrderStore(dbClient)
	if err != nil {
		log.WithError(err).Fatal("order store init failed")
	}
	defer orders.Close()

	clientKeys, err := config.ClientKeys()
	if err != nil {
		// The generate path still works; only /api/keys degrades.
		log.WithError(err).Warn("client keys incomplete, /api/keys will return an error")
	}

	m := metrics.New(gateway.ServiceID)

	svc := gateway.New(gateway.Config{
		Settings:      settings,
		Logger:        log,
		Metrics:       m,
		Ledger:        creditLedger,
		Repository:    repo,
		Provider:      providerClient,
		Orders:        orders,
		WebhookSecret: []byte(secrets.WebhookSecret),
		ClientKeys:    clientKeys,
	})

	router := mux.NewRouter()
	router.Use(middleware.TracingMiddleware(log))
	router.Use(middleware.MetricsMiddleware(m))

	cors := middleware.NewCORSMiddleware(corsOrigins())
	router.Use(mux.MiddlewareFunc(cors.Handler))

	auth := middleware.NewAuthMiddleware(publicKey, log, authSkipPaths)
	router.Use(mux.MiddlewareFunc(auth.Handler))

	limiter := middleware.NewRateLimiter(settings.Limits.RequestsPerSecond, settings.Limits.Burst, log)
	limiterStop := make(chan struct{})
	limiter.StartCleanup(10*time.Minute, limiterStop)
	router.Use(mux.MiddlewareFunc(limiter.Handler))

	router.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	svc.RegisterRoutes(router)

	svc.Start(ctx)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", settings.Service.Port),
		Handler:      router,
		ReadTimeout:  settings.Service.ReadTimeout,
		WriteTimeout: settings.Service.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.WithField("port", settings.Service.Port).Info("gateway listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("shutdown error")
	}
	svc.Stop()
	close(limiterStop)
	log.Info("gateway stopped")
}

// newOrderStore picks the webhook idempotency backend. Supabase is the
// default so the claim survives restarts and is shared across replicas.
func newOrderStore(db *database.Client) (idempotency.Store, error) {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("ORDER_STORE"))) {
	case "", "supabase":
		return idempotency.NewSupabaseStore(db), nil
	case "bolt":
		path := strings.TrimSpace(os.Getenv("ORDER_STORE_PATH"))
		if path == "" {
			path = "data/orders.db"
		}
		return idempotency.NewBoltStore(path)
	case "memory":
		return idempotency.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown ORDER_STORE %q", os.Getenv("ORDER_STORE"))
	}
}

func corsOrigins() []string {
	raw := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if raw == "" {
		return []string{"*"}
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
