// Package gateway wires the metered image-generation endpoints into an HTTP
// service: credit debit, provider invocation, refunds, payment webhooks, and
// the public client configuration endpoint.
package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/fotogem/studio-gateway/internal/config"
	"github.com/fotogem/studio-gateway/internal/httputil"
	"github.com/fotogem/studio-gateway/internal/idempotency"
	"github.com/fotogem/studio-gateway/internal/ledger"
	"github.com/fotogem/studio-gateway/internal/ledger/supabase"
	"github.com/fotogem/studio-gateway/internal/logging"
	"github.com/fotogem/studio-gateway/internal/metrics"
	"github.com/fotogem/studio-gateway/internal/provider"
)

const (
	ServiceID   = "studio-gateway"
	ServiceName = "Studio Gateway"
	Version     = "1.0.0"
)

// ImageGenerator abstracts the upstream provider so handlers can be tested
// without network access.
type ImageGenerator interface {
	Generate(ctx context.Context, promptText string, images []provider.ImagePart) (*provider.Result, error)
}

// Config collects the service dependencies.
type Config struct {
	Settings   *config.Settings
	Logger     *logging.Logger
	Metrics    *metrics.Metrics
	Ledger     *ledger.Manager
	Repository supabase.Repository
	Provider   ImageGenerator
	Orders     idempotency.Store

	// WebhookSecret keys the payment webhook MAC.
	WebhookSecret []byte

	// ClientKeys is the public client configuration served by /api/keys.
	ClientKeys map[string]string
}

// Service is the gateway HTTP service.
type Service struct {
	settings *config.Settings
	log      *logging.Logger
	metrics  *metrics.Metrics
	ledger   *ledger.Manager
	repo     supabase.Repository
	provider ImageGenerator
	orders   idempotency.Store

	webhookSecret []byte
	clientKeys    map[string]string

	stopCh   chan struct{}
	stopOnce sync.Once

	statsMu     sync.Mutex
	generations int64
	refunds     int64
	grants      int64
	startTime   time.Time
}

// New creates the gateway service.
func New(cfg Config) *Service {
	settings := cfg.Settings
	if settings == nil {
		settings = config.DefaultSettings()
	}
	return &Service{
		settings:      settings,
		log:           cfg.Logger,
		metrics:       cfg.Metrics,
		ledger:        cfg.Ledger,
		repo:          cfg.Repository,
		provider:      cfg.Provider,
		orders:        cfg.Orders,
		webhookSecret: cfg.WebhookSecret,
		clientKeys:    cfg.ClientKeys,
		stopCh:        make(chan struct{}),
		startTime:     time.Now(),
	}
}

// RegisterRoutes mounts the service endpoints on the router.
func (s *Service) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/generate", s.handleGenerate).Methods(http.MethodPost)
	r.HandleFunc("/api/webhooks/payment", s.handleWebhook).Methods(http.MethodPost)
	r.HandleFunc("/api/keys", s.handleKeys).Methods(http.MethodGet)
	r.HandleFunc("/api/me/credits", s.handleCredits).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)
}

// Start launches background workers. The stale-attempt reclaimer turns
// pending debits left behind by crashes back into refunds.
func (s *Service) Start(ctx context.Context) {
	ttl := s.settings.Credits.AttemptTTL
	if ttl <= 0 {
		return
	}
	go s.tickerWorker(ctx, ttl, func(ctx context.Context) {
		reclaimed, err := s.ledger.ReclaimStaleAttempts(ctx, ttl)
		if err != nil {
			s.log.WithError(err).Warn("stale attempt reclaim failed")
			return
		}
		if reclaimed > 0 {
			s.log.WithField("count", reclaimed).Info("reclaimed stale attempts")
		}
	})
	s.log.WithField("attempt_ttl", ttl.String()).Info("stale attempt reclaimer started")
}

// Stop signals background workers. Safe to call more than once.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
}

func (s *Service) tickerWorker(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	if err := s.repo.HealthCheck(r.Context()); err != nil {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, code, map[string]any{
		"status":  status,
		"service": ServiceID,
		"version": Version,
	})
}

func (s *Service) handleInfo(w http.ResponseWriter, r *http.Request) {
	s.statsMu.Lock()
	stats := map[string]any{
		"generations": s.generations,
		"refunds":     s.refunds,
		"grants":      s.grants,
		"uptime":      time.Since(s.startTime).String(),
	}
	s.statsMu.Unlock()

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"service": ServiceID,
		"name":    ServiceName,
		"version": Version,
		"model":   s.settings.Provider.Model,
		"stats":   stats,
	})
}

// handleKeys returns the public client configuration. The provider API key
// never appears here; it stays server-side.
func (s *Service) handleKeys(w http.ResponseWriter, r *http.Request) {
	if len(s.clientKeys) == 0 {
		httputil.InternalError(w, "server configuration error: client keys are not set")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, s.clientKeys)
}

func (s *Service) handleCredits(w http.ResponseWriter, r *http.Request) {
	accountID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	balance, err := s.ledger.Balance(r.Context(), accountID)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"credits": balance})
}

func (s *Service) recordGeneration() {
	s.statsMu.Lock()
	s.generations++
	s.statsMu.Unlock()
}

func (s *Service) recordRefund() {
	s.statsMu.Lock()
	s.refunds++
	s.statsMu.Unlock()
}

func (s *Service) recordGrant() {
	s.statsMu.Lock()
	s.grants++
	s.statsMu.Unlock()
}
