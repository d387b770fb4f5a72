// Package api exposes the marketplace over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"trades-marketplace/internal/common/auth"
	"trades-marketplace/internal/common/config"
	commonhttp "trades-marketplace/internal/common/http"
	"trades-marketplace/internal/common/logger"
	"trades-marketplace/internal/models"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	ServiceName     = "marketplace-api"
	shutdownTimeout = 30 * time.Second
	readyTimeout    = 3 * time.Second
)

// Pinger is a dependency checked by /ready.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services are the domain operations the router dispatches to.
type Services struct {
	Users         UserService
	Jobs          JobService
	Applications  ApplicationService
	Messaging     MessagingService
	Payments      PaymentService
	Reviews       ReviewService
	Search        SearchService
	Notifications NotificationService
	Admin         AdminService
}

type Server struct {
	services Services
	authn    *auth.Middleware
	realtime http.Handler
	checks   map[string]Pinger
	cfg      config.HTTPConfig
	limiter  *RateLimiter
	logger   logger.Logger
	http     *http.Server
}

func NewServer(
	services Services,
	authn *auth.Middleware,
	realtime http.Handler,
	checks map[string]Pinger,
	cfg config.HTTPConfig,
	log logger.Logger,
) *Server {
	s := &Server{
		services: services,
		authn:    authn,
		realtime: realtime,
		checks:   checks,
		cfg:      cfg,
		limiter:  NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst),
		logger:   log.WithFields(map[string]interface{}{"component": "http"}),
	}
	s.http = &http.Server{
		Addr:              cfg.Address,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       duration(cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      duration(cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Router builds the route table. Middleware order: request id, recovery, access log,
// metrics, tracing, CORS, rate limit, then authentication on protected routes.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(
		RequestID(s.logger),
		Recovery(s.logger),
		AccessLog(s.logger),
		Metrics,
		Tracing(ServiceName),
		CORS(s.cfg.CORSOrigins),
	)

	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	r.HandleFunc("/ready", s.ready).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()

	public := api.NewRoute().Subrouter()
	public.Use(s.limiter.Middleware)
	public.HandleFunc("/auth/register", s.register).Methods(http.MethodPost)
	public.HandleFunc("/auth/login", s.login).Methods(http.MethodPost)
	public.HandleFunc("/auth/password-strength", s.passwordStrength).Methods(http.MethodPost)
	public.HandleFunc("/payments/webhook", s.paymentWebhook).Methods(http.MethodPost)
	public.HandleFunc("/search/jobs", s.searchJobs).Methods(http.MethodGet)
	public.HandleFunc("/search/workers", s.searchWorkers).Methods(http.MethodGet)

	if s.realtime != nil {
		ws := api.NewRoute().Subrouter()
		ws.Use(s.authn.AuthenticateWithQueryToken, s.limiter.Middleware)
		ws.Handle("/messages/ws", s.realtime).Methods(http.MethodGet)
	}

	protected := api.NewRoute().Subrouter()
	protected.Use(s.authn.Authenticate, s.limiter.Middleware)

	protected.HandleFunc("/auth/logout", s.logout).Methods(http.MethodPost)
	protected.HandleFunc("/users/me", s.me).Methods(http.MethodGet)
	protected.HandleFunc("/users/me", s.updateMe).Methods(http.MethodPut)
	protected.HandleFunc("/users/{id}", s.getUser).Methods(http.MethodGet)

	protected.HandleFunc("/jobs", s.listJobs).Methods(http.MethodGet)
	protected.Handle("/jobs", withRole(s.createJob, models.RoleHirer)).Methods(http.MethodPost)
	protected.HandleFunc("/jobs/{id}", s.getJob).Methods(http.MethodGet)
	protected.Handle("/jobs/{id}", withRole(s.updateJob, models.RoleHirer)).Methods(http.MethodPut)
	protected.Handle("/jobs/{id}/cancel", withRole(s.cancelJob, models.RoleHirer)).Methods(http.MethodPost)
	protected.Handle("/jobs/{id}/complete", withRole(s.completeJob, models.RoleHirer)).Methods(http.MethodPost)
	protected.Handle("/jobs/{id}/applications", withRole(s.listJobApplications, models.RoleHirer, models.RoleAdmin)).Methods(http.MethodGet)

	protected.Handle("/applications", withRole(s.apply, models.RoleWorker)).Methods(http.MethodPost)
	protected.Handle("/applications/mine", withRole(s.listMyApplications, models.RoleWorker)).Methods(http.MethodGet)
	protected.Handle("/applications/{id}/accept", withRole(s.acceptApplication, models.RoleHirer)).Methods(http.MethodPost)
	protected.Handle("/applications/{id}/reject", withRole(s.rejectApplication, models.RoleHirer)).Methods(http.MethodPost)
	protected.Handle("/applications/{id}/withdraw", withRole(s.withdrawApplication, models.RoleWorker)).Methods(http.MethodPost)

	protected.HandleFunc("/messages/conversations", s.listConversations).Methods(http.MethodGet)
	protected.HandleFunc("/messages/conversations", s.startConversation).Methods(http.MethodPost)
	protected.HandleFunc("/messages/conversations/{id}/messages", s.listMessages).Methods(http.MethodGet)
	protected.HandleFunc("/messages/conversations/{id}/messages", s.sendMessage).Methods(http.MethodPost)
	protected.HandleFunc("/messages/conversations/{id}/read", s.markConversationRead).Methods(http.MethodPost)

	protected.Handle("/payments/intents", withRole(s.createIntent, models.RoleHirer)).Methods(http.MethodPost)
	protected.Handle("/payments/intents/{id}/confirm", withRole(s.confirmIntent, models.RoleHirer)).Methods(http.MethodPost)
	protected.HandleFunc("/payments/escrow/{jobId}", s.getEscrow).Methods(http.MethodGet)
	protected.HandleFunc("/payments/escrow/{jobId}/release", s.releaseEscrow).Methods(http.MethodPost)
	protected.HandleFunc("/payments/escrow/{jobId}/refund", s.refundEscrow).Methods(http.MethodPost)

	protected.HandleFunc("/reviews", s.createReview).Methods(http.MethodPost)
	protected.HandleFunc("/reviews/users/{id}", s.listReviews).Methods(http.MethodGet)
	protected.HandleFunc("/reviews/users/{id}/summary", s.ratingSummary).Methods(http.MethodGet)

	protected.HandleFunc("/notifications", s.listNotifications).Methods(http.MethodGet)
	protected.HandleFunc("/notifications/{id}/read", s.markNotificationRead).Methods(http.MethodPost)

	admin := protected.PathPrefix("/admin").Subrouter()
	admin.Use(auth.RequireRole(models.RoleAdmin))
	admin.HandleFunc("/users", s.adminListUsers).Methods(http.MethodGet)
	admin.HandleFunc("/users/{id}/suspend", s.adminSuspend).Methods(http.MethodPost)
	admin.HandleFunc("/users/{id}/unsuspend", s.adminUnsuspend).Methods(http.MethodPost)
	admin.HandleFunc("/jobs/{id}/remove", s.adminRemoveJob).Methods(http.MethodPost)
	admin.HandleFunc("/stats", s.adminStats).Methods(http.MethodGet)
	admin.HandleFunc("/audit-log", s.adminAuditLog).Methods(http.MethodGet)

	// Preflight requests are answered by the CORS middleware once a route matches.
	r.PathPrefix("/").Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	return r
}

// Run serves until ctx is cancelled, then drains in-flight requests for up to 30 seconds.
func (s *Server) Run(ctx context.Context) error {
	stop := make(chan struct{})
	defer close(stop)
	s.limiter.StartCleanup(time.Minute, stop)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", map[string]interface{}{"address": s.cfg.Address})
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("http server shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	commonhttp.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check.Ping(ctx); err != nil {
			logger.FromContext(r.Context(), s.logger).Warn("readiness check failed", map[string]interface{}{
				"dependency": name,
				"error":      err.Error(),
			})
			results[name] = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	body := map[string]interface{}{"status": "ready", "checks": results}
	if status != http.StatusOK {
		body["status"] = "not_ready"
	}
	commonhttp.WriteJSON(w, status, body)
}

func withRole(h http.HandlerFunc, roles ...models.Role) http.Handler {
	return auth.RequireRole(roles...)(h)
}

func duration(ms int, fallback time.Duration) time.Duration {
	if ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}
