// Package relay is the notification relay: a small HTTP API that records the
// alerts reported by client sessions and sends their emails over SMTP.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"crypto-price-alerts/internal/config"
	"crypto-price-alerts/internal/metrics"
)

const isoMillis = "2006-01-02T15:04:05.000Z07:00"

// Server is the relay HTTP server.
type Server struct {
	cfg       *config.Config
	registry  *Registry
	sender    Sender
	templates *Templates
	metrics   *metrics.RelayMetrics
	gatherer  prometheus.Gatherer
	logger    zerolog.Logger
	now       func() time.Time
}

// NewServer wires the relay. Collectors are registered on reg.
func NewServer(cfg *config.Config, sender Sender, reg *prometheus.Registry, logger zerolog.Logger) (*Server, error) {
	templates, err := LoadTemplates()
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:       cfg,
		registry:  NewRegistry(),
		sender:    sender,
		templates: templates,
		metrics:   metrics.NewRelayMetrics(reg),
		gatherer:  reg,
		logger:    logger.With().Str("component", "relay").Logger(),
		now:       time.Now,
	}, nil
}

// Registry exposes the alert registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	if s.cfg.Relay.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Recoverer)
	r.Use(SecurityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins(),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(s.instrument)

	r.Get("/api/health", s.handleHealth)
	r.Handle("/metrics", metrics.Handler(s.gatherer))

	r.Group(func(r chi.Router) {
		r.Use(RateLimit(s.cfg.Relay.RateLimit.Requests, s.cfg.Relay.RateLimit.Window, s.metrics.RateLimited.Inc))
		r.Use(BodyLimit(s.cfg.Relay.BodyLimitBytes))

		r.Post("/api/alerts", s.handleRegisterAlert)
		r.Post("/api/email/alert-triggered", s.handleAlertTriggered)
		r.Post("/api/email/price-update", s.handlePriceUpdate)
		r.Get("/api/notifications", s.handleNotifications)
	})
	return r
}

// Serve listens on the configured port until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Relay.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().
			Int("port", s.cfg.Relay.Port).
			Str("email_service", s.cfg.Mail.Service).
			Str("frontend_url", s.cfg.Relay.FrontendURL).
			Msg("relay listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown relay: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.Requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	})
}

// SecurityHeaders sets conservative response headers.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Content-Security-Policy", "default-src 'self'")
		h.Set("Cross-Origin-Opener-Policy", "same-origin")
		h.Set("Cross-Origin-Resource-Policy", "same-origin")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Strict-Transport-Security", "max-age=15552000; includeSubDomains")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-DNS-Prefetch-Control", "off")
		h.Set("X-Frame-Options", "SAMEORIGIN")
		next.ServeHTTP(w, r)
	})
}

// BodyLimit caps request bodies at limit bytes.
func BodyLimit(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > limit {
				writeError(w, http.StatusRequestEntityTooLarge, "request entity too large")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}
