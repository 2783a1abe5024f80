package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"crypto-price-alerts/internal/alerting"
	"crypto-price-alerts/internal/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// StatusServer exposes the session state over local HTTP.
type StatusServer struct {
	session  *Session
	gatherer prometheus.Gatherer
	logger   zerolog.Logger
	origins  map[string]struct{}
	upgrader websocket.Upgrader
}

// NewStatusServer builds the status HTTP surface. gatherer may be nil.
// Browsers may only mutate banners or open the feed from the server's own
// origin or one of allowedOrigins.
func NewStatusServer(session *Session, gatherer prometheus.Gatherer, allowedOrigins []string, logger zerolog.Logger) *StatusServer {
	s := &StatusServer{
		session:  session,
		gatherer: gatherer,
		logger:   logger.With().Str("component", "status_server").Logger(),
		origins:  make(map[string]struct{}, len(allowedOrigins)),
	}
	for _, o := range allowedOrigins {
		if o = normalizeOrigin(o); o != "" {
			s.origins[o] = struct{}{}
		}
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.allowOrigin,
	}
	return s
}

func normalizeOrigin(origin string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(origin)), "/")
}

// allowOrigin accepts requests without an Origin header (curl, the CLI),
// same-origin requests and configured origins.
func (s *StatusServer) allowOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if u, err := url.Parse(origin); err == nil && strings.EqualFold(u.Host, r.Host) {
		return true
	}
	_, ok := s.origins[normalizeOrigin(origin)]
	return ok
}

// requireOrigin rejects cross-origin writes.
func (s *StatusServer) requireOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
		default:
			if !s.allowOrigin(r) {
				s.logger.Warn().Str("origin", r.Header.Get("Origin")).Str("path", r.URL.Path).Msg("cross-origin request rejected")
				writeJSON(w, http.StatusForbidden, map[string]string{"error": "origin not allowed"})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Router returns the HTTP handler.
func (s *StatusServer) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requireOrigin)

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/snapshot", s.handleSnapshot)
	r.Get("/api/alerts", s.handleAlerts)
	r.Route("/api/banners", func(r chi.Router) {
		r.Get("/", s.handleListBanners)
		r.Delete("/", s.handleClearBanners)
		r.Get("/ws", s.handleBannerFeed)
		r.Delete("/{id}", s.handleRemoveBanner)
		r.Post("/{id}/actions/{index}", s.handleInvokeAction)
	})
	if s.gatherer != nil {
		r.Handle("/metrics", metrics.Handler(s.gatherer))
	}
	return r
}

// Serve listens on addr until ctx is cancelled.
func (s *StatusServer) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("status server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type quoteView struct {
	USD       json.Number `json:"usd"`
	Change24h json.Number `json:"usd_24h_change"`
	MarketCap json.Number `json:"usd_market_cap"`
}

func (s *StatusServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "OK",
		"timestamp": time.Now().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	})
}

func (s *StatusServer) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshot := s.session.Snapshot()
	quotes := make(map[string]quoteView, len(snapshot.Quotes))
	for coin, q := range snapshot.Quotes {
		quotes[coin] = quoteView{
			USD:       json.Number(q.USD.String()),
			Change24h: json.Number(q.Change24h.String()),
			MarketCap: json.Number(q.MarketCap.String()),
		}
	}

	var fetchedAt *time.Time
	if !snapshot.FetchedAt.IsZero() {
		fetchedAt = &snapshot.FetchedAt
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"fetched_at": fetchedAt,
		"prices":     quotes,
	})
}

func (s *StatusServer) handleAlerts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"alerts": s.session.Alerts()})
}

func (s *StatusServer) handleListBanners(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"banners": s.session.Board().List()})
}

func (s *StatusServer) handleClearBanners(w http.ResponseWriter, r *http.Request) {
	removed := s.session.Board().Clear()
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

func (s *StatusServer) handleRemoveBanner(w http.ResponseWriter, r *http.Request) {
	if !s.session.Board().Remove(chi.URLParam(r, "id")) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": alerting.ErrBannerNotFound.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *StatusServer) handleInvokeAction(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "action index must be numeric"})
		return
	}

	err = s.session.Board().Invoke(r.Context(), chi.URLParam(r, "id"), index)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	case errors.Is(err, alerting.ErrBannerNotFound), errors.Is(err, alerting.ErrActionNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	default:
		s.logger.Warn().Err(err).Msg("banner action failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func (s *StatusServer) handleBannerFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	events, cancel := s.session.Board().Subscribe(32)
	defer cancel()

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(map[string]any{"event": "snapshot", "banners": s.session.Board().List()}); err != nil {
		return
	}

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
