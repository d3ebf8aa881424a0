package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"offer-stall-alerts/internal/alerting"
	"offer-stall-alerts/internal/config"
	"offer-stall-alerts/internal/service"
)

// ScanRunner triggers one stall-scan cycle.
type ScanRunner interface {
	RunScanCycle(ctx context.Context) (*service.ScanResult, error)
}

// PostbackResult is the last relay outcome, exposed on the status surface.
type PostbackResult struct {
	At      time.Time `json:"at"`
	OK      bool      `json:"ok"`
	Ignored bool      `json:"ignored,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// Server is the postback relay: it receives conversion postbacks, relays
// revenue-bearing ones to the notification channel, and exposes the
// secret-gated cron trigger for the stall scanner. All mutable request
// state lives on this struct; there are no package globals.
type Server struct {
	cfg      config.ServerConfig
	appName  string
	notifier alerting.Notifier
	scanner  ScanRunner
	logger   zerolog.Logger

	mu           sync.Mutex
	lastPostback *PostbackResult
	lastScan     *service.ScanResult
}

// NewServer constructs the relay server.
func NewServer(cfg config.ServerConfig, appName string, notifier alerting.Notifier, scanner ScanRunner, logger zerolog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		appName:  appName,
		notifier: notifier,
		scanner:  scanner,
		logger:   logger.With().Str("component", "webhook_server").Logger(),
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleStatus)
	mux.HandleFunc("/postback", s.handlePostback)
	mux.HandleFunc("/test", s.handleTest)
	mux.HandleFunc("/cron/scan", s.handleCronScan)
	return mux
}

// Serve runs the HTTP server until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	s.logger.Info().Str("addr", s.cfg.ListenAddr).Msg("postback relay listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	s.mu.Lock()
	lastPostback := s.lastPostback
	lastScan := s.lastScan
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"service":       s.appName,
		"last_postback": lastPostback,
		"last_scan":     lastScan,
	})
}

func (s *Server) handlePostback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}

	data := ParsePostback(r)
	s.logger.Info().Int("fields", len(data)).Msg("postback received")

	if len(data) == 0 {
		s.recordPostback(PostbackResult{At: time.Now().UTC(), OK: false, Error: "no data received"})
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "no data received"})
		return
	}

	if !IsRevenueBearing(data) {
		s.recordPostback(PostbackResult{At: time.Now().UTC(), OK: true, Ignored: true})
		writeJSON(w, http.StatusOK, map[string]any{"status": "ignored", "message": "not a revenue-bearing conversion"})
		return
	}

	message := FormatPostbackMessage(data, time.Now())
	if err := s.notifier.Notify(r.Context(), message); err != nil {
		s.recordPostback(PostbackResult{At: time.Now().UTC(), OK: false, Error: err.Error()})
		writeJSON(w, http.StatusInternalServerError, map[string]any{"status": "error", "message": err.Error()})
		return
	}

	s.recordPostback(PostbackResult{At: time.Now().UTC(), OK: true})
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "message": "notification sent"})
}

func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	data := map[string]string{
		"cid":      "test-click-123",
		"payout":   "$150",
		"campaign": "Test Campaign",
		"country":  "DK",
		"offer":    "Test Offer",
		"source":   "Facebook",
	}

	message := "🧪 <b>TEST NOTIFICATION</b>\n\n" + FormatPostbackMessage(data, time.Now())
	if err := s.notifier.Notify(r.Context(), message); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"status": "error", "message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "message": "test notification sent"})
}

func (s *Server) handleCronScan(w http.ResponseWriter, r *http.Request) {
	if !s.checkSecret(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid or missing secret"})
		return
	}
	if s.scanner == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "scanner not configured"})
		return
	}

	result, err := s.scanner.RunScanCycle(r.Context())
	if err != nil {
		if errors.Is(err, service.ErrCycleInFlight) {
			writeJSON(w, http.StatusConflict, map[string]any{"error": "a scan cycle is already running"})
			return
		}
		s.logger.Error().Err(err).Msg("cron-triggered scan failed")
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error()})
		return
	}

	s.mu.Lock()
	s.lastScan = result
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, result)
}

// checkSecret validates the shared cron secret from header or query in
// constant time. An empty configured secret rejects every request.
func (s *Server) checkSecret(r *http.Request) bool {
	if s.cfg.CronSecret == "" {
		return false
	}
	given := r.Header.Get("X-Cron-Secret")
	if given == "" {
		given = r.URL.Query().Get("secret")
	}
	return subtle.ConstantTimeCompare([]byte(given), []byte(s.cfg.CronSecret)) == 1
}

func (s *Server) recordPostback(result PostbackResult) {
	s.mu.Lock()
	s.lastPostback = &result
	s.mu.Unlock()
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
