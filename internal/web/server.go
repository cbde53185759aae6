package web

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/vbonduro/tileinv/internal/app"
	"github.com/vbonduro/tileinv/internal/domain"
	"github.com/vbonduro/tileinv/internal/metrics"
	"github.com/vbonduro/tileinv/internal/service"
	"github.com/vbonduro/tileinv/internal/session"
)

// Authenticator decides whether a submitted password opens the inventory.
type Authenticator interface {
	Authenticate(input string) bool
}

// Options carries the optional server settings.
type Options struct {
	SecureCookie bool
	SessionTTL   time.Duration
	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
	// Location is the zone dates render in. Nil means the server's local zone.
	Location *time.Location
}

type Server struct {
	inventory *service.InventoryService
	gate      Authenticator
	sessions  session.Store
	guard     *session.Guard
	metrics   *metrics.Metrics
	templates embed.FS
	opts      Options
	mux       *http.ServeMux
	tmplFuncs template.FuncMap
	logger    *slog.Logger
}

func NewServer(
	inventory *service.InventoryService,
	gate Authenticator,
	sessions session.Store,
	tmpl embed.FS,
	m *metrics.Metrics,
	opts Options,
	logger *slog.Logger,
) *Server {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	s := &Server{
		inventory: inventory,
		gate:      gate,
		sessions:  sessions,
		guard:     session.NewGuard(),
		metrics:   m,
		templates: tmpl,
		opts:      opts,
		mux:       http.NewServeMux(),
		logger:    logger,
		tmplFuncs: template.FuncMap{
			"sqft":      func(d decimal.Decimal, places int32) string { return d.StringFixed(places) },
			"orDefault": orDefault,
			"date":      func(t time.Time) string { return t.In(opts.Location).Format("1/2/2006") },
		},
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("POST /login", s.handleLogin)
	s.mux.HandleFunc("POST /logout", s.handleLogout)
	s.mux.HandleFunc("POST /navigate", s.handleNavigate)
	s.mux.HandleFunc("POST /tiles", s.handleAddTile)
	s.mux.HandleFunc("POST /tiles/select", s.handleSelectTile)
	s.mux.HandleFunc("POST /tiles/remove", s.handleRemoveBoxes)
	s.mux.HandleFunc("POST /tiles/update", s.handleUpdateTile)
	s.mux.HandleFunc("GET /healthz", handleHealthz)
	if s.opts.Gatherer != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}
}

// securityHeaders sets CSP and related headers on every response.
// Tile pictures are arbitrary external URLs, so img-src allows any https host.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Content-Security-Policy",
			"default-src 'self'; "+
				"script-src 'self' 'unsafe-inline' https://unpkg.com; "+
				"style-src 'self' 'unsafe-inline'; "+
				"img-src 'self' data: https:; "+
				"connect-src 'self'; "+
				"form-action 'self'")
		next.ServeHTTP(w, r)
	})
}

// statusRecorder wraps http.ResponseWriter to capture the written status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func requestLogger(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestLogger(s.logger, securityHeaders(s.mux)).ServeHTTP(w, r)
}

// ListenAndServe serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.logger.Info("starting server", "addr", addr)
	srv := &http.Server{
		Addr:         addr,
		Handler:      s,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// pageData is what every screen template receives.
type pageData struct {
	State      app.State
	Screen     app.View
	Stats      domain.Stats
	RemoveTile *domain.Tile
	UpdateTile *domain.Tile
}

func newPageData(st app.State) pageData {
	data := pageData{State: st, Screen: st.Screen(), Stats: st.Stats()}
	if t, ok := st.RemoveSelection(); ok {
		data.RemoveTile = &t
	}
	if t, ok := st.UpdateSelection(); ok {
		data.UpdateTile = &t
	}
	return data
}

// renderScreen renders the screen st selects as a full page.
func (s *Server) renderScreen(w http.ResponseWriter, status int, st app.State) {
	data := newPageData(st)
	if err := s.renderPage(w, status, data, "base.html", "pages/"+string(data.Screen)+".html"); err != nil {
		s.logger.Error("render page error", "screen", data.Screen, "error", err)
	}
}

// renderPage parses and executes a full-page template set. Output is buffered
// so a template error never leaves a half-written page.
func (s *Server) renderPage(w http.ResponseWriter, status int, data any, files ...string) error {
	tmpl, err := template.New("").Funcs(s.tmplFuncs).ParseFS(s.templates, files...)
	if err != nil {
		http.Error(w, "template error", http.StatusInternalServerError)
		return err
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "base", data); err != nil {
		http.Error(w, "template error", http.StatusInternalServerError)
		return err
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err = buf.WriteTo(w)
	return err
}

// redirectHome sends the browser back to the current screen after a POST.
// htmx requests get HX-Redirect so the whole page is reloaded.
func redirectHome(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Redirect", "/")
		w.WriteHeader(http.StatusOK)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
