// Package http serves the budget reports as JSON and HTML and accepts export
// requests.
package http

import (
	"context"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"pnvr/internal/log"
	"pnvr/internal/middleware/ratelimit"
	"pnvr/internal/middleware/security"
	"pnvr/internal/middleware/trace"
	"pnvr/internal/services"
	appweb "pnvr/web"
)

// Options tunes the server. Zero values fall back to sensible defaults.
type Options struct {
	// ReportTimeout bounds a single report build.
	ReportTimeout time.Duration
	// ExportRateLimit is the number of export requests per minute per client.
	ExportRateLimit int
	// Ready reports whether the backing stores answer. Nil means always ready.
	Ready  func(ctx context.Context) error
	Logger *log.Logger
}

type Server struct {
	http.Server
	reports   *services.ReportService
	exports   *services.ExportService
	ready     func(ctx context.Context) error
	templates *template.Template
	limiter   *ratelimit.Limiter
	detector  *security.Detector
	tracer    *trace.Middleware
	logger    *log.Logger
	timeout   time.Duration

	stopBackground context.CancelFunc
	shutdownOnce   sync.Once
}

// NewServer configures routes and templates, returning a ready-to-run
// http.Server. exports may be nil when the export pipeline is off.
func NewServer(addr string, reports *services.ReportService, exports *services.ExportService, opts Options) (*Server, error) {
	if opts.Logger == nil {
		opts.Logger = log.New(log.DefaultConfig())
	}
	if opts.ReportTimeout <= 0 {
		opts.ReportTimeout = 10 * time.Second
	}

	t, err := template.New("").Funcs(templateFuncs).ParseFS(appweb.TemplatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	detector := security.NewDetector()
	s := &Server{
		reports:   reports,
		exports:   exports,
		ready:     opts.Ready,
		templates: t,
		limiter:   ratelimit.NewLimiter(opts.ExportRateLimit),
		detector:  detector,
		tracer:    trace.NewMiddleware(opts.Logger, detector.ExtractClientIP),
		logger:    opts.Logger.WithComponent(log.ComponentHTTP),
		timeout:   opts.ReportTimeout,
	}

	mux := http.NewServeMux()
	if err := s.routes(mux); err != nil {
		return nil, err
	}

	var handler http.Handler = mux
	handler = s.flagSuspicious(handler)
	handler = security.Headers(security.DefaultHeadersConfig())(handler)
	handler = s.tracer.Middleware(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      opts.ReportTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.stopBackground = cancel
	go s.limiter.Run(ctx, 5*time.Minute)

	return s, nil
}

func (s *Server) routes(mux *http.ServeMux) error {
	static, err := fs.Sub(appweb.StaticFS, "static")
	if err != nil {
		return fmt.Errorf("mount static assets: %w", err)
	}
	mux.Handle("GET /static/", security.StaticAssetMiddleware(3600)(
		http.StripPrefix("/static/", http.FileServer(http.FS(static)))))

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /convenios/{id}/presupuesto", s.handleReportPage)

	mux.HandleFunc("GET /api/convenios", s.handleListConvenios)
	mux.HandleFunc("GET /api/convenios/{id}/presupuesto", s.handleReport)

	limited := s.limiter.Middleware(s.detector.ExtractClientIP, func(w http.ResponseWriter, r *http.Request) {
		s.logger.WarnContext(r.Context(), "Rate limit exceeded", log.FieldPath, r.URL.Path)
		writeError(w, r, http.StatusTooManyRequests, msgRateLimited)
	})
	mux.Handle("POST /api/convenios/{id}/presupuesto/export", limited(http.HandlerFunc(s.handleRequestExport)))
	mux.HandleFunc("GET /api/exports/{job}", s.handleExportStatus)
	return nil
}

// flagSuspicious logs requests that look like injection or path traversal
// attempts. They are still served.
func (s *Server) flagSuspicious(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.detector.DetectSuspiciousRequest(r) {
			log.FromContext(r.Context()).WithComponent(log.ComponentSecurity).WarnContext(r.Context(),
				"Suspicious request",
				log.FieldMethod, r.Method,
				log.FieldPath, r.URL.Path,
				log.FieldUserAgent, r.UserAgent())
		}
		next.ServeHTTP(w, r)
	})
}

// Shutdown stops the background cleanup and the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.stopBackground()
		err = s.Server.Shutdown(ctx)
	})
	return err
}

var templateFuncs = template.FuncMap{
	"money": func(d decimal.Decimal) string { return d.StringFixed(2) },
	"qty": func(d decimal.Decimal) string {
		if d.IsZero() {
			return ""
		}
		return d.String()
	},
	"deref": func(p *string) string {
		if p == nil {
			return ""
		}
		return *p
	},
}
