package http

import (
	"context"
	"html/template"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"stockadmin/internal/core"
	"stockadmin/internal/log"
	"stockadmin/internal/metrics"
	"stockadmin/internal/middleware/ratelimit"
	"stockadmin/internal/middleware/security"
	"stockadmin/internal/middleware/trace"
	"stockadmin/internal/table"
	appweb "stockadmin/web"
)

// Check is a readiness probe for one dependency.
type Check func(ctx context.Context) error

type Options struct {
	Addr     string
	Feed     *Feed
	Sessions *table.Registry
	Metrics  *metrics.Metrics
	Logger   *log.Logger
	// Checks run on /readyz in addition to the built-in ones.
	Checks map[string]Check
	// RateLimit is the POST budget per client IP and minute.
	RateLimit int
}

type Server struct {
	http.Server

	templates *template.Template
	feed      *Feed
	sessions  *table.Registry
	hub       *Hub
	metrics   *metrics.Metrics
	logger    *log.Logger
	events    *log.StructuredLogger
	checks    map[string]Check

	rateLimiter *ratelimit.Limiter
	detector    *security.Detector
	trace       *trace.Middleware

	started      time.Time
	stop         context.CancelFunc
	stopFeed     func()
	shutdownOnce sync.Once
}

// NewServer wires routes and middleware and starts the live hub. The feed
// must already be started by the caller.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig()).WithComponent(log.ComponentHTTP)
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New(opts.Sessions.Len)
	}

	mux := http.NewServeMux()
	ctx, cancel := context.WithCancel(context.Background())

	limitCfg := ratelimit.DefaultConfig()
	if opts.RateLimit > 0 {
		limitCfg.RequestsPerMinute = opts.RateLimit
	}

	s := &Server{
		feed:        opts.Feed,
		sessions:    opts.Sessions,
		hub:         NewHub(m),
		metrics:     m,
		logger:      logger,
		events:      log.NewStructuredLogger(logger),
		checks:      opts.Checks,
		rateLimiter: ratelimit.NewLimiter(limitCfg),
		detector:    security.NewDetector(),
		started:     time.Now(),
		stop:        cancel,
	}
	s.trace = trace.NewMiddleware(s.detector.ExtractClientIP, logger, m.ObserveHTTP)

	t, err := template.ParseFS(appweb.TemplatesFS, "templates/*.html")
	if err != nil {
		logger.Error("Failed parsing templates",
			log.FieldError, err,
			log.FieldComponent, log.ComponentTemplate)
	}
	s.templates = t

	go s.hub.Run(ctx)
	s.stopFeed = s.feed.OnChange(func(collection string) {
		switch collection {
		case core.CollectionUsers:
			s.hub.Refresh(viewTable, "")
		case core.CollectionCompanies, core.CollectionTransactions:
			s.hub.Refresh(viewCharts, "")
		}
	})

	if sub, err := fs.Sub(appweb.StaticFS, "static"); err == nil {
		static := http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
		mux.Handle("GET /static/", security.StaticAssetMiddleware(3600)(static))
	} else {
		logger.Warn("Failed to mount embedded static FS", log.FieldError, err)
	}

	mux.HandleFunc("GET /{$}", s.handleUsersPage)
	mux.HandleFunc("GET /charts", s.handleChartsPage)

	mux.HandleFunc("GET /ui/users-table", s.handleUsersTable)
	mux.HandleFunc("POST /ui/users/{id}/hover", s.handleHover)
	mux.HandleFunc("POST /ui/users/{id}/unhover", s.handleUnhover)
	mux.HandleFunc("POST /ui/users/{id}/toggle-blocked", s.handleToggleBlocked)
	mux.HandleFunc("POST /ui/users/{id}/toggle-status", s.handleToggleStatus)
	mux.HandleFunc("POST /ui/users/{id}/copied", s.handleCopied)
	mux.HandleFunc("GET /ui/users/{id}/edit", s.handleOpenEdit)
	mux.HandleFunc("POST /ui/edit/field", s.handleEditField)
	mux.HandleFunc("POST /ui/edit/save", s.handleSaveEdit)
	mux.HandleFunc("POST /ui/edit/cancel", s.handleCancelEdit)
	mux.HandleFunc("GET /ui/charts.json", s.handleChartsJSON)
	mux.HandleFunc("GET /ws", s.handleLive)

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.Handle("GET /metrics", m.Handler())

	var handler http.Handler = mux
	handler = s.trace.Middleware(handler)
	handler = s.rateLimiter.Middleware(s.detector.ExtractClientIP, s.onRateLimit)(handler)
	handler = s.detector.Middleware(handler)
	handler = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(handler)

	s.Server = http.Server{
		Addr:              opts.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) onRateLimit(w http.ResponseWriter, r *http.Request) {
	s.logger.WithComponent(log.ComponentRateLimit).WarnContext(r.Context(), "Rate limit exceeded",
		log.FieldClientIP, s.detector.ExtractClientIP(r),
		log.FieldMethod, r.Method,
		log.FieldPath, r.URL.Path)
	ErrorResponse(http.StatusTooManyRequests, "Too many requests. Please try again later.").
		Header("Retry-After", "60").
		TriggerErrorNotification("Too many requests. Please slow down.").
		Write(w)
}

// Shutdown stops the hub and the rate limiter, then drains HTTP requests.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.stopFeed()
		s.stop()
		s.rateLimiter.Stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}
