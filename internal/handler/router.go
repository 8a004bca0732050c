package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/proxylens/chat/internal/middleware"
	"github.com/proxylens/chat/internal/remote"
	"github.com/proxylens/chat/pkg/logger"
)

// DefaultBasePath is where the query API is mounted.
const DefaultBasePath = "/api/v1/query"

// RouterConfig configures NewRouter.
type RouterConfig struct {
	BasePath string
	// JWTSecret enables bearer authentication on the query API when set.
	JWTSecret string
	// AnswerScope is the token scope required to generate answers when
	// authentication is on. Empty requires none.
	AnswerScope       string
	RateLimitRequests int
	RateLimitWindow   time.Duration
	CORSOrigins       []string
}

// Handlers groups the handlers mounted by NewRouter.
type Handlers struct {
	Sessions *SessionHandler
	Generate *GenerateHandler
	Health   *HealthHandler
}

// NewRouter builds the service's HTTP router.
func NewRouter(cfg RouterConfig, h Handlers, log *logger.Logger) http.Handler {
	log = logger.OrGlobal(log)
	if cfg.BasePath == "" {
		cfg.BasePath = DefaultBasePath
	}

	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.CORSOrigins))

	r.Get("/health", h.Health.Health)
	r.Get("/ready", h.Health.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route(cfg.BasePath, func(r chi.Router) {
		if cfg.JWTSecret != "" {
			r.Use(middleware.Auth(cfg.JWTSecret))
		}
		if cfg.RateLimitRequests > 0 {
			r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
		}

		r.Get(remote.PathSessions, h.Sessions.List)
		r.Get(remote.PathHistory+"{id}", h.Sessions.History)
		if cfg.JWTSecret != "" && cfg.AnswerScope != "" {
			r.With(middleware.RequireScope(cfg.AnswerScope)).Get(remote.PathAnswer, h.Generate.Generate)
		} else {
			r.Get(remote.PathAnswer, h.Generate.Generate)
		}
	})

	return r
}
