package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/zhouzirui/tabcast/backend/internal/handler/browser"
	"github.com/zhouzirui/tabcast/backend/internal/handler/live"
	"github.com/zhouzirui/tabcast/backend/internal/metrics"
	middlewarePkg "github.com/zhouzirui/tabcast/backend/internal/middleware"
)

// RouterOptions configures the shared middleware.
type RouterOptions struct {
	CORSOrigins []string
	// RateRPS and RateBurst bound actions per session; RateRPS <= 0 disables it.
	RateRPS     float64
	RateBurst   int
}

// NewRouter wires HTTP routes to core services. ctx bounds background work of
// the middleware (rate limiter janitor).
func NewRouter(ctx context.Context, opts RouterOptions, browserHandler *browser.Handler, liveHandler *live.Handler, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(opts.CORSOrigins))

	r.Handle("/metrics", metrics.Handler())

	if liveHandler != nil {
		liveHandler.RegisterRoutes(r)
	}

	// Actions share one token bucket per session.
	r.Group(func(actions chi.Router) {
		actions.Use(middlewarePkg.RateLimiter(ctx, opts.RateRPS, opts.RateBurst, logger))
		browserHandler.RegisterRoutes(actions)
	})

	return r
}
