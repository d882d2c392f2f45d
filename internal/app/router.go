package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-timesheets/internal/directory"
	"github.com/odyssey-erp/odyssey-timesheets/internal/observability"
	"github.com/odyssey-erp/odyssey-timesheets/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-timesheets/internal/timesheet"
	"github.com/odyssey-erp/odyssey-timesheets/jobs"
)

// Pinger is a dependency probed by /readyz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping calls f.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	Metrics          *observability.Metrics
	Resolver         directory.Resolver
	TimesheetHandler *timesheet.Handler
	JobHandler       *jobs.Handler
	Readiness        map[string]Pinger
}

// NewRouter constructs the chi.Router.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", readinessHandler(params.Readiness, params.Logger))

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.TimesheetHandler != nil {
		r.Route("/api/timesheets", func(r chi.Router) {
			r.Use(directory.Middleware(params.Resolver, params.Logger))
			params.TimesheetHandler.MountRoutes(r)
		})
	}
	return r
}

func readinessHandler(deps map[string]Pinger, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		g, gctx := errgroup.WithContext(ctx)
		for name, dep := range deps {
			g.Go(func() error {
				if err := dep.Ping(gctx); err != nil {
					logger.Warn("readiness probe failed", slog.String("dependency", name), slog.Any("error", err))
					return err
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "a dependency is not ready")
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
