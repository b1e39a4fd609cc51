// Package api exposes the daemon's REST surface: a thin chi dispatcher
// over the auth, scheduler, tracker, and health subsystems.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lnmt-project/lnmt/pkg/auth"
	"github.com/lnmt-project/lnmt/pkg/health"
	"github.com/lnmt-project/lnmt/pkg/model"
	"github.com/lnmt-project/lnmt/pkg/scheduler"
	"github.com/lnmt-project/lnmt/pkg/store"
	"github.com/lnmt-project/lnmt/pkg/tracker"
)

const loginRateLimit = 10 // per IP per minute

// Server holds the subsystem handles the handlers dispatch into.
type Server struct {
	st      *store.Store
	auth    *auth.Engine
	sched   *scheduler.Scheduler
	tracker *tracker.Tracker
	monitor *health.Monitor
}

// New wires a Server. Any subsystem handle may be nil; its routes then
// answer 404.
func New(st *store.Store, eng *auth.Engine, sched *scheduler.Scheduler, trk *tracker.Tracker, mon *health.Monitor) *Server {
	return &Server{st: st, auth: eng, sched: sched, tracker: trk, monitor: mon}
}

// Router builds the /api/v1 route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestLogger)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respond404(w)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respond404(w)
	})

	r.Route("/api/v1", func(r chi.Router) {
		// Unauthenticated surface: login, liveness, metrics.
		r.With(httprate.Limit(
			loginRateLimit, time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(rateLimited),
		)).Post("/auth/login", s.handleLogin)
		r.Get("/health", s.handleHealth)
		r.Method(http.MethodGet, "/health/metrics", promhttp.Handler())

		// Everything else requires a bearer token.
		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)

			r.Post("/auth/logout", s.handleLogout)
			r.Post("/auth/refresh", s.handleRefresh)
			r.Get("/auth/whoami", s.handleWhoami)
			r.Get("/auth/sessions", s.handleSessions)

			r.Get("/scheduler/jobs", s.handleJobList)
			r.Get("/scheduler/jobs/{id}", s.handleJobGet)
			r.Get("/scheduler/history", s.handleJobHistory)
			r.Get("/scheduler/status", s.handleSchedStatus)
			r.Get("/scheduler/export", s.handleJobExport)

			r.Get("/devices", s.handleDeviceList)
			r.Get("/devices/alerts", s.handleDeviceAlerts)
			r.Get("/devices/status", s.handleTrackerStatus)
			r.Get("/devices/{mac}/history", s.handleDeviceHistory)

			r.Get("/health/probes", s.handleProbeList)
			r.Get("/health/probes/{id}/samples", s.handleProbeSamples)
			r.Get("/health/heal-log", s.handleHealLog)

			// Mutations need operator or better.
			r.Group(func(r chi.Router) {
				r.Use(s.requireRole(model.RoleOperator))

				r.Post("/scheduler/jobs", s.handleJobRegister)
				r.Put("/scheduler/jobs/{id}", s.handleJobUpdate)
				r.Delete("/scheduler/jobs/{id}", s.handleJobUnregister)
				r.Post("/scheduler/jobs/{id}/run", s.handleJobRun)
				r.Post("/scheduler/jobs/{id}/enable", s.handleJobEnable)
				r.Post("/scheduler/jobs/{id}/disable", s.handleJobDisable)
				r.Post("/scheduler/import", s.handleJobImport)

				r.Post("/devices/poll", s.handleDevicePoll)

				r.Post("/health/probes", s.handleProbeAdd)
				r.Delete("/health/probes/{id}", s.handleProbeRemove)
				r.Post("/health/probes/{id}/reset", s.handleProbeReset)
			})

			// User administration is admin-only.
			r.Group(func(r chi.Router) {
				r.Use(s.requireRole(model.RoleAdmin))

				r.Get("/users", s.handleUserList)
				r.Post("/users", s.handleUserCreate)
				r.Post("/users/{username}/password", s.handleUserPassword)
				r.Post("/users/{username}/enable", s.handleUserEnable)
				r.Post("/users/{username}/disable", s.handleUserDisable)
				r.Get("/auth/audit", s.handleAudit)
			})
		})
	})
	return r
}

func respond404(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte(`{"error":{"code":"not_found","message":"no such resource"}}`))
}

func rateLimited(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = w.Write([]byte(`{"error":{"code":"rate_limited","message":"too many login attempts"}}`))
}
