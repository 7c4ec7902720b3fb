package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/channelpulse/device-sync-service/internal/health"
	"github.com/channelpulse/device-sync-service/internal/http/handler"
	"github.com/channelpulse/device-sync-service/internal/http/middleware"
	"github.com/channelpulse/device-sync-service/internal/http/response"
	"github.com/channelpulse/device-sync-service/internal/security"
)

type Dependencies struct {
	TrialHandler      *handler.TrialHandler
	DeviceHandler     *handler.DeviceHandler
	SyncHandler       *handler.SyncHandler
	SecurityHandler   *handler.SecurityHandler
	JWTManager        *security.JWTManager
	CORSOrigins       []string
	APIRateLimitRPM   int
	TrialRateLimitRPM int
	GlobalRateLimiter func(http.Handler) http.Handler
	TrialRateLimiter  func(http.Handler) http.Handler
	Readiness         *health.ProbeRunner
	EnableOTelHTTP    bool
}

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.StructuredRequestLogger)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(dep.CORSOrigins))
	r.Use(middleware.BodyLimit(1 << 20))
	if dep.GlobalRateLimiter != nil {
		r.Use(dep.GlobalRateLimiter)
	} else {
		r.Use(middleware.NewRateLimiter(dep.APIRateLimitRPM, time.Minute).Middleware())
	}

	trialLimiter := dep.TrialRateLimiter
	if trialLimiter == nil {
		trialLimiter = middleware.NewRateLimiter(dep.TrialRateLimitRPM, time.Minute).Middleware()
	}

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if dep.Readiness == nil {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": []any{}})
			return
		}
		ready, results := dep.Readiness.Ready(r.Context())
		if ready {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": results})
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "dependencies are not ready", map[string]any{"checks": results})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/trials", func(r chi.Router) {
			r.With(trialLimiter).Post("/consume", dep.TrialHandler.Consume)
			r.With(trialLimiter).Get("/status", dep.TrialHandler.Status)
			r.With(trialLimiter).Get("/rate-limit", dep.TrialHandler.RateLimit)
			r.With(middleware.AuthMiddleware(dep.JWTManager)).Post("/convert", dep.TrialHandler.Convert)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(dep.JWTManager))

			r.Route("/devices", func(r chi.Router) {
				r.Post("/", dep.DeviceHandler.Register)
				r.Get("/", dep.DeviceHandler.List)
				r.Get("/conflicts", dep.DeviceHandler.Conflicts)
				r.Post("/conflicts/resolve", dep.DeviceHandler.ResolveConflicts)
				r.Post("/logout-others", dep.DeviceHandler.LogoutOthers)
				r.Post("/{device_id}/sessions", dep.DeviceHandler.CreateSession)
				r.Post("/{device_id}/logout", dep.DeviceHandler.Logout)
			})

			r.Route("/sync", func(r chi.Router) {
				r.Get("/events/pending", dep.SyncHandler.PendingEvents)
				r.Post("/events/{event_id}/ack", dep.SyncHandler.AckEvent)
				r.Get("/config", dep.SyncHandler.GetConfig)
				r.Put("/config", dep.SyncHandler.UpdateConfig)
			})

			r.Route("/security", func(r chi.Router) {
				r.Get("/alerts", dep.SecurityHandler.ListAlerts)
				r.Post("/alerts/{alert_id}/acknowledge", dep.SecurityHandler.AcknowledgeAlert)
				r.Post("/alerts/{alert_id}/resolve", dep.SecurityHandler.ResolveAlert)
			})
		})
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
