package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/clinicops/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/clinicops/internal/http/middleware"
	"github.com/wolfman30/clinicops/internal/waitlist"
	"github.com/wolfman30/clinicops/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger          *logging.Logger
	AdminAuthSecret string
	MetricsHandler  http.Handler

	Automation *handlers.AutomationHandler
	Tenants    *handlers.TenantHandler
	Waitlist   *waitlist.Handler

	// Status hooks are limited per tenant. A zero rate disables the limit.
	HookRatePerSecond float64
	HookBurst         int
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Group(func(public chi.Router) {
		public.Get("/health", handlers.Health)
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	// Without a secret nothing below is reachable.
	if cfg.AdminAuthSecret == "" {
		return r
	}

	if cfg.Automation != nil {
		r.Route("/hooks", func(hooks chi.Router) {
			hooks.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			if cfg.HookRatePerSecond > 0 {
				hooks.Use(httpmiddleware.RateLimit(httpmiddleware.NewRateLimiter(cfg.HookRatePerSecond, cfg.HookBurst), httpmiddleware.TenantOrIP))
			}
			hooks.Post("/appointments/{appointmentID}/status", cfg.Automation.StatusHook)
		})
	}

	r.Route("/admin", func(admin chi.Router) {
		admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
		if cfg.Automation != nil {
			admin.Post("/sweeps/{name}", cfg.Automation.RunSweep)
		}
		admin.Route("/tenants/{tenantID}", func(tenant chi.Router) {
			tenant.Use(httpmiddleware.RequireTenantParam("tenantID"))
			if cfg.Tenants != nil {
				cfg.Tenants.RegisterRoutes(tenant)
			}
			if cfg.Waitlist != nil {
				tenant.Route("/waitlist", cfg.Waitlist.RegisterRoutes)
			}
		})
	})

	return r
}
