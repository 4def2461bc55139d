package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/authcore/internal/domain"
	"github.com/utafrali/authcore/internal/service"
	"github.com/utafrali/authcore/pkg/health"
	"github.com/utafrali/authcore/pkg/middleware"
)

// RouterConfig holds everything NewRouter wires together.
type RouterConfig struct {
	Service     *service.AuthService
	Google      OAuthProvider
	Health      *health.Handler
	Logger      *slog.Logger
	CORS        middleware.CORSConfig
	FrontendURL string
	ServiceName string
	// Registerer receives the HTTP collectors; Gatherer backs /metrics.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

// NewRouter creates a chi router with all auth routes registered.
func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "auth"
	}
	if cfg.Health == nil {
		cfg.Health = health.NewHandler()
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.CORS(cfg.CORS))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.RequestLogging(cfg.Logger))
	r.Use(middleware.Tracing(cfg.ServiceName))
	r.Use(middleware.RequestLogger(cfg.Logger))
	if cfg.Registerer != nil {
		r.Use(middleware.NewHTTPMetrics(cfg.Registerer, cfg.ServiceName).Handler)
	}

	r.Get("/health/live", cfg.Health.LivenessHandler())
	r.Get("/health/ready", cfg.Health.ReadinessHandler())
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	authHandler := NewAuthHandler(cfg.Service, cfg.Logger)
	redirects := NewRedirectHandler(cfg.Service, cfg.Google, cfg.FrontendURL, cfg.Logger)
	requireAuth := middleware.Auth(tokenValidator(cfg.Service))

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Use(middleware.NoStore)

		r.Post("/signup", authHandler.Signup)
		r.Get("/verify-email", authHandler.VerifyEmail)
		r.Post("/resend-verification", authHandler.ResendVerification)
		r.Post("/signin", authHandler.Signin)
		r.Post("/refresh", authHandler.Refresh)
		r.Post("/forgot-password", authHandler.ForgotPassword)
		r.Post("/reset-password", authHandler.ResetPassword)

		r.Get("/google/login", redirects.GoogleLogin)
		r.Get("/google/callback", redirects.GoogleCallback)
		r.Get("/unsubscribe", redirects.Unsubscribe)

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Use(middleware.RequestLogger(cfg.Logger))

			r.Post("/oauth/accept-terms", authHandler.AcceptTerms)
			r.Post("/signout", authHandler.Signout)
			r.Get("/me", authHandler.Me)
			r.Get("/profile", authHandler.Profile)
			r.Patch("/profile", authHandler.UpdateProfile)
			r.Patch("/password", authHandler.ChangePassword)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(string(domain.RoleAdmin)))
				r.Get("/admin/dashboard", authHandler.AdminDashboard)
				r.Post("/admin/newsletter/unsubscribe-link", authHandler.UnsubscribeLink)
			})
		})
	})

	return r
}
