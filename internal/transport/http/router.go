package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-identity-api/internal/application/user"
	"github.com/go-identity-api/internal/application/verification"
	"github.com/go-identity-api/internal/config"
	"github.com/go-identity-api/internal/domain"
	"github.com/go-identity-api/internal/transport/http/handler"
	appmiddleware "github.com/go-identity-api/internal/transport/http/middleware"
	"golang.org/x/time/rate"
)

// NewRouter builds and returns the application router.
func NewRouter(cfg *config.Config, deps *Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "HEAD", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	var authMw func(http.Handler) http.Handler
	if deps.JWTProvider != nil {
		authMw = appmiddleware.Auth(deps.JWTProvider)
	} else {
		authMw = func(next http.Handler) http.Handler { return next }
	}

	// 5 requests/second, burst of 10 — applied to code issuance and registration.
	sensitiveRL := appmiddleware.NewRateLimiter(rate.Limit(5), 10)

	verifySvc := verification.NewService(verification.ServiceDeps{
		Cache:           deps.Cache,
		Protector:       deps.Protector,
		SMSSender:       deps.SMSSender,
		Mailer:          deps.Mailer,
		Limits:          cfg.Verification,
		SMSTemplateID:   cfg.SMSTemplateID,
		SMSMaxRetries:   cfg.SMSMaxRetries,
		EmailTemplateID: cfg.EmailTemplateID,
	})
	userSvc := user.NewService(user.ServiceDeps{
		UserRepo: deps.UserRepo,
		Codes:    verifySvc,
	})

	healthH := handler.NewHealthHandler()
	userH := handler.NewUserHandler(userSvc)
	verifyH := handler.NewVerifyHandler(verifySvc)

	r.Route("/v1", func(r chi.Router) {
		// ── Public routes (no auth) ──────────────────────────────────────────
		r.Get("/health-check/{action}", healthH.Ping)
		r.Get("/users/codes", userH.Codes)

		// ── Authenticated routes ─────────────────────────────────────────────
		r.Group(func(r chi.Router) {
			r.Use(authMw)

			r.With(sensitiveRL.Limit).Post("/verify-phone", verifyH.SendPhoneCode)
			r.With(sensitiveRL.Limit).Post("/verify-email", verifyH.SendEmailCode)
			r.With(sensitiveRL.Limit).Post("/users/register", userH.Register)

			r.Head("/users", userH.Head)
			r.Get("/users/{id}", userH.Get)
			r.Put("/users/{id}", userH.Update)

			// Admin-only routes
			r.Group(func(r chi.Router) {
				r.Use(appmiddleware.RequireRole(domain.RoleAdmin))

				r.Post("/users/list", userH.List)
				r.Delete("/users/{id}", userH.Delete)
			})
		})
	})

	return r
}
