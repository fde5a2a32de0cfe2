package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/voiceid-api/internal/application/auth"
	"github.com/voiceid-api/internal/application/challenge"
	"github.com/voiceid-api/internal/application/enrollment"
	"github.com/voiceid-api/internal/application/fusion"
	"github.com/voiceid-api/internal/application/policy"
	"github.com/voiceid-api/internal/application/verification"
	"github.com/voiceid-api/internal/config"
	"github.com/voiceid-api/internal/domain"
	"github.com/voiceid-api/internal/infrastructure/alert"
	"github.com/voiceid-api/internal/transport/http/handler"
	appmiddleware "github.com/voiceid-api/internal/transport/http/middleware"
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
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
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

	// 5 requests/second, burst of 10 — applied to sensitive public endpoints.
	sensitiveRL := appmiddleware.NewRateLimiter(rate.Limit(5), 10)

	alerter := alert.NewAlerter(deps.SMSSender, deps.Mailer)
	fuser := fusion.NewFuser(cfg.AntiSpoofThreshold)
	policies := policy.NewRegistry()
	selector := policy.ClientSelector{Registry: policies}
	evaluator := policy.StandardEvaluator{}

	ledger := challenge.NewService(challenge.ServiceDeps{
		Challenges: deps.ChallengeRepo,
		Phrases:    deps.PhraseRepo,
		Users:      deps.UserRepo,
		Audit:      deps.AuditRepo,
		MaxActive:  cfg.ChallengeMaxActive,
		MaxPerHour: cfg.ChallengeMaxPerHour,
	})
	verifySvc := verification.NewService(verification.ServiceDeps{
		Sessions:    deps.SessionRepo,
		Voiceprints: deps.VoiceprintRepo,
		Attempts:    deps.AttemptRepo,
		Users:       deps.UserRepo,
		Ledger:      ledger,
		Provider:    deps.Provider,
		Fuser:       fuser,
		Policies:    policies,
		Selector:    selector,
		Evaluator:   evaluator,
		Audit:       deps.AuditRepo,
		Alerter:     alerter,
	})
	enrollSvc := enrollment.NewService(enrollment.ServiceDeps{
		Sessions:    deps.SessionRepo,
		Voiceprints: deps.VoiceprintRepo,
		Users:       deps.UserRepo,
		Ledger:      ledger,
		Provider:    deps.Provider,
		Samples:     deps.SampleStore,
		Audit:       deps.AuditRepo,
		Alerter:     alerter,
		SampleCount: cfg.EnrollmentSamples,
	})
	authSvc := auth.NewService(auth.ServiceDeps{
		Users: deps.UserRepo,
		JWT:   deps.JWTProvider,
		Audit: deps.AuditRepo,
	})

	healthH := handler.NewHealthHandler()
	authH := handler.NewAuthHandler(authSvc)
	enrollH := handler.NewEnrollmentHandler(enrollSvc)
	verifyH := handler.NewVerificationHandler(verifySvc)
	phraseH := handler.NewPhraseHandler(deps.PhraseRepo)
	maintH := handler.NewMaintenanceHandler(ledger)

	r.Route("/v1", func(r chi.Router) {
		// ── Public routes (no auth) ──────────────────────────────────────────
		r.Get("/health-check/{action}", healthH.Ping)
		r.Post("/health-check/{action}", healthH.Ping)
		r.Get("/test", healthH.Test)
		r.Post("/test", healthH.Test)
		r.With(sensitiveRL.Limit).Post("/sessions/login", authH.Login)
		r.With(sensitiveRL.Limit).Post("/users", authH.Register)

		// ── Authenticated routes ─────────────────────────────────────────────
		r.Group(func(r chi.Router) {
			r.Use(authMw)

			r.Post("/enrollment", enrollH.Start)
			r.Get("/enrollment/{id}", enrollH.Status)
			r.Post("/enrollment/{id}/samples", enrollH.AddSample)
			r.Post("/enrollment/{id}/complete", enrollH.Complete)

			r.Post("/verification", verifyH.Start)
			r.Post("/verification/multi", verifyH.StartMultiPhrase)
			r.Post("/verification/{id}/voice", verifyH.VerifyVoice)
			r.Post("/verification/{id}/phrases/{challengeID}", verifyH.VerifyVoice)
			r.With(sensitiveRL.Limit).Post("/verification/quick", verifyH.QuickVerify)
			r.Get("/verification/history", verifyH.History)

			// Admin-only routes
			r.Group(func(r chi.Router) {
				r.Use(appmiddleware.RequireRole(domain.RoleAdmin))

				r.Post("/phrases", phraseH.Create)
				r.Post("/maintenance/cleanup", maintH.Cleanup)
			})
		})
	})

	return r
}
