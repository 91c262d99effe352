package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/ledgermatch-backend/api/controllers"
	"github.com/angelmondragon/ledgermatch-backend/api/middleware"
	"github.com/angelmondragon/ledgermatch-backend/internal/audit"
	"github.com/angelmondragon/ledgermatch-backend/internal/auth"
	"github.com/angelmondragon/ledgermatch-backend/internal/reconciliation"
	"github.com/angelmondragon/ledgermatch-backend/internal/records"
	"github.com/angelmondragon/ledgermatch-backend/internal/uploads"
	"github.com/angelmondragon/ledgermatch-backend/internal/users"
	"github.com/angelmondragon/ledgermatch-backend/pkg/auth/session"
	"github.com/angelmondragon/ledgermatch-backend/pkg/config"
	"github.com/angelmondragon/ledgermatch-backend/pkg/enums"
	"github.com/angelmondragon/ledgermatch-backend/pkg/logger"
	"github.com/angelmondragon/ledgermatch-backend/pkg/redis"
)

type sessionManager interface {
	session.AccessSessionChecker
	Revoke(context.Context, string) error
}

// Deps collects everything the HTTP surface needs. Redis is optional: without it the
// auth rate limits and idempotency replay are disabled.
type Deps struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       controllers.Pinger
	Redis    *redis.Client
	Storage  controllers.Pinger
	Sessions sessionManager
	Gatherer prometheus.Gatherer

	UserLoader     middleware.UserLoader
	Auth           auth.Service
	Users          users.Service
	Uploads        uploads.Service
	Records        records.Service
	Reconciliation reconciliation.Service
	Audit          audit.Service
}

func NewRouter(d Deps) http.Handler {
	cfg, logg := d.Config, d.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.CORS),
	)

	var idempotencyStore redis.IdempotencyStore
	ready := map[string]controllers.Pinger{"db": d.DB, "storage": d.Storage}
	limit := func(policy middleware.RateLimitPolicy) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler { return next }
	}
	if d.Redis != nil {
		idempotencyStore = d.Redis
		ready["redis"] = d.Redis
		limit = func(policy middleware.RateLimitPolicy) func(http.Handler) http.Handler {
			return middleware.RateLimit(policy, d.Redis, logg)
		}
	}

	loginPolicy := middleware.EmailPolicy(
		"login",
		cfg.AuthRateLimit.LoginWindow,
		cfg.AuthRateLimit.LoginIPLimit,
		cfg.AuthRateLimit.LoginEmailLimit,
	)
	registerPolicy := middleware.EmailPolicy(
		"register",
		cfg.AuthRateLimit.RegisterWindow,
		cfg.AuthRateLimit.RegisterIPLimit,
		cfg.AuthRateLimit.RegisterEmailLimit,
	)
	uploadPolicy := middleware.UserPolicy(
		"upload",
		cfg.UploadLimit.Window,
		cfg.UploadLimit.IPLimit,
		cfg.UploadLimit.UserLimit,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, ready, logg))
	})

	gatherer := d.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	allRoles := []enums.UserRole{enums.UserRoleAdmin, enums.UserRoleAnalyst, enums.UserRoleViewer}
	editors := []enums.UserRole{enums.UserRoleAdmin, enums.UserRoleAnalyst}

	r.Route("/api/v1", func(r chi.Router) {
		idempotent := middleware.Idempotency(idempotencyStore, logg)

		r.Route("/auth", func(r chi.Router) {
			r.With(limit(loginPolicy)).Post("/login", controllers.AuthLogin(d.Auth, logg))
			r.With(limit(registerPolicy), idempotent).Post("/register", controllers.AuthRegister(d.Auth, logg))
			r.Post("/logout", controllers.AuthLogout(d.Sessions, cfg.JWT, logg))
			r.Post("/refresh", controllers.AuthRefresh(d.Auth, cfg.JWT, logg))
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, d.Sessions, d.UserLoader, logg))
			r.Use(idempotent)

			r.Get("/auth/me", controllers.AuthMe(d.Users, logg))

			r.Route("/uploads", func(r chi.Router) {
				r.With(middleware.RequireRoles(logg, allRoles...)).Get("/", controllers.ListUploads(d.Uploads, logg))
				r.With(middleware.RequireRoles(logg, allRoles...)).Get("/{jobId}", controllers.GetUpload(d.Uploads, logg))
				r.With(middleware.RequireRoles(logg, editors...), limit(uploadPolicy)).Post("/", controllers.CreateUpload(d.Uploads, cfg.Ingest.MaxUploadBytes(), logg))
				r.With(middleware.RequireRoles(logg, editors...)).Post("/{jobId}/mapping", controllers.SubmitUploadMapping(d.Uploads, logg))
			})

			r.Route("/records", func(r chi.Router) {
				r.With(middleware.RequireRoles(logg, allRoles...)).Get("/", controllers.ListRecords(d.Records, logg))
				r.With(middleware.RequireRoles(logg, allRoles...)).Get("/{recordId}", controllers.GetRecord(d.Records, logg))
				r.With(middleware.RequireRoles(logg, editors...)).Post("/", controllers.CreateRecord(d.Records, logg))
				r.With(middleware.RequireRoles(logg, editors...)).Patch("/{recordId}", controllers.UpdateRecord(d.Records, logg))
				r.With(middleware.RequireRoles(logg, editors...)).Delete("/{recordId}", controllers.DeleteRecord(d.Records, logg))
			})

			r.Route("/reconciliation", func(r chi.Router) {
				r.With(middleware.RequireRoles(logg, allRoles...)).Get("/summary", controllers.ReconciliationSummary(d.Reconciliation, logg))
				r.With(middleware.RequireRoles(logg, allRoles...)).Get("/jobs/{jobId}", controllers.ReconciliationJobReport(d.Reconciliation, logg))
				r.With(middleware.RequireRoles(logg, editors...)).Patch("/records/{recordId}/manual-correction", controllers.ManualCorrection(d.Reconciliation, logg))
			})

			r.Route("/audit", func(r chi.Router) {
				r.Get("/records/{recordId}/timeline", controllers.AuditTimeline(d.Audit, logg))
				r.With(middleware.RequireRoles(logg, editors...)).Get("/logs", controllers.AuditLogs(d.Audit, logg))
				r.With(middleware.RequireRoles(logg, enums.UserRoleAdmin)).Post("/backfill", controllers.AuditBackfill(d.Reconciliation, logg))
			})

			r.Route("/users", func(r chi.Router) {
				r.Use(middleware.RequireRoles(logg, enums.UserRoleAdmin))
				r.Get("/", controllers.ListUsers(d.Users, logg))
				r.Patch("/{userId}/role", controllers.ChangeUserRole(d.Users, logg))
				r.Patch("/{userId}/status", controllers.ToggleUserStatus(d.Users, logg))
			})
		})
	})

	return r
}
