package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/library-backend/api/controllers"
	"github.com/angelmondragon/library-backend/api/middleware"
	"github.com/angelmondragon/library-backend/internal/auth"
	"github.com/angelmondragon/library-backend/internal/books"
	"github.com/angelmondragon/library-backend/internal/loans"
	"github.com/angelmondragon/library-backend/internal/users"
	"github.com/angelmondragon/library-backend/pkg/auth/session"
	"github.com/angelmondragon/library-backend/pkg/config"
	"github.com/angelmondragon/library-backend/pkg/db"
	"github.com/angelmondragon/library-backend/pkg/logger"
	"github.com/angelmondragon/library-backend/pkg/metrics"
	"github.com/angelmondragon/library-backend/pkg/redis"
)

type sessionManager interface {
	session.AccessSessionChecker
	Rotate(ctx context.Context, oldAccessID string, userID uuid.UUID, provided string) (string, string, error)
	Revoke(ctx context.Context, accessID string) error
}

// Services groups the domain services exposed over HTTP.
type Services struct {
	Auth          auth.Service
	Register      auth.RegisterService
	AdminRegister auth.AdminRegisterService
	Users         users.Service
	Books         books.Service
	Loans         loans.Service
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	sessionManager sessionManager,
	httpMetrics *metrics.HTTPMetrics,
	gatherer prometheus.Gatherer,
	svc Services,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg, httpMetrics),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	loginPolicy := middleware.NewAuthRateLimitPolicy(
		"login",
		cfg.AuthRateLimit.LoginWindow,
		cfg.AuthRateLimit.LoginIPLimit,
		cfg.AuthRateLimit.LoginEmailLimit,
	)
	registerPolicy := middleware.NewAuthRateLimitPolicy(
		"register",
		cfg.AuthRateLimit.RegisterWindow,
		cfg.AuthRateLimit.RegisterIPLimit,
		cfg.AuthRateLimit.RegisterEmailLimit,
	)

	// a nil *redis.Client must not become a non-nil interface inside the middlewares
	var (
		rateStore   rateLimitStore
		replayStore redis.IdempotencyStore
		redisP      db.Pinger
	)
	if redisClient != nil {
		rateStore = redisClient
		replayStore = redisClient
		redisP = redisClient
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisP))
	})
	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(gatherer))
	}

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.With(middleware.AuthRateLimit(loginPolicy, rateStore, logg)).Post("/login", controllers.AuthLogin(svc.Auth, logg))
		r.With(
			middleware.AuthRateLimit(registerPolicy, rateStore, logg),
			middleware.Idempotency(replayStore, logg),
		).Post("/register", controllers.AuthRegister(svc.Register, svc.Auth, logg))
		r.Post("/logout", controllers.AuthLogout(sessionManager, cfg.JWT, logg))
		r.Post("/refresh", controllers.AuthRefresh(sessionManager, cfg.JWT, logg))
	})

	if !cfg.App.IsProd() {
		r.Post("/api/admin/v1/auth/register", controllers.AdminAuthRegister(svc.AdminRegister, svc.Auth, cfg, logg))
	}

	r.Route("/api/v1/books", func(r chi.Router) {
		r.Get("/", controllers.BookList(svc.Books, logg))
		r.Get("/{bookId}", controllers.BookDetail(svc.Books, logg))
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, sessionManager, logg))

		r.Route("/api/v1/users", func(r chi.Router) {
			r.Get("/me", controllers.UserMe(svc.Users, logg))
			r.Get("/{userId}", controllers.UserDetail(svc.Users, logg))
			r.Patch("/{userId}", controllers.UserUpdate(svc.Users, logg))
			r.Delete("/{userId}", controllers.UserDelete(svc.Users, logg))
		})

		r.Route("/api/v1/loans", func(r chi.Router) {
			r.Use(middleware.Idempotency(replayStore, logg))
			r.Post("/", controllers.LoanCreate(svc.Loans, logg))
			r.Get("/", controllers.LoanList(svc.Loans, logg))
			r.Get("/{loanId}", controllers.LoanDetail(svc.Loans, logg))
			r.Patch("/{loanId}", controllers.LoanReturn(svc.Loans, logg))
		})

		r.Route("/api/admin/v1", func(r chi.Router) {
			r.Use(middleware.RequireAdmin(logg))
			r.Post("/authors", controllers.AdminCreateAuthor(svc.Books, logg))
			r.Get("/authors", controllers.AdminListAuthors(svc.Books, logg))
			r.Post("/publishers", controllers.AdminCreatePublisher(svc.Books, logg))
			r.Get("/publishers", controllers.AdminListPublishers(svc.Books, logg))
			r.Post("/books", controllers.AdminCreateBook(svc.Books, logg))
			r.Patch("/books/{bookId}", controllers.AdminUpdateBook(svc.Books, logg))
			r.Delete("/books/{bookId}", controllers.AdminDeleteBook(svc.Books, logg))
			r.Get("/users", controllers.AdminUserList(svc.Users, logg))
		})
	})

	return r
}

type rateLimitStore interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
	RateLimitKey(scope string) string
	TTL(ctx context.Context, key string) (time.Duration, error)
}
