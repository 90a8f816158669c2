package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/libraryhq/library-backend/api/controllers"
	"github.com/libraryhq/library-backend/api/middleware"
	"github.com/libraryhq/library-backend/internal/auth"
	"github.com/libraryhq/library-backend/internal/catalog"
	"github.com/libraryhq/library-backend/internal/covers"
	"github.com/libraryhq/library-backend/internal/favorites"
	"github.com/libraryhq/library-backend/internal/reservations"
	"github.com/libraryhq/library-backend/internal/users"
	"github.com/libraryhq/library-backend/pkg/auth/session"
	"github.com/libraryhq/library-backend/pkg/config"
	"github.com/libraryhq/library-backend/pkg/db"
	"github.com/libraryhq/library-backend/pkg/enums"
	"github.com/libraryhq/library-backend/pkg/logger"
	"github.com/libraryhq/library-backend/pkg/redis"
	"github.com/libraryhq/library-backend/pkg/storage/gcs"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	gcsClient gcs.Pinger,
	gatherer prometheus.Gatherer,
	sessionChecker session.AccessSessionChecker,
	authService auth.Service,
	usersService users.Service,
	catalogService catalog.Service,
	reservationsService reservations.Service,
	favoritesService favorites.Service,
	coversService covers.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.AllowedOrigins()...),
	)

	// A nil *redis.Client must reach the middlewares as a nil interface.
	var (
		idempotencyStore redis.IdempotencyStore
		limiterStore     middleware.RateLimiterStore
	)
	readiness := map[string]controllers.Pinger{}
	if dbP != nil {
		readiness["db"] = dbP
	}
	if redisClient != nil {
		idempotencyStore = redisClient
		limiterStore = redisClient
		readiness["redis"] = redisClient
	}
	if gcsClient != nil {
		readiness["gcs"] = gcsClient
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

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

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readiness))
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/auth", func(r chi.Router) {
		r.Use(middleware.Idempotency(idempotencyStore, logg))
		r.With(middleware.AuthRateLimit(loginPolicy, limiterStore, logg)).Post("/login", controllers.AuthLogin(authService, logg))
		r.With(middleware.AuthRateLimit(registerPolicy, limiterStore, logg)).Post("/register", controllers.AuthRegister(authService, logg))
		r.Post("/refresh", controllers.AuthRefresh(authService, logg))
		r.Post("/logout", controllers.AuthLogout(authService, cfg.JWT, logg))
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/books", controllers.ListBooks(catalogService, logg))
		r.Get("/books/{id}", controllers.GetBook(catalogService, logg))
		r.Get("/authors", controllers.ListAuthors(catalogService, logg))
		r.Get("/authors/{id}", controllers.GetAuthor(catalogService, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, sessionChecker, logg))

			r.Get("/books/{id}/reservation", controllers.ReservationPage(reservationsService, logg))
			r.Post("/books/{id}/reservation", controllers.CommitReservation(reservationsService, logg))
			r.Get("/reservations", controllers.ListMyReservations(reservationsService, logg))
			r.Get("/me", controllers.Me(usersService, logg))

			r.Route("/favorites", func(r chi.Router) {
				r.Get("/", controllers.ListFavorites(favoritesService, logg))
				r.Put("/{bookId}", controllers.AddFavorite(favoritesService, logg))
				r.Delete("/{bookId}", controllers.RemoveFavorite(favoritesService, logg))
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, sessionChecker, logg))
			r.Use(middleware.RequireRole(enums.UserRoleAdmin, logg))
			r.Use(middleware.Idempotency(idempotencyStore, logg))

			r.Route("/authors", func(r chi.Router) {
				r.Post("/", controllers.AdminCreateAuthor(catalogService, logg))
				r.Put("/{id}", controllers.AdminUpdateAuthor(catalogService, logg))
				r.Delete("/{id}", controllers.AdminDeleteAuthor(catalogService, logg))
			})
			r.Route("/books", func(r chi.Router) {
				r.Post("/", controllers.AdminCreateBook(catalogService, logg))
				r.Put("/{id}", controllers.AdminUpdateBook(catalogService, logg))
				r.Delete("/{id}", controllers.AdminDeleteBook(catalogService, logg))
				r.Post("/{id}/cover", controllers.AdminPresignCover(coversService, logg))
			})
			r.Post("/reservations/{id}/return", controllers.AdminReturnReservation(reservationsService, logg))
		})
	})

	return r
}
