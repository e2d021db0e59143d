// Package server wires storage, services and handlers into a chi router
// and runs the HTTP server.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sakif/forms-app/internal/auth"
	"github.com/sakif/forms-app/internal/config"
	"github.com/sakif/forms-app/internal/events"
	"github.com/sakif/forms-app/internal/handler"
	"github.com/sakif/forms-app/internal/middleware"
	"github.com/sakif/forms-app/internal/repository/sqldb"
	"github.com/sakif/forms-app/internal/service"
)

const serviceName = "forms-app"

// Server owns the database connection and the router.
type Server struct {
	router    *chi.Mux
	config    *config.Config
	logger    *slog.Logger
	db        *sqldb.DB
	publisher events.Publisher
}

// New opens the database and builds the routes. A nil publisher disables
// event publishing.
func New(cfg *config.Config, logger *slog.Logger, publisher events.Publisher) (*Server, error) {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}

	db, err := sqldb.New(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router:    chi.NewRouter(),
		config:    cfg,
		logger:    logger,
		db:        db,
		publisher: publisher,
	}

	if err := s.setupRoutes(); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}

	return s, nil
}

func (s *Server) setupRoutes() error {
	tokens, err := auth.NewTokenService(s.config.JWTSecret, s.config.JWTTTL)
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}
	passwords := auth.NewPasswordService(s.config.BcryptCost)

	authService := service.NewAuthService(s.db, tokens, passwords, s.logger)
	formService := service.NewFormService(s.db, s.db, s.publisher, s.logger)

	var github *auth.GitHubProvider
	if s.config.GitHubEnabled() {
		github = auth.NewGitHubProvider(
			s.config.GitHubClientID,
			s.config.GitHubClientSecret,
			s.config.GitHubCallbackURL,
		)
	}

	authHandler := handler.NewAuthHandler(authService, github, tokens.TTL(), s.appURL(), s.logger)
	formHandler := handler.NewFormHandler(formService, s.logger)
	healthHandler := handler.NewHealthHandler(s.db, s.logger)

	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.CORS(s.config.CORSOrigins))

	s.router.Get("/healthz", healthHandler.HandleHealth)

	requireAuth := auth.RequireAuth(tokens)

	s.router.Route("/users", func(r chi.Router) {
		r.Post("/register", authHandler.HandleRegister)
		r.Post("/login", authHandler.HandleLogin)
		r.With(requireAuth).Get("/verify", authHandler.HandleVerify)
	})

	s.router.Route("/auth", func(r chi.Router) {
		if github != nil {
			r.Get("/github/login", authHandler.HandleGitHubLogin)
			r.Get("/github/callback", authHandler.HandleGitHubCallback)
		}
		r.Post("/logout", authHandler.HandleLogout)
	})

	s.router.Route("/forms", func(r chi.Router) {
		r.Use(requireAuth)

		r.Post("/create", formHandler.HandleCreate)
		r.Get("/getAllForms", formHandler.HandleList)
		r.Post("/submit/{formId}", formHandler.HandleSubmit)
		r.Get("/status/{formId}", formHandler.HandleStatus)
		r.Patch("/status/{formId}", formHandler.HandleToggleActive)
		r.Patch("/visibility/{formId}", formHandler.HandleToggleVisibility)
		r.Get("/responses/{formId}", formHandler.HandleResponses)
		r.Get("/responses/{formId}/export", formHandler.HandleExport)
		r.Delete("/delete/{formId}", formHandler.HandleDelete)
		r.Get("/allowed-users/{formId}", formHandler.HandleGetAllowedUsers)
		r.Patch("/allowed-users/{formId}", formHandler.HandleEditAllowedUsers)
		r.Get("/{formId}", formHandler.HandleGet)
	})

	return nil
}

// appURL is where a browser is sent after GitHub login: the first
// configured CORS origin, which is the web client.
func (s *Server) appURL() string {
	for _, o := range s.config.CORSOrigins {
		o = strings.TrimSpace(o)
		if o != "" && o != "*" {
			return o
		}
	}
	return "/"
}

// Handler returns the router wrapped in OpenTelemetry instrumentation.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, serviceName,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// Close releases the database.
func (s *Server) Close() error {
	return s.db.Close()
}

// Start serves until SIGINT/SIGTERM, then drains in-flight requests for up
// to 30 seconds. The database is closed on return.
func (s *Server) Start() error {
	defer s.db.Close()

	srv := &http.Server{
		Addr:         s.config.Addr(),
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("driver", s.config.DBDriver),
			slog.Bool("github", s.config.GitHubEnabled()),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
