package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/smehub/apiserver/config"
	"github.com/smehub/apiserver/internal/db"
	"github.com/smehub/apiserver/internal/handlers"
	"github.com/smehub/apiserver/internal/logging"
	"github.com/smehub/apiserver/internal/mail"
	"github.com/smehub/apiserver/internal/mq"
	"github.com/smehub/apiserver/internal/obs"
	"github.com/smehub/apiserver/internal/rbac"
	"github.com/smehub/apiserver/internal/services"
	"github.com/smehub/apiserver/internal/storage"
	"github.com/smehub/apiserver/internal/store"
)

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	queue      *mq.MQ
	log        logging.Logger
}

// New opens the database, loads the role configuration and wires all routes.
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	log := logging.New(os.Stdout, cfg.IsProduction())

	jwtSecret, err := resolveJWTSecret(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	engine := rbac.NewEngine(LoadRoles(ctx, cfg, log))

	queue, err := mq.Open(ctx, cfg.MQ)
	if err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("open message queue: %w", err)
	}

	metrics := obs.NewMetrics()
	userRepo := store.NewUserRepository(dbConn)
	tokenRepo := store.NewResetTokenRepository(dbConn)
	employeeRepo := store.NewEmployeeRepository(dbConn)
	hasher := services.NewBcryptHasher(cfg.Auth.BcryptCost)

	userService := services.NewUserService(userRepo, hasher, engine)
	employeeService := services.NewEmployeeService(employeeRepo, userRepo)
	resetService := services.NewPasswordResetService(
		tokenRepo,
		userRepo,
		newMailer(cfg, queue),
		hasher,
		log.With("component", "password_reset"),
		services.WithFrontendURL(cfg.FrontendURL),
		services.WithProduction(cfg.IsProduction()),
		services.WithResetRecorder(metrics),
	)

	guard := handlers.NewGuard(jwtSecret, cfg.Auth.TokenTTL, userRepo, engine, log, metrics)
	loginLimiter := handlers.NewIPRateLimiter(cfg.Auth.LoginPerMinute, cfg.Auth.LoginBurst, metrics)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
		metrics.Instrument,
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Method(http.MethodGet, "/metrics", metrics.Handler())
	router.Route("/auth", func(r chi.Router) {
		handler := handlers.NewAuthHandler(userService, resetService, engine, guard, log)
		handlers.AuthRouter(r, handler, loginLimiter.Middleware)
	})
	router.Route("/users", func(r chi.Router) {
		handlers.UserRouter(r, userService, guard)
	})
	router.Route("/employees", func(r chi.Router) {
		handlers.EmployeeRouter(r, employeeService, guard)
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		router:     router,
		db:         dbConn,
		queue:      queue,
		log:        log,
	}, nil
}

func resolveJWTSecret(ctx context.Context, cfg config.Config, log logging.Logger) (string, error) {
	secret := strings.TrimSpace(cfg.Auth.JWTSecret)
	if secret != "" {
		return secret, nil
	}
	if cfg.IsProduction() {
		return "", errors.New("JWT_SECRET is required")
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	log.Warn(ctx, "JWT_SECRET not set, using an ephemeral secret")
	return hex.EncodeToString(buf), nil
}

// LoadRoles reads the role configuration from the configured source. It
// never fails: a missing or invalid document yields the built-in table.
func LoadRoles(ctx context.Context, cfg config.Config, log logging.Logger) rbac.Config {
	var src rbac.Source = rbac.FileSource{Path: cfg.Roles.Path}
	if strings.EqualFold(cfg.Roles.Source, "object") {
		st, err := storage.Open(ctx, cfg.Storage)
		if err != nil {
			log.Error(ctx, "open role configuration storage failed, using built-in roles", "error", err)
			return rbac.FallbackConfig()
		}
		src = rbac.ObjectSource{Store: st, Key: cfg.Roles.ObjectKey}
	}
	return rbac.Load(ctx, src, log)
}

// newMailer queues e-mail on the broker when one is configured and sends
// over SMTP otherwise.
func newMailer(cfg config.Config, queue *mq.MQ) mail.Mailer {
	if queue != nil {
		return mail.NewQueueMailer(queue, cfg.MQ.EmailChannel)
	}
	return mail.NewSMTPMailer(cfg.SMTP)
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server.
func (s *Server) Start() error {
	s.log.Info(context.Background(), "http server listening", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and releases the database and broker.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if s.queue != nil {
		_ = s.queue.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
	return err
}
