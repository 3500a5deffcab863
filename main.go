package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/example/oauthapp/internal/clock"
	cfg "github.com/example/oauthapp/internal/config"
	"github.com/example/oauthapp/internal/oauth"
	"github.com/example/oauthapp/internal/storage"
)

// appStore is an engine store the server can probe and release.
type appStore interface {
	oauth.Store
	Ping(ctx context.Context) error
	Close() error
}

type App struct {
	svc         *oauth.Service
	store       appStore
	log         *logrus.Logger
	validate    *validator.Validate
	rateLimiter *RateLimiter
	metrics     *metrics
	adminSecret []byte
	corsOrigins []string
	production  bool
}

// NewApp wires the engine over store using the hashing and HTTP policy in c.
// opts are applied after the configured defaults.
func NewApp(store appStore, log *logrus.Logger, c *cfg.Config, opts ...oauth.Option) (*App, error) {
	hasher, err := oauth.NewHasher(c.Hasher, c.BcryptCost)
	if err != nil {
		return nil, err
	}
	engineOpts := append([]oauth.Option{
		oauth.WithHasher(hasher),
		oauth.WithLogger(log),
	}, opts...)

	return &App{
		svc:         oauth.New(store, engineOpts...),
		store:       store,
		log:         log,
		validate:    newValidator(),
		rateLimiter: NewRateLimiter(c.RateLimitPerMinute, clock.Real{}),
		metrics:     newMetrics(),
		adminSecret: []byte(c.AdminJWTSecret),
		corsOrigins: c.CORSAllowedOrigins,
		production:  c.Production(),
	}, nil
}

// Router returns the fully wrapped HTTP handler.
func (a *App) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", a.HandleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ready", a.HandleReady).Methods(http.MethodGet)
	r.Handle("/metrics", a.metrics.handler()).Methods(http.MethodGet)

	r.Handle("/clients", a.AdminAuth(http.HandlerFunc(a.HandleRegisterClient))).Methods(http.MethodPost)
	r.HandleFunc("/users", a.HandleRegisterUser).Methods(http.MethodPost)

	oauthRoutes := r.PathPrefix("/oauth").Subrouter()
	oauthRoutes.HandleFunc("/token", a.HandleToken).Methods(http.MethodPost)
	oauthRoutes.HandleFunc("/resource", a.HandleResource).Methods(http.MethodGet, http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "Resource not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
	})

	// Outside the router so 404, 405 and preflight responses get the same
	// treatment as routed ones.
	var h http.Handler = r
	h = a.CORS(h)
	h = SecurityHeaders(a.production)(h)
	h = a.Logging(h)
	return RequestID(h)
}

func newLogger(level, format string) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	log.SetLevel(lvl)
	if format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log, nil
}

func openStore(c *cfg.Config, log logrus.FieldLogger) (appStore, error) {
	switch c.DBAdapter {
	case "sqlite":
		if dir := filepath.Dir(c.SQLiteFile); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("sqlite dir: %w", err)
			}
		}
		s, err := storage.NewSQLiteDB(c.SQLiteFile)
		if err != nil {
			return nil, fmt.Errorf("sqlite init: %w", err)
		}
		log.WithField("file", c.SQLiteFile).Info("using sqlite database")
		return s, nil
	case "postgres":
		dsn, err := c.BuildPostgresDSN()
		if err != nil {
			return nil, fmt.Errorf("postgres config: %w", err)
		}
		log.Info("applying database migrations")
		if err := storage.ApplyMigrations(dsn, log); err != nil {
			return nil, fmt.Errorf("migrations: %w", err)
		}
		p, err := storage.NewPostgresDB(dsn)
		if err != nil {
			return nil, fmt.Errorf("postgres init: %w", err)
		}
		log.Info("connected to postgres database")
		return p, nil
	case "memory":
		log.Warn("using in-memory database (not recommended for production)")
		return storage.NewMemoryDB(), nil
	default:
		return nil, fmt.Errorf("unsupported DB_ADAPTER: %s (supported: postgres, sqlite, memory)", c.DBAdapter)
	}
}

func main() {
	c, err := cfg.New()
	if err != nil {
		logrus.WithError(err).Fatal("config")
	}
	log, err := newLogger(c.LogLevel, c.LogFormat)
	if err != nil {
		logrus.WithError(err).Fatal("logger")
	}

	store, err := openStore(c, log)
	if err != nil {
		log.WithError(err).Fatal("store")
	}

	app, err := NewApp(store, log, c)
	if err != nil {
		log.WithError(err).Fatal("app")
	}

	srv := &http.Server{
		Handler:      app.Router(),
		Addr:         ":" + c.Port,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.WithFields(logrus.Fields{"port": c.Port, "db": c.DBAdapter, "hasher": c.Hasher}).Info("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("shutdown failed")
	}
	if err := store.Close(); err != nil {
		log.WithError(err).Warn("closing store")
	}
	log.Info("server exited properly")
}
