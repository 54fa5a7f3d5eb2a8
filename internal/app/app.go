package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/router-for-me/throttlegate/internal/clock"
	"github.com/router-for-me/throttlegate/internal/config"
	"github.com/router-for-me/throttlegate/internal/db"
	"github.com/router-for-me/throttlegate/internal/http/api/admin"
	"github.com/router-for-me/throttlegate/internal/http/api/front"
	"github.com/router-for-me/throttlegate/internal/identity"
	"github.com/router-for-me/throttlegate/internal/metrics"
	"github.com/router-for-me/throttlegate/internal/ratelimit"
	"github.com/router-for-me/throttlegate/internal/watcher"
)

const (
	shutdownTimeout   = 10 * time.Second
	janitorInterval   = time.Minute
	readHeaderTimeout = 10 * time.Second
)

// Server holds the wired components of a running throttlegate instance.
type Server struct {
	Config   config.Config
	DB       *gorm.DB
	Users    *identity.Store
	Rules    *ratelimit.ConfigStore
	Throttle *ratelimit.Engine
	Engine   *gin.Engine
	Registry *prometheus.Registry

	clock       clock.Clock
	poller      *watcher.SettingsPoller
	fileWatcher *watcher.FileWatcher
	memory      *ratelimit.MemoryCounterStore
	redis       *redis.Client
	cancel      context.CancelFunc
}

// Option customizes Build.
type Option func(*buildOptions)

type buildOptions struct {
	clock    clock.Clock
	counters ratelimit.CounterStore
}

// WithClock injects the clock used by the engine, tokens and sessions.
func WithClock(c clock.Clock) Option {
	return func(o *buildOptions) { o.clock = c }
}

// WithCounterStore replaces the configured counter store.
func WithCounterStore(s ratelimit.CounterStore) Option {
	return func(o *buildOptions) { o.counters = s }
}

// Build opens the database and wires every component. Nothing runs until Start.
func Build(ctx context.Context, cfg config.Config, configPath string, opts ...Option) (*Server, error) {
	o := buildOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	now := clock.OrSystem(o.clock)

	dsn, err := cfg.DSN()
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return nil, err
	}
	s := &Server{Config: cfg, DB: conn, clock: now}
	ok := false
	defer func() {
		if !ok {
			s.Close()
		}
	}()

	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return nil, errMigrate
	}
	if _, errAdmin := EnsureAdminUser(ctx, conn, cfg.Admin.Username, cfg.Admin.Password); errAdmin != nil {
		return nil, errAdmin
	}
	cfg.JWT.Secret = ensureJWTSecret(cfg.JWT.Secret)
	if cfg.JWT.Secret == "" {
		return nil, errMissingJWTSecret
	}
	s.Config = cfg

	s.Registry = metrics.NewRegistry()
	observer, err := metrics.NewObserver(s.Registry)
	if err != nil {
		return nil, err
	}

	s.Rules, err = ratelimit.NewConfigStore(ratelimit.DefaultSnapshot(),
		ratelimit.WithConfigClock(now),
		ratelimit.WithConfigObserver(observer),
	)
	if err != nil {
		return nil, err
	}
	if errRules := s.loadRules(ctx, configPath); errRules != nil {
		return nil, errRules
	}

	counters := o.counters
	if counters == nil {
		counters, s.memory, s.redis, err = buildCounterStore(ctx, cfg.Redis, now)
		if err != nil {
			return nil, err
		}
	}

	failure, okPolicy := ratelimit.ParseFailurePolicy(cfg.Throttle.FailurePolicy)
	if !okPolicy {
		return nil, fmt.Errorf("throttle.failure-policy: unknown value %q", cfg.Throttle.FailurePolicy)
	}
	engineOpts := []ratelimit.Option{
		ratelimit.WithClock(now),
		ratelimit.WithPolicy(classifierPolicy(cfg.Throttle)),
		ratelimit.WithObserver(observer),
		ratelimit.WithFailurePolicy(failure),
	}
	if cfg.Throttle.CounterTimeout > 0 {
		engineOpts = append(engineOpts, ratelimit.WithCounterTimeout(cfg.Throttle.CounterTimeout))
	}
	s.Throttle, err = ratelimit.NewEngine(s.Rules, counters, engineOpts...)
	if err != nil {
		return nil, err
	}

	s.Users = identity.NewStore(conn, now)
	s.Engine, err = s.buildRouter()
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"failure_policy": failure.String(),
		"redis":          s.redis != nil,
		"watch_config":   s.fileWatcher != nil,
	}).Info("throttle engine ready")
	ok = true
	return s, nil
}

// loadRules layers defaults, database settings and config file overrides.
func (s *Server) loadRules(ctx context.Context, configPath string) error {
	s.poller = watcher.NewSettingsPoller(s.DB, s.Rules, s.Config.Throttle.SettingsPollInterval)
	if errPoll := s.poller.Poll(ctx, true); errPoll != nil {
		log.WithError(errPoll).Warn("initial settings load failed, continuing with defaults")
	}

	values, errSettings := s.Config.Throttle.Settings()
	if errSettings != nil {
		return errSettings
	}
	if len(values) > 0 {
		if _, errReload := s.Rules.ReloadSettings(values); errReload != nil {
			return fmt.Errorf("throttle.categories: %w", errReload)
		}
	}

	if s.Config.Throttle.WatchConfigFile && configPath != "" {
		fw, errWatch := watcher.NewFileWatcher(configPath, s.Rules)
		if errWatch != nil {
			return errWatch
		}
		s.fileWatcher = fw
	}
	return nil
}

func classifierPolicy(cfg config.ThrottleConfig) ratelimit.Policy {
	policy := ratelimit.DefaultPolicy()
	if len(cfg.APIPrefixes) > 0 {
		policy.APIPrefixes = cfg.APIPrefixes
	}
	if len(cfg.ExemptPaths) > 0 {
		policy.ExemptPaths = cfg.ExemptPaths
	}
	return policy
}

func (s *Server) buildRouter() (*gin.Engine, error) {
	engine := gin.New()
	if errProxies := engine.SetTrustedProxies(s.Config.Throttle.TrustedProxies); errProxies != nil {
		return nil, fmt.Errorf("throttle.trusted-proxies: %w", errProxies)
	}

	resolver := identity.NewResolver(s.Users, s.Config.JWT.Secret, s.Throttle.Classifier(), s.clock)
	engine.Use(
		gin.Recovery(),
		requestIDMiddleware(),
		accessLogMiddleware(),
		resolver.Middleware(),
		ratelimit.Middleware(s.Throttle, ratelimit.WithResponder(ratelimit.JSONResponder{
			Now:     s.clock.Now,
			Headers: s.Config.Throttle.RateLimitHeaders,
		})),
	)

	engine.GET("/metrics", gin.WrapH(metrics.Handler(s.Registry)))
	admin.RegisterAdminRoutes(engine, admin.Dependencies{
		DB:       s.DB,
		JWT:      s.Config.JWT,
		Users:    s.Users,
		Throttle: s.Rules,
		Reloader: s.poller,
		Clock:    s.clock,
	})
	front.RegisterFrontRoutes(engine, s.Users, s.Config.JWT, s.clock)
	return engine, nil
}

// Start launches the settings poller, the config file watcher and the memory janitor.
func (s *Server) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	if s.memory != nil {
		s.memory.StartJanitor(ctx, janitorInterval)
	}
	if errPoll := s.poller.Start(ctx); errPoll != nil {
		return errPoll
	}
	if s.fileWatcher != nil {
		if errWatch := s.fileWatcher.Start(ctx); errWatch != nil {
			return errWatch
		}
	}
	return nil
}

// Close stops background work and releases connections.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.fileWatcher != nil {
		if errStop := s.fileWatcher.Stop(); errStop != nil {
			log.WithError(errStop).Warn("stop config file watcher failed")
		}
	}
	if s.poller != nil {
		_ = s.poller.Stop()
	}
	if s.redis != nil {
		if errClose := s.redis.Close(); errClose != nil {
			log.WithError(errClose).Warn("close redis failed")
		}
	}
	if s.DB != nil {
		if sqlDB, errDB := s.DB.DB(); errDB == nil {
			_ = sqlDB.Close()
		}
	}
}

// RunServer loads configuration and serves until ctx is cancelled.
func RunServer(ctx context.Context, appCfg config.AppConfig, port int) error {
	configPath := config.ResolveConfigPath(appCfg.ConfigPath)
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if port > 0 {
		cfg.Port = port
	}
	if errLog := ConfigureLogging(cfg.Log); errLog != nil {
		return errLog
	}

	gin.SetMode(gin.ReleaseMode)
	srv, err := Build(ctx, cfg, configPath)
	if err != nil {
		return err
	}
	defer srv.Close()
	if errStart := srv.Start(ctx); errStart != nil {
		return errStart
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.Engine,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Infof("throttlegate listening on %s (config=%s)", httpServer.Addr, configPath)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case errServe := <-errCh:
		if errors.Is(errServe, http.ErrServerClosed) {
			return nil
		}
		return errServe
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	log.Info("shutting down")
	if errShutdown := httpServer.Shutdown(shutdownCtx); errShutdown != nil {
		return fmt.Errorf("shutdown: %w", errShutdown)
	}
	return nil
}
