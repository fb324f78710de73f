package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/collegeadmin/pkg/async"
	"github.com/platinummonkey/collegeadmin/pkg/audit"
	"github.com/platinummonkey/collegeadmin/pkg/auth"
	"github.com/platinummonkey/collegeadmin/pkg/config"
	"github.com/platinummonkey/collegeadmin/pkg/middleware"
	"github.com/platinummonkey/collegeadmin/pkg/observability"
	"github.com/platinummonkey/collegeadmin/pkg/rbac"
	"github.com/platinummonkey/collegeadmin/pkg/session"
	"github.com/platinummonkey/collegeadmin/pkg/storage"
)

// app holds the wired collaborators shared by every command.
type app struct {
	cfg      *config.Config
	log      *logrus.Logger
	obs      *observability.Logger
	db       *sql.DB
	users    *auth.SQLUserStore
	ledger   *auth.SQLResetLedger
	rbac     *rbac.Store
	sessions *session.Manager
	authn    *auth.Authenticator
	resets   *auth.ResetService
	audit    *audit.DBLogger
	registry *prometheus.Registry
	metrics  *observability.Metrics
	redis    *redis.Client
	notify   *async.Pool
}

func openDatabase(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*sql.DB, error) {
	db, err := storage.Open(ctx, storage.Config{
		Driver:          cfg.Database.Driver,
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectTimeout:  cfg.Database.ConnectTimeout,
	})
	if err != nil {
		return nil, err
	}
	logger.WithField("driver", cfg.Database.Driver).Info("Connected to database")
	return db, nil
}

func newApp(ctx context.Context, cfg *config.Config, logger *logrus.Logger, migrate bool) (*app, error) {
	obs := observability.NewLogger(observability.ParseLogLevel(cfg.Observability.LogLevel), os.Stdout)

	db, err := openDatabase(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: logger, obs: obs, db: db}
	if err := a.init(ctx, migrate); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context, migrate bool) error {
	cfg := a.cfg

	if migrate {
		if err := storage.Migrate(ctx, a.db, storage.DialectFor(cfg.Database.Driver), a.obs); err != nil {
			return fmt.Errorf("failed to migrate schema: %w", err)
		}
	}

	a.rbac = rbac.NewStore(a.db, cfg.Auth.AdminRoleName)
	if migrate {
		if err := a.rbac.Bootstrap(ctx); err != nil {
			return fmt.Errorf("failed to seed roles: %w", err)
		}
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = observability.NewMetrics(a.registry)

	policy := auth.PasswordPolicy{
		MinLength:     cfg.Password.MinLength,
		MaxLength:     cfg.Password.MaxLength,
		RequireUpper:  cfg.Password.RequireUpper,
		RequireLower:  cfg.Password.RequireLower,
		RequireDigit:  cfg.Password.RequireDigit,
		RequireSymbol: cfg.Password.RequireSymbol,
	}
	hasher := auth.NewBcryptHasher(cfg.Auth.BcryptCost)
	a.users = auth.NewSQLUserStore(a.db)
	a.ledger = auth.NewSQLResetLedger(a.db)

	a.sessions = session.NewManager(
		session.NewMemoryStore(cfg.Session.MaxSessions, cfg.Session.Lifetime),
		session.Config{
			Lifetime:   cfg.Session.Lifetime,
			CookieName: cfg.Session.CookieName,
			CookiePath: cfg.Session.CookiePath,
		},
		session.WithLogger(a.obs),
		session.WithMetrics(a.metrics),
	)

	a.authn = auth.NewAuthenticator(a.users, hasher, a.rbac, a.sessions,
		auth.LockoutPolicy{Threshold: cfg.Auth.LockoutThreshold, Duration: cfg.Auth.LockoutDuration},
		auth.WithLogger(a.obs),
		auth.WithMetrics(a.metrics),
		auth.WithPasswordPolicy(policy),
	)

	a.notify = async.NewPool("notifications", 2, 64, 30*time.Second, a.obs)
	sessions := a.sessions
	a.resets = auth.NewResetService(a.users, a.ledger, hasher, policy,
		auth.WithResetTTL(cfg.Reset.TokenTTL),
		auth.WithResetLinkBase(cfg.Reset.BaseURL),
		auth.WithExposedLinks(cfg.Reset.ExposeLink),
		auth.WithNotifier(auth.AsyncNotifier{Next: auth.LogNotifier{Logger: a.obs}, Pool: a.notify}),
		auth.WithResetMetrics(a.metrics),
		auth.WithPasswordChangedHook(func(ctx context.Context, userID int64) {
			if _, err := sessions.DestroyUser(ctx, userID); err != nil {
				observability.FromContext(ctx).WithError(err).Warn("failed to revoke sessions after password reset")
			}
		}),
	)

	dbAudit, err := audit.NewDBLogger(a.db)
	if err != nil {
		return fmt.Errorf("failed to create audit logger: %w", err)
	}
	a.audit = dbAudit

	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("invalid redis url: %w", err)
		}
		a.redis = redis.NewClient(opts)
		if err := a.redis.Ping(ctx).Err(); err != nil {
			// Throttling fails open, so an unreachable Redis only degrades.
			a.log.WithError(err).Warn("Redis is unreachable; throttles will allow all requests until it returns")
		}
	}

	return nil
}

// limiters returns the login and reset throttles, or nils when disabled.
func (a *app) limiters(ctx context.Context) (middleware.Limiter, middleware.Limiter) {
	rl := a.cfg.RateLimit
	if !rl.Enabled {
		a.log.Warn("Rate limiting is disabled")
		return nil, nil
	}

	login := &middleware.RateLimitConfig{RequestsPerWindow: rl.LoginPerWindow, WindowDuration: rl.Window}
	reset := &middleware.RateLimitConfig{RequestsPerWindow: rl.ResetPerWindow, WindowDuration: rl.Window}

	if a.redis != nil {
		a.log.Info("Using Redis-backed throttles")
		return middleware.NewDistributedRateLimiter(a.redis, login, "collegeadmin:throttle:login"),
			middleware.NewDistributedRateLimiter(a.redis, reset, "collegeadmin:throttle:reset")
	}

	loginLimiter := middleware.NewRateLimiter(login)
	resetLimiter := middleware.NewRateLimiter(reset)
	loginLimiter.StartCleanup(ctx)
	resetLimiter.StartCleanup(ctx)
	return loginLimiter, resetLimiter
}

// housekeeping purges dead reset tokens and expired lockouts.
func (a *app) housekeeping(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	purged, err := a.resets.PurgeExpired(ctx)
	if err != nil {
		a.log.WithError(err).Error("Failed to purge reset tokens")
	}
	cleared, err := a.users.ClearExpiredLockouts(ctx, time.Now())
	if err != nil {
		a.log.WithError(err).Error("Failed to clear expired lockouts")
	}
	a.metrics.SetActiveSessions(a.sessions.Count())

	a.log.WithFields(logrus.Fields{
		"reset_tokens_purged": purged,
		"lockouts_cleared":    cleared,
		"active_sessions":     a.sessions.Count(),
	}).Info("Housekeeping completed")
}

func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.notify.Close(ctx); err != nil {
		a.log.WithError(err).Warn("Pending notifications were not delivered")
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.WithError(err).Warn("Failed to close redis client")
		}
	}
	if err := a.db.Close(); err != nil {
		a.log.WithError(err).Warn("Failed to close database")
	}
}
