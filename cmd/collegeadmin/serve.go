package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/collegeadmin/pkg/api"
	"github.com/platinummonkey/collegeadmin/pkg/audit"
	"github.com/platinummonkey/collegeadmin/pkg/config"
	"github.com/platinummonkey/collegeadmin/pkg/httputil"
	"github.com/platinummonkey/collegeadmin/pkg/observability"
	"github.com/platinummonkey/collegeadmin/pkg/rbac"
)

func runServe(cfg *config.Config, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.WithField("version", version).Info("Starting college admin server")

	a, err := newApp(ctx, cfg, logger, cfg.Database.AutoMigrate)
	if err != nil {
		return err
	}
	defer a.Close()

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, a.obs)
	if err != nil {
		return fmt.Errorf("failed to initialise tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Failed to flush telemetry")
		}
	}()

	auditLogger := audit.NewMultiLogger(a.audit, audit.NewLogLogger(a.obs))
	defer auditLogger.Close()

	authz := rbac.NewAuthorizer(a.rbac,
		rbac.WithAuditLogger(auditLogger),
		rbac.WithAuthorizerMetrics(a.metrics),
	)
	health := observability.NewHealthChecker(a.db, a.redis, version)
	loginLimiter, resetLimiter := a.limiters(ctx)

	trusted, err := httputil.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		return fmt.Errorf("invalid trusted proxies: %w", err)
	}
	if len(trusted) == 0 {
		logger.Info("No trusted proxies configured; clients are identified by peer address")
	}

	deps := api.Deps{
		Authenticator: a.authn,
		Resets:        a.resets,
		Sessions:      a.sessions,
		RBAC:          a.rbac,
		Authorizer:    authz,
		Audit:         auditLogger,
		AuditSearch:   a.audit,
		LoginLimiter:  loginLimiter,
		ResetLimiter:  resetLimiter,
		Health:        health,
		Logger:        a.obs,
		MaxBodyBytes:  cfg.Server.MaxBodyBytes,

		TrustedProxies: trusted,
	}
	if cfg.Observability.MetricsEnabled {
		deps.Metrics = a.metrics
	}
	server := api.NewServer(deps)

	if cfg.Housekeeping.Enabled {
		c := cron.New(cron.WithLogger(cron.PrintfLogger(logger)))
		if _, err := c.AddFunc(cfg.Housekeeping.Schedule, func() { a.housekeeping(ctx) }); err != nil {
			return fmt.Errorf("failed to schedule housekeeping: %w", err)
		}
		c.Start()
		defer func() { <-c.Stop().Done() }()
		logger.WithField("schedule", cfg.Housekeeping.Schedule).Info("Housekeeping scheduled")
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      otelhttp.NewHandler(server, "collegeadmin"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	servers := []*http.Server{httpServer}
	if cfg.Observability.MetricsEnabled && cfg.Server.MetricsPort != "" {
		metricsRouter := mux.NewRouter()
		metricsRouter.Handle("/metrics", observability.MetricsHandler(a.registry))
		metricsRouter.HandleFunc("/healthz", health.Liveness)
		metricsRouter.HandleFunc("/readyz", health.Readiness)
		servers = append(servers, &http.Server{
			Addr:        cfg.Server.Host + ":" + cfg.Server.MetricsPort,
			Handler:     metricsRouter,
			ReadTimeout: cfg.Server.ReadTimeout,
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, srv := range servers {
		srv := srv
		tls := i == 0 && cfg.Server.TLSEnabled()
		g.Go(func() error {
			logger.WithFields(logrus.Fields{"addr": srv.Addr, "tls": tls}).Info("Listening")
			var err error
			if tls {
				err = srv.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
			} else {
				err = srv.ListenAndServe()
			}
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Server stopped")
	return nil
}
