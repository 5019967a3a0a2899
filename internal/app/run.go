package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bnema/zerowrap"

	"github.com/bnema/odoobackup/internal/adapters/in/http/dashboard"
	"github.com/bnema/odoobackup/internal/adapters/out/ratelimit"
)

const (
	shutdownTimeout = 10 * time.Second
	janitorInterval = 10 * time.Minute
	limiterIdle     = time.Hour
)

// initLogger initializes the zerowrap logger. The log file doubles as
// the source of the dashboard log viewer.
func initLogger(cfg Config) (zerowrap.Logger, func(), error) {
	logConfig := zerowrap.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}

	if cfg.Logging.File.Enabled {
		log, cleanup, err := zerowrap.NewWithFile(logConfig, zerowrap.FileConfig{
			Enabled:    true,
			Path:       cfg.Logging.File.Path,
			MaxSize:    cfg.Logging.File.MaxSize,
			MaxBackups: cfg.Logging.File.MaxBackups,
			MaxAge:     cfg.Logging.File.MaxAge,
			Compress:   true,
		})
		if err != nil {
			return zerowrap.Default(), nil, fmt.Errorf("failed to create logger with file: %w", err)
		}
		return log, cleanup, nil
	}

	return zerowrap.New(logConfig), nil, nil
}

// Run starts the scheduler and the dashboard, then blocks until ctx ends
// or the process receives SIGINT/SIGTERM.
func Run(ctx context.Context, configPath string) error {
	k, err := NewKernel(ctx, configPath)
	if err != nil {
		return err
	}
	defer k.Close()

	log := k.log
	ctx = zerowrap.WithCtx(ctx, log)

	if err := validateServeConfig(k.cfg); err != nil {
		return err
	}

	if res, err := k.ProbeUpstream(ctx); err != nil {
		log.Warn().
			Str(zerowrap.FieldLayer, "app").
			Err(err).
			Msg("upstream database manager unreachable, backups will fail until it answers")
	} else if !res.ManagerEnabled {
		log.Warn().
			Str(zerowrap.FieldLayer, "app").
			Int(zerowrap.FieldStatus, res.StatusCode).
			Msg("upstream answered but the database manager looks disabled")
	}

	handler, janitor, err := createDashboard(k)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	// cancel first so a running cycle aborts instead of blocking Stop
	defer func() {
		cancel()
		k.scheduler.Stop()
	}()

	go janitor.RunJanitor(runCtx, janitorInterval, limiterIdle)

	if k.cfg.Scheduler.Enabled {
		k.scheduler.Start(runCtx)
		for _, e := range k.scheduler.List() {
			log.Info().
				Str(zerowrap.FieldLayer, "app").
				Str(zerowrap.FieldComponent, "scheduler").
				Str(zerowrap.FieldEntityID, e.ID).
				Time("next_run", e.NextRun).
				Msg("scheduler started")
		}
	}

	return runServer(runCtx, k.cfg, handler, log)
}

// createDashboard builds the dashboard handler and its login limiter.
func createDashboard(k *Kernel) (http.Handler, *ratelimit.MemoryStore, error) {
	secret, generated, err := sessionSecret(k.cfg)
	if err != nil {
		return nil, nil, err
	}
	if generated {
		k.log.Warn().
			Str(zerowrap.FieldLayer, "app").
			Msg("server.session_secret not set, sessions will not survive a restart")
	}

	limiter := ratelimit.NewMemoryStore(k.cfg.Server.LoginRateLimit.RPS, k.cfg.Server.LoginRateLimit.Burst, k.log)

	h, err := dashboard.NewHandler(dashboard.Config{
		BasePath:       k.cfg.Server.BasePath,
		Password:       k.cfg.Server.Password,
		Database:       k.cfg.Odoo.Database,
		LogLines:       k.cfg.Server.LogLines,
		SessionSecret:  secret,
		SecureCookie:   k.cfg.Server.SecureCookie,
		TrustedProxies: trustedProxies(k.cfg),
	}, dashboard.Deps{
		Backup:   k.backupSvc,
		Schedule: k.scheduler,
		Logs:     k.logSvc,
		System:   k.system,
		Limiter:  limiter,
		Metrics:  k.telemetry.Handler(),
	}, k.log)
	if err != nil {
		return nil, nil, err
	}

	return h.Echo(), limiter, nil
}

// runServer serves handler until ctx ends or a shutdown signal arrives.
func runServer(ctx context.Context, cfg Config, handler http.Handler, log zerowrap.Logger) error {
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// restores can take a while before the response is written
		WriteTimeout: 2 * time.Hour,
		IdleTimeout:  120 * time.Second,
	}

	log.Info().
		Str(zerowrap.FieldLayer, "app").
		Str(zerowrap.FieldComponent, "dashboard").
		Str("addr", cfg.Server.Addr).
		Str("base_path", cfg.Server.BasePath).
		Msg("dashboard listening")

	serveErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-ctx.Done():
		log.Info().
			Str(zerowrap.FieldLayer, "app").
			Str(zerowrap.FieldComponent, "dashboard").
			Msg("context cancelled, shutting down")
	case sig := <-quit:
		log.Info().
			Str(zerowrap.FieldLayer, "app").
			Str(zerowrap.FieldComponent, "dashboard").
			Str("signal", sig.String()).
			Msg("received shutdown signal")
	case err, ok := <-serveErr:
		if ok {
			return fmt.Errorf("dashboard server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("dashboard server shutdown error")
	}

	return nil
}
