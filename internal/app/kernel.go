package app

import (
	"context"
	"fmt"
	"time"

	"github.com/bnema/zerowrap"

	"github.com/bnema/odoobackup/internal/adapters/out/docker"
	"github.com/bnema/odoobackup/internal/adapters/out/execrunner"
	"github.com/bnema/odoobackup/internal/adapters/out/filesystem"
	"github.com/bnema/odoobackup/internal/adapters/out/hostdb"
	"github.com/bnema/odoobackup/internal/adapters/out/httpprober"
	"github.com/bnema/odoobackup/internal/adapters/out/locker"
	"github.com/bnema/odoobackup/internal/adapters/out/odoo"
	"github.com/bnema/odoobackup/internal/adapters/out/s3store"
	"github.com/bnema/odoobackup/internal/adapters/out/secrets"
	"github.com/bnema/odoobackup/internal/adapters/out/sysinfo"
	"github.com/bnema/odoobackup/internal/adapters/out/telemetry"
	"github.com/bnema/odoobackup/internal/boundaries/in"
	"github.com/bnema/odoobackup/internal/boundaries/out"
	"github.com/bnema/odoobackup/internal/domain"
	"github.com/bnema/odoobackup/internal/usecase/backup"
	"github.com/bnema/odoobackup/internal/usecase/cron"
	"github.com/bnema/odoobackup/internal/usecase/logs"
)

// CycleJobID is the scheduler tag of the daily backup cycle.
const CycleJobID = "backup-cycle"

// ServiceName identifies the process in telemetry.
const ServiceName = "odoobackup"

// Version is reported to telemetry; the CLI overrides it at startup.
var Version = "dev"

// Kernel holds the wired services. It does not start listeners or the
// scheduler loop, so the CLI can drive the same operations in-process.
type Kernel struct {
	cfg       Config
	log       zerowrap.Logger
	backupSvc *backup.Service
	scheduler *cron.Scheduler
	logSvc    *logs.Service
	system    *sysinfo.Service
	prober    *httpprober.Prober
	telemetry *telemetry.Provider
	cleanups  []func()
}

// NewKernel loads configuration and wires every adapter.
func NewKernel(ctx context.Context, configPath string) (*Kernel, error) {
	_, cfg, err := initConfig(configPath)
	if err != nil {
		return nil, err
	}

	log, cleanup, err := initLogger(cfg)
	if err != nil {
		return nil, err
	}

	k := &Kernel{cfg: cfg, log: log}
	if cleanup != nil {
		k.cleanups = append(k.cleanups, cleanup)
	}

	ctx = zerowrap.WithCtx(ctx, log)
	if err := k.wire(ctx); err != nil {
		_ = k.Close()
		return nil, err
	}
	return k, nil
}

func (k *Kernel) wire(ctx context.Context) error {
	runner := execrunner.New(k.cfg.Restore.Host.CommandTimeout, k.log)

	resolver := secrets.NewResolver(
		secrets.NewPassProvider(runner, k.log),
		secrets.NewSopsProvider(runner, k.log),
	)
	if err := resolveSecrets(ctx, &k.cfg, resolver); err != nil {
		return err
	}
	if err := validateConfig(k.cfg); err != nil {
		return err
	}

	provider, shutdown, err := telemetry.NewProvider(ctx, k.cfg.Telemetry, ServiceName, Version)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	k.telemetry = provider
	k.cleanups = append(k.cleanups, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		shutdown(shutdownCtx)
	})

	metrics, err := telemetry.NewMetrics()
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	store, err := filesystem.NewArtifactStorage(k.cfg.Backup.Dir, k.log)
	if err != nil {
		return err
	}

	fileLocker, err := locker.NewFileLocker(k.cfg.Backup.LockDir, k.log)
	if err != nil {
		return err
	}

	spec := scheduleSpec(k.cfg)
	loc, err := spec.Location()
	if err != nil {
		return err
	}

	producer := odoo.NewClient(k.cfg.Odoo.URL, k.cfg.Odoo.MasterPassword, k.log,
		odoo.WithTimeout(k.cfg.Odoo.Timeout),
		odoo.WithLocation(loc),
		odoo.WithBreaker(k.cfg.Odoo.Breaker.Threshold, k.cfg.Odoo.Breaker.Cooldown),
	)

	runtime, err := k.createRuntime(runner)
	if err != nil {
		return err
	}

	kinds, err := artifactKinds(k.cfg)
	if err != nil {
		return err
	}

	opts := []backup.Option{
		backup.WithRuntime(runtime),
		backup.WithLocker(fileLocker),
		backup.WithMetrics(metrics),
	}
	if k.cfg.S3.Enabled {
		remote, err := s3store.New(s3store.Config{
			Endpoint:  k.cfg.S3.Endpoint,
			AccessKey: k.cfg.S3.AccessKey,
			SecretKey: k.cfg.S3.SecretKey,
			Bucket:    k.cfg.S3.Bucket,
			Region:    k.cfg.S3.Region,
			Prefix:    k.cfg.S3.Prefix,
			UseSSL:    k.cfg.S3.UseSSL,
		}, k.log)
		if err != nil {
			return err
		}
		opts = append(opts, backup.WithRemote(remote))
	}

	k.backupSvc, err = backup.NewService(backup.Config{
		Database:    k.cfg.Odoo.Database,
		Kinds:       kinds,
		Retention:   domain.RetentionPolicy{MaxLocalArtifacts: k.cfg.Backup.Retention},
		LockTimeout: k.cfg.Backup.LockTimeout,
	}, producer, store, k.log, opts...)
	if err != nil {
		return err
	}

	k.scheduler = cron.NewScheduler(k.cfg.Scheduler.PollInterval, k.log)
	if err := k.scheduler.Replace(CycleJobID, "daily backup of "+k.cfg.Odoo.Database, spec, k.runCycle); err != nil {
		return err
	}

	k.logSvc = logs.NewService(k.cfg.Logging.File.Path, k.log)
	k.system = sysinfo.New(k.cfg.Backup.Dir, k.log)
	k.prober = httpprober.New()

	return nil
}

// createRuntime picks the restore runtime for the configured topology.
func (k *Kernel) createRuntime(runner out.CommandRunner) (out.DatabaseRuntime, error) {
	topology, err := domain.ParseTopology(k.cfg.Restore.Topology)
	if err != nil {
		return nil, err
	}

	if topology == domain.TopologyHostInstalled {
		return hostdb.NewRuntime(hostdb.Config{
			Account:      k.cfg.Restore.Host.Account,
			PGBinDir:     k.cfg.Restore.Host.PGBinDir,
			DBUser:       k.cfg.Restore.Host.DBUser,
			DBPort:       k.cfg.Restore.Host.DBPort,
			FilestoreDir: k.cfg.Restore.Host.FilestoreDir,
			StagingDir:   k.cfg.Restore.Host.StagingDir,
		}, runner, k.log), nil
	}

	d := k.cfg.Restore.Docker
	return docker.NewRuntime(docker.Config{
		DatabaseContainer: d.DatabaseContainer,
		AppContainer:      d.AppContainer,
		DBUser:            d.DBUser,
		DBPort:            d.DBPort,
		StagingDir:        d.StagingDir,
		FilestorePath:     d.FilestorePath,
		FilestoreOwner:    d.FilestoreOwner,
		ScratchDir:        d.ScratchDir,
	}, k.log)
}

// runCycle is the scheduled job. Partial retention failures are in the
// summary; only the error decides whether the run counts as failed.
func (k *Kernel) runCycle(ctx context.Context) error {
	summary, err := k.backupSvc.ProduceAndRetain(ctx)
	if summary != nil {
		k.log.Info().
			Str(zerowrap.FieldLayer, "app").
			Str("run_id", summary.RunID).
			Int("produced", len(summary.Produced)).
			Strs("evicted", summary.Evicted).
			Int("remote_failures", len(summary.RemoteFailures)).
			Msg("backup cycle finished")
	}
	return err
}

// ProbeUpstream checks that the database manager answers.
func (k *Kernel) ProbeUpstream(ctx context.Context) (*domain.UpstreamProbe, error) {
	return k.prober.Probe(ctx, k.cfg.Odoo.URL)
}

// Close releases the logger file and flushes telemetry.
func (k *Kernel) Close() error {
	if k == nil {
		return nil
	}
	for i := len(k.cleanups) - 1; i >= 0; i-- {
		k.cleanups[i]()
	}
	k.cleanups = nil
	return nil
}

func (k *Kernel) Backup() in.BackupService     { return k.backupSvc }
func (k *Kernel) Schedule() in.ScheduleService { return k.scheduler }
func (k *Kernel) Logs() in.LogService          { return k.logSvc }
func (k *Kernel) System() in.SystemService     { return k.system }
func (k *Kernel) Logger() zerowrap.Logger      { return k.log }

// Database is the configured database name.
func (k *Kernel) Database() string { return k.cfg.Odoo.Database }
