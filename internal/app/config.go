package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/bnema/odoobackup/internal/adapters/in/http/dashboard"
	"github.com/bnema/odoobackup/internal/adapters/in/http/middleware"
	"github.com/bnema/odoobackup/internal/adapters/out/secrets"
	"github.com/bnema/odoobackup/internal/adapters/out/telemetry"
	"github.com/bnema/odoobackup/internal/domain"
)

// Config holds the application configuration.
type Config struct {
	DataDir string `mapstructure:"data_dir"`

	Odoo struct {
		URL            string        `mapstructure:"url"`
		MasterPassword string        `mapstructure:"master_password"` // plain value or env:/file:/pass:/sops: reference
		Database       string        `mapstructure:"database"`
		Timeout        time.Duration `mapstructure:"timeout"`
		Breaker        struct {
			Threshold uint32        `mapstructure:"threshold"`
			Cooldown  time.Duration `mapstructure:"cooldown"`
		} `mapstructure:"breaker"`
	} `mapstructure:"odoo"`

	Backup struct {
		Dir         string        `mapstructure:"dir"`
		Kinds       []string      `mapstructure:"kinds"`
		Retention   int           `mapstructure:"retention"`
		Timezone    string        `mapstructure:"timezone"`
		Schedule    string        `mapstructure:"schedule"` // HH:MM
		LockDir     string        `mapstructure:"lock_dir"`
		LockTimeout time.Duration `mapstructure:"lock_timeout"`
	} `mapstructure:"backup"`

	S3 struct {
		Enabled   bool   `mapstructure:"enabled"`
		Endpoint  string `mapstructure:"endpoint"`
		AccessKey string `mapstructure:"access_key"`
		SecretKey string `mapstructure:"secret_key"`
		Bucket    string `mapstructure:"bucket"`
		Region    string `mapstructure:"region"`
		Prefix    string `mapstructure:"prefix"`
		UseSSL    bool   `mapstructure:"use_ssl"`
	} `mapstructure:"s3"`

	Restore struct {
		Topology string `mapstructure:"topology"` // "containerized" or "host"
		Docker   struct {
			DatabaseContainer string `mapstructure:"database_container"`
			AppContainer      string `mapstructure:"app_container"`
			DBUser            string `mapstructure:"db_user"`
			DBPort            int    `mapstructure:"db_port"`
			StagingDir        string `mapstructure:"staging_dir"`
			FilestorePath     string `mapstructure:"filestore_path"`
			FilestoreOwner    string `mapstructure:"filestore_owner"`
			ScratchDir        string `mapstructure:"scratch_dir"`
		} `mapstructure:"docker"`
		Host struct {
			Account        string        `mapstructure:"account"`
			PGBinDir       string        `mapstructure:"pg_bin_dir"`
			DBUser         string        `mapstructure:"db_user"`
			DBPort         int           `mapstructure:"db_port"`
			FilestoreDir   string        `mapstructure:"filestore_dir"`
			StagingDir     string        `mapstructure:"staging_dir"`
			CommandTimeout time.Duration `mapstructure:"command_timeout"`
		} `mapstructure:"host"`
	} `mapstructure:"restore"`

	Server struct {
		Addr           string   `mapstructure:"addr"`
		BasePath       string   `mapstructure:"base_path"`
		Password       string   `mapstructure:"password"`
		SessionSecret  string   `mapstructure:"session_secret"`
		SecureCookie   bool     `mapstructure:"secure_cookie"`
		TrustedProxies []string `mapstructure:"trusted_proxies"`
		LogLines       int      `mapstructure:"log_lines"`
		LoginRateLimit struct {
			RPS   float64 `mapstructure:"rps"`
			Burst int     `mapstructure:"burst"`
		} `mapstructure:"login_rate_limit"`
	} `mapstructure:"server"`

	Scheduler struct {
		Enabled      bool          `mapstructure:"enabled"`
		PollInterval time.Duration `mapstructure:"poll_interval"`
	} `mapstructure:"scheduler"`

	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
		File   struct {
			Enabled    bool   `mapstructure:"enabled"`
			Path       string `mapstructure:"path"`
			MaxSize    int    `mapstructure:"max_size"`
			MaxBackups int    `mapstructure:"max_backups"`
			MaxAge     int    `mapstructure:"max_age"`
		} `mapstructure:"file"`
	} `mapstructure:"logging"`

	Telemetry telemetry.Config `mapstructure:"telemetry"`
}

// initConfig loads .env files, then configuration from file and environment.
func initConfig(configPath string) (*viper.Viper, Config, error) {
	if err := loadDotEnv(configPath); err != nil {
		return nil, Config{}, err
	}

	v := viper.New()
	if err := loadConfig(v, configPath); err != nil {
		return nil, Config{}, fmt.Errorf("failed to load config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	normalizeConfig(&cfg)
	return v, cfg, nil
}

// loadDotEnv reads .env from the working directory and from the config
// file's directory. Variables already set in the environment win.
func loadDotEnv(configPath string) error {
	candidates := []string{".env"}
	if configPath != "" {
		candidates = append(candidates, filepath.Join(filepath.Dir(configPath), ".env"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
	}
	return nil
}

// loadConfig loads configuration from file and sets defaults.
// Every key has a default so environment overrides are picked up.
func loadConfig(v *viper.Viper, configPath string) error {
	v.SetDefault("data_dir", DefaultDataDir())

	v.SetDefault("odoo.url", "http://localhost:8069")
	v.SetDefault("odoo.master_password", "")
	v.SetDefault("odoo.database", "")
	v.SetDefault("odoo.timeout", "1h")
	v.SetDefault("odoo.breaker.threshold", 3)
	v.SetDefault("odoo.breaker.cooldown", "5m")

	v.SetDefault("backup.dir", "") // defaults to {data_dir}/backups when empty
	v.SetDefault("backup.kinds", []string{string(domain.ArtifactDump), string(domain.ArtifactArchive)})
	v.SetDefault("backup.retention", 3)
	v.SetDefault("backup.timezone", "UTC")
	v.SetDefault("backup.schedule", "00:00")
	v.SetDefault("backup.lock_dir", "") // defaults to {data_dir}/locks when empty
	v.SetDefault("backup.lock_timeout", "10s")

	v.SetDefault("s3.enabled", false)
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.access_key", "")
	v.SetDefault("s3.secret_key", "")
	v.SetDefault("s3.bucket", "backups")
	v.SetDefault("s3.region", "")
	v.SetDefault("s3.prefix", "")
	v.SetDefault("s3.use_ssl", true)

	v.SetDefault("restore.topology", string(domain.TopologyContainerized))
	v.SetDefault("restore.docker.database_container", "db")
	v.SetDefault("restore.docker.app_container", "odoo")
	v.SetDefault("restore.docker.db_user", "odoo")
	v.SetDefault("restore.docker.db_port", 5432)
	v.SetDefault("restore.docker.staging_dir", "/tmp")
	v.SetDefault("restore.docker.filestore_path", "/var/lib/odoo/filestore")
	v.SetDefault("restore.docker.filestore_owner", "odoo:odoo")
	v.SetDefault("restore.docker.scratch_dir", "")
	v.SetDefault("restore.host.account", "odoo")
	v.SetDefault("restore.host.pg_bin_dir", "")
	v.SetDefault("restore.host.db_user", "odoo")
	v.SetDefault("restore.host.db_port", 5432)
	v.SetDefault("restore.host.filestore_dir", "/var/lib/odoo/.local/share/Odoo/filestore")
	v.SetDefault("restore.host.staging_dir", "")
	v.SetDefault("restore.host.command_timeout", "2h")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.base_path", dashboard.DefaultBasePath)
	v.SetDefault("server.password", "")
	v.SetDefault("server.session_secret", "")
	v.SetDefault("server.secure_cookie", false)
	v.SetDefault("server.trusted_proxies", []string{})
	v.SetDefault("server.log_lines", dashboard.DefaultLogLines)
	v.SetDefault("server.login_rate_limit.rps", 0.2)
	v.SetDefault("server.login_rate_limit.burst", 5)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.poll_interval", "1s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file.enabled", true)
	v.SetDefault("logging.file.path", "") // defaults to {data_dir}/logs/odoobackup.log when empty
	v.SetDefault("logging.file.max_size", 100)
	v.SetDefault("logging.file.max_backups", 3)
	v.SetDefault("logging.file.max_age", 28)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("telemetry.auth_token", "")
	v.SetDefault("telemetry.prometheus", true)
	v.SetDefault("telemetry.export_interval", "60s")

	ConfigureViper(v, configPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("ODOOBACKUP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return nil
}

// normalizeConfig fills paths derived from data_dir.
func normalizeConfig(cfg *Config) {
	if cfg.Backup.Dir == "" {
		cfg.Backup.Dir = filepath.Join(cfg.DataDir, "backups")
	}
	if cfg.Backup.LockDir == "" {
		cfg.Backup.LockDir = filepath.Join(cfg.DataDir, "locks")
	}
	if cfg.Logging.File.Enabled && cfg.Logging.File.Path == "" {
		cfg.Logging.File.Path = filepath.Join(cfg.DataDir, "logs", "odoobackup.log")
	}
}

// validateConfig checks everything the backup side needs.
func validateConfig(cfg Config) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{domain.ErrInvalidConfig}, args...)...))
	}

	if u, err := url.Parse(cfg.Odoo.URL); err != nil || u.Scheme == "" || u.Host == "" {
		add("odoo.url must be an absolute URL, got %q", cfg.Odoo.URL)
	}
	if cfg.Odoo.Database == "" {
		add("odoo.database is required")
	}
	if cfg.Odoo.MasterPassword == "" {
		add("odoo.master_password is required")
	}
	if cfg.Odoo.Timeout <= 0 {
		add("odoo.timeout must be positive")
	}

	if _, err := artifactKinds(cfg); err != nil {
		errs = append(errs, fmt.Errorf("%w: backup.kinds: %w", domain.ErrInvalidConfig, err))
	}
	if err := (domain.RetentionPolicy{MaxLocalArtifacts: cfg.Backup.Retention}).Validate(); err != nil {
		errs = append(errs, fmt.Errorf("backup.retention: %w", err))
	}
	if _, err := scheduleSpec(cfg).CronExpression(); err != nil {
		errs = append(errs, fmt.Errorf("%w: backup.schedule: %w", domain.ErrInvalidConfig, err))
	}

	if cfg.S3.Enabled {
		if cfg.S3.Endpoint == "" {
			add("s3.endpoint is required when s3.enabled is set")
		}
		if cfg.S3.Bucket == "" {
			add("s3.bucket is required when s3.enabled is set")
		}
	}

	topology, err := domain.ParseTopology(cfg.Restore.Topology)
	if err != nil {
		errs = append(errs, fmt.Errorf("restore.topology: %w", err))
	}
	switch topology {
	case domain.TopologyContainerized:
		if cfg.Restore.Docker.DatabaseContainer == "" || cfg.Restore.Docker.AppContainer == "" {
			add("restore.docker.database_container and restore.docker.app_container are required")
		}
	case domain.TopologyHostInstalled:
		if cfg.Restore.Host.FilestoreDir == "" {
			add("restore.host.filestore_dir is required")
		}
	}

	return errors.Join(errs...)
}

// validateServeConfig adds the checks only the dashboard needs.
func validateServeConfig(cfg Config) error {
	if cfg.Server.Password == "" {
		return fmt.Errorf("%w: server.password is required to serve the dashboard", domain.ErrInvalidConfig)
	}
	if cfg.Server.SessionSecret != "" && len(cfg.Server.SessionSecret) < 32 {
		return fmt.Errorf("%w: server.session_secret must be at least 32 bytes", domain.ErrInvalidConfig)
	}
	if _, err := middleware.ParseProxies(cfg.Server.TrustedProxies); err != nil {
		return fmt.Errorf("%w: server.trusted_proxies: %w", domain.ErrInvalidConfig, err)
	}
	return nil
}

// resolveSecrets expands secret references in place.
func resolveSecrets(ctx context.Context, cfg *Config, resolver *secrets.Resolver) error {
	if err := resolver.ResolveAll(ctx,
		&cfg.Odoo.MasterPassword,
		&cfg.S3.AccessKey,
		&cfg.S3.SecretKey,
		&cfg.Server.Password,
		&cfg.Server.SessionSecret,
		&cfg.Telemetry.AuthToken,
	); err != nil {
		return fmt.Errorf("failed to resolve secrets: %w", err)
	}
	return nil
}

func scheduleSpec(cfg Config) domain.ScheduleSpec {
	return domain.ScheduleSpec{TimeOfDay: cfg.Backup.Schedule, Timezone: cfg.Backup.Timezone}
}

func artifactKinds(cfg Config) ([]domain.ArtifactKind, error) {
	kinds := make([]domain.ArtifactKind, 0, len(cfg.Backup.Kinds))
	for _, raw := range cfg.Backup.Kinds {
		k := domain.ArtifactKind(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(raw)), "."))
		if !k.Valid() {
			return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedArtifact, raw)
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

// trustedProxies drops invalid entries; validateServeConfig reports them.
func trustedProxies(cfg Config) middleware.Proxies {
	proxies, _ := middleware.ParseProxies(cfg.Server.TrustedProxies)
	return proxies
}

// sessionSecret returns the configured secret or a random one. A random
// secret logs everybody out on restart.
func sessionSecret(cfg Config) ([]byte, bool, error) {
	if cfg.Server.SessionSecret != "" {
		return []byte(cfg.Server.SessionSecret), false, nil
	}
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, false, fmt.Errorf("failed to generate session secret: %w", err)
	}
	return b, true, nil
}
