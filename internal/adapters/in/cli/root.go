// Package cli implements the CLI adapter for odoobackup.
// This package provides Cobra commands that delegate to the app layer.
package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/bnema/odoobackup/internal/app"
	"github.com/bnema/odoobackup/internal/boundaries/in"
	"github.com/bnema/odoobackup/internal/domain"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// Services is what the one-shot commands drive. app.Kernel implements it.
type Services interface {
	Backup() in.BackupService
	Schedule() in.ScheduleService
	Logs() in.LogService
	Database() string
	ProbeUpstream(ctx context.Context) (*domain.UpstreamProbe, error)
	Close() error
}

// openServices is replaced in tests.
var openServices = func(ctx context.Context, configPath string) (Services, error) {
	k, err := app.NewKernel(ctx, configPath)
	if err != nil {
		return nil, err
	}
	return k, nil
}

// runServer is replaced in tests.
var runServer = app.Run

// NewRootCmd creates the root command for the odoobackup CLI.
func NewRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "odoobackup",
		Short: "Odoo database and filestore backups",
		Long: `odoobackup asks an Odoo database manager for daily dumps and archives,
keeps the newest ones on disk, mirrors them to an S3 bucket and restores
them into a containerized or host-installed database.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(newServeCmd(&configPath))
	rootCmd.AddCommand(newBackupCmd(&configPath))
	rootCmd.AddCommand(newListCmd(&configPath))
	rootCmd.AddCommand(newRestoreCmd(&configPath))
	rootCmd.AddCommand(newSyncCmd(&configPath))
	rootCmd.AddCommand(newDeleteCmd(&configPath))
	rootCmd.AddCommand(newDropCmd(&configPath))
	rootCmd.AddCommand(newDuplicateCmd(&configPath))
	rootCmd.AddCommand(newLogsCmd(&configPath))
	rootCmd.AddCommand(newCheckCmd(&configPath))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// newVersionCmd creates the version command.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("odoobackup %s\n", Version)
			cmd.Printf("Commit: %s\n", Commit)
			cmd.Printf("Build Date: %s\n", BuildDate)
		},
	}
}

// withServices opens the services for one command and closes them after.
func withServices(cmd *cobra.Command, configPath *string, fn func(ctx context.Context, svc Services) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	svc, err := openServices(ctx, *configPath)
	if err != nil {
		return err
	}
	defer svc.Close()

	return fn(ctx, svc)
}

// SetVersionInfo sets the version information for the CLI.
func SetVersionInfo(version, commit, date string) {
	Version = version
	Commit = commit
	BuildDate = date
	app.Version = version
}
