package cli

import (
	"context"

	"github.com/spf13/cobra"
)

// newServeCmd creates the serve command.
func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the daily scheduler and the dashboard",
		Long: `Run the daily backup scheduler and serve the dashboard until
SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return runServer(ctx, *configPath)
		},
	}
}
