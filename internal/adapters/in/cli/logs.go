package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bnema/odoobackup/internal/usecase/logs"
)

func newLogsCmd(configPath *string) *cobra.Command {
	var (
		lines  int
		follow bool
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the process log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, configPath, func(ctx context.Context, svc Services) error {
				out := cmd.OutOrStdout()

				if !follow {
					entries, err := svc.Logs().GetProcessLogs(ctx, lines)
					if err != nil {
						return fmt.Errorf("failed to read logs: %w", err)
					}
					for _, l := range entries {
						if _, err := fmt.Fprintln(out, l.Text); err != nil {
							return err
						}
					}
					return nil
				}

				ch, err := svc.Logs().FollowProcessLogs(ctx, lines)
				if err != nil {
					return fmt.Errorf("failed to follow logs: %w", err)
				}
				for l := range ch {
					if _, err := fmt.Fprintln(out, l.Text); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&lines, "lines", "n", logs.DefaultLines, "Number of lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Follow new lines")
	return cmd
}
