package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newDropCmd(configPath *string) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "drop <db>",
		Short: "Drop a database through the upstream manager",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to drop %s without --yes", args[0])
			}
			return withServices(cmd, configPath, func(ctx context.Context, svc Services) error {
				msg, err := svc.Backup().DropDatabase(ctx, args[0])
				if err != nil {
					return fmt.Errorf("failed to drop %s: %w", args[0], err)
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "Dropped %s: %s\n", args[0], firstLine(msg))
				return err
			})
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm the drop")
	return cmd
}

func newDuplicateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "duplicate <source> <target>",
		Short: "Duplicate a database through the upstream manager",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, configPath, func(ctx context.Context, svc Services) error {
				msg, err := svc.Backup().DuplicateDatabase(ctx, args[0], args[1])
				if err != nil {
					return fmt.Errorf("failed to duplicate %s: %w", args[0], err)
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "Duplicated %s to %s: %s\n", args[0], args[1], firstLine(msg))
				return err
			})
		},
	}
}

func newCheckCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check that the upstream database manager answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, configPath, func(ctx context.Context, svc Services) error {
				res, err := svc.ProbeUpstream(ctx)
				if err != nil {
					return fmt.Errorf("upstream unreachable: %w", err)
				}
				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s answered %d in %s\n", res.URL, res.StatusCode, res.Elapsed.Round(time.Millisecond)); err != nil {
					return err
				}
				if !res.ManagerEnabled {
					return fmt.Errorf("database manager is disabled on %s (list_db = False?)", res.URL)
				}
				return nil
			})
		},
	}
}
