package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/bnema/odoobackup/internal/domain"
)

func newBackupCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Run one backup cycle now",
		Long: `Ask upstream for a fresh dump and archive, apply retention and mirror
the surviving artifacts to the bucket.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, configPath, func(ctx context.Context, svc Services) error {
				summary, err := svc.Backup().ProduceAndRetain(ctx)
				if summary != nil {
					if werr := writeCycleSummary(cmd.OutOrStdout(), summary); werr != nil {
						return werr
					}
				}
				if err != nil {
					return fmt.Errorf("backup cycle failed: %w", err)
				}
				return nil
			})
		},
	}
}

func newListCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List local artifacts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, configPath, func(ctx context.Context, svc Services) error {
				artifacts, err := svc.Backup().ListArtifacts(ctx)
				if err != nil {
					return fmt.Errorf("failed to list artifacts: %w", err)
				}

				out := cmd.OutOrStdout()
				if len(artifacts) == 0 {
					if _, err := fmt.Fprintln(out, "No artifacts found"); err != nil {
						return err
					}
				} else {
					domain.SortForDisplay(artifacts)
					if err := writeArtifacts(out, artifacts); err != nil {
						return err
					}
				}

				for _, e := range svc.Schedule().List() {
					if _, err := fmt.Fprintf(out, "\nNext run: %s (%s)\n", formatTime(e.NextRun), e.Schedule); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func newSyncCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Download remote artifacts missing or stale locally",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, configPath, func(ctx context.Context, svc Services) error {
				summary, err := svc.Backup().SyncFromRemote(ctx)
				if summary != nil {
					if werr := writeSyncSummary(cmd.OutOrStdout(), summary); werr != nil {
						return werr
					}
				}
				return err
			})
		},
	}
}

func newDeleteCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete one local artifact",
		Long:  `Delete one local artifact. The remote copy is left alone.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, configPath, func(ctx context.Context, svc Services) error {
				if err := svc.Backup().DeleteArtifact(ctx, args[0]); err != nil {
					return fmt.Errorf("failed to delete %s: %w", args[0], err)
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
				return err
			})
		},
	}
}

func writeArtifacts(out io.Writer, artifacts []domain.Artifact) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if _, err := fmt.Fprintln(w, "NAME\tKIND\tSIZE_MB\tMODIFIED"); err != nil {
		return err
	}
	for _, a := range artifacts {
		if _, err := fmt.Fprintf(w, "%s\t%s\t%.2f\t%s\n", a.Name, a.Kind, a.SizeMB(), formatTime(a.CreatedAt)); err != nil {
			return err
		}
	}
	return w.Flush()
}

func writeCycleSummary(out io.Writer, s *domain.CycleSummary) error {
	if _, err := fmt.Fprintf(out, "Run %s for %s (%s)\n", s.RunID, s.Database, s.Duration.Round(time.Millisecond)); err != nil {
		return err
	}
	if len(s.Produced) > 0 {
		if err := writeArtifacts(out, s.Produced); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(out, "Kept: %d, evicted: %d, uploaded: %d\n", len(s.Kept), len(s.Evicted), len(s.Uploaded)); err != nil {
		return err
	}
	if err := writeFailures(out, "local", s.LocalFailures); err != nil {
		return err
	}
	return writeFailures(out, "remote", s.RemoteFailures)
}

func writeFailures(out io.Writer, where string, failures map[string]string) error {
	names := make([]string, 0, len(failures))
	for name := range failures {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, err := fmt.Fprintf(out, "  %s failure: %s: %s\n", where, name, failures[name]); err != nil {
			return err
		}
	}
	return nil
}

func writeSyncSummary(out io.Writer, s *domain.SyncSummary) error {
	if len(s.Results) > 0 {
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		if _, err := fmt.Fprintln(w, "KEY\tOUTCOME\tREASON"); err != nil {
			return err
		}
		for _, r := range s.Results {
			if _, err := fmt.Fprintf(w, "%s\t%s\t%s\n", r.Key, r.Outcome, r.Reason); err != nil {
				return err
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(out, "Downloaded: %d, skipped: %d, failed: %d\n", s.Downloaded, s.Skipped, s.Failed)
	return err
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05 MST")
}
