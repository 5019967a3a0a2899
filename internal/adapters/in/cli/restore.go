package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bnema/odoobackup/internal/domain"
)

func newRestoreCmd(configPath *string) *cobra.Command {
	var (
		dbName   string
		topology string
		syncFrom bool
	)

	cmd := &cobra.Command{
		Use:   "restore <name>",
		Short: "Restore an artifact into a database",
		Long: `Restore a local artifact. A .dump goes through pg_restore after the
target database is dropped; a .zip goes through the upstream restore
endpoint. Local archives are then unpacked into the filestore.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := domain.RestoreRequest{
				ArtifactName:   args[0],
				TargetDatabase: dbName,
				SyncFirst:      syncFrom,
			}
			if topology != "" {
				t, err := domain.ParseTopology(topology)
				if err != nil {
					return err
				}
				req.Topology = t
			}

			return withServices(cmd, configPath, func(ctx context.Context, svc Services) error {
				outcome, err := svc.Backup().Restore(ctx, req)
				if outcome != nil {
					if werr := writeRestoreOutcome(cmd.OutOrStdout(), outcome); werr != nil {
						return werr
					}
				}
				if err != nil {
					return fmt.Errorf("restore of %s failed: %w", args[0], err)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&dbName, "db", "", "Target database (default: the configured database)")
	cmd.Flags().StringVar(&topology, "topology", "", "Expected topology: containerized or host")
	cmd.Flags().BoolVar(&syncFrom, "sync", false, "Sync from the bucket before restoring")

	return cmd
}

func writeRestoreOutcome(out io.Writer, o *domain.RestoreOutcome) error {
	trail := make([]string, len(o.Trail))
	for i, s := range o.Trail {
		trail[i] = string(s)
	}
	if _, err := fmt.Fprintf(out, "State: %s\nTrail: %s\n", o.State, strings.Join(trail, " -> ")); err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if _, err := fmt.Fprintln(w, "STEP\tOK\tDETAIL"); err != nil {
		return err
	}
	if o.Drop != nil {
		if _, err := fmt.Fprintf(w, "drop\t%t\t%s\n", o.Drop.OK, stepDetail(*o.Drop)); err != nil {
			return err
		}
	}
	if o.Database != nil {
		if _, err := fmt.Fprintf(w, "database\t%t\t%s\n", o.Database.OK, stepDetail(*o.Database)); err != nil {
			return err
		}
	}
	for _, f := range o.Filestore {
		if _, err := fmt.Fprintf(w, "filestore %s\t%t\t%s\n", f.Archive, f.OK, stepDetail(f.StepResult)); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}

	for _, n := range o.Notes {
		if _, err := fmt.Fprintf(out, "Note: %s\n", n); err != nil {
			return err
		}
	}
	if o.Database != nil && !o.Database.OK && o.Database.Stderr != "" {
		if _, err := fmt.Fprintf(out, "pg_restore stderr:\n%s\n", strings.TrimRight(o.Database.Stderr, "\n")); err != nil {
			return err
		}
	}
	return nil
}

func stepDetail(r domain.StepResult) string {
	if r.Error != "" {
		return r.Error
	}
	return firstLine(r.Message)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
