// Package cli implements the odysseyctl operator commands.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-dre/internal/dre"
	"github.com/odyssey-erp/odyssey-dre/internal/period"
)

// NewRootCommand builds the odysseyctl command tree over backends produced by open.
func NewRootCommand(open BackendFactory) *cobra.Command {
	root := &cobra.Command{
		Use:           "odysseyctl",
		Short:         "Operate the Odyssey income statement service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newMigrateCmd(open),
		newIngestCmd(open),
		newStatementCmd(open),
		newSnapshotCmd(open),
		newJobsCmd(open),
	)
	return root
}

func withBackend(cmd *cobra.Command, open BackendFactory, fn func(ctx context.Context, b Backend) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	b, release, err := open(ctx)
	if err != nil {
		return err
	}
	if release != nil {
		defer release()
	}
	return fn(ctx, b)
}

func newMigrateCmd(open BackendFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withBackend(cmd, open, func(ctx context.Context, b Backend) error {
				if err := b.Migrate(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return nil
			})
		},
	}
}

func newIngestCmd(open BackendFactory) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "ingest <file.csv|->",
		Short: "Import an operations CSV export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var src io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				src = f
			}
			return withBackend(cmd, open, func(ctx context.Context, b Backend) error {
				res, err := b.Import(ctx, src)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if asJSON {
					return writeJSON(out, res)
				}
				fmt.Fprintf(out, "batch %s: %d inserted, %d updated, %d rejected\n",
					res.BatchID, res.Inserted, res.Updated, len(res.Errors))
				for _, e := range res.Errors {
					fmt.Fprintf(out, "  %s\n", e.Error())
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	return cmd
}

type periodFlags struct {
	year    int
	month   int
	quarter int
	annual  bool
}

func (f *periodFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.year, "year", 0, "Reporting year")
	cmd.Flags().IntVar(&f.month, "month", 0, "Month (1-12)")
	cmd.Flags().IntVar(&f.quarter, "quarter", 0, "Quarter (1-4)")
	cmd.Flags().BoolVar(&f.annual, "annual", false, "Whole year")
	_ = cmd.MarkFlagRequired("year")
	cmd.MarkFlagsMutuallyExclusive("month", "quarter", "annual")
}

func (f *periodFlags) resolve(cmd *cobra.Command) (period.Period, error) {
	req := period.Request{Year: f.year, Annual: f.annual}
	if cmd.Flags().Changed("month") {
		req.Month = &f.month
	}
	if cmd.Flags().Changed("quarter") {
		req.Quarter = &f.quarter
	}
	return period.Resolve(req)
}

type statementOutput struct {
	Data     dre.View    `json:"data"`
	Previous *dre.View   `json:"previous,omitempty"`
	Growth   *dre.Growth `json:"growth,omitempty"`
	Warnings []string    `json:"warnings,omitempty"`
}

func newStatementCmd(open BackendFactory) *cobra.Command {
	var (
		flags   periodFlags
		compare bool
	)
	cmd := &cobra.Command{
		Use:   "statement",
		Short: "Print the income statement of a period as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := flags.resolve(cmd)
			if err != nil {
				return err
			}
			return withBackend(cmd, open, func(ctx context.Context, b Backend) error {
				if !compare {
					s, err := b.Statement(ctx, p)
					if err != nil {
						return err
					}
					return writeJSON(cmd.OutOrStdout(), statementOutput{Data: s.View(), Warnings: s.Warnings})
				}
				c, err := b.Compare(ctx, p)
				if err != nil {
					return err
				}
				prev := c.Previous.View()
				return writeJSON(cmd.OutOrStdout(), statementOutput{
					Data:     c.Current.View(),
					Previous: &prev,
					Growth:   &c.Growth,
					Warnings: c.Current.Warnings,
				})
			})
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&compare, "compare", false, "Include the previous period and growth")
	return cmd
}

func newSnapshotCmd(open BackendFactory) *cobra.Command {
	snapshot := &cobra.Command{
		Use:   "snapshot",
		Short: "Manage persisted quarterly results",
	}
	var (
		year, quarter int
		async         bool
	)
	refresh := &cobra.Command{
		Use:   "refresh",
		Short: "Recompute and replace the snapshot of a quarter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := period.Resolve(period.Request{Year: year, Quarter: &quarter}); err != nil {
				return err
			}
			return withBackend(cmd, open, func(ctx context.Context, b Backend) error {
				out := cmd.OutOrStdout()
				if async {
					info, err := b.EnqueueSnapshotRefresh(ctx, year, quarter)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "enqueued %s (%s)\n", info.ID, info.Type)
					return nil
				}
				snap, err := b.RefreshSnapshot(ctx, year, quarter)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "snapshot %s refreshed at %s\n",
					snap.Statement.Period.Key, snap.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"))
				return nil
			})
		},
	}
	refresh.Flags().IntVar(&year, "year", 0, "Reporting year")
	refresh.Flags().IntVar(&quarter, "quarter", 0, "Quarter (1-4)")
	refresh.Flags().BoolVar(&async, "async", false, "Enqueue the refresh for the worker instead of running it")
	_ = refresh.MarkFlagRequired("year")
	_ = refresh.MarkFlagRequired("quarter")
	snapshot.AddCommand(refresh)
	return snapshot
}

func newJobsCmd(open BackendFactory) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect background jobs",
	}
	jobsCmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Print the default queue state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withBackend(cmd, open, func(ctx context.Context, b Backend) error {
				stats, err := b.QueueStats(ctx)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), stats)
			})
		},
	})
	return jobsCmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
