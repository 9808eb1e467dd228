package cli

import (
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/cuongbtq/fetch-service/internal/domain"
)

func buildJobsCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect stored jobs",
	}
	cmd.AddCommand(buildJobsListCommand(opts))
	return cmd
}

func buildJobsListCommand(opts *options) *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs in submission order",
		RunE: func(cmd *cobra.Command, args []string) error {
			if status != "" && !domain.Status(status).Valid() {
				return fmt.Errorf("unknown status %q", status)
			}

			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			log, err := initLogger(&cfg.Logging)
			if err != nil {
				return err
			}
			defer log.Close()

			dbClient, store, err := openStore(cmd.Context(), &cfg.Database, log.Component("database"))
			if err != nil {
				return err
			}
			defer dbClient.Close()

			recs, err := store.List(cmd.Context())
			if err != nil {
				return err
			}

			n := printJobs(cmd.OutOrStdout(), recs, domain.Status(status), time.Now())
			log.Debug("Listed jobs", slog.Int("count", n))
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "only show jobs in this status")
	return cmd
}

// printJobs writes one row per job and returns the number of rows
func printJobs(out io.Writer, recs []*domain.Record, status domain.Status, now time.Time) int {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tCREATED\tSIZE\tSOURCE\tDETAIL")

	n := 0
	for _, rec := range recs {
		if status != "" && rec.Status != status {
			continue
		}
		size, detail := "-", ""
		if rec.Result != nil {
			size = humanize.Bytes(uint64(max(rec.Result.SizeBytes, 0)))
			detail = rec.Result.FileName
		}
		if rec.Status == domain.StatusFailed {
			detail = fmt.Sprintf("%s: %s", rec.ErrorKind, rec.Error)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.ID,
			rec.Status,
			humanize.RelTime(rec.CreatedAt, now, "ago", "from now"),
			size,
			rec.SourceReference,
			detail,
		)
		n++
	}
	w.Flush()
	return n
}
