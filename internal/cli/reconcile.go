package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// reconcile is for running against the store while the server is down; serve
// does the same on every start.
func buildReconcileCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Fail jobs left pending or running by a stopped process",
		RunE: func(cmd *cobra.Command, args []string) error {
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

			recs, err := store.Reconcile(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, rec := range recs {
				fmt.Fprintf(out, "%s\t%s\n", rec.ID, rec.SourceReference)
			}
			fmt.Fprintf(out, "reconciled %d job(s)\n", len(recs))
			return nil
		},
	}
}
