package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/cuongbtq/fetch-service/internal/backend/ytdlp"
	"github.com/cuongbtq/fetch-service/internal/credentials"
	"github.com/cuongbtq/fetch-service/internal/domain"
)

func buildProbeCommand(opts *options) *cobra.Command {
	var (
		credential string
		formats    bool
	)

	cmd := &cobra.Command{
		Use:   "probe <url>",
		Short: "Print metadata or available formats for a source",
		Args:  cobra.ExactArgs(1),
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

			client := ytdlp.New(ytdlp.Config{
				Binary:      cfg.Backend.YTDLPPath,
				Credentials: credentials.NewResolver(cfg.Storage.CredentialsDir),
				Logger:      log.Component("ytdlp"),
			})

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Backend.ProbeTimeout)
			defer cancel()

			if formats {
				list, err := client.Formats(ctx, args[0], credential)
				if err != nil {
					return err
				}
				printFormats(cmd.OutOrStdout(), list)
				return nil
			}

			info, err := client.Probe(ctx, args[0], credential)
			if err != nil {
				return err
			}
			info.Formats = nil
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(info)
		},
	}

	cmd.Flags().StringVar(&credential, "credential", "", "credential reference (bundle name or browser:<name>)")
	cmd.Flags().BoolVar(&formats, "formats", false, "list formats instead of metadata")
	return cmd
}

func printFormats(out io.Writer, list []domain.Format) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tEXT\tRESOLUTION\tFPS\tVCODEC\tACODEC\tSIZE\tNOTE")
	for _, f := range list {
		size := "-"
		if f.Filesize > 0 {
			size = humanize.Bytes(uint64(f.Filesize))
		}
		fps := "-"
		if f.FPS > 0 {
			fps = humanize.Ftoa(f.FPS)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			f.FormatID, f.Ext, f.Resolution, fps, f.VCodec, f.ACodec, size, f.Note)
	}
	w.Flush()
}
