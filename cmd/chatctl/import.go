package main

import (
	"context"
	"errors"
	"fmt"

	"mailchat_server/internal/bootstrap"

	"github.com/spf13/cobra"
)

func newImportCmd() *cobra.Command {
	var (
		maxResults int
		async      bool
	)

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import inbox messages into the search index",
		Long: `Fetch the newest inbox messages from Gmail and store them in the index.

With --async the import is queued on the Redis stream for a worker instead
of running in this process.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDependencies(cmd, func(ctx context.Context, d *bootstrap.Dependencies) error {
				if maxResults <= 0 {
					maxResults = d.Config.GmailMaxResults
				}

				if async {
					if d.Queue == nil {
						return errors.New("--async requires REDIS_URL")
					}
					id, err := d.Queue.EnqueueImport(ctx, maxResults)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "queued import job %s (max %d)\n", id, maxResults)
					return nil
				}

				res, err := d.Corpus.Import(ctx, maxResults)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "fetched %d, stored %d, skipped %d\n", res.Fetched, res.Stored, res.Skipped)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&maxResults, "max", 0, "maximum messages to fetch (default GMAIL_MAX_RESULTS)")
	cmd.Flags().BoolVar(&async, "async", false, "queue the import for a worker")
	return cmd
}
