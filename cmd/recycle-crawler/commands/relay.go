package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var relayOnce bool

func init() {
	relayCmd.Flags().BoolVar(&relayOnce, "once", false, "flush the outbox once and exit")
	rootCmd.AddCommand(relayCmd)
}

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Publishes pending crawl events from the outbox to the Redis stream.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		db, err := openDatabase(ctx, cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		client, err := openRedis(ctx, cfg)
		if err != nil {
			return err
		}
		defer client.Close()

		relay := newRelay(db, client, cfg, appLog)

		if relayOnce {
			delivered, err := relay.Flush(ctx)
			if err != nil {
				return err
			}
			backlog, err := relay.Backlog(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "delivered %d, pending %d, abandoned %d\n",
				delivered, backlog.Pending, backlog.Abandoned)
			return nil
		}

		if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}
