package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/maltedev/recycle-crawler/internal/api"
	"github.com/maltedev/recycle-crawler/internal/database"
	"github.com/maltedev/recycle-crawler/internal/events"
	"github.com/maltedev/recycle-crawler/internal/jobs"
	"github.com/maltedev/recycle-crawler/internal/queue"
)

var serveFlags struct {
	relay   bool
	consume bool
}

func init() {
	f := serveCmd.Flags()
	f.BoolVar(&serveFlags.relay, "relay", true, "run the outbox relay in-process when the database is enabled")
	f.BoolVar(&serveFlags.consume, "consume", false, "accept crawl requests from the redis request stream")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serves the crawl job API. Jobs run one at a time in the background.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		var client *redis.Client
		redisClient := func() (*redis.Client, error) {
			if client != nil {
				return client, nil
			}
			c, err := openRedis(ctx, cfg)
			if err != nil {
				return nil, err
			}
			client = c
			return c, nil
		}
		defer func() {
			if client != nil {
				client.Close()
			}
		}()

		var store jobs.Store
		var outbox api.OutboxStats
		if cfg.Database.Enabled {
			db, err := openDatabase(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close()
			store = database.NewCrawlStore(db, cfg.Redis.Stream)

			if serveFlags.relay {
				rdb, err := redisClient()
				if err != nil {
					return err
				}

				relay := newRelay(db, rdb, cfg, appLog)
				outbox = relay
				go func() {
					if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
						appLog.Error("relay stopped with error", "error", err)
					}
				}()
			}
		}

		q := queue.NewInMemoryQueue(cfg.Server.QueueSize)
		manager := jobs.NewManager(&crawlRunner{cfg: cfg, logger: appLog}, q, store, appLog)
		go manager.StartWorker(ctx)

		if serveFlags.consume {
			rdb, err := redisClient()
			if err != nil {
				return err
			}
			consumer := events.NewConsumer(rdb, manager, appLog, events.ConsumerConfig{
				Stream:   cfg.Redis.RequestStream,
				Group:    cfg.Redis.ConsumerGroup,
				Consumer: cfg.Redis.ConsumerName,
			})
			go func() {
				if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					appLog.Error("request consumer stopped with error", "error", err)
				}
			}()
		}

		handlers := api.NewHandlers(manager, outbox, appLog)
		server := &http.Server{
			Addr: fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler: api.NewRouter(handlers, api.RouterOptions{
				AllowedOrigins: cfg.Server.AllowedOrigins,
				RequestTimeout: cfg.Server.WriteTimeout,
			}),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.WriteTimeout,
		}

		go func() {
			<-ctx.Done()
			appLog.Info("shutting down server...")
			q.Close()

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer shutdownCancel()

			if err := server.Shutdown(shutdownCtx); err != nil {
				appLog.Error("server shutdown failed", "error", err)
			}
		}()

		appLog.Info("server starting", "addr", server.Addr, "database", cfg.Database.Enabled)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}

		appLog.Info("server stopped")
		return nil
	},
}
