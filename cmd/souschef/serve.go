package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"souschef/app"
)

var serveNoWorker bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and webhooks",
	Long: `Run the HTTP API, the Telegram and LINE webhooks and, unless --no-worker
is given, the pantry usage workers in the same process. With an in-process
queue the workers must run here.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return a.Server.ListenAndServe(gctx, a.Config.Server.Addr)
			})
			if serveNoWorker {
				if a.Config.Queue.RedisAddr == "" {
					slog.Warn("SERVE: Workers disabled with an in-process queue; pantry usage will not be estimated")
				}
			} else {
				g.Go(func() error { return a.Worker.Run(gctx) })
			}
			return g.Wait()
		})
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveNoWorker, "no-worker", false, "do not run pantry usage workers in this process")
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Process pantry usage tasks from the Redis queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			if a.Config.Queue.RedisAddr == "" {
				slog.Warn("WORKER: REDIS_ADDR is not set; only tasks from this process will be seen")
			}
			return a.Worker.Run(ctx)
		})
	},
}
