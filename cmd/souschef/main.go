package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"souschef"
	"souschef/app"
	"souschef/store"
)

var debug bool

var rootCmd = &cobra.Command{
	Use:   "souschef",
	Short: "Meal planning assistant: API server, workers and admin commands",
	Long: `souschef plans weekly meals with a language model, keeps track of the
pantry and answers users on the web dashboard, Telegram and LINE.

Configuration is read from the environment: LLM_PROVIDER, DB_DRIVER, DB_DSN,
REDIS_ADDR, TELEGRAM_BOT_TOKEN, LINE_CHANNEL_ACCESS_TOKEN and friends.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if debug {
			slog.SetLogLoggerLevel(slog.LevelDebug)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.AddCommand(serveCmd, workerCmd, generateCmd, chatCmd, seedCmd, exportCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// withApp loads the configuration, starts telemetry and builds the app for
// the duration of fn.
func withApp(ctx context.Context, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := souschef.LoadConfig()
	if err != nil {
		slog.Error("SETUP: Failed to load configuration", "error", err)
		return err
	}

	otelShutdown, err := souschef.InitOtel(ctx)
	if err != nil {
		slog.Error("SETUP: Failed to initialize OpenTelemetry", "error", err)
		return err
	}
	defer func() {
		// ctx may already be cancelled by a signal.
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Error("SETUP: Failed to shutdown OpenTelemetry", "error", err)
		}
	}()

	a, err := app.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Error("SETUP: Failed to close app", "error", err)
		}
	}()

	return fn(ctx, a)
}

func lookupUser(ctx context.Context, a *app.App, username string) (*store.User, error) {
	if username == "" {
		return nil, errors.New("--user is required")
	}
	u, err := a.Store.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("find user %q: %w", username, err)
	}
	return u, nil
}

// parseWeek returns the Monday of the week containing s, or of the current
// week when s is empty.
func parseWeek(s string) (time.Time, error) {
	if s == "" {
		return store.WeekStart(time.Now()), nil
	}
	day, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --week %q, want YYYY-MM-DD: %w", s, err)
	}
	return store.WeekStart(day), nil
}
