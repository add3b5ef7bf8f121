package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"time"

	"github.com/aws/aws-lambda-go/lambda"

	"souschef"
	"souschef/app"
	"souschef/mealgen"
	"souschef/pantryusage"
	"souschef/store"
)

// Params is the invocation payload, e.g. from a weekly EventBridge schedule.
type Params struct {
	Username  string   `json:"username"`
	WeekStart string   `json:"week_start,omitempty"`
	MealTypes []string `json:"meal_types,omitempty"`
}

type Results struct {
	Output *mealgen.WeekResult `json:"output"`
}

func main() {
	fn := func(ctx context.Context, params Params) (Results, error) {
		cfg, err := souschef.LoadConfig()
		if err != nil {
			log.Fatalf("Failed to decode: %s", err)
		}
		if params.Username == "" {
			return Results{}, fmt.Errorf("missing username")
		}
		week := store.WeekStart(time.Now())
		if params.WeekStart != "" {
			day, err := time.Parse(time.DateOnly, params.WeekStart)
			if err != nil {
				return Results{}, fmt.Errorf("invalid week_start %q: %w", params.WeekStart, err)
			}
			week = store.WeekStart(day)
		}

		otelShutdown, err := souschef.InitOtel(ctx)
		if err != nil {
			slog.Error("SETUP: Failed to initialize OpenTelemetry", "error", err)
			return Results{}, err
		}
		defer func() {
			if err := otelShutdown(ctx); err != nil {
				slog.Error("SETUP: Failed to shutdown OpenTelemetry", "error", err)
			}
		}()

		a, err := app.Build(ctx, cfg, app.WithAttemptLogger(souschef.NewStdoutAttemptLogger()))
		if err != nil {
			return Results{}, err
		}
		defer a.Close()

		user, err := a.Store.GetUserByUsername(ctx, params.Username)
		if err != nil {
			slog.Error("SETUP: Unknown user", "username", params.Username, "error", err)
			return Results{}, err
		}

		// Nothing outlives the invocation, so in-process usage tasks are
		// drained before returning.
		done := make(chan error, 1)
		q, inProcess := a.Queue.(*pantryusage.MemoryQueue)
		if inProcess {
			go func() { done <- a.Worker.Run(ctx) }()
		}
		res, err := a.Planner.GenerateWeek(ctx, user, week, params.MealTypes)
		if inProcess {
			_ = q.Close()
			<-done
		}
		if err != nil {
			slog.Error("MEALGEN: Week generation failed", "username", params.Username, "error", err)
			return Results{}, err
		}
		return Results{Output: res}, nil
	}

	lambda.Start(fn)
}
