package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"souschef"
	"souschef/app"
	"souschef/mealgen"
	"souschef/pantryusage"
)

var generateFlags struct {
	user      string
	week      string
	mealTypes []string
	dump      bool
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Fill the empty slots of a user's weekly meal plan",
	Example: `  souschef generate --user ana
  souschef generate --user ana --week 2025-03-10 --meal-types dinner`,
	RunE: func(cmd *cobra.Command, args []string) error {
		week, err := parseWeek(generateFlags.week)
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			user, err := lookupUser(ctx, a, generateFlags.user)
			if err != nil {
				return err
			}

			// An in-process queue only lives as long as this command, so its
			// tasks are drained here before exiting.
			done := make(chan error, 1)
			memQueue, inProcess := a.Queue.(*pantryusage.MemoryQueue)
			if inProcess {
				go func() { done <- a.Worker.Run(ctx) }()
			}

			res, err := a.Planner.GenerateWeek(ctx, user, week, generateFlags.mealTypes)
			if inProcess {
				slog.Info("GENERATE: Waiting for pantry usage estimates", "queued", memQueue.Len())
				_ = memQueue.Close()
				<-done
			}
			if err != nil {
				return err
			}

			if generateFlags.dump {
				souschef.Dump(os.Stderr, res)
			}
			printWeek(cmd, res)
			if res.Generated == 0 && len(res.Failures) > 0 {
				return fmt.Errorf("%d slots failed", len(res.Failures))
			}
			return nil
		})
	},
}

func init() {
	f := generateCmd.Flags()
	f.StringVar(&generateFlags.user, "user", "", "username to plan for")
	f.StringVar(&generateFlags.week, "week", "", "any day of the week to plan, YYYY-MM-DD (default this week)")
	f.StringSliceVar(&generateFlags.mealTypes, "meal-types", nil, "meal types to fill (default breakfast,lunch,dinner)")
	f.BoolVar(&generateFlags.dump, "dump", false, "print the full result to stderr")
}

func printWeek(cmd *cobra.Command, res *mealgen.WeekResult) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Week of %s: %d generated, %d already planned, %d failed\n",
		res.Plan.WeekStart.Format(time.DateOnly), res.Generated, res.Skipped, len(res.Failures))
	for _, slot := range res.Plan.Meals {
		name := "(missing)"
		if slot.Meal != nil {
			name = slot.Meal.Name
		}
		fmt.Fprintf(out, "  %s %-9s %s\n", slot.Day.Format("Mon 02 Jan"), slot.MealType, name)
	}
	for _, f := range res.Failures {
		fmt.Fprintf(out, "  failed: %s %s: %s\n", f.Day.Format(time.DateOnly), f.MealType, f.Error)
	}
}
