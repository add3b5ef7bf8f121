package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"souschef"
	"souschef/app"
	"souschef/assistant"
	"souschef/shopping"
	"souschef/storage"
)

var chatFlags struct {
	user    string
	channel string
}

var chatCmd = &cobra.Command{
	Use:   "chat MESSAGE...",
	Short: "Send one message to the assistant as a user",
	Long: `Send one message to the assistant as a user. --channel applies the same
tool restrictions the user would see on that surface.`,
	Example: `  souschef chat --user ana "what's for dinner on Thursday?"
  souschef chat --user ana --channel telegram "show my profile"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ch, err := souschef.ParseChannel(chatFlags.channel)
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			user, err := lookupUser(ctx, a, chatFlags.user)
			if err != nil {
				return err
			}
			reply, err := a.Assistant.Respond(ctx, assistant.ChatRequest{
				UserID:  user.ID,
				Channel: ch,
				Message: strings.Join(args, " "),
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), reply.Message)
			if len(reply.ToolsUsed) > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "(%d iterations, tools: %s)\n", reply.Iterations, strings.Join(reply.ToolsUsed, ", "))
			}
			return nil
		})
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Import users and pantries from SEED_PATH or the S3 seed object",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			res, err := storage.Import(ctx, a.Seeds, a.Store)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "users created: %d, skipped: %d, pantry items: %d\n",
				res.UsersCreated, res.UsersSkipped, res.PantryItems)
			return nil
		})
	},
}

var exportFlags struct {
	user string
	week string
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the shopping list of a user's weekly plan to EXPORT_DIR or S3",
	RunE: func(cmd *cobra.Command, args []string) error {
		week, err := parseWeek(exportFlags.week)
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			user, err := lookupUser(ctx, a, exportFlags.user)
			if err != nil {
				return err
			}
			plan, err := a.Store.PlanForWeek(ctx, user.ID, week)
			if err != nil {
				return fmt.Errorf("plan for week of %s: %w", week.Format("2006-01-02"), err)
			}
			list, err := a.Shopping.ForPlan(ctx, user.ID, plan.ID)
			if err != nil {
				return err
			}
			name, err := storage.ExportShoppingList(ctx, a.Exports, list)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), shopping.Text(list))
			fmt.Fprintf(cmd.ErrOrStderr(), "exported %s\n", name)
			return nil
		})
	},
}

func init() {
	chatCmd.Flags().StringVar(&chatFlags.user, "user", "", "username to chat as")
	chatCmd.Flags().StringVar(&chatFlags.channel, "channel", string(souschef.ChannelAPI), "channel the message arrives on: web, telegram, line or api")

	exportCmd.Flags().StringVar(&exportFlags.user, "user", "", "username whose plan to export")
	exportCmd.Flags().StringVar(&exportFlags.week, "week", "", "any day of the planned week, YYYY-MM-DD (default this week)")
}
