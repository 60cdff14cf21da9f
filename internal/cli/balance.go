package cli

import (
	"strconv"

	"github.com/spf13/cobra"
)

// NewBalanceCmd создаёт команду просмотра баланса кредитов арендатора.
func NewBalanceCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "balance <tenant>",
		Short: "Show the tenant credit balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			st, err := app.OpenStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			credits, err := st.GetCredits(ctx, args[0])
			if err != nil {
				return err
			}

			app.Output().KV([][2]string{
				{"TENANT", credits.TenantID},
				{"AVAILABLE", strconv.FormatInt(credits.Available, 10)},
				{"STATUS", credits.Status},
				{"UPDATED_AT", credits.UpdatedAt.Format("2006-01-02 15:04:05")},
			}, credits)
			return nil
		},
	}
	return cmd
}
