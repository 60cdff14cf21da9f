package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaiso/Conveyor/internal/domain"
)

// NewPriceCmd создаёт команду просмотра действующей цены.
func NewPriceCmd(app *App) *cobra.Command {
	var asOf string

	cmd := &cobra.Command{
		Use:   "price <module> [deliverable]",
		Short: "Show the effective price for a module deliverable",
		Long: "Без deliverable показывает цену запуска модуля (" + domain.RunDeliverableID + ").\n" +
			"Флаг --as-of выбирает цену на прошлую дату.",
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			moduleID := args[0]
			deliverableID := domain.RunDeliverableID
			if len(args) == 2 {
				deliverableID = args[1]
			}

			at := time.Now()
			if asOf != "" {
				parsed, err := time.Parse("2006-01-02", asOf)
				if err != nil {
					return fmt.Errorf("parse --as-of: %w", err)
				}
				at = parsed
			}

			prices, err := app.Prices()
			if err != nil {
				return err
			}
			credits, err := prices.ResolvePrice(moduleID, deliverableID, at)
			if err != nil {
				return err
			}

			app.Output().KV([][2]string{
				{"MODULE", moduleID},
				{"DELIVERABLE", deliverableID},
				{"AS_OF", at.Format("2006-01-02")},
				{"CREDITS", strconv.FormatInt(credits, 10)},
			}, map[string]any{
				"module_id":      moduleID,
				"deliverable_id": deliverableID,
				"as_of":          at.Format("2006-01-02"),
				"credits":        credits,
			})
			return nil
		},
	}

	cmd.Flags().StringVar(&asOf, "as-of", "", "resolve the price effective on this date (YYYY-MM-DD)")
	return cmd
}
