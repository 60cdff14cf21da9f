package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/orchestrator"
	"github.com/shaiso/Conveyor/internal/preflight"
)

// validateRow — итог проверки одного work order.
type validateRow struct {
	TenantID    string   `json:"tenant_id"`
	WorkOrderID string   `json:"work_order_id"`
	Enabled     bool     `json:"enabled"`
	Result      string   `json:"result"`
	Error       string   `json:"error,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
}

// NewValidateCmd создаёт команду preflight-проверки work orders.
func NewValidateCmd(app *App) *cobra.Command {
	var tenantID string

	cmd := &cobra.Command{
		Use:   "validate [workorder.yml]",
		Short: "Validate work orders against module contracts",
		Long: "Без аргументов проверяет всю очередь tenants/; с аргументом — один файл.\n" +
			"Включённые work orders с ошибками дают ненулевой код выхода,\n" +
			"замечания черновиков выводятся как предупреждения.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := app.Registry()
			if err != nil {
				return err
			}
			validator := preflight.New(reg)

			var specs []*domain.WorkorderSpec
			if len(args) == 1 {
				spec, err := orchestrator.LoadWorkorder(args[0], tenantID)
				if err != nil {
					return err
				}
				specs = append(specs, spec)
			} else {
				specs, err = orchestrator.DiscoverWorkorders(app.TenantsDir())
				if err != nil {
					return err
				}
			}

			out := app.Output()
			rows := make([]validateRow, 0, len(specs))
			failed := 0
			for _, spec := range specs {
				row := validateRow{
					TenantID:    spec.TenantID,
					WorkOrderID: spec.WorkOrderID,
					Enabled:     spec.Enabled,
				}
				report, err := validator.Validate(spec)
				switch {
				case err != nil:
					row.Result = "INVALID"
					row.Error = err.Error()
					failed++
				case !spec.Enabled:
					row.Result = "DRAFT"
					row.Warnings = report.Warnings
				default:
					row.Result = "OK"
				}
				rows = append(rows, row)
			}

			headers := []string{"TENANT", "WORK_ORDER", "ENABLED", "RESULT", "DETAIL"}
			table := make([][]string, len(rows))
			for i, r := range rows {
				detail := r.Error
				if detail == "" && len(r.Warnings) > 0 {
					detail = strconv.Itoa(len(r.Warnings)) + " draft warning(s)"
				}
				table[i] = []string{
					r.TenantID, r.WorkOrderID, strconv.FormatBool(r.Enabled), r.Result, detail,
				}
			}
			out.Print(headers, table, rows)

			if failed > 0 {
				return fmt.Errorf("%d work order(s) failed validation", failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id for a single-file check")
	return cmd
}
