package cli

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/shaiso/Conveyor/internal/orchestrator"
)

// NewOrchestrateCmd создаёт команду однократного прохода по очереди.
func NewOrchestrateCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orchestrate [workorder.yml]",
		Short: "Run the work-order queue once",
		Long: "Без аргументов обходит tenants/ и выполняет все включённые work orders;\n" +
			"с аргументом выполняет один файл. Очередь обрабатывается последовательно.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			st, err := app.OpenStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			orc, err := app.Orchestrator(st)
			if err != nil {
				return err
			}

			var reports []*orchestrator.RunReport
			if len(args) == 1 {
				spec, err := orchestrator.LoadWorkorder(args[0], "")
				if err != nil {
					return err
				}
				report, err := orc.RunWorkorder(ctx, spec)
				if err != nil {
					return err
				}
				reports = append(reports, report)
			} else {
				reports, err = orc.RunQueue(ctx, app.TenantsDir())
				if err != nil {
					return err
				}
			}

			out := app.Output()
			headers := []string{"TENANT", "WORK_ORDER", "STATUS", "SPEND", "BLOCKED"}
			rows := make([][]string, len(reports))
			for i, r := range reports {
				rows[i] = []string{
					r.TenantID,
					r.WorkOrderID,
					string(r.Status),
					strconv.FormatInt(r.SpendTotal, 10),
					r.Blocked,
				}
			}
			out.Print(headers, rows, reports)
			return nil
		},
	}
	return cmd
}
