// Conveyor CLI — инструмент командной строки для работы с очередью
// work orders напрямую через файлы репозитория и хранилище состояния.
//
// Использование:
//
//	conveyor [--root DIR] [--store KIND] [--json] <command> [flags]
//
// Команды:
//
//	validate     Preflight-проверка work orders
//	orchestrate  Однократный проход по очереди
//	price        Действующая цена модуля
//	balance      Баланс кредитов арендатора
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaiso/Conveyor/internal/cli"
	_ "github.com/shaiso/Conveyor/internal/store/logfile"
	_ "github.com/shaiso/Conveyor/internal/store/pg"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	app := &cli.App{}

	rootCmd := &cobra.Command{
		Use:           "conveyor",
		Short:         "Conveyor CLI — work-order orchestration tool",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&app.Root, "root", ".", "repository root (modules/, tenants/, billing/)")
	rootCmd.PersistentFlags().StringVar(&app.StoreKind, "store", "logfile", "state store adapter (logfile | postgres)")
	rootCmd.PersistentFlags().StringVar(&app.DSN, "dsn", os.Getenv("DB_URL"), "postgres connection string")
	rootCmd.PersistentFlags().BoolVar(&app.JSON, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().DurationVar(&app.CacheTTL, "cache-ttl", 24*time.Hour, "output cache entry lifetime")

	rootCmd.AddCommand(
		cli.NewValidateCmd(app),
		cli.NewOrchestrateCmd(app),
		cli.NewPriceCmd(app),
		cli.NewBalanceCmd(app),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
