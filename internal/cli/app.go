package cli

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/shaiso/Conveyor/internal/cache"
	"github.com/shaiso/Conveyor/internal/contract"
	"github.com/shaiso/Conveyor/internal/ledger"
	"github.com/shaiso/Conveyor/internal/orchestrator"
	"github.com/shaiso/Conveyor/internal/runstate"
	"github.com/shaiso/Conveyor/internal/secrets"
	"github.com/shaiso/Conveyor/internal/store"
)

// App — общая конфигурация команд: корень репозитория арендаторов и
// параметры хранилища. Флаги парсятся до первого обращения к зависимостям.
type App struct {
	// Root — корень репозитория (modules/, tenants/, billing/, runtime/).
	Root string

	// StoreKind — вид адаптера хранилища (logfile | postgres).
	StoreKind string

	// DSN — строка подключения для postgres.
	DSN string

	// JSON — выводить данные в JSON вместо таблиц.
	JSON bool

	// CacheTTL — срок жизни записей кэша выходов.
	CacheTTL time.Duration

	Logger *slog.Logger
}

// Соглашения о раскладке репозитория.
func (a *App) ModulesDir() string      { return filepath.Join(a.Root, "modules") }
func (a *App) TenantsDir() string      { return filepath.Join(a.Root, "tenants") }
func (a *App) RunsDir() string         { return filepath.Join(a.Root, "runtime", "runs") }
func (a *App) CacheDir() string        { return filepath.Join(a.Root, "runtime", "cache_outputs") }
func (a *App) StateDir() string        { return filepath.Join(a.Root, "runtime", "state") }
func (a *App) PricesPath() string      { return filepath.Join(a.Root, "billing", "prices.yml") }
func (a *App) ReasonsPath() string     { return filepath.Join(a.Root, "billing", "reasons.yml") }
func (a *App) SecretsPath() string     { return filepath.Join(a.Root, "secrets", "secretstore.yml") }
func (a *App) RequirementsPath() string {
	return filepath.Join(a.Root, "secrets", "requirements.yml")
}

// Output создаёт форматтер вывода согласно флагу --json.
func (a *App) Output() *Output { return NewOutput(a.JSON) }

func (a *App) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}

// Registry загружает реестр контрактов модулей.
func (a *App) Registry() (*contract.Registry, error) {
	return contract.NewRegistry(a.ModulesDir())
}

// OpenStore конструирует адаптер хранилища по конфигурации.
func (a *App) OpenStore(ctx context.Context) (store.Store, error) {
	return store.Open(ctx, store.Config{
		Kind: store.Kind(a.StoreKind),
		DSN:  a.DSN,
		Dir:  a.StateDir(),
	})
}

// Prices загружает прейскурант; отсутствие файла — пустой прейскурант.
func (a *App) Prices() (*ledger.PriceList, error) {
	if _, err := os.Stat(a.PricesPath()); os.IsNotExist(err) {
		return ledger.NewPriceList(nil), nil
	}
	return ledger.LoadPriceList(a.PricesPath())
}

// Reasons загружает каталог причин; отсутствие файла — пустой каталог.
func (a *App) Reasons() (*ledger.ReasonCatalog, error) {
	if _, err := os.Stat(a.ReasonsPath()); os.IsNotExist(err) {
		return ledger.NewReasonCatalog(nil), nil
	}
	return ledger.LoadReasonCatalog(a.ReasonsPath())
}

// Orchestrator собирает оркестратор поверх открытого хранилища.
func (a *App) Orchestrator(st store.Store) (*orchestrator.Orchestrator, error) {
	reg, err := a.Registry()
	if err != nil {
		return nil, err
	}
	prices, err := a.Prices()
	if err != nil {
		return nil, err
	}
	reasons, err := a.Reasons()
	if err != nil {
		return nil, err
	}
	sec, err := secrets.LoadStore(a.SecretsPath())
	if err != nil {
		return nil, err
	}
	reqs, err := secrets.LoadRequirements(a.RequirementsPath())
	if err != nil {
		return nil, err
	}

	return orchestrator.New(orchestrator.Config{
		Registry:     reg,
		RunState:     runstate.New(st),
		Ledger:       ledger.New(st, st, prices),
		Cache:        cache.New(a.CacheDir(), st, a.CacheTTL),
		Reasons:      reasons,
		Secrets:      sec,
		Requirements: reqs,
		ModulesDir:   a.ModulesDir(),
		RunsDir:      a.RunsDir(),
		Logger:       a.logger(),
	}), nil
}
