package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/shaiso/Conveyor/internal/domain"
)

// tenantDoc — корневой документ арендатора (tenants/<dir>/tenant.yml).
type tenantDoc struct {
	TenantID string `yaml:"tenant_id"`
}

// LoadWorkorder читает документ work order из YAML-файла.
//
// WorkOrderID по умолчанию берётся из имени файла, TenantID — из аргумента;
// SourcePath заполняется путём документа и участвует в ключе идемпотентности
// списания.
func LoadWorkorder(path, tenantID string) (*domain.WorkorderSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: read workorder: %w", err)
	}
	var spec domain.WorkorderSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("orchestrator: parse workorder %s: %w", path, err)
	}
	// Отсутствующий ключ enabled означает включённый workorder, а не черновик.
	var flags struct {
		Enabled *bool `yaml:"enabled"`
	}
	if err := yaml.Unmarshal(data, &flags); err == nil && flags.Enabled == nil {
		spec.Enabled = true
	}
	if strings.TrimSpace(spec.WorkOrderID) == "" {
		spec.WorkOrderID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if strings.TrimSpace(spec.TenantID) == "" {
		spec.TenantID = tenantID
	}
	spec.SourcePath = path
	return &spec, nil
}

// DiscoverWorkorders находит все work orders очереди в каталоге tenants/.
//
// Обходит tenants/<dir>/workorders/*.yml в лексикографическом порядке
// каталогов и файлов: порядок очереди детерминирован. Каталоги без
// tenant.yml пропускаются. Выключенные work orders не отбрасываются —
// их пропускает цикл выполнения (черновики проверяются с предупреждениями).
func DiscoverWorkorders(tenantsDir string) ([]*domain.WorkorderSpec, error) {
	entries, err := os.ReadDir(tenantsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("orchestrator: read tenants dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var out []*domain.WorkorderSpec
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		tdir := filepath.Join(tenantsDir, e.Name())
		tenantID, err := loadTenantID(filepath.Join(tdir, "tenant.yml"), e.Name())
		if err != nil {
			return nil, err
		}
		if tenantID == "" {
			continue
		}

		wdir := filepath.Join(tdir, "workorders")
		paths, err := filepath.Glob(filepath.Join(wdir, "*.yml"))
		if err != nil {
			return nil, fmt.Errorf("orchestrator: glob workorders: %w", err)
		}
		sort.Strings(paths)
		for _, p := range paths {
			spec, err := LoadWorkorder(p, tenantID)
			if err != nil {
				return nil, err
			}
			out = append(out, spec)
		}
	}
	return out, nil
}

// loadTenantID читает tenant_id из tenant.yml; отсутствие файла означает,
// что каталог не является арендатором.
func loadTenantID(path, fallback string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("orchestrator: read tenant doc: %w", err)
	}
	var doc tenantDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("orchestrator: parse tenant doc %s: %w", path, err)
	}
	if id := strings.TrimSpace(doc.TenantID); id != "" {
		return id, nil
	}
	return fallback, nil
}
