package contract

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Registry — реестр контрактов модулей, загруженный из каталога вида
// <root>/<module_id>/module.yml. Реестр неизменяем после загрузки.
type Registry struct {
	modules map[string]*ModuleContract
}

// NewRegistry загружает и проверяет все контракты из каталога root.
// Любой некорректный контракт останавливает загрузку целиком.
func NewRegistry(root string) (*Registry, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read modules dir %q: %w", root, err)
	}

	reg := &Registry{modules: make(map[string]*ModuleContract)}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(root, entry.Name(), "module.yml")
		if _, err := os.Stat(path); err != nil {
			continue
		}
		c, err := LoadContract(path)
		if err != nil {
			return nil, err
		}
		if c.ModuleID == "" {
			c.ModuleID = entry.Name()
		}
		if c.ModuleID != entry.Name() {
			return nil, NewContractError(entry.Name(), "module_id",
				fmt.Sprintf("module_id %q does not match directory name", c.ModuleID))
		}
		reg.modules[c.ModuleID] = c
	}
	return reg, nil
}

// NewRegistryFromContracts собирает реестр из готовых контрактов.
// Используется в тестах и в inline-конфигурациях.
func NewRegistryFromContracts(contracts ...*ModuleContract) (*Registry, error) {
	reg := &Registry{modules: make(map[string]*ModuleContract, len(contracts))}
	for _, c := range contracts {
		if err := validateContract(c); err != nil {
			return nil, err
		}
		reg.modules[c.ModuleID] = c
	}
	return reg, nil
}

// LoadContract читает и проверяет один контракт модуля.
func LoadContract(path string) (*ModuleContract, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read contract %q: %w", path, err)
	}
	var c ModuleContract
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse contract %q: %w", path, err)
	}
	if err := validateContract(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

// ListModules возвращает id всех зарегистрированных модулей в
// отсортированном порядке.
func (r *Registry) ListModules() []string {
	ids := make([]string, 0, len(r.modules))
	for id := range r.modules {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// GetContract возвращает контракт модуля.
func (r *Registry) GetContract(moduleID string) (*ModuleContract, error) {
	c, ok := r.modules[moduleID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModule, moduleID)
	}
	return c, nil
}

// ListDeliverables возвращает deliverables модуля.
func (r *Registry) ListDeliverables(moduleID string) ([]Deliverable, error) {
	c, err := r.GetContract(moduleID)
	if err != nil {
		return nil, err
	}
	return c.Deliverables.Port, nil
}

// GetDeliverable возвращает deliverable модуля по id.
func (r *Registry) GetDeliverable(moduleID, deliverableID string) (*Deliverable, error) {
	c, err := r.GetContract(moduleID)
	if err != nil {
		return nil, err
	}
	d := c.Deliverable(deliverableID)
	if d == nil {
		return nil, fmt.Errorf("%w: module %q has no deliverable %q",
			ErrUnknownDeliverable, moduleID, deliverableID)
	}
	return d, nil
}

// validateContract отклоняет контракт с некорректным kind, с deliverable,
// ссылающимся на необъявленный выход, и с deliverable, инжектящим
// тенантский вход вместо платформенного.
func validateContract(c *ModuleContract) error {
	if c.ModuleID == "" {
		return NewContractError("", "module_id", "module_id is required")
	}
	if c.Kind == "" {
		return NewContractError(c.ModuleID, "kind", "kind is required")
	}
	if !domain.IsValidModuleKind(string(c.Kind)) {
		return NewContractError(c.ModuleID, "kind",
			fmt.Sprintf("kind %q is not one of %v", c.Kind, domain.ModuleKindValues))
	}

	seen := make(map[string]bool)
	for _, grp := range []struct {
		name  string
		ports []Port
	}{
		{"ports.inputs.port", c.Ports.Inputs.Port},
		{"ports.inputs.limited_port", c.Ports.Inputs.LimitedPort},
	} {
		for i := range grp.ports {
			id := grp.ports[i].ID
			if id == "" {
				return NewContractError(c.ModuleID, grp.name, "input port without id")
			}
			if seen[id] {
				return NewContractError(c.ModuleID, grp.name,
					fmt.Sprintf("duplicate input port %q", id))
			}
			seen[id] = true
		}
	}

	outputIDs := c.AllOutputIDs()
	tenantInputs := c.TenantInputs()
	platformInputs := c.PlatformInputs()

	seenDeliv := make(map[string]bool)
	for i := range c.Deliverables.Port {
		d := &c.Deliverables.Port[i]
		if d.ID == "" {
			return NewContractError(c.ModuleID, "deliverables", "deliverable without id")
		}
		if seenDeliv[d.ID] {
			return NewContractError(c.ModuleID, "deliverables",
				fmt.Sprintf("duplicate deliverable %q", d.ID))
		}
		seenDeliv[d.ID] = true

		for _, outID := range d.OutputIDs {
			if !outputIDs[outID] {
				return NewContractError(c.ModuleID, "deliverables",
					fmt.Sprintf("deliverable %q references undeclared output %q", d.ID, outID))
			}
		}
		for inputID := range d.LimitedInputs {
			if _, ok := platformInputs[inputID]; ok {
				continue
			}
			if _, ok := tenantInputs[inputID]; ok {
				return NewContractError(c.ModuleID, "deliverables",
					fmt.Sprintf("deliverable %q injects tenant-visible input %q", d.ID, inputID))
			}
			return NewContractError(c.ModuleID, "deliverables",
				fmt.Sprintf("deliverable %q injects undeclared input %q", d.ID, inputID))
		}
	}
	return nil
}
