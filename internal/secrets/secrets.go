// Package secrets — хранилище секретов модулей и preflight-гейт
// обязательных секретов.
//
// Секрет считается обязательным, если его note не содержит «if unset»
// (такие требования — dev-заглушки и не проверяются). Гейт перечисляет
// все отсутствующие секреты сразу, а не падает на первом.
package secrets

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// moduleBlock — секция секретов и переменных одного модуля.
type moduleBlock struct {
	Secrets map[string]string `yaml:"secrets"`
	Vars    map[string]string `yaml:"vars"`
}

// Store — расшифрованное хранилище секретов в памяти.
type Store struct {
	Version int                    `yaml:"version"`
	Modules map[string]moduleBlock `yaml:"modules"`
}

// LoadStore читает хранилище секретов из YAML-файла.
// Отсутствующий файл даёт пустое хранилище.
func LoadStore(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Store{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("secrets: read store: %w", err)
	}
	var s Store
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("secrets: parse store: %w", err)
	}
	return &s, nil
}

// EnvForModule возвращает переменные окружения модуля: секции secrets и
// vars, плюс зеркало без префикса для ключей вида "<module_id>_KEY".
func (s *Store) EnvForModule(moduleID string) map[string]string {
	env := make(map[string]string)
	blk, ok := s.Modules[moduleID]
	if !ok {
		return env
	}
	prefix := moduleID + "_"
	for _, section := range []map[string]string{blk.Secrets, blk.Vars} {
		for k, v := range section {
			k = strings.TrimSpace(k)
			if k == "" {
				continue
			}
			env[k] = v
			if rest := strings.TrimPrefix(k, prefix); rest != k {
				if _, exists := env[rest]; !exists {
					env[rest] = v
				}
			}
		}
	}
	return env
}

// Requirement — требование секрета для модуля.
type Requirement struct {
	// Key — имя переменной окружения.
	Key string `yaml:"key"`

	// Note — пояснение; «if unset» отключает проверку.
	Note string `yaml:"note,omitempty"`
}

// Requirements — требования секретов по модулям.
type Requirements map[string][]Requirement

// LoadRequirements читает требования из YAML-файла.
// Отсутствующий файл даёт пустые требования.
func LoadRequirements(path string) (Requirements, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Requirements{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("secrets: read requirements: %w", err)
	}
	var reqs Requirements
	if err := yaml.Unmarshal(data, &reqs); err != nil {
		return nil, fmt.Errorf("secrets: parse requirements: %w", err)
	}
	return reqs, nil
}

// Enforced возвращает true, если требование подлежит проверке.
func (r Requirement) Enforced() bool {
	return !strings.Contains(strings.ToLower(r.Note), "if unset")
}

// PlanStep — шаг плана для preflight-проверки.
type PlanStep struct {
	StepID   string
	ModuleID string
}

// Missing — одно отсутствующее обязательное значение.
type Missing struct {
	StepID   string
	ModuleID string
	Key      string
}

// PreflightError перечисляет все отсутствующие секреты плана.
type PreflightError struct {
	Missing []Missing
}

func (e *PreflightError) Error() string {
	parts := make([]string, 0, len(e.Missing))
	for _, m := range e.Missing {
		parts = append(parts, fmt.Sprintf("%s:%s:%s", m.StepID, m.ModuleID, m.Key))
	}
	return "missing required secrets: " + strings.Join(parts, ", ")
}

// CheckRequired проверяет обязательные секреты всех шагов плана.
// Значение присутствует, если env либо хранилище дают непустую строку по
// ключу или по ключу с префиксом модуля. Отсутствия собираются по всем
// шагам и возвращаются одним *PreflightError.
func CheckRequired(store *Store, reqs Requirements, steps []PlanStep, env map[string]string) error {
	var missing []Missing
	for _, st := range steps {
		if st.ModuleID == "" {
			continue
		}
		rules := reqs[st.ModuleID]
		if len(rules) == 0 {
			continue
		}
		injected := store.EnvForModule(st.ModuleID)
		for _, r := range rules {
			key := strings.TrimSpace(r.Key)
			if key == "" || !r.Enforced() {
				continue
			}
			if hasValue(env, injected, key, st.ModuleID) {
				continue
			}
			missing = append(missing, Missing{StepID: st.StepID, ModuleID: st.ModuleID, Key: key})
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Slice(missing, func(i, j int) bool {
		a, b := missing[i], missing[j]
		if a.StepID != b.StepID {
			return a.StepID < b.StepID
		}
		if a.ModuleID != b.ModuleID {
			return a.ModuleID < b.ModuleID
		}
		return a.Key < b.Key
	})
	return &PreflightError{Missing: missing}
}

// hasValue проверяет непустое значение по ключу или по ключу с
// префиксом «<module_id>_» в окружении и инжектированных секретах.
func hasValue(env, injected map[string]string, key, moduleID string) bool {
	for _, k := range []string{key, moduleID + "_" + key} {
		if strings.TrimSpace(env[k]) != "" || strings.TrimSpace(injected[k]) != "" {
			return true
		}
	}
	return false
}
