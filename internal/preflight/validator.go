// Package preflight проверяет work order перед исполнением и списанием.
//
// Включённые work orders получают блокирующие ошибки; черновики
// (enabled=false) — только предупреждения, проверка продолжается.
package preflight

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shaiso/Conveyor/internal/contract"
	"github.com/shaiso/Conveyor/internal/domain"
)

// EmailAttachmentThresholdBytes — детерминированный порог размера вложения
// для доставки по email (19.9 MiB).
const EmailAttachmentThresholdBytes = 20866662

// Report — результат preflight-проверки.
type Report struct {
	// Enabled — work order включён (черновики не блокируются).
	Enabled bool

	// Path — путь исходного документа.
	Path string

	// Warnings — предупреждения черновика.
	Warnings []string

	// StepOrder — step_id включённых шагов в порядке объявления.
	StepOrder []string

	// RequestedDeliverables — нормализованный список deliverables по шагам.
	RequestedDeliverables map[string][]string

	// DeliverableSource — источник выбора deliverables по шагам
	// (explicit | legacy:* | none).
	DeliverableSource map[string]string

	// EffectiveInputs — входы шагов после применения defaults и
	// платформенных limited-входов deliverables.
	EffectiveInputs map[string]map[string]domain.Value

	// Exposed — тенантски-видимые выходы (id и пути) по шагам.
	Exposed map[string]map[string]bool
}

// Validator выполняет preflight-проверку work order против контрактов модулей.
type Validator struct {
	registry *contract.Registry
}

// New создаёт валидатор поверх реестра контрактов.
func New(registry *contract.Registry) *Validator {
	return &Validator{registry: registry}
}

// checker накапливает предупреждения черновика; для включённых work orders
// каждое замечание становится блокирующей ошибкой.
type checker struct {
	enabled  bool
	path     string
	warnings []string
}

func (c *checker) flag(stepID, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if c.enabled {
		return &Error{Path: c.path, StepID: stepID, Message: msg}
	}
	c.warnings = append(c.warnings, "draft warning: "+msg)
	return nil
}

// Validate проверяет work order и возвращает отчёт с обогащёнными входами.
func (v *Validator) Validate(spec *domain.WorkorderSpec) (*Report, error) {
	c := &checker{enabled: spec.Enabled, path: spec.SourcePath}
	report := &Report{
		Enabled:               spec.Enabled,
		Path:                  spec.SourcePath,
		RequestedDeliverables: make(map[string][]string),
		DeliverableSource:     make(map[string]string),
		EffectiveInputs:       make(map[string]map[string]domain.Value),
		Exposed:               make(map[string]map[string]bool),
	}

	if len(spec.Steps) == 0 {
		if err := c.flag("", "workorder must define non-empty steps list"); err != nil {
			return nil, err
		}
		report.Warnings = c.warnings
		return report, nil
	}

	// Сбор включённых шагов: уникальность step_id, каноничный kind.
	stepIDs := make(map[string]bool)
	stepByID := make(map[string]*domain.StepSpec)
	kindByID := make(map[string]domain.ModuleKind)
	ordered := make([]string, 0, len(spec.Steps))

	for i := range spec.Steps {
		s := &spec.Steps[i]
		if !s.IsEnabled() {
			continue
		}
		sid := strings.TrimSpace(s.StepID)
		mid := strings.TrimSpace(s.ModuleID)
		if sid == "" || mid == "" {
			continue
		}
		if stepIDs[sid] {
			if err := c.flag(sid, "duplicate step_id %q", sid); err != nil {
				return nil, err
			}
			continue
		}
		stepIDs[sid] = true
		ordered = append(ordered, sid)
		stepByID[sid] = s

		if s.Kind == "" {
			if err := c.flag(sid, "step %q missing required field 'kind' (allowed: %v)", sid, domain.ModuleKindValues); err != nil {
				return nil, err
			}
			continue
		}
		if !domain.IsValidModuleKind(string(s.Kind)) {
			if err := c.flag(sid, "step %q has invalid kind=%q (allowed: %v)", sid, s.Kind, domain.ModuleKindValues); err != nil {
				return nil, err
			}
			continue
		}
		kindByID[sid] = s.Kind
	}
	report.StepOrder = ordered

	if err := v.checkDeliverableGating(c, spec, ordered, kindByID, stepByID); err != nil {
		return nil, err
	}

	// Известность модулей и соответствие kind шага kind модуля.
	contracts := make(map[string]*contract.ModuleContract)
	for _, sid := range ordered {
		s := stepByID[sid]
		mc, ok := contracts[s.ModuleID]
		if !ok {
			loaded, err := v.registry.GetContract(s.ModuleID)
			if err != nil {
				if ferr := c.flag(sid, "unknown module %q for step %q", s.ModuleID, sid); ferr != nil {
					return nil, ferr
				}
				continue
			}
			mc = loaded
			contracts[s.ModuleID] = mc
		}
		if kind, ok := kindByID[sid]; ok && kind != mc.Kind {
			if err := c.flag(sid, "step %q kind %q does not match module %q kind %q", sid, kind, s.ModuleID, mc.Kind); err != nil {
				return nil, err
			}
		}
	}

	// Нормализация запрошенных deliverables.
	for _, sid := range ordered {
		s := stepByID[sid]
		mc := contracts[s.ModuleID]
		req, src, err := normalizeRequestedDeliverables(mc, s)
		if err != nil {
			if ferr := c.flag(sid, "step %q: %v", sid, err); ferr != nil {
				return nil, ferr
			}
			continue
		}
		report.RequestedDeliverables[sid] = req
		report.DeliverableSource[sid] = src
		if mc == nil {
			continue
		}
		for _, did := range req {
			if mc.Deliverable(did) == nil {
				if err := c.flag(sid, "step %q deliverable %q not declared by module %q", sid, did, s.ModuleID); err != nil {
					return nil, err
				}
			}
		}
	}

	// Экспонируемые выходы по шагам — для проверки биндингов и для резолвера.
	for _, sid := range ordered {
		if mc := contracts[stepByID[sid].ModuleID]; mc != nil {
			report.Exposed[sid] = mc.ExposedOutputs()
		} else {
			report.Exposed[sid] = map[string]bool{}
		}
	}

	// Обогащение и проверка входов каждого шага.
	for _, sid := range ordered {
		s := stepByID[sid]
		mc := contracts[s.ModuleID]
		if mc == nil {
			continue
		}
		effective, err := v.checkStepInputs(c, report, s, mc, stepIDs)
		if err != nil {
			return nil, err
		}
		report.EffectiveInputs[sid] = effective
	}

	report.Warnings = c.warnings
	return report, nil
}

// checkDeliverableGating проверяет состав и порядок packaging/delivery шагов.
//
// Правила:
//   - artifacts_requested=true — packaging и delivery обязательны;
//   - packaging присутствует — delivery обязателен;
//   - delivery присутствует — packaging обязателен и стоит раньше;
//   - доставка email — ближайший предшествующий packaging обязан объявить
//     max_bytes строго ниже порога вложения.
func (v *Validator) checkDeliverableGating(
	c *checker,
	spec *domain.WorkorderSpec,
	ordered []string,
	kindByID map[string]domain.ModuleKind,
	stepByID map[string]*domain.StepSpec,
) error {
	indexOf := make(map[string]int, len(ordered))
	packaging := make([]string, 0)
	delivery := make([]string, 0)
	for i, sid := range ordered {
		indexOf[sid] = i
		switch kindByID[sid] {
		case domain.KindPackaging:
			packaging = append(packaging, sid)
		case domain.KindDelivery:
			delivery = append(delivery, sid)
		}
	}

	if spec.ArtifactsRequested {
		if len(packaging) == 0 {
			if err := c.flag("", "missing packaging step"); err != nil {
				return err
			}
		}
		if len(delivery) == 0 {
			if err := c.flag("", "missing delivery step"); err != nil {
				return err
			}
		}
		if len(packaging) > 0 && len(delivery) > 0 && indexOf[delivery[0]] < indexOf[packaging[0]] {
			if err := c.flag("", "wrong order (delivery before packaging)"); err != nil {
				return err
			}
		}
	}

	if len(packaging) > 0 && len(delivery) == 0 {
		if err := c.flag("", "missing delivery step"); err != nil {
			return err
		}
	}

	if len(delivery) == 0 {
		return nil
	}
	if len(packaging) == 0 {
		return c.flag("", "missing packaging step")
	}
	firstPack := indexOf[packaging[0]]
	for _, dsid := range delivery {
		if indexOf[dsid] < firstPack {
			if err := c.flag("", "wrong order (delivery before packaging)"); err != nil {
				return err
			}
			break
		}
	}

	// Email-доставка: детерминированный порог размера на packaging шаге.
	for _, dsid := range delivery {
		s := stepByID[dsid]
		method := ""
		if s.Delivery != nil {
			method = strings.ToLower(strings.TrimSpace(s.Delivery.Method))
		}
		if method != "email" {
			continue
		}

		var prevPack *domain.StepSpec
		for i := indexOf[dsid] - 1; i >= 0; i-- {
			if kindByID[ordered[i]] == domain.KindPackaging {
				prevPack = stepByID[ordered[i]]
				break
			}
		}
		if prevPack == nil {
			if err := c.flag(dsid, "delivery email step %q requires a prior packaging step", dsid); err != nil {
				return err
			}
			continue
		}
		var maxBytes *int64
		if prevPack.Packaging != nil {
			maxBytes = prevPack.Packaging.MaxBytes
		}
		if maxBytes == nil {
			if err := c.flag(dsid, "delivery email step %q requires packaging step %q to declare max_bytes < %d",
				dsid, prevPack.StepID, EmailAttachmentThresholdBytes); err != nil {
				return err
			}
			continue
		}
		if *maxBytes >= EmailAttachmentThresholdBytes {
			if err := c.flag(dsid, "delivery email step %q requires packaging step %q max_bytes < %d (got %d)",
				dsid, prevPack.StepID, EmailAttachmentThresholdBytes, *maxBytes); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkStepInputs проверяет входы шага и возвращает обогащённый набор:
// входы арендатора + defaults + платформенные limited-входы deliverables.
func (v *Validator) checkStepInputs(
	c *checker,
	report *Report,
	s *domain.StepSpec,
	mc *contract.ModuleContract,
	stepIDs map[string]bool,
) (map[string]domain.Value, error) {
	tenantInputs := mc.TenantInputs()
	platformInputs := mc.PlatformInputs()

	lookup := func(id string) *contract.Port {
		if p, ok := tenantInputs[id]; ok {
			return p
		}
		if p, ok := platformInputs[id]; ok {
			return p
		}
		return nil
	}

	// Неизвестные входы и попытки задать limited_port арендатором.
	for _, fid := range sortedKeys(s.Inputs) {
		p := lookup(fid)
		if p == nil {
			if err := c.flag(s.StepID, "step %q module %s has unknown input %q", s.StepID, s.ModuleID, fid); err != nil {
				return nil, err
			}
			continue
		}
		if _, tenantVisible := tenantInputs[fid]; !tenantVisible {
			if err := c.flag(s.StepID, "step %q input %q is limited_port and must not be set by tenant", s.StepID, fid); err != nil {
				return nil, err
			}
		}
	}

	// Defaults — для всех объявленных входов, включая платформенные.
	effective := make(map[string]domain.Value, len(s.Inputs))
	for k, val := range s.Inputs {
		effective[k] = val
	}
	for _, group := range [][]contract.Port{mc.Ports.Inputs.Port, mc.Ports.Inputs.LimitedPort} {
		for i := range group {
			p := &group[i]
			if p.Default == nil {
				continue
			}
			if _, present := effective[p.ID]; present {
				continue
			}
			if msg := validateConstraints(p, *p.Default); msg != "" {
				if err := c.flag(s.StepID, "step %q default %q: %s", s.StepID, p.ID, msg); err != nil {
					return nil, err
				}
				continue
			}
			effective[p.ID] = *p.Default
		}
	}

	// Платформенные limited-входы, инжектируемые запрошенными deliverables.
	for _, did := range report.RequestedDeliverables[s.StepID] {
		d := mc.Deliverable(did)
		if d == nil {
			continue
		}
		for _, k := range sortedKeys(d.LimitedInputs) {
			p := lookup(k)
			if p == nil {
				if err := c.flag(s.StepID, "step %q deliverables set unknown limited_input %q for module %q", s.StepID, k, s.ModuleID); err != nil {
					return nil, err
				}
				continue
			}
			if _, tenantVisible := tenantInputs[k]; tenantVisible {
				if err := c.flag(s.StepID, "step %q deliverable %q injects tenant-visible input %q", s.StepID, did, k); err != nil {
					return nil, err
				}
				continue
			}
			effective[k] = d.LimitedInputs[k]
		}
	}

	// Обязательные входы: присутствуют и непусты после обогащения.
	for _, group := range [][]contract.Port{mc.Ports.Inputs.Port, mc.Ports.Inputs.LimitedPort} {
		for i := range group {
			p := &group[i]
			if !p.Required {
				continue
			}
			val, present := effective[p.ID]
			if !present || val.IsZero() {
				if err := c.flag(s.StepID, "step %q missing required input %q", s.StepID, p.ID); err != nil {
					return nil, err
				}
			}
		}
	}

	// Ограничения значений и форма биндингов.
	for _, fid := range sortedKeys(effective) {
		p := lookup(fid)
		if p == nil {
			continue
		}
		val := effective[fid]
		if len(val.Bindings()) == 0 {
			if msg := validateConstraints(p, val); msg != "" {
				if err := c.flag(s.StepID, "step %q input %q: %s", s.StepID, fid, msg); err != nil {
					return nil, err
				}
			}
			continue
		}
		for _, b := range val.Bindings() {
			if err := v.checkBinding(c, report, s, p, b, stepIDs); err != nil {
				return nil, err
			}
		}
	}

	return effective, nil
}

// checkBinding проверяет форму биндинга и экспонированность его цели.
func (v *Validator) checkBinding(
	c *checker,
	report *Report,
	s *domain.StepSpec,
	p *contract.Port,
	b *domain.Binding,
	stepIDs map[string]bool,
) error {
	ctx := fmt.Sprintf("step %q input %q", s.StepID, p.ID)

	if p.Binding == nil {
		return c.flag(s.StepID, "%s: bindings are not allowed for input %q on module %q", ctx, p.ID, s.ModuleID)
	}

	fromStep := strings.TrimSpace(b.FromStep)
	outputID := strings.TrimSpace(b.OutputID)
	fromFile := strings.TrimSpace(b.FromFile)

	if fromStep == "" {
		return c.flag(s.StepID, "%s: binding must include from_step", ctx)
	}
	if p.Binding.RequireOutputID {
		if outputID == "" {
			return c.flag(s.StepID, "%s: binding must include output_id", ctx)
		}
		if fromFile != "" {
			return c.flag(s.StepID, "%s: binding must not include from_file when output_id is required", ctx)
		}
	}
	if p.Binding.RequireFromFile {
		if fromFile == "" {
			return c.flag(s.StepID, "%s: binding must include from_file", ctx)
		}
		if outputID != "" {
			return c.flag(s.StepID, "%s: binding must not include output_id when from_file is required", ctx)
		}
	}
	if outputID == "" && fromFile == "" {
		return c.flag(s.StepID, "%s: binding must include output_id or from_file", ctx)
	}
	if !stepIDs[fromStep] {
		return c.flag(s.StepID, "%s: binding from_step %q does not exist in workorder", ctx, fromStep)
	}

	exposed := report.Exposed[fromStep]
	if outputID != "" && !exposed[outputID] {
		return c.flag(s.StepID, "%s: binding output_id %q is not exposed by step %q", ctx, outputID, fromStep)
	}
	if fromFile != "" && !exposed[strings.TrimLeft(fromFile, "/")] {
		return c.flag(s.StepID, "%s: binding from_file %q is not exposed by step %q", ctx, fromFile, fromStep)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
