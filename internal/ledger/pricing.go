package ledger

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shaiso/Conveyor/internal/domain"
)

// openWindowEnd — верхняя граница для строк без effective_to.
var openWindowEnd = time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)

// PriceList — прейскурант с окнами действия по (module_id, deliverable_id).
type PriceList struct {
	rows []domain.PriceRow
}

// NewPriceList создаёт прейскурант из готовых строк.
func NewPriceList(rows []domain.PriceRow) *PriceList {
	return &PriceList{rows: rows}
}

// LoadPriceList читает прейскурант из YAML-файла (список строк).
func LoadPriceList(path string) (*PriceList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ledger: read price list: %w", err)
	}
	var rows []domain.PriceRow
	if err := yaml.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("ledger: parse price list: %w", err)
	}
	return &PriceList{rows: rows}, nil
}

// ResolvePrice возвращает цену (module, deliverable) на момент asOf.
//
// Участвуют только активные строки, чьё окно действия содержит asOf;
// при нескольких совпадениях побеждает самая поздняя effective_from.
// Отсутствие совпадений — ErrNoPrice.
func (p *PriceList) ResolvePrice(moduleID, deliverableID string, asOf time.Time) (int64, error) {
	day := asOf.UTC().Truncate(24 * time.Hour)

	var best *domain.PriceRow
	var bestFrom time.Time
	for i := range p.rows {
		r := &p.rows[i]
		if !r.Active || r.ModuleID != moduleID || r.DeliverableID != deliverableID {
			continue
		}
		from := parseDay(r.EffectiveFrom)
		to := openWindowEnd
		if r.EffectiveTo != "" {
			to = parseDay(r.EffectiveTo)
		}
		if day.Before(from) || day.After(to) {
			continue
		}
		if best == nil || from.After(bestFrom) {
			best = r
			bestFrom = from
		}
	}
	if best == nil {
		return 0, fmt.Errorf("%w: module %q deliverable %q at %s",
			ErrNoPrice, moduleID, deliverableID, day.Format("2006-01-02"))
	}
	return best.PriceCredits, nil
}

// parseDay разбирает дату YYYY-MM-DD; пустое или некорректное значение
// трактуется как начало эпохи.
func parseDay(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return t.UTC()
}

// Breakdown — постатейная раскладка стоимости шага: deliverable id
// (включая __run__) → цена в кредитах.
type Breakdown map[string]int64

// Total — сумма положительных статей раскладки.
func (b Breakdown) Total() int64 {
	var total int64
	for _, amt := range b {
		if amt > 0 {
			total += amt
		}
	}
	return total
}

// BreakdownForStep считает раскладку стоимости шага: базовый запуск
// (__run__) плюс каждый запрошенный deliverable. Отсутствующая в
// прейскуранте статья трактуется как ноль.
func (p *PriceList) BreakdownForStep(moduleID string, deliverables []string, asOf time.Time) Breakdown {
	b := make(Breakdown, len(deliverables)+1)
	b[domain.RunDeliverableID] = p.priceOrZero(moduleID, domain.RunDeliverableID, asOf)
	for _, did := range deliverables {
		b[did] = p.priceOrZero(moduleID, did, asOf)
	}
	return b
}

func (p *PriceList) priceOrZero(moduleID, deliverableID string, asOf time.Time) int64 {
	price, err := p.ResolvePrice(moduleID, deliverableID, asOf)
	if err != nil {
		return 0
	}
	return price
}
