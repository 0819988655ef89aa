package config

import (
	"sort"
	"strings"

	"github.com/Dhoini/subscription-service/internal/domain"
)

// placeholderMarkers признаки того, что значение цены не заполнено оператором.
var placeholderMarkers = []string{
	"placeholder", "your", "replace", "changeme", "todo", "xxx", "example",
}

// PlanCatalog неизменяемый справочник plan x interval -> price reference.
// Создается один раз при старте и передается в провижинер.
type PlanCatalog struct {
	prices map[string]map[string]string
}

// NewPlanCatalog копирует конфигурацию планов; дальнейшие изменения исходной карты не видны.
func NewPlanCatalog(plans map[string]map[string]string) *PlanCatalog {
	prices := make(map[string]map[string]string, len(plans))
	for planID, intervals := range plans {
		byInterval := make(map[string]string, len(intervals))
		for interval, price := range intervals {
			byInterval[normalizeKey(interval)] = strings.TrimSpace(price)
		}
		prices[normalizeKey(planID)] = byInterval
	}
	return &PlanCatalog{prices: prices}
}

// PriceFor возвращает ссылку на цену. Отсутствующая комбинация или значение,
// похожее на заглушку, дают UnknownPlanError.
func (c *PlanCatalog) PriceFor(planID, interval string) (string, error) {
	price, ok := c.prices[normalizeKey(planID)][normalizeKey(interval)]
	if !ok || LooksUnconfigured(price) {
		return "", domain.NewUnknownPlanError(planID, interval)
	}
	return price, nil
}

// Configured список сконфигурированных пар "plan/interval", для логов старта.
func (c *PlanCatalog) Configured() []string {
	var out []string
	for planID, intervals := range c.prices {
		for interval, price := range intervals {
			if !LooksUnconfigured(price) {
				out = append(out, planID+"/"+interval)
			}
		}
	}
	sort.Strings(out)
	return out
}

// LooksUnconfigured консервативная проверка: пустое значение, шаблон ${...} или <...>,
// либо слово-заглушка в начале одного из сегментов (price_YourPriceId, REPLACE-ME).
// Сегменты сравниваются целиком по префиксу, чтобы случайные id процессора не срабатывали.
func LooksUnconfigured(price string) bool {
	p := strings.ToLower(strings.TrimSpace(price))
	if p == "" {
		return true
	}
	if strings.HasPrefix(p, "${") || (strings.HasPrefix(p, "<") && strings.HasSuffix(p, ">")) {
		return true
	}
	segments := strings.FieldsFunc(p, func(r rune) bool {
		return r == '_' || r == '-' || r == ' ' || r == '.'
	})
	for _, segment := range segments {
		for _, marker := range placeholderMarkers {
			if strings.HasPrefix(segment, marker) {
				return true
			}
		}
	}
	return false
}

// viper приводит ключи к нижнему регистру, поэтому сравниваем так же.
func normalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
