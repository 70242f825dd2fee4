package flow

import (
	"fmt"

	"github.com/shaiso/Relay/internal/domain"
	"github.com/shaiso/Relay/internal/telemetry"
)

// resolveConfigs создаёт ещё не активные config-узлы из specs.
//
// Узлы берутся из очереди (в порядке ID). Если узел ссылается на
// config-узел из того же набора, который ещё не активен, он уходит в конец
// очереди, а его счётчик попыток растёт. Исчерпание попыток считается
// циклом и возвращает *CircularConfigError.
//
// Ссылки на узлы вне specs (глобальные config-узлы) создание не блокируют.
// Узел, ссылающийся на config-узел, который не удалось создать, не
// создаётся: он пишется в журнал как "dependency failed" и сам считается
// неудачным, так что отказ распространяется по цепочке.
//
// Возвращает созданные ID в порядке создания и число неудачных созданий.
func (f *Flow) resolveConfigs(specs map[string]*domain.ConfigNodeSpec) ([]string, int, error) {
	queue := make([]string, 0, len(specs))
	for _, id := range domain.SortedKeys(specs) {
		if _, ok := f.GetNode(id); !ok {
			queue = append(queue, id)
		}
	}

	limit := f.rt.settings.MaxConfigAttempts
	attempts := make(map[string]int)
	failed := make(map[string]bool)
	created := make([]string, 0, len(queue))

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		spec := specs[id]

		if dep := failedDependency(spec, failed); dep != "" {
			failed[id] = true
			f.record(telemetry.LevelError, spec.AsNodeSpec(),
				fmt.Sprintf("dependency failed: config node %s is not available", dep))
			continue
		}

		if f.blocked(spec, specs) {
			attempts[id]++
			if attempts[id] >= limit {
				return created, len(failed), &CircularConfigError{ID: id, Attempts: attempts[id]}
			}
			queue = append(queue, id)
			continue
		}

		if _, err := f.createNode(spec.AsNodeSpec()); err != nil {
			failed[id] = true
			continue
		}
		created = append(created, id)
	}

	return created, len(failed), nil
}

// failedDependency возвращает ID config-узла из failed, на который ссылается spec.
func failedDependency(spec *domain.ConfigNodeSpec, failed map[string]bool) string {
	for _, prop := range domain.SortedKeys(spec.Refs) {
		if target := spec.Refs[prop]; failed[target] {
			return target
		}
	}
	return ""
}

// blocked возвращает true, если spec ссылается на config-узел из specs,
// который ещё не активен.
func (f *Flow) blocked(spec *domain.ConfigNodeSpec, specs map[string]*domain.ConfigNodeSpec) bool {
	for _, prop := range domain.SortedKeys(spec.Refs) {
		target := spec.Refs[prop]
		if _, isConfig := specs[target]; !isConfig {
			continue
		}
		if _, ok := f.GetNode(target); !ok {
			return true
		}
	}
	return false
}
