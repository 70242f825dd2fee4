package engine

import (
	"reflect"
	"slices"

	"github.com/shaiso/Relay/internal/domain"
)

// ComputeDiff вычисляет изменения между активной и новой версией графа.
//
// Правила:
//   - узел, у которого изменилось что-то кроме wires, — Changed
//   - узел, у которого изменились только wires, — Rewired
//   - изменение шаблона делает Changed все его экземпляры
//   - изменение или удаление config-узла делает Changed всех, кто на него ссылается
//     (транзитивно)
//
// old может быть nil — тогда все узлы считаются добавленными.
func ComputeDiff(old, updated *domain.GraphDefinition) *domain.Diff {
	diff := &domain.Diff{}
	if updated == nil {
		updated = &domain.GraphDefinition{}
	}
	if old == nil {
		old = &domain.GraphDefinition{}
	}

	changed := make(map[string]bool)
	removed := make(map[string]bool)
	rewired := make(map[string]bool)

	for _, id := range domain.SortedKeys(updated.Configs) {
		prev, ok := old.Configs[id]
		if !ok {
			diff.Added = append(diff.Added, id)
			continue
		}
		if !reflect.DeepEqual(prev, updated.Configs[id]) {
			changed[id] = true
		}
	}
	for _, id := range domain.SortedKeys(old.Configs) {
		if _, ok := updated.Configs[id]; !ok {
			removed[id] = true
		}
	}

	changedTemplates := make(map[string]bool)
	for _, id := range domain.SortedKeys(old.Subflows) {
		next, ok := updated.Subflows[id]
		if !ok || !reflect.DeepEqual(old.Subflows[id], next) {
			changedTemplates[id] = true
		}
	}

	for _, id := range domain.SortedKeys(updated.Nodes) {
		next := updated.Nodes[id]
		prev, ok := old.Nodes[id]
		if !ok {
			diff.Added = append(diff.Added, id)
			continue
		}
		if next.IsSubflowInstance() && changedTemplates[next.Subflow] {
			changed[id] = true
			continue
		}
		if !equalIgnoringWires(prev, next) {
			changed[id] = true
			continue
		}
		if !reflect.DeepEqual(prev.Wires, next.Wires) {
			rewired[id] = true
		}
	}
	for _, id := range domain.SortedKeys(old.Nodes) {
		if _, ok := updated.Nodes[id]; !ok {
			removed[id] = true
		}
	}

	propagateRefChanges(old, updated, changed, removed)

	for id := range changed {
		delete(rewired, id)
	}

	diff.Changed = sortedSet(changed)
	diff.Removed = sortedSet(removed)
	diff.Rewired = sortedSet(rewired)
	return diff
}

// StopList возвращает узлы, которые нужно остановить перед применением diff.
func StopList(diff *domain.Diff) []string {
	list := make([]string, 0, len(diff.Changed)+len(diff.Removed))
	list = append(list, diff.Changed...)
	list = append(list, diff.Removed...)
	slices.Sort(list)
	return slices.Compact(list)
}

// propagateRefChanges помечает Changed существующие узлы, ссылающиеся на изменённые config-узлы.
func propagateRefChanges(old, def *domain.GraphDefinition, changed, removed map[string]bool) {
	dirty := func(id string) bool { return changed[id] || removed[id] }

	for {
		progress := false
		for _, id := range domain.SortedKeys(def.Configs) {
			if _, existed := old.Configs[id]; !existed || changed[id] {
				continue
			}
			for _, ref := range def.Configs[id].Refs {
				if dirty(ref) {
					changed[id] = true
					progress = true
					break
				}
			}
		}
		for _, id := range domain.SortedKeys(def.Nodes) {
			if _, existed := old.Nodes[id]; !existed || changed[id] {
				continue
			}
			for _, ref := range def.Nodes[id].Refs {
				if dirty(ref) {
					changed[id] = true
					progress = true
					break
				}
			}
		}
		if !progress {
			return
		}
	}
}

// equalIgnoringWires сравнивает два spec без учёта wires.
func equalIgnoringWires(a, b *domain.NodeSpec) bool {
	ac, bc := *a, *b
	ac.Wires, bc.Wires = nil, nil
	return reflect.DeepEqual(ac, bc)
}

func sortedSet(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	return domain.SortedKeys(set)
}
