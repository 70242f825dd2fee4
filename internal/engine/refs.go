package engine

import (
	"github.com/shaiso/Relay/internal/domain"
)

// RefNode — config-узел в графе ссылок.
type RefNode struct {
	// ID — идентификатор config-узла.
	ID string

	// InDegree — количество ссылок на ещё не упорядоченные config-узлы.
	InDegree int

	// DependsOn — config-узлы, на которые ссылается этот узел.
	DependsOn []*RefNode

	// Dependents — config-узлы, которые ссылаются на этот узел.
	Dependents []*RefNode
}

// RefGraph — граф ссылок между config-узлами одного графа.
//
// Flow при старте использует очередь с ограничением попыток (см. пакет flow),
// а RefGraph даёт точный порядок и точный список участников цикла.
// Используется для диагностики (relay-cli check).
type RefGraph struct {
	// Nodes — все config-узлы (id → RefNode).
	Nodes map[string]*RefNode

	// Order — топологический порядок создания.
	Order []*RefNode
}

// BuildRefGraph строит граф ссылок. Ссылки на узлы вне configs игнорируются:
// они не блокируют создание (например, глобальные config-узлы).
func BuildRefGraph(configs map[string]*domain.ConfigNodeSpec) (*RefGraph, error) {
	g := &RefGraph{
		Nodes: make(map[string]*RefNode, len(configs)),
	}

	ids := domain.SortedKeys(configs)
	for _, id := range ids {
		g.Nodes[id] = &RefNode{
			ID:         id,
			DependsOn:  make([]*RefNode, 0),
			Dependents: make([]*RefNode, 0),
		}
	}

	for _, id := range ids {
		node := g.Nodes[id]
		refs := configs[id].Refs
		for _, prop := range domain.SortedKeys(refs) {
			dep, ok := g.Nodes[refs[prop]]
			if !ok {
				continue
			}
			g.addEdge(dep, node)
		}
	}

	order, err := g.topologicalSort(ids)
	if err != nil {
		return nil, err
	}
	g.Order = order

	return g, nil
}

// addEdge добавляет ребро from → to (to ссылается на from).
func (g *RefGraph) addEdge(from, to *RefNode) {
	for _, dep := range to.DependsOn {
		if dep.ID == from.ID {
			return // уже связаны
		}
	}
	from.Dependents = append(from.Dependents, to)
	to.DependsOn = append(to.DependsOn, from)
	to.InDegree++
}

// topologicalSort выполняет топологическую сортировку (алгоритм Кана).
func (g *RefGraph) topologicalSort(ids []string) ([]*RefNode, error) {
	inDegree := make(map[string]int, len(g.Nodes))
	queue := make([]*RefNode, 0)
	for _, id := range ids {
		node := g.Nodes[id]
		inDegree[id] = node.InDegree
		if node.InDegree == 0 {
			queue = append(queue, node)
		}
	}

	order := make([]*RefNode, 0, len(g.Nodes))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)

		for _, dependent := range node.Dependents {
			inDegree[dependent.ID]--
			if inDegree[dependent.ID] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(order) != len(g.Nodes) {
		stuck := make([]string, 0, len(g.Nodes)-len(order))
		for _, id := range ids {
			if inDegree[id] > 0 {
				stuck = append(stuck, id)
			}
		}
		return nil, &CycleError{IDs: stuck}
	}

	return order, nil
}

// ConfigOrder возвращает ID config-узлов в порядке создания.
func ConfigOrder(configs map[string]*domain.ConfigNodeSpec) ([]string, error) {
	g, err := BuildRefGraph(configs)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(g.Order))
	for i, n := range g.Order {
		ids[i] = n.ID
	}
	return ids, nil
}
