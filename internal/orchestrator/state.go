package orchestrator

import (
	"github.com/shaiso/Relay/internal/domain"
	"github.com/shaiso/Relay/internal/flow"
)

// deployment — развёрнутый граф и ревизия, из которой он собран.
type deployment struct {
	flow     *flow.Flow
	revision int64
}

// FlowStatus — состояние развёрнутого flow.
type FlowStatus struct {
	ID          string           `json:"id"`
	State       domain.FlowState `json:"state"`
	Revision    int64            `json:"revision"`
	ActiveNodes int              `json:"active_nodes"`
}

func (d *deployment) status() FlowStatus {
	return FlowStatus{
		ID:          d.flow.ID(),
		State:       d.flow.State(),
		Revision:    d.revision,
		ActiveNodes: len(d.flow.ActiveNodes()),
	}
}

// Flows возвращает состояние всех развёрнутых flow, глобальный — первым.
func (o *Orchestrator) Flows() []FlowStatus {
	o.mu.RLock()
	defer o.mu.RUnlock()

	result := make([]FlowStatus, 0, len(o.flows)+1)
	if o.global != nil {
		result = append(result, o.global.status())
	}
	for _, id := range domain.SortedKeys(o.flows) {
		result = append(result, o.flows[id].status())
	}
	return result
}

// FlowCount возвращает количество развёрнутых flow без глобального.
func (o *Orchestrator) FlowCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.flows)
}

// Flow возвращает развёрнутый flow по ID.
func (o *Orchestrator) Flow(id string) (*flow.Flow, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if id == GlobalID {
		if o.global == nil {
			return nil, false
		}
		return o.global.flow, true
	}
	d, ok := o.flows[id]
	if !ok {
		return nil, false
	}
	return d.flow, true
}

// dependents возвращает развёрнутые flow (кроме глобального) в порядке ID.
func (o *Orchestrator) dependents() []*deployment {
	o.mu.RLock()
	defer o.mu.RUnlock()
	ids := domain.SortedKeys(o.flows)
	result := make([]*deployment, 0, len(ids))
	for _, id := range ids {
		result = append(result, o.flows[id])
	}
	return result
}

// globalDefinition возвращает определение глобального графа или nil.
func (o *Orchestrator) globalDefinition() (*domain.GraphDefinition, *flow.Flow) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.global == nil {
		return nil, nil
	}
	return o.global.flow.Definition(), o.global.flow
}

// activeIDs возвращает ID активных узлов flow.
func activeIDs(f *flow.Flow) []string {
	return domain.SortedKeys(f.ActiveNodes())
}
