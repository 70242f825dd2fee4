package flow

import (
	"fmt"
	"maps"
	"sync"

	"github.com/shaiso/Relay/internal/domain"
	"github.com/shaiso/Relay/internal/engine"
	"github.com/shaiso/Relay/internal/node"
	"github.com/shaiso/Relay/internal/telemetry"
)

// Flow — исполняемый экземпляр одного GraphDefinition.
//
// Flow владеет таблицей активных узлов, таблицей экземпляров subflow
// и индексами маршрутизации ошибок и статусов.
//
// Start, Stop и Update выполняются последовательно (opMu). Таблицы
// защищены mu: маршрутизация берёт снимок под RLock и доставляет
// сообщения уже без блокировки.
type Flow struct {
	rt *Runtime
	id string

	opMu sync.Mutex

	mu     sync.RWMutex
	global *domain.GraphDefinition
	def    *domain.GraphDefinition
	parent *Flow
	state  domain.FlowState

	// active — таблица активных узлов (id → узел).
	active map[string]node.Node

	// subflows — состав развёрнутых экземпляров: ID экземпляра →
	// фасад, затем участники в порядке создания.
	subflows map[string][]string

	// catchIndex, statusIndex — обработчики по scope.
	catchIndex  map[string][]node.Node
	statusIndex map[string][]node.Node

	// parents — scope экземпляра subflow → scope, в котором он размещён.
	parents map[string]string
}

// ID возвращает ID flow.
func (f *Flow) ID() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.id
}

// SetParent задаёт flow, в котором ищутся узлы, отсутствующие в этом
// (обычно глобальный flow с общими config-узлами).
func (f *Flow) SetParent(parent *Flow) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.parent = parent
}

// State возвращает текущее состояние.
func (f *Flow) State() domain.FlowState {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state
}

// Definition возвращает текущее определение flow.
func (f *Flow) Definition() *domain.GraphDefinition {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.def
}

// Update заменяет определение flow. Активные узлы не затрагиваются:
// вызывающий сначала останавливает изменённые узлы, затем вызывает Start.
func (f *Flow) Update(global, def *domain.GraphDefinition) {
	f.opMu.Lock()
	defer f.opMu.Unlock()

	def = prepare(def)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.global = global
	f.def = def
	f.id = def.ID
}

// GetNode возвращает активный узел этого flow.
func (f *Flow) GetNode(id string) (node.Node, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	n, ok := f.active[id]
	return n, ok
}

// ActiveNodes возвращает копию таблицы активных узлов.
func (f *Flow) ActiveNodes() map[string]node.Node {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return maps.Clone(f.active)
}

// Members возвращает состав развёрнутого экземпляра subflow (фасад первым).
func (f *Flow) Members(instanceID string) ([]string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	members, ok := f.subflows[instanceID]
	if !ok {
		return nil, false
	}
	return append([]string(nil), members...), true
}

// Lookup реализует node.Host: ищет узел в этом flow, затем в родительском.
func (f *Flow) Lookup(id string) (node.Node, bool) {
	f.mu.RLock()
	n, ok := f.active[id]
	parent := f.parent
	f.mu.RUnlock()
	if ok {
		return n, true
	}
	if parent != nil && parent != f {
		return parent.GetNode(id)
	}
	return nil, false
}

// Start создаёт недостающие узлы flow.
//
// Порядок:
//  1. config-узлы (с учётом ссылок между ними)
//  2. diff.Rewired — перепривязка wires у уже работающих узлов
//  3. обычные узлы
//  4. экземпляры subflow
//  5. перестроение индексов маршрутизации
//
// Ошибки создания отдельных узлов пишутся в журнал, а flow переходит
// в PARTIALLY_RUNNING. Возвращается только *CircularConfigError.
func (f *Flow) Start(diff *domain.Diff) error {
	f.opMu.Lock()
	defer f.opMu.Unlock()

	f.setState(domain.FlowStateStarting)
	def := f.Definition()

	_, failures, err := f.resolveConfigs(def.Configs)
	if err != nil {
		f.record(telemetry.LevelError, nil, err.Error())
		f.finishStart(failures + 1)
		return err
	}

	if diff != nil {
		for _, id := range diff.Rewired {
			spec, ok := def.Nodes[id]
			if !ok {
				continue
			}
			if n, ok := f.GetNode(id); ok {
				n.UpdateWires(domain.CloneWires(spec.Wires))
			}
		}
	}

	for _, id := range domain.SortedKeys(def.Nodes) {
		spec := def.Nodes[id]
		if spec.IsSubflowInstance() {
			continue
		}
		if _, ok := f.GetNode(id); ok {
			continue
		}
		if _, err := f.createNode(spec); err != nil {
			failures++
		}
	}

	for _, id := range domain.SortedKeys(def.Nodes) {
		spec := def.Nodes[id]
		if !spec.IsSubflowInstance() {
			continue
		}
		if _, ok := f.Members(id); ok {
			continue
		}
		n, err := f.expand(spec)
		failures += n
		if err != nil {
			failures++
		}
	}

	f.finishStart(failures)
	return nil
}

// finishStart перестраивает индексы и выставляет итоговое состояние.
func (f *Flow) finishStart(failures int) {
	f.mu.Lock()
	f.rebuildIndices()
	switch {
	case failures == 0:
		f.state = domain.FlowStateRunning
	case len(f.active) == 0:
		f.state = domain.FlowStateStopped
	default:
		f.state = domain.FlowStatePartiallyRunning
	}
	id, count, state := f.id, len(f.active), f.state
	f.mu.Unlock()

	f.rt.deps.Metrics.SetActiveNodes(id, count)
	f.recordState(state)
}

// createNode создаёт узел через реестр и добавляет его в таблицу активных.
func (f *Flow) createNode(spec *domain.NodeSpec) (node.Node, error) {
	cfg := spec.Clone()
	engine.MapEnvProperties(cfg.Props, f.rt.deps.Env)

	n, err := f.rt.deps.Registry.Construct(node.Config{
		Spec: cfg,
		Host: f,
		Sink: f.rt.deps.Sink,
	})
	f.rt.deps.Metrics.NodeCreated(spec.Type, err)
	if err != nil {
		f.record(telemetry.LevelError, spec, fmt.Sprintf("failed to create node: %v", err))
		return nil, err
	}

	f.mu.Lock()
	f.active[spec.ID] = n
	f.mu.Unlock()
	return n, nil
}

// rebuildIndices пересобирает индексы catch/status и дерево scope.
// Вызывается под f.mu.
func (f *Flow) rebuildIndices() {
	catch := make(map[string][]node.Node)
	status := make(map[string][]node.Node)
	for _, id := range domain.SortedKeys(f.active) {
		n := f.active[id]
		switch n.Type() {
		case node.TypeCatch:
			catch[n.Z()] = append(catch[n.Z()], n)
		case node.TypeStatus:
			status[n.Z()] = append(status[n.Z()], n)
		}
	}

	parents := make(map[string]string, len(f.subflows))
	for instanceID := range f.subflows {
		if facade, ok := f.active[instanceID]; ok {
			parents[instanceID] = facade.Z()
		}
	}

	f.catchIndex = catch
	f.statusIndex = status
	f.parents = parents
}

func (f *Flow) setState(state domain.FlowState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = state
}

// record пишет событие flow в журнал. spec может быть nil.
func (f *Flow) record(level telemetry.Level, spec *domain.NodeSpec, msg string) {
	e := telemetry.Event{Level: level, Z: f.ID(), Msg: msg}
	if spec != nil {
		e.ID, e.Type, e.Name, e.Z = spec.ID, spec.Type, spec.Name, spec.Z
	}
	f.rt.deps.Sink.Record(e)
}

// recordState пишет смену состояния flow. Вызывается без f.mu.
func (f *Flow) recordState(state domain.FlowState) {
	f.record(telemetry.LevelInfo, nil, "flow state: "+string(state))
}

// recordNode пишет событие от имени работающего узла.
func (f *Flow) recordNode(level telemetry.Level, n node.Node, msg string) {
	f.rt.deps.Sink.Record(telemetry.Event{
		Level: level,
		ID:    n.ID(),
		Type:  n.Type(),
		Name:  n.Name(),
		Z:     n.Z(),
		Msg:   msg,
	})
}
