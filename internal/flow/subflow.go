package flow

import (
	"context"
	"fmt"
	"sync"

	"github.com/shaiso/Relay/internal/domain"
	"github.com/shaiso/Relay/internal/node"
	"github.com/shaiso/Relay/internal/telemetry"
)

// facade — узел, представляющий экземпляр subflow снаружи.
//
// Входящее сообщение без изменений уходит во все порты фасада: порт i
// ведёт к узлам, подключённым ко входу i шаблона. Выходы шаблона,
// питаемые напрямую от входа, добавляются к портам фасада.
type facade struct {
	*node.Base

	flow     *Flow
	template *domain.SubflowTemplate
	remap    map[string]string

	mu sync.Mutex

	// baseline — wires фасада без внешних связей экземпляра.
	baseline [][]string

	// memberBaseline — wires участников-источников выходов без внешних связей.
	memberBaseline map[string][][]string
}

// UpdateWires заменяет внешние связи экземпляра.
//
// Wires фасада и участников-источников выходов восстанавливаются из
// снимка и заново дополняются новыми внешними связями. Связи между
// участниками не меняются.
func (fa *facade) UpdateWires(external [][]string) {
	fa.mu.Lock()
	facadeWires, memberWires := applyOutputs(fa.template, fa.remap, fa.baseline, fa.memberBaseline, external)
	fa.mu.Unlock()

	for _, id := range domain.SortedKeys(memberWires) {
		if member, ok := fa.flow.GetNode(id); ok {
			member.UpdateWires(memberWires[id])
		}
	}
	fa.Base.UpdateWires(facadeWires)
}

// applyOutputs дополняет снимки wires внешними связями по выходным портам шаблона.
// Возвращает новые wires фасада и участников; снимки не изменяются.
func applyOutputs(
	tmpl *domain.SubflowTemplate,
	remap map[string]string,
	baseline [][]string,
	memberBaseline map[string][][]string,
	external [][]string,
) ([][]string, map[string][][]string) {
	facadeWires := domain.CloneWires(baseline)
	memberWires := make(map[string][][]string, len(memberBaseline))
	for id, wires := range memberBaseline {
		memberWires[id] = domain.CloneWires(wires)
	}

	for i, out := range tmpl.Out {
		if i >= len(external) {
			break
		}
		for _, w := range out.Wires {
			if w.ID == tmpl.ID {
				facadeWires = appendPort(facadeWires, w.Port, external[i])
				continue
			}
			id, ok := remap[w.ID]
			if !ok {
				continue
			}
			memberWires[id] = appendPort(memberWires[id], w.Port, external[i])
		}
	}
	return facadeWires, memberWires
}

// appendPort добавляет targets к порту port, расширяя wires при необходимости.
func appendPort(wires [][]string, port int, targets []string) [][]string {
	if port < 0 {
		return wires
	}
	for len(wires) <= port {
		wires = append(wires, []string{})
	}
	wires[port] = append(wires[port], targets...)
	return wires
}

// template ищет шаблон во flow, затем в глобальном графе.
func (f *Flow) template(id string) (*domain.SubflowTemplate, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if sf, ok := f.def.Subflows[id]; ok {
		return sf, true
	}
	if f.global != nil {
		sf, ok := f.global.Subflows[id]
		return sf, ok
	}
	return nil, false
}

// expansion собирает ID всех созданных узлов для отката.
type expansion struct {
	created  []string
	failures int
}

// expand разворачивает экземпляр subflow. Если развернуть не удалось
// (нет шаблона, рекурсия, цикл config-узлов), уже созданные участники
// удаляются из таблиц и закрываются асинхронно.
//
// Возвращает число узлов, которые не удалось создать.
func (f *Flow) expand(instance *domain.NodeSpec) (int, error) {
	if _, ok := f.Members(instance.ID); ok {
		return 0, fmt.Errorf("%w: %s", ErrAlreadyExpanded, instance.ID)
	}

	exp := &expansion{}
	if _, err := f.expandInstance(instance, exp, map[string]bool{}); err != nil {
		f.record(telemetry.LevelError, instance, fmt.Sprintf("failed to expand subflow: %v", err))
		f.rollback(exp.created)
		return exp.failures, err
	}
	return exp.failures, nil
}

// expandInstance клонирует шаблон экземпляра и создаёт его участников.
// path — шаблоны, разворачиваемые выше по стеку.
// Возвращает состав экземпляра (фасад первым).
func (f *Flow) expandInstance(instance *domain.NodeSpec, exp *expansion, path map[string]bool) ([]string, error) {
	tmpl, ok := f.template(instance.Subflow)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSubflowNotFound, instance.Subflow)
	}
	if path[tmpl.ID] {
		return nil, fmt.Errorf("%w: %s", ErrRecursiveSubflow, tmpl.ID)
	}
	path[tmpl.ID] = true
	defer delete(path, tmpl.ID)

	// 1. Новые ID для всех узлов шаблона.
	remap := make(map[string]string, len(tmpl.Configs)+len(tmpl.Nodes))
	for _, id := range domain.SortedKeys(tmpl.Configs) {
		remap[id] = f.rt.deps.IDs.NewID()
	}
	for _, id := range domain.SortedKeys(tmpl.Nodes) {
		remap[id] = f.rt.deps.IDs.NewID()
	}

	// 2. Копии spec с переписанными wires, scope и refs.
	configs := make(map[string]*domain.ConfigNodeSpec, len(tmpl.Configs))
	for _, id := range domain.SortedKeys(tmpl.Configs) {
		c := tmpl.Configs[id].Clone()
		c.ID = remap[id]
		c.Z = instance.ID
		c.Refs = remapRefs(c.Refs, remap)
		configs[c.ID] = c
	}
	nodes := make(map[string]*domain.NodeSpec, len(tmpl.Nodes))
	for _, id := range domain.SortedKeys(tmpl.Nodes) {
		n := tmpl.Nodes[id].Clone()
		n.ID = remap[id]
		n.Z = instance.ID
		n.Wires = remapWires(n.Wires, remap)
		n.Scope = remapScope(n.Scope, remap)
		n.Refs = remapRefs(n.Refs, remap)
		nodes[n.ID] = n
	}

	// 3. Фасад: порт i ведёт к узлам входа i.
	inputs := make([][]string, len(tmpl.In))
	for i, in := range tmpl.In {
		inputs[i] = []string{}
		for _, w := range in.Wires {
			if id, ok := remap[w.ID]; ok {
				inputs[i] = append(inputs[i], id)
			}
		}
	}

	// 4. Выходы: снимок wires источников, затем внешние связи экземпляра.
	memberBaseline := make(map[string][][]string)
	for _, out := range tmpl.Out {
		for _, w := range out.Wires {
			if w.ID == tmpl.ID {
				continue
			}
			id, ok := remap[w.ID]
			if !ok {
				continue
			}
			if _, seen := memberBaseline[id]; !seen {
				memberBaseline[id] = domain.CloneWires(nodes[id].Wires)
			}
		}
	}
	facadeWires, memberWires := applyOutputs(tmpl, remap, inputs, memberBaseline, instance.Wires)
	for id, wires := range memberWires {
		nodes[id].Wires = wires
	}

	fa := f.newFacade(instance, tmpl, remap, inputs, memberBaseline, facadeWires)
	f.mu.Lock()
	f.active[instance.ID] = fa
	f.mu.Unlock()
	exp.created = append(exp.created, instance.ID)
	members := []string{instance.ID}

	// 5. Config-участники, вложенные экземпляры, затем обычные участники.
	created, failures, err := f.resolveConfigs(configs)
	exp.created = append(exp.created, created...)
	exp.failures += failures
	members = append(members, created...)
	if err != nil {
		return nil, err
	}

	for _, id := range domain.SortedKeys(nodes) {
		spec := nodes[id]
		if !spec.IsSubflowInstance() {
			continue
		}
		nested, err := f.expandInstance(spec, exp, path)
		if err != nil {
			return nil, err
		}
		members = append(members, nested...)
	}

	for _, id := range domain.SortedKeys(nodes) {
		spec := nodes[id]
		if spec.IsSubflowInstance() {
			continue
		}
		if _, err := f.createNode(spec); err != nil {
			exp.failures++
			continue
		}
		exp.created = append(exp.created, id)
		members = append(members, id)
	}

	// 6. Состав экземпляра.
	f.mu.Lock()
	f.subflows[instance.ID] = members
	f.mu.Unlock()

	return members, nil
}

func (f *Flow) newFacade(
	instance *domain.NodeSpec,
	tmpl *domain.SubflowTemplate,
	remap map[string]string,
	baseline [][]string,
	memberBaseline map[string][][]string,
	wires [][]string,
) *facade {
	name := instance.Name
	if name == "" {
		name = tmpl.Name
	}
	base := node.NewBase(node.Config{
		Spec: &domain.NodeSpec{
			ID:    instance.ID,
			Type:  instance.Type,
			Name:  name,
			Z:     instance.Z,
			Wires: wires,
		},
		Host: f,
		Sink: f.rt.deps.Sink,
	})
	fa := &facade{
		Base:           base,
		flow:           f,
		template:       tmpl,
		remap:          remap,
		baseline:       baseline,
		memberBaseline: memberBaseline,
	}
	base.OnInput(func(msg domain.Message) error {
		outputs := make([]domain.Message, len(fa.Wires()))
		for i := range outputs {
			outputs[i] = msg
		}
		fa.Send(outputs...)
		return nil
	})
	return fa
}

// rollback удаляет созданные узлы из таблиц и закрывает их в фоне.
func (f *Flow) rollback(ids []string) {
	if len(ids) == 0 {
		return
	}
	f.mu.Lock()
	targets := make([]closeTarget, 0, len(ids))
	for _, id := range ids {
		if n, ok := f.active[id]; ok {
			targets = append(targets, closeTarget{node: n, removed: true})
			delete(f.active, id)
		}
		delete(f.subflows, id)
	}
	f.rebuildIndices()
	f.mu.Unlock()

	go f.closeAll(context.Background(), targets)
}

// remapWires переписывает цели wires через remap; чужие цели отбрасываются.
func remapWires(wires [][]string, remap map[string]string) [][]string {
	out := make([][]string, len(wires))
	for i, port := range wires {
		out[i] = make([]string, 0, len(port))
		for _, target := range port {
			if id, ok := remap[target]; ok {
				out[i] = append(out[i], id)
			}
		}
	}
	return out
}

// remapScope переписывает список источников catch/status.
// Неизвестный ID заменяется пустой строкой: он не совпадёт ни с одним узлом.
func remapScope(scope []string, remap map[string]string) []string {
	if scope == nil {
		return nil
	}
	out := make([]string, len(scope))
	for i, id := range scope {
		out[i] = remap[id]
	}
	return out
}

// remapRefs переписывает ссылки на config-узлы шаблона.
// Ссылки на прочие config-узлы (flow, глобальные) сохраняются.
func remapRefs(refs map[string]string, remap map[string]string) map[string]string {
	if refs == nil {
		return nil
	}
	out := make(map[string]string, len(refs))
	for prop, target := range refs {
		if id, ok := remap[target]; ok {
			target = id
		}
		out[prop] = target
	}
	return out
}
