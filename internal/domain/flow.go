package domain

import (
	"maps"
	"slices"
	"strings"
)

// SubflowTypePrefix — префикс типа узла-экземпляра subflow ("subflow:<template id>").
const SubflowTypePrefix = "subflow:"

// GraphDefinition — декларативное описание одного flow (или глобального графа).
//
// GraphDefinition загружается снаружи (repo, файл) и для движка
// доступна только на чтение. При redeploy подаётся целиком заново.
type GraphDefinition struct {
	// ID — идентификатор flow (вкладки). Является scope верхнего уровня.
	ID string `json:"id"`

	// Label — человекочитаемое имя flow.
	Label string `json:"label,omitempty"`

	// Configs — конфигурационные узлы (id → spec).
	Configs map[string]*ConfigNodeSpec `json:"configs,omitempty"`

	// Nodes — обычные узлы и экземпляры subflow (id → spec).
	Nodes map[string]*NodeSpec `json:"nodes,omitempty"`

	// Subflows — переиспользуемые шаблоны подграфов (id → template).
	Subflows map[string]*SubflowTemplate `json:"subflows,omitempty"`
}

// NodeSpec — определение обрабатывающего узла.
type NodeSpec struct {
	// ID — уникальный идентификатор узла.
	ID string `json:"id"`

	// Type — имя типа узла в TypeRegistry.
	Type string `json:"type"`

	// Name — человекочитаемое имя.
	Name string `json:"name,omitempty"`

	// Z — scope: flow или экземпляр subflow, которому принадлежит узел.
	Z string `json:"z,omitempty"`

	// Wires — выходные порты; каждый порт — упорядоченный список ID получателей.
	Wires [][]string `json:"wires,omitempty"`

	// Subflow — ID шаблона. Непустой только у экземпляров subflow.
	Subflow string `json:"subflow,omitempty"`

	// Props — произвольные свойства узла (зависят от типа).
	Props map[string]any `json:"props,omitempty"`

	// Refs — явные ссылки на конфигурационные узлы (имя свойства → ID).
	Refs map[string]string `json:"refs,omitempty"`

	// Scope — для catch/status: список ID узлов, события которых принимаются.
	// Пустой список — принимаются события любых узлов своего scope.
	Scope []string `json:"scope,omitempty"`
}

// IsSubflowInstance возвращает true для экземпляра subflow.
func (n *NodeSpec) IsSubflowInstance() bool {
	return n.Subflow != ""
}

// Clone возвращает глубокую копию spec.
func (n *NodeSpec) Clone() *NodeSpec {
	if n == nil {
		return nil
	}
	c := *n
	c.Wires = CloneWires(n.Wires)
	c.Props = CloneValue(n.Props).(map[string]any)
	c.Refs = maps.Clone(n.Refs)
	c.Scope = slices.Clone(n.Scope)
	return &c
}

// ConfigNodeSpec — определение конфигурационного узла.
//
// Конфигурационные узлы не участвуют в передаче сообщений:
// они хранят общие настройки (подключения, брокеры) для других узлов.
type ConfigNodeSpec struct {
	ID    string            `json:"id"`
	Type  string            `json:"type"`
	Name  string            `json:"name,omitempty"`
	Z     string            `json:"z,omitempty"`
	Props map[string]any    `json:"props,omitempty"`
	Refs  map[string]string `json:"refs,omitempty"`
}

// Clone возвращает глубокую копию spec.
func (c *ConfigNodeSpec) Clone() *ConfigNodeSpec {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Props = CloneValue(c.Props).(map[string]any)
	cp.Refs = maps.Clone(c.Refs)
	return &cp
}

// AsNodeSpec представляет конфигурационный узел как NodeSpec без wires.
// Используется при конструировании: конструкторы получают единый формат.
func (c *ConfigNodeSpec) AsNodeSpec() *NodeSpec {
	return &NodeSpec{
		ID:    c.ID,
		Type:  c.Type,
		Name:  c.Name,
		Z:     c.Z,
		Props: c.Props,
		Refs:  c.Refs,
	}
}

// SubflowTemplate — переиспользуемый шаблон подграфа.
type SubflowTemplate struct {
	// ID — идентификатор шаблона.
	ID string `json:"id"`

	// Name — имя шаблона.
	Name string `json:"name,omitempty"`

	// In — входные порты: какие внутренние узлы получают входящие сообщения.
	In []Port `json:"in,omitempty"`

	// Out — выходные порты: какой внутренний узел/порт (или вход шаблона) их питает.
	Out []Port `json:"out,omitempty"`

	// Configs — конфигурационные узлы шаблона.
	Configs map[string]*ConfigNodeSpec `json:"configs,omitempty"`

	// Nodes — узлы шаблона (могут быть экземплярами других шаблонов).
	Nodes map[string]*NodeSpec `json:"nodes,omitempty"`
}

// Port — порт шаблона subflow.
type Port struct {
	Wires []PortWire `json:"wires,omitempty"`
}

// PortWire — одна связь порта шаблона.
//
// Для входного порта Port не используется.
// Для выходного порта ID == ID шаблона означает, что источник — сам вход шаблона.
type PortWire struct {
	ID   string `json:"id"`
	Port int    `json:"port,omitempty"`
}

// Diff — изменения между двумя версиями графа, применяемые при redeploy.
type Diff struct {
	// Added — новые узлы.
	Added []string `json:"added,omitempty"`

	// Changed — узлы, требующие пересоздания.
	Changed []string `json:"changed,omitempty"`

	// Removed — удалённые узлы.
	Removed []string `json:"removed,omitempty"`

	// Rewired — узлы, у которых изменились только wires.
	Rewired []string `json:"rewired,omitempty"`
}

// IsEmpty возвращает true, если изменений нет.
func (d *Diff) IsEmpty() bool {
	return d == nil || len(d.Added)+len(d.Changed)+len(d.Removed)+len(d.Rewired) == 0
}

// SortedKeys возвращает ключи map в отсортированном порядке.
// Map в Go не упорядочены, а движку нужен детерминированный порядок создания.
func SortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}

// TemplateIDFromType извлекает ID шаблона из типа "subflow:<id>".
func TemplateIDFromType(nodeType string) (string, bool) {
	return strings.CutPrefix(nodeType, SubflowTypePrefix)
}

// CloneWires возвращает глубокую копию wires.
func CloneWires(wires [][]string) [][]string {
	if wires == nil {
		return nil
	}
	out := make([][]string, len(wires))
	for i, port := range wires {
		out[i] = slices.Clone(port)
		if out[i] == nil {
			out[i] = []string{}
		}
	}
	return out
}
