package engine

import (
	"encoding/json"
	"fmt"

	"github.com/shaiso/Relay/internal/domain"
)

// Parse парсит GraphDefinition из JSON.
//
// Пустые map инициализируются, чтобы движку не приходилось проверять nil.
// Если у узла не задан scope (z), он принадлежит flow верхнего уровня.
func Parse(data []byte) (*domain.GraphDefinition, error) {
	var def domain.GraphDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse graph definition: %w", err)
	}
	Normalize(&def)
	return &def, nil
}

// Normalize заполняет значения по умолчанию.
func Normalize(def *domain.GraphDefinition) {
	if def.Configs == nil {
		def.Configs = make(map[string]*domain.ConfigNodeSpec)
	}
	if def.Nodes == nil {
		def.Nodes = make(map[string]*domain.NodeSpec)
	}
	if def.Subflows == nil {
		def.Subflows = make(map[string]*domain.SubflowTemplate)
	}

	for id, c := range def.Configs {
		if c.ID == "" {
			c.ID = id
		}
		if c.Z == "" {
			c.Z = def.ID
		}
	}
	for id, n := range def.Nodes {
		if n.ID == "" {
			n.ID = id
		}
		if n.Z == "" {
			n.Z = def.ID
		}
		if n.IsSubflowInstance() && n.Type == "" {
			n.Type = domain.SubflowTypePrefix + n.Subflow
		}
		if !n.IsSubflowInstance() {
			if tmplID, ok := domain.TemplateIDFromType(n.Type); ok {
				n.Subflow = tmplID
			}
		}
	}
	for id, sf := range def.Subflows {
		if sf.ID == "" {
			sf.ID = id
		}
		if sf.Configs == nil {
			sf.Configs = make(map[string]*domain.ConfigNodeSpec)
		}
		if sf.Nodes == nil {
			sf.Nodes = make(map[string]*domain.NodeSpec)
		}
		for cid, c := range sf.Configs {
			if c.ID == "" {
				c.ID = cid
			}
		}
		for nid, n := range sf.Nodes {
			if n.ID == "" {
				n.ID = nid
			}
			if !n.IsSubflowInstance() {
				if tmplID, ok := domain.TemplateIDFromType(n.Type); ok {
					n.Subflow = tmplID
				}
			}
		}
	}
}

// SetID меняет ID графа. Узлы верхнего уровня, принадлежавшие старому
// ID, переносятся в новый.
func SetID(def *domain.GraphDefinition, id string) {
	old := def.ID
	def.ID = id
	for _, c := range def.Configs {
		if c.Z == old {
			c.Z = id
		}
	}
	for _, n := range def.Nodes {
		if n.Z == old {
			n.Z = id
		}
	}
	Normalize(def)
}

// Validate выполняет полную валидацию GraphDefinition.
//
// global — глобальный граф (может быть nil): его config-узлы и шаблоны
// доступны узлам flow.
//
// Проверяет:
// - Наличие ID и типа у каждого узла
// - Уникальность ID среди config-узлов, узлов и шаблонов
// - Существование шаблонов для экземпляров subflow
// - Существование целей wires и ссылок refs
// - Корректность портов шаблонов и отсутствие рекурсивной вложенности
func Validate(def, global *domain.GraphDefinition) error {
	if def == nil {
		return ErrEmptyGraph
	}

	ids := make(map[string]bool)

	for _, id := range domain.SortedKeys(def.Configs) {
		if err := validateConfig(id, def.Configs[id], ids); err != nil {
			return err
		}
	}
	for _, id := range domain.SortedKeys(def.Nodes) {
		if err := validateNode(id, def.Nodes[id], ids); err != nil {
			return err
		}
	}

	lookupTemplate := func(id string) (*domain.SubflowTemplate, bool) {
		if sf, ok := def.Subflows[id]; ok {
			return sf, true
		}
		if global != nil {
			sf, ok := global.Subflows[id]
			return sf, ok
		}
		return nil, false
	}
	isConfig := func(id string) bool {
		if _, ok := def.Configs[id]; ok {
			return true
		}
		if global != nil {
			_, ok := global.Configs[id]
			return ok
		}
		return false
	}

	for _, id := range domain.SortedKeys(def.Configs) {
		if err := validateRefs(id, def.Configs[id].Refs, isConfig); err != nil {
			return err
		}
	}
	for _, id := range domain.SortedKeys(def.Nodes) {
		n := def.Nodes[id]
		if err := validateRefs(id, n.Refs, isConfig); err != nil {
			return err
		}
		if err := validateWires(n, func(target string) bool { _, ok := def.Nodes[target]; return ok }); err != nil {
			return err
		}
		if n.IsSubflowInstance() {
			if _, ok := lookupTemplate(n.Subflow); !ok {
				return NewValidationError(id, "subflow",
					fmt.Sprintf("unknown subflow template: %s", n.Subflow), ErrUnknownSubflow)
			}
		}
	}

	for _, id := range domain.SortedKeys(def.Subflows) {
		sf := def.Subflows[id]
		if sf.ID != id {
			return NewValidationError(id, "id", "subflow ID does not match its key", ErrIDMismatch)
		}
		if ids[id] {
			return NewValidationError(id, "id",
				fmt.Sprintf("duplicate node ID: %s", id), ErrDuplicateNodeID)
		}
		ids[id] = true
		if err := validateTemplate(sf, lookupTemplate, isConfig); err != nil {
			return err
		}
		if err := checkTemplateRecursion(sf, lookupTemplate, map[string]bool{}); err != nil {
			return err
		}
	}

	return nil
}

// validateConfig валидирует один config-узел.
func validateConfig(key string, c *domain.ConfigNodeSpec, ids map[string]bool) error {
	if c == nil || c.ID == "" {
		return NewValidationError(key, "id", "config node has empty ID", ErrEmptyNodeID)
	}
	if c.ID != key {
		return NewValidationError(key, "id",
			fmt.Sprintf("config node ID %s does not match key", c.ID), ErrIDMismatch)
	}
	if c.Type == "" {
		return NewValidationError(key, "type", "config node has empty type", ErrEmptyNodeType)
	}
	if ids[key] {
		return NewValidationError(key, "id",
			fmt.Sprintf("duplicate node ID: %s", key), ErrDuplicateNodeID)
	}
	ids[key] = true
	return nil
}

// validateNode валидирует один узел.
func validateNode(key string, n *domain.NodeSpec, ids map[string]bool) error {
	if n == nil || n.ID == "" {
		return NewValidationError(key, "id", "node has empty ID", ErrEmptyNodeID)
	}
	if n.ID != key {
		return NewValidationError(key, "id",
			fmt.Sprintf("node ID %s does not match key", n.ID), ErrIDMismatch)
	}
	if n.Type == "" {
		return NewValidationError(key, "type", "node has empty type", ErrEmptyNodeType)
	}
	if ids[key] {
		return NewValidationError(key, "id",
			fmt.Sprintf("duplicate node ID: %s", key), ErrDuplicateNodeID)
	}
	ids[key] = true
	return nil
}

// validateRefs проверяет, что все refs указывают на config-узлы.
func validateRefs(nodeID string, refs map[string]string, isConfig func(string) bool) error {
	for _, prop := range domain.SortedKeys(refs) {
		target := refs[prop]
		if !isConfig(target) {
			return NewValidationError(nodeID, "refs."+prop,
				fmt.Sprintf("reference to unknown config node: %s", target), ErrUnknownReference)
		}
	}
	return nil
}

// validateWires проверяет, что все wires ведут на существующие узлы.
func validateWires(n *domain.NodeSpec, exists func(string) bool) error {
	for port, targets := range n.Wires {
		for _, target := range targets {
			if !exists(target) {
				return NewValidationError(n.ID, "wires",
					fmt.Sprintf("port %d wired to unknown node: %s", port, target), ErrUnknownWireTarget)
			}
		}
	}
	return nil
}

// validateTemplate валидирует узлы и порты шаблона.
func validateTemplate(
	sf *domain.SubflowTemplate,
	lookupTemplate func(string) (*domain.SubflowTemplate, bool),
	isGlobalConfig func(string) bool,
) error {
	ids := make(map[string]bool)
	for _, id := range domain.SortedKeys(sf.Configs) {
		if err := validateConfig(id, sf.Configs[id], ids); err != nil {
			return err
		}
	}
	for _, id := range domain.SortedKeys(sf.Nodes) {
		if err := validateNode(id, sf.Nodes[id], ids); err != nil {
			return err
		}
	}

	isConfig := func(id string) bool {
		if _, ok := sf.Configs[id]; ok {
			return true
		}
		return isGlobalConfig(id)
	}
	member := func(id string) bool {
		_, ok := sf.Nodes[id]
		return ok
	}

	for _, id := range domain.SortedKeys(sf.Configs) {
		if err := validateRefs(id, sf.Configs[id].Refs, isConfig); err != nil {
			return err
		}
	}
	for _, id := range domain.SortedKeys(sf.Nodes) {
		n := sf.Nodes[id]
		if err := validateRefs(id, n.Refs, isConfig); err != nil {
			return err
		}
		if err := validateWires(n, member); err != nil {
			return err
		}
		if n.IsSubflowInstance() {
			if _, ok := lookupTemplate(n.Subflow); !ok {
				return NewValidationError(id, "subflow",
					fmt.Sprintf("unknown subflow template: %s", n.Subflow), ErrUnknownSubflow)
			}
		}
	}

	for i, in := range sf.In {
		for _, w := range in.Wires {
			if !member(w.ID) {
				return NewValidationError(sf.ID, "in",
					fmt.Sprintf("input %d wired to unknown node: %s", i, w.ID), ErrInvalidPort)
			}
		}
	}
	for i, out := range sf.Out {
		for _, w := range out.Wires {
			if w.ID == sf.ID {
				if w.Port < 0 || w.Port >= len(sf.In) {
					return NewValidationError(sf.ID, "out",
						fmt.Sprintf("output %d sourced from unknown input %d", i, w.Port), ErrInvalidPort)
				}
				continue
			}
			if !member(w.ID) {
				return NewValidationError(sf.ID, "out",
					fmt.Sprintf("output %d sourced from unknown node: %s", i, w.ID), ErrInvalidPort)
			}
			if w.Port < 0 {
				return NewValidationError(sf.ID, "out",
					fmt.Sprintf("output %d has negative port", i), ErrInvalidPort)
			}
		}
	}

	return nil
}

// checkTemplateRecursion ищет шаблон, который через вложенные экземпляры содержит сам себя.
func checkTemplateRecursion(
	sf *domain.SubflowTemplate,
	lookupTemplate func(string) (*domain.SubflowTemplate, bool),
	path map[string]bool,
) error {
	if path[sf.ID] {
		return NewValidationError(sf.ID, "nodes",
			fmt.Sprintf("subflow %s contains itself", sf.ID), ErrRecursiveSubflow)
	}
	path[sf.ID] = true
	defer delete(path, sf.ID)

	for _, id := range domain.SortedKeys(sf.Nodes) {
		n := sf.Nodes[id]
		if !n.IsSubflowInstance() {
			continue
		}
		nested, ok := lookupTemplate(n.Subflow)
		if !ok {
			continue
		}
		if err := checkTemplateRecursion(nested, lookupTemplate, path); err != nil {
			return err
		}
	}
	return nil
}
