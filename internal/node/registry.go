package node

import (
	"fmt"
	"sort"
	"sync"
)

// Registry — реестр типов узлов.
//
// Позволяет регистрировать и получать конструкторы узлов по типу.
// Потокобезопасен.
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{
		ctors: make(map[string]Constructor),
	}
}

// Register регистрирует конструктор типа.
// Если тип уже зарегистрирован, конструктор будет перезаписан.
func (r *Registry) Register(nodeType string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctors[nodeType] = ctor
}

// Get возвращает конструктор по типу.
// Возвращает ErrTypeNotFound, если тип не зарегистрирован.
func (r *Registry) Get(nodeType string) (Constructor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ctor, exists := r.ctors[nodeType]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrTypeNotFound, nodeType)
	}

	return ctor, nil
}

// Construct находит конструктор по cfg.Spec.Type и создаёт узел.
// Паника конструктора превращается в ErrConstructPanic.
func (r *Registry) Construct(cfg Config) (n Node, err error) {
	ctor, err := r.Get(cfg.Spec.Type)
	if err != nil {
		return nil, err
	}

	defer func() {
		if rec := recover(); rec != nil {
			n = nil
			err = fmt.Errorf("%w: %s: %v", ErrConstructPanic, cfg.Spec.Type, rec)
		}
	}()

	n, err = ctor(cfg)
	if err == nil && n == nil {
		err = fmt.Errorf("%w: %s: constructor returned no node", ErrInvalidConfig, cfg.Spec.Type)
	}
	return n, err
}

// Has проверяет, зарегистрирован ли тип.
func (r *Registry) Has(nodeType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.ctors[nodeType]
	return exists
}

// Types возвращает список всех зарегистрированных типов.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.ctors))
	for t := range r.ctors {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Count возвращает количество зарегистрированных типов.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ctors)
}
