package nodes

import (
	"github.com/shaiso/Relay/internal/domain"
	"github.com/shaiso/Relay/internal/node"
)

// Config — config-узел с набором значений, общих для нескольких узлов.
//
// Другие узлы находят его через refs и node.Resolve[*nodes.Config].
// Значения — свойства узла после подстановки переменных окружения.
type Config struct {
	*node.Base
	values map[string]any
}

// NewConfig — конструктор типа "config".
func NewConfig(cfg node.Config) (node.Node, error) {
	return &Config{
		Base:   node.NewBase(cfg),
		values: domain.CloneValue(cfg.Spec.Props).(map[string]any),
	}, nil
}

// Value возвращает копию значения по ключу.
func (c *Config) Value(key string) (any, bool) {
	v, ok := c.values[key]
	return domain.CloneValue(v), ok
}

// Values возвращает копию всех значений.
func (c *Config) Values() map[string]any {
	return domain.CloneValue(c.values).(map[string]any)
}
