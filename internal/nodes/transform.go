package nodes

import (
	"encoding/json"
	"fmt"

	"github.com/shaiso/Relay/internal/domain"
	"github.com/shaiso/Relay/internal/engine"
	"github.com/shaiso/Relay/internal/node"
)

// Transform задаёт свойства сообщения из Go templates.
//
// Свойства:
//
//	{
//	    "condition": "eq .Msg.topic \"orders\"",
//	    "mappings": {
//	        "payload": "{{ .Msg.payload.total }}",
//	        "topic": "{{ .Env.REGION }}/orders"
//	    }
//	}
//
// Ссылка refs.config на узел типа "config" добавляет его строковые
// значения в .Env (поверх переменных окружения).
//
// Результат рендеринга, похожий на JSON (объект, массив, число, bool),
// разбирается. Если condition ложно, сообщение уходит на второй выход
// (если он подключён), иначе отбрасывается.
type Transform struct {
	*node.Base
	condition string
	mappings  map[string]string
	env       map[string]string
}

// NewTransform — конструктор типа "transform".
func NewTransform(cfg node.Config) (node.Node, error) {
	props := cfg.Spec.Props
	t := &Transform{
		Base:      node.NewBase(cfg),
		condition: GetString(props, "condition"),
		mappings:  GetMapString(props, "mappings"),
		env:       engine.Environ(),
	}
	if len(t.mappings) == 0 && t.condition == "" {
		return nil, fmt.Errorf("%w: transform: mappings or condition required", node.ErrInvalidConfig)
	}
	if ref := cfg.Spec.Refs["config"]; ref != "" {
		shared, err := node.Resolve[*Config](cfg.Host, ref)
		if err != nil {
			return nil, fmt.Errorf("transform: %w", err)
		}
		for key, v := range shared.Values() {
			if s, ok := v.(string); ok {
				t.env[key] = s
			}
		}
	}
	t.OnInput(t.input)
	return t, nil
}

func (t *Transform) input(msg domain.Message) error {
	ctx := engine.NewContext(msg).WithNode(t.ID(), t.Type(), t.Name(), t.Z()).WithEnv(t.env)

	ok, err := engine.RenderCondition(t.condition, ctx)
	if err != nil {
		return fmt.Errorf("transform condition: %w", err)
	}
	if !ok {
		t.Send(nil, msg)
		return nil
	}

	// Все значения считаются от исходного сообщения, затем применяются.
	values := make(map[string]any, len(t.mappings))
	for _, key := range domain.SortedKeys(t.mappings) {
		rendered, err := engine.Render(t.mappings[key], ctx)
		if err != nil {
			return fmt.Errorf("transform %s: %w", key, err)
		}
		values[key] = parseValue(rendered)
	}
	for key, v := range values {
		msg[key] = v
	}

	t.Send(msg)
	return nil
}

// parseValue разбирает строку как JSON-значение.
// Если не получается — возвращает строку как есть.
func parseValue(value string) any {
	var obj map[string]any
	if err := json.Unmarshal([]byte(value), &obj); err == nil {
		return obj
	}

	var arr []any
	if err := json.Unmarshal([]byte(value), &arr); err == nil {
		return arr
	}

	var num json.Number
	if err := json.Unmarshal([]byte(value), &num); err == nil {
		if i, err := num.Int64(); err == nil {
			return i
		}
		if f, err := num.Float64(); err == nil {
			return f
		}
	}

	switch value {
	case "true":
		return true
	case "false":
		return false
	}
	return value
}
