package engine

import (
	"os"
	"regexp"
	"strings"
)

// envPropertyRe — значение свойства вида "$(NAME)".
var envPropertyRe = regexp.MustCompile(`^\$\(([a-zA-Z_][a-zA-Z0-9_]*)\)$`)

// LookupFunc ищет переменную окружения.
type LookupFunc func(name string) (string, bool)

// OSLookup — LookupFunc поверх os.LookupEnv.
var OSLookup LookupFunc = os.LookupEnv

// MapEnvProperties подставляет переменные окружения в свойства узла.
//
// Заменяются только строки, целиком состоящие из "$(NAME)", и только если
// переменная задана. Вложенные map и слайсы обрабатываются рекурсивно.
// props изменяется на месте: вызывающий передаёт копию spec.
func MapEnvProperties(props map[string]any, lookup LookupFunc) {
	if lookup == nil {
		lookup = OSLookup
	}
	for key, val := range props {
		props[key] = mapEnvValue(val, lookup)
	}
}

func mapEnvValue(value any, lookup LookupFunc) any {
	switch v := value.(type) {
	case string:
		m := envPropertyRe.FindStringSubmatch(v)
		if m == nil {
			return v
		}
		if env, ok := lookup(m[1]); ok {
			return env
		}
		return v
	case map[string]any:
		for key, val := range v {
			v[key] = mapEnvValue(val, lookup)
		}
		return v
	case []any:
		for i, val := range v {
			v[i] = mapEnvValue(val, lookup)
		}
		return v
	default:
		return value
	}
}

// Environ возвращает окружение процесса в виде map (для шаблонов {{ .Env.NAME }}).
func Environ() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}
