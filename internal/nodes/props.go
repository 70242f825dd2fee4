package nodes

import (
	"time"
)

// GetString извлекает строковое свойство узла.
func GetString(props map[string]any, key string) string {
	if s, ok := props[key].(string); ok {
		return s
	}
	return ""
}

// GetInt извлекает числовое свойство узла.
// Числа из JSON приходят как float64.
func GetInt(props map[string]any, key string) int {
	switch n := props[key].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

// GetBool извлекает булево свойство узла.
func GetBool(props map[string]any, key string, defaultVal bool) bool {
	if b, ok := props[key].(bool); ok {
		return b
	}
	return defaultVal
}

// GetMap извлекает вложенный объект.
func GetMap(props map[string]any, key string) map[string]any {
	if m, ok := props[key].(map[string]any); ok {
		return m
	}
	return nil
}

// GetMapString извлекает объект со строковыми значениями.
// Нестроковые значения пропускаются.
func GetMapString(props map[string]any, key string) map[string]string {
	switch m := props[key].(type) {
	case map[string]string:
		return m
	case map[string]any:
		result := make(map[string]string, len(m))
		for k, val := range m {
			if s, ok := val.(string); ok {
				result[k] = s
			}
		}
		return result
	}
	return nil
}

// GetDuration извлекает длительность из "<prefix>_ms" или "<prefix>_sec".
// Миллисекунды имеют приоритет.
func GetDuration(props map[string]any, prefix string) time.Duration {
	if ms := GetInt(props, prefix+"_ms"); ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	if sec := GetInt(props, prefix+"_sec"); sec > 0 {
		return time.Duration(sec) * time.Second
	}
	return 0
}
