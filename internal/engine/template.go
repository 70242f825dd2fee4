package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"text/template"
)

// maxCachedTemplates — предел кэша разобранных шаблонов.
const maxCachedTemplates = 1024

// Context — данные, доступные шаблону в свойстве узла:
//
//	{{ .Msg.payload }}        поле сообщения
//	{{ .Node.ID }}            узел, который рендерит шаблон
//	{{ .Env.REGION }}         переменные окружения и значения config-узла
type Context struct {
	Msg  map[string]any    `json:"msg"`
	Node NodeContext       `json:"node"`
	Env  map[string]string `json:"env"`
}

// NodeContext — данные узла, доступные в шаблоне.
type NodeContext struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Name string `json:"name"`
	Z    string `json:"z"`
}

// NewContext создаёт контекст для сообщения msg.
func NewContext(msg map[string]any) *Context {
	if msg == nil {
		msg = make(map[string]any)
	}
	return &Context{
		Msg: msg,
		Env: make(map[string]string),
	}
}

// WithNode задаёт данные узла.
func (c *Context) WithNode(id, nodeType, name, z string) *Context {
	c.Node = NodeContext{ID: id, Type: nodeType, Name: name, Z: z}
	return c
}

// WithEnv заменяет переменные окружения шаблона. nil оставляет пустой набор.
func (c *Context) WithEnv(env map[string]string) *Context {
	if env != nil {
		c.Env = env
	}
	return c
}

var templateFuncs = template.FuncMap{
	"json":     toJSON,
	"fromJSON": fromJSON,
	"default":  defaultValue,
	"coalesce": coalesce,
	"get":      getPath,
	"join":     join,
	"split": func(sep, s string) []string {
		return strings.Split(s, sep)
	},
	"contains":  strings.Contains,
	"hasPrefix": strings.HasPrefix,
	"hasSuffix": strings.HasSuffix,
	"lower":     strings.ToLower,
	"upper":     strings.ToUpper,
	"trim":      strings.TrimSpace,
	"replace":   strings.ReplaceAll,
}

func toJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func fromJSON(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil
	}
	return v
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

func defaultValue(def, val any) any {
	if isEmpty(val) {
		return def
	}
	return val
}

func coalesce(values ...any) any {
	for _, v := range values {
		if !isEmpty(v) {
			return v
		}
	}
	return nil
}

// getPath достаёт вложенное значение по пути через точку:
// {{ get .Msg "payload.order.id" }}. Отсутствующий путь даёт nil.
func getPath(root any, path string) any {
	cur := root
	for _, key := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		if cur, ok = m[key]; !ok {
			return nil
		}
	}
	return cur
}

// join объединяет элементы []string или []any.
func join(sep string, items any) string {
	switch v := items.(type) {
	case []string:
		return strings.Join(v, sep)
	case []any:
		parts := make([]string, len(v))
		for i, item := range v {
			parts[i] = fmt.Sprint(item)
		}
		return strings.Join(parts, sep)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// templateCache — разобранные шаблоны по исходной строке.
type templateCache struct {
	mu    sync.RWMutex
	items map[string]*template.Template
}

var cache = &templateCache{items: make(map[string]*template.Template)}

func (c *templateCache) get(src string) (*template.Template, error) {
	c.mu.RLock()
	t, ok := c.items[src]
	c.mu.RUnlock()
	if ok {
		return t, nil
	}

	t, err := template.New("").Funcs(templateFuncs).Parse(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTemplateParse, err)
	}

	c.mu.Lock()
	if len(c.items) < maxCachedTemplates {
		c.items[src] = t
	}
	c.mu.Unlock()
	return t, nil
}

// Render рендерит строку с Go template выражениями. Строка без "{{"
// возвращается как есть.
//
//	{{ .Msg.payload }}
//	{{ .Msg.req.headers.host }}
//	{{ if eq .Msg.topic "alerts" }}...{{ end }}
func Render(src string, ctx *Context) (string, error) {
	if !strings.Contains(src, "{{") {
		return src, nil
	}

	t, err := cache.get(src)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateRender, err)
	}
	return buf.String(), nil
}

// RenderCondition вычисляет условие вида `gt .Msg.count 3`.
// Пустое условие истинно.
func RenderCondition(condition string, ctx *Context) (bool, error) {
	if condition == "" {
		return true, nil
	}
	result, err := Render("{{if "+condition+"}}true{{else}}false{{end}}", ctx)
	if err != nil {
		return false, err
	}
	return result == "true", nil
}
