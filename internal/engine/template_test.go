package engine

import (
	"errors"
	"testing"
)

func TestNewContext(t *testing.T) {
	ctx := NewContext(nil)
	if ctx.Msg == nil || ctx.Env == nil {
		t.Fatal("Msg and Env should be initialized")
	}

	ctx = NewContext(map[string]any{"payload": "value"}).WithEnv(nil)
	if ctx.Msg["payload"] != "value" {
		t.Error("Msg should contain provided values")
	}
	if ctx.Env == nil {
		t.Error("WithEnv(nil) must keep an empty map")
	}
}

func TestRender_NodeAndEnv(t *testing.T) {
	ctx := NewContext(nil).
		WithNode("n1", "debug", "printer", "flow1").
		WithEnv(map[string]string{"REGION": "eu"})

	result, err := Render("{{ .Node.Name }}@{{ .Node.Z }}/{{ .Env.REGION }}", ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "printer@flow1/eu" {
		t.Errorf("expected %q, got %q", "printer@flow1/eu", result)
	}
}

func TestRender(t *testing.T) {
	ctx := NewContext(map[string]any{
		"topic":   "orders/new",
		"count":   42,
		"text":    "Hello World",
		"tags":    []any{"a", 1, true},
		"names":   []string{"x", "y"},
		"payload": map[string]any{"order": map[string]any{"id": "o-7"}},
		"empty":   "",
	})

	tests := []struct {
		name     string
		template string
		expected string
	}{
		{name: "plain text", template: "no braces here", expected: "no braces here"},
		{name: "message field", template: "topic={{ .Msg.topic }}", expected: "topic=orders/new"},
		{name: "number", template: "{{ .Msg.count }}", expected: "42"},
		{name: "nested path", template: `{{ get .Msg "payload.order.id" }}`, expected: "o-7"},
		{name: "missing path", template: `{{ get .Msg "payload.nope.id" | default "none" }}`, expected: "none"},
		{name: "lower", template: "{{ lower .Msg.text }}", expected: "hello world"},
		{name: "upper", template: "{{ upper .Msg.text }}", expected: "HELLO WORLD"},
		{name: "contains", template: `{{ contains .Msg.text "World" }}`, expected: "true"},
		{name: "hasPrefix", template: `{{ hasPrefix .Msg.topic "orders/" }}`, expected: "true"},
		{name: "replace", template: `{{ replace .Msg.topic "/" "." }}`, expected: "orders.new"},
		{name: "split and join", template: `{{ join "-" (split "/" .Msg.topic) }}`, expected: "orders-new"},
		{name: "join any", template: `{{ join "," .Msg.tags }}`, expected: "a,1,true"},
		{name: "join strings", template: `{{ join "+" .Msg.names }}`, expected: "x+y"},
		{name: "default with value", template: `{{ default "fallback" .Msg.text }}`, expected: "Hello World"},
		{name: "default with empty", template: `{{ default "fallback" .Msg.empty }}`, expected: "fallback"},
		{name: "coalesce", template: `{{ coalesce .Msg.missing .Msg.empty .Msg.topic }}`, expected: "orders/new"},
		{name: "json", template: `{{ json .Msg.names }}`, expected: `["x","y"]`},
		{name: "fromJSON", template: `{{ (fromJSON "{\"a\":5}").a }}`, expected: "5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Render(tt.template, ctx)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, result)
			}
		})
	}
}

func TestRender_Errors(t *testing.T) {
	tests := []struct {
		name     string
		template string
		want     error
	}{
		{name: "parse", template: "{{ .Msg.x", want: ErrTemplateParse},
		{name: "unknown function", template: "{{ nope .Msg.x }}", want: ErrTemplateParse},
		{name: "execute", template: "{{ .Msg.count.field }}", want: ErrTemplateRender},
	}

	ctx := NewContext(map[string]any{"count": 1})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Render(tt.template, ctx); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestRender_CachedTemplateSeesNewMessage(t *testing.T) {
	const tmpl = "{{ .Msg.payload }}"
	for _, payload := range []string{"first", "second"} {
		got, err := Render(tmpl, NewContext(map[string]any{"payload": payload}))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != payload {
			t.Errorf("expected %q, got %q", payload, got)
		}
	}
}

func TestRenderCondition(t *testing.T) {
	ctx := NewContext(map[string]any{
		"enabled": true,
		"count":   5,
		"topic":   "metrics",
	})

	tests := []struct {
		condition string
		expected  bool
	}{
		{condition: "", expected: true},
		{condition: ".Msg.enabled", expected: true},
		{condition: "gt .Msg.count 3", expected: true},
		{condition: "gt .Msg.count 10", expected: false},
		{condition: `eq .Msg.topic "alerts"`, expected: false},
		{condition: `and .Msg.enabled (hasPrefix .Msg.topic "met")`, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.condition, func(t *testing.T) {
			result, err := RenderCondition(tt.condition, ctx)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}
		})
	}
}

func TestRenderCondition_Invalid(t *testing.T) {
	if _, err := RenderCondition("gt .Msg.count", NewContext(nil)); err == nil {
		t.Error("expected error for incomplete condition")
	}
}
