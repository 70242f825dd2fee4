package repo

import (
	"context"
	"errors"
	"testing"
)

func TestDecodeDefinition(t *testing.T) {
	def, err := decodeDefinition([]byte(`{
		"id": "f1",
		"label": "orders",
		"nodes": {"a": {"id": "a", "type": "debug", "wires": [["b"]]}}
	}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if def.ID != "f1" || def.Label != "orders" {
		t.Errorf("unexpected definition %+v", def)
	}
	if n := def.Nodes["a"]; n == nil || n.Type != "debug" || n.Wires[0][0] != "b" {
		t.Errorf("unexpected node %+v", n)
	}
}

func TestDecodeDefinition_Invalid(t *testing.T) {
	if _, err := decodeDefinition([]byte(`{"id": 1}`)); err == nil {
		t.Errorf("expected error for wrong id type")
	}
}

func TestSave_RequiresID(t *testing.T) {
	r := NewFlowRepo(nil)
	if _, err := r.Save(context.Background(), nil); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}
}
