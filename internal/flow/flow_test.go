package flow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shaiso/Relay/internal/domain"
	"github.com/shaiso/Relay/internal/telemetry"
)

func cfgNode(id string, refs map[string]string) *domain.ConfigNodeSpec {
	return &domain.ConfigNodeSpec{ID: id, Type: "cfg", Z: "f1", Refs: refs}
}

// Config resolution Tests

func TestStart_ConfigOrder(t *testing.T) {
	h := newHarness(t, Settings{})
	def := graph()
	def.Configs["c1"] = cfgNode("c1", map[string]string{"next": "c2"})
	def.Configs["c2"] = cfgNode("c2", map[string]string{"next": "c3"})
	def.Configs["c3"] = cfgNode("c3", nil)
	def.Configs["c4"] = cfgNode("c4", map[string]string{"a": "c3", "b": "c1"})

	f := h.start(t, def)

	created := h.rec.createdIDs()
	if len(created) != 4 {
		t.Fatalf("expected 4 config nodes created once, got %v", created)
	}

	pos := make(map[string]int)
	for i, id := range created {
		if _, dup := pos[id]; dup {
			t.Fatalf("config node %s created twice", id)
		}
		pos[id] = i
	}
	for id, spec := range def.Configs {
		for _, ref := range spec.Refs {
			if pos[ref] > pos[id] {
				t.Errorf("%s created before its dependency %s", id, ref)
			}
		}
	}

	if f.State() != domain.FlowStateRunning {
		t.Errorf("expected RUNNING, got %s", f.State())
	}
}

func TestStart_CircularConfig(t *testing.T) {
	tests := []struct {
		name    string
		configs map[string]*domain.ConfigNodeSpec
	}{
		{
			name: "self reference",
			configs: map[string]*domain.ConfigNodeSpec{
				"a": cfgNode("a", map[string]string{"self": "a"}),
			},
		},
		{
			name: "two nodes",
			configs: map[string]*domain.ConfigNodeSpec{
				"a": cfgNode("a", map[string]string{"x": "b"}),
				"b": cfgNode("b", map[string]string{"x": "a"}),
			},
		},
		{
			name: "three nodes with independent one",
			configs: map[string]*domain.ConfigNodeSpec{
				"a":    cfgNode("a", map[string]string{"x": "b"}),
				"b":    cfgNode("b", map[string]string{"x": "c"}),
				"c":    cfgNode("c", map[string]string{"x": "a"}),
				"free": cfgNode("free", nil),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Settings{})
			def := graph()
			def.Configs = tt.configs

			f := h.rt.Create(nil, def)
			err := f.Start(nil)

			if !errors.Is(err, ErrCircularConfig) {
				t.Fatalf("expected ErrCircularConfig, got %v", err)
			}
			var circErr *CircularConfigError
			if !errors.As(err, &circErr) {
				t.Fatalf("expected *CircularConfigError, got %T", err)
			}
			if circErr.Attempts > DefaultMaxConfigAttempts {
				t.Errorf("attempts %d exceed limit", circErr.Attempts)
			}
			if _, ok := tt.configs[circErr.ID]; !ok || circErr.ID == "free" {
				t.Errorf("unexpected node in error: %s", circErr.ID)
			}
		})
	}
}

func TestStart_CircularConfigCustomLimit(t *testing.T) {
	h := newHarness(t, Settings{MaxConfigAttempts: 3})
	def := graph()
	def.Configs["a"] = cfgNode("a", map[string]string{"x": "b"})
	def.Configs["b"] = cfgNode("b", map[string]string{"x": "a"})

	err := h.rt.Create(nil, def).Start(nil)

	var circErr *CircularConfigError
	if !errors.As(err, &circErr) {
		t.Fatalf("expected *CircularConfigError, got %v", err)
	}
	if circErr.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", circErr.Attempts)
	}
}

func TestStart_ConfigRefOutsideGraph(t *testing.T) {
	h := newHarness(t, Settings{})
	def := graph()
	def.Configs["a"] = cfgNode("a", map[string]string{"broker": "global-broker"})

	h.start(t, def)

	if created := h.rec.createdIDs(); len(created) != 1 || created[0] != "a" {
		t.Errorf("reference outside the graph must not block creation, got %v", created)
	}
}

func TestStart_ConfigDependsOnBroken(t *testing.T) {
	h := newHarness(t, Settings{})
	def := graph(worker("w"))
	def.Configs["a"] = cfgNode("a", map[string]string{"x": "b"})
	def.Configs["b"] = &domain.ConfigNodeSpec{ID: "b", Type: "broken", Z: "f1"}
	def.Configs["c"] = cfgNode("c", map[string]string{"y": "a"})
	def.Configs["d"] = cfgNode("d", nil)

	f := h.rt.Create(nil, def)
	if err := f.Start(nil); err != nil {
		t.Fatalf("a failed dependency is not a cycle: %v", err)
	}
	defer f.Stop(context.Background(), nil, nil)

	for _, id := range []string{"a", "b", "c"} {
		if _, ok := f.GetNode(id); ok {
			t.Errorf("%s must not be active", id)
		}
	}
	if _, ok := f.GetNode("d"); !ok {
		t.Errorf("independent config node d should be active")
	}
	for _, id := range h.rec.createdIDs() {
		if id == "a" || id == "c" {
			t.Errorf("dependent %s must never be constructed", id)
		}
	}
	for _, id := range []string{"a", "c"} {
		events := h.sink.find(telemetry.LevelError, id)
		if len(events) != 1 || !strings.Contains(events[0].Msg, "dependency failed") {
			t.Errorf("expected dependency failure logged for %s, got %+v", id, events)
		}
	}
	if f.State() != domain.FlowStatePartiallyRunning {
		t.Errorf("expected PARTIALLY_RUNNING, got %s", f.State())
	}
}

// Start Tests

func TestStart_ConstructionFailure(t *testing.T) {
	h := newHarness(t, Settings{})
	def := graph(worker("ok"), &domain.NodeSpec{ID: "bad", Type: "broken"}, &domain.NodeSpec{ID: "unknown", Type: "nope"})

	f := h.start(t, def)

	if _, ok := f.GetNode("ok"); !ok {
		t.Errorf("healthy node should be active")
	}
	if _, ok := f.GetNode("bad"); ok {
		t.Errorf("broken node should not be active")
	}
	if f.State() != domain.FlowStatePartiallyRunning {
		t.Errorf("expected PARTIALLY_RUNNING, got %s", f.State())
	}
	if len(h.sink.find(telemetry.LevelError, "bad")) != 1 {
		t.Errorf("expected construction failure to be logged")
	}
	if len(h.sink.find(telemetry.LevelError, "unknown")) != 1 {
		t.Errorf("expected unknown type to be logged")
	}
}

func TestStart_EnvProperties(t *testing.T) {
	h := newHarness(t, Settings{})
	spec := worker("w")
	spec.Props = map[string]any{"host": "$(RELAY_TEST_HOST)", "other": "$(RELAY_TEST_UNSET)"}
	def := graph(spec)

	h.start(t, def)

	props := h.rec.props["w"]
	if props["host"] != "db.internal" {
		t.Errorf("expected mapped env value, got %v", props["host"])
	}
	if props["other"] != "$(RELAY_TEST_UNSET)" {
		t.Errorf("unset variable should stay as is, got %v", props["other"])
	}
	if def.Nodes["w"].Props["host"] != "$(RELAY_TEST_HOST)" {
		t.Errorf("definition must not be modified")
	}
}

func TestStart_Wiring(t *testing.T) {
	h := newHarness(t, Settings{})
	def := graph(worker("a", []string{"b", "c"}), worker("b"), worker("c"))

	f := h.start(t, def)
	mustNode(t, f, "a").Receive(domain.Message{"payload": "hello"})

	for _, id := range []string{"b", "c"} {
		msgs := h.rec.messages(id)
		if len(msgs) != 1 || msgs[0]["payload"] != "hello" {
			t.Errorf("%s: expected one message, got %v", id, msgs)
		}
	}
}

func TestStart_Rewired(t *testing.T) {
	h := newHarness(t, Settings{})
	def := graph(worker("a", []string{"b"}), worker("b"), worker("c"))
	f := h.start(t, def)

	updated := graph(worker("a", []string{"c"}), worker("b"), worker("c"))
	f.Update(nil, updated)
	if err := f.Start(&domain.Diff{Rewired: []string{"a"}}); err != nil {
		t.Fatalf("start: %v", err)
	}

	mustNode(t, f, "a").Receive(domain.Message{})

	if len(h.rec.messages("b")) != 0 {
		t.Errorf("b should no longer be wired")
	}
	if len(h.rec.messages("c")) != 1 {
		t.Errorf("c should receive the message")
	}
	if created := h.rec.createdIDs(); len(created) != 3 {
		t.Errorf("rewiring must not recreate nodes, created %v", created)
	}
}

func TestStart_Idempotent(t *testing.T) {
	h := newHarness(t, Settings{})
	f := h.start(t, graph(worker("a")))

	if err := f.Start(nil); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if created := h.rec.createdIDs(); len(created) != 1 {
		t.Errorf("active nodes must not be recreated, got %v", created)
	}
}

func TestSetParent_Lookup(t *testing.T) {
	h := newHarness(t, Settings{})

	globalDef := &domain.GraphDefinition{
		ID:      "global",
		Configs: map[string]*domain.ConfigNodeSpec{"broker": {ID: "broker", Type: "cfg", Z: "global"}},
	}
	global := h.start(t, globalDef)

	f := h.start(t, graph(worker("a")))
	if _, ok := f.Lookup("broker"); ok {
		t.Fatalf("lookup should fail without parent")
	}

	f.SetParent(global)
	n, ok := f.Lookup("broker")
	if !ok || n.ID() != "broker" {
		t.Errorf("expected lookup to fall through to the global flow")
	}
	if _, ok := f.GetNode("broker"); ok {
		t.Errorf("GetNode must only see this flow's nodes")
	}
}

func TestActiveNodes_IsCopy(t *testing.T) {
	h := newHarness(t, Settings{})
	f := h.start(t, graph(worker("a")))

	nodes := f.ActiveNodes()
	delete(nodes, "a")

	if _, ok := f.GetNode("a"); !ok {
		t.Errorf("modifying the copy must not affect the flow")
	}
}

func TestSettingsFromEnv(t *testing.T) {
	t.Setenv("RELAY_NODE_CLOSE_TIMEOUT_MS", "250")
	t.Setenv("RELAY_CONFIG_MAX_ATTEMPTS", "7")

	s := SettingsFromEnv()
	if s.NodeCloseTimeout.Milliseconds() != 250 {
		t.Errorf("expected 250ms, got %s", s.NodeCloseTimeout)
	}
	if s.MaxConfigAttempts != 7 {
		t.Errorf("expected 7, got %d", s.MaxConfigAttempts)
	}

	t.Setenv("RELAY_NODE_CLOSE_TIMEOUT_MS", "oops")
	t.Setenv("RELAY_CONFIG_MAX_ATTEMPTS", "-1")
	s = SettingsFromEnv()
	if s != DefaultSettings() {
		t.Errorf("invalid values should fall back to defaults, got %+v", s)
	}
}
