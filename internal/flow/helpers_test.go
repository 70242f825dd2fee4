package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shaiso/Relay/internal/domain"
	"github.com/shaiso/Relay/internal/node"
	"github.com/shaiso/Relay/internal/telemetry"
)

// recorder запоминает всё, что происходит с тестовыми узлами.
type recorder struct {
	mu       sync.Mutex
	created  []string
	received map[string][]domain.Message
	closed   map[string]bool // id → removed
	props    map[string]map[string]any
	refs     map[string]map[string]string

	// release разблокирует узлы с "close_block".
	release chan struct{}
}

func newRecorder(t *testing.T) *recorder {
	rec := &recorder{
		received: make(map[string][]domain.Message),
		closed:   make(map[string]bool),
		props:    make(map[string]map[string]any),
		refs:     make(map[string]map[string]string),
		release:  make(chan struct{}),
	}
	t.Cleanup(func() { close(rec.release) })
	return rec
}

func (r *recorder) onCreate(spec *domain.NodeSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, spec.ID)
	r.props[spec.ID] = spec.Props
	r.refs[spec.ID] = spec.Refs
}

func (r *recorder) onReceive(id string, msg domain.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.received[id] = append(r.received[id], msg)
}

func (r *recorder) onClose(id string, removed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed[id] = removed
}

func (r *recorder) messages(id string) []domain.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Message(nil), r.received[id]...)
}

func (r *recorder) createdIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.created...)
}

func (r *recorder) closedIDs() map[string]bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]bool, len(r.closed))
	for k, v := range r.closed {
		out[k] = v
	}
	return out
}

// testNode — тестовый узел с поддержкой списка источников.
type testNode struct {
	*node.Base
	sources []string
}

func (n *testNode) Sources() []string { return n.sources }

// testRegistry регистрирует тестовые типы.
//
// Все типы, кроме "broken", пересылают сообщение дальше. Свойства:
//   - "fail": текст ошибки, которую узел возвращает на каждое сообщение
//   - "close_delay_ms": задержка Close
//   - "close_block": Close ждёт окончания теста, игнорируя ctx
func testRegistry(rec *recorder) *node.Registry {
	r := node.NewRegistry()

	ctor := func(cfg node.Config) (node.Node, error) {
		spec := cfg.Spec
		n := &testNode{Base: node.NewBase(cfg), sources: spec.Scope}
		rec.onCreate(spec)

		n.OnInput(func(msg domain.Message) error {
			rec.onReceive(spec.ID, msg)
			if fail, _ := spec.Props["fail"].(string); fail != "" {
				return errors.New(fail)
			}
			n.Send(msg)
			return nil
		})
		n.OnClose(func(ctx context.Context, removed bool) error {
			if block, _ := spec.Props["close_block"].(bool); block {
				<-rec.release
				return nil
			}
			if ms, ok := spec.Props["close_delay_ms"].(int); ok {
				select {
				case <-time.After(time.Duration(ms) * time.Millisecond):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			rec.onClose(spec.ID, removed)
			return nil
		})
		return n, nil
	}

	for _, typ := range []string{"worker", "cfg", node.TypeCatch, node.TypeStatus} {
		r.Register(typ, ctor)
	}
	r.Register("broken", func(node.Config) (node.Node, error) {
		return nil, errors.New("cannot build")
	})
	return r
}

// seqIDs выдаёт предсказуемые ID.
type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("gen-%d", s.n)
}

// memorySink собирает события журнала.
type memorySink struct {
	mu     sync.Mutex
	events []telemetry.Event
}

func (s *memorySink) Record(e telemetry.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *memorySink) find(level telemetry.Level, id string) []telemetry.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []telemetry.Event
	for _, e := range s.events {
		if e.Level == level && (id == "" || e.ID == id) {
			out = append(out, e)
		}
	}
	return out
}

// harness — Runtime с тестовыми зависимостями.
type harness struct {
	rt   *Runtime
	rec  *recorder
	sink *memorySink
}

func newHarness(t *testing.T, settings Settings) *harness {
	rec := newRecorder(t)
	sink := &memorySink{}
	rt := Init(settings, Deps{
		Registry: testRegistry(rec),
		Sink:     sink,
		IDs:      &seqIDs{},
		Env: func(name string) (string, bool) {
			if name == "RELAY_TEST_HOST" {
				return "db.internal", true
			}
			return "", false
		},
	})
	return &harness{rt: rt, rec: rec, sink: sink}
}

func (h *harness) start(t *testing.T, def *domain.GraphDefinition) *Flow {
	t.Helper()
	f := h.rt.Create(nil, def)
	if err := f.Start(nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { f.Stop(context.Background(), nil, nil) })
	return f
}

// graph строит GraphDefinition flow "f1".
func graph(nodes ...*domain.NodeSpec) *domain.GraphDefinition {
	def := &domain.GraphDefinition{
		ID:       "f1",
		Configs:  make(map[string]*domain.ConfigNodeSpec),
		Nodes:    make(map[string]*domain.NodeSpec),
		Subflows: make(map[string]*domain.SubflowTemplate),
	}
	for _, n := range nodes {
		if n.Z == "" {
			n.Z = def.ID
		}
		def.Nodes[n.ID] = n
	}
	return def
}

func worker(id string, wires ...[]string) *domain.NodeSpec {
	return &domain.NodeSpec{ID: id, Type: "worker", Wires: wires}
}

func catchNode(id string, scope ...string) *domain.NodeSpec {
	return &domain.NodeSpec{ID: id, Type: node.TypeCatch, Scope: scope}
}

func statusNode(id string, scope ...string) *domain.NodeSpec {
	return &domain.NodeSpec{ID: id, Type: node.TypeStatus, Scope: scope}
}

func instance(id, template string, wires ...[]string) *domain.NodeSpec {
	return &domain.NodeSpec{
		ID:      id,
		Type:    domain.SubflowTypePrefix + template,
		Subflow: template,
		Wires:   wires,
	}
}

// mustNode возвращает активный узел или останавливает тест.
func mustNode(t *testing.T, f *Flow, id string) node.Node {
	t.Helper()
	n, ok := f.GetNode(id)
	if !ok {
		t.Fatalf("node %s is not active", id)
	}
	return n
}

// memberByName возвращает участника экземпляра по имени узла шаблона.
func memberByName(t *testing.T, f *Flow, instanceID, name string) node.Node {
	t.Helper()
	members, ok := f.Members(instanceID)
	if !ok {
		t.Fatalf("instance %s is not expanded", instanceID)
	}
	for _, id := range members {
		n, ok := f.GetNode(id)
		if ok && n.Name() == name && n.Z() == instanceID {
			return n
		}
	}
	t.Fatalf("member %q not found in %s", name, instanceID)
	return nil
}
