package nodes

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shaiso/Relay/internal/domain"
	"github.com/shaiso/Relay/internal/node"
	"github.com/shaiso/Relay/internal/telemetry"
)

// testHost — Host поверх map; потокобезопасен, т.к. часть узлов
// отправляет сообщения из своих горутин.
type testHost struct {
	mu       sync.Mutex
	nodes    map[string]node.Node
	errors   []error
	statuses []domain.StatusUpdate
}

func newTestHost() *testHost {
	return &testHost{nodes: make(map[string]node.Node)}
}

func (h *testHost) add(n node.Node) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nodes[n.ID()] = n
}

func (h *testHost) Lookup(id string) (node.Node, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	n, ok := h.nodes[id]
	return n, ok
}

func (h *testHost) HandleError(_ node.Node, err error, _ domain.Message) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors = append(h.errors, err)
	return true
}

func (h *testHost) HandleStatus(_ node.Node, status domain.StatusUpdate) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.statuses = append(h.statuses, status)
	return true
}

func (h *testHost) errorList() []error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]error(nil), h.errors...)
}

func (h *testHost) statusList() []domain.StatusUpdate {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]domain.StatusUpdate(nil), h.statuses...)
}

// sink собирает события журнала.
type sink struct {
	mu     sync.Mutex
	events []telemetry.Event
}

func (s *sink) Record(e telemetry.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *sink) messages(level telemetry.Level) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, e := range s.events {
		if e.Level == level {
			out = append(out, e.Msg)
		}
	}
	return out
}

// inbox — узел, складывающий полученные сообщения в канал.
type inbox struct {
	*node.Base
	ch chan domain.Message
}

func newInbox(h *testHost, id string) *inbox {
	in := &inbox{
		Base: node.NewBase(node.Config{Spec: &domain.NodeSpec{ID: id, Type: "inbox"}, Host: h}),
		ch:   make(chan domain.Message, 16),
	}
	in.OnInput(func(msg domain.Message) error {
		in.ch <- msg
		return nil
	})
	h.add(in)
	return in
}

// next ждёт следующее сообщение.
func (in *inbox) next(t *testing.T) domain.Message {
	t.Helper()
	select {
	case msg := <-in.ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("%s: no message received", in.ID())
		return nil
	}
}

// none проверяет, что за d сообщений не было.
func (in *inbox) none(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case msg := <-in.ch:
		t.Fatalf("%s: unexpected message %v", in.ID(), msg)
	case <-time.After(d):
	}
}

// build создаёт узел типа typ и регистрирует его в host.
func build(t *testing.T, h *testHost, s *sink, spec *domain.NodeSpec) node.Node {
	t.Helper()
	if spec.Props == nil {
		spec.Props = map[string]any{}
	}
	n, err := DefaultRegistry().Construct(node.Config{Spec: spec, Host: h, Sink: s})
	if err != nil {
		t.Fatalf("construct %s: %v", spec.Type, err)
	}
	h.add(n)
	t.Cleanup(func() { _ = n.Close(context.Background(), false) })
	return n
}
