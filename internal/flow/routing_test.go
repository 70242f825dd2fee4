package flow

import (
	"errors"
	"testing"

	"github.com/shaiso/Relay/internal/domain"
	"github.com/shaiso/Relay/internal/telemetry"
)

func failing(id, text string, wires ...[]string) *domain.NodeSpec {
	spec := worker(id, wires...)
	spec.Props = map[string]any{"fail": text}
	return spec
}

func errorOf(t *testing.T, msg domain.Message) *domain.ErrorInfo {
	t.Helper()
	info, ok := msg.Error()
	if !ok {
		t.Fatalf("message has no error record: %v", msg)
	}
	return info
}

func TestHandleError_CatchReceivesBoom(t *testing.T) {
	h := newHarness(t, Settings{})
	f := h.start(t, graph(catchNode("A"), failing("B", "boom")))

	mustNode(t, f, "B").Receive(domain.Message{"payload": 1})

	got := h.rec.messages("A")
	if len(got) != 1 {
		t.Fatalf("expected catch to receive one message, got %d", len(got))
	}
	info := errorOf(t, got[0])
	if info.Message != "boom" {
		t.Errorf("expected message boom, got %q", info.Message)
	}
	if info.Source.ID != "B" || info.Source.Count != 1 || info.Source.Type != "worker" {
		t.Errorf("unexpected source %+v", info.Source)
	}
	if got[0]["payload"] != 1 {
		t.Errorf("original message fields should be kept")
	}
	if len(h.sink.find(telemetry.LevelError, "B")) != 0 {
		t.Errorf("handled error must not be logged as uncaught")
	}
}

func TestHandleError_Scoped(t *testing.T) {
	tests := []struct {
		name    string
		origin  string
		wantA   int
		wantAll int
	}{
		{"origin in scope", "nodeA", 1, 1},
		{"origin outside scope", "nodeB", 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Settings{})
			f := h.start(t, graph(
				catchNode("scoped", "nodeA"),
				catchNode("all"),
				failing("nodeA", "a failed"),
				failing("nodeB", "b failed"),
			))

			mustNode(t, f, tt.origin).Receive(domain.Message{})

			if got := len(h.rec.messages("scoped")); got != tt.wantA {
				t.Errorf("scoped catch: expected %d, got %d", tt.wantA, got)
			}
			if got := len(h.rec.messages("all")); got != tt.wantAll {
				t.Errorf("unscoped catch: expected %d, got %d", tt.wantAll, got)
			}
		})
	}
}

func TestHandleError_ScopedOnlyIsUnhandled(t *testing.T) {
	h := newHarness(t, Settings{})
	f := h.start(t, graph(catchNode("scoped", "nodeA"), failing("nodeB", "b failed")))

	handled := f.HandleError(mustNode(t, f, "nodeB"), errors.New("b failed"), domain.Message{})
	if handled {
		t.Errorf("error outside every catch scope must not be handled")
	}

	mustNode(t, f, "nodeB").Receive(domain.Message{})
	if len(h.sink.find(telemetry.LevelError, "nodeB")) != 1 {
		t.Errorf("unhandled error should be logged as uncaught")
	}
}

func TestHandleError_NoMessageNotRouted(t *testing.T) {
	h := newHarness(t, Settings{})
	f := h.start(t, graph(catchNode("A"), worker("B")))

	mustNode(t, f, "B").Error(errors.New("background failure"), nil)

	if len(h.rec.messages("A")) != 0 {
		t.Errorf("error without a message should only be logged")
	}
	if len(h.sink.find(telemetry.LevelError, "B")) != 1 {
		t.Errorf("expected error to be logged")
	}
}

func TestHandleError_LoopGuard(t *testing.T) {
	h := newHarness(t, Settings{})
	// Catch снова отправляет сообщение в узел, который всегда падает.
	catch := catchNode("A")
	catch.Wires = [][]string{{"B"}}
	f := h.start(t, graph(catch, failing("B", "boom")))

	mustNode(t, f, "B").Receive(domain.Message{})

	got := h.rec.messages("A")
	if len(got) != errorLoopLimit-1 {
		t.Fatalf("expected %d deliveries, got %d", errorLoopLimit-1, len(got))
	}
	for i, msg := range got {
		if info := errorOf(t, msg); info.Source.Count != i+1 {
			t.Errorf("delivery %d: expected count %d, got %d", i, i+1, info.Source.Count)
		}
	}
	if len(h.sink.find(telemetry.LevelWarn, "B")) != 1 {
		t.Errorf("expected loop warning")
	}
}

func TestHandleError_PreservesPreviousError(t *testing.T) {
	h := newHarness(t, Settings{})
	f := h.start(t, graph(catchNode("A"), worker("B")))

	prev := &domain.ErrorInfo{Message: "earlier", Source: domain.Source{ID: "X", Count: 1}}
	f.HandleError(mustNode(t, f, "B"), errors.New("later"), domain.Message{domain.MsgKeyError: prev})

	got := h.rec.messages("A")
	if len(got) != 1 {
		t.Fatalf("expected one delivery, got %d", len(got))
	}
	if info := errorOf(t, got[0]); info.Message != "later" || info.Source.Count != 1 {
		t.Errorf("unexpected error %+v", info)
	}
	kept, ok := got[0][domain.MsgKeyPrevError].(*domain.ErrorInfo)
	if !ok || kept.Message != "earlier" {
		t.Errorf("previous error should be kept as _error, got %v", got[0][domain.MsgKeyPrevError])
	}
}

func TestHandleError_EachHandlerGetsOwnCopy(t *testing.T) {
	h := newHarness(t, Settings{})
	f := h.start(t, graph(catchNode("A1"), catchNode("A2"), worker("B")))

	msg := domain.Message{"payload": map[string]any{"n": 1}}
	f.HandleError(mustNode(t, f, "B"), errors.New("boom"), msg)

	a1 := h.rec.messages("A1")
	a2 := h.rec.messages("A2")
	if len(a1) != 1 || len(a2) != 1 {
		t.Fatalf("both nearest handlers should receive the error")
	}
	a1[0]["payload"].(map[string]any)["n"] = 2
	if a2[0]["payload"].(map[string]any)["n"] != 1 || msg["payload"].(map[string]any)["n"] != 1 {
		t.Errorf("handlers must receive independent copies")
	}
	if _, ok := msg[domain.MsgKeyError]; ok {
		t.Errorf("original message must not be modified")
	}
}

// subflowWithFailingMember — шаблон с узлом "w", который всегда падает,
// и catch внутри, принимающим только неизвестный узел.
func subflowWithFailingMember() *domain.SubflowTemplate {
	return &domain.SubflowTemplate{
		ID: "T",
		In: []domain.Port{{Wires: []domain.PortWire{{ID: "w"}}}},
		Nodes: map[string]*domain.NodeSpec{
			"w":     {ID: "w", Type: "worker", Name: "w", Props: map[string]any{"fail": "inner boom"}},
			"other": {ID: "other", Type: "catch", Name: "other", Scope: []string{"unknown"}},
		},
	}
}

func TestHandleError_SubflowReportsAsFacade(t *testing.T) {
	h := newHarness(t, Settings{})
	def := graph(
		instance("S", "T"),
		catchNode("byFacade", "S"),
		catchNode("byMember", "w"),
	)
	def.Subflows["T"] = subflowWithFailingMember()

	f := h.start(t, def)
	w := memberByName(t, f, "S", "w")

	mustNode(t, f, "S").Receive(domain.Message{})

	got := h.rec.messages("byFacade")
	if len(got) != 1 {
		t.Fatalf("catch scoped to the instance should receive the error, got %d", len(got))
	}
	if info := errorOf(t, got[0]); info.Source.ID != w.ID() || info.Message != "inner boom" {
		t.Errorf("source should be the failing member, got %+v", info)
	}
	if len(h.rec.messages("byMember")) != 0 {
		t.Errorf("outer catch must not match an inner node id")
	}
	other := memberByName(t, f, "S", "other")
	if len(h.rec.messages(other.ID())) != 0 {
		t.Errorf("inner catch scoped to an unknown node must not match")
	}
}

func TestHandleError_InnerCatchWins(t *testing.T) {
	h := newHarness(t, Settings{})
	tmpl := subflowWithFailingMember()
	tmpl.Nodes["inner"] = &domain.NodeSpec{ID: "inner", Type: "catch", Name: "inner", Scope: []string{"w"}}
	def := graph(instance("S", "T"), catchNode("outer"))
	def.Subflows["T"] = tmpl

	f := h.start(t, def)
	inner := memberByName(t, f, "S", "inner")

	mustNode(t, f, "S").Receive(domain.Message{})

	if len(h.rec.messages(inner.ID())) != 1 {
		t.Errorf("catch inside the instance should receive the error")
	}
	if len(h.rec.messages("outer")) != 0 {
		t.Errorf("routing must stop at the nearest level")
	}
}

func TestHandleStatus(t *testing.T) {
	h := newHarness(t, Settings{})
	f := h.start(t, graph(statusNode("all"), statusNode("onlyA", "A"), worker("A"), worker("B")))

	if !f.HandleStatus(mustNode(t, f, "B"), domain.StatusUpdate{Text: "connected"}) {
		t.Fatalf("expected status to be handled")
	}

	got := h.rec.messages("all")
	if len(got) != 1 {
		t.Fatalf("expected one status, got %d", len(got))
	}
	info, ok := got[0][domain.MsgKeyStatus].(domain.StatusInfo)
	if !ok {
		t.Fatalf("expected StatusInfo, got %T", got[0][domain.MsgKeyStatus])
	}
	if info.Text != "connected" || info.Source.ID != "B" {
		t.Errorf("unexpected status %+v", info)
	}
	if len(h.rec.messages("onlyA")) != 0 {
		t.Errorf("scoped status node must skip other origins")
	}
}

func TestHandleStatus_SubflowUsesOrigin(t *testing.T) {
	h := newHarness(t, Settings{})
	def := graph(instance("S", "T"), statusNode("byFacade", "S"), statusNode("any"))
	def.Subflows["T"] = passThrough("T")

	f := h.start(t, def)
	n1 := memberByName(t, f, "S", "n1")

	f.HandleStatus(n1, domain.StatusUpdate{Text: "busy"})

	if len(h.rec.messages("byFacade")) != 0 {
		t.Errorf("status restriction is checked against the origin, not the facade")
	}
	if len(h.rec.messages("any")) != 1 {
		t.Errorf("unscoped status node in the enclosing flow should receive the status")
	}
}

func TestHandleStatus_Unhandled(t *testing.T) {
	h := newHarness(t, Settings{})
	f := h.start(t, graph(worker("A")))

	if f.HandleStatus(mustNode(t, f, "A"), domain.StatusUpdate{Text: "idle"}) {
		t.Errorf("status without handlers should be dropped")
	}
}
