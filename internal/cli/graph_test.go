package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/shaiso/Relay/internal/domain"
	"github.com/shaiso/Relay/internal/engine"
	"github.com/shaiso/Relay/internal/nodes"
)

// writeGraph сохраняет JSON во временный файл и возвращает путь.
func writeGraph(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "graph.json")
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write graph: %v", err)
	}
	return path
}

func testOutput(jsonMode bool) (*Output, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	return NewOutputTo(&out, &errOut, jsonMode), &out, &errOut
}

const checkGraph = `{
	"id": "orders",
	"configs": {
		"api": {"type": "config", "refs": {"base": "region"}},
		"region": {"type": "config"}
	},
	"nodes": {
		"in": {"type": "inject", "wires": [["log", "odd"]]},
		"log": {"type": "debug"},
		"odd": {"type": "mystery"}
	}
}`

func TestCheck(t *testing.T) {
	def, err := engine.Parse([]byte(checkGraph))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	report, err := Check(def, nil, nodes.DefaultRegistry())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if report.ID != "orders" {
		t.Errorf("expected id orders, got %q", report.ID)
	}
	if want := []string{"region", "api"}; !slices.Equal(report.ConfigOrder, want) {
		t.Errorf("expected config order %v, got %v", want, report.ConfigOrder)
	}
	if len(report.Nodes) != 3 || report.Nodes[0].ID != "in" || report.Nodes[0].Outputs != 1 {
		t.Errorf("unexpected node table: %+v", report.Nodes)
	}
	if want := []string{"mystery"}; !slices.Equal(report.UnknownTypes, want) {
		t.Errorf("expected unknown types %v, got %v", want, report.UnknownTypes)
	}
}

func TestCheck_GlobalRefs(t *testing.T) {
	def, _ := engine.Parse([]byte(`{"id": "f", "nodes": {"n": {"type": "debug", "refs": {"cfg": "shared"}}}}`))
	global, _ := engine.Parse([]byte(`{"id": "global", "configs": {"shared": {"type": "config"}}}`))

	if _, err := Check(def, nil, nodes.DefaultRegistry()); !errors.Is(err, engine.ErrUnknownReference) {
		t.Errorf("expected ErrUnknownReference without global, got %v", err)
	}
	if _, err := Check(def, global, nodes.DefaultRegistry()); err != nil {
		t.Errorf("expected global config to resolve, got %v", err)
	}
}

func TestCheckCmd(t *testing.T) {
	path := writeGraph(t, checkGraph)
	out, stdout, stderr := testOutput(true)

	cmd := NewCheckCmd(func() *Output { return out })
	cmd.SetArgs([]string{path})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var report CheckReport
	if err := json.Unmarshal(stdout.Bytes(), &report); err != nil {
		t.Fatalf("stdout is not a JSON report: %v\n%s", err, stdout.String())
	}
	if report.ID != "orders" {
		t.Errorf("expected id orders, got %q", report.ID)
	}
	if !strings.Contains(stderr.String(), "unknown node types: mystery") {
		t.Errorf("expected unknown type warning, got %q", stderr.String())
	}
	if !strings.Contains(stderr.String(), "Graph orders is valid") {
		t.Errorf("expected success message, got %q", stderr.String())
	}
}

func TestCheckCmd_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		graph string
		want  error
	}{
		{
			name:  "unknown wire",
			graph: `{"id": "f", "nodes": {"a": {"type": "debug", "wires": [["ghost"]]}}}`,
			want:  engine.ErrUnknownWireTarget,
		},
		{
			name:  "unknown subflow",
			graph: `{"id": "f", "nodes": {"s": {"subflow": "T"}}}`,
			want:  engine.ErrUnknownSubflow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, _, _ := testOutput(false)
			cmd := NewCheckCmd(func() *Output { return out })
			cmd.SetArgs([]string{writeGraph(t, tt.graph)})
			cmd.SilenceUsage = true
			cmd.SilenceErrors = true

			if err := cmd.Execute(); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestCheckCmd_MissingFile(t *testing.T) {
	out, _, _ := testOutput(false)
	cmd := NewCheckCmd(func() *Output { return out })
	cmd.SetArgs([]string{filepath.Join(t.TempDir(), "nope.json")})
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	if err := cmd.Execute(); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}

func TestTypesCmd(t *testing.T) {
	out, stdout, stderr := testOutput(false)
	cmd := NewTypesCmd(func() *Output { return out })
	cmd.SetArgs([]string{})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	if lines[0] != "TYPE" || lines[1] != "----" {
		t.Errorf("unexpected header: %q", lines[:2])
	}
	if got, want := lines[2:], nodes.DefaultRegistry().Types(); !slices.Equal(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
	if want := fmt.Sprintf("%d node types\n", len(lines)-2); stderr.String() != want {
		t.Errorf("expected summary %q, got %q", want, stderr.String())
	}
}

func TestRunGraph(t *testing.T) {
	def, _ := engine.Parse([]byte(`{
		"id": "local",
		"nodes": {
			"in": {"type": "inject", "props": {"payload": "hi", "once": true, "once_delay_ms": 1}, "wires": [["log"]]},
			"log": {"type": "debug"}
		}
	}`))
	global, _ := engine.Parse([]byte(`{"id": "global", "configs": {"shared": {"type": "config"}}}`))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	states, err := RunGraph(ctx, def, global, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if states["local"] != domain.FlowStateRunning {
		t.Errorf("expected local RUNNING, got %q", states["local"])
	}
	if states["global"] != domain.FlowStateRunning {
		t.Errorf("expected global RUNNING, got %q", states["global"])
	}
}

func TestRunCmd_Duration(t *testing.T) {
	path := writeGraph(t, `{"id": "local", "nodes": {"log": {"type": "debug"}}}`)
	out, stdout, _ := testOutput(false)

	cmd := NewRunCmd(func() *Output { return out })
	cmd.SetArgs([]string{path, "--duration", "20ms"})
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stdout.String(), "local") || !strings.Contains(stdout.String(), "RUNNING") {
		t.Errorf("expected state table, got %q", stdout.String())
	}
}
