package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaiso/Relay/internal/domain"
	"github.com/shaiso/Relay/internal/engine"
	"github.com/shaiso/Relay/internal/flow"
	"github.com/shaiso/Relay/internal/node"
	"github.com/shaiso/Relay/internal/nodes"
	"github.com/shaiso/Relay/internal/telemetry"
)

// CheckReport — результат проверки файла графа.
type CheckReport struct {
	ID           string      `json:"id"`
	ConfigOrder  []string    `json:"config_order"`
	Nodes        []NodeEntry `json:"nodes"`
	Subflows     []string    `json:"subflows,omitempty"`
	UnknownTypes []string    `json:"unknown_types,omitempty"`
}

// NodeEntry — строка таблицы узлов.
type NodeEntry struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Z       string `json:"z"`
	Outputs int    `json:"outputs"`
}

// readGraph читает и разбирает файл графа.
func readGraph(path string) (*domain.GraphDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read graph file: %w", err)
	}
	return engine.Parse(data)
}

// loadGraphs читает основной граф и (необязательный) глобальный.
func loadGraphs(path, globalPath string) (def, global *domain.GraphDefinition, err error) {
	def, err = readGraph(path)
	if err != nil {
		return nil, nil, err
	}
	if globalPath != "" {
		if global, err = readGraph(globalPath); err != nil {
			return nil, nil, err
		}
	}
	return def, global, nil
}

// Check проверяет граф: структура, ссылки, порядок config-узлов
// и наличие типов в реестре.
func Check(def, global *domain.GraphDefinition, registry *node.Registry) (*CheckReport, error) {
	if err := engine.Validate(def, global); err != nil {
		return nil, err
	}
	order, err := engine.ConfigOrder(def.Configs)
	if err != nil {
		return nil, err
	}

	report := &CheckReport{
		ID:          def.ID,
		ConfigOrder: order,
		Subflows:    domain.SortedKeys(def.Subflows),
	}

	unknown := make(map[string]bool)
	for _, id := range order {
		if t := def.Configs[id].Type; !registry.Has(t) {
			unknown[t] = true
		}
	}
	for _, id := range domain.SortedKeys(def.Nodes) {
		n := def.Nodes[id]
		report.Nodes = append(report.Nodes, NodeEntry{ID: n.ID, Type: n.Type, Z: n.Z, Outputs: len(n.Wires)})
		if !n.IsSubflowInstance() && !registry.Has(n.Type) {
			unknown[n.Type] = true
		}
	}
	for _, sf := range def.Subflows {
		for _, n := range sf.Nodes {
			if !n.IsSubflowInstance() && !registry.Has(n.Type) {
				unknown[n.Type] = true
			}
		}
	}
	report.UnknownTypes = domain.SortedKeys(unknown)
	return report, nil
}

// NewCheckCmd создаёт команду проверки файла графа.
func NewCheckCmd(outputFn func() *Output) *cobra.Command {
	var globalFile string

	cmd := &cobra.Command{
		Use:   "check FILE",
		Short: "Validate a graph definition file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			def, global, err := loadGraphs(args[0], globalFile)
			if err != nil {
				return err
			}
			report, err := Check(def, global, nodes.DefaultRegistry())
			if err != nil {
				return err
			}

			headers := []string{"ID", "TYPE", "Z", "OUTPUTS"}
			rows := make([][]string, len(report.Nodes))
			for i, n := range report.Nodes {
				rows[i] = []string{n.ID, n.Type, n.Z, strconv.Itoa(n.Outputs)}
			}
			out.Print(headers, rows, report)

			if len(report.UnknownTypes) > 0 {
				out.Warn("unknown node types: " + strings.Join(report.UnknownTypes, ", "))
			}
			out.Success(fmt.Sprintf("Graph %s is valid (config order: %s)", report.ID, strings.Join(report.ConfigOrder, " → ")))
			return nil
		},
	}

	cmd.Flags().StringVar(&globalFile, "global", "", "Path to the global graph (shared config nodes and templates)")
	return cmd
}

// NewRunCmd создаёт команду локального запуска графа.
func NewRunCmd(outputFn func() *Output) *cobra.Command {
	var globalFile string
	var duration time.Duration

	cmd := &cobra.Command{
		Use:   "run FILE",
		Short: "Run a graph locally until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			def, global, err := loadGraphs(args[0], globalFile)
			if err != nil {
				return err
			}
			if err := engine.Validate(def, global); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}

			states, err := RunGraph(ctx, def, global, telemetry.FromContext(ctx))
			if err != nil {
				return err
			}
			out.Print([]string{"FLOW", "STATE"}, stateRows(states), states)
			return nil
		},
	}

	cmd.Flags().StringVar(&globalFile, "global", "", "Path to the global graph (shared config nodes and templates)")
	cmd.Flags().DurationVar(&duration, "duration", 0, "Stop after this long (0 — until interrupted)")
	return cmd
}

// RunGraph запускает граф (и глобальный граф, если он задан), ждёт
// отмены ctx и останавливает всё. Возвращает состояния flow после запуска.
func RunGraph(ctx context.Context, def, global *domain.GraphDefinition, logger *slog.Logger) (map[string]domain.FlowState, error) {
	log := telemetry.NewLog()
	log.AddHandler(telemetry.NewSlogHandler(logger), telemetry.HandlerOptions{Level: telemetry.EngineLogLevel()})

	settings := flow.SettingsFromEnv()
	rt := flow.Init(settings, flow.Deps{
		Registry: nodes.DefaultRegistry(),
		Sink:     log,
	})

	states := make(map[string]domain.FlowState)

	var globalFlow *flow.Flow
	if global != nil {
		globalFlow = rt.Create(nil, global)
		if err := globalFlow.Start(nil); err != nil {
			globalFlow.Stop(context.Background(), nil, nil)
			return nil, fmt.Errorf("start global graph: %w", err)
		}
		states[globalFlow.ID()] = globalFlow.State()
	}

	f := rt.Create(global, def)
	f.SetParent(globalFlow)
	startErr := f.Start(nil)
	states[f.ID()] = f.State()

	if startErr == nil {
		telemetry.WithFlowID(logger, f.ID()).Info("graph running", "state", f.State(), "nodes", len(f.ActiveNodes()))
		<-ctx.Done()
	}

	// Закрытие каждого узла и так ограничено NodeCloseTimeout.
	stopCtx, cancel := context.WithTimeout(context.Background(), 2*settings.NodeCloseTimeout)
	defer cancel()
	f.Stop(stopCtx, nil, nil)
	if globalFlow != nil {
		globalFlow.Stop(stopCtx, nil, nil)
	}

	if startErr != nil {
		return states, fmt.Errorf("start graph: %w", startErr)
	}
	return states, nil
}

func stateRows(states map[string]domain.FlowState) [][]string {
	rows := make([][]string, 0, len(states))
	for _, id := range domain.SortedKeys(states) {
		rows = append(rows, []string{id, string(states[id])})
	}
	return rows
}

// NewTypesCmd создаёт команду вывода зарегистрированных типов узлов.
func NewTypesCmd(outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List built-in node types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			registry := nodes.DefaultRegistry()
			types := registry.Types()
			rows := make([][]string, len(types))
			for i, t := range types {
				rows[i] = []string{t}
			}
			out.Print([]string{"TYPE"}, rows, types)
			out.Success(fmt.Sprintf("%d node types", registry.Count()))
			return nil
		},
	}
}
