package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaiso/Relay/internal/domain"
	"github.com/shaiso/Relay/internal/engine"
	"github.com/shaiso/Relay/internal/mq"
	"github.com/shaiso/Relay/internal/orchestrator"
	"github.com/shaiso/Relay/internal/repo"
)

// BackendFunc открывает Backend для команды группы flow.
type BackendFunc func(ctx context.Context) (*Backend, error)

// FlowEntry — строка списка сохранённых графов.
type FlowEntry struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Revision  int64     `json:"revision"`
	Enabled   bool      `json:"enabled"`
	Nodes     int       `json:"nodes"`
	UpdatedAt time.Time `json:"updated_at"`
}

func flowEntry(rec *repo.FlowRecord) FlowEntry {
	e := FlowEntry{
		ID:        rec.ID,
		Name:      rec.Name,
		Revision:  rec.Revision,
		Enabled:   rec.Enabled,
		UpdatedAt: rec.UpdatedAt,
	}
	if rec.Definition != nil {
		e.Nodes = len(rec.Definition.Nodes)
	}
	return e
}

func flowRows(entries []FlowEntry) [][]string {
	rows := make([][]string, len(entries))
	for i, e := range entries {
		rows[i] = []string{
			e.ID,
			e.Name,
			strconv.FormatInt(e.Revision, 10),
			strconv.FormatBool(e.Enabled),
			strconv.Itoa(e.Nodes),
			e.UpdatedAt.Format(time.RFC3339),
		}
	}
	return rows
}

var flowHeaders = []string{"ID", "NAME", "REVISION", "ENABLED", "NODES", "UPDATED"}

// NewFlowCmd создаёт группу команд для управления сохранёнными графами.
func NewFlowCmd(backendFn BackendFunc, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flow",
		Short: "Manage stored flows",
	}

	cmd.AddCommand(
		newFlowListCmd(backendFn, outputFn),
		newFlowShowCmd(backendFn, outputFn),
		newFlowPushCmd(backendFn, outputFn),
		newFlowEnableCmd(backendFn, outputFn, true),
		newFlowEnableCmd(backendFn, outputFn, false),
		newFlowDeleteCmd(backendFn, outputFn),
	)

	return cmd
}

func newFlowListCmd(backendFn BackendFunc, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List enabled flows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := backendFn(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Close()

			records, err := b.Store.List(cmd.Context())
			if err != nil {
				return err
			}

			entries := make([]FlowEntry, len(records))
			for i := range records {
				entries[i] = flowEntry(&records[i])
			}
			outputFn().Print(flowHeaders, flowRows(entries), entries)
			return nil
		},
	}
}

func newFlowShowCmd(backendFn BackendFunc, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Print the stored graph definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := backendFn(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Close()

			rec, err := b.Store.Get(cmd.Context(), args[0])
			if err != nil {
				return notFound(args[0], err)
			}
			outputFn().JSON(rec.Definition)
			return nil
		},
	}
}

func newFlowPushCmd(backendFn BackendFunc, outputFn func() *Output) *cobra.Command {
	var id string

	cmd := &cobra.Command{
		Use:   "push FILE",
		Short: "Validate and store a graph, then ask the runtime to deploy it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := outputFn()

			def, err := readGraph(args[0])
			if err != nil {
				return err
			}
			if id != "" {
				engine.SetID(def, id)
			}
			if def.ID == "" {
				return errors.New("graph has no id, pass --id")
			}

			b, err := backendFn(ctx)
			if err != nil {
				return err
			}
			defer b.Close()

			rec, err := PushGraph(ctx, b, out, def)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Flow %s stored (revision %d)", rec.ID, rec.Revision))
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Override the graph id from the file")
	return cmd
}

// PushGraph проверяет граф относительно сохранённого глобального,
// сохраняет его и отправляет команду развёртывания.
func PushGraph(ctx context.Context, b *Backend, out *Output, def *domain.GraphDefinition) (*repo.FlowRecord, error) {
	var global *domain.GraphDefinition
	if def.ID != orchestrator.GlobalID {
		rec, err := b.Store.Get(ctx, orchestrator.GlobalID)
		switch {
		case err == nil:
			global = rec.Definition
		case !errors.Is(err, repo.ErrNotFound):
			return nil, err
		}
	}
	if err := engine.Validate(def, global); err != nil {
		return nil, err
	}

	rec, err := b.Store.Save(ctx, def)
	if err != nil {
		return nil, err
	}
	b.notify(ctx, out, mq.DeployPayload{FlowID: rec.ID})
	return rec, nil
}

func newFlowEnableCmd(backendFn BackendFunc, outputFn func() *Output, enabled bool) *cobra.Command {
	use, short, done := "enable ID", "Enable a stored flow", "enabled"
	if !enabled {
		use, short, done = "disable ID", "Disable a stored flow (the runtime stops it)", "disabled"
	}

	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := outputFn()

			b, err := backendFn(ctx)
			if err != nil {
				return err
			}
			defer b.Close()

			if err := b.Store.SetEnabled(ctx, args[0], enabled); err != nil {
				return notFound(args[0], err)
			}
			b.notify(ctx, out, mq.DeployPayload{FlowID: args[0], Remove: !enabled})

			out.Success(fmt.Sprintf("Flow %s %s", args[0], done))
			return nil
		},
	}
}

func newFlowDeleteCmd(backendFn BackendFunc, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a stored flow (the runtime stops it)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := outputFn()

			b, err := backendFn(ctx)
			if err != nil {
				return err
			}
			defer b.Close()

			if err := b.Store.Delete(ctx, args[0]); err != nil {
				return notFound(args[0], err)
			}
			b.notify(ctx, out, mq.DeployPayload{FlowID: args[0], Remove: true})

			out.Success(fmt.Sprintf("Flow %s deleted", args[0]))
			return nil
		},
	}
}
