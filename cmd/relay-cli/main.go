// Relay CLI — инструмент командной строки для графов Relay.
//
// Использование:
//
//	relay [--json] <command> [subcommand] [flags]
//
// Команды:
//
//	check  Проверить файл графа
//	run    Запустить граф локально
//	types  Встроенные типы узлов
//	flow   Управление сохранёнными графами
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/Relay/internal/cli"
	"github.com/shaiso/Relay/internal/telemetry"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var jsonOutput bool

	logger := telemetry.SetupLogger()

	rootCmd := &cobra.Command{
		Use:           "relay",
		Short:         "Relay CLI — message flow runtime tool",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }
	backendFn := func(ctx context.Context) (*cli.Backend, error) {
		return cli.OpenBackend(ctx, logger)
	}

	rootCmd.AddCommand(
		cli.NewCheckCmd(outputFn),
		cli.NewRunCmd(outputFn),
		cli.NewTypesCmd(outputFn),
		cli.NewFlowCmd(backendFn, outputFn),
	)

	ctx := telemetry.WithLogger(context.Background(), logger)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
