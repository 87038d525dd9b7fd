package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type ExitCode int

const (
	exitCodeSuccess = 0
	exitCodeError   = 1
)

func Run() ExitCode {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		return exitCodeError
	}
	return exitCodeSuccess
}

func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "intelli-vis",
		Short: "Answer natural-language questions about a workbook with data, charts and reports.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cmd.Help(); err != nil {
				return fmt.Errorf("failed to show help: %w", err)
			}
			return nil
		},
		SilenceUsage: true,
	}

	addGlobalFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(
		NewServeCmd().Command(),
		NewQueryCmd().Command(),
		NewChartsCmd().Command(),
	)
	return rootCmd
}

func addGlobalFlags(flags *pflag.FlagSet) {
	flags.BoolP("verbose", "v", false, "set debug logging level")
	flags.String("env-file", ".env", "Path to a .env file to load before reading the environment")
	flags.String("dataset-config", "", "Path to the dataset descriptor (overrides DATASET_CONFIG)")
	flags.String("charts-dir", "", "Directory of chart template JSON files (overrides CHARTS_DIR)")
}
