package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/ai-guard/internal/tracing"
)

var tracesCmd = &cobra.Command{
	Use:   "traces",
	Short: "Print the most recent call traces",
	Run: func(cmd *cobra.Command, _ []string) {
		listTraces(cmd)
	},
}

func init() {
	rootCmd.AddCommand(tracesCmd)

	tracesCmd.Flags().IntP("limit", "n", 100, "maximum number of traces")
	tracesCmd.Flags().String("id", "", "print a single trace")
}

func listTraces(cmd *cobra.Command) {
	config, logger := setup()
	defer logger.Sync() //nolint:errcheck

	svc, err := newServices(config, logger)
	if err != nil {
		logger.Fatal("building services", zap.Error(err))
	}

	var out any
	if id, _ := cmd.Flags().GetString("id"); id != "" {
		record, ok := svc.traces.Get(id)
		if !ok {
			logger.Fatal("trace not found", zap.String("trace_id", id))
		}
		out = record
	} else {
		limit, _ := cmd.Flags().GetInt("limit")
		records := svc.traces.ListRecent(limit)
		if records == nil {
			records = []tracing.Record{}
		}
		out = records
	}

	if err := printJSON(cmd, out); err != nil {
		logger.Fatal("printing traces", zap.Error(err))
	}
}
