package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove traces and feedback older than the retention policy",
	Run: func(cmd *cobra.Command, _ []string) {
		purge(cmd)
	},
}

func init() {
	rootCmd.AddCommand(purgeCmd)
}

func purge(cmd *cobra.Command) {
	config, logger := setup()
	defer logger.Sync() //nolint:errcheck

	svc, err := newServices(config, logger)
	if err != nil {
		logger.Fatal("building services", zap.Error(err))
	}

	report, err := svc.retention.Run(svc.traces, svc.queue)
	if err != nil {
		logger.Fatal("retention purge", zap.Error(err))
	}

	if err := printJSON(cmd, map[string]int{
		"removed_traces":   report.Traces.Dropped,
		"removed_feedback": report.Feedback.Dropped,
	}); err != nil {
		logger.Fatal("printing report", zap.Error(err))
	}
}
