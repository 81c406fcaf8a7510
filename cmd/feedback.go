package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/ai-guard/internal/review"
)

var feedbackCmd = &cobra.Command{
	Use:   "feedback",
	Short: "Submit a feedback item to the review queue",
	Run: func(cmd *cobra.Command, _ []string) {
		submitFeedback(cmd)
	},
}

func init() {
	rootCmd.AddCommand(feedbackCmd)

	feedbackCmd.Flags().StringP("category", "c", review.CategoryOther, "parse_error, bias, hallucination or other")
	feedbackCmd.Flags().StringP("description", "m", "", "what went wrong")
	feedbackCmd.Flags().String("reporter", "", "who reports the issue")
	feedbackCmd.Flags().String("trace-id", "", "trace the feedback refers to")

	feedbackCmd.MarkFlagRequired("description")
}

func submitFeedback(cmd *cobra.Command) {
	config, logger := setup()
	defer logger.Sync() //nolint:errcheck

	svc, err := newServices(config, logger)
	if err != nil {
		logger.Fatal("building services", zap.Error(err))
	}

	category, _ := cmd.Flags().GetString("category")
	description, _ := cmd.Flags().GetString("description")
	reporter, _ := cmd.Flags().GetString("reporter")
	traceID, _ := cmd.Flags().GetString("trace-id")

	item, err := svc.queue.Submit(review.Submission{
		Category:      category,
		Description:   description,
		Reporter:      reporter,
		SourceTraceID: traceID,
		Metadata:      map[string]string{review.MetadataSource: "cli"},
	})
	if err != nil {
		logger.Fatal("submitting feedback", zap.Error(err))
	}

	if err := printJSON(cmd, item); err != nil {
		logger.Fatal("printing feedback", zap.Error(err))
	}
}
