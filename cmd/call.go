package cmd

import (
	"context"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/ai-guard/internal/guard"
)

var callCmd = &cobra.Command{
	Use:   "call [prompt]",
	Short: "Send one guarded prompt to the configured provider",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		call(cmd, strings.Join(args, " "))
	},
}

func init() {
	rootCmd.AddCommand(callCmd)

	callCmd.Flags().StringP("model", "m", "", "model to invoke (default from config)")
	callCmd.Flags().Int("max-retries", -1, "retries after a failed attempt (default from config)")
}

func call(cmd *cobra.Command, prompt string) {
	ctx := context.Background()

	config, logger := setup()
	defer logger.Sync() //nolint:errcheck

	svc, err := newServices(config, logger)
	if err != nil {
		logger.Fatal("building services", zap.Error(err))
	}

	if _, err := svc.retention.Run(svc.traces, svc.queue); err != nil {
		logger.Warn("applying retention", zap.Error(err))
	}

	client, err := svc.newClient(ctx)
	if err != nil {
		logger.Fatal("building ai client", zap.Error(err))
	}

	model, _ := cmd.Flags().GetString("model")
	retries, _ := cmd.Flags().GetInt("max-retries")

	opts := []guard.CallOption{guard.WithModel(model)}
	if retries >= 0 {
		opts = append(opts, guard.WithMaxRetries(retries))
	}

	res, err := client.Call(ctx, prompt, opts...)
	if err != nil {
		outcome := guard.OutcomeOf(err)
		logger.Fatal("ai call failed",
			zap.String("outcome", outcome.String()),
			zap.Int("http_status", outcome.HTTPStatus()),
			zap.Error(err),
		)
	}

	if err := printJSON(cmd, res); err != nil {
		logger.Fatal("printing result", zap.Error(err))
	}
}
