package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/ai-guard/internal/review"
	"github.com/spigell/ai-guard/internal/utils"
)

const (
	PromptBack = "back"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "List and close review queue items",
	Run: func(cmd *cobra.Command, _ []string) {
		runReview(cmd)
	},
}

func init() {
	rootCmd.AddCommand(reviewCmd)

	reviewCmd.Flags().String("close", "", "close the item with this feedback id")
	reviewCmd.Flags().String("status", "", "only list items with this status")
	reviewCmd.Flags().BoolP("list", "l", false, "print items as json instead of prompting")
}

func runReview(cmd *cobra.Command) {
	config, logger := setup()
	defer logger.Sync() //nolint:errcheck

	svc, err := newServices(config, logger)
	if err != nil {
		logger.Fatal("building services", zap.Error(err))
	}

	if id, _ := cmd.Flags().GetString("close"); id != "" {
		item, err := svc.queue.Close(id)
		if err != nil {
			logger.Fatal("closing feedback", zap.String("feedback_id", id), zap.Error(err))
		}
		logger.Info("feedback closed", zap.String("feedback_id", item.FeedbackID))
		return
	}

	status, _ := cmd.Flags().GetString("status")
	if list, _ := cmd.Flags().GetBool("list"); list {
		if err := printJSON(cmd, svc.queue.List(status)); err != nil {
			logger.Fatal("printing items", zap.Error(err))
		}
		return
	}

	if err := manualClose(svc.queue, logger); err != nil {
		if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) {
			return
		}
		logger.Fatal("exiting", zap.Error(err))
	}
}

// manualClose prompts for open items and closes the selected ones until the
// user goes back or nothing is left open.
func manualClose(queue *review.Queue, logger *zap.Logger) error {
	for {
		open := queue.List(review.StatusOpen)
		if len(open) == 0 {
			logger.Info("exiting", zap.String("reason", "no open feedback"))
			return nil
		}

		items := make([]string, 0, len(open)+1)
		for _, item := range open {
			items = append(items, reviewLabel(item))
		}

		itemPrompt := promptui.Select{
			Label: "Choose feedback to close and press ENTER",
			Items: append(items, PromptBack),
		}

		_, selected, err := itemPrompt.Run()
		if err != nil {
			return err
		}

		if selected == PromptBack {
			return nil
		}

		id := strings.Split(selected, " ")[0]
		if _, err := queue.Close(id); err != nil {
			return err
		}

		logger.Info("feedback closed", zap.String("feedback_id", id))
	}
}

func reviewLabel(item review.Item) string {
	return fmt.Sprintf("%s %s / %s / %s",
		item.FeedbackID, item.Category, item.CreatedAt.Format("2006-01-02 15:04"), utils.TruncateForLog(strings.Join(strings.Fields(item.Description), " "), 60),
	)
}
