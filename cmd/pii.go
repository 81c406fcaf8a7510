package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/ai-guard/internal/pii"
)

const (
	piiModeRedact   = "redact"
	piiModeDetect   = "detect"
	piiModeAnnotate = "annotate"
)

var piiCmd = &cobra.Command{
	Use:   "pii [text]",
	Short: "Redact, detect or annotate PII in text (reads stdin without arguments)",
	Run: func(cmd *cobra.Command, args []string) {
		runPII(cmd, args)
	},
}

func init() {
	rootCmd.AddCommand(piiCmd)

	piiCmd.Flags().String("mode", piiModeRedact, "one of redact, detect, annotate")
}

func runPII(cmd *cobra.Command, args []string) {
	_, logger := setup()
	defer logger.Sync() //nolint:errcheck

	text := strings.Join(args, " ")
	if len(args) == 0 {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			logger.Fatal("reading stdin", zap.Error(err))
		}
		text = strings.TrimRight(string(data), "\n")
	}

	guardPII, err := pii.New()
	if err != nil {
		logger.Fatal("loading pii rules", zap.Error(err))
	}

	mode, _ := cmd.Flags().GetString("mode")
	if err := piiOutput(cmd, guardPII, mode, text); err != nil {
		logger.Fatal("pii", zap.Error(err))
	}
}

func piiOutput(cmd *cobra.Command, g *pii.Guard, mode, text string) error {
	switch mode {
	case piiModeRedact:
		_, err := fmt.Fprintln(cmd.OutOrStdout(), g.Redact(text))
		return err
	case piiModeAnnotate:
		_, err := fmt.Fprintln(cmd.OutOrStdout(), g.Annotate(text))
		return err
	case piiModeDetect:
		matches := g.Detect(text)
		if matches == nil {
			matches = []pii.Match{}
		}
		return printJSON(cmd, matches)
	default:
		return fmt.Errorf("invalid mode: %s", mode)
	}
}
