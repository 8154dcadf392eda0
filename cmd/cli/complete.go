package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"ratepro/internal/config"
	"ratepro/pkg/insight"
)

var completeSystem string

var completeCmd = &cobra.Command{
	Use:   "complete <prompt | @file | ->",
	Short: "Send one prompt to the configured completion service",
	Long: `Sends a single prompt with the ai.openai settings and prints the reply
and token usage. The input is a plain prompt, @path to read it from a file,
or - for stdin. File and stdin input may also be a JSON string or an object
with "prompt" or "text" (and optionally "system").`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := readCompletionRequest(cmd.InOrStdin(), args[0])
		if err != nil {
			return err
		}
		if completeSystem != "" {
			req.System = completeSystem
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.AI.OpenAI.APIKey == "" {
			return fmt.Errorf("ai.openai.api_key is required")
		}
		log := logrus.New()
		log.SetOutput(cmd.ErrOrStderr())
		log.SetLevel(logrus.WarnLevel)

		out, err := newCompletionClient(cfg.AI.OpenAI, log).Complete(context.Background(), req)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func readCompletionRequest(stdin io.Reader, arg string) (insight.Request, error) {
	var raw []byte
	var err error
	switch {
	case arg == "-":
		raw, err = io.ReadAll(stdin)
	case strings.HasPrefix(arg, "@"):
		raw, err = os.ReadFile(strings.TrimPrefix(arg, "@"))
	default:
		return insight.ParseRequest(arg)
	}
	if err != nil {
		return insight.Request{}, fmt.Errorf("failed to read prompt: %w", err)
	}
	return insight.ParseRequest(json.RawMessage(raw))
}

func init() {
	completeCmd.Flags().StringVar(&completeSystem, "system", "", "system message sent before the prompt")
	rootCmd.AddCommand(completeCmd)
}
