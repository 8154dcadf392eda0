package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ratepro/internal/models"
	"ratepro/internal/services"
)

var errInvalidFlow = errors.New("survey flow is invalid")

var validateFlowCmd = &cobra.Command{
	Use:   "validate-flow <survey.json>",
	Short: "Check a survey's branching logic",
	Long: `Reads a survey document and prints {"valid": bool, "errors": [...]}.
Exits non-zero when the flow is invalid.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		survey, err := readSurvey(args[0])
		if err != nil {
			return err
		}
		res := services.NewSurveyFlowValidator().Validate(survey)
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
		if !res.Valid {
			return errInvalidFlow
		}
		return nil
	},
}

func readSurvey(path string) (*models.Survey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read survey: %w", err)
	}
	var survey models.Survey
	if err := json.Unmarshal(raw, &survey); err != nil {
		return nil, fmt.Errorf("failed to decode survey: %w", err)
	}
	return &survey, nil
}

func init() {
	rootCmd.AddCommand(validateFlowCmd)
}
