package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ratepro/internal/config"
	"ratepro/internal/services"
)

var (
	previewTenant  string
	previewLimit   int
	previewExplain bool
)

var segmentPreviewCmd = &cobra.Command{
	Use:   "segment-preview <rule.json>",
	Short: "Compile a segment rule and list matching contacts",
	Long: `Compiles a segment rule. With --explain the compiled SQL and MongoDB
filter are printed without touching any store; otherwise the matching
contacts of --tenant are listed from the configured contact store.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rule, err := readSegmentRule(args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")

		if previewExplain {
			seg, err := services.NewSegmentQueryCompiler().Compile(rule)
			if err != nil {
				return err
			}
			where, sqlArgs := seg.SQL()
			return enc.Encode(map[string]interface{}{
				"sql":        where,
				"args":       sqlArgs,
				"filter":     seg.Filter(previewTenant),
				"compiledAt": seg.CompiledAt(),
			})
		}

		if previewTenant == "" {
			return fmt.Errorf("--tenant is required")
		}
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		ctx := context.Background()
		db, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		contacts, closeContacts, err := openContactStore(ctx, cfg, db)
		if err != nil {
			return err
		}
		defer func() { _ = closeContacts(ctx) }()

		preview, err := services.NewSegmentService(contacts).Preview(ctx, previewTenant, rule, previewLimit)
		if err != nil {
			return err
		}
		return enc.Encode(preview)
	},
}

func readSegmentRule(path string) (services.SegmentRule, error) {
	var rule services.SegmentRule
	raw, err := os.ReadFile(path)
	if err != nil {
		return rule, fmt.Errorf("failed to read segment rule: %w", err)
	}
	if err := json.Unmarshal(raw, &rule); err != nil {
		return rule, fmt.Errorf("failed to decode segment rule: %w", err)
	}
	return rule, nil
}

func init() {
	segmentPreviewCmd.Flags().StringVar(&previewTenant, "tenant", "", "tenant whose contacts are listed")
	segmentPreviewCmd.Flags().IntVar(&previewLimit, "limit", 50, "maximum number of contacts to print")
	segmentPreviewCmd.Flags().BoolVar(&previewExplain, "explain", false, "print the compiled query instead of running it")
	rootCmd.AddCommand(segmentPreviewCmd)
}
