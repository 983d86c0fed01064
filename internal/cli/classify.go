package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/fixfactory/internal/classify"
)

var classifyCmd = &cobra.Command{
	Use:   "classify [file]",
	Short: "Classify an error log (file or stdin)",
	Long: `Runs the rule table over the given log and prints the first matching
classification: category, severity, cost tier, and any synthesized fix.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var data []byte
		var err error
		if len(args) == 1 {
			data, err = os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read log: %w", err)
			}
		} else {
			data, err = io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}
		}

		result := classify.New().Classify(string(data))

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			out, _ := json.MarshalIndent(result, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "category:   %s\n", result.Category)
		fmt.Fprintf(w, "severity:   %s\n", result.Severity)
		fmt.Fprintf(w, "tier:       %s\n", result.Tier)
		fmt.Fprintf(w, "rule:       %s\n", result.Rule)
		fmt.Fprintf(w, "confidence: %.2f\n", result.Confidence)
		if result.File != "" {
			fmt.Fprintf(w, "location:   %s:%d\n", result.File, result.Line)
		}
		if result.FixCommand != "" {
			fmt.Fprintf(w, "fix:        %s\n", result.FixCommand)
		}
		if result.FixPath != "" {
			fmt.Fprintf(w, "fix file:   %s\n", result.FixPath)
		}
		return nil
	},
}

func init() {
	classifyCmd.Flags().String("format", "text", "Output format: text or json")
}
