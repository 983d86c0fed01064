package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/fixfactory/internal/diffapply"
)

var diffCmd = &cobra.Command{
	Use:   "diff",
	Short: "Unified diff tools",
}

var diffParseCmd = &cobra.Command{
	Use:   "parse <patch-file>",
	Short: "Parse and validate a unified diff",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read patch: %w", err)
		}
		d := diffapply.Parse(string(data))
		w := cmd.OutOrStdout()
		if !d.Valid {
			fmt.Fprintf(w, "invalid: %s\n", d.Reason)
			return fmt.Errorf("invalid diff")
		}
		fmt.Fprintf(w, "file:  %s\n", d.FilePath())
		fmt.Fprintf(w, "hunks: %d\n", len(d.Hunks))
		for i, h := range d.Hunks {
			fmt.Fprintf(w, "  hunk %d: -%d,%d +%d,%d\n", i+1, h.OldStart, h.OldCount, h.NewStart, h.NewCount)
		}
		return nil
	},
}

var diffApplyCmd = &cobra.Command{
	Use:   "apply <patch-file> <target-file>",
	Short: "Apply a unified diff to a file",
	Long: `Applies every hunk of the patch to the target file, re-anchoring hunks
whose context has drifted. Nothing is written unless all hunks apply.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		patch, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read patch: %w", err)
		}
		d := diffapply.Parse(string(patch))
		if !d.Valid {
			return fmt.Errorf("invalid diff: %s", d.Reason)
		}

		var original string
		if d.OldPath != "/dev/null" {
			data, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("read target: %w", err)
			}
			original = string(data)
		}

		result, err := diffapply.Apply(original, d)
		if err != nil {
			return err
		}

		write, _ := cmd.Flags().GetBool("write")
		if write {
			if err := os.WriteFile(args[1], []byte(result.Content), 0644); err != nil {
				return fmt.Errorf("write target: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied: +%d -%d lines\n", result.Added, result.Deleted)
			return nil
		}
		fmt.Fprint(cmd.OutOrStdout(), result.Content)
		return nil
	},
}

func init() {
	diffApplyCmd.Flags().Bool("write", false, "Write the result back to the target file (default prints to stdout)")
	diffCmd.AddCommand(diffParseCmd)
	diffCmd.AddCommand(diffApplyCmd)
}
