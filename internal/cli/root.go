package cli

import (
	"github.com/spf13/cobra"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var rootCmd = &cobra.Command{
	Use:   "fixfactory",
	Short: "fixfactory — auto-repair for sandboxed build/run commands",
	Long: `fixfactory classifies failures from sandboxed build and run commands,
applies deterministic or agent-supplied fixes, and persists workflow
checkpoints so interrupted generation jobs can resume.

State lives in ~/.fixfactory/ (SQLite for checkpoints and the event log).`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(checkpointCmd)
	rootCmd.AddCommand(jobCmd)
	rootCmd.AddCommand(configCmd)
}
