package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/fixfactory/internal/config"
	"github.com/lucasnoah/fixfactory/internal/db"
)

// openEvents opens the event log named by the resolved config.
func openEvents() (*db.DB, error) {
	cfg, err := config.LoadDefault()
	if err != nil {
		return nil, err
	}
	path := cfg.EventLog.Path
	if path == "" {
		path, err = db.DefaultDBPath()
		if err != nil {
			return nil, err
		}
	}
	database, err := db.Open(path)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Inspect job history from the event log",
}

var jobStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Summarize a job: latest run and fix success rate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openEvents()
		if err != nil {
			return err
		}
		defer database.Close()

		runs, err := database.GetCommandRuns(args[0], 1)
		if err != nil {
			return err
		}
		succeeded, total, err := database.FixSuccessRate(args[0])
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if len(runs) == 0 {
			fmt.Fprintln(w, "No runs recorded for this job.")
			return nil
		}
		r := runs[0]
		fmt.Fprintf(w, "command:  %s\n", r.Command)
		fmt.Fprintf(w, "runtime:  %s\n", r.Runtime)
		fmt.Fprintf(w, "state:    %s\n", r.State)
		if r.ExitCode != nil {
			fmt.Fprintf(w, "exit:     %d\n", *r.ExitCode)
		}
		if r.ServerURL != "" {
			fmt.Fprintf(w, "server:   %s\n", r.ServerURL)
		}
		if r.Category != "" {
			fmt.Fprintf(w, "error:    %s\n", r.Category)
		}
		if total > 0 {
			fmt.Fprintf(w, "fixes:    %d/%d succeeded\n", succeeded, total)
		}
		return nil
	},
}

var jobRunsCmd = &cobra.Command{
	Use:   "runs <job-id>",
	Short: "List command runs for a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openEvents()
		if err != nil {
			return err
		}
		defer database.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := database.GetCommandRuns(args[0], limit)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if len(runs) == 0 {
			fmt.Fprintln(w, "No runs recorded for this job.")
			return nil
		}
		fmt.Fprintf(w, "%-10s %-6s %-10s %-10s %s\n", "STATE", "EXIT", "RUNTIME", "ERROR", "COMMAND")
		fmt.Fprintf(w, "%-10s %-6s %-10s %-10s %s\n",
			strings.Repeat("-", 10),
			strings.Repeat("-", 6),
			strings.Repeat("-", 10),
			strings.Repeat("-", 10),
			strings.Repeat("-", 7))
		for _, r := range runs {
			exit := "-"
			if r.ExitCode != nil {
				exit = fmt.Sprintf("%d", *r.ExitCode)
			}
			fmt.Fprintf(w, "%-10s %-6s %-10s %-10s %s\n", r.State, exit, r.Runtime, r.Category, r.Command)
		}
		return nil
	},
}

var jobFixesCmd = &cobra.Command{
	Use:   "fixes <job-id>",
	Short: "List fix attempts for a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openEvents()
		if err != nil {
			return err
		}
		defer database.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		fixes, err := database.GetFixAttempts(args[0], limit)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if len(fixes) == 0 {
			fmt.Fprintln(w, "No fix attempts recorded for this job.")
			return nil
		}
		fmt.Fprintf(w, "%-4s %-12s %-14s %-8s %s\n", "ATT", "CATEGORY", "TIER", "RESULT", "DETAIL")
		for _, f := range fixes {
			result := "fail"
			if f.Success {
				result = "ok"
			}
			fmt.Fprintf(w, "%-4d %-12s %-14s %-8s %s\n", f.Attempt, f.Category, f.Tier, result, f.Detail)
		}
		return nil
	},
}

var jobEventsCmd = &cobra.Command{
	Use:   "events <job-id>",
	Short: "List lifecycle events for a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openEvents()
		if err != nil {
			return err
		}
		defer database.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		events, err := database.GetJobEvents(args[0], limit)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if len(events) == 0 {
			fmt.Fprintln(w, "No events recorded for this job.")
			return nil
		}
		for _, e := range events {
			if e.Detail != "" {
				fmt.Fprintf(w, "%s  %-16s %s\n", e.Timestamp, e.Event, e.Detail)
			} else {
				fmt.Fprintf(w, "%s  %s\n", e.Timestamp, e.Event)
			}
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{jobRunsCmd, jobFixesCmd, jobEventsCmd} {
		c.Flags().Int("limit", 20, "Maximum rows to show")
	}
	jobCmd.AddCommand(jobStatusCmd)
	jobCmd.AddCommand(jobRunsCmd)
	jobCmd.AddCommand(jobFixesCmd)
	jobCmd.AddCommand(jobEventsCmd)
}
