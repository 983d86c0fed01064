package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/fixfactory/internal/checkpoint"
	"github.com/lucasnoah/fixfactory/internal/config"
)

// openStore opens the checkpoint backend named by the resolved config.
func openStore(ctx context.Context) (checkpoint.Store, error) {
	cfg, err := config.LoadDefault()
	if err != nil {
		return nil, err
	}
	switch cfg.Checkpoint.Backend {
	case "postgres":
		return checkpoint.OpenPostgres(ctx, cfg.Checkpoint.DSN)
	default:
		path := cfg.Checkpoint.Path
		if path == "" {
			path, err = checkpoint.DefaultDBPath()
			if err != nil {
				return nil, err
			}
		}
		return checkpoint.OpenSQLite(path)
	}
}

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Inspect and manage workflow checkpoints",
}

var checkpointListCmd = &cobra.Command{
	Use:   "list",
	Short: "List checkpoints, optionally filtered by status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		statusFilter, _ := cmd.Flags().GetString("status")
		records, err := store.List(ctx, checkpoint.Status(statusFilter))
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if len(records) == 0 {
			fmt.Fprintln(w, "No checkpoints found.")
			return nil
		}
		fmt.Fprintf(w, "%-38s %-10s %-12s %-12s %-6s %s\n", "JOB", "WORKFLOW", "STATUS", "STEP", "RETRY", "UPDATED")
		fmt.Fprintf(w, "%-38s %-10s %-12s %-12s %-6s %s\n",
			strings.Repeat("-", 38),
			strings.Repeat("-", 10),
			strings.Repeat("-", 12),
			strings.Repeat("-", 12),
			strings.Repeat("-", 6),
			strings.Repeat("-", 7))
		for _, r := range records {
			fmt.Fprintf(w, "%-38s %-10s %-12s %-12s %-6d %s\n",
				r.JobID, r.Workflow, r.Status, r.CurrentStep, r.RetryCount,
				r.UpdatedAt.Format(time.RFC3339))
		}
		return nil
	},
}

var checkpointShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Print the full checkpoint record for a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		rec, err := store.Get(ctx, args[0])
		if err != nil {
			return err
		}
		out, _ := json.MarshalIndent(rec, "", "  ")
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

var checkpointResumeCmd = &cobra.Command{
	Use:   "resume-point <job-id>",
	Short: "Compute where a failed or interrupted job picks back up",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		rp, err := store.GetResumePoint(ctx, args[0])
		if err != nil {
			return err
		}
		out, _ := json.MarshalIndent(rp, "", "  ")
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

var checkpointDeleteCmd = &cobra.Command{
	Use:   "delete <job-id>",
	Short: "Delete a checkpoint record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()
		return store.Delete(ctx, args[0])
	},
}

var checkpointCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete checkpoints older than the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := config.LoadDefault()
		if err != nil {
			return err
		}
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		hours, _ := cmd.Flags().GetFloat64("ttl-hours")
		if hours <= 0 {
			hours = cfg.Checkpoint.TTLHours
		}
		n, err := store.CleanupOlderThan(ctx, time.Duration(hours*float64(time.Hour)))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %d checkpoint(s)\n", n)
		return nil
	},
}

func init() {
	checkpointListCmd.Flags().String("status", "", "Filter by status (pending, in_progress, completed, failed, interrupted)")
	checkpointCleanupCmd.Flags().Float64("ttl-hours", 0, "Retention window in hours (default from config)")
	checkpointCmd.AddCommand(checkpointListCmd)
	checkpointCmd.AddCommand(checkpointShowCmd)
	checkpointCmd.AddCommand(checkpointResumeCmd)
	checkpointCmd.AddCommand(checkpointDeleteCmd)
	checkpointCmd.AddCommand(checkpointCleanupCmd)
}
