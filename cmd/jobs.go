package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var jobsFailedLimit int

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and recover failed queue jobs",
}

var jobsFailedCmd = &cobra.Command{
	Use:   "failed",
	Short: "List jobs that exhausted their retry budget",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		jobs, err := st.ListFailedJobs(ctx, jobsFailedLimit)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(jobs)
	},
}

var jobsRequeueCmd = &cobra.Command{
	Use:   "requeue <job-id>",
	Short: "Put a failed job back on the queue with a fresh attempt budget",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.RequeueJob(ctx, args[0], time.Now().UTC()); err != nil {
			return err
		}
		zap.L().Info("job requeued", zap.String("job_id", args[0]))
		return nil
	},
}

func init() {
	jobsFailedCmd.Flags().IntVar(&jobsFailedLimit, "limit", 100, "maximum jobs to list")
	jobsCmd.AddCommand(jobsFailedCmd, jobsRequeueCmd)
	rootCmd.AddCommand(jobsCmd)
}
