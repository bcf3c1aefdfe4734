package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/suPer8Hu/roomstage/internal/staging"
)

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Inspect and manage staging jobs",
}

var jobGetCmd = &cobra.Command{
	Use:   "get <job-id>",
	Short: "Show a job, polling its provider if it is still running",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobGet,
}

var jobPromoteCmd = &cobra.Command{
	Use:   "promote <job-id>",
	Short: "Make a job the primary version of its group",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobPromote,
}

var jobVersionsCmd = &cobra.Command{
	Use:   "versions <job-id>",
	Short: "List every version in the job's version group",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobVersions,
}

func init() {
	rootCmd.AddCommand(jobCmd)
	jobCmd.AddCommand(jobGetCmd, jobPromoteCmd, jobVersionsCmd)
	jobCmd.PersistentFlags().Uint64("user", 0, "Owning user id (required)")
	_ = jobCmd.MarkPersistentFlagRequired("user")
}

func jobUser(cmd *cobra.Command) (uint64, error) {
	uid, _ := cmd.Flags().GetUint64("user")
	if uid == 0 {
		return 0, errors.New("--user must be a positive user id")
	}
	return uid, nil
}

func runJobGet(cmd *cobra.Command, args []string) error {
	uid, err := jobUser(cmd)
	if err != nil {
		return err
	}
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	job, err := a.Service.GetJobStatus(cmd.Context(), uid, args[0])
	if err != nil {
		return err
	}
	return printJobs(cmd, []staging.Job{*job})
}

func runJobPromote(cmd *cobra.Command, args []string) error {
	uid, err := jobUser(cmd)
	if err != nil {
		return err
	}
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	job, err := a.Service.SetPrimaryVersion(cmd.Context(), uid, args[0])
	if err != nil {
		return err
	}
	return printJobs(cmd, []staging.Job{*job})
}

func runJobVersions(cmd *cobra.Command, args []string) error {
	uid, err := jobUser(cmd)
	if err != nil {
		return err
	}
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	jobs, total, err := a.Service.GetVersions(cmd.Context(), uid, args[0])
	if err != nil {
		return err
	}
	if wantJSON(cmd) {
		return writeJSON(cmd.OutOrStdout(), map[string]any{"versions": jobs, "total": total})
	}
	return printJobs(cmd, jobs)
}

func printJobs(cmd *cobra.Command, jobs []staging.Job) error {
	out := cmd.OutOrStdout()
	if wantJSON(cmd) {
		if len(jobs) == 1 {
			return writeJSON(out, jobs[0])
		}
		return writeJSON(out, jobs)
	}
	return jobTable(out, jobs)
}

func jobTable(w io.Writer, jobs []staging.Job) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB\tSTATUS\tPROVIDER\tROOM\tSTYLE\tPRIMARY\tRESULT")
	for _, j := range jobs {
		result := "-"
		switch {
		case j.StagedImageURL != nil:
			result = *j.StagedImageURL
		case j.ErrorMessage != nil:
			result = *j.ErrorMessage
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%t\t%s\n",
			j.ID, j.Status, j.Provider, j.RoomType, j.FurnitureStyle, j.IsPrimaryVersion, result)
	}
	return tw.Flush()
}
