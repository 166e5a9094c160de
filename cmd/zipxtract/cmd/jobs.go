package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"
	"github.com/javi11/zipxtract/internal/database"
	"github.com/javi11/zipxtract/internal/errors"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

var jobsFlags struct {
	status    string
	limit     int
	olderThan time.Duration
}

func init() {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Show the history of extract and update operations",
		Args:  cobra.NoArgs,
		RunE:  runJobs,
	}
	jobsCmd.Flags().StringVar(&jobsFlags.status, "status", "", "only jobs in this status: pending, running, completed, failed or cancelled")
	jobsCmd.Flags().IntVarP(&jobsFlags.limit, "limit", "n", 20, "maximum number of jobs shown, 0 for all")

	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete finished jobs from the history",
		Args:  cobra.NoArgs,
		RunE:  runJobsPrune,
	}
	pruneCmd.Flags().DurationVar(&jobsFlags.olderThan, "older-than", 30*24*time.Hour, "delete jobs last updated before this long ago")

	showCmd := &cobra.Command{
		Use:   "show ID",
		Short: "Show one job and the files attached to it",
		Long: `Show one job of the history. ID may be shortened to any unique prefix,
such as the eight characters printed by "jobs". Files are attached to a job
only while it runs.`,
		Args: cobra.ExactArgs(1),
		RunE: runJobsShow,
	}

	jobsCmd.AddCommand(pruneCmd, showCmd)
	rootCmd.AddCommand(jobsCmd)
}

func parseStatus(s string) (*database.JobStatus, error) {
	if s == "" {
		return nil, nil
	}
	status := database.JobStatus(s)
	switch status {
	case database.JobStatusPending, database.JobStatusRunning, database.JobStatusCompleted,
		database.JobStatusFailed, database.JobStatusCancelled:
		return &status, nil
	}
	return nil, fmt.Errorf("unknown job status %q", s)
}

func runJobs(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	status, err := parseStatus(jobsFlags.status)
	if err != nil {
		return err
	}

	db, err := initializeDatabase(ctx, cfgManager.Snapshot())
	if err != nil {
		return err
	}
	defer db.Close()

	jobs, err := db.Repository().ListJobs(ctx, status, jobsFlags.limit)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Println("no jobs")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tSTATUS\tPROGRESS\tUPDATED\tARCHIVE\tRESULT")
	for _, job := range jobs {
		result := job.ResultPath
		if job.ErrorMessage != "" {
			result = fmt.Sprintf("%s: %s", job.ErrorKind, job.ErrorMessage)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d%%\t%s\t%s\t%s\n",
			shortID(job.ID), job.Kind, job.Status, job.Progress, humanize.Time(job.UpdatedAt), job.ArchivePath, result)
	}
	return w.Flush()
}

func runJobsPrune(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	db, err := initializeDatabase(ctx, cfgManager.Snapshot())
	if err != nil {
		return err
	}
	defer db.Close()

	n, err := db.Repository().DeleteFinishedJobs(ctx, time.Now().Add(-jobsFlags.olderThan))
	if err != nil {
		return err
	}
	fmt.Println(prunedSummary(n))
	return nil
}

func runJobsShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	db, err := initializeDatabase(ctx, cfgManager.Snapshot())
	if err != nil {
		return err
	}
	defer db.Close()

	return describeJob(ctx, db.Repository(), args[0], os.Stdout)
}

// findJob looks id up exactly, then as a prefix of the known ids.
func findJob(ctx context.Context, repo *database.Repository, id string) (*database.Job, error) {
	job, err := repo.GetJob(ctx, id)
	if !errors.Is(err, database.ErrJobNotFound) {
		return job, err
	}

	jobs, err := repo.ListJobs(ctx, nil, 0)
	if err != nil {
		return nil, err
	}
	matches := lo.Filter(jobs, func(j *database.Job, _ int) bool { return strings.HasPrefix(j.ID, id) })
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %s", database.ErrJobNotFound, id)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("job id %q is ambiguous: %s", id, english.Plural(len(matches), "match", "matches"))
	}
}

func describeJob(ctx context.Context, repo *database.Repository, id string, out io.Writer) error {
	job, err := findJob(ctx, repo, id)
	if err != nil {
		return err
	}
	files, err := repo.GetFilesForJob(ctx, job.ID)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "ID:\t%s\n", job.ID)
	fmt.Fprintf(w, "Kind:\t%s\n", job.Kind)
	fmt.Fprintf(w, "Status:\t%s (%d%%)\n", job.Status, job.Progress)
	fmt.Fprintf(w, "Archive:\t%s\n", job.ArchivePath)
	if job.ResultPath != "" {
		fmt.Fprintf(w, "Result:\t%s\n", job.ResultPath)
	}
	if job.ErrorMessage != "" {
		fmt.Fprintf(w, "Error:\t%s: %s\n", job.ErrorKind, job.ErrorMessage)
	}
	fmt.Fprintf(w, "Created:\t%s\n", humanize.Time(job.CreatedAt))
	fmt.Fprintf(w, "Updated:\t%s\n", humanize.Time(job.UpdatedAt))
	for _, f := range files {
		name := f.FilePath
		if f.ItemName != "" {
			name += " as " + f.ItemName
		}
		fmt.Fprintf(w, "File:\t%s\n", name)
	}
	return w.Flush()
}

func prunedSummary(n int) string {
	return "deleted " + english.Plural(n, "job", "")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
