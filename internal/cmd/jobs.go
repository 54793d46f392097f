package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/3leaps/gohaul/pkg/haul"
	"github.com/3leaps/gohaul/pkg/haulstore"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect transfer jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List an owner's jobs",
	Long: `List jobs for one owner, newest first.

Examples:
  # List jobs for an owner
  gohaul jobs list --owner acme

  # List with JSON output
  gohaul jobs list --owner acme --json`,
	RunE: runJobsList,
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show one job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsShow,
}

var jobsTimelineCmd = &cobra.Command{
	Use:   "timeline <job-id>",
	Short: "Show a job's status timeline",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsTimeline,
}

var jobsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show job counts by status",
	RunE:  runJobsStats,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd, jobsShowCmd, jobsTimelineCmd, jobsStatsCmd)

	jobsListCmd.Flags().String("owner", "", "Owner id (required)")
	jobsListCmd.Flags().Int("limit", 50, "Maximum jobs to list")
	jobsListCmd.Flags().Bool("json", false, "Output as JSON")
	_ = jobsListCmd.MarkFlagRequired("owner")

	jobsShowCmd.Flags().Bool("json", false, "Output as JSON")
	jobsTimelineCmd.Flags().Bool("json", false, "Output as JSON")
	jobsStatsCmd.Flags().Bool("json", false, "Output as JSON")
}

// openStore opens the job store at the configured database path.
func openStore(cmd *cobra.Command) (*haulstore.Store, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	store, err := haulstore.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open job store %s: %w", cfg.Database.Path, err)
	}
	return store, nil
}

func runJobsList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	owner, _ := cmd.Flags().GetString("owner")
	limit, _ := cmd.Flags().GetInt("limit")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	jobs, err := store.ListByOwner(ctx, owner, haul.ListOpts{Limit: limit})
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}
	if len(jobs) == 0 {
		_, _ = fmt.Fprintln(os.Stderr, "No jobs found")
		return nil
	}

	if jsonOutput {
		return printJSON(jobs)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTATUS\tTYPE\tSOURCE\tPROGRESS\tRETRIES\tCREATED")
	for _, j := range jobs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			j.ID, j.Status, j.JobType, j.SourceRef,
			formatProgress(j), j.RetryCount,
			j.CreatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func runJobsShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	jsonOutput, _ := cmd.Flags().GetBool("json")

	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	j, err := store.GetJob(ctx, args[0])
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}

	if jsonOutput {
		return printJSON(j)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "ID\t%s\n", j.ID)
	_, _ = fmt.Fprintf(w, "Owner\t%s\n", j.OwnerID)
	_, _ = fmt.Fprintf(w, "Type\t%s\n", j.JobType)
	_, _ = fmt.Fprintf(w, "Status\t%s\n", j.Status)
	_, _ = fmt.Fprintf(w, "Source\t%s\n", j.SourceRef)
	_, _ = fmt.Fprintf(w, "Destination\t%s\n", j.DestinationID)
	if j.Subset != "" {
		_, _ = fmt.Fprintf(w, "Subset\t%s\n", j.Subset)
	}
	_, _ = fmt.Fprintf(w, "Progress\t%s\n", formatProgress(j))
	_, _ = fmt.Fprintf(w, "Retries\t%d\n", j.RetryCount)
	if j.ErrorMessage != "" {
		_, _ = fmt.Fprintf(w, "Error\t%s\n", j.ErrorMessage)
	}
	_, _ = fmt.Fprintf(w, "Refunded\t%t\n", j.Refunded)
	_, _ = fmt.Fprintf(w, "Created\t%s\n", j.CreatedAt.Format(time.RFC3339))
	if j.StartedAt != nil {
		_, _ = fmt.Fprintf(w, "Started\t%s\n", j.StartedAt.Format(time.RFC3339))
	}
	if j.CompletedAt != nil {
		_, _ = fmt.Fprintf(w, "Completed\t%s\n", j.CompletedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func runJobsTimeline(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	jsonOutput, _ := cmd.Flags().GetBool("json")

	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	entries, err := store.Timeline(ctx, args[0], haul.TimelinePage{})
	if err != nil {
		return fmt.Errorf("load timeline: %w", err)
	}
	if len(entries) == 0 {
		_, _ = fmt.Fprintln(os.Stderr, "No timeline entries found")
		return nil
	}

	if jsonOutput {
		return printJSON(entries)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CHANGED\tFROM\tTO\tSOURCE\tERROR")
	for _, e := range entries {
		from := "-"
		if e.FromStatus != nil {
			from = string(*e.FromStatus)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.ChangedAt.Format(time.RFC3339), from, e.ToStatus, e.Source, e.ErrorMessage)
	}
	return w.Flush()
}

func runJobsStats(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	jsonOutput, _ := cmd.Flags().GetBool("json")

	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	counts, err := store.CountByStatus(ctx)
	if err != nil {
		return fmt.Errorf("count jobs: %w", err)
	}

	if jsonOutput {
		return printJSON(counts)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "STATUS\tCOUNT")
	var total int64
	for _, s := range statusOrder {
		if n, ok := counts[s]; ok {
			_, _ = fmt.Fprintf(w, "%s\t%d\n", s, n)
			total += n
		}
	}
	_, _ = fmt.Fprintf(w, "total\t%d\n", total)
	return w.Flush()
}

// statusOrder lists statuses pipeline-first for stable stats output.
var statusOrder = []haul.Status{
	haul.StatusQueued, haul.StatusFetching, haul.StatusFetchRetry,
	haul.StatusStaging, haul.StatusStageRetry,
	haul.StatusPendingPush, haul.StatusPushing, haul.StatusPushRetry,
	haul.StatusCompleted, haul.StatusCancelled,
	haul.StatusFetchFailed, haul.StatusPushFailed, haul.StatusFailed,
}

func formatProgress(j *haul.Job) string {
	if j.TotalBytes <= 0 {
		return fmt.Sprintf("%d B", j.FetchedBytes)
	}
	return fmt.Sprintf("%.0f%% (%d/%d B)", j.ProgressPercent(), j.FetchedBytes, j.TotalBytes)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
