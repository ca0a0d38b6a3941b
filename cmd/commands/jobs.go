package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/Paddel87/AIMAlocal-sub001/internal/core/domain"
	"github.com/Paddel87/AIMAlocal-sub001/internal/plugins/api"
)

// JobsListAction prints one page of jobs.
func JobsListAction(ctx context.Context, cmd *cli.Command) error {
	q := api.ListJobsQuery{Page: cmd.Int("page"), Limit: cmd.Int("limit")}
	if s := cmd.String("status"); s != "" {
		st, ok := domain.ParseJobStatus(strings.ToUpper(s))
		if !ok {
			return fmt.Errorf("unknown status %q", s)
		}
		q.Status = st
	}

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	page, err := appCtx.API.ListJobs(ctx, q)
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Job ID", "Type", "Status", "Progress", "Updated At")
	for _, j := range page.Items {
		table.Append(j.ID, j.Type, string(j.Status), formatProgress(j.Progress), formatTime(j.UpdatedAt))
	}
	table.Render()
	fmt.Printf("page %d, %d of %d jobs\n", page.Page, len(page.Items), page.Total)
	return nil
}

// JobsShowAction prints one job. When the API cannot be reached the cached
// snapshot is shown instead, if there is one.
func JobsShowAction(ctx context.Context, cmd *cli.Command) error {
	jobID := cmd.Args().First()
	if jobID == "" {
		return errors.New("job id is required")
	}

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	job, err := appCtx.API.GetJob(ctx, jobID)
	if err != nil {
		var apiErr *api.Error
		if errors.As(err, &apiErr) && apiErr.NotFound() {
			return fmt.Errorf("job %s not found", jobID)
		}
		if appCtx.Snapshots == nil {
			return fmt.Errorf("failed to get job: %w", err)
		}
		cached, ok, cacheErr := appCtx.Snapshots.LoadProjection(ctx, jobID)
		if cacheErr != nil || !ok {
			return fmt.Errorf("failed to get job: %w", err)
		}
		appCtx.Log.Warn("api unavailable, showing cached status", "err", err)
		fmt.Println("(cached)")
		printJob(domain.Job{
			ID:        cached.JobID,
			Status:    cached.Status,
			Progress:  cached.Progress,
			Result:    cached.Result,
			Error:     cached.Error,
			CreatedAt: cached.CreatedAt,
			UpdatedAt: cached.UpdatedAt,
		})
		return nil
	}
	printJob(*job)
	return nil
}

func printJob(j domain.Job) {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")
	table.Append("ID", j.ID)
	if j.Type != "" {
		table.Append("Type", j.Type)
	}
	table.Append("Status", string(j.Status))
	table.Append("Progress", formatProgress(j.Progress))
	if j.Error != "" {
		table.Append("Error", j.Error)
	}
	table.Append("Created At", formatTime(j.CreatedAt))
	table.Append("Updated At", formatTime(j.UpdatedAt))
	table.Render()
	if len(j.Result) > 0 {
		fmt.Printf("result: %s\n", j.Result)
	}
}

// StatsAction prints platform processing statistics.
func StatsAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	stats, err := appCtx.API.GetMLStats(ctx)
	if err != nil {
		return fmt.Errorf("failed to get stats: %w", err)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Metric", "Value")
	table.Append("Total jobs", fmt.Sprintf("%d", stats.TotalJobs))
	table.Append("Active jobs", fmt.Sprintf("%d", stats.ActiveJobs))
	table.Append("Completed jobs", fmt.Sprintf("%d", stats.CompletedJobs))
	table.Append("Failed jobs", fmt.Sprintf("%d", stats.FailedJobs))
	table.Append("Average processing time", fmt.Sprintf("%.1fs", stats.AverageSeconds))
	for typ, n := range stats.ByType {
		table.Append("Jobs: "+typ, fmt.Sprintf("%d", n))
	}
	table.Render()
	return nil
}

func formatProgress(p *float64) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprintf("%.0f%%", *p*100)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
