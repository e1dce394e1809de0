package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"
)

var errNoDatabase = errors.New("database not configured; job history unavailable")

// JobsOptions configure the jobs command.
type JobsOptions struct {
	UserID string
	Limit  int
}

// ShowJobs prints recent rebalance jobs.
func (a *App) ShowJobs(ctx context.Context, opts JobsOptions) error {
	store, closeStore, err := a.withStore(ctx, true)
	if err != nil {
		return err
	}
	defer closeStore()

	jobs, err := store.ListRecentJobs(ctx, opts.UserID, opts.Limit)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Fprintln(a.Out, "no jobs found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Started (UTC)\tUser\tStatus\tDuration\tJob\tError")

	for _, job := range jobs {
		duration := "-"
		if job.FinishedAt != nil {
			duration = job.FinishedAt.Sub(job.StartedAt).Round(time.Second).String()
		}
		errMsg := ""
		if job.Error != nil {
			errMsg = sanitizeInline(*job.Error)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\n",
			job.StartedAt.UTC().Format(time.RFC3339),
			job.UserID,
			job.Status,
			duration,
			job.ID,
			errMsg,
		)
	}

	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
