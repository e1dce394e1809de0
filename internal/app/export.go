package app

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"bosgateway/internal/rebalance"
	"bosgateway/internal/storage"
)

// ExportOptions hold parameters for exporting job history.
type ExportOptions struct {
	UserID    string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// jobRow is one exported job with derived columns.
type jobRow struct {
	job      storage.JobRecord
	amount   decimal.Decimal
	duration time.Duration
}

// Export renders job history as CSV and/or a PNG chart.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	store, closeStore, err := a.withStore(ctx, true)
	if err != nil {
		return err
	}
	defer closeStore()

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}
	from := to.Add(-30 * 24 * time.Hour)
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	jobs, err := store.ListJobsBetween(ctx, opts.UserID, from, to)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		a.Logger.Info().Msg("no jobs found for export window")
		return nil
	}

	rows := buildRows(jobs)
	downsampled := downsampleRows(rows, opts.MaxPoints)
	a.Logger.Info().Int("total", len(rows)).Int("exported", len(downsampled)).Msg("exporting jobs")

	if opts.CSVPath != "" {
		if err := writeJobsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeJobsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func buildRows(jobs []storage.JobRecord) []jobRow {
	rows := make([]jobRow, 0, len(jobs))
	for _, job := range jobs {
		row := jobRow{job: job}
		var params rebalance.Params
		if err := json.Unmarshal(job.Params, &params); err == nil && params.MaxRebalance != "" {
			row.amount, _ = decimal.NewFromString(params.MaxRebalance)
		}
		if job.FinishedAt != nil {
			row.duration = job.FinishedAt.Sub(job.StartedAt)
		}
		rows = append(rows, row)
	}
	return rows
}

func downsampleRows(rows []jobRow, max int) []jobRow {
	if max <= 1 || len(rows) <= max {
		return rows
	}

	result := make([]jobRow, 0, max)
	step := float64(len(rows)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(rows) {
			idx = len(rows) - 1
		}
		result = append(result, rows[idx])
	}
	return result
}

func writeJobsCSV(path string, rows []jobRow) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	header := []string{"started_at", "finished_at", "job_id", "user_id", "status", "duration_seconds", "max_rebalance", "error"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, row := range rows {
		finished := ""
		if row.job.FinishedAt != nil {
			finished = row.job.FinishedAt.UTC().Format(time.RFC3339)
		}
		errMsg := ""
		if row.job.Error != nil {
			errMsg = *row.job.Error
		}
		amount := ""
		if row.amount.IsPositive() {
			amount = row.amount.String()
		}
		record := []string{
			row.job.StartedAt.UTC().Format(time.RFC3339),
			finished,
			row.job.ID.String(),
			row.job.UserID,
			row.job.Status,
			strconv.FormatFloat(row.duration.Seconds(), 'f', 0, 64),
			amount,
			errMsg,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// writeJobsPNG charts finished job durations and the cumulative amount of
// succeeded jobs.
func writeJobsPNG(path string, rows []jobRow) error {
	x := make([]time.Time, 0, len(rows))
	durations := make([]float64, 0, len(rows))
	cumulative := make([]float64, 0, len(rows))

	total := decimal.Zero
	for _, row := range rows {
		if row.job.FinishedAt == nil {
			continue
		}
		if row.job.Status == storage.StatusSucceeded {
			total = total.Add(row.amount)
		}
		x = append(x, row.job.StartedAt)
		durations = append(durations, row.duration.Seconds())
		cumulative = append(cumulative, total.InexactFloat64())
	}
	if len(x) < 2 {
		return fmt.Errorf("need at least two finished jobs to chart, have %d", len(x))
	}

	if err := ensureDir(path); err != nil {
		return err
	}

	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name: "Duration (s)",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.0f")
			},
		},
		YAxisSecondary: chart.YAxis{
			Name: "Rebalanced (sats)",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.0f")
			},
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Duration",
				XValues: x,
				YValues: durations,
			},
			chart.TimeSeries{
				Name:    "Cumulative amount",
				XValues: x,
				YValues: cumulative,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
