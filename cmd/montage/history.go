package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/therealutkarshpriyadarshi/montage/internal/config"
	"github.com/therealutkarshpriyadarshi/montage/internal/database"
	"github.com/therealutkarshpriyadarshi/montage/pkg/models"
)

var historyLimit int

// historyReader is the read side of the export history repository
type historyReader interface {
	ListExports(ctx context.Context, limit, offset int) ([]*models.ExportJob, error)
	ExportStats(ctx context.Context) (map[string]int64, error)
	GetExport(ctx context.Context, id string) (*models.ExportJob, error)
}

var historyCmd = &cobra.Command{
	Use:   "history [JOB_ID]",
	Short: "List recorded renders, or show one of them",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fatalInit(err)
		}
		if !cfg.Database.Enabled {
			return fatalInit(errors.New("export history needs database.enabled"))
		}

		ctx := cmd.Context()
		db, err := database.New(ctx, cfg.Database)
		if err != nil {
			return fatalInit(err)
		}
		defer db.Close()

		logger, err := newLogger(cfg.Logging)
		if err != nil {
			return fatalInit(err)
		}
		return runHistory(ctx, cmd.OutOrStdout(), database.NewRepository(db, logger), args, historyLimit)
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of renders to list")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(ctx context.Context, w io.Writer, r historyReader, args []string, limit int) error {
	if len(args) == 1 {
		job, err := r.GetExport(ctx, args[0])
		if err != nil {
			return err
		}
		printExport(w, job)
		return nil
	}

	jobs, err := r.ListExports(ctx, limit, 0)
	if err != nil {
		return err
	}
	stats, err := r.ExportStats(ctx)
	if err != nil {
		return err
	}
	printHistory(w, jobs, stats)
	return nil
}

func printHistory(w io.Writer, jobs []*models.ExportJob, stats map[string]int64) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tPROGRESS\tSIZE\tOUTPUT\tCREATED")
	for _, j := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%.0f%%\t%dx%d\t%s\t%s\n",
			j.ID, j.Status, j.Progress*100, j.Settings.Width, j.Settings.Height,
			j.OutputPath, j.CreatedAt.Format(time.DateTime))
	}
	tw.Flush()

	statuses := make([]string, 0, len(stats))
	for s := range stats {
		statuses = append(statuses, s)
	}
	sort.Strings(statuses)
	for _, s := range statuses {
		fmt.Fprintf(w, "%s: %d\n", s, stats[s])
	}
}

func printExport(w io.Writer, j *models.ExportJob) {
	fmt.Fprintf(w, "%s\n  status:   %s (%.0f%%)\n  project:  %s\n  output:   %s\n  settings: %dx%d %s @ %.3g fps, %d frames\n",
		j.ID, j.Status, j.Progress*100, j.ProjectPath, j.OutputPath,
		j.Settings.Width, j.Settings.Height, j.Settings.VideoCodec, j.Settings.FPS, j.Settings.TotalFrames)
	if j.ErrorMsg != "" {
		fmt.Fprintf(w, "  error:    %s\n", j.ErrorMsg)
	}
	if j.ObjectURL != "" {
		fmt.Fprintf(w, "  url:      %s\n", j.ObjectURL)
	}
	if j.StartedAt != nil && j.CompletedAt != nil {
		fmt.Fprintf(w, "  elapsed:  %s\n", j.CompletedAt.Sub(*j.StartedAt).Round(time.Millisecond))
	}
}
