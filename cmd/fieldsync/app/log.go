package app

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/stacklok/fieldsync/internal/app"
	"github.com/stacklok/fieldsync/internal/auditlog"
)

func newLogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show the sync audit log",
		Long: `Show retained sync audit entries, newest first. Use --stats for aggregate
counters or --clear to empty the log.`,
		RunE: runLog,
	}
	cmd.Flags().String("type", "", "Only show entries for this record type")
	cmd.Flags().String("status", "", "Only show entries with this status (success, failed, partial)")
	cmd.Flags().Bool("stats", false, "Show aggregate statistics instead of entries")
	cmd.Flags().Bool("clear", false, "Remove every entry")
	return cmd
}

func runLog(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	filter, err := logFilter(cmd)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	engine, err := app.NewEngine(ctx, app.WithConfig(cfg))
	if err != nil {
		return err
	}
	defer engine.Close()

	out := cmd.OutOrStdout()

	if clearLog, _ := cmd.Flags().GetBool("clear"); clearLog {
		if err := engine.AuditLog.Clear(ctx); err != nil {
			return err
		}
		_, err := fmt.Fprintln(out, "Sync log cleared")
		return err
	}

	if stats, _ := cmd.Flags().GetBool("stats"); stats {
		s, err := engine.AuditLog.Stats(ctx)
		if err != nil {
			return err
		}
		return renderStats(out, s)
	}

	entries, err := engine.AuditLog.Query(ctx, filter)
	if err != nil {
		return err
	}
	return renderEntries(out, entries)
}

func logFilter(cmd *cobra.Command) (auditlog.Filter, error) {
	var filter auditlog.Filter

	t, err := recordTypeFlag(cmd.Flags())
	if err != nil {
		return filter, err
	}
	filter.RecordType = t

	if v, _ := cmd.Flags().GetString("status"); v != "" {
		s, ok := auditlog.ParseStatus(v)
		if !ok {
			return filter, fmt.Errorf("status must be one of success, failed, partial")
		}
		filter.Status = s
	}
	return filter, nil
}

func renderEntries(w io.Writer, entries []auditlog.Entry) error {
	table := tablewriter.NewWriter(w)
	table.Header("Time", "Scope", "Type", "Status", "Records", "Duration", "Errors")
	for _, e := range entries {
		if err := table.Append(
			e.Timestamp.Local().Format(time.DateTime),
			string(e.Scope),
			string(e.RecordType),
			string(e.Status),
			strconv.Itoa(e.RecordsSynced),
			(time.Duration(e.DurationMs) * time.Millisecond).String(),
			strings.Join(e.Errors, "; "),
		); err != nil {
			return err
		}
	}
	return table.Render()
}

func renderStats(w io.Writer, s auditlog.Stats) error {
	last := "never"
	if s.LastSyncTime != nil {
		last = s.LastSyncTime.Local().Format(time.DateTime)
	}

	table := tablewriter.NewWriter(w)
	table.Header("Total", "Successful", "Failed", "Records", "Average", "Last sync")
	if err := table.Append(
		strconv.Itoa(s.TotalSyncs),
		strconv.Itoa(s.SuccessfulSyncs),
		strconv.Itoa(s.FailedSyncs),
		strconv.Itoa(s.TotalRecordsSynced),
		fmt.Sprintf("%.0fms", s.AverageDurationMs),
		last,
	); err != nil {
		return err
	}
	return table.Render()
}
