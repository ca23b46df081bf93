package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/stacklok/fieldsync/internal/app"
	"github.com/stacklok/fieldsync/internal/session"
	pkgsync "github.com/stacklok/fieldsync/internal/sync"
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync pass now",
		Long: `Push pending records of every type, or of one type with --type, to the remote
service for the configured session. The pass runs regardless of the automatic sync
preference.`,
		RunE: runSync,
	}
	cmd.Flags().String("type", "", "Record type to sync (attendance-by-staff, attendance-by-student, score-entries)")
	return cmd
}

func runSync(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	recordType, err := recordTypeFlag(cmd.Flags())
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

	principal, err := engine.Sessions.Current(ctx)
	if errors.Is(err, session.ErrNoSession) {
		return fmt.Errorf("no active session: configure session.principalId")
	}
	if err != nil {
		return err
	}
	if !principal.CanSync(cfg.Session.GetEligibleRoles()) {
		return fmt.Errorf("role %q is not permitted to sync", principal.Role)
	}

	var results []pkgsync.Result
	if recordType != "" {
		result, err := engine.Scheduler.SyncTypeNow(ctx, recordType, principal.ID)
		if err != nil {
			return err
		}
		results = []pkgsync.Result{result}
	} else {
		summary, err := engine.Scheduler.SyncNow(ctx, principal.ID)
		if err != nil {
			return err
		}
		results = summary.Results
	}

	if err := renderResults(cmd.OutOrStdout(), results); err != nil {
		return err
	}
	for _, r := range results {
		if !r.Succeeded {
			return fmt.Errorf("sync finished with errors")
		}
	}
	return nil
}

func renderResults(w io.Writer, results []pkgsync.Result) error {
	table := tablewriter.NewWriter(w)
	table.Header("Type", "Status", "Records", "Duration", "Error")
	for _, r := range results {
		status := "ok"
		errMsg := ""
		if !r.Succeeded {
			status = "failed"
			if r.Err != nil {
				errMsg = r.Err.Message
			}
		}
		if err := table.Append(
			string(r.RecordType),
			status,
			strconv.Itoa(r.RecordsTransferred),
			r.Duration.String(),
			errMsg,
		); err != nil {
			return err
		}
	}
	return table.Render()
}
