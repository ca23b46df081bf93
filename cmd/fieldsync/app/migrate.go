package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/spf13/cobra"

	"github.com/stacklok/fieldsync/database"
	"github.com/stacklok/fieldsync/internal/config"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration tool",
		Long: `Create or drop the state table used when storage.type is "database". Use with
'up' or 'down' subcommands.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Usage()
		},
	}
	cmd.PersistentFlags().BoolP("yes", "y", false, "Answer yes to all questions")

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Create the state table",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigration(cmd, "apply", database.MigrateUp)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Drop the state table",
		Long: `Drop the state table.
WARNING: this removes every watermark, the audit log and the auto-sync preference.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigration(cmd, "revert", database.MigrateDown)
		},
	})
	return cmd
}

func runMigration(cmd *cobra.Command, verb string, migrate func(context.Context, *pgx.Conn) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	yes, err := cmd.Flags().GetBool("yes")
	if err != nil {
		return fmt.Errorf("failed to get yes flag: %w", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.GetStorageType() != config.StorageTypeDatabase || cfg.Storage.Database == nil {
		return fmt.Errorf("database storage is not configured")
	}
	db := cfg.Storage.Database

	if !yes {
		prompt := fmt.Sprintf("About to %s migrations on %s@%s:%d/%s. Continue? (yes/no): ",
			verb, db.User, db.Host, db.Port, db.Database)
		ok, err := confirm(cmd.InOrStdin(), cmd.OutOrStdout(), prompt)
		if err != nil {
			return err
		}
		if !ok {
			slog.Info("Migration cancelled by user")
			return nil
		}
	}

	connString, err := db.GetConnectionString()
	if err != nil {
		return fmt.Errorf("failed to get connection string: %w", err)
	}
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		if closeErr := conn.Close(ctx); closeErr != nil {
			slog.Error("Error closing database connection", "error", closeErr)
		}
	}()

	if err := migrate(ctx, conn); err != nil {
		return fmt.Errorf("failed to %s migrations: %w", verb, err)
	}
	slog.Info("Migrations complete", "direction", verb)
	return nil
}

func confirm(in io.Reader, out io.Writer, prompt string) (bool, error) {
	if _, err := fmt.Fprint(out, prompt); err != nil {
		return false, err
	}
	response, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("failed to read user input: %w", err)
	}
	response = strings.ToLower(strings.TrimSpace(response))
	return response == "yes" || response == "y", nil
}
