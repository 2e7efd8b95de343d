package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/idclinic/idclinic/internal/config"
	"github.com/idclinic/idclinic/internal/domain/patient"
	"github.com/idclinic/idclinic/internal/platform/auth"
	"github.com/idclinic/idclinic/internal/platform/db"
	"github.com/idclinic/idclinic/internal/platform/logging"
	"github.com/idclinic/idclinic/internal/platform/spreadsheet"
	"github.com/idclinic/idclinic/pkg/caldate"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "idclinic",
		Short:        "Infectious disease clinic patient records server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(tokenCmd())
	return rootCmd
}

func newLogger(cfg *config.Config) zerolog.Logger {
	return logging.New(logging.Options{
		Level:      cfg.LogLevel,
		Env:        cfg.Env,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator) error {
				applied, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				for _, mig := range applied {
					fmt.Fprintf(cmd.OutOrStdout(), "applied %03d %s\n", mig.Version, mig.Name)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", len(applied))
				return nil
			})
		},
	}
	addMigrateFlags(upCmd)
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printMigrationStatus(cmd.OutOrStdout(), statuses)
				return nil
			})
		},
	}
	addMigrateFlags(statusCmd)
	cmd.AddCommand(statusCmd)

	return cmd
}

func addMigrateFlags(cmd *cobra.Command) {
	cmd.Flags().String("schema", db.DefaultSchema, "Target schema for migrations")
	cmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
}

func withMigrator(cmd *cobra.Command, fn func(ctx context.Context, m *db.Migrator) error) error {
	schema, _ := cmd.Flags().GetString("schema")
	dir, _ := cmd.Flags().GetString("dir")

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if dir == "" {
		dir = cfg.MigrationsDir
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	return fn(ctx, db.NewMigrator(pool, dir).WithSchema(schema))
}

func printMigrationStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

// withService opens the database and hands fn a patient service over it.
func withService(cmd *cobra.Command, fn func(ctx context.Context, cfg *config.Config, svc *patient.Service) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	svc := patient.NewService(patient.NewRepoPG(pool), cfg.PhoneRegion).WithLogger(logger)
	return fn(ctx, cfg, svc)
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import patients from an .xlsx workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("file")
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			if path == "" {
				return fmt.Errorf("--file is required")
			}

			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()

			ps, problems, err := spreadsheet.ReadPatients(f)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			out := cmd.OutOrStdout()
			printProblems(out, problems)
			if dryRun {
				fmt.Fprintf(out, "Read %d patient(s); nothing saved.\n", len(ps))
				return nil
			}

			return withService(cmd, func(ctx context.Context, cfg *config.Config, svc *patient.Service) error {
				res, err := svc.Import(ctx, ps, cfg.ImportBatchSize)
				if res != nil {
					printImportResult(out, res)
				}
				return err
			})
		},
	}
	cmd.Flags().String("file", "", "Path to the .xlsx workbook")
	cmd.Flags().Bool("dry-run", false, "Parse the workbook and report problems without saving")
	return cmd
}

func printProblems(w io.Writer, problems []spreadsheet.Problem) {
	for _, p := range problems {
		fmt.Fprintf(w, "skipped %s row %d: %s\n", p.Sheet, p.Row, p.Message)
	}
}

func printImportResult(w io.Writer, res *patient.ImportResult) {
	for _, e := range res.Errors {
		fmt.Fprintf(w, "rejected patient %d (HN %s): %s\n", e.Row, e.HN, e.Error)
	}
	fmt.Fprintf(w, "Created %d, updated %d, failed %d.\n", res.Created, res.Updated, res.Failed)
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export every patient to an .xlsx workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("file")
			if path == "" {
				return fmt.Errorf("--file is required")
			}
			return withService(cmd, func(ctx context.Context, _ *config.Config, svc *patient.Service) error {
				ps, err := svc.AllPatients(ctx)
				if err != nil {
					return err
				}
				f, err := os.Create(path)
				if err != nil {
					return err
				}
				if err := spreadsheet.WritePatients(f, ps, caldate.Today()); err != nil {
					f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Exported %d patient(s) to %s\n", len(ps), path)
				return nil
			})
		},
	}
	cmd.Flags().String("file", "", "Destination .xlsx path")
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed API token",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, _ := cmd.Flags().GetString("user")
			roles, _ := cmd.Flags().GetStringSlice("role")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			cfg, err := config.Read()
			if err != nil {
				return err
			}
			return issueToken(cmd.OutOrStdout(), cfg, user, roles, ttl, time.Now())
		},
	}
	cmd.Flags().String("user", "", "Subject of the token")
	cmd.Flags().StringSlice("role", []string{auth.RoleClinician}, "Role to grant (repeatable)")
	cmd.Flags().Duration("ttl", 12*time.Hour, "Token lifetime")
	return cmd
}

func issueToken(w io.Writer, cfg *config.Config, user string, roles []string, ttl time.Duration, now time.Time) error {
	for i := range roles {
		roles[i] = strings.ToLower(strings.TrimSpace(roles[i]))
	}
	token, err := auth.IssueToken(jwtConfig(cfg), user, roles, ttl, now)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, token)
	return nil
}

func jwtConfig(cfg *config.Config) auth.JWTConfig {
	return auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		SigningKey: []byte(cfg.AuthSigningKey),
		Skipper:    auth.AuthSkipper,
	}
}
