package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"transtrack/internal/audit/registry"
	"transtrack/internal/audit/retention"
	"transtrack/internal/audit/rollback"
	"transtrack/internal/audit/service"
	auditpg "transtrack/internal/audit/store/postgres"
	"transtrack/internal/platform/config"
	"transtrack/internal/records"
	txcontext "transtrack/pkg/platform/tx"
)

// oneShot handles the operator subcommands: "cleanup" runs one retention
// pass, "rollback" reverses a single audit entry, "health" prints the
// ledger health report. Returns false when args name no subcommand and the
// daemon should start instead.
func oneShot(ctx context.Context, logger *slog.Logger, args []string) (bool, error) {
	if len(args) == 0 {
		return false, nil
	}

	cfg := config.FromEnv()
	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return true, fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	auditStore := auditpg.New(db)
	switch args[0] {
	case "cleanup":
		fs := flag.NewFlagSet("cleanup", flag.ExitOnError)
		days := fs.Int("days", cfg.RetentionDays, "retention window in days")
		dryRun := fs.Bool("dry-run", false, "count only, delete nothing")
		if err := fs.Parse(args[1:]); err != nil {
			return true, err
		}

		cleaner := retention.NewCleaner(auditStore, retention.WithLogger(logger))
		result, err := cleaner.Cleanup(ctx, *days, *dryRun)
		if err != nil {
			return true, err
		}
		return true, printJSON(result)

	case "rollback":
		fs := flag.NewFlagSet("rollback", flag.ExitOnError)
		auditID := fs.Int64("id", 0, "audit entry to reverse")
		reason := fs.String("reason", "", "why this rollback is happening")
		if err := fs.Parse(args[1:]); err != nil {
			return true, err
		}
		if *auditID == 0 {
			return true, fmt.Errorf("rollback: -id is required")
		}

		tables := registry.New()
		users := records.RegisterPostgres(tables, db)
		auditService, err := service.New(auditStore,
			service.WithUserResolver(users), service.WithLogger(logger))
		if err != nil {
			return true, err
		}
		engine, err := rollback.New(auditService, tables, txcontext.NewSQLRunner(db),
			rollback.WithLogger(logger))
		if err != nil {
			return true, err
		}

		result, err := engine.Rollback(ctx, *auditID, *reason)
		if err != nil {
			return true, err
		}
		return true, printJSON(result)

	case "health":
		auditService, err := service.New(auditStore, service.WithLogger(logger))
		if err != nil {
			return true, err
		}
		report, err := auditService.Health(ctx)
		if err != nil {
			return true, err
		}
		return true, printJSON(report)
	}

	return true, fmt.Errorf("unknown subcommand %q (want cleanup, rollback, or health)", args[0])
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
