package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"stockledger/backend/internal/logger"
	"stockledger/backend/internal/service"
	pgstore "stockledger/backend/internal/store/postgres"
)

var errLedgerOutOfBalance = errors.New("stock ledger out of balance")

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the PostgreSQL schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := bootstrap()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()
		if cfg.DatabaseURL == "" {
			return errors.New("DATABASE_URL must be set to run migrations")
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		pg, err := pgstore.New(ctx, cfg.DatabaseURL, pgstore.PoolConfig{MaxOpenConns: 1, MaxIdleConns: 1}, logger.Named(log, "postgres"))
		if err != nil {
			return err
		}
		defer pg.Close()

		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
		return nil
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile <variant-id>",
	Short: "Replay a variant's stock history and compare it with the stored quantity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		variantID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid variant id %q: %w", args[0], err)
		}

		cfg, log, err := bootstrap()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		repo, closers, err := openRepository(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer runClosers(log, closers)

		svc := service.New(repo, service.WithLogger(logger.Named(log, "service")))
		report, err := svc.Reconcile(ctx, variantID)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
		if !report.Consistent {
			log.Warn("reconcile found drift", zap.String("variant_id", variantID.String()))
			return errLedgerOutOfBalance
		}
		return nil
	},
}
