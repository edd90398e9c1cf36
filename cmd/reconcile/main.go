// Command main runs one engagement reconciliation pass and prints the report.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"penpoint/internal/bootstrap"
	"penpoint/internal/config"
	"penpoint/internal/engagement"
	"penpoint/internal/observability"

	"github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		batchSize int
		asJSON    bool
	)
	flagSet := pflag.NewFlagSet("reconcile", pflag.ContinueOnError)
	flagSet.IntVar(&batchSize, "batch-size", 0, "posts per batch (default RECONCILE_BATCH_SIZE)")
	flagSet.BoolVar(&asJSON, "json", false, "print the report as JSON")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	observability.InitLogger(cfg.Env, cfg.LogLevel)
	if batchSize <= 0 {
		batchSize = cfg.ReconcileBatchSize
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The cached store evicts posts whose counters get rewritten.
	rt, err := bootstrap.InitRuntime(ctx, cfg, bootstrap.Options{})
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close(context.Background()) }()

	rep, err := engagement.NewReconciler(rt.Store, batchSize).RunOnce(ctx)
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}
	fmt.Printf("Checked %d posts and %d comments in %s\n", rep.Posts, rep.Comments, rep.Duration)
	fmt.Printf("Repaired %d posts and %d comments, %d failures\n", rep.PostsRepaired, rep.CommentsRepaired, rep.Failures)
	if rep.Failures > 0 {
		return fmt.Errorf("%d items could not be reconciled", rep.Failures)
	}
	return nil
}
