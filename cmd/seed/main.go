// Command main fills the configured store with demo posts, comments and likes.
package main

import (
	"context"
	"fmt"
	"os"

	"penpoint/internal/bootstrap"
	"penpoint/internal/config"
	"penpoint/internal/observability"
	"penpoint/internal/repository"
	"penpoint/internal/seed"

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
		preset   string
		planPath string
		users    int
		seedVal  int64
		password string
	)
	flagSet := pflag.NewFlagSet("seed", pflag.ContinueOnError)
	flagSet.StringVarP(&preset, "preset", "p", "default", "named plan: small, default or large")
	flagSet.StringVarP(&planPath, "plan", "f", "", "YAML plan file (overrides --preset)")
	flagSet.IntVar(&users, "users", 0, "override the number of users")
	flagSet.Int64Var(&seedVal, "seed", 0, "random seed for reproducible content (0 = random)")
	flagSet.StringVar(&password, "password", seed.DefaultPassword, "password of every seeded account")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	var (
		plan seed.Plan
		err  error
	)
	if planPath != "" {
		plan, err = seed.LoadPlan(planPath)
	} else {
		plan, err = seed.Preset(preset)
	}
	if err != nil {
		return err
	}
	if users > 0 {
		plan.Users = users
	}
	if flagSet.Changed("seed") {
		plan.Seed = seedVal
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	observability.InitLogger(cfg.Env, cfg.LogLevel)

	ctx := context.Background()
	// Seeding writes through to the store; no read cache needed.
	rt, err := bootstrap.InitRuntime(ctx, cfg, bootstrap.Options{DisableCache: true})
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close(ctx) }()

	var userRepo repository.UserRepository
	if rt.DB != nil {
		userRepo = repository.NewUserRepository(rt.DB)
	}

	sum, err := seed.NewSeeder(rt.Store, userRepo, seed.Options{Password: password}).Run(ctx, plan)
	if err != nil {
		return err
	}

	fmt.Printf("Seeded %d users, %d posts (%d published), %d comments, %d replies, %d likes\n",
		sum.Users, sum.Posts, sum.Published, sum.Comments, sum.Replies, sum.Likes)
	if userRepo != nil {
		fmt.Printf("All seeded users have the password: %s\n", password)
	}
	return nil
}
