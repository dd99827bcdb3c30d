// Command devserver runs the Loopline development backend.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"loopline/internal/config"
	"loopline/internal/devserver"
	"loopline/internal/observability"

	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

type flags struct {
	port      string
	driver    string
	dsn       string
	seed      devserver.SeedOptions
	noRedis   bool
	noHarness bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var f flags
	root := &cobra.Command{
		Use:          "devserver",
		Short:        "Run the Loopline development backend",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), f)
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&f.driver, "db-driver", "", "database driver: sqlite or postgres (overrides DB_DRIVER)")
	pf.StringVar(&f.dsn, "db-dsn", "", "database DSN (overrides DB_DSN)")

	root.Flags().StringVarP(&f.port, "port", "p", "", "listen port (overrides PORT)")
	root.Flags().IntVar(&f.seed.Users, "seed-users", 0, "seed this many demo users before serving")
	root.Flags().IntVar(&f.seed.PostsPerUser, "seed-posts", 3, "posts per seeded user")
	root.Flags().IntVar(&f.seed.Groups, "seed-groups", 4, "seeded groups")
	root.Flags().BoolVar(&f.noRedis, "no-redis", false, "deliver pushes in-process and skip token revocation")
	root.Flags().BoolVar(&f.noHarness, "no-harness", false, "do not mount /api/e2e/")

	root.AddCommand(newSeedCmd(&f), newMigrateCmd(&f))
	return root
}

func newSeedCmd(f *flags) *cobra.Command {
	opts := devserver.SeedOptions{}
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Fill the database with demo data and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, db, err := open(f)
			if err != nil {
				return err
			}
			defer closeDB(db)
			res, err := devserver.Seed(cmd.Context(), db, opts)
			if err != nil {
				return fmt.Errorf("seed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d users, %d posts, %d groups, %d follows (password %q)\n",
				res.Users, res.Posts, res.Groups, res.Follows, devserver.SeedPassword)
			return nil
		},
	}
	cmd.Flags().IntVar(&opts.Users, "users", 20, "number of users")
	cmd.Flags().IntVar(&opts.PostsPerUser, "posts", 3, "posts per user")
	cmd.Flags().IntVar(&opts.Groups, "groups", 4, "number of groups")
	cmd.Flags().Int64Var(&opts.Seed, "rand-seed", 0, "random seed; 0 picks one")
	return cmd
}

func newMigrateCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the schema and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, db, err := open(f)
			if err != nil {
				return err
			}
			closeDB(db)
			fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			return nil
		},
	}
}

// open loads configuration, applies flag overrides and connects, which also
// migrates the schema.
func open(f *flags) (*config.Config, *gorm.DB, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	if f.driver != "" {
		cfg.DBDriver = f.driver
	}
	if f.dsn != "" {
		cfg.DBDSN = f.dsn
	}
	if f.port != "" {
		cfg.Port = f.port
	}
	if f.noHarness {
		cfg.HarnessEnabled = false
	}
	observability.Configure(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	db, err := devserver.Connect(cfg.DBDriver, cfg.DBDSN, observability.GlobalLogger.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connect %s: %w", cfg.DBDriver, err)
	}
	return cfg, db, nil
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func serve(parent context.Context, f flags) error {
	cfg, db, err := open(&f)
	if err != nil {
		return err
	}
	defer closeDB(db)
	log := observability.GlobalLogger

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if f.seed.Users > 0 {
		if _, err := devserver.Seed(ctx, db, f.seed); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
	}

	redisURL := cfg.RedisURL
	if f.noRedis {
		redisURL = ""
	}
	rdb, err := devserver.NewRedisClient(ctx, redisURL)
	if err != nil {
		log.Warn("redis unavailable, continuing without it", slog.String("error", err.Error()))
		rdb = nil
	}
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
	}

	srv, err := devserver.NewServer(cfg, db, rdb)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down devserver")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
