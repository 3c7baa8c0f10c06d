// Command clipsctl is the operator CLI for better-clips.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/svglol/better-clips/internal/platform/logging"
	"github.com/svglol/better-clips/internal/platform/version"
)

type globalFlags struct {
	backend     string
	redisURL    string
	databaseURL string
	logLevel    string
}

func createRootCmd() *cobra.Command {
	flags := &globalFlags{}
	clock := clockwork.NewRealClock()

	cmd := &cobra.Command{
		Use:           "clipsctl",
		Short:         "Operate a better-clips deployment",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			logging.InitLogger(flags.logLevel, "text")
		},
	}

	cmd.PersistentFlags().StringVar(&flags.backend, "backend", envOr("STORE_BACKEND", "redis"), "store backend (redis, postgres)")
	cmd.PersistentFlags().StringVar(&flags.redisURL, "redis", os.Getenv("REDIS_URL"), "Redis URL (or set REDIS_URL)")
	cmd.PersistentFlags().StringVar(&flags.databaseURL, "database", os.Getenv("DATABASE_URL"), "Postgres URL (or set DATABASE_URL)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "warn", "log level")

	cmd.AddCommand(
		trendingCmd(clock),
		sessionsCmd(flags, clock),
		migrateCmd(flags),
	)

	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := createRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		root.PrintErrln("Error:", err)
		os.Exit(1)
	}
}
