package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/example/resource-scheduler/internal/bootstrap"
	"github.com/example/resource-scheduler/internal/jobs"
)

type options struct {
	configFile string
	envFile    string
	once       bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func parseFlags(args []string, output io.Writer) (options, error) {
	var opts options
	flags := pflag.NewFlagSet("sweeper", pflag.ContinueOnError)
	flags.SetOutput(output)
	flags.StringVarP(&opts.configFile, "config", "c", "", "path to a YAML configuration file")
	flags.StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before configuration")
	flags.BoolVar(&opts.once, "once", false, "run a single sweep and exit")
	if err := flags.Parse(args); err != nil {
		return options{}, err
	}
	return opts, nil
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	opts, err := parseFlags(args, stdout)
	if err != nil {
		return err
	}

	cfg, err := bootstrap.LoadConfig(opts.envFile, opts.configFile)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger := bootstrap.NewLogger(stdout, cfg)
	store, err := bootstrap.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open storage", "error", err)
		return err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			logger.Error("failed to close storage", "error", cerr)
		}
	}()

	services := bootstrap.NewServices(cfg, store, logger)
	sweeper := jobs.NewSweeper(services.Waitlist, services.Approvals, logger)

	if opts.once {
		return sweepOnce(ctx, sweeper, logger)
	}

	runner, err := jobs.Start(ctx, sweeper, cfg.SweepInterval, logger)
	if err != nil {
		logger.Error("failed to start sweeper", "error", err)
		return err
	}
	logger.Info("sweeper running", "interval", cfg.SweepInterval.String())

	<-ctx.Done()
	if err := runner.Shutdown(); err != nil {
		logger.Error("failed to stop sweeper", "error", err)
		return err
	}
	logger.Info("sweeper stopped")
	return nil
}

func sweepOnce(ctx context.Context, sweeper *jobs.Sweeper, logger *slog.Logger) error {
	result, err := sweeper.RunOnce(ctx)
	logger.Info("sweep finished",
		"expired_offers", result.ExpiredOffers,
		"expired_approvals", result.ExpiredApprovals)
	return err
}
