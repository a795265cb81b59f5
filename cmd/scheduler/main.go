package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/example/resource-scheduler/internal/bootstrap"
	"github.com/example/resource-scheduler/internal/config"
	httptransport "github.com/example/resource-scheduler/internal/http"
	"github.com/example/resource-scheduler/internal/jobs"
)

const shutdownTimeout = 10 * time.Second

type options struct {
	configFile string
	envFile    string
	port       int
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
	flags := pflag.NewFlagSet("scheduler", pflag.ContinueOnError)
	flags.SetOutput(output)
	flags.StringVarP(&opts.configFile, "config", "c", "", "path to a YAML configuration file")
	flags.StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before configuration")
	flags.IntVarP(&opts.port, "port", "p", 0, "override the configured HTTP port")
	if err := flags.Parse(args); err != nil {
		return options{}, err
	}
	if opts.port < 0 || opts.port > 65535 {
		return options{}, fmt.Errorf("invalid port %d", opts.port)
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
	if opts.port != 0 {
		cfg.HTTPPort = opts.port
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
	runner, err := startEmbeddedSweeper(ctx, cfg, services, logger)
	if err != nil {
		logger.Error("failed to start sweeper", "error", err)
		return err
	}
	if runner != nil {
		defer func() {
			if serr := runner.Shutdown(); serr != nil {
				logger.Error("failed to stop sweeper", "error", serr)
			}
		}()
	}
	server := newServer(cfg, services, logger)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to shutdown server", "error", err)
		}
	}()

	logger.Info("scheduler API listening", "addr", server.Addr, "storage", cfg.Storage, "timezone", cfg.Timezone)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server encountered error", "error", err)
		return err
	}
	logger.Info("scheduler API stopped")
	return nil
}

// startEmbeddedSweeper runs the expiry sweeps inside the API process for memory storage,
// which no separate sweeper process can reach. It returns nil for shared storage.
func startEmbeddedSweeper(ctx context.Context, cfg config.Config, services *bootstrap.Services, logger *slog.Logger) (*jobs.Runner, error) {
	if cfg.Storage != config.StorageMemory {
		return nil, nil
	}
	return jobs.Start(ctx, jobs.NewSweeper(services.Waitlist, services.Approvals, logger), cfg.SweepInterval, logger)
}

func newHandler(services *bootstrap.Services, logger *slog.Logger) http.Handler {
	return httptransport.NewRouter(httptransport.RouterConfig{
		Reservations: httptransport.NewReservationHandler(services.Reservations, services.Approvals, logger),
		Bulk:         httptransport.NewBulkHandler(services.Bulk, logger),
		Waitlist:     httptransport.NewWaitlistHandler(services.Waitlist, logger),
		Approvals:    httptransport.NewApprovalHandler(services.Approvals, logger),
		Middleware: []func(http.Handler) http.Handler{
			httptransport.RequestLogger(logger),
			httptransport.RequireIdentity(httptransport.HeaderIdentityResolver{}, logger),
		},
		Readiness: services.Store.Ping,
	})
}

func newServer(cfg config.Config, services *bootstrap.Services, logger *slog.Logger) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           newHandler(services, logger),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
