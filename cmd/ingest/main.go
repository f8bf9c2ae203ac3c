package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"ingest/internal/config"
	"ingest/internal/ingest"
	"ingest/internal/source"
	"ingest/internal/storage"

	// register all backends with the storage factory.
	_ "ingest/internal/storage/all"
)

// Exit codes.
const (
	exitOK = 0
	// exitFatal: input missing or empty, store unavailable, interrupted run.
	exitFatal = 1
	// exitUsage: bad flags or configuration.
	exitUsage = 2
	// exitRecordFailures: --fail-on-errors and at least one Failed record.
	exitRecordFailures = 3
)

// appDeps are the side-effecting seams runMain depends on.
type appDeps struct {
	openStore   func(ctx context.Context, cfg config.StoreConfig, onRetry func(attempt int, err error)) (storage.Store, error)
	initMetrics func(ctx context.Context, cfg config.MetricsConfig, log zerolog.Logger) (func(), error)
	newRunID    func() string
	objects     source.ObjectOpener
}

func defaultDeps() appDeps {
	return appDeps{
		openStore:   openStore,
		initMetrics: initMetrics,
		newRunID:    func() string { return uuid.NewString() },
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args, os.Stdout, os.Stderr, defaultDeps())
	stop()
	os.Exit(code)
}

// runMain runs the command line in args and returns the process exit code.
func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	app := newApp(stdout, stderr, deps)
	err := app.RunContext(ctx, args)
	if err == nil {
		return exitOK
	}

	var ec cli.ExitCoder
	if errors.As(err, &ec) {
		if msg := ec.Error(); msg != "" {
			fmt.Fprintln(stderr, msg)
		}
		return ec.ExitCode()
	}
	fmt.Fprintf(stderr, "usage: %v\n", err)
	return exitUsage
}

// openStore opens the configured backend with connect retries. Any failure
// is reported as ErrStoreUnavailable.
func openStore(ctx context.Context, cfg config.StoreConfig, onRetry func(int, error)) (storage.Store, error) {
	s, err := storage.OpenWithRetry(ctx,
		storage.Config{Kind: cfg.Kind, DSN: cfg.ResolvedDSN()},
		cfg.ConnectAttempts, cfg.ConnectDelay, onRetry)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ingest.ErrStoreUnavailable, cfg.Kind, err)
	}
	return s, nil
}
