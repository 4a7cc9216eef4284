package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/JakeFAU/webshot/internal/app"
	"github.com/JakeFAU/webshot/internal/capture"
	"github.com/JakeFAU/webshot/internal/config"
	"github.com/JakeFAU/webshot/internal/input"
	"github.com/JakeFAU/webshot/internal/logging"
)

const (
	exitOK       = 0
	exitFatal    = 1
	exitUsage    = 2
	exitFailures = 3

	shutdownTimeout = 15 * time.Second
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("webshot", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	cfgPath := fs.String("config", "", "path to a YAML config file")
	failOnError := fs.Bool("fail-on-error", false, "exit 3 when any target does not succeed")
	config.RegisterFlags(fs)
	fs.Usage = func() {
		_, _ = fmt.Fprintf(stderr, "usage: webshot [flags] <url|file|->...\n\n%s", fs.FlagUsages())
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if fs.NArg() == 0 {
		printError(stderr, errors.New("at least one URL, file, or - is required"))
		fs.Usage()
		return exitUsage
	}

	cfg, err := config.Load(*cfgPath, fs)
	if err != nil {
		printError(stderr, fmt.Errorf("load config: %w", err))
		return exitUsage
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		printError(stderr, fmt.Errorf("logger init: %w", err))
		return exitUsage
	}
	defer func() {
		_ = logger.Sync() //nolint:errcheck // best-effort flush
	}()

	lines, err := input.Load(fs.Args(), stdin)
	if err != nil {
		printError(stderr, fmt.Errorf("read targets: %w", err))
		return exitUsage
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, runErr := runPipeline(ctx, cfg, logger, lines)
	printSummary(stdout, res, runErr)
	return exitCode(res, runErr, *failOnError)
}

// runPipeline owns the App for exactly one run so Close happens before the
// process decides its exit code.
func runPipeline(ctx context.Context, cfg config.Config, logger *zap.Logger, lines []capture.Line) (app.Result, error) {
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return app.Result{}, err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if cerr := a.Close(closeCtx); cerr != nil {
			logger.Warn("shutdown error", zap.Error(cerr))
		}
	}()
	return a.RunLines(ctx, lines)
}

func exitCode(res app.Result, runErr error, failOnError bool) int {
	switch {
	case runErr != nil:
		return exitFatal
	case failOnError && !res.AllSucceeded():
		return exitFailures
	default:
		return exitOK
	}
}
