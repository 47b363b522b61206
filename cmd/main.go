package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/honeycombio/otel-config-go/otelconfig"
	"github.com/urfave/cli/v2"

	acceptor "github.com/dbforge/compute-acceptor"
	"github.com/dbforge/compute-acceptor/exitcodes"
	"github.com/dbforge/compute-acceptor/flags"
	"github.com/dbforge/compute-acceptor/service"
)

var (
	Version   = "v0.2.0"
	GitCommit = ""
	GitDate   = ""
)

func main() {
	app := cli.NewApp()
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Name = "compute-acceptor"
	app.Usage = "Compute Image Acceptance Tester"
	app.Description = "compute-acceptor runs the extension regression harness against compute images across a version matrix"
	app.Flags = flags.Flags
	app.Action = run
	app.ExitErrHandler = func(c *cli.Context, err error) {
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			cli.HandleExitCoder(exitErr)
		} else if err != nil {
			if acceptor.IsRuntimeError(err) {
				cli.HandleExitCoder(cli.Exit(err.Error(), exitcodes.RuntimeErr))
			} else {
				// Test failures and anything unclassified exit with code 1
				cli.HandleExitCoder(cli.Exit(err.Error(), exitcodes.TestFailure))
			}
		}
	}

	// Start telemetry
	ctx, shutdown, err := setupTelemetry(app.Name, app.Version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to setup telemetry: %v\n", err)
		os.Exit(exitcodes.RuntimeErr)
	}
	defer shutdown()

	// Sidecar healthz/metrics endpoints
	svc := service.New()
	svc.Start(ctx)
	defer svc.Shutdown()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		// The exit handler above already mapped the code; reaching this
		// point means it declined to exit, so fall back to a test failure.
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitcodes.TestFailure)
	}
}

func setupTelemetry(name, version string) (context.Context, func(), error) {
	ctx := context.Background()
	// Telemetry export is opt-in: without an endpoint configured in the
	// environment the no-op path keeps startup quiet.
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") == "" {
		return ctx, func() {}, nil
	}
	shutdown, err := otelconfig.ConfigureOpenTelemetry(
		otelconfig.WithServiceName(name),
		otelconfig.WithServiceVersion(version),
	)
	if err != nil {
		return ctx, nil, err
	}
	return ctx, shutdown, nil
}

func run(ctx *cli.Context) error {
	log, err := acceptor.NewLogger(os.Stderr,
		ctx.String(flags.LogLevel.Name), ctx.String(flags.LogFormat.Name))
	if err != nil {
		return acceptor.NewRuntimeError(err)
	}

	cfg, err := acceptor.NewConfig(ctx, log)
	if err != nil {
		return acceptor.NewRuntimeError(fmt.Errorf("failed to create config: %w", err))
	}

	log.Debug("config resolved",
		"composeFile", cfg.ComposeFile, "profile", cfg.Profile, "runOnce", cfg.RunOnce)

	runCtx, cancel := context.WithCancelCause(ctx.Context)
	defer cancel(nil)

	svc, err := acceptor.New(runCtx, cfg, Version, func(err error) { cancel(err) })
	if err != nil {
		return acceptor.NewRuntimeError(fmt.Errorf("failed to create acceptor: %w", err))
	}

	if err := svc.Start(runCtx); err != nil {
		return err
	}
	if cfg.RunOnce {
		return nil
	}

	// Continuous mode: block until interrupted, then stop cleanly.
	<-runCtx.Done()
	return svc.Stop(context.Background())
}
