package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/voltlab/banksia/internal/check"
	"github.com/voltlab/banksia/internal/definition"
	"github.com/voltlab/banksia/internal/engine"
	"github.com/voltlab/banksia/internal/proxy"
	"github.com/voltlab/banksia/internal/status"
	"github.com/voltlab/banksia/internal/store"
	"github.com/voltlab/banksia/internal/variables"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Database string
	Listen   string
	Upstream string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve <procedures-dir>",
		Short: "Start the test harness",
		Long: `Start the conformance test harness.

The harness loads every test procedure definition from the given
directory, opens its SQLite state store, and serves the runner control
API plus the catch-all proxy towards the utility server.

Example:
  banksia serve --db ./banksia.db --upstream http://localhost:8000 ./procedures
  banksia serve --db /tmp/run.db --upstream http://envoy:8000 --listen :8080 ./procedures --verbose`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.Listen, "listen", ":8080", "address to serve on")
	cmd.Flags().StringVar(&opts.Upstream, "upstream", "", "base URL of the utility server (required)")
	_ = cmd.MarkFlagRequired("db")
	_ = cmd.MarkFlagRequired("upstream")

	return cmd
}

func runServe(opts *ServeOptions, proceduresDir string, cmd *cobra.Command) error {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))

	upstreamURL, err := url.Parse(opts.Upstream)
	if err != nil || upstreamURL.Scheme == "" || upstreamURL.Host == "" {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid upstream URL %q", opts.Upstream))
	}

	slog.Info("loading test procedures", "dir", proceduresDir)
	procedures, err := definition.LoadDir(proceduresDir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load test procedures", err)
	}
	slog.Info("test procedures loaded", "count", len(procedures))

	slog.Info("opening database", "path", opts.Database)
	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	slog.Info("database ready")

	resolver := variables.NewResolver(st, nil)
	checks := check.NewEngine(st, resolver)

	// The precondition checks gate every listener fire.
	runner := engine.New(engine.Config{
		Store:    st,
		Resolver: resolver,
		ChecksPassing: func(ctx context.Context, proc *engine.ActiveTestProcedure) (bool, error) {
			if proc.Definition.Preconditions == nil {
				return true, nil
			}
			return checks.AllPassing(ctx, proc.Definition.Preconditions.Checks, proc), nil
		},
	})
	reporter := status.NewReporter(st, runner, checks, nil)

	server := proxy.NewServer(proxy.Config{
		Runner:     runner,
		Reporter:   reporter,
		Procedures: procedures,
		Upstream:   upstreamURL,
	})

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	// Background wait-listener scan.
	go func() {
		if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("periodic scan stopped", "error", err)
		}
	}()

	httpServer := &http.Server{
		Addr:              opts.Listen,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown", "error", err)
		}
	}()

	slog.Info("harness starting", "listen", opts.Listen, "upstream", upstreamURL.String())
	fmt.Fprintln(cmd.OutOrStdout(), "Harness started. Proxying client traffic...")
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return WrapExitError(ExitCommandError, "server error", err)
	}

	slog.Info("harness stopped gracefully")
	return nil
}
