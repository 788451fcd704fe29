package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/psantana5/rescue/internal/config"
	"github.com/psantana5/rescue/internal/report"
	"github.com/psantana5/rescue/internal/server"
	"github.com/psantana5/rescue/internal/shutdown"
	"github.com/psantana5/rescue/pkg/logging"
	"github.com/psantana5/rescue/pkg/tracing"
)

var (
	cfgFile     string
	logLevel    string
	metricsAddr string
	tracingOn   bool
)

// runtime state shared by subcommands, set up in PersistentPreRunE
var (
	loader   *config.Loader
	cfg      *config.Config
	logger   *logging.Logger
	stopper  *shutdown.Manager
	baseCtx  context.Context
	stopSigs context.CancelFunc
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "rescue",
	Short: "Interactive failure interception and retry wrappers",
	Long: `rescue demonstrates wrapping Go functions so that a failure either opens an
interactive session (inspect the call stack, fix the arguments, resume or
skip the call) or is retried up to a limit before surfacing.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	err := rootCmd.Execute()
	if terr := teardown(); terr != nil && err == nil {
		err = terr
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.rescue/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090 (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&tracingOn, "tracing", false, "export spans over OTLP HTTP (overrides config)")
}

// setup loads configuration and starts the ambient services.
func setup(cmd *cobra.Command, args []string) error {
	var err error
	loader, err = config.NewLoader(cfgFile, nil)
	if err != nil {
		return err
	}
	cfg = loader.Config()

	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if metricsAddr != "" {
		cfg.Metrics.Addr = metricsAddr
	}
	if tracingOn {
		cfg.Tracing.Enabled = true
	}

	logger, err = cfg.Log.Logger("rescue")
	if err != nil {
		return err
	}
	if cfg.Log.File == "" {
		logger.SetOutput(cmd.ErrOrStderr())
	}

	stopper = shutdown.New(10*time.Second, logger)
	stopper.Register("logger", func(context.Context) error { return logger.Close() })
	baseCtx, stopSigs = stopper.NotifyContext(context.Background())

	provider, err := tracing.InitTracer(tracing.Config{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: "dev",
		Environment:    cfg.Tracing.Environment,
		OTLPEndpoint:   cfg.Tracing.Endpoint,
		Enabled:        cfg.Tracing.Enabled,
	}, logger)
	if err != nil {
		return err
	}
	stopper.Register("tracer", provider.Shutdown)

	if cfg.Metrics.Addr != "" {
		srv := server.New(cfg.Metrics.Addr, report.Global(), logger)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server failed", map[string]interface{}{"error": err.Error()})
			}
		}()
		logger.Info(fmt.Sprintf("Serving metrics on %s/metrics", cfg.Metrics.Addr))
		stopper.Register("metrics server", shutdown.StopHTTPServer(srv))
	}
	return nil
}

// teardown stops what setup started, in reverse order.
func teardown() error {
	if stopSigs != nil {
		stopSigs()
		stopSigs = nil
	}
	if stopper == nil {
		return nil
	}
	err := stopper.Shutdown()
	stopper, baseCtx = nil, nil
	return err
}

// commandContext is the signal-aware context for blocking work.
func commandContext(cmd *cobra.Command) context.Context {
	if baseCtx != nil {
		return baseCtx
	}
	return cmd.Context()
}
