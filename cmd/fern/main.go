package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/Ramsey-B/fern/pkg/tracing/exporters"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// app is the state shared by every command once configuration is loaded.
type app struct {
	configPath string
	cfg        *config.Config
	logger     ectologger.Logger
	shutdown   []func(context.Context) error
}

func main() {
	a := &app{}
	root := &cobra.Command{
		Use:           "fern",
		Short:         "Knowledge graph to relational persistence",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd.Context())
		},
	}
	addConfigFlags(root.PersistentFlags(), a)

	root.AddCommand(
		a.migrateCmd(),
		a.planCmd(),
		a.ingestCmd(),
		a.serveCmd(),
		a.dbMigrateCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := root.ExecuteContext(ctx)
	if closeErr := a.close(context.WithoutCancel(ctx)); err == nil {
		err = closeErr
	}
	if err != nil {
		stop()
		fmt.Fprintln(os.Stderr, "fern:", err)
		os.Exit(1)
	}
}

func addConfigFlags(fs *pflag.FlagSet, a *app) {
	fs.StringVarP(&a.configPath, "config", "c", "", "YAML config file; FERN_* environment variables override it")
}

func (a *app) init(ctx context.Context) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	a.logger = logger

	if cfg.TracingEnabled {
		provider, err := exporters.NewTracerProvider(ctx, exporters.OTLPConfig{
			Endpoint: cfg.TracingEndpoint,
			Protocol: cfg.TracingProtocol,
			Insecure: cfg.TracingInsecure,
		})
		if err != nil {
			return err
		}
		tracing.SetTracer(otel.Tracer(cfg.AppName))
		a.onClose(provider.Shutdown)
	}
	return nil
}

func (a *app) onClose(fn func(context.Context) error) {
	a.shutdown = append(a.shutdown, fn)
}

// close runs the registered shutdown hooks, last registered first.
func (a *app) close(ctx context.Context) error {
	var firstErr error
	for i := len(a.shutdown) - 1; i >= 0; i-- {
		if err := a.shutdown[i](ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.shutdown = nil
	return firstErr
}

func newLogger(cfg *config.Config) (ectologger.Logger, error) {
	zapConfig := zap.NewProductionConfig()
	if cfg.PrettyLogs {
		zapConfig = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)
	zapConfig.InitialFields = map[string]any{"app": cfg.AppName}

	zapLogger, err := zapConfig.Build()
	if err != nil {
		return nil, err
	}
	return zapadapter.NewZapEctoLogger(zapLogger, nil), nil
}
