package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/academy-insight-crawler/internal/config"
	"github.com/JakeFAU/academy-insight-crawler/internal/crawler"
	"github.com/JakeFAU/academy-insight-crawler/internal/logging"
	"github.com/JakeFAU/academy-insight-crawler/internal/orchestrator"
	"github.com/JakeFAU/academy-insight-crawler/internal/server"
	"github.com/JakeFAU/academy-insight-crawler/internal/strategy"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// Sweeps is the crawl surface the one-shot commands drive.
type Sweeps interface {
	CrawlAll(ctx context.Context) (crawler.SweepResult, error)
	Backfill(ctx context.Context, opts orchestrator.BackfillOptions) (crawler.SweepResult, error)
	DetectGalleries(ctx context.Context) ([]strategy.Detection, error)
}

// App defines the application interface that commands use, so tests can
// inject a fake.
type App interface {
	Run(ctx context.Context) error
	Sweeps() Sweeps
	Store() crawler.Store
	Logger() *zap.Logger
	Location() *time.Location
	Close(ctx context.Context)
}

type serverApp struct {
	*server.App
}

func (a serverApp) Sweeps() Sweeps {
	return a.Manager()
}

// newApp is the application factory. It is a variable so tests can replace it.
var newApp = func(ctx context.Context, path string) (App, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Telemetry.ServiceName)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	app, err := server.Build(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return serverApp{app}, nil
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "academy-crawler",
		Short: "Collects academy mentions from community boards.",
		Long: `academy-crawler searches Naver cafes and DCInside galleries for
mentions of tracked academies and stores deduplicated posts for the analytics
service.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close(context.WithoutCancel(cmd.Context()))
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSweepCmd())
	cmd.AddCommand(newBackfillCmd())
	cmd.AddCommand(newDetectCmd())
	cmd.AddCommand(newSeedCmd())
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		zap.L().Error("command execution failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
