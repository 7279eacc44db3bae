// ABOUTME: The serve command runs the HTTP API and, in cluster or mock mode, periodic scoring.
// ABOUTME: Wires the engine, history, metrics, providers and server together.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jfeddern/VulnRisk/internal/engine"
	"github.com/jfeddern/VulnRisk/internal/history"
	"github.com/jfeddern/VulnRisk/internal/metrics"
	"github.com/jfeddern/VulnRisk/internal/model"
	"github.com/jfeddern/VulnRisk/internal/providers"
	"github.com/jfeddern/VulnRisk/internal/server"
	"github.com/jfeddern/VulnRisk/internal/telemetry"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newServeCmd(config *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the scoring API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.validate(); err != nil {
				return err
			}
			logger, err := newLogger(config, os.Stderr)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if config.Tracing {
				shutdown, err := telemetry.InitTracer(version, os.Stderr)
				if err != nil {
					return fmt.Errorf("failed to initialize tracing: %w", err)
				}
				defer shutdown(context.Background())
			}

			service, err := NewService(ctx, config, logger)
			if err != nil {
				return err
			}
			return service.Start(ctx)
		},
	}
	bindServeFlags(cmd, config)
	return cmd
}

// Service is the long-running scoring API
type Service struct {
	config  *Config
	logger  *logrus.Logger
	engine  *engine.Engine
	server  *server.Server
	history history.Store

	// Periodic scoring sources, nil in upload-only mode
	systems engine.SystemSource
	catalog engine.CatalogSource
}

// NewService builds the engine, observers, server and provider sources
func NewService(ctx context.Context, config *Config, logger *logrus.Logger) (*Service, error) {
	logger.WithFields(logrus.Fields{
		"mode":            config.Mode,
		"port":            config.Port,
		"mock":            config.MockMode,
		"ecr_region":      config.ECRRegion,
		"scrape_interval": config.ScrapeInterval,
	}).Info("Initializing VulnRisk")

	for _, dir := range []string{config.UploadDir, config.PredictionsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	loader, err := model.NewLoader(config.ModelDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create model loader: %w", err)
	}

	store := history.NewRingStore(config.HistorySize)
	pipeline := metrics.NewPipelineMetrics()

	engineConfig := engine.DefaultConfig()
	engineConfig.DefaultModel = config.DefaultModel
	engineConfig.OutputDir = config.PredictionsDir
	engineConfig.ScrapeInterval = config.ScrapeInterval
	scoring := engine.NewEngine(loader, engineConfig, logger, history.NewRecorder(store), pipeline)

	api := server.NewServer(&server.Config{
		Port:           config.Port,
		UploadDir:      config.UploadDir,
		PredictionsDir: config.PredictionsDir,
		CatalogFile:    config.CatalogFile,
		DefaultModel:   config.DefaultModel,
		ModelDeployed:  config.ModelDeployed,
	}, scoring, store, history.NewActivityTracker(history.DefaultActiveWindow),
		metrics.NewMetricsHandler(scoring, store, pipeline, logger), logger)

	service := &Service{
		config:  config,
		logger:  logger,
		engine:  scoring,
		server:  api,
		history: store,
	}

	if config.periodic() {
		providerConfig := config.providerConfig()
		systems, err := providers.CreateSystemSource(providerConfig, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create system source: %w", err)
		}
		catalog, err := providers.CreateCatalogSource(ctx, providerConfig, systems, scoring.Matcher(), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create catalog source: %w", err)
		}
		service.systems = systems
		service.catalog = catalog
	}

	return service, nil
}

// Start runs periodic scoring when configured and serves until ctx is done
func (s *Service) Start(ctx context.Context) error {
	if s.systems != nil {
		defer providers.Close(s.systems, s.catalog)
		go s.engine.Start(ctx, engine.Request{
			Systems: s.systems,
			Catalog: s.catalog,
		})
	}
	return s.server.Start(ctx)
}
